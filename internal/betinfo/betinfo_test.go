package betinfo

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/orderbook"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func prob(p float64) *float64 { return &p }

func binaryMarket(yes, no, p float64) *model.BinaryMarket {
	return &model.BinaryMarket{Contract: &model.Contract{
		ID:          "bin",
		Mechanism:   model.MechanismCPMM1,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{YES: yes, NO: no},
		P:           p,
	}}
}

// multiMarket builds answers at the given probabilities, each pool holding
// liquidity YES shares.
func multiMarket(sumsToOne bool, liquidity float64, probs ...float64) *model.MultiMarket {
	answers := make([]model.Answer, len(probs))
	for i, p := range probs {
		answers[i] = model.Answer{
			ID:         fmt.Sprintf("a%d", i),
			ContractID: "multi",
			Index:      i,
			PoolYes:    liquidity,
			PoolNo:     liquidity * p / (1 - p),
			Prob:       p,
		}
	}
	return &model.MultiMarket{
		Contract: &model.Contract{
			ID:                    "multi",
			Mechanism:             model.MechanismCPMMMulti1,
			OutcomeType:           model.OutcomeTypeMultipleChoice,
			ShouldAnswersSumToOne: sumsToOne,
		},
		Answers:   answers,
		SumsToOne: sumsToOne,
	}
}

// probSumAfter applies info to m's answers and sums their probabilities.
func probSumAfter(m *model.MultiMarket, answerID string, info *BetInfo) float64 {
	pools := make(map[string]model.Pool, len(m.Answers))
	for _, a := range m.Answers {
		pools[a.ID] = a.Pool()
	}
	pools[answerID] = info.NewPool
	for _, o := range info.OtherBetResults {
		pools[o.AnswerID] = o.State.Pool
	}
	var sum float64
	for _, p := range pools {
		sum += cpmm.Probability(p, cpmm.FixedP)
	}
	return sum
}

func sumFills(fills []model.Fill) (amount, shares float64) {
	for _, f := range fills {
		amount += f.Amount
		shares += f.Shares
	}
	return amount, shares
}

// --- Binary buy tests ---

func TestCompute_BinaryBuyYes(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	info, err := Compute(Request{Market: m, Outcome: model.OutcomeYes, Amount: 10, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := info.NewBet
	if b.ProbBefore != 0.5 || b.ProbAfter <= 0.5 {
		t.Errorf("expected prob to rise from 0.5, got %v -> %v", b.ProbBefore, b.ProbAfter)
	}
	if b.Shares <= 10 {
		t.Errorf("expected more than 10 shares, got %v", b.Shares)
	}
	if !b.IsFilled || b.OrderAmount != 10 || !near(b.Amount, 10, 1e-9) {
		t.Errorf("expected a filled 10 mana bet, got filled=%v order=%v amount=%v", b.IsFilled, b.OrderAmount, b.Amount)
	}
	if b.LoanAmount != 0 || b.ContractID != "bin" || b.AnswerID != "" {
		t.Errorf("unexpected bet identity fields: %+v", b)
	}
	if !near(cpmm.Liquidity(info.NewPool, info.NewP), cpmm.Liquidity(m.Contract.Pool, 0.5), 1e-9) {
		t.Error("expected product invariant preserved")
	}
	if len(info.OtherBetResults) != 0 {
		t.Errorf("binary buy should have no sibling bets, got %d", len(info.OtherBetResults))
	}
}

func TestCompute_LimitOrderRests(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	expires := now.Add(time.Hour)
	info, err := Compute(Request{
		Market:    m,
		Outcome:   model.OutcomeYes,
		Amount:    100,
		LimitProb: prob(0.55),
		ExpiresAt: &expires,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := info.NewBet
	if b.IsFilled {
		t.Error("limit order should rest partially unfilled")
	}
	if b.Amount >= b.OrderAmount || b.Amount <= 0 {
		t.Errorf("expected partial fill, got %v of %v", b.Amount, b.OrderAmount)
	}
	if !near(b.ProbAfter, 0.55, 1e-6) {
		t.Errorf("expected prob to stop at the limit, got %v", b.ProbAfter)
	}
	if b.ExpiresAt == nil || !b.ExpiresAt.Equal(expires) {
		t.Errorf("expected expiresAt carried onto the bet, got %v", b.ExpiresAt)
	}
}

func TestCompute_MatchesRestingOrder(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	maker := &model.Bet{
		ID: "resting", UserID: "maker", ContractID: "bin", Outcome: model.OutcomeNo,
		LimitProb: prob(0.52), OrderAmount: 5, CreatedTime: now.Add(-time.Hour),
	}
	info, err := Compute(Request{
		Market:   m,
		Outcome:  model.OutcomeYes,
		Amount:   30,
		Orders:   []*model.Bet{maker},
		Balances: map[string]float64{"maker": 100},
		Now:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Makers) != 1 || info.Makers[0].Bet.ID != "resting" {
		t.Fatalf("expected the resting order matched, got %+v", info.Makers)
	}
	if ids := info.MakerIDs(); len(ids) != 1 || ids[0] != "resting" {
		t.Errorf("expected maker ids [resting], got %v", ids)
	}
	if !near(info.NewBet.Amount, 30, 1e-9) {
		t.Errorf("expected the full amount filled, got %v", info.NewBet.Amount)
	}
}

func TestCompute_ZeroAmountIsNoop(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	info, err := Compute(Request{Market: m, Outcome: model.OutcomeNo, Amount: 0, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.NewBet.Amount != 0 || info.NewBet.Shares != 0 {
		t.Errorf("expected zero-effect bet, got %+v", info.NewBet)
	}
	if info.NewPool != m.Contract.Pool {
		t.Errorf("expected pool unchanged, got %+v", info.NewPool)
	}
}

func TestCompute_TradeTooLarge(t *testing.T) {
	m := binaryMarket(1, 1, 0.5)
	_, err := Compute(Request{Market: m, Outcome: model.OutcomeYes, Amount: 1e6, Now: now})
	if !errors.Is(err, ErrTradeTooLarge) {
		t.Errorf("expected ErrTradeTooLarge, got %v", err)
	}
}

func TestCheck_PBounds(t *testing.T) {
	for _, p := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		info := &BetInfo{NewPool: model.Pool{YES: 100, NO: 100}, NewP: p}
		if err := info.check(); !errors.Is(err, ErrTradeTooLarge) {
			t.Errorf("p %v: expected ErrTradeTooLarge, got %v", p, err)
		}
	}
	info := &BetInfo{NewPool: model.Pool{YES: 100, NO: 100}, NewP: 0.3}
	if err := info.check(); err != nil {
		t.Errorf("p 0.3: expected no error, got %v", err)
	}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := Compute(Request{Market: m, Outcome: model.OutcomeYes, Amount: amount}); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	multi := multiMarket(false, 100, 0.5, 0.5)
	if _, err := Compute(Request{Market: multi, AnswerID: "missing", Outcome: model.OutcomeYes, Amount: 1}); !errors.Is(err, ErrAnswerNotFound) {
		t.Errorf("expected ErrAnswerNotFound, got %v", err)
	}
}

// --- Multi-answer tests ---

func TestCompute_IndependentAnswerTouchesOnlyItsPool(t *testing.T) {
	m := multiMarket(false, 100, 0.3, 0.6, 0.5)
	foreign := &model.Bet{
		ID: "other-answer", UserID: "maker", AnswerID: "a1", Outcome: model.OutcomeNo,
		LimitProb: prob(0.31), OrderAmount: 50,
	}
	info, err := Compute(Request{
		Market: m, AnswerID: "a0", Outcome: model.OutcomeYes, Amount: 20,
		Orders: []*model.Bet{foreign}, Now: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.OtherBetResults) != 0 || len(info.Makers) != 0 {
		t.Errorf("expected no sibling bets or makers, got %d / %d", len(info.OtherBetResults), len(info.Makers))
	}
	if info.NewBet.AnswerID != "a0" || info.NewP != cpmm.FixedP {
		t.Errorf("unexpected answer or p: %q %v", info.NewBet.AnswerID, info.NewP)
	}
	if !near(info.NewBet.ProbBefore, 0.3, 1e-12) || info.NewBet.ProbAfter <= 0.3 {
		t.Errorf("expected prob to rise from 0.3, got %v -> %v", info.NewBet.ProbBefore, info.NewBet.ProbAfter)
	}
}

func TestCompute_SumsToOneBuyYes(t *testing.T) {
	m := multiMarket(true, 100, 0.2, 0.3, 0.5)
	info, err := Compute(Request{Market: m, AnswerID: "a0", Outcome: model.OutcomeYes, Amount: 25, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum := probSumAfter(m, "a0", info); !near(sum, 1, 1e-6) {
		t.Errorf("expected probabilities to sum to 1, got %v", sum)
	}
	if !near(info.NewBet.Amount, 25, 1e-6) || !info.NewBet.IsFilled {
		t.Errorf("expected 25 spent and filled, got %v filled=%v", info.NewBet.Amount, info.NewBet.IsFilled)
	}
	if info.NewBet.ProbAfter <= 0.2 {
		t.Errorf("expected a0 to rise, got %v", info.NewBet.ProbAfter)
	}
	if len(info.OtherBetResults) != 2 {
		t.Fatalf("expected 2 sibling bets, got %d", len(info.OtherBetResults))
	}
	for _, o := range info.OtherBetResults {
		if o.Bet.Outcome != model.OutcomeNo || !o.Bet.IsRedemption {
			t.Errorf("%s: expected a NO redemption bet, got %+v", o.AnswerID, o.Bet)
		}
		amount, shares := sumFills(o.Bet.Fills)
		if !near(amount, 0, 1e-9) || !near(shares, 0, 1e-9) {
			t.Errorf("%s: sibling fills should net to zero, got amount=%v shares=%v", o.AnswerID, amount, shares)
		}
		if o.Bet.ProbAfter >= o.Bet.ProbBefore {
			t.Errorf("%s: expected sibling prob to fall, got %v -> %v", o.AnswerID, o.Bet.ProbBefore, o.Bet.ProbAfter)
		}
	}
}

func TestCompute_SumsToOneBuyNo(t *testing.T) {
	m := multiMarket(true, 100, 0.25, 0.25, 0.25, 0.25)
	info, err := Compute(Request{Market: m, AnswerID: "a2", Outcome: model.OutcomeNo, Amount: 40, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum := probSumAfter(m, "a2", info); !near(sum, 1, 1e-6) {
		t.Errorf("expected probabilities to sum to 1, got %v", sum)
	}
	if info.NewBet.ProbAfter >= 0.25 {
		t.Errorf("expected a2 to fall, got %v", info.NewBet.ProbAfter)
	}
	for _, o := range info.OtherBetResults {
		if o.Bet.Outcome != model.OutcomeYes || o.Bet.ProbAfter <= o.Bet.ProbBefore {
			t.Errorf("%s: expected a YES leg raising prob, got %+v", o.AnswerID, o.Bet)
		}
	}
}

func TestCompute_SumsToOneLegsShareMakerBalance(t *testing.T) {
	m := multiMarket(true, 100, 1.0/3, 1.0/3, 1.0/3)
	var orders []*model.Bet
	for _, id := range []string{"a1", "a2"} {
		orders = append(orders, &model.Bet{
			ID: "resting-" + id, UserID: "maker", ContractID: "multi", AnswerID: id, Outcome: model.OutcomeYes,
			LimitProb: prob(0.25), OrderAmount: 10, CreatedTime: now.Add(-time.Hour),
		})
	}
	info, err := Compute(Request{
		Market:   m,
		AnswerID: "a0",
		Outcome:  model.OutcomeYes,
		Amount:   300,
		Orders:   orders,
		Balances: map[string]float64{"maker": 10},
		Now:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	makers := info.AllMakers()
	if len(makers) == 0 {
		t.Fatal("expected the sibling legs to reach the resting orders")
	}
	var spent float64
	for _, mk := range makers {
		spent += mk.Amount
	}
	if spent > 10+1e-9 {
		t.Errorf("expected maker spend capped at balance 10, got %v", spent)
	}
	if sum := probSumAfter(m, "a0", info); !near(sum, 1, 1e-6) {
		t.Errorf("probabilities sum to %v", sum)
	}
}

func TestCompute_SumsToOneZeroAmount(t *testing.T) {
	m := multiMarket(true, 100, 0.5, 0.5)
	info, err := Compute(Request{Market: m, AnswerID: "a1", Outcome: model.OutcomeYes, Amount: 0, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.OtherBetResults) != 0 {
		t.Errorf("expected no sibling bets, got %d", len(info.OtherBetResults))
	}
	if info.NewPool != m.Answers[1].Pool() {
		t.Errorf("expected pool unchanged, got %+v", info.NewPool)
	}
}

// --- Sale tests ---

func TestComputeSale_BinaryRoundTrip(t *testing.T) {
	m := binaryMarket(100, 100, 0.5)
	buy, err := Compute(Request{Market: m, Outcome: model.OutcomeYes, Amount: 10, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Contract.Pool, m.Contract.P = buy.NewPool, buy.NewP

	sale, err := ComputeSale(SaleRequest{
		Market: m, Outcome: model.OutcomeYes, Shares: buy.NewBet.Shares, LoanPaid: 2, Now: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !near(sale.NewBet.Shares, -buy.NewBet.Shares, 1e-6) {
		t.Errorf("expected %v shares sold, got %v", buy.NewBet.Shares, -sale.NewBet.Shares)
	}
	if sale.SaleValue <= 9 || sale.SaleValue >= 10 {
		t.Errorf("expected sale value a little under 10 after fees, got %v", sale.SaleValue)
	}
	if !near(sale.SaleValue, -sale.NewBet.Amount, 1e-12) {
		t.Errorf("sale value should be the negated bet amount, got %v vs %v", sale.SaleValue, sale.NewBet.Amount)
	}
	if sale.NewBet.LoanAmount != -2 || sale.NewBet.Outcome != model.OutcomeYes {
		t.Errorf("unexpected sale bet fields: %+v", sale.NewBet)
	}
	for _, f := range sale.NewBet.Fills {
		if !f.IsSale {
			t.Error("expected every sale fill marked isSale")
		}
	}
	if !near(sale.NewBet.ProbAfter, 0.5, 0.01) {
		t.Errorf("expected prob near 0.5 after round trip, got %v", sale.NewBet.ProbAfter)
	}
}

func TestComputeSale_SumsToOne(t *testing.T) {
	m := multiMarket(true, 100, 0.2, 0.3, 0.5)
	for _, outcome := range []model.Outcome{model.OutcomeYes, model.OutcomeNo} {
		t.Run(string(outcome), func(t *testing.T) {
			sale, err := ComputeSale(SaleRequest{Market: m, AnswerID: "a1", Outcome: outcome, Shares: 15, Now: now})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sum := probSumAfter(m, "a1", sale); !near(sum, 1, 1e-6) {
				t.Errorf("expected probabilities to sum to 1, got %v", sum)
			}
			if !near(sale.NewBet.Shares, -15, 1e-6) {
				t.Errorf("expected -15 shares, got %v", sale.NewBet.Shares)
			}
			if sale.SaleValue <= 0 || sale.SaleValue >= 15 {
				t.Errorf("expected sale value in (0, 15), got %v", sale.SaleValue)
			}
		})
	}
}

func TestComputeSale_RejectsNonPositiveShares(t *testing.T) {
	if _, err := ComputeSale(SaleRequest{Market: binaryMarket(100, 100, 0.5), Outcome: model.OutcomeNo, Shares: 0}); !errors.Is(err, ErrInvalidShares) {
		t.Errorf("expected ErrInvalidShares, got %v", err)
	}
}

// --- Amount-to-shares tests ---

func TestAmountToBuySharesFixedP_ThroughLimitOrder(t *testing.T) {
	s := cpmm.State{Pool: model.Pool{YES: 100, NO: 100}, P: cpmm.FixedP}
	orders := []*model.Bet{{
		ID: "o", UserID: "maker", Outcome: model.OutcomeNo, LimitProb: prob(0.55), OrderAmount: 2,
	}}
	for _, shares := range []float64{5, 25} {
		amount, err := amountToBuySharesFixedP(s, shares, model.OutcomeYes, orders, nil, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		res, err := orderbook.ComputeFills(orderbook.Request{Outcome: model.OutcomeYes, Amount: amount, State: s, Orders: orders, Now: now})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !near(res.TakerShares(), shares, 1e-6) {
			t.Errorf("expected %v shares for %v, got %v", shares, amount, res.TakerShares())
		}
	}
}

func TestAmountToBuyShares_WeightedPool(t *testing.T) {
	s := cpmm.State{Pool: model.Pool{YES: 300, NO: 80}, P: 0.7}
	amount, err := amountToBuyShares(s, 40, model.OutcomeNo, nil, nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, _ := orderbook.ComputeFills(orderbook.Request{Outcome: model.OutcomeNo, Amount: amount, State: s, Now: now})
	if !near(res.TakerShares(), 40, 1e-6) {
		t.Errorf("expected 40 shares, got %v", res.TakerShares())
	}
}

// --- Properties ---

func TestProperty_SumsToOnePreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "answers")
		weights := make([]float64, n)
		var total float64
		for i := range weights {
			weights[i] = rapid.Float64Range(1, 10).Draw(t, "weight")
			total += weights[i]
		}
		probs := make([]float64, n)
		for i := range probs {
			probs[i] = weights[i] / total
		}
		m := multiMarket(true, rapid.Float64Range(50, 1000).Draw(t, "liquidity"), probs...)
		target := fmt.Sprintf("a%d", rapid.IntRange(0, n-1).Draw(t, "target"))
		outcome := rapid.SampledFrom([]model.Outcome{model.OutcomeYes, model.OutcomeNo}).Draw(t, "outcome")
		amount := rapid.Float64Range(1, 100).Draw(t, "amount")

		info, err := Compute(Request{Market: m, AnswerID: target, Outcome: outcome, Amount: amount, Now: now})
		if errors.Is(err, ErrTradeTooLarge) {
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sum := probSumAfter(m, target, info); !near(sum, 1, 1e-6) {
			t.Fatalf("probabilities sum to %v", sum)
		}
		if !near(info.NewBet.Amount, amount, 1e-6) {
			t.Fatalf("spent %v of %v", info.NewBet.Amount, amount)
		}
	})
}
