package orderbook

import (
	"fmt"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func prob(p float64) *float64 { return &p }

func evenState() cpmm.State {
	return cpmm.State{Pool: model.Pool{YES: 100, NO: 100}, P: 0.5}
}

func limitOrder(id, user string, outcome model.Outcome, lp, orderAmount float64, created time.Time) *model.Bet {
	return &model.Bet{
		ID:          id,
		UserID:      user,
		ContractID:  "c1",
		Outcome:     outcome,
		LimitProb:   prob(lp),
		OrderAmount: orderAmount,
		CreatedTime: created,
	}
}

// --- Status tests ---

func TestStatusOf(t *testing.T) {
	past := t0.Add(-time.Minute)
	future := t0.Add(time.Minute)
	tests := []struct {
		name string
		bet  model.Bet
		want Status
	}{
		{"open", model.Bet{LimitProb: prob(0.5), OrderAmount: 10}, StatusOpen},
		{"partial", model.Bet{LimitProb: prob(0.5), OrderAmount: 10, Amount: 4, Fills: []model.Fill{{Amount: 4}}}, StatusPartiallyFilled},
		{"filled", model.Bet{LimitProb: prob(0.5), OrderAmount: 10, Amount: 10, IsFilled: true}, StatusFilled},
		{"cancelled", model.Bet{LimitProb: prob(0.5), IsCancelled: true}, StatusCancelled},
		{"expired", model.Bet{LimitProb: prob(0.5), ExpiresAt: &past}, StatusExpired},
		{"not yet expired", model.Bet{LimitProb: prob(0.5), ExpiresAt: &future}, StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(&tt.bet, t0); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// --- Ordering tests ---

func TestSortForTaker_YesTakerCheapestFirstThenFIFO(t *testing.T) {
	orders := []*model.Bet{
		limitOrder("late-60", "u1", model.OutcomeNo, 0.6, 10, t0.Add(2*time.Second)),
		limitOrder("early-60", "u2", model.OutcomeNo, 0.6, 10, t0),
		limitOrder("55", "u3", model.OutcomeNo, 0.55, 10, t0.Add(5*time.Second)),
		limitOrder("same-side", "u4", model.OutcomeYes, 0.4, 10, t0),
	}
	got := SortForTaker(orders, model.OutcomeYes, t0)
	want := []string{"55", "early-60", "late-60"}
	if len(got) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestSortForTaker_NoTakerHighestFirst(t *testing.T) {
	orders := []*model.Bet{
		limitOrder("30", "u1", model.OutcomeYes, 0.3, 10, t0),
		limitOrder("45", "u2", model.OutcomeYes, 0.45, 10, t0),
	}
	got := SortForTaker(orders, model.OutcomeNo, t0)
	if got[0].ID != "45" || got[1].ID != "30" {
		t.Errorf("expected [45 30], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestSortForTaker_SkipsExpiredAndCancelled(t *testing.T) {
	past := t0.Add(-time.Second)
	expired := limitOrder("expired", "u1", model.OutcomeNo, 0.55, 10, t0)
	expired.ExpiresAt = &past
	cancelled := limitOrder("cancelled", "u2", model.OutcomeNo, 0.55, 10, t0)
	cancelled.IsCancelled = true
	live := limitOrder("live", "u3", model.OutcomeNo, 0.7, 10, t0)

	got := SortForTaker([]*model.Bet{expired, cancelled, live}, model.OutcomeYes, t0)
	if len(got) != 1 || got[0].ID != "live" {
		t.Fatalf("expected only the live order, got %d orders", len(got))
	}
	// Expired orders are left OPEN in storage.
	if expired.IsCancelled {
		t.Error("expired order should not be mutated")
	}
}

// --- Fill tests ---

func TestComputeFills_PoolOnly(t *testing.T) {
	res, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: 10, State: evenState(), Now: t0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Takers) != 1 || res.Takers[0].MatchedBetID != "" {
		t.Fatalf("expected one pool fill, got %+v", res.Takers)
	}
	want := cpmm.Buy(evenState(), 10, model.OutcomeYes, false)
	if math.Abs(res.TakerShares()-want.Shares) > 1e-12 {
		t.Errorf("expected %v shares, got %v", want.Shares, res.TakerShares())
	}
	if math.Abs(res.State.Prob()-want.State.Prob()) > 1e-12 {
		t.Errorf("expected prob %v, got %v", want.State.Prob(), res.State.Prob())
	}
}

func TestComputeFills_BetterPricedOrderFirst(t *testing.T) {
	cheap := limitOrder("cheap", "maker1", model.OutcomeNo, 0.55, 10, t0.Add(time.Second))
	dear := limitOrder("dear", "maker2", model.OutcomeNo, 0.65, 10, t0)
	balances := map[string]float64{"maker1": 1000, "maker2": 1000}

	res, err := ComputeFills(Request{
		Outcome:  model.OutcomeYes,
		Amount:   50,
		State:    evenState(),
		Orders:   []*model.Bet{dear, cheap},
		Balances: balances,
		Now:      t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Makers) == 0 || res.Makers[0].Bet.ID != "cheap" {
		t.Fatalf("expected the 0.55 order to match first, got %+v", res.Makers)
	}
	if !numeric.FloatingEqual(res.Makers[0].Amount, 10) {
		t.Errorf("expected cheap order fully consumed (10), got %v", res.Makers[0].Amount)
	}
	if !numeric.FloatingEqual(res.TakerAmount(), 50) {
		t.Errorf("expected full taker amount 50, got %v", res.TakerAmount())
	}
	// Pool fills come before the first maker fill and stop at its price.
	firstMaker := -1
	for i, f := range res.Takers {
		if f.MatchedBetID == "cheap" {
			firstMaker = i
			break
		}
	}
	if firstMaker < 1 {
		t.Fatalf("expected a pool fill before the maker fill, got index %d", firstMaker)
	}
	// The taker pays the maker's price.
	f := res.Takers[firstMaker]
	if math.Abs(f.Amount/f.Shares-0.55) > 1e-9 {
		t.Errorf("expected taker price 0.55, got %v", f.Amount/f.Shares)
	}
	// The original balance map is untouched.
	if balances["maker1"] != 1000 {
		t.Errorf("balance map was mutated: %v", balances["maker1"])
	}
}

func TestComputeFills_LimitStopsAtPrice(t *testing.T) {
	res, err := ComputeFills(Request{
		Outcome:   model.OutcomeYes,
		Amount:    1000,
		LimitProb: prob(0.6),
		State:     evenState(),
		Now:       t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TakerAmount() >= 1000 {
		t.Errorf("expected a partial fill, spent %v", res.TakerAmount())
	}
	if p := res.State.Prob(); p > 0.6+1e-9 || p < 0.59 {
		t.Errorf("expected prob to stop at 0.6, got %v", p)
	}
}

func TestComputeFills_NoTakerAgainstYesOrders(t *testing.T) {
	maker := limitOrder("bid", "maker", model.OutcomeYes, 0.45, 9, t0)
	res, err := ComputeFills(Request{
		Outcome: model.OutcomeNo,
		Amount:  30,
		State:   evenState(),
		Orders:  []*model.Bet{maker},
		Now:     t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Makers) != 1 {
		t.Fatalf("expected one maker fill, got %d", len(res.Makers))
	}
	m := res.Makers[0]
	// The maker buys YES at 0.45: 9 spent buys 20 shares.
	if !numeric.FloatingEqual(m.Amount, 9) || !numeric.FloatingEqual(m.Shares, 20) {
		t.Errorf("expected maker amount 9 for 20 shares, got %v for %v", m.Amount, m.Shares)
	}
	if res.State.Prob() > 0.45+1e-9 {
		t.Errorf("NO taker should push prob down through 0.45, got %v", res.State.Prob())
	}
}

func TestComputeFills_MakerBalanceCapsFillAndCancels(t *testing.T) {
	maker := limitOrder("thin", "poor", model.OutcomeNo, 0.5, 10, t0)
	res, err := ComputeFills(Request{
		Outcome:  model.OutcomeYes,
		Amount:   20,
		State:    evenState(),
		Orders:   []*model.Bet{maker},
		Balances: map[string]float64{"poor": 3},
		Now:      t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Makers) != 1 || !numeric.FloatingEqual(res.Makers[0].Amount, 3) {
		t.Fatalf("expected maker fill capped at balance 3, got %+v", res.Makers)
	}
	if len(res.OrdersToCancel) != 1 || res.OrdersToCancel[0].ID != "thin" {
		t.Errorf("expected the drained order to be cancelled, got %+v", res.OrdersToCancel)
	}
}

func TestComputeFills_NegativeMakerBalanceNeverFills(t *testing.T) {
	maker := limitOrder("owed", "debtor", model.OutcomeNo, 0.5, 10, t0)
	res, err := ComputeFills(Request{
		Outcome:  model.OutcomeYes,
		Amount:   20,
		State:    evenState(),
		Orders:   []*model.Bet{maker},
		Balances: map[string]float64{"debtor": -4},
		Now:      t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Makers) != 0 {
		t.Fatalf("expected no maker fills, got %+v", res.Makers)
	}
	if len(res.OrdersToCancel) != 1 || res.OrdersToCancel[0].ID != "owed" {
		t.Errorf("expected the order to be cancelled, got %+v", res.OrdersToCancel)
	}
	if !numeric.FloatingEqual(res.TakerAmount(), 20) {
		t.Errorf("expected the taker to spend exactly 20, got %v", res.TakerAmount())
	}
	for _, f := range res.Takers {
		if f.Shares < 0 || f.Amount < 0 {
			t.Errorf("expected non-negative taker fill, got %+v", f)
		}
	}
}

func TestComputeFills_FreeFees(t *testing.T) {
	paid, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: 50, State: evenState(), Now: t0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	free, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: 50, State: evenState(), Now: t0, FreeFees: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if free.Fees.Total() != 0 {
		t.Errorf("expected no fees, got %+v", free.Fees)
	}
	if paid.Fees.Total() <= 0 || free.TakerShares() <= paid.TakerShares() {
		t.Errorf("expected fees to cost shares, got paid %v (fees %v) and free %v",
			paid.TakerShares(), paid.Fees.Total(), free.TakerShares())
	}
}

func TestComputeFills_ZeroAmount(t *testing.T) {
	res, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: 0, State: evenState(), Now: t0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TakerShares() != 0 || res.TakerAmount() != 0 {
		t.Errorf("expected zero-effect result, got amount=%v shares=%v", res.TakerAmount(), res.TakerShares())
	}
	if res.State != evenState() {
		t.Errorf("pool should be unchanged, got %+v", res.State)
	}
}

func TestComputeFills_RejectsNaN(t *testing.T) {
	if _, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: math.NaN(), State: evenState()}); err == nil {
		t.Error("expected error for NaN amount")
	}
	if _, err := ComputeFills(Request{Outcome: model.OutcomeYes, Amount: 1, LimitProb: prob(math.NaN()), State: evenState()}); err == nil {
		t.Error("expected error for NaN limit prob")
	}
}

// --- Maker update tests ---

func TestApplyMakers_FillsOnlyWhenComplete(t *testing.T) {
	order := limitOrder("o1", "maker", model.OutcomeNo, 0.6, 10, t0)

	updates, spent := ApplyMakers([]model.Maker{{Bet: order, Amount: 4, Shares: 10, Timestamp: t0}}, "taker-1")
	if len(updates) != 1 || updates[0].IsFilled {
		t.Fatalf("expected one partial update, got %+v", updates)
	}
	if spent["maker"] != 4 {
		t.Errorf("expected maker debit 4, got %v", spent["maker"])
	}
	updates[0].Apply(order)

	updates, _ = ApplyMakers([]model.Maker{{Bet: order, Amount: 6, Shares: 15, Timestamp: t0}}, "taker-2")
	u := updates[0]
	if !u.IsFilled {
		t.Errorf("expected order filled at amount %v", u.Amount)
	}
	if len(u.Fills) != 2 || u.Fills[1].MatchedBetID != "taker-2" {
		t.Errorf("expected fills appended with matched id, got %+v", u.Fills)
	}
	if !numeric.FloatingEqual(u.Shares, 25) {
		t.Errorf("expected 25 total shares, got %v", u.Shares)
	}
	u.Apply(order)
	if Matchable(order, t0) {
		t.Error("a filled order must not be matchable again")
	}
}

// --- Properties ---

func TestProperty_FillCorrectness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "orders")
		orders := make([]*model.Bet, n)
		balances := make(map[string]float64, n)
		for i := range orders {
			user := fmt.Sprintf("u%d", i)
			lp := float64(rapid.IntRange(51, 95).Draw(t, "lp")) / 100
			amount := rapid.Float64Range(1, 50).Draw(t, "orderAmount")
			orders[i] = limitOrder(fmt.Sprintf("o%d", i), user, model.OutcomeNo, lp, amount, t0.Add(time.Duration(i)*time.Second))
			balances[user] = rapid.Float64Range(0.5, 100).Draw(t, "balance")
		}
		bet := rapid.Float64Range(1, 500).Draw(t, "bet")

		res, err := ComputeFills(Request{
			Outcome:  model.OutcomeYes,
			Amount:   bet,
			State:    evenState(),
			Orders:   orders,
			Balances: balances,
			Now:      t0,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.TakerAmount() > bet+numeric.Epsilon {
			t.Fatalf("taker spent %v of %v", res.TakerAmount(), bet)
		}

		updates, spent := ApplyMakers(res.Makers, "taker")
		for _, u := range updates {
			var o *model.Bet
			for _, b := range orders {
				if b.ID == u.BetID {
					o = b
				}
			}
			if u.Amount > o.OrderAmount+numeric.Epsilon {
				t.Fatalf("order %s overfilled: %v > %v", o.ID, u.Amount, o.OrderAmount)
			}
			if u.IsFilled != numeric.FloatingEqual(u.Amount, o.OrderAmount) {
				t.Fatalf("order %s isFilled=%v with amount %v of %v", o.ID, u.IsFilled, u.Amount, o.OrderAmount)
			}
		}
		for user, s := range spent {
			if s > balances[user]+numeric.Epsilon {
				t.Fatalf("user %s spent %v with balance %v", user, s, balances[user])
			}
		}
	})
}
