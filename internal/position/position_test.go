package position

import (
	"math"
	"testing"
	"time"

	"github.com/atmx/bet-engine/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func bet(o model.Outcome, amount, shares float64, at int) *model.Bet {
	return &model.Bet{
		UserID: "u1", ContractID: "c1", Outcome: o,
		Amount: amount, Shares: shares,
		CreatedTime: t0.Add(time.Duration(at) * time.Minute),
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSpentAndShares_BuysAccumulate(t *testing.T) {
	spent, shares := SpentAndShares([]*model.Bet{
		bet(model.OutcomeYes, 10, 18, 0),
		bet(model.OutcomeYes, 5, 8, 1),
		bet(model.OutcomeNo, 4, 9, 2),
	})
	if !approx(spent.YES, 15) || !approx(shares.YES, 26) {
		t.Errorf("YES: expected spent=15 shares=26, got %v / %v", spent.YES, shares.YES)
	}
	if !approx(spent.NO, 4) || !approx(shares.NO, 9) {
		t.Errorf("NO: expected spent=4 shares=9, got %v / %v", spent.NO, shares.NO)
	}
}

func TestSpentAndShares_SaleUsesAveragePrice(t *testing.T) {
	// 20 shares for 10 mana, then sell half for 7: cost basis halves.
	spent, shares := SpentAndShares([]*model.Bet{
		bet(model.OutcomeYes, 10, 20, 0),
		bet(model.OutcomeYes, -7, -10, 1),
	})
	if !approx(shares.YES, 10) {
		t.Errorf("expected 10 shares left, got %v", shares.YES)
	}
	if !approx(spent.YES, 5) {
		t.Errorf("expected spent=5, got %v", spent.YES)
	}
}

func TestSpentAndShares_OrderIndependentOfInput(t *testing.T) {
	buy := bet(model.OutcomeYes, 10, 20, 0)
	sale := bet(model.OutcomeYes, -7, -10, 1)
	a, _ := SpentAndShares([]*model.Bet{buy, sale})
	b, _ := SpentAndShares([]*model.Bet{sale, buy})
	if !approx(a.YES, b.YES) {
		t.Errorf("expected replay in time order, got %v vs %v", a.YES, b.YES)
	}
}

func TestSpentAndShares_RedemptionReplaysLast(t *testing.T) {
	buy := bet(model.OutcomeYes, 10, 20, 0)
	red := bet(model.OutcomeYes, -5, -10, 0)
	red.IsRedemption = true
	spent, shares := SpentAndShares([]*model.Bet{red, buy})
	if !approx(shares.YES, 10) || !approx(spent.YES, 5) {
		t.Errorf("expected redemption after buy at same instant, got spent=%v shares=%v", spent.YES, shares.YES)
	}
}

func TestSpentAndShares_SkipsZeroShareBets(t *testing.T) {
	spent, shares := SpentAndShares([]*model.Bet{
		bet(model.OutcomeYes, 0, 0, 0),
		bet(model.OutcomeNo, 3, 1e-12, 1),
	})
	if spent != (model.Pool{}) || shares != (model.Pool{}) {
		t.Errorf("expected nothing counted, got spent=%+v shares=%+v", spent, shares)
	}
}

func TestCompute(t *testing.T) {
	b1 := bet(model.OutcomeYes, 10, 20, 0)
	b1.LoanAmount = 2
	b1.ProbAfter = 0.6
	b2 := bet(model.OutcomeNo, 5, 9, 3)
	b2.ProbAfter = 0.55
	b3 := bet(model.OutcomeYes, -6, -20, 1)
	b3.LoanAmount = -2
	b3.ProbAfter = 0.58

	key := model.MetricKey{UserID: "u1", ContractID: "c1"}
	m := Compute(key, []*model.Bet{b1, b2, b3})

	if m.Key() != key {
		t.Errorf("expected key %+v, got %+v", key, m.Key())
	}
	if m.HasYesShares {
		t.Error("expected YES position closed")
	}
	if !m.HasNoShares {
		t.Error("expected NO position open")
	}
	if !approx(m.Invested, 5) {
		t.Errorf("expected invested=5, got %v", m.Invested)
	}
	if !approx(m.Loan, 0) {
		t.Errorf("expected loan repaid, got %v", m.Loan)
	}
	if !m.LastBetTime.Equal(b2.CreatedTime) || m.LastProb != 0.55 {
		t.Errorf("expected last bet b2, got %v prob=%v", m.LastBetTime, m.LastProb)
	}
}

func TestComputeByAnswer(t *testing.T) {
	a := bet(model.OutcomeYes, 10, 20, 0)
	a.AnswerID = "a0"
	b := bet(model.OutcomeNo, 4, 6, 1)
	b.AnswerID = "a1"
	other := bet(model.OutcomeYes, 99, 99, 2)
	other.UserID = "u2"
	other.AnswerID = "a0"

	got := ComputeByAnswer("u1", "c1", []*model.Bet{a, b, other})
	if len(got) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(got))
	}
	if !approx(got["a0"].TotalShares.YES, 20) {
		t.Errorf("expected a0 YES=20, got %v", got["a0"].TotalShares.YES)
	}
	if !approx(got["a1"].TotalShares.NO, 6) || got["a1"].AnswerID != "a1" {
		t.Errorf("unexpected a1 metric: %+v", got["a1"])
	}
}
