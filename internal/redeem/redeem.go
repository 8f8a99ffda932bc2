// Package redeem nets offsetting share positions into cash.
//
// A YES share and a NO share on the same pool pay exactly 1 together at
// resolution, whatever the outcome. In a sum-to-one market, one YES share on
// every answer pays exactly 1 as well. Redemption books those risk-free
// combinations as paired negative-share bets at the current probability,
// credits the holder and repays the matching fraction of any loan. The
// market's probability is not moved.
package redeem

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

// Result is everything one redemption pass produced for one user.
type Result struct {
	Bets []model.Bet

	// Payout is the number of risk-free sets redeemed, which is their mana
	// value.
	Payout   float64
	LoanPaid float64
}

// Net is the balance credit: the payout less the loan repaid out of it.
func (r Result) Net() float64 {
	return r.Payout - r.LoanPaid
}

// Empty reports whether the pass redeemed nothing.
func (r Result) Empty() bool {
	return len(r.Bets) == 0
}

// Compute returns the redemptions available to the owner of metrics on m.
// metrics must all belong to one user and one contract. A second call with
// the metrics recomputed after applying the first result returns an empty
// Result.
func Compute(m model.Market, metrics []model.ContractMetric, now time.Time) Result {
	var r Result
	switch m := m.(type) {
	case *model.BinaryMarket:
		for _, metric := range metrics {
			if metric.AnswerID != "" {
				continue
			}
			prob := cpmm.Probability(m.Contract.Pool, m.Contract.P)
			r.pair(metric, prob, now)
		}

	case *model.MultiMarket:
		byAnswer := make(map[string]model.ContractMetric, len(metrics))
		for _, metric := range metrics {
			byAnswer[metric.AnswerID] = metric
		}
		remaining := make(map[string]model.ContractMetric, len(m.Answers))
		for i := range m.Answers {
			a := &m.Answers[i]
			metric, ok := byAnswer[a.ID]
			if !ok {
				continue
			}
			remaining[a.ID] = r.pair(metric, cpmm.Probability(a.Pool(), cpmm.FixedP), now)
		}
		if m.SumsToOne {
			r.basket(m, remaining, now)
		}
	}
	return r
}

// pair redeems min(YES, NO) on one pool and returns the metric as it stands
// afterwards.
func (r *Result) pair(metric model.ContractMetric, prob float64, now time.Time) model.ContractMetric {
	yes, no := metric.TotalShares.YES, metric.TotalShares.NO
	shares := math.Max(math.Min(yes, no), 0)
	if numeric.FloatingEqual(shares, 0) {
		return metric
	}

	var loanPaid float64
	if metric.Loan != 0 {
		loanPaid = metric.Loan * shares / math.Max(yes, no)
	}

	base := model.Bet{
		UserID:       metric.UserID,
		ContractID:   metric.ContractID,
		AnswerID:     metric.AnswerID,
		Shares:       -shares,
		LoanAmount:   -loanPaid / 2,
		ProbBefore:   prob,
		ProbAfter:    prob,
		IsRedemption: true,
		IsFilled:     true,
		Fills:        []model.Fill{},
		CreatedTime:  now,
	}
	yesBet, noBet := base, base
	yesBet.ID, noBet.ID = uuid.NewString(), uuid.NewString()
	yesBet.Outcome, noBet.Outcome = model.OutcomeYes, model.OutcomeNo
	yesBet.Amount = -prob * shares
	noBet.Amount = -(1 - prob) * shares
	yesBet.OrderAmount, noBet.OrderAmount = yesBet.Amount, noBet.Amount

	r.Bets = append(r.Bets, yesBet, noBet)
	r.Payout += shares
	r.LoanPaid += loanPaid

	metric.TotalShares.YES -= shares
	metric.TotalShares.NO -= shares
	metric.Loan -= loanPaid
	return metric
}

// basket redeems the smallest YES holding across every answer of a
// sum-to-one market. Each answer's leg is priced at its share of the
// probability sum so the legs add up to the payout.
func (r *Result) basket(m *model.MultiMarket, remaining map[string]model.ContractMetric, now time.Time) {
	if len(m.Answers) < 2 {
		return
	}
	shares := math.Inf(1)
	var probSum float64
	for i := range m.Answers {
		metric, ok := remaining[m.Answers[i].ID]
		if !ok {
			return
		}
		shares = math.Min(shares, metric.TotalShares.YES)
		probSum += cpmm.Probability(m.Answers[i].Pool(), cpmm.FixedP)
	}
	if shares <= 0 || numeric.FloatingEqual(shares, 0) || probSum <= 0 {
		return
	}

	for i := range m.Answers {
		a := &m.Answers[i]
		metric := remaining[a.ID]
		prob := cpmm.Probability(a.Pool(), cpmm.FixedP)

		var loanPaid float64
		if held := math.Max(metric.TotalShares.YES, metric.TotalShares.NO); metric.Loan != 0 && held > 0 {
			loanPaid = metric.Loan * shares / held
		}
		amount := -shares * prob / probSum
		r.Bets = append(r.Bets, model.Bet{
			ID:           uuid.NewString(),
			UserID:       metric.UserID,
			ContractID:   metric.ContractID,
			AnswerID:     a.ID,
			Outcome:      model.OutcomeYes,
			OrderAmount:  amount,
			Amount:       amount,
			Shares:       -shares,
			LoanAmount:   -loanPaid,
			ProbBefore:   prob,
			ProbAfter:    prob,
			IsRedemption: true,
			IsFilled:     true,
			Fills:        []model.Fill{},
			CreatedTime:  now,
		})
		r.LoanPaid += loanPaid
	}
	r.Payout += shares
}
