// Package position derives ContractMetric rows from bet history.
package position

import (
	"sort"

	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

// SpentAndShares replays bets in time order, redemptions last among equal
// timestamps. Buys add to spend; sales reduce spend at the average price
// of the position being sold.
func SpentAndShares(bets []*model.Bet) (spent, shares model.Pool) {
	sorted := append([]*model.Bet(nil), bets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedTime.Equal(b.CreatedTime) {
			return a.CreatedTime.Before(b.CreatedTime)
		}
		return !a.IsRedemption && b.IsRedemption
	})

	for _, b := range sorted {
		if numeric.FloatingEqual(b.Shares, 0) {
			continue
		}
		s, p := spent.Get(b.Outcome), shares.Get(b.Outcome)
		if numeric.FloatingGreaterEqual(b.Amount, 0) {
			s += b.Amount
		} else {
			var avg float64
			if !numeric.FloatingEqual(p, 0) {
				avg = s / p
			}
			s += avg * b.Shares
		}
		p += b.Shares
		set(&spent, b.Outcome, s)
		set(&shares, b.Outcome, p)
	}
	return spent, shares
}

func set(p *model.Pool, o model.Outcome, v float64) {
	if o == model.OutcomeYes {
		p.YES = v
	} else {
		p.NO = v
	}
}

// Compute builds the metric for key from the bets placed under it.
func Compute(key model.MetricKey, bets []*model.Bet) model.ContractMetric {
	spent, shares := SpentAndShares(bets)
	m := model.ContractMetric{
		UserID:       key.UserID,
		ContractID:   key.ContractID,
		AnswerID:     key.AnswerID,
		TotalShares:  shares,
		TotalSpent:   spent,
		Invested:     spent.YES + spent.NO,
		HasYesShares: shares.YES > 0 && !numeric.FloatingEqual(shares.YES, 0),
		HasNoShares:  shares.NO > 0 && !numeric.FloatingEqual(shares.NO, 0),
	}

	var last *model.Bet
	for _, b := range bets {
		m.Loan += b.LoanAmount
		if last == nil || b.CreatedTime.After(last.CreatedTime) {
			last = b
		}
	}
	if last != nil {
		m.LastBetTime = last.CreatedTime
		m.LastProb = last.ProbAfter
	}
	return m
}

// ComputeByAnswer splits one user's bets on a contract by answer and builds
// a metric for each. Binary contracts yield a single entry under "".
func ComputeByAnswer(userID, contractID string, bets []*model.Bet) map[string]model.ContractMetric {
	byAnswer := make(map[string][]*model.Bet)
	for _, b := range bets {
		if b.UserID == userID && b.ContractID == contractID {
			byAnswer[b.AnswerID] = append(byAnswer[b.AnswerID], b)
		}
	}
	out := make(map[string]model.ContractMetric, len(byAnswer))
	for answerID, bs := range byAnswer {
		key := model.MetricKey{UserID: userID, ContractID: contractID, AnswerID: answerID}
		out[answerID] = Compute(key, bs)
	}
	return out
}
