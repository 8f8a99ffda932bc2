package betinfo

import (
	"time"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
)

// amountToBuySharesFixedP returns the mana, fees included, that buys exactly
// shares of outcome on a p = 0.5 pool with resting orders in front of it.
func amountToBuySharesFixedP(
	s cpmm.State,
	shares float64,
	outcome model.Outcome,
	orders []*model.Bet,
	balances map[string]float64,
	now time.Time,
) (float64, error) {
	req := orderbook.Request{
		Outcome:  outcome,
		State:    s,
		Orders:   orders,
		Balances: balances,
		Now:      now,
	}

	// Spending shares mana always buys at least shares below a price of 1.
	req.Amount = shares
	res, err := orderbook.ComputeFills(req)
	if err != nil {
		return 0, err
	}

	var currShares, currAmount float64
	for _, f := range res.Takers {
		if numeric.FloatingEqual(currShares+f.Shares, shares) {
			return currAmount + f.Amount, nil
		}
		if currShares+f.Shares > shares {
			if f.MatchedBetID != "" {
				// Limit order fills are linear: take the part we need.
				return currAmount + f.Amount*((shares-currShares)/f.Shares), nil
			}
			break
		}
		currShares += f.Shares
		currAmount += f.Amount
	}

	remaining := shares - currShares
	if remaining <= 0 {
		return currAmount, nil
	}

	// Replay up to the overshooting pool fill, then solve the pool exactly.
	req.Amount = currAmount
	partial, err := orderbook.ComputeFills(req)
	if err != nil {
		return 0, err
	}
	amount, err := cpmm.AmountToBuySharesFixedP(partial.State, remaining, outcome)
	if err != nil {
		return 0, err
	}
	return currAmount + amount + cpmm.TakerFee(remaining, amount/remaining), nil
}

// amountToBuyShares binary searches the amount whose fills total shares.
// Any weight p is supported.
func amountToBuyShares(
	s cpmm.State,
	shares float64,
	outcome model.Outcome,
	orders []*model.Bet,
	balances map[string]float64,
	now time.Time,
) (float64, error) {
	// Cheapest is the current price; dearest is 1 per share.
	minAmount := shares * cpmm.OutcomeProb(s.Prob(), outcome)

	var fillErr error
	amount, err := numeric.BinarySearch(minAmount, shares, func(amount float64) float64 {
		res, err := orderbook.ComputeFills(orderbook.Request{
			Outcome:  outcome,
			Amount:   amount,
			State:    s,
			Orders:   orders,
			Balances: balances,
			Now:      now,
		})
		if err != nil {
			if fillErr == nil {
				fillErr = err
			}
			return 1
		}
		return res.TakerShares() - shares
	})
	if fillErr != nil {
		return 0, fillErr
	}
	return amount, err
}
