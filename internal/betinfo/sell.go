package betinfo

import (
	"fmt"
	"time"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
)

// SaleRequest describes selling shares of Outcome back to the market.
type SaleRequest struct {
	Market   model.Market
	AnswerID string
	Outcome  model.Outcome
	Shares   float64

	// LoanPaid is repaid out of the sale and recorded as a negative loan.
	LoanPaid float64

	Orders   []*model.Bet
	Balances map[string]float64
	Now      time.Time
}

// ComputeSale prices a sale. Selling s shares of an outcome is buying s
// shares of the opposite outcome: the pair redeems for s mana, so the seller
// receives s minus what the opposite shares cost.
func ComputeSale(req SaleRequest) (*BetInfo, error) {
	if !numeric.IsFinite(req.Shares) || req.Shares <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShares, req.Shares)
	}

	var (
		info *BetInfo
		err  error
	)
	switch m := req.Market.(type) {
	case *model.BinaryMarket:
		c := m.Contract
		info, err = sellOnPool(c, "", cpmm.State{Pool: c.Pool, P: c.P}, req.Orders, req)
	case *model.MultiMarket:
		a := m.Answer(req.AnswerID)
		if a == nil {
			return nil, fmt.Errorf("%w: %q", ErrAnswerNotFound, req.AnswerID)
		}
		if m.SumsToOne {
			info, err = sellSumsToOne(m, a, req)
		} else {
			info, err = sellOnPool(m.Contract, a.ID, AnswerState(a), OrdersFor(req.Orders, a.ID), req)
		}
	default:
		return nil, ErrUnsupportedMarket
	}
	if err != nil {
		return nil, err
	}
	if err := info.check(); err != nil {
		return nil, err
	}
	return info, nil
}

func sellOnPool(c *model.Contract, answerID string, start cpmm.State, orders []*model.Bet, req SaleRequest) (*BetInfo, error) {
	opposite := req.Outcome.Opposite()
	buyAmount, err := amountToBuyShares(start, req.Shares, opposite, orders, req.Balances, req.Now)
	if err != nil {
		return nil, err
	}
	res, err := orderbook.ComputeFills(orderbook.Request{
		Outcome:  opposite,
		Amount:   buyAmount,
		State:    start,
		Orders:   orders,
		Balances: req.Balances,
		Now:      req.Now,
	})
	if err != nil {
		return nil, err
	}

	bet := saleBet(c.ID, answerID, req, res, start.Prob())
	return &BetInfo{
		NewBet:            bet,
		NewPool:           res.State.Pool,
		NewP:              res.State.P,
		NewTotalLiquidity: c.TotalLiquidity + res.Fees.LiquidityFee,
		Makers:            res.Makers,
		OrdersToCancel:    res.OrdersToCancel,
		SaleValue:         -bet.Amount,
	}, nil
}

func sellSumsToOne(m *model.MultiMarket, a *model.Answer, req SaleRequest) (*BetInfo, error) {
	arb := newArbitrage(m.Answers, req.Orders, req.Balances, req.Now)

	var (
		r   *arbResult
		err error
	)
	if req.Outcome == model.OutcomeYes {
		r, err = arb.sellYes(a, req.Shares, nil)
	} else {
		r, err = arb.sellNo(a, req.Shares, nil)
	}
	if err != nil {
		return nil, err
	}

	bet := saleBet(m.Contract.ID, a.ID, req, r.main.Result, AnswerState(a).Prob())
	return &BetInfo{
		NewBet:            bet,
		NewPool:           r.main.State.Pool,
		NewP:              cpmm.FixedP,
		NewTotalLiquidity: m.Contract.TotalLiquidity,
		Makers:            r.main.Makers,
		OrdersToCancel:    r.main.OrdersToCancel,
		OtherBetResults:   siblingBets(m.Contract.ID, r.others, req.Now),
		SaleValue:         -bet.Amount,
	}, nil
}

// saleBet turns opposite-outcome buys into sale fills: the bought shares
// cancel held ones (negative shares) and the seller nets shares minus cost
// (negative amount).
func saleBet(contractID, answerID string, req SaleRequest, res orderbook.Result, probBefore float64) model.Bet {
	fills := make([]model.Fill, len(res.Takers))
	var amount, shares float64
	for i, t := range res.Takers {
		fills[i] = model.Fill{
			MatchedBetID: t.MatchedBetID,
			Amount:       -(t.Shares - t.Amount),
			Shares:       -t.Shares,
			Timestamp:    t.Timestamp,
			IsSale:       true,
		}
		amount += fills[i].Amount
		shares += fills[i].Shares
	}
	return model.Bet{
		ContractID:  contractID,
		AnswerID:    answerID,
		Outcome:     req.Outcome,
		OrderAmount: amount,
		Amount:      amount,
		Shares:      shares,
		IsFilled:    true,
		Fills:       fills,
		ProbBefore:  probBefore,
		ProbAfter:   res.State.Prob(),
		Fees:        res.Fees,
		LoanAmount:  -req.LoanPaid,
		CreatedTime: req.Now,
	}
}
