// Package betinfo computes the full effect of a trade without touching
// storage: the candidate bet, the new pool, matched makers, orders to
// cancel and, for answers that must sum to one, the compensating bets on
// every sibling answer.
package betinfo

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
)

var (
	ErrInvalidAmount     = errors.New("betinfo: amount must be a non-negative finite number")
	ErrInvalidShares     = errors.New("betinfo: shares must be a positive finite number")
	ErrAnswerNotFound    = errors.New("betinfo: answer not found")
	ErrUnsupportedMarket = errors.New("betinfo: unsupported market")
	ErrTradeTooLarge     = errors.New("betinfo: trade too large for current liquidity pool")
	ErrNonFinite         = errors.New("betinfo: computed a non-finite value")
	ErrArbitrage         = errors.New("betinfo: arbitrage invariant failed")
)

// Request describes one buy.
type Request struct {
	Market    model.Market
	AnswerID  string
	Outcome   model.Outcome
	Amount    float64
	LimitProb *float64
	ExpiresAt *time.Time

	// Orders are the unfilled limit orders of the contract. For answers that
	// sum to one this must include every answer's orders.
	Orders   []*model.Bet
	Balances map[string]float64
	Now      time.Time
}

// OtherBetResult is a compensating bet on a sibling answer.
type OtherBetResult struct {
	AnswerID       string
	Bet            model.Bet
	State          cpmm.State
	Makers         []model.Maker
	OrdersToCancel []*model.Bet
}

// BetInfo is the computed effect of a trade.
type BetInfo struct {
	// NewBet has no ID or UserID; settlement assigns them.
	NewBet            model.Bet
	NewPool           model.Pool
	NewP              float64
	NewTotalLiquidity float64
	Makers            []model.Maker
	OrdersToCancel    []*model.Bet
	OtherBetResults   []OtherBetResult

	// SaleValue is the mana a sale pays out before loan repayment.
	SaleValue float64
}

// AllMakers returns the makers of the main bet followed by those of every
// sibling bet.
func (b *BetInfo) AllMakers() []model.Maker {
	makers := append([]model.Maker(nil), b.Makers...)
	for _, o := range b.OtherBetResults {
		makers = append(makers, o.Makers...)
	}
	return makers
}

// AllOrdersToCancel is AllMakers for cancellations.
func (b *BetInfo) AllOrdersToCancel() []*model.Bet {
	orders := append([]*model.Bet(nil), b.OrdersToCancel...)
	for _, o := range b.OtherBetResults {
		orders = append(orders, o.OrdersToCancel...)
	}
	return orders
}

// MakerIDs returns the sorted ids of every resting order the trade touches,
// matched or cancelled. Two computations against the same book agree on it.
func (b *BetInfo) MakerIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range b.AllMakers() {
		add(m.Bet.ID)
	}
	for _, o := range b.AllOrdersToCancel() {
		add(o.ID)
	}
	sort.Strings(ids)
	return ids
}

// TotalFees sums the fees of the main bet and every sibling bet.
func (b *BetInfo) TotalFees() model.Fees {
	fees := b.NewBet.Fees
	for _, o := range b.OtherBetResults {
		fees = fees.Add(o.Bet.Fees)
	}
	return fees
}

// AnswerState is the pricing state of an answer's pool.
func AnswerState(a *model.Answer) cpmm.State {
	return cpmm.State{Pool: a.Pool(), P: cpmm.FixedP}
}

// Compute prices a buy of req.Amount on req.Outcome.
func Compute(req Request) (*BetInfo, error) {
	if !numeric.IsFinite(req.Amount) || req.Amount < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}

	var (
		info *BetInfo
		err  error
	)
	switch m := req.Market.(type) {
	case *model.BinaryMarket:
		info, err = computeBinary(m, req)
	case *model.MultiMarket:
		a := m.Answer(req.AnswerID)
		if a == nil {
			return nil, fmt.Errorf("%w: %q", ErrAnswerNotFound, req.AnswerID)
		}
		if m.SumsToOne {
			info, err = computeSumsToOne(m, a, req)
		} else {
			info, err = computeIndependent(m, a, req)
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

func computeBinary(m *model.BinaryMarket, req Request) (*BetInfo, error) {
	c := m.Contract
	start := cpmm.State{Pool: c.Pool, P: c.P}
	res, err := orderbook.ComputeFills(orderbook.Request{
		Outcome:   req.Outcome,
		Amount:    req.Amount,
		LimitProb: req.LimitProb,
		State:     start,
		Orders:    req.Orders,
		Balances:  req.Balances,
		Now:       req.Now,
	})
	if err != nil {
		return nil, err
	}
	return &BetInfo{
		NewBet:            buyBet(c.ID, "", req, res, start.Prob()),
		NewPool:           res.State.Pool,
		NewP:              res.State.P,
		NewTotalLiquidity: c.TotalLiquidity + res.Fees.LiquidityFee,
		Makers:            res.Makers,
		OrdersToCancel:    res.OrdersToCancel,
	}, nil
}

func computeIndependent(m *model.MultiMarket, a *model.Answer, req Request) (*BetInfo, error) {
	start := AnswerState(a)
	res, err := orderbook.ComputeFills(orderbook.Request{
		Outcome:   req.Outcome,
		Amount:    req.Amount,
		LimitProb: req.LimitProb,
		State:     start,
		Orders:    OrdersFor(req.Orders, a.ID),
		Balances:  req.Balances,
		Now:       req.Now,
	})
	if err != nil {
		return nil, err
	}
	return &BetInfo{
		NewBet:            buyBet(m.Contract.ID, a.ID, req, res, start.Prob()),
		NewPool:           res.State.Pool,
		NewP:              cpmm.FixedP,
		NewTotalLiquidity: m.Contract.TotalLiquidity + res.Fees.LiquidityFee,
		Makers:            res.Makers,
		OrdersToCancel:    res.OrdersToCancel,
	}, nil
}

func computeSumsToOne(m *model.MultiMarket, a *model.Answer, req Request) (*BetInfo, error) {
	arb := newArbitrage(m.Answers, req.Orders, req.Balances, req.Now)

	var (
		r   *arbResult
		err error
	)
	if req.Outcome == model.OutcomeYes {
		r, err = arb.buyYes(a, req.Amount, req.LimitProb)
	} else {
		r, err = arb.buyNo(a, req.Amount, req.LimitProb)
	}
	if err != nil {
		return nil, err
	}
	if numeric.FloatingEqual(r.main.TakerAmount(), 0) {
		// Nothing traded: leave every pool as it was.
		r = &arbResult{main: answerResult{
			answer:  a,
			outcome: req.Outcome,
			Result:  orderbook.Result{State: AnswerState(a)},
		}}
	}

	return &BetInfo{
		NewBet:            buyBet(m.Contract.ID, a.ID, req, r.main.Result, AnswerState(a).Prob()),
		NewPool:           r.main.State.Pool,
		NewP:              cpmm.FixedP,
		NewTotalLiquidity: m.Contract.TotalLiquidity,
		Makers:            r.main.Makers,
		OrdersToCancel:    r.main.OrdersToCancel,
		OtherBetResults:   siblingBets(m.Contract.ID, r.others, req.Now),
	}, nil
}

func buyBet(contractID, answerID string, req Request, res orderbook.Result, probBefore float64) model.Bet {
	takerAmount := res.TakerAmount()
	fills := res.Takers
	if fills == nil {
		fills = []model.Fill{}
	}
	return model.Bet{
		ContractID:  contractID,
		AnswerID:    answerID,
		Outcome:     req.Outcome,
		OrderAmount: req.Amount,
		Amount:      takerAmount,
		Shares:      res.TakerShares(),
		LimitProb:   req.LimitProb,
		IsFilled:    numeric.FloatingEqual(req.Amount, takerAmount),
		Fills:       fills,
		ProbBefore:  probBefore,
		ProbAfter:   res.State.Prob(),
		Fees:        res.Fees,
		ExpiresAt:   req.ExpiresAt,
		CreatedTime: req.Now,
	}
}

// siblingBets turns arbitrage legs into bookkeeping bets. Their fills net
// to zero amount and zero shares, so they carry no position of their own.
func siblingBets(contractID string, results []answerResult, now time.Time) []OtherBetResult {
	out := make([]OtherBetResult, 0, len(results))
	for _, r := range results {
		fills := r.Takers
		if fills == nil {
			fills = []model.Fill{}
		}
		out = append(out, OtherBetResult{
			AnswerID: r.answer.ID,
			Bet: model.Bet{
				ContractID:   contractID,
				AnswerID:     r.answer.ID,
				Outcome:      r.outcome,
				Fills:        fills,
				IsFilled:     true,
				IsRedemption: true,
				ProbBefore:   AnswerState(r.answer).Prob(),
				ProbAfter:    r.State.Prob(),
				Fees:         r.Fees,
				CreatedTime:  now,
			},
			State:          r.State,
			Makers:         r.Makers,
			OrdersToCancel: r.OrdersToCancel,
		})
	}
	return out
}

// check rejects results no settlement may apply.
func (b *BetInfo) check() error {
	for _, v := range []float64{b.NewBet.Amount, b.NewBet.Shares, b.NewBet.ProbAfter} {
		if !numeric.IsFinite(v) {
			return fmt.Errorf("%w: bet %+v", ErrNonFinite, b.NewBet)
		}
	}
	if !numeric.IsFinite(b.NewP) || b.NewP <= 0 || b.NewP >= 1 {
		return ErrTradeTooLarge
	}
	pools := []model.Pool{b.NewPool}
	for _, o := range b.OtherBetResults {
		pools = append(pools, o.State.Pool)
	}
	for _, p := range pools {
		if !numeric.IsFinite(p.YES) || !numeric.IsFinite(p.NO) || p.Min() < cpmm.MinPoolQty {
			return fmt.Errorf("%w: pool {YES: %v, NO: %v}", ErrTradeTooLarge, p.YES, p.NO)
		}
	}
	return nil
}

// OrdersFor filters orders to one answer.
func OrdersFor(orders []*model.Bet, answerID string) []*model.Bet {
	var out []*model.Bet
	for _, o := range orders {
		if o.AnswerID == answerID {
			out = append(out, o)
		}
	}
	return out
}
