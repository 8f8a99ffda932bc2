// Package orderbook matches incoming bets against resting limit orders and
// the automated pool.
//
// Matching never touches storage. ComputeFills returns the taker fills, the
// maker fills, and the orders that must be cancelled; the settlement
// transaction applies them.
package orderbook

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

// maxFillSteps bounds the matching loop. Each step consumes an order or
// moves the pool toward a limit, so this is never reached on sane input.
const maxFillSteps = 100000

var (
	// ErrInvalidAmount is returned for NaN or infinite bet amounts.
	ErrInvalidAmount = errors.New("orderbook: invalid bet amount")

	// ErrInvalidLimitProb is returned for a NaN limit price.
	ErrInvalidLimitProb = errors.New("orderbook: invalid limit prob")

	// ErrFillDiverged is returned when the matching loop fails to finish.
	ErrFillDiverged = errors.New("orderbook: fill loop did not terminate")
)

// Status is the lifecycle state of a limit order.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

// StatusOf derives b's state at now. Expiry is evaluated lazily: an expired
// order is stored unchanged and simply reported (and skipped) as EXPIRED.
func StatusOf(b *model.Bet, now time.Time) Status {
	switch {
	case b.IsFilled:
		return StatusFilled
	case b.IsCancelled:
		return StatusCancelled
	case b.ExpiresAt != nil && !now.Before(*b.ExpiresAt):
		return StatusExpired
	case len(b.Fills) > 0 && !numeric.FloatingEqual(b.Amount, 0):
		return StatusPartiallyFilled
	default:
		return StatusOpen
	}
}

// Matchable reports whether b can be matched at now.
func Matchable(b *model.Bet, now time.Time) bool {
	if !b.IsLimitOrder() {
		return false
	}
	s := StatusOf(b, now)
	return s == StatusOpen || s == StatusPartiallyFilled
}

// SortForTaker returns the orders a taker of outcome can match, best price
// first, then oldest first. A YES taker matches resting NO orders, cheapest
// (lowest limitProb) first; a NO taker matches resting YES orders, highest
// limitProb first.
func SortForTaker(orders []*model.Bet, outcome model.Outcome, now time.Time) []*model.Bet {
	eligible := make([]*model.Bet, 0, len(orders))
	for _, b := range orders {
		if b.Outcome != outcome && Matchable(b, now) {
			eligible = append(eligible, b)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		pa, pb := a.LimitProbValue(), b.LimitProbValue()
		if pa != pb {
			if outcome == model.OutcomeYes {
				return pa < pb
			}
			return pa > pb
		}
		if !a.CreatedTime.Equal(b.CreatedTime) {
			return a.CreatedTime.Before(b.CreatedTime)
		}
		return a.ID < b.ID
	})
	return eligible
}

// Request is the input to ComputeFills.
type Request struct {
	Outcome model.Outcome
	Amount  float64

	// LimitProb caps (YES) or floors (NO) the price the taker accepts.
	LimitProb *float64

	State  cpmm.State
	Orders []*model.Bet

	// Balances of resting-order owners. An owner missing from the map is
	// treated as able to cover their whole order.
	Balances map[string]float64

	Now      time.Time
	FreeFees bool
}

// Result is the output of ComputeFills.
type Result struct {
	Takers         []model.Fill
	Makers         []model.Maker
	OrdersToCancel []*model.Bet
	State          cpmm.State
	Fees           model.Fees
}

// TakerAmount sums the taker fills.
func (r *Result) TakerAmount() float64 {
	var sum float64
	for _, f := range r.Takers {
		sum += f.Amount
	}
	return sum
}

// TakerShares sums the taker fill shares.
func (r *Result) TakerShares() float64 {
	var sum float64
	for _, f := range r.Takers {
		sum += f.Shares
	}
	return sum
}

// MakerIDs returns the ids of the matched resting orders, sorted.
func (r *Result) MakerIDs() []string {
	seen := make(map[string]bool, len(r.Makers))
	ids := make([]string, 0, len(r.Makers))
	for _, m := range r.Makers {
		if !seen[m.Bet.ID] {
			seen[m.Bet.ID] = true
			ids = append(ids, m.Bet.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

type fill struct {
	taker model.Fill
	maker *model.Maker // nil for a pool fill
	state cpmm.State
	fees  model.Fees
}

// computeFill makes one matching step, or returns nil when nothing more can
// fill for this taker.
func computeFill(
	amount float64,
	outcome model.Outcome,
	limitProb *float64,
	state cpmm.State,
	matched *model.Bet,
	matchedBalance *float64,
	now time.Time,
	freeFees bool,
) *fill {
	prob := state.Prob()

	if limitProb != nil {
		lp := *limitProb
		var stop bool
		if outcome == model.OutcomeYes {
			other := 1.0
			if matched != nil {
				other = matched.LimitProbValue()
			}
			stop = numeric.FloatingGreaterEqual(prob, lp) && other > lp
		} else {
			other := 0.0
			if matched != nil {
				other = matched.LimitProbValue()
			}
			stop = numeric.FloatingLesserEqual(prob, lp) && other < lp
		}
		if stop {
			return nil
		}
	}

	poolFirst := matched == nil
	if !poolFirst {
		if outcome == model.OutcomeYes {
			poolFirst = !numeric.FloatingGreaterEqual(prob, matched.LimitProbValue())
		} else {
			poolFirst = !numeric.FloatingLesserEqual(prob, matched.LimitProbValue())
		}
	}

	if poolFirst {
		// Trade against the pool up to the nearer of the taker's limit and
		// the next resting order's price.
		limit := limitProb
		if matched != nil {
			l := matched.LimitProbValue()
			if limitProb != nil {
				if outcome == model.OutcomeYes {
					l = math.Min(l, *limitProb)
				} else {
					l = math.Max(l, *limitProb)
				}
			}
			limit = &l
		}

		buyAmount := amount
		if limit != nil {
			buyAmount = math.Min(amount, cpmm.AmountToProb(state, *limit, outcome))
		}

		p := cpmm.Buy(state, buyAmount, outcome, freeFees)
		return &fill{
			taker: model.Fill{Amount: buyAmount, Shares: p.Shares, Timestamp: now},
			state: p.State,
			fees:  p.Fees,
		}
	}

	// Trade against the resting order at its price.
	lp := matched.LimitProbValue()
	remaining := matched.OrderAmount - matched.Amount
	toFill := remaining
	if matchedBalance != nil {
		toFill = math.Min(remaining, math.Max(0, *matchedBalance))
	}

	takerPrice, makerPrice := lp, 1-lp
	if outcome == model.OutcomeNo {
		takerPrice, makerPrice = 1-lp, lp
	}
	shares := math.Min(amount/takerPrice, toFill/makerPrice)

	return &fill{
		taker: model.Fill{
			MatchedBetID: matched.ID,
			Amount:       shares * takerPrice,
			Shares:       shares,
			Timestamp:    now,
		},
		maker: &model.Maker{
			Bet:       matched,
			Amount:    shares * makerPrice,
			Shares:    shares,
			Timestamp: now,
		},
		state: state,
	}
}

// ComputeFills walks the book and the pool for one taker order, cheapest
// liquidity first, until the amount is spent or the limit price is reached.
func ComputeFills(req Request) (Result, error) {
	if !numeric.IsFinite(req.Amount) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}
	if req.LimitProb != nil && math.IsNaN(*req.LimitProb) {
		return Result{}, ErrInvalidLimitProb
	}

	sorted := SortForTaker(req.Orders, req.Outcome, req.Now)

	res := Result{State: req.State}
	balances := make(map[string]float64, len(req.Balances))
	for k, v := range req.Balances {
		balances[k] = v
	}

	amount := req.Amount
	i := 0
	for step := 0; ; step++ {
		if step >= maxFillSteps {
			return Result{}, ErrFillDiverged
		}

		var matched *model.Bet
		var matchedBalance *float64
		if i < len(sorted) {
			matched = sorted[i]
			if bal, ok := balances[matched.UserID]; ok {
				matchedBalance = &bal
			}
		}

		f := computeFill(amount, req.Outcome, req.LimitProb, res.State, matched, matchedBalance, req.Now, req.FreeFees)
		if f == nil {
			break
		}

		if f.maker == nil {
			res.State = f.state
			res.Fees = res.Fees.Add(f.fees)
			res.Takers = append(res.Takers, f.taker)
		} else {
			i++
			userID := matched.UserID
			bal, known := balances[userID]
			if known && numeric.FloatingGreaterEqual(f.maker.Amount, 0) {
				bal -= f.maker.Amount
				balances[userID] = bal
			}
			if known && numeric.FloatingLesserEqual(bal, 0) {
				// The owner can no longer back any of their orders.
				res.OrdersToCancel = append(res.OrdersToCancel, matched)
			}
			if numeric.FloatingEqual(f.maker.Amount, 0) {
				continue
			}
			res.Takers = append(res.Takers, f.taker)
			res.Makers = append(res.Makers, *f.maker)
		}

		amount -= f.taker.Amount
		if numeric.FloatingEqual(amount, 0) {
			break
		}
	}

	return res, nil
}
