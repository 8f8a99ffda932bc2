// Package cpmm implements the constant-product market maker used to price
// binary and per-answer bets.
//
// A pool {YES: y, NO: n} with weight p keeps the invariant
//
//	k = y^p * n^(1-p)
//
// constant across trades (before liquidity fees). The YES probability is
//
//	prob = p*n / ((1-p)*y + p*n)
//
// so buying YES removes YES shares from the pool and pushes prob up.
// Multi-answer pools always use p = 0.5.
//
// Every function here is pure: state goes in as arguments and comes back as
// new values.
package cpmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

const (
	// MinPoolQty is the floor below which no trade may push either side of
	// a pool.
	MinPoolQty = 0.01

	// MinimumLiquidity is the per-side floor for liquidity withdrawals.
	MinimumLiquidity = 100.0

	// FixedP is the weight used by every multi-answer pool.
	FixedP = 0.5
)

var (
	// ErrInvalidPool is returned when a pool side is not strictly positive.
	ErrInvalidPool = errors.New("cpmm: pool quantities must be positive")

	// ErrInvalidWeight is returned when p is outside (0, 1).
	ErrInvalidWeight = errors.New("cpmm: weight p must be in (0, 1)")

	// ErrFixedPOnly is returned by fixed-p helpers called on a weighted pool.
	ErrFixedPOnly = errors.New("cpmm: operation requires p = 0.5")
)

// State is the pricing state of one pool.
type State struct {
	Pool model.Pool
	P    float64
}

// Validate checks the pool invariants.
func (s State) Validate() error {
	if !(s.Pool.YES > 0) || !(s.Pool.NO > 0) {
		return fmt.Errorf("%w: got {YES: %v, NO: %v}", ErrInvalidPool, s.Pool.YES, s.Pool.NO)
	}
	if !(s.P > 0 && s.P < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidWeight, s.P)
	}
	return nil
}

// Probability returns the YES probability of pool at weight p.
func Probability(pool model.Pool, p float64) float64 {
	return p * pool.NO / ((1-p)*pool.YES + p*pool.NO)
}

// Prob is Probability on a State.
func (s State) Prob() float64 {
	return Probability(s.Pool, s.P)
}

// OutcomeProb returns the probability of outcome o.
func OutcomeProb(prob float64, o model.Outcome) float64 {
	if o == model.OutcomeNo {
		return 1 - prob
	}
	return prob
}

// Shares computes the shares bet buys of outcome, before any liquidity fee:
//
//	YES: y + b - (k * (b+n)^(p-1))^(1/p)
//	NO:  n + b - (k * (b+y)^(-p))^(1/(1-p))
func Shares(pool model.Pool, p, bet float64, outcome model.Outcome) float64 {
	if bet == 0 {
		return 0
	}
	y, n := pool.YES, pool.NO
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == model.OutcomeYes {
		return y + bet - math.Pow(k*math.Pow(bet+n, p-1), 1/p)
	}
	return n + bet - math.Pow(k*math.Pow(bet+y, -p), 1/(1-p))
}

// Purchase is the result of buying from the pool.
type Purchase struct {
	Shares float64
	State  State
	Fees   model.Fees
}

// Buy spends bet on outcome, charging taker fees unless freeFees is set.
// The liquidity share of the fee is added back to the pool.
func Buy(s State, bet float64, outcome model.Outcome, freeFees bool) Purchase {
	remaining, fees := bet, model.NoFees
	if !freeFees {
		remaining, _, fees = Fees(s, bet, outcome)
	}

	shares := Shares(s.Pool, s.P, remaining, outcome)
	y, n := s.Pool.YES, s.Pool.NO

	var post model.Pool
	if outcome == model.OutcomeYes {
		post = model.Pool{YES: y - shares + remaining, NO: n + remaining}
	} else {
		post = model.Pool{YES: y + remaining, NO: n - shares + remaining}
	}

	next, _ := AddLiquidity(post, s.P, fees.LiquidityFee)
	return Purchase{Shares: shares, State: next, Fees: fees}
}

// ProbAfterBet returns the YES probability after buying bet of outcome.
func ProbAfterBet(s State, bet float64, outcome model.Outcome) float64 {
	return Buy(s, bet, outcome, false).State.Prob()
}

// AmountToProb returns the amount (before fees) of outcome that moves the
// pool's YES probability to prob. Returns +Inf when prob is not strictly
// inside (0, 1).
func AmountToProb(s State, prob float64, outcome model.Outcome) float64 {
	if prob <= 0 || prob >= 1 || math.IsNaN(prob) {
		return math.Inf(1)
	}
	if outcome == model.OutcomeNo {
		prob = 1 - prob
	}

	y, n, p := s.Pool.YES, s.Pool.NO, s.P
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == model.OutcomeYes {
		r := (p * (prob - 1)) / ((p - 1) * prob)
		return math.Pow(r, -p) * (k - n*math.Pow(r, p))
	}
	r := ((1 - p) * (prob - 1)) / (-p * prob)
	return math.Pow(r, p-1) * (k - y*math.Pow(r, 1-p))
}

// AmountToProbIncludingFees is AmountToProb plus the taker fee on the
// resulting shares.
func AmountToProbIncludingFees(s State, prob float64, outcome model.Outcome) float64 {
	amount := AmountToProb(s, prob, outcome)
	shares := Shares(s.Pool, s.P, amount, outcome)
	return amount + TakerFee(shares, amount/shares)
}

// AmountToBuySharesFixedP inverts Shares for a p = 0.5 pool:
//
//	YES: (s - y - n + sqrt(4*n*s + (y+n-s)^2)) / 2
//	NO:  (s - y - n + sqrt(4*y*s + (y+n-s)^2)) / 2
func AmountToBuySharesFixedP(s State, shares float64, outcome model.Outcome) (float64, error) {
	if !numeric.FloatingEqual(s.P, FixedP) {
		return 0, fmt.Errorf("%w: got p=%v", ErrFixedPOnly, s.P)
	}
	y, n := s.Pool.YES, s.Pool.NO
	other := n
	if outcome == model.OutcomeNo {
		other = y
	}
	d := y + n - shares
	return (shares - y - n + math.Sqrt(4*other*shares+d*d)) / 2, nil
}
