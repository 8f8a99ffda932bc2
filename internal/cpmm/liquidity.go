package cpmm

import (
	"errors"
	"math"

	"github.com/atmx/bet-engine/internal/model"
)

// ErrBelowMinimumLiquidity is returned when a withdrawal would leave either
// side of the pool under MinimumLiquidity.
var ErrBelowMinimumLiquidity = errors.New("cpmm: withdrawal leaves pool below minimum liquidity")

// Liquidity returns k = YES^p * NO^(1-p).
func Liquidity(pool model.Pool, p float64) float64 {
	return math.Pow(pool.YES, p) * math.Pow(pool.NO, 1-p)
}

// AddLiquidity adds amount to both sides of the pool and re-weights p so the
// probability is unchanged. It returns the new state and the liquidity gained.
//
//	newP = prob*(amount+y) / (amount - n*(prob-1) + prob*y)
func AddLiquidity(pool model.Pool, p, amount float64) (State, float64) {
	if amount == 0 {
		return State{Pool: pool, P: p}, 0
	}
	prob := Probability(pool, p)
	y, n := pool.YES, pool.NO

	newP := prob * (amount + y) / (amount - n*(prob-1) + prob*y)
	newPool := model.Pool{YES: y + amount, NO: n + amount}

	gained := Liquidity(newPool, newP) - Liquidity(pool, newP)
	return State{Pool: newPool, P: newP}, gained
}

// RemoveLiquidity withdraws amount from both sides. The resulting state is
// returned even when it violates MinimumLiquidity, together with the error.
func RemoveLiquidity(pool model.Pool, p, amount float64) (State, float64, error) {
	next, gained := AddLiquidity(pool, p, -amount)
	if next.Pool.YES < MinimumLiquidity || next.Pool.NO < MinimumLiquidity {
		return next, gained, ErrBelowMinimumLiquidity
	}
	return next, gained, nil
}

// MaximumRemovableLiquidity is the largest amount RemoveLiquidity accepts.
func MaximumRemovableLiquidity(pool model.Pool) float64 {
	return math.Max(pool.Min()-MinimumLiquidity, 0)
}

// AddLiquidityFixedP adds amount to a p = 0.5 pool while keeping its
// probability, discarding whichever shares would move it. It returns the
// new pool and the shares thrown away.
func AddLiquidityFixedP(pool model.Pool, amount float64) (model.Pool, model.Pool) {
	prob := Probability(pool, FixedP)
	next := pool
	var thrown model.Pool

	if prob < 0.5 {
		next.YES += amount
		next.NO += prob / (1 - prob) * amount
		thrown.NO = amount - prob/(1-prob)*amount
	} else {
		next.NO += amount
		next.YES += (1 - prob) / prob * amount
		thrown.YES = amount - (1-prob)/prob*amount
	}
	return next, thrown
}

// InitialAnswerPools returns the pools for n answers of a sum-to-one market
// seeded with total liquidity: every answer starts at prob 1/n.
func InitialAnswerPools(n int, total float64) []model.Pool {
	if n <= 0 {
		return nil
	}
	// prob = NO/(YES+NO) at p = 0.5, so NO/YES = prob/(1-prob) = 1/(n-1).
	perAnswer := total / float64(n)
	pools := make([]model.Pool, n)
	for i := range pools {
		if n == 1 {
			pools[i] = model.Pool{YES: perAnswer, NO: perAnswer}
			continue
		}
		pools[i] = model.Pool{YES: perAnswer, NO: perAnswer / float64(n-1)}
	}
	return pools
}
