// Package numeric holds the float comparison and root-finding helpers shared
// by every pricing and settlement check in the engine.
//
// All probability and pool math in the engine is done in float64. Equality is
// never tested with ==; use FloatingEqual and friends so that rounding noise
// from pow/sqrt never flips a fill, redemption, or sum-to-one check.
package numeric

import (
	"errors"
	"math"
)

// Epsilon is the absolute tolerance used by every floating comparison.
const Epsilon = 1e-9

// MaxSearchIterations bounds BinarySearch.
const MaxSearchIterations = 100000

// ErrNoConvergence is returned when BinarySearch exhausts its iteration budget.
var ErrNoConvergence = errors.New("numeric: binary search did not converge")

// FloatingEqual reports whether a and b differ by less than Epsilon.
func FloatingEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// FloatingGreaterEqual reports a >= b within Epsilon.
func FloatingGreaterEqual(a, b float64) bool {
	return a+Epsilon >= b
}

// FloatingLesserEqual reports a <= b within Epsilon.
func FloatingLesserEqual(a, b float64) bool {
	return a-Epsilon <= b
}

// IsFinite reports whether f is neither NaN nor ±Inf.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// BinarySearch finds x in [min, max] where comparator(x) crosses zero.
// comparator must be monotonically increasing in x: a positive result moves
// the upper bound down, anything else moves the lower bound up.
//
// The search ends when comparator returns exactly 0 or when the midpoint can
// no longer move (float resolution reached), and returns the last midpoint.
func BinarySearch(min, max float64, comparator func(x float64) float64) (float64, error) {
	var mid float64
	for i := 0; i < MaxSearchIterations; i++ {
		mid = min + (max-min)/2

		// Float resolution reached.
		if mid == min || mid == max {
			return mid, nil
		}

		c := comparator(mid)
		switch {
		case c == 0:
			return mid, nil
		case c > 0:
			max = mid
		default:
			min = mid
		}
	}
	return mid, ErrNoConvergence
}
