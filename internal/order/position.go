package order

import (
	"errors"
	"math"
)

// Step is the gap left between positions assigned at the ends of a sequence and
// by Normalize.
const Step = 1024.0

var ErrNoSpace = errors.New("no space between positions")

// Bound is an optional position limit. The zero value is open-ended.
type Bound struct {
	Value float64
	Set   bool
}

func At(v float64) Bound { return Bound{Value: v, Set: true} }

// Between returns a position strictly between lower and upper.
// Open bounds extend by Step; closed bounds use the midpoint.
func Between(lower, upper Bound) (float64, error) {
	switch {
	case !lower.Set && !upper.Set:
		return Step, nil
	case !upper.Set:
		p := math.Floor(lower.Value/Step)*Step + Step
		if !(p > lower.Value) || math.IsInf(p, 0) {
			return 0, ErrNoSpace
		}
		return p, nil
	case !lower.Set:
		p := math.Ceil(upper.Value/Step)*Step - Step
		if !(p < upper.Value) || math.IsInf(p, 0) {
			return 0, ErrNoSpace
		}
		return p, nil
	}
	if !(lower.Value < upper.Value) {
		return 0, errors.New("Between requires lower < upper")
	}
	mid := lower.Value + (upper.Value-lower.Value)/2
	// Adjacent floats leave nothing in between.
	if !(lower.Value < mid && mid < upper.Value) {
		return 0, ErrNoSpace
	}
	return mid, nil
}

func After(a float64) (float64, error)  { return Between(At(a), Bound{}) }
func Before(b float64) (float64, error) { return Between(Bound{}, At(b)) }
func Initial() float64                  { return Step }

// BetweenUnique returns a position between lower and upper that is not already in existing.
func BetweenUnique(existing map[float64]bool, lower, upper Bound) (float64, error) {
	cur := lower
	for i := 0; i < 64; i++ {
		p, err := Between(cur, upper)
		if err != nil {
			return 0, err
		}
		if !existing[p] {
			return p, nil
		}
		// Collision: tighten the lower bound and try again.
		cur = At(p)
	}
	return 0, errors.New("unable to find unique position")
}
