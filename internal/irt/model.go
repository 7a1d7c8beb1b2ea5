// Package irt implements the three-parameter logistic (3PL) item-response
// model and the latent ability estimator built on top of it. Everything here
// is pure computation: no state, no I/O.
package irt

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidItemParams signals out-of-range calibration parameters. These are
// configuration defects and must be caught at load time, not mid-session.
var ErrInvalidItemParams = errors.New("invalid item parameters")

// ValidateParams checks the 3PL calibration constraints: a > 0, c in [0, 1).
func ValidateParams(a, b, c float64) error {
	if math.IsNaN(a) || math.IsNaN(b) || math.IsNaN(c) {
		return fmt.Errorf("%w: NaN parameter (a=%v b=%v c=%v)", ErrInvalidItemParams, a, b, c)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) || math.IsInf(c, 0) {
		return fmt.Errorf("%w: infinite parameter (a=%v b=%v c=%v)", ErrInvalidItemParams, a, b, c)
	}
	if a <= 0 {
		return fmt.Errorf("%w: discrimination a=%v must be > 0", ErrInvalidItemParams, a)
	}
	if c < 0 || c >= 1 {
		return fmt.Errorf("%w: guessing c=%v must be in [0, 1)", ErrInvalidItemParams, c)
	}
	return nil
}

// ProbabilityCorrect returns the 3PL probability of a correct response:
//
//	p = c + (1-c) / (1 + exp(-a(theta-b)))
//
// The result lies in (c, 1) for finite inputs.
func ProbabilityCorrect(theta, a, b, c float64) (float64, error) {
	if err := ValidateParams(a, b, c); err != nil {
		return 0, err
	}
	if math.IsNaN(theta) {
		return 0, fmt.Errorf("%w: theta is NaN", ErrInvalidItemParams)
	}
	return probability(theta, a, b, c), nil
}

// maxLogit bounds the exponent in the logistic. Beyond it math.Exp overflows
// and p collapses onto the asymptote exactly, which breaks the p in (c, 1)
// invariant downstream (information becomes NaN, the estimator's gradient
// divides by zero).
const maxLogit = 36.0

// probability is the unchecked 3PL form for callers that have already
// validated parameters (the estimator's inner loop).
func probability(theta, a, b, c float64) float64 {
	z := a * (theta - b)
	if z > maxLogit {
		z = maxLogit
	} else if z < -maxLogit {
		z = -maxLogit
	}
	return c + (1-c)/(1+math.Exp(-z))
}

// FisherInformation returns the 3PL item information at theta:
//
//	I = a^2 * (q/p) * ((p-c)/(1-c))^2
//
// Information is always >= 0 and peaks near theta = b.
func FisherInformation(theta, a, b, c float64) (float64, error) {
	if err := ValidateParams(a, b, c); err != nil {
		return 0, err
	}
	if math.IsNaN(theta) {
		return 0, fmt.Errorf("%w: theta is NaN", ErrInvalidItemParams)
	}
	return information(theta, a, b, c), nil
}

func information(theta, a, b, c float64) float64 {
	p := probability(theta, a, b, c)
	q := 1 - p
	ratio := (p - c) / (1 - c)
	return a * a * (q / p) * ratio * ratio
}
