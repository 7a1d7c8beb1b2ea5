package irt

import (
	"fmt"
	"math"
)

// IncrementalEstimator is the streaming alternative to the batch MAP
// estimator: one bounded update per response, folding the ordered history
// left to right. Cheaper than re-optimizing the full likelihood and close
// enough for serving; the batch estimator remains the reference.
//
// Each response nudges theta by stepSize(n) * a * (y - p), a stochastic
// approximation of the 3PL score function. Step size shrinks as the history
// grows so mature estimates stay stable.
type IncrementalEstimator struct {
	PriorMean float64
	PriorSD   float64
}

func NewIncrementalEstimator() *IncrementalEstimator {
	return &IncrementalEstimator{PriorMean: 0, PriorSD: 1}
}

// stepSize returns the adjustment strength for the nth response (0-based).
// New learners converge fast; mature ones move in small steps.
func stepSize(n int) float64 {
	if n < 10 {
		return 0.6
	}
	if n < 30 {
		return 0.3
	}
	return 0.15
}

func (e *IncrementalEstimator) Estimate(responses []Response) (Estimate, error) {
	if e.PriorSD <= 0 {
		return Estimate{}, fmt.Errorf("estimator: prior SD %v must be > 0", e.PriorSD)
	}
	for i, r := range responses {
		if err := ValidateParams(r.Discrimination, r.Difficulty, r.Guessing); err != nil {
			return Estimate{}, fmt.Errorf("response %d: %w", i, err)
		}
	}

	priorPrecision := 1 / (e.PriorSD * e.PriorSD)
	theta := clampTheta(e.PriorMean)

	if len(responses) == 0 {
		return Estimate{Theta: theta, SEM: math.Inf(1), Converged: true}, nil
	}

	for n, r := range responses {
		p := probability(theta, r.Discrimination, r.Difficulty, r.Guessing)
		y := 0.0
		if r.Correct {
			y = 1.0
		}
		theta = clampTheta(theta + stepSize(n)*r.Discrimination*(y-p))
	}

	total := priorPrecision
	for _, r := range responses {
		total += information(theta, r.Discrimination, r.Difficulty, r.Guessing)
	}

	return Estimate{
		Theta:      theta,
		SEM:        1 / math.Sqrt(total),
		Converged:  true,
		Iterations: len(responses),
	}, nil
}
