package irt

import (
	"fmt"
	"math"
)

// ThetaBound is the stability clamp on ability estimates. Pathological
// response patterns (all correct, all incorrect) would otherwise push the
// optimum to +/-Inf; estimates are pinned to [-ThetaBound, ThetaBound].
const ThetaBound = 3.0

// Response is one answered item tagged with its calibrated parameters.
// Skipped items are recorded as incorrect before they reach the estimator.
type Response struct {
	Discrimination float64
	Difficulty     float64
	Guessing       float64
	Correct        bool
}

// Estimate is the output of an ability estimator. SEM is +Inf when the
// history is empty. Converged=false means the iteration cap was hit and the
// last iterate was returned; it is a warning, not an error.
type Estimate struct {
	Theta      float64
	SEM        float64
	Converged  bool
	Iterations int
}

// AbilityEstimator abstracts over the batch MAP estimator and the streaming
// variant; callers are agnostic to which one they hold.
type AbilityEstimator interface {
	Estimate(responses []Response) (Estimate, error)
}

// Estimator computes a maximum a posteriori ability estimate under a Normal
// prior, maximizing the 3PL log-posterior by Fisher-scoring Newton steps.
// The batch result depends only on the response multiset, not its order.
type Estimator struct {
	PriorMean     float64
	PriorSD       float64
	MaxIterations int
	Tolerance     float64
}

func NewEstimator() *Estimator {
	return &Estimator{
		PriorMean:     0,
		PriorSD:       1,
		MaxIterations: 50,
		Tolerance:     1e-4,
	}
}

func (e *Estimator) Estimate(responses []Response) (Estimate, error) {
	if err := e.validate(responses); err != nil {
		return Estimate{}, err
	}

	priorPrecision := 1 / (e.PriorSD * e.PriorSD)

	if len(responses) == 0 {
		return Estimate{Theta: clampTheta(e.PriorMean), SEM: math.Inf(1), Converged: true}, nil
	}

	theta := clampTheta(e.PriorMean)
	converged := false
	iters := 0

	for ; iters < e.MaxIterations; iters++ {
		// Score: d/dtheta of log posterior. For 3PL the per-item term is
		// a * (p-c)/(p(1-c)) * (y-p).
		grad := -(theta - e.PriorMean) * priorPrecision
		info := priorPrecision
		for _, r := range responses {
			p := probability(theta, r.Discrimination, r.Difficulty, r.Guessing)
			y := 0.0
			if r.Correct {
				y = 1.0
			}
			grad += r.Discrimination * (p - r.Guessing) / (p * (1 - r.Guessing)) * (y - p)
			info += information(theta, r.Discrimination, r.Difficulty, r.Guessing)
		}

		// Fisher scoring: expected information is always positive, so the
		// step direction is well defined even far from the optimum.
		step := grad / info
		if step > 1 {
			step = 1
		} else if step < -1 {
			step = -1
		}

		next := clampTheta(theta + step)
		delta := math.Abs(next - theta)
		theta = next
		if delta < e.Tolerance {
			converged = true
			iters++
			break
		}
	}

	return Estimate{
		Theta:      theta,
		SEM:        e.semAt(theta, responses, priorPrecision),
		Converged:  converged,
		Iterations: iters,
	}, nil
}

func (e *Estimator) semAt(theta float64, responses []Response, priorPrecision float64) float64 {
	total := priorPrecision
	for _, r := range responses {
		total += information(theta, r.Discrimination, r.Difficulty, r.Guessing)
	}
	return 1 / math.Sqrt(total)
}

func (e *Estimator) validate(responses []Response) error {
	if e.PriorSD <= 0 {
		return fmt.Errorf("estimator: prior SD %v must be > 0", e.PriorSD)
	}
	if e.MaxIterations <= 0 {
		return fmt.Errorf("estimator: max iterations %d must be > 0", e.MaxIterations)
	}
	for i, r := range responses {
		if err := ValidateParams(r.Discrimination, r.Difficulty, r.Guessing); err != nil {
			return fmt.Errorf("response %d: %w", i, err)
		}
	}
	return nil
}

func clampTheta(theta float64) float64 {
	if theta < -ThetaBound {
		return -ThetaBound
	}
	if theta > ThetaBound {
		return ThetaBound
	}
	return theta
}
