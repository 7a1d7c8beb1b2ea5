package engine

import (
	"fmt"
	"math"
)

// PolicyState is one learner's contextual bandit model: a ridge-regularized
// linear reward predictor held in inverse-design-matrix form (LinUCB). It is
// created lazily on first contact, updated once per administered response,
// and persists across sessions so the policy specializes to the individual.
//
// Fields are exported for JSON persistence.
type PolicyState struct {
	Dim     int         `json:"dim"`
	AInv    [][]float64 `json:"a_inv"`
	BVec    []float64   `json:"b_vec"`
	Updates int64       `json:"updates"`
}

// NewPolicyState returns a fresh model: AInv = I/lambda, zero rewards.
func NewPolicyState(dim int, lambda float64) *PolicyState {
	ainv := make([][]float64, dim)
	for i := range ainv {
		ainv[i] = make([]float64, dim)
		ainv[i][i] = 1 / lambda
	}
	return &PolicyState{
		Dim:  dim,
		AInv: ainv,
		BVec: make([]float64, dim),
	}
}

// Valid reports whether the persisted state matches the expected
// dimensionality and is structurally sound.
func (p *PolicyState) Valid() bool {
	if p == nil || p.Dim <= 0 || len(p.AInv) != p.Dim || len(p.BVec) != p.Dim {
		return false
	}
	for _, row := range p.AInv {
		if len(row) != p.Dim {
			return false
		}
	}
	return true
}

// Score returns the UCB for a candidate feature vector: the model's point
// prediction plus alpha times the feature norm under AInv. The bonus is wide
// in unexplored regions of feature space and shrinks as observations
// accumulate there.
func (p *PolicyState) Score(x []float64, alpha float64) (float64, error) {
	if len(x) != p.Dim {
		return 0, fmt.Errorf("policy: feature vector has dim %d, model expects %d", len(x), p.Dim)
	}

	ax := p.mulAInv(x)

	// AInv is symmetric, so x . (AInv b) == b . (AInv x).
	pred := dot(p.BVec, ax)
	variance := dot(x, ax)
	if variance < 0 {
		variance = 0 // float drift
	}
	return pred + alpha*math.Sqrt(variance), nil
}

// Update folds one observed reward into the model with a rank-one
// Sherman-Morrison update: O(d^2), no matrix inversion.
func (p *PolicyState) Update(x []float64, reward float64) error {
	if len(x) != p.Dim {
		return fmt.Errorf("policy: feature vector has dim %d, model expects %d", len(x), p.Dim)
	}

	ax := p.mulAInv(x)
	denom := 1 + dot(x, ax)
	for i := 0; i < p.Dim; i++ {
		for j := 0; j < p.Dim; j++ {
			p.AInv[i][j] -= ax[i] * ax[j] / denom
		}
	}
	for i := 0; i < p.Dim; i++ {
		p.BVec[i] += reward * x[i]
	}
	p.Updates++
	return nil
}

func (p *PolicyState) mulAInv(x []float64) []float64 {
	out := make([]float64, p.Dim)
	for i := 0; i < p.Dim; i++ {
		var sum float64
		for j := 0; j < p.Dim; j++ {
			sum += p.AInv[i][j] * x[j]
		}
		out[i] = sum
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Reward converts an observed outcome into the policy's training signal.
// Correctness alone would teach "items this learner answers right"; blending
// in the administered item's Fisher information teaches "items that resolve
// uncertainty for this learner".
func Reward(correct bool, info float64) float64 {
	correctness := 0.0
	if correct {
		correctness = 1.0
	}
	infoSignal := info / (info + 1) // squash to [0,1)
	return 0.6*correctness + 0.4*infoSignal
}
