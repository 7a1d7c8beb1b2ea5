package engine

import (
	"math"

	"github.com/adaptest/backend/internal/models"
)

// FeatureDim is the fixed width of the policy's feature vector. Policy state
// is persisted per learner at this dimensionality; changing it invalidates
// stored models.
const FeatureDim = 10

// LearnerContext is the learner-side half of a feature vector, assembled by
// the caller from the ability state and recent history.
type LearnerContext struct {
	Theta          float64
	SEM            float64 // +Inf allowed
	TopicMastery   float64 // lifetime accuracy on the session topic, [0,1]
	RecentAccuracy float64 // accuracy over the trailing window, [0,1]
	AvgLatency     float64 // mean response latency in seconds, 0 if unknown
}

// FeatureVector builds the fixed-width context for one (learner, item) pair.
// Components are individually squashed to roughly [-1, 1] so no single one
// dominates the ridge regression.
func FeatureVector(ctx LearnerContext, it models.Item) []float64 {
	sem := ctx.SEM
	if math.IsInf(sem, 1) || math.IsNaN(sem) || sem > 2 {
		sem = 2
	}

	latency := 0.0
	if ctx.AvgLatency > 0 {
		// ~0 for instant answers, ->1 for very slow ones.
		latency = ctx.AvgLatency / (ctx.AvgLatency + 30)
	}

	return []float64{
		1, // bias
		ctx.Theta / 3,
		sem / 2,
		ctx.TopicMastery,
		ctx.RecentAccuracy,
		latency,
		it.Discrimination / 2.5,
		it.Difficulty / 3,
		it.Guessing,
		(ctx.Theta - it.Difficulty) / 3, // proximity of item to current ability
	}
}
