package engine

import "fmt"

// WeightSchedule controls how much of the blended selection score comes from
// the learned policy versus the psychometric information criterion. Early in
// a learner's history the policy has seen too little to trust, so the
// psychometric score dominates; as responses accumulate the policy's share
// grows through three phases, linearly within each, capped at MaxWeight.
//
// The phase boundaries and targets were tuned offline against simulated
// cohorts; treat them as configuration, not constants of nature.
type WeightSchedule struct {
	Initial      float64
	Phase1End    int
	Phase2End    int
	Phase1Target float64
	Phase2Target float64
	MaxWeight    float64
}

func DefaultWeightSchedule() WeightSchedule {
	return WeightSchedule{
		Initial:      0.50,
		Phase1End:    10,
		Phase2End:    20,
		Phase1Target: 0.65,
		Phase2Target: 0.85,
		MaxWeight:    0.90,
	}
}

// LoadWeightSchedule reads HYBRID_* environment overrides on top of the
// defaults.
func LoadWeightSchedule() (WeightSchedule, error) {
	ws := DefaultWeightSchedule()

	var err error
	if ws.Initial, err = floatEnv("HYBRID_INITIAL_WEIGHT", ws.Initial); err != nil {
		return WeightSchedule{}, err
	}
	if ws.Phase1End, err = intEnv("HYBRID_PHASE1_END", ws.Phase1End); err != nil {
		return WeightSchedule{}, err
	}
	if ws.Phase2End, err = intEnv("HYBRID_PHASE2_END", ws.Phase2End); err != nil {
		return WeightSchedule{}, err
	}
	if ws.Phase1Target, err = floatEnv("HYBRID_PHASE1_TARGET", ws.Phase1Target); err != nil {
		return WeightSchedule{}, err
	}
	if ws.Phase2Target, err = floatEnv("HYBRID_PHASE2_TARGET", ws.Phase2Target); err != nil {
		return WeightSchedule{}, err
	}
	if ws.MaxWeight, err = floatEnv("HYBRID_MAX_WEIGHT", ws.MaxWeight); err != nil {
		return WeightSchedule{}, err
	}
	return ws, nil
}

func (ws WeightSchedule) Validate() error {
	for name, w := range map[string]float64{
		"initial":       ws.Initial,
		"phase1 target": ws.Phase1Target,
		"phase2 target": ws.Phase2Target,
		"max":           ws.MaxWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight schedule: %s weight %v must be in [0, 1]", name, w)
		}
	}
	if ws.Phase1End <= 0 {
		return fmt.Errorf("weight schedule: phase1 end %d must be > 0", ws.Phase1End)
	}
	if ws.Phase2End <= ws.Phase1End {
		return fmt.Errorf("weight schedule: phase2 end %d must be > phase1 end %d", ws.Phase2End, ws.Phase1End)
	}
	if !(ws.Initial <= ws.Phase1Target && ws.Phase1Target <= ws.Phase2Target && ws.Phase2Target <= ws.MaxWeight) {
		return fmt.Errorf("weight schedule: targets must be non-decreasing (%.2f, %.2f, %.2f, %.2f)",
			ws.Initial, ws.Phase1Target, ws.Phase2Target, ws.MaxWeight)
	}
	return nil
}

// PolicyWeight returns the learned policy's share of the blended score after
// the learner's nth response (lifetime count, not per-session).
func (ws WeightSchedule) PolicyWeight(responseCount int) float64 {
	var w float64
	switch {
	case responseCount <= 0:
		w = ws.Initial
	case responseCount < ws.Phase1End:
		w = lerp(ws.Initial, ws.Phase1Target, float64(responseCount)/float64(ws.Phase1End))
	case responseCount < ws.Phase2End:
		span := float64(ws.Phase2End - ws.Phase1End)
		w = lerp(ws.Phase1Target, ws.Phase2Target, float64(responseCount-ws.Phase1End)/span)
	default:
		// Past phase 2 the weight keeps ramping toward the cap over one more
		// phase-2-sized window.
		span := float64(ws.Phase2End - ws.Phase1End)
		t := float64(responseCount-ws.Phase2End) / span
		if t > 1 {
			t = 1
		}
		w = lerp(ws.Phase2Target, ws.MaxWeight, t)
	}
	if w > ws.MaxWeight {
		w = ws.MaxWeight
	}
	return w
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}
