package engine

import (
	"fmt"
	"log"
	"math"

	"github.com/adaptest/backend/internal/irt"
	"github.com/adaptest/backend/internal/models"
)

// Selection is the outcome of one item pick. InfoScore and PolicyScore are
// the normalized component scores that went into the blend; for warm-up draws
// both are zero.
type Selection struct {
	Item        models.Item
	Strategy    Strategy
	Score       float64
	InfoScore   float64
	PolicyScore float64
	Rationale   models.SelectionRationale
}

// SelectionInput is everything a selection needs, supplied by the caller as a
// snapshot. Administered is mutated: the chosen item is marked so it cannot
// repeat within the session.
type SelectionInput struct {
	Items             []models.Item
	Administered      map[int64]bool
	Context           LearnerContext
	Policy            *PolicyState
	SessionResponses  int
	LifetimeResponses int
}

// SelectNext picks the single best next item, or returns nil when no
// eligible candidate remains (the caller treats that as a stopping
// condition). Exposure administration counters are NOT touched here; they
// move at administration time so aborted-before-shown selections don't
// penalize an item.
func (e *Engine) SelectNext(in SelectionInput) (*Selection, error) {
	candidates, err := e.eligibleCandidates(in)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	strategy := e.cfg.Strategy
	if strategy == StrategyAdaptive && in.SessionResponses < e.cfg.WarmupItems {
		strategy = StrategyWarmup
	}

	var sel *Selection
	switch strategy {
	case StrategyWarmup:
		sel = e.selectWarmup(candidates)
	case StrategyBaseline:
		sel = e.selectScored(candidates, in, 0)
	case StrategyAdaptive:
		w := e.cfg.Weights.PolicyWeight(in.LifetimeResponses)
		sel = e.selectScored(candidates, in, w)
	default:
		return nil, fmt.Errorf("selector: unknown strategy %q", strategy)
	}
	if sel == nil {
		return nil, nil
	}

	in.Administered[sel.Item.ID] = true
	return sel, nil
}

// eligibleCandidates filters the bank to active items not yet administered in
// this session that pass exposure control.
func (e *Engine) eligibleCandidates(in SelectionInput) ([]models.Item, error) {
	var out []models.Item
	for _, it := range in.Items {
		if !it.Active || in.Administered[it.ID] {
			continue
		}
		if err := irt.ValidateParams(it.Discrimination, it.Difficulty, it.Guessing); err != nil {
			// Malformed calibration is a bank defect; surface it loudly.
			return nil, fmt.Errorf("selector: item %d: %w", it.ID, err)
		}
		ok, err := e.exposure.IsEligible(it.ID, it.TargetExposureRate)
		if err != nil {
			// Exposure store trouble shouldn't stall a session; admit and warn.
			log.Printf("WARN: [selector] exposure check for item %d failed, admitting: %v", it.ID, err)
			ok = true
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// selectWarmup draws uniformly from the medium-difficulty band. Early theta
// estimates are too unstable to make information-based selection meaningful.
func (e *Engine) selectWarmup(candidates []models.Item) *Selection {
	var band []models.Item
	for _, it := range candidates {
		if math.Abs(it.Difficulty) <= e.cfg.WarmupBand {
			band = append(band, it)
		}
	}
	if len(band) == 0 {
		band = candidates
	}

	it := band[e.rng.Intn(len(band))]
	return &Selection{
		Item:     it,
		Strategy: StrategyWarmup,
		Rationale: models.SelectionRationale{
			Category:      "warmup",
			Justification: "drawn from the medium-difficulty band while the ability estimate settles",
		},
	}
}

// selectScored blends the psychometric information criterion with the
// learned policy's UCB at weight w and takes the maximum. Ties break
// deterministically on lowest item ID so selection is reproducible for a
// fixed state.
func (e *Engine) selectScored(candidates []models.Item, in SelectionInput, w float64) *Selection {
	var best *Selection
	for _, it := range candidates {
		info := rawInformation(in.Context.Theta, it)
		infoScore := info / (info + 1)

		policyScore := 0.0
		if w > 0 && in.Policy != nil {
			x := FeatureVector(in.Context, it)
			ucb, err := in.Policy.Score(x, e.cfg.ExplorationAlpha)
			if err != nil {
				log.Printf("WARN: [selector] policy score for item %d failed, using information only: %v", it.ID, err)
			} else {
				// Squash the unbounded UCB so the blend weight keeps its meaning.
				policyScore = 1 / (1 + math.Exp(-ucb))
			}
		}

		score := (1-w)*infoScore + w*policyScore
		if best == nil || score > best.Score || (score == best.Score && it.ID < best.Item.ID) {
			best = &Selection{
				Item:        it,
				Strategy:    e.cfg.Strategy,
				Score:       score,
				InfoScore:   infoScore,
				PolicyScore: policyScore,
			}
		}
	}
	if best == nil {
		return nil
	}
	best.Rationale = scoredRationale(best, w)
	return best
}

func scoredRationale(sel *Selection, w float64) models.SelectionRationale {
	infoPart := (1 - w) * sel.InfoScore
	policyPart := w * sel.PolicyScore
	if infoPart >= policyPart {
		return models.SelectionRationale{
			Category: "psychometric",
			Justification: fmt.Sprintf(
				"item measures current ability most precisely (information %.2f vs policy %.2f)",
				infoPart, policyPart),
		}
	}
	return models.SelectionRationale{
		Category: "learned",
		Justification: fmt.Sprintf(
			"personalized policy favors this item for you (policy %.2f vs information %.2f)",
			policyPart, infoPart),
	}
}

// rawInformation is FisherInformation for items already validated by
// eligibleCandidates.
func rawInformation(theta float64, it models.Item) float64 {
	info, err := irt.FisherInformation(theta, it.Discrimination, it.Difficulty, it.Guessing)
	if err != nil {
		return 0
	}
	return info
}
