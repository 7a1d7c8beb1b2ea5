package engine

import (
	"fmt"
	"log"
	"math/rand"
)

// ExposureStats are an item's lifetime exposure counters. Counters only grow;
// resets are an external maintenance concern.
type ExposureStats struct {
	TimesConsidered   int64 `json:"times_considered"`
	TimesAdmitted     int64 `json:"times_admitted"`
	TimesAdministered int64 `json:"times_administered"`
}

// ExposureStore is the injected home for exposure counters, the one piece of
// state shared across concurrent sessions. Increments must be atomic; the
// read-then-decide path is deliberately not transactional — an item briefly
// exceeding its target rate under contention is an accepted inaccuracy.
type ExposureStore interface {
	Get(itemID int64) (ExposureStats, error)
	IncrementConsidered(itemID int64) error
	IncrementAdmitted(itemID int64) error
	IncrementAdministered(itemID int64) error
}

// ExposureController implements Sympson-Hetter probabilistic exposure
// control: a candidate item is admitted with probability
// min(1, targetRate/observedRate), where the observed rate is lifetime
// administrations over lifetime considerations. High-information items would
// otherwise win every selection and burn out.
type ExposureController struct {
	store ExposureStore
	rng   *rand.Rand
}

func NewExposureController(store ExposureStore, rng *rand.Rand) *ExposureController {
	return &ExposureController{store: store, rng: rng}
}

// IsEligible decides whether the item may enter the scoring pool this call.
// Every consultation increments the considered counter, admitted or not, so
// observed rates converge over the bank's lifetime. Items with no exposure
// history are always admitted: cold start favors fresh items.
func (c *ExposureController) IsEligible(itemID int64, targetRate float64) (bool, error) {
	if targetRate <= 0 || targetRate > 1 {
		return false, fmt.Errorf("exposure: target rate %v for item %d must be in (0, 1]", targetRate, itemID)
	}

	stats, err := c.store.Get(itemID)
	if err != nil {
		return false, fmt.Errorf("exposure: read stats for item %d: %w", itemID, err)
	}
	if err := c.store.IncrementConsidered(itemID); err != nil {
		return false, fmt.Errorf("exposure: increment considered for item %d: %w", itemID, err)
	}

	if stats.TimesConsidered == 0 || stats.TimesAdministered == 0 {
		c.markAdmitted(itemID)
		return true, nil
	}

	observed := float64(stats.TimesAdministered) / float64(stats.TimesConsidered)
	admitProb := targetRate / observed
	if admitProb >= 1 {
		c.markAdmitted(itemID)
		return true, nil
	}

	if c.rng.Float64() < admitProb {
		c.markAdmitted(itemID)
		return true, nil
	}
	return false, nil
}

// markAdmitted bumps the admitted counter. The admission decision stands even
// if the bookkeeping write fails; the counter is advisory.
func (c *ExposureController) markAdmitted(itemID int64) {
	if err := c.store.IncrementAdmitted(itemID); err != nil {
		log.Printf("WARN: [exposure] admitted count for item %d not recorded: %v", itemID, err)
	}
}
