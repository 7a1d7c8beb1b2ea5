package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/adaptest/backend/internal/irt"
	"github.com/adaptest/backend/internal/models"
)

// ErrSessionNotContinuing is returned when a response is recorded against a
// session that has already reached a terminal state. Callers must not retry.
var ErrSessionNotContinuing = errors.New("session not continuing")

// ErrDuplicateResponse is returned when a response is recorded for an item
// this session already holds a record for. Each administered item gets exactly
// one record; re-submits would double-count it in the estimation history.
var ErrDuplicateResponse = errors.New("response already recorded for item")

// Engine orchestrates one adaptive session step at a time. It holds no
// per-learner state: every call operates on a caller-supplied Snapshot and
// returns the updated pieces for the caller to commit, so sessions for
// different learners can run fully in parallel.
type Engine struct {
	cfg       Config
	estimator irt.AbilityEstimator
	exposure  *ExposureController
	rng       *rand.Rand
}

func New(cfg Config, store ExposureStore, rng *rand.Rand) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("engine: exposure store is required")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:       cfg,
		estimator: irt.NewEstimator(),
		exposure:  NewExposureController(store, rng),
		rng:       rng,
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Snapshot is the externally materialized state the engine computes over.
// History is the learner's full ordered response history for the session's
// topic, across sessions; Administered holds only this session's items.
type Snapshot struct {
	Session      models.Session
	History      []models.ResponseRecord
	Administered map[int64]bool
	Policy       *PolicyState
}

// ResponseEvent is one "record response" call from the caller.
type ResponseEvent struct {
	Item           models.Item
	Correct        bool
	Skipped        bool
	LatencySeconds *float64
	At             time.Time
}

// AdvanceResult carries everything the caller must persist after one step.
// Next is nil when the session stopped.
type AdvanceResult struct {
	Record   models.ResponseRecord
	Ability  irt.Estimate
	Policy   *PolicyState
	Session  models.Session
	Next     *Selection
	Warnings []string
}

// RecordResponseAndAdvance runs the full per-response pipeline: ability
// update, policy update, exposure bookkeeping, stopping check, and (if the
// session continues) selection of the next item from bank.
func (e *Engine) RecordResponseAndAdvance(snap *Snapshot, ev ResponseEvent, bank []models.Item) (*AdvanceResult, error) {
	if snap.Session.Status != models.SessionContinuing {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotContinuing, snap.Session.ID, snap.Session.Status)
	}
	if err := irt.ValidateParams(ev.Item.Discrimination, ev.Item.Difficulty, ev.Item.Guessing); err != nil {
		return nil, fmt.Errorf("record response: item %d: %w", ev.Item.ID, err)
	}
	for _, r := range snap.History {
		if r.SessionID == snap.Session.ID && r.ItemID == ev.Item.ID {
			return nil, fmt.Errorf("%w: item %d in session %s", ErrDuplicateResponse, ev.Item.ID, snap.Session.ID)
		}
	}

	var warnings []string

	// Skipped outcomes count as incorrect for estimation.
	correct := ev.Correct && !ev.Skipped

	// Theta in effect at administration time tags the record and feeds the
	// policy features, so estimate before appending.
	prior, err := e.estimator.Estimate(toResponses(snap.History))
	if err != nil {
		return nil, fmt.Errorf("record response: prior estimate: %w", err)
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	record := models.ResponseRecord{
		UserID:         snap.Session.UserID,
		SessionID:      snap.Session.ID,
		ItemID:         ev.Item.ID,
		Topic:          ev.Item.Topic,
		Correct:        correct,
		Skipped:        ev.Skipped,
		Discrimination: ev.Item.Discrimination,
		Difficulty:     ev.Item.Difficulty,
		Guessing:       ev.Item.Guessing,
		ThetaAtAdmin:   prior.Theta,
		LatencySeconds: ev.LatencySeconds,
		AnsweredAt:     at,
	}

	history := append(snap.History, record)
	ability, err := e.estimator.Estimate(toResponses(history))
	if err != nil {
		return nil, fmt.Errorf("record response: estimate: %w", err)
	}
	if !ability.Converged {
		warnings = append(warnings, fmt.Sprintf(
			"ability estimate did not converge within %d iterations; using last iterate", ability.Iterations))
	}

	// Policy learns from the context that drove the administration, so the
	// feature vector uses the pre-response estimate.
	policy := snap.Policy
	if !policy.Valid() {
		policy = NewPolicyState(FeatureDim, e.cfg.RidgeLambda)
	}
	preCtx := buildContext(prior, snap.History)
	info := rawInformation(prior.Theta, ev.Item)
	if err := policy.Update(FeatureVector(preCtx, ev.Item), Reward(correct, info)); err != nil {
		return nil, fmt.Errorf("record response: policy update: %w", err)
	}

	// Administration time is when exposure counts, not selection time.
	if err := e.exposure.store.IncrementAdministered(ev.Item.ID); err != nil {
		warnings = append(warnings, fmt.Sprintf("exposure administration count for item %d not recorded: %v", ev.Item.ID, err))
	}

	session := snap.Session
	session.ItemCount++

	result := &AdvanceResult{
		Record:   record,
		Ability:  ability,
		Policy:   policy,
		Session:  session,
		Warnings: warnings,
	}

	if decision := e.evaluateStop(session.ItemCount, ability.SEM, at.Sub(session.StartedAt)); decision.Stop {
		finalize(&result.Session, models.SessionCompleted, decision.Reason, at)
		return result, nil
	}

	sel, err := e.SelectNext(SelectionInput{
		Items:             bank,
		Administered:      snap.Administered,
		Context:           buildContext(ability, history),
		Policy:            policy,
		SessionResponses:  session.ItemCount,
		LifetimeResponses: len(history),
	})
	if err != nil {
		return nil, fmt.Errorf("record response: select next: %w", err)
	}
	if sel == nil {
		finalize(&result.Session, models.SessionCompleted, models.StopReasonPoolExhausted, at)
		return result, nil
	}

	result.Next = sel
	return result, nil
}

// SelectFirst picks an item for a session with no pending selection (session
// start, or recovery after a crash between commit and delivery). Estimation
// runs over the snapshot history so returning learners start from their
// established ability rather than the prior.
func (e *Engine) SelectFirst(snap *Snapshot, bank []models.Item) (*Selection, error) {
	if snap.Session.Status != models.SessionContinuing {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotContinuing, snap.Session.ID, snap.Session.Status)
	}
	est, err := e.estimator.Estimate(toResponses(snap.History))
	if err != nil {
		return nil, fmt.Errorf("select first: estimate: %w", err)
	}
	return e.SelectNext(SelectionInput{
		Items:             bank,
		Administered:      snap.Administered,
		Context:           buildContext(est, snap.History),
		Policy:            snap.Policy,
		SessionResponses:  snap.Session.ItemCount,
		LifetimeResponses: len(snap.History),
	})
}

// Abort transitions a continuing session to aborted. Terminal sessions stay
// terminal.
func (e *Engine) Abort(session *models.Session, at time.Time) error {
	if session.Status != models.SessionContinuing {
		return fmt.Errorf("%w: session %s is %s", ErrSessionNotContinuing, session.ID, session.Status)
	}
	finalize(session, models.SessionAborted, models.StopReasonAborted, at)
	return nil
}

func finalize(session *models.Session, status models.SessionStatus, reason models.StopReason, at time.Time) {
	session.Status = status
	session.StopReason = reason
	done := at
	session.CompletedAt = &done
}

// buildContext derives the learner-side policy features from the estimate
// and the ordered history.
func buildContext(est irt.Estimate, history []models.ResponseRecord) LearnerContext {
	ctx := LearnerContext{Theta: est.Theta, SEM: est.SEM}

	if len(history) > 0 {
		correct := 0
		for _, r := range history {
			if r.Correct {
				correct++
			}
		}
		ctx.TopicMastery = float64(correct) / float64(len(history))
	}

	recent := history
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	if len(recent) > 0 {
		correct := 0
		var latencySum float64
		latencyN := 0
		for _, r := range recent {
			if r.Correct {
				correct++
			}
			if r.LatencySeconds != nil {
				latencySum += *r.LatencySeconds
				latencyN++
			}
		}
		ctx.RecentAccuracy = float64(correct) / float64(len(recent))
		if latencyN > 0 {
			ctx.AvgLatency = latencySum / float64(latencyN)
		}
	}
	return ctx
}

// recentWindow is how many trailing responses feed the recency features.
const recentWindow = 10

func toResponses(history []models.ResponseRecord) []irt.Response {
	out := make([]irt.Response, len(history))
	for i, r := range history {
		out[i] = irt.Response{
			Discrimination: r.Discrimination,
			Difficulty:     r.Difficulty,
			Guessing:       r.Guessing,
			Correct:        r.Correct,
		}
	}
	return out
}
