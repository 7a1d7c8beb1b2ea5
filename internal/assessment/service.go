// Package assessment wires the adaptive engine to Postgres-backed state and
// the HTTP surface. The engine computes over snapshots; this service
// materializes them before each call and commits the results after.
package assessment

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/adaptest/backend/internal/engine"
	"github.com/adaptest/backend/internal/irt"
	"github.com/adaptest/backend/internal/models"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrItemNotInSession = errors.New("item was not administered in this session")
	ErrNoTopic          = errors.New("topic is required")
)

type Service struct {
	store     *Store
	engine    *engine.Engine
	estimator *irt.Estimator
	cfg       engine.Config
}

func NewService(store *Store, eng *engine.Engine) *Service {
	return &Service{
		store:     store,
		engine:    eng,
		estimator: irt.NewEstimator(),
		cfg:       eng.Config(),
	}
}

// StartAssessment creates a session and picks its first item. A bank with no
// eligible items completes the session immediately with the exhaustion
// reason; that is a defined outcome, not an error.
func (s *Service) StartAssessment(userID int64, topic string) (*models.StartAssessmentResponse, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}

	sess := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		Status:    models.SessionContinuing,
		StartedAt: time.Now(),
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}

	snap, err := s.loadSnapshot(&sess)
	if err != nil {
		return nil, err
	}
	bank, err := s.store.GetActiveItems(topic)
	if err != nil {
		return nil, err
	}

	sel, err := s.engine.SelectFirst(snap, bank)
	if err != nil {
		return nil, fmt.Errorf("start assessment: %w", err)
	}

	resp := &models.StartAssessmentResponse{SessionID: sess.ID}
	if sel == nil {
		now := time.Now()
		sess.Status = models.SessionCompleted
		sess.StopReason = models.StopReasonPoolExhausted
		sess.CompletedAt = &now
		if err := s.store.UpdateSession(sess); err != nil {
			return nil, err
		}
		resp.Progress = s.progress(sess)
		return resp, nil
	}

	if err := s.store.AddSessionItem(sess.ID, sel.Item.ID); err != nil {
		return nil, err
	}

	item := sel.Item.Public()
	rationale := sel.Rationale
	resp.Progress = s.progress(sess)
	resp.Item = &item
	resp.Rationale = &rationale
	return resp, nil
}

// SubmitResponse records one answered item and advances the session.
func (s *Service) SubmitResponse(userID int64, sessionID string, req models.SubmitResponseRequest) (*models.AdvanceResponse, error) {
	sess, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}

	snap, err := s.loadSnapshot(sess)
	if err != nil {
		return nil, err
	}
	if !snap.Administered[req.ItemID] {
		return nil, fmt.Errorf("%w: item %d", ErrItemNotInSession, req.ItemID)
	}

	item, err := s.store.GetItem(req.ItemID)
	if err != nil {
		return nil, err
	}
	bank, err := s.store.GetActiveItems(sess.Topic)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.RecordResponseAndAdvance(snap, engine.ResponseEvent{
		Item:           *item,
		Correct:        req.Correct,
		Skipped:        req.Skipped,
		LatencySeconds: req.LatencySeconds,
		At:             time.Now(),
	}, bank)
	if err != nil {
		return nil, err
	}

	topicAbility, err := s.commit(sess, result)
	if err != nil {
		return nil, err
	}

	resp := &models.AdvanceResponse{
		Ability:  topicAbility.View(),
		Progress: s.progress(result.Session),
		Warnings: result.Warnings,
	}
	if result.Next != nil {
		next := result.Next.Item.Public()
		rationale := result.Next.Rationale
		resp.NextItem = &next
		resp.Rationale = &rationale
	}
	return resp, nil
}

// commit persists every piece of an advance result. Response history first:
// it is the source of truth the ability cells are derived from.
func (s *Service) commit(sess *models.Session, result *engine.AdvanceResult) (*models.AbilityState, error) {
	if err := s.store.RecordResponse(&result.Record); err != nil {
		return nil, err
	}

	topicAbility, err := s.updateAbilityCells(sess.UserID, sess.Topic, result.Ability)
	if err != nil {
		return nil, err
	}

	if err := s.store.SavePolicy(sess.UserID, result.Policy); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSession(result.Session); err != nil {
		return nil, err
	}
	if result.Next != nil {
		if err := s.store.AddSessionItem(sess.ID, result.Next.Item.ID); err != nil {
			return nil, err
		}
	}
	return topicAbility, nil
}

// updateAbilityCells refreshes the topic cell from the engine's estimate and
// re-derives the overall cell from the learner's cross-topic history.
func (s *Service) updateAbilityCells(userID int64, topic string, est irt.Estimate) (*models.AbilityState, error) {
	topicCell, err := s.store.GetOrCreateAbility(userID, models.ScopeTopic, &topic)
	if err != nil {
		return nil, err
	}
	topicCell.Theta = est.Theta
	topicCell.SEM = est.SEM
	topicCell.ResponseCount++
	topicCell.LastUpdated = time.Now()
	if err := s.store.UpdateAbility(userID, models.ScopeTopic, &topic, est.Theta, est.SEM, topicCell.ResponseCount); err != nil {
		return nil, err
	}

	overall, err := s.store.GetOrCreateAbility(userID, models.ScopeOverall, nil)
	if err != nil {
		return nil, err
	}
	full, err := s.store.GetUserHistory(userID)
	if err != nil {
		return nil, err
	}
	overallEst, err := s.estimator.Estimate(toIRTResponses(full))
	if err != nil {
		return nil, err
	}
	if !overallEst.Converged {
		log.Printf("WARN: [assessment] overall ability estimate for user %d did not converge", userID)
	}
	if err := s.store.UpdateAbility(userID, models.ScopeOverall, nil, overallEst.Theta, overallEst.SEM, overall.ResponseCount+1); err != nil {
		return nil, err
	}

	return topicCell, nil
}

// Abort terminates a continuing session at the caller's request.
func (s *Service) Abort(userID int64, sessionID string) (*models.AssessmentProgress, error) {
	sess, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Abort(sess, time.Now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSession(*sess); err != nil {
		return nil, err
	}
	p := s.progress(*sess)
	return &p, nil
}

func (s *Service) GetProgress(userID int64, sessionID string) (*models.AssessmentProgress, error) {
	sess, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	p := s.progress(*sess)
	return &p, nil
}

func (s *Service) GetAbilities(userID int64) (*models.AbilityResponse, error) {
	return s.store.GetAllAbilities(userID)
}

func (s *Service) getOwnedSession(userID int64, sessionID string) (*models.Session, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

func (s *Service) loadSnapshot(sess *models.Session) (*engine.Snapshot, error) {
	history, err := s.store.GetTopicHistory(sess.UserID, sess.Topic)
	if err != nil {
		return nil, err
	}
	administered, err := s.store.GetSessionItemIDs(sess.ID)
	if err != nil {
		return nil, err
	}
	policy, err := s.store.GetOrCreatePolicy(sess.UserID, engine.FeatureDim, s.cfg.RidgeLambda)
	if err != nil {
		return nil, err
	}
	return &engine.Snapshot{
		Session:      *sess,
		History:      history,
		Administered: administered,
		Policy:       policy,
	}, nil
}

func (s *Service) progress(sess models.Session) models.AssessmentProgress {
	return models.AssessmentProgress{
		ItemCount:  sess.ItemCount,
		MaxItems:   s.cfg.MaxItems,
		Status:     sess.Status,
		StopReason: sess.StopReason,
	}
}

func toIRTResponses(history []models.ResponseRecord) []irt.Response {
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
