package assessment

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/adaptest/backend/internal/engine"
	"github.com/adaptest/backend/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Item Bank ───────────────────────────────────────────

func (s *Store) GetActiveItems(topic string) ([]models.Item, error) {
	rows, err := s.db.Query(
		`SELECT id, topic, content, discrimination, difficulty, guessing,
		        target_exposure_rate, times_administered, active, created_at
		 FROM items WHERE topic = $1 AND active = TRUE
		 ORDER BY id`,
		topic,
	)
	if err != nil {
		return nil, fmt.Errorf("get active items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Topic, &it.Content, &it.Discrimination,
			&it.Difficulty, &it.Guessing, &it.TargetExposureRate,
			&it.TimesAdministered, &it.Active, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) GetItem(itemID int64) (*models.Item, error) {
	var it models.Item
	err := s.db.QueryRow(
		`SELECT id, topic, content, discrimination, difficulty, guessing,
		        target_exposure_rate, times_administered, active, created_at
		 FROM items WHERE id = $1`,
		itemID,
	).Scan(&it.ID, &it.Topic, &it.Content, &it.Discrimination,
		&it.Difficulty, &it.Guessing, &it.TargetExposureRate,
		&it.TimesAdministered, &it.Active, &it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", itemID, err)
	}
	return &it, nil
}

// ── Sessions ────────────────────────────────────────────

func (s *Store) CreateSession(sess models.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, user_id, topic, status, item_count, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.Topic, sess.Status, sess.ItemCount, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(sessionID string) (*models.Session, error) {
	var sess models.Session
	var stopReason sql.NullString
	err := s.db.QueryRow(
		`SELECT id, user_id, topic, status, stop_reason, item_count, started_at, completed_at
		 FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.Topic, &sess.Status, &stopReason,
		&sess.ItemCount, &sess.StartedAt, &sess.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if stopReason.Valid {
		sess.StopReason = models.StopReason(stopReason.String)
	}
	return &sess, nil
}

func (s *Store) UpdateSession(sess models.Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions
		 SET status = $1, stop_reason = NULLIF($2, ''), item_count = $3, completed_at = $4
		 WHERE id = $5`,
		sess.Status, string(sess.StopReason), sess.ItemCount, sess.CompletedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSessionItemIDs returns the set of items already administered in this
// session.
func (s *Store) GetSessionItemIDs(sessionID string) (map[int64]bool, error) {
	rows, err := s.db.Query(`SELECT item_id FROM session_items WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session items: %w", err)
	}
	defer rows.Close()

	administered := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session item: %w", err)
		}
		administered[id] = true
	}
	return administered, rows.Err()
}

func (s *Store) AddSessionItem(sessionID string, itemID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO session_items (session_id, item_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		sessionID, itemID,
	)
	if err != nil {
		return fmt.Errorf("add session item: %w", err)
	}
	return nil
}

// ── Response History ────────────────────────────────────

// GetTopicHistory returns the learner's full ordered history for a topic,
// across sessions.
func (s *Store) GetTopicHistory(userID int64, topic string) ([]models.ResponseRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, session_id, item_id, topic, correct, skipped,
		        discrimination, difficulty, guessing, theta_at_admin,
		        latency_seconds, answered_at
		 FROM response_history
		 WHERE user_id = $1 AND topic = $2
		 ORDER BY answered_at, id`,
		userID, topic,
	)
	if err != nil {
		return nil, fmt.Errorf("get topic history: %w", err)
	}
	defer rows.Close()

	var history []models.ResponseRecord
	for rows.Next() {
		var r models.ResponseRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.ItemID, &r.Topic,
			&r.Correct, &r.Skipped, &r.Discrimination, &r.Difficulty, &r.Guessing,
			&r.ThetaAtAdmin, &r.LatencySeconds, &r.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan response record: %w", err)
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

// GetUserHistory returns the learner's full ordered history across all
// topics, used for the overall ability cell.
func (s *Store) GetUserHistory(userID int64) ([]models.ResponseRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, session_id, item_id, topic, correct, skipped,
		        discrimination, difficulty, guessing, theta_at_admin,
		        latency_seconds, answered_at
		 FROM response_history
		 WHERE user_id = $1
		 ORDER BY answered_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get user history: %w", err)
	}
	defer rows.Close()

	var history []models.ResponseRecord
	for rows.Next() {
		var r models.ResponseRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.ItemID, &r.Topic,
			&r.Correct, &r.Skipped, &r.Discrimination, &r.Difficulty, &r.Guessing,
			&r.ThetaAtAdmin, &r.LatencySeconds, &r.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan response record: %w", err)
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

func (s *Store) RecordResponse(rec *models.ResponseRecord) error {
	err := s.db.QueryRow(
		`INSERT INTO response_history
		 (user_id, session_id, item_id, topic, correct, skipped,
		  discrimination, difficulty, guessing, theta_at_admin, latency_seconds, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		rec.UserID, rec.SessionID, rec.ItemID, rec.Topic, rec.Correct, rec.Skipped,
		rec.Discrimination, rec.Difficulty, rec.Guessing, rec.ThetaAtAdmin,
		rec.LatencySeconds, rec.AnsweredAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

// ── Ability States ──────────────────────────────────────

// GetOrCreateAbility lazily creates the ability cell on first contact. SEM is
// NULL in the database until the first response; callers see +Inf.
func (s *Store) GetOrCreateAbility(userID int64, scope models.AbilityScope, scopeValue *string) (*models.AbilityState, error) {
	_, err := s.db.Exec(
		`INSERT INTO learner_abilities (user_id, scope, scope_value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, scope, scope_value) DO NOTHING`,
		userID, scope, scopeValue,
	)
	if err != nil {
		return nil, fmt.Errorf("create ability: %w", err)
	}

	var a models.AbilityState
	var sem sql.NullFloat64
	err = s.db.QueryRow(
		`SELECT id, user_id, scope, scope_value, theta, sem, response_count, last_updated
		 FROM learner_abilities
		 WHERE user_id = $1 AND scope = $2 AND scope_value IS NOT DISTINCT FROM $3`,
		userID, scope, scopeValue,
	).Scan(&a.ID, &a.UserID, &a.Scope, &a.ScopeValue, &a.Theta, &sem, &a.ResponseCount, &a.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("get ability: %w", err)
	}

	a.SEM = math.Inf(1)
	if sem.Valid {
		a.SEM = sem.Float64
	}
	return &a, nil
}

func (s *Store) UpdateAbility(userID int64, scope models.AbilityScope, scopeValue *string, theta, sem float64, responseCount int) error {
	var semVal any
	if !math.IsInf(sem, 1) && !math.IsNaN(sem) {
		semVal = sem
	}
	_, err := s.db.Exec(
		`UPDATE learner_abilities
		 SET theta = $1, sem = $2, response_count = $3, last_updated = NOW()
		 WHERE user_id = $4 AND scope = $5 AND scope_value IS NOT DISTINCT FROM $6`,
		theta, semVal, responseCount, userID, scope, scopeValue,
	)
	if err != nil {
		return fmt.Errorf("update ability: %w", err)
	}
	return nil
}

func (s *Store) GetAllAbilities(userID int64) (*models.AbilityResponse, error) {
	rows, err := s.db.Query(
		`SELECT scope, scope_value, theta, sem, response_count, last_updated
		 FROM learner_abilities WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get abilities: %w", err)
	}
	defer rows.Close()

	resp := &models.AbilityResponse{Topics: make(map[string]models.AbilityView)}
	for rows.Next() {
		var a models.AbilityState
		var sem sql.NullFloat64
		if err := rows.Scan(&a.Scope, &a.ScopeValue, &a.Theta, &sem, &a.ResponseCount, &a.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan ability: %w", err)
		}
		a.SEM = math.Inf(1)
		if sem.Valid {
			a.SEM = sem.Float64
		}
		switch a.Scope {
		case models.ScopeOverall:
			resp.Overall = a.View()
		case models.ScopeTopic:
			if a.ScopeValue != nil {
				resp.Topics[*a.ScopeValue] = a.View()
			}
		}
	}
	return resp, rows.Err()
}

// ── Policy States ───────────────────────────────────────

func (s *Store) GetOrCreatePolicy(userID int64, dim int, lambda float64) (*engine.PolicyState, error) {
	var raw []byte
	err := s.db.QueryRow(
		`SELECT state FROM policy_states WHERE user_id = $1 AND dim = $2`,
		userID, dim,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return engine.NewPolicyState(dim, lambda), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	var state engine.PolicyState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if !state.Valid() || state.Dim != dim {
		// Stored under an older feature layout; start fresh.
		return engine.NewPolicyState(dim, lambda), nil
	}
	return &state, nil
}

func (s *Store) SavePolicy(userID int64, state *engine.PolicyState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO policy_states (user_id, dim, state, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, dim) DO UPDATE SET state = $3, updated_at = NOW()`,
		userID, state.Dim, raw,
	)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// ── Exposure Counters (engine.ExposureStore) ────────────

func (s *Store) Get(itemID int64) (engine.ExposureStats, error) {
	var stats engine.ExposureStats
	err := s.db.QueryRow(
		`SELECT times_considered, times_admitted, times_administered
		 FROM item_exposure WHERE item_id = $1`,
		itemID,
	).Scan(&stats.TimesConsidered, &stats.TimesAdmitted, &stats.TimesAdministered)
	if err == sql.ErrNoRows {
		return engine.ExposureStats{}, nil
	}
	if err != nil {
		return engine.ExposureStats{}, fmt.Errorf("get exposure stats: %w", err)
	}
	return stats, nil
}

func (s *Store) IncrementConsidered(itemID int64) error {
	return s.incrementExposure(itemID, "times_considered")
}

func (s *Store) IncrementAdmitted(itemID int64) error {
	return s.incrementExposure(itemID, "times_admitted")
}

func (s *Store) IncrementAdministered(itemID int64) error {
	if err := s.incrementExposure(itemID, "times_administered"); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE items SET times_administered = times_administered + 1 WHERE id = $1`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("increment item administration: %w", err)
	}
	return nil
}

// incrementExposure is a single atomic upsert-and-bump; concurrent sessions
// may interleave reads and increments, which is an accepted inaccuracy.
func (s *Store) incrementExposure(itemID int64, column string) error {
	query := fmt.Sprintf(
		`INSERT INTO item_exposure (item_id, %s) VALUES ($1, 1)
		 ON CONFLICT (item_id) DO UPDATE SET %s = item_exposure.%s + 1`,
		column, column, column,
	)
	if _, err := s.db.Exec(query, itemID); err != nil {
		return fmt.Errorf("increment %s for item %d: %w", column, itemID, err)
	}
	return nil
}
