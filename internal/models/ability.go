package models

import (
	"math"
	"time"
)

type AbilityScope string

const (
	ScopeOverall AbilityScope = "overall"
	ScopeTopic   AbilityScope = "topic"
)

// AbilityState is one learner's latent ability estimate for one cell
// (overall, or a single topic). Theta lives on the standardized [-3, 3]
// scale; SEM is +Inf until the first response is recorded.
type AbilityState struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	Scope         AbilityScope `json:"scope"`
	ScopeValue    *string      `json:"scope_value,omitempty"`
	Theta         float64      `json:"theta"`
	SEM           float64      `json:"-"` // +Inf before any response; see AbilityView
	ResponseCount int          `json:"response_count"`
	LastUpdated   time.Time    `json:"last_updated"`
}

// ResponseRecord is one administered-and-answered item. The item's calibrated
// parameters are captured at administration time so estimation survives items
// being retired mid-session.
type ResponseRecord struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	SessionID      string    `json:"session_id"`
	ItemID         int64     `json:"item_id"`
	Topic          string    `json:"topic"`
	Correct        bool      `json:"correct"`
	Skipped        bool      `json:"skipped"`
	Discrimination float64   `json:"-"`
	Difficulty     float64   `json:"-"`
	Guessing       float64   `json:"-"`
	ThetaAtAdmin   float64   `json:"theta_at_admin"`
	LatencySeconds *float64  `json:"latency_seconds,omitempty"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// ── API Response Types ────────────────────────────────────

// AbilityView is the JSON-safe projection of an ability cell. SEM is nil
// rather than +Inf when no responses exist yet.
type AbilityView struct {
	Theta         float64   `json:"theta"`
	SEM           *float64  `json:"sem,omitempty"`
	ResponseCount int       `json:"response_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (a AbilityState) View() AbilityView {
	v := AbilityView{
		Theta:         a.Theta,
		ResponseCount: a.ResponseCount,
		LastUpdated:   a.LastUpdated,
	}
	if !math.IsInf(a.SEM, 1) && !math.IsNaN(a.SEM) {
		sem := a.SEM
		v.SEM = &sem
	}
	return v
}

type AbilityResponse struct {
	Overall AbilityView            `json:"overall"`
	Topics  map[string]AbilityView `json:"topics"`
}
