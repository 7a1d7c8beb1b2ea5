package models

import "time"

type SessionStatus string

const (
	SessionContinuing SessionStatus = "continuing"
	SessionCompleted  SessionStatus = "completed"
	SessionAborted    SessionStatus = "aborted"
)

// StopReason records why a session left the continuing state.
type StopReason string

const (
	StopReasonNone          StopReason = ""
	StopReasonSEMThreshold  StopReason = "sem_threshold"
	StopReasonMaxItems      StopReason = "max_items"
	StopReasonTimeLimit     StopReason = "time_limit"
	StopReasonPoolExhausted StopReason = "item_pool_exhausted"
	StopReasonAborted       StopReason = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

type Session struct {
	ID          string        `json:"id"`
	UserID      int64         `json:"user_id"`
	Topic       string        `json:"topic"`
	Status      SessionStatus `json:"status"`
	StopReason  StopReason    `json:"stop_reason,omitempty"`
	ItemCount   int           `json:"item_count"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ── API Request/Response Types ────────────────────────────

type StartAssessmentRequest struct {
	Topic string `json:"topic"`
}

type SubmitResponseRequest struct {
	ItemID         int64    `json:"item_id"`
	Correct        bool     `json:"correct"`
	Skipped        bool     `json:"skipped"`
	LatencySeconds *float64 `json:"latency_seconds,omitempty"`
}

type AssessmentProgress struct {
	ItemCount  int           `json:"item_count"`
	MaxItems   int           `json:"max_items"`
	Status     SessionStatus `json:"status"`
	StopReason StopReason    `json:"stop_reason,omitempty"`
}

// SelectionRationale explains which scoring component drove a selection, for
// transparency UI.
type SelectionRationale struct {
	Category      string `json:"category"` // warmup | psychometric | learned
	Justification string `json:"justification"`
}

type StartAssessmentResponse struct {
	SessionID string              `json:"session_id"`
	Progress  AssessmentProgress  `json:"progress"`
	Item      *PublicItem         `json:"item,omitempty"`
	Rationale *SelectionRationale `json:"rationale,omitempty"`
}

type AdvanceResponse struct {
	Ability   AbilityView         `json:"ability"`
	Progress  AssessmentProgress  `json:"progress"`
	NextItem  *PublicItem         `json:"next_item,omitempty"`
	Rationale *SelectionRationale `json:"rationale,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
}
