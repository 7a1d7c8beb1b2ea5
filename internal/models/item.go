package models

import "time"

// Item is a calibrated question in the item bank. The 3PL parameters
// (discrimination, difficulty, guessing) come from offline calibration and are
// immutable while the item is live; only the exposure counters move.
type Item struct {
	ID                 int64     `json:"id"`
	Topic              string    `json:"topic"`
	Content            string    `json:"content"`
	Discrimination     float64   `json:"discrimination"` // a, > 0
	Difficulty         float64   `json:"difficulty"`     // b, typically -3..3
	Guessing           float64   `json:"guessing"`       // c, in [0,1)
	TargetExposureRate float64   `json:"target_exposure_rate"`
	TimesAdministered  int64     `json:"times_administered"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}

// PublicItem is the presentation-safe view of an item. Calibrated parameters
// never cross the API boundary; clients get a coarse label instead.
type PublicItem struct {
	ID              int64  `json:"id"`
	Topic           string `json:"topic"`
	Content         string `json:"content"`
	DifficultyLabel string `json:"difficulty_label"`
}

// DifficultyLabel maps the calibrated b parameter onto a coarse
// human-readable band.
func (it Item) DifficultyLabel() string {
	switch {
	case it.Difficulty < -1.0:
		return "easy"
	case it.Difficulty <= 1.0:
		return "medium"
	default:
		return "hard"
	}
}

func (it Item) Public() PublicItem {
	return PublicItem{
		ID:              it.ID,
		Topic:           it.Topic,
		Content:         it.Content,
		DifficultyLabel: it.DifficultyLabel(),
	}
}
