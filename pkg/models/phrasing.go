package models

import (
	"time"

	"github.com/google/uuid"
)

// Phrasing types supported by the review surface.
const (
	PhrasingTypeMultipleChoice = "multiple_choice"
	PhrasingTypeTrueFalse      = "true_false"
)

// Phrasing is one testable rendering of a concept. A concept with zero
// active phrasings is not eligible for review. Attempt counters here are
// local exposure stats, not scheduling state.
type Phrasing struct {
	ID            uuid.UUID `json:"id"`
	ConceptID     uuid.UUID `json:"concept_id"`
	UserID        uuid.UUID `json:"user_id"`
	Question      string    `json:"question"`
	AnswerOptions []string  `json:"answer_options"`
	CorrectAnswer string    `json:"correct_answer"`
	Explanation   string    `json:"explanation,omitempty"`
	PhrasingType  string    `json:"phrasing_type"`

	AttemptCount    int        `json:"attempt_count"`
	CorrectCount    int        `json:"correct_count"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the phrasing can be presented for review.
func (p *Phrasing) IsActive() bool {
	return p.DeletedAt == nil && p.ArchivedAt == nil
}
