package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// ConceptState mirrors the FSRS card lifecycle.
type ConceptState string

const (
	ConceptStateNew        ConceptState = "new"
	ConceptStateLearning   ConceptState = "learning"
	ConceptStateReview     ConceptState = "review"
	ConceptStateRelearning ConceptState = "relearning"
)

// IsValid reports whether s is one of the four known states.
func (s ConceptState) IsValid() bool {
	switch s {
	case ConceptStateNew, ConceptStateLearning, ConceptStateReview, ConceptStateRelearning:
		return true
	}
	return false
}

// MemoryState is the per-concept spaced-repetition state.
// Retrievability is a cached snapshot from the last scheduling pass; nil
// means no snapshot has been taken. LastReview is nil until the first review.
type MemoryState struct {
	Stability      float64      `json:"stability"`
	Difficulty     float64      `json:"difficulty"`
	LastReview     *time.Time   `json:"last_review,omitempty"`
	NextReview     time.Time    `json:"next_review"`
	ElapsedDays    int          `json:"elapsed_days"`
	ScheduledDays  int          `json:"scheduled_days"`
	Retrievability *float64     `json:"retrievability,omitempty"`
	Reps           int          `json:"reps"`
	Lapses         int          `json:"lapses"`
	State          ConceptState `json:"state"`
}

// Concept is an atomic knowledge unit owned by exactly one user.
// Concepts are never hard-deleted; DeletedAt drives visibility and wins over
// ArchivedAt (a deleted concept never appears in archived views).
type Concept struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ContentType string    `json:"content_type,omitempty"`

	Memory MemoryState `json:"memory"`

	// PhrasingCount is a denormalized count of active phrasings, maintained
	// on every phrasing create/archive/restore/delete.
	PhrasingCount int `json:"phrasing_count"`

	ConflictScore float64 `json:"conflict_score"`
	ThinScore     float64 `json:"thin_score"`
	QualityScore  float64 `json:"quality_score"`

	CanonicalPhrasingID *uuid.UUID `json:"canonical_phrasing_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// NormalizeTitle lowercases a title, collapses whitespace runs, and
// singularizes it, so "Neural  Networks" and "neural network" collide.
// The repository persists this form alongside the display title; duplicate
// checks always compare normalized against normalized.
func NormalizeTitle(title string) string {
	collapsed := strings.Join(strings.Fields(title), " ")
	return inflection.Singular(strings.ToLower(collapsed))
}

// IsActive reports whether the concept participates in scheduling.
func (c *Concept) IsActive() bool {
	return c.DeletedAt == nil && c.ArchivedAt == nil
}

// HasBeenReviewed reports whether the concept has at least one recorded review.
func (c *Concept) HasBeenReviewed() bool {
	return c.Memory.Reps > 0 && c.Memory.LastReview != nil
}
