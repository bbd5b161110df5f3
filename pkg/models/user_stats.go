package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStats is the single cached aggregate row per user. It is mutated
// exclusively through delta application so aggregate reads never scan the
// full concept set. Invariants: DueNowCount includes new cards, and
// NewCount + LearningCount + MatureCount == TotalCards over non-deleted
// concepts.
type UserStats struct {
	UserID         uuid.UUID  `json:"user_id"`
	TotalCards     int        `json:"total_cards"`
	NewCount       int        `json:"new_count"`
	LearningCount  int        `json:"learning_count"`
	MatureCount    int        `json:"mature_count"`
	DueNowCount    int        `json:"due_now_count"`
	NextReviewTime *time.Time `json:"next_review_time,omitempty"`
	LastCalculated time.Time  `json:"last_calculated"`
}
