package models

import (
	"time"

	"github.com/google/uuid"
)

// Interaction is an immutable record of one review attempt. The scheduling
// context fields are captured at scheduling time so later parameter changes
// do not rewrite history.
type Interaction struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	ConceptID  uuid.UUID  `json:"concept_id"`
	PhrasingID uuid.UUID  `json:"phrasing_id"`
	UserAnswer string     `json:"user_answer"`
	IsCorrect  bool       `json:"is_correct"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`

	// Context snapshot at scheduling time.
	ScheduledDays *int         `json:"scheduled_days,omitempty"`
	ResultingDue  *time.Time   `json:"resulting_due,omitempty"`
	MemoryState   *MemoryState `json:"memory_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
