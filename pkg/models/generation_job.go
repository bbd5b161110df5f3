package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the coarse lifecycle of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further pipeline steps may run.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPhase tracks progress within a processing job. Phases advance
// monotonically; no phase is re-entered.
type JobPhase string

const (
	JobPhaseClarifying         JobPhase = "clarifying"
	JobPhaseConceptSynthesis   JobPhase = "concept_synthesis"
	JobPhaseGenerating         JobPhase = "generating"
	JobPhasePhrasingGeneration JobPhase = "phrasing_generation"
	JobPhaseFinalizing         JobPhase = "finalizing"
)

// jobPhaseOrder indexes phases for monotonicity checks.
var jobPhaseOrder = map[JobPhase]int{
	JobPhaseClarifying:         0,
	JobPhaseConceptSynthesis:   1,
	JobPhaseGenerating:         2,
	JobPhasePhrasingGeneration: 3,
	JobPhaseFinalizing:         4,
}

// CanAdvanceTo reports whether moving from p to next keeps the phase
// ordering monotonic.
func (p JobPhase) CanAdvanceTo(next JobPhase) bool {
	a, okA := jobPhaseOrder[p]
	b, okB := jobPhaseOrder[next]
	return okA && okB && b >= a
}

// Job error codes, classifying generation-service failures for retry
// eligibility.
const (
	JobErrorRateLimit = "RATE_LIMIT" // retryable
	JobErrorAPIKey    = "API_KEY"    // not retryable without config change
	JobErrorNetwork   = "NETWORK"    // retryable
	JobErrorUnknown   = "UNKNOWN"    // not retryable, default
)

// GenerationJob tracks one generation request end to end. Partial progress
// (ConceptIDs created in Stage A) is preserved on failure, never rolled back.
type GenerationJob struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Prompt string    `json:"prompt"`
	Status JobStatus `json:"status"`
	Phase  JobPhase  `json:"phase"`

	// PhrasingGenerated counts everything the generation service returned;
	// PhrasingSaved counts what survived validation and persisted. They
	// diverge on partial validation failure.
	PhrasingGenerated int  `json:"phrasing_generated"`
	PhrasingSaved     int  `json:"phrasing_saved"`
	EstimatedTotal    *int `json:"estimated_total,omitempty"`

	ConceptIDs        []uuid.UUID `json:"concept_ids"`
	PendingConceptIDs []uuid.UUID `json:"pending_concept_ids"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	Retryable    bool   `json:"retryable"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has finished, failed, or been cancelled.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}
