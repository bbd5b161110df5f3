// Package scheduler maps review outcomes to updated per-concept memory
// state using the FSRS algorithm, and answers due/retrievability queries.
// All functions are pure: no I/O, safe from any number of goroutines.
package scheduler

import (
	"math"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs/v3"

	"github.com/loci-ai/loci-engine/pkg/models"
)

// RetrievabilityUnseen is the sentinel returned for concepts that have no
// memory state or have never been reviewed. Callers must treat negative
// values as highest scheduling priority, never as a probability.
const RetrievabilityUnseen = -1.0

// Forgetting-curve constants (FSRS-4.5): R(t, S) = (1 + factor*t/S)^decay.
const (
	forgettingDecay  = -0.5
	forgettingFactor = 19.0 / 81.0
)

// Engine schedules concept reviews. The zero value is not usable; construct
// with NewEngine.
type Engine struct {
	f fsrs.FSRS
}

// NewEngine creates an Engine with default FSRS parameters.
func NewEngine() *Engine {
	return &Engine{f: *fsrs.NewFSRS(fsrs.DefaultParam())}
}

// InitializeState returns the memory state for a freshly created concept:
// never reviewed, due immediately.
func (e *Engine) InitializeState(now time.Time) models.MemoryState {
	return models.MemoryState{
		NextReview: now,
		State:      models.ConceptStateNew,
	}
}

// IsDue reports whether a concept should be offered for review. A concept
// with no state is always due (unseen material is always presentable).
// The boundary is inclusive: exactly at now counts as due.
func (e *Engine) IsDue(state *models.MemoryState, now time.Time) bool {
	if state == nil {
		return true
	}
	return !state.NextReview.After(now)
}

// Retrievability estimates the probability that the learner currently
// recalls the concept. Returns RetrievabilityUnseen for missing state or a
// concept that has never been reviewed; otherwise a value in [0, 1].
func (e *Engine) Retrievability(state *models.MemoryState, now time.Time) float64 {
	if state == nil || state.Reps == 0 || state.LastReview == nil || state.Stability <= 0 {
		return RetrievabilityUnseen
	}

	elapsedDays := now.Sub(*state.LastReview).Hours() / 24.0
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	r := math.Pow(1+forgettingFactor*elapsedDays/state.Stability, forgettingDecay)
	return math.Min(math.Max(r, 0), 1)
}

// Schedule applies one observed answer to the memory state and returns the
// updated state plus the FSRS rating that was used. The binary answer
// format carries no partial-credit signal, so correctness maps onto the
// Good/Again ratings. Missing state is treated as new rather than an error.
func (e *Engine) Schedule(state *models.MemoryState, isCorrect bool, now time.Time) (models.MemoryState, fsrs.Rating) {
	rating := fsrs.Again
	if isCorrect {
		rating = fsrs.Good
	}

	card := toCard(state)
	scheduled := e.f.Repeat(card, now)[rating].Card

	next := fromCard(scheduled)

	// Reps must never decrease, and a cached retrievability snapshot is
	// taken at scheduling time.
	if state != nil && next.Reps < state.Reps {
		next.Reps = state.Reps
	}
	snapshot := e.Retrievability(&next, now)
	if snapshot >= 0 {
		next.Retrievability = &snapshot
	}

	return next, rating
}
