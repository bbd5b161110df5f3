// Package stats computes incremental deltas to the per-user aggregate
// counters so aggregate reads never scan the full concept set. Pure
// functions; applying a delta atomically is the repository's job.
package stats

import (
	"time"

	"github.com/loci-ai/loci-engine/pkg/models"
)

// Delta is a partial counter adjustment to a user's aggregate row. Zero
// fields mean "leave that counter alone".
type Delta struct {
	TotalCards    int
	NewCount      int
	LearningCount int
	MatureCount   int
	DueNowCount   int
}

// IsZero reports whether applying the delta would be a no-op.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// counterCategory buckets concept states into the three aggregate counters.
// Relearning counts as learning: review→relearning is a mature→learning
// boundary crossing, not a net-zero no-op.
type counterCategory int

const (
	categoryNone counterCategory = iota
	categoryNew
	categoryLearning
	categoryMature
)

func categoryOf(state models.ConceptState) counterCategory {
	switch state {
	case models.ConceptStateNew:
		return categoryNew
	case models.ConceptStateLearning, models.ConceptStateRelearning:
		return categoryLearning
	case models.ConceptStateReview:
		return categoryMature
	}
	return categoryNone
}

func (d *Delta) bump(c counterCategory, by int) {
	switch c {
	case categoryNew:
		d.NewCount += by
	case categoryLearning:
		d.LearningCount += by
	case categoryMature:
		d.MatureCount += by
	}
}

// ComputeDelta maps a concept's state transition and due-boundary crossing
// to counter adjustments. Pass an empty newState when the state did not
// change; pass nil review times when unknown. Returns nil when neither the
// mapped state category nor the due status changed, and callers must skip
// the write entirely in that case.
//
// Exactly at now counts as due, matching the scheduling engine's inclusive
// boundary.
func ComputeDelta(oldState, newState models.ConceptState, oldNextReview, newNextReview *time.Time, now time.Time) *Delta {
	var d Delta

	if oldState.IsValid() && newState.IsValid() {
		oldCat, newCat := categoryOf(oldState), categoryOf(newState)
		if oldCat != newCat {
			d.bump(oldCat, -1)
			d.bump(newCat, +1)
		}
	}

	if oldNextReview != nil && newNextReview != nil {
		wasDue := !oldNextReview.After(now)
		isDueNow := !newNextReview.After(now)
		switch {
		case wasDue && !isDueNow:
			d.DueNowCount--
		case !wasDue && isDueNow:
			d.DueNowCount++
		}
	}

	if d.IsZero() {
		return nil
	}
	return &d
}

// DeltaForCreate returns the adjustment for a newly visible concept (insert
// or restore from archive/delete).
func DeltaForCreate(state models.ConceptState, nextReview time.Time, now time.Time) Delta {
	d := Delta{TotalCards: 1}
	d.bump(categoryOf(state), +1)
	if !nextReview.After(now) {
		d.DueNowCount++
	}
	return d
}

// DeltaForRemove returns the adjustment for a concept leaving the active
// set (archive or soft delete). The inverse of DeltaForCreate.
func DeltaForRemove(state models.ConceptState, nextReview time.Time, now time.Time) Delta {
	d := Delta{TotalCards: -1}
	d.bump(categoryOf(state), -1)
	if !nextReview.After(now) {
		d.DueNowCount--
	}
	return d
}
