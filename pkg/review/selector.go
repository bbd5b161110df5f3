package review

import (
	"github.com/loci-ai/loci-engine/pkg/models"
)

// SelectionReason records why a phrasing was chosen.
type SelectionReason string

const (
	SelectionReasonCanonical SelectionReason = "canonical"
	SelectionReasonLeastSeen SelectionReason = "least-seen"
)

// Selection is the phrasing chosen for presentation plus queue metadata.
type Selection struct {
	Phrasing       *models.Phrasing
	TotalPhrasings int
	PhrasingIndex  int
	Reason         SelectionReason
}

// SelectActivePhrasing picks which phrasing variant of a concept to present
// next. A canonical phrasing, when set and still active, always wins.
// Otherwise the least-recently-attempted active phrasing is chosen
// (never-attempted ranks first), spreading exposure across variants to
// reduce rote memorization of a single phrasing. Returns nil when the
// concept has no active phrasings.
func SelectActivePhrasing(concept *models.Concept, phrasings []*models.Phrasing) *Selection {
	active := make([]*models.Phrasing, 0, len(phrasings))
	for _, p := range phrasings {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil
	}

	if concept.CanonicalPhrasingID != nil {
		for i, p := range active {
			if p.ID == *concept.CanonicalPhrasingID {
				return &Selection{
					Phrasing:       p,
					TotalPhrasings: len(active),
					PhrasingIndex:  i,
					Reason:         SelectionReasonCanonical,
				}
			}
		}
		// Canonical points at an archived or deleted phrasing; fall through
		// to least-seen.
	}

	best := 0
	for i := 1; i < len(active); i++ {
		if attemptedBefore(active[i], active[best]) {
			best = i
		}
	}

	return &Selection{
		Phrasing:       active[best],
		TotalPhrasings: len(active),
		PhrasingIndex:  best,
		Reason:         SelectionReasonLeastSeen,
	}
}

// attemptedBefore reports whether a was attempted strictly longer ago than
// b. Never-attempted phrasings rank before any attempted one; among
// never-attempted phrasings the earlier slice position wins, keeping the
// choice stable.
func attemptedBefore(a, b *models.Phrasing) bool {
	switch {
	case a.LastAttemptedAt == nil && b.LastAttemptedAt == nil:
		return false
	case a.LastAttemptedAt == nil:
		return true
	case b.LastAttemptedAt == nil:
		return false
	default:
		return a.LastAttemptedAt.Before(*b.LastAttemptedAt)
	}
}
