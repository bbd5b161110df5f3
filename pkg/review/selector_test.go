package review

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loci-ai/loci-engine/pkg/models"
)

func activePhrasing(attemptedAt *time.Time) *models.Phrasing {
	return &models.Phrasing{
		ID:              uuid.New(),
		Question:        "What is the capital of France?",
		CorrectAnswer:   "Paris",
		PhrasingType:    models.PhrasingTypeMultipleChoice,
		LastAttemptedAt: attemptedAt,
	}
}

func ts(offset time.Duration) *time.Time {
	t := now.Add(offset)
	return &t
}

func TestSelectActivePhrasing_NoActivePhrasings(t *testing.T) {
	concept := &models.Concept{ID: uuid.New()}

	assert.Nil(t, SelectActivePhrasing(concept, nil))

	archived := activePhrasing(nil)
	archived.ArchivedAt = ts(-time.Hour)
	deleted := activePhrasing(nil)
	deleted.DeletedAt = ts(-time.Hour)

	assert.Nil(t, SelectActivePhrasing(concept, []*models.Phrasing{archived, deleted}))
}

func TestSelectActivePhrasing_CanonicalAlwaysWins(t *testing.T) {
	heavilyUsed := activePhrasing(ts(-time.Minute))
	heavilyUsed.AttemptCount = 50
	neverSeen := activePhrasing(nil)

	concept := &models.Concept{ID: uuid.New(), CanonicalPhrasingID: &heavilyUsed.ID}

	sel := SelectActivePhrasing(concept, []*models.Phrasing{heavilyUsed, neverSeen})

	require.NotNil(t, sel)
	assert.Equal(t, heavilyUsed.ID, sel.Phrasing.ID)
	assert.Equal(t, SelectionReasonCanonical, sel.Reason)
	assert.Equal(t, 2, sel.TotalPhrasings)
	assert.Equal(t, 0, sel.PhrasingIndex)
}

func TestSelectActivePhrasing_CanonicalArchivedFallsBack(t *testing.T) {
	canonical := activePhrasing(nil)
	canonical.ArchivedAt = ts(-time.Hour)
	other := activePhrasing(ts(-24 * time.Hour))

	concept := &models.Concept{ID: uuid.New(), CanonicalPhrasingID: &canonical.ID}

	sel := SelectActivePhrasing(concept, []*models.Phrasing{canonical, other})

	require.NotNil(t, sel)
	assert.Equal(t, other.ID, sel.Phrasing.ID)
	assert.Equal(t, SelectionReasonLeastSeen, sel.Reason)
	assert.Equal(t, 1, sel.TotalPhrasings)
}

func TestSelectActivePhrasing_LeastRecentlyAttempted(t *testing.T) {
	recent := activePhrasing(ts(-time.Hour))
	oldest := activePhrasing(ts(-72 * time.Hour))
	middle := activePhrasing(ts(-24 * time.Hour))

	concept := &models.Concept{ID: uuid.New()}

	sel := SelectActivePhrasing(concept, []*models.Phrasing{recent, oldest, middle})

	require.NotNil(t, sel)
	assert.Equal(t, oldest.ID, sel.Phrasing.ID)
	assert.Equal(t, SelectionReasonLeastSeen, sel.Reason)
	assert.Equal(t, 1, sel.PhrasingIndex)
}

func TestSelectActivePhrasing_NeverAttemptedRanksFirst(t *testing.T) {
	attempted := activePhrasing(ts(-100 * 24 * time.Hour))
	fresh := activePhrasing(nil)

	concept := &models.Concept{ID: uuid.New()}

	sel := SelectActivePhrasing(concept, []*models.Phrasing{attempted, fresh})

	require.NotNil(t, sel)
	assert.Equal(t, fresh.ID, sel.Phrasing.ID)
}

func TestSelectActivePhrasing_StableAmongNeverAttempted(t *testing.T) {
	first := activePhrasing(nil)
	second := activePhrasing(nil)

	concept := &models.Concept{ID: uuid.New()}

	sel := SelectActivePhrasing(concept, []*models.Phrasing{first, second})

	require.NotNil(t, sel)
	assert.Equal(t, first.ID, sel.Phrasing.ID)
}
