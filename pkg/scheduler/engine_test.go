package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loci-ai/loci-engine/pkg/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func reviewedState(lastReview time.Time, nextReview time.Time) *models.MemoryState {
	lr := lastReview
	return &models.MemoryState{
		Stability:     4.5,
		Difficulty:    5.2,
		LastReview:    &lr,
		NextReview:    nextReview,
		ElapsedDays:   2,
		ScheduledDays: 5,
		Reps:          3,
		Lapses:        1,
		State:         models.ConceptStateReview,
	}
}

func TestIsDue(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name  string
		state *models.MemoryState
		want  bool
	}{
		{"nil state is always due", nil, true},
		{"past due date", reviewedState(testNow.Add(-48*time.Hour), testNow.Add(-time.Hour)), true},
		{"exactly at now counts as due", reviewedState(testNow.Add(-48*time.Hour), testNow), true},
		{"future due date", reviewedState(testNow.Add(-48*time.Hour), testNow.Add(time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsDue(tt.state, testNow))
		})
	}
}

func TestRetrievability_UnseenSentinel(t *testing.T) {
	e := NewEngine()

	assert.Equal(t, RetrievabilityUnseen, e.Retrievability(nil, testNow))

	fresh := e.InitializeState(testNow)
	assert.Equal(t, RetrievabilityUnseen, e.Retrievability(&fresh, testNow))

	noStability := reviewedState(testNow.Add(-24*time.Hour), testNow)
	noStability.Stability = 0
	assert.Equal(t, RetrievabilityUnseen, e.Retrievability(noStability, testNow))
}

func TestRetrievability_ReviewedInRange(t *testing.T) {
	e := NewEngine()

	state := reviewedState(testNow.Add(-24*time.Hour), testNow.Add(72*time.Hour))
	r := e.Retrievability(state, testNow)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.LessOrEqual(t, r, 1.0)

	// Recall probability decays as more time elapses.
	later := e.Retrievability(state, testNow.Add(10*24*time.Hour))
	assert.Less(t, later, r)

	// Clock skew (review timestamp in the future) clamps to full recall.
	skewed := e.Retrievability(state, testNow.Add(-48*time.Hour))
	assert.Equal(t, 1.0, skewed)
}

func TestCardRoundTrip(t *testing.T) {
	state := reviewedState(testNow.Add(-48*time.Hour), testNow.Add(5*24*time.Hour))

	back := fromCard(toCard(state))

	assert.InDelta(t, state.Stability, back.Stability, 1e-9)
	assert.InDelta(t, state.Difficulty, back.Difficulty, 1e-9)
	assert.Equal(t, state.Reps, back.Reps)
	assert.Equal(t, state.Lapses, back.Lapses)
	assert.True(t, state.NextReview.Equal(back.NextReview))
	assert.Equal(t, state.State, back.State)
	require.NotNil(t, back.LastReview)
	assert.True(t, state.LastReview.Equal(*back.LastReview))
}

func TestCardRoundTrip_NewState(t *testing.T) {
	e := NewEngine()
	fresh := e.InitializeState(testNow)

	back := fromCard(toCard(&fresh))

	assert.Equal(t, models.ConceptStateNew, back.State)
	assert.Equal(t, 0, back.Reps)
	assert.Nil(t, back.LastReview)
	assert.True(t, fresh.NextReview.Equal(back.NextReview))
}

func TestSchedule_FirstReview(t *testing.T) {
	e := NewEngine()
	fresh := e.InitializeState(testNow)

	next, rating := e.Schedule(&fresh, true, testNow)

	assert.Equal(t, 1, next.Reps)
	assert.Equal(t, 0, next.Lapses)
	assert.True(t, next.NextReview.After(testNow))
	assert.NotEqual(t, models.ConceptStateNew, next.State)
	require.NotNil(t, next.LastReview)
	assert.True(t, next.LastReview.Equal(testNow))
	assert.EqualValues(t, 3, rating)
	require.NotNil(t, next.Retrievability)
	assert.GreaterOrEqual(t, *next.Retrievability, 0.0)
}

func TestSchedule_NilStateTreatedAsNew(t *testing.T) {
	e := NewEngine()

	next, _ := e.Schedule(nil, true, testNow)

	assert.Equal(t, 1, next.Reps)
	assert.True(t, next.NextReview.After(testNow))
}

func TestSchedule_IncorrectFromReviewLapses(t *testing.T) {
	e := NewEngine()
	state := reviewedState(testNow.Add(-5*24*time.Hour), testNow)

	next, rating := e.Schedule(state, false, testNow)

	assert.EqualValues(t, 1, rating)
	assert.Equal(t, state.Lapses+1, next.Lapses)
	assert.Equal(t, models.ConceptStateRelearning, next.State)
	assert.GreaterOrEqual(t, next.Reps, state.Reps)
}

func TestSchedule_CorrectNeverLapses(t *testing.T) {
	e := NewEngine()
	state := reviewedState(testNow.Add(-5*24*time.Hour), testNow)

	next, _ := e.Schedule(state, true, testNow)

	assert.Equal(t, state.Lapses, next.Lapses)
	assert.Greater(t, next.Reps, state.Reps)
	assert.True(t, next.NextReview.After(testNow))
}

func TestSchedule_RepsNeverDecrease(t *testing.T) {
	e := NewEngine()
	state := &models.MemoryState{
		NextReview: testNow,
		State:      models.ConceptStateNew,
		Reps:       7, // corrupt: new state claiming prior reps
	}

	next, _ := e.Schedule(state, true, testNow)
	assert.GreaterOrEqual(t, next.Reps, 7)
}
