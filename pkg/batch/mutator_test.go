package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeStore simulates an indexed table where the patch flips the field the
// selector filters on, so patched rows drop out of subsequent fetches.
type fakeStore struct {
	unpatched  map[int]bool
	fetchCalls int
	patched    []int
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{unpatched: make(map[int]bool, n)}
	for i := 0; i < n; i++ {
		s.unpatched[i] = true
	}
	return s
}

func (s *fakeStore) fetch(_ context.Context, limit int) ([]int, error) {
	s.fetchCalls++
	out := make([]int, 0, limit)
	for id := range s.unpatched {
		if len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *fakeStore) patch(_ context.Context, id int) error {
	delete(s.unpatched, id)
	s.patched = append(s.patched, id)
	return nil
}

func TestApply_PatchesEveryRecordExactlyOnce(t *testing.T) {
	tests := []struct {
		n         int
		wantReads int
	}{
		{0, 1},
		{12, 1},
		{50, 2},
		{75, 2},
		{150, 4},
	}

	for _, tt := range tests {
		store := newFakeStore(tt.n)
		m := New(50, 100, zap.NewNop())

		processed, err := Apply(context.Background(), m, store.fetch, store.patch)

		require.NoError(t, err)
		assert.Equal(t, tt.n, processed, "n=%d", tt.n)
		assert.Equal(t, tt.wantReads, store.fetchCalls, "n=%d", tt.n)

		// None patched twice.
		seen := map[int]bool{}
		for _, id := range store.patched {
			assert.False(t, seen[id], "record %d patched twice", id)
			seen[id] = true
		}
		assert.Empty(t, store.unpatched)
	}
}

func TestApply_IterationCeiling(t *testing.T) {
	// Exactly maxPerBatch * maxIterations records: everything is processed
	// but the ceiling warning fires once, because the mutator cannot know
	// the table is exhausted.
	const perBatch, iterations = 10, 5
	store := newFakeStore(perBatch * iterations)

	core, logs := observer.New(zap.WarnLevel)
	m := New(perBatch, iterations, zap.New(core))

	processed, err := Apply(context.Background(), m, store.fetch, store.patch)

	require.NoError(t, err)
	assert.Equal(t, perBatch*iterations, processed)
	assert.Equal(t, iterations, store.fetchCalls)
	assert.Equal(t, 1, logs.FilterMessageSnippet("iteration ceiling").Len())
}

func TestApply_CeilingNeverProcessesMore(t *testing.T) {
	const perBatch, iterations = 10, 3
	store := newFakeStore(1000)

	m := New(perBatch, iterations, zap.NewNop())

	processed, err := Apply(context.Background(), m, store.fetch, store.patch)

	require.NoError(t, err)
	assert.Equal(t, perBatch*iterations, processed)
	assert.Len(t, store.unpatched, 1000-perBatch*iterations)
}

func TestApply_FetchErrorStops(t *testing.T) {
	boom := errors.New("index unavailable")
	m := New(50, 100, zap.NewNop())

	fetch := func(context.Context, int) ([]int, error) { return nil, boom }
	patch := func(context.Context, int) error { return nil }

	processed, err := Apply(context.Background(), m, fetch, patch)

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, processed)
}

func TestApply_PatchErrorReturnsPartialCount(t *testing.T) {
	store := newFakeStore(5)
	boom := errors.New("write conflict")

	failAfter := 3
	patch := func(ctx context.Context, id int) error {
		if len(store.patched) == failAfter {
			return boom
		}
		return store.patch(ctx, id)
	}

	m := New(50, 100, zap.NewNop())
	processed, err := Apply(context.Background(), m, store.fetch, patch)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, failAfter, processed)
}

func TestApply_ContextCancellation(t *testing.T) {
	store := newFakeStore(100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(10, 100, zap.NewNop())
	processed, err := Apply(ctx, m, store.fetch, store.patch)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, processed)
}
