// Package batch applies a patch across an unbounded set of records in
// bounded batches, so a set-wide mutation never holds a connection for an
// unbounded stretch.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FetchFunc returns up to limit records still matching the selector. The
// selector predicate MUST exclude already-patched records (typically by
// filtering on the field the patch changes); otherwise pagination revisits
// mutated rows and the processed count is wrong.
type FetchFunc[T any] func(ctx context.Context, limit int) ([]T, error)

// PatchFunc mutates one record.
type PatchFunc[T any] func(ctx context.Context, item T) error

// Mutator holds the batching limits.
type Mutator struct {
	maxPerBatch   int
	maxIterations int
	logger        *zap.Logger
}

// New creates a Mutator. Non-positive limits fall back to 50 records per
// batch and 100 iterations.
func New(maxPerBatch, maxIterations int, logger *zap.Logger) *Mutator {
	if maxPerBatch < 1 {
		maxPerBatch = 50
	}
	if maxIterations < 1 {
		maxIterations = 100
	}
	return &Mutator{
		maxPerBatch:   maxPerBatch,
		maxIterations: maxIterations,
		logger:        logger.Named("batch"),
	}
}

// Apply repeatedly fetches batches and patches each record until a fetch
// returns fewer than the batch size or the iteration ceiling is reached.
// Hitting the ceiling is not an error: it is a logged anomaly with partial
// completion, because an unbounded retry could never terminate if the
// underlying data keeps growing. Returns the number of records patched.
func Apply[T any](ctx context.Context, m *Mutator, fetch FetchFunc[T], patch PatchFunc[T]) (int, error) {
	processed := 0

	for iteration := 0; iteration < m.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		items, err := fetch(ctx, m.maxPerBatch)
		if err != nil {
			return processed, fmt.Errorf("fetch batch %d: %w", iteration, err)
		}

		for _, item := range items {
			if err := patch(ctx, item); err != nil {
				return processed, fmt.Errorf("patch record in batch %d: %w", iteration, err)
			}
			processed++
		}

		if len(items) < m.maxPerBatch {
			return processed, nil
		}
	}

	m.logger.Warn("batch mutation hit iteration ceiling with records possibly remaining",
		zap.Int("max_iterations", m.maxIterations),
		zap.Int("max_per_batch", m.maxPerBatch),
		zap.Int("processed", processed))

	return processed, nil
}
