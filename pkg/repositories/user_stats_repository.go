package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/stats"
)

// UserStatsRepository provides access to the cached per-user aggregate row.
// ApplyDelta is the only write path the hot loop uses; Recalculate is a
// full-scan backstop for repairing drift.
type UserStatsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta *stats.Delta) error
	SetNextReviewTime(ctx context.Context, userID uuid.UUID, at *time.Time) error
	Recalculate(ctx context.Context, userID uuid.UUID, now time.Time) (*models.UserStats, error)
}

type userStatsRepository struct {
	db Querier
}

// NewUserStatsRepository creates a new UserStatsRepository.
func NewUserStatsRepository(db Querier) UserStatsRepository {
	return &userStatsRepository{db: db}
}

var _ UserStatsRepository = (*userStatsRepository)(nil)

func (r *userStatsRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	query := `
		SELECT user_id, total_cards, new_count, learning_count, mature_count,
		       due_now_count, next_review_time, last_calculated
		FROM user_stats
		WHERE user_id = $1`

	var s models.UserStats
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.TotalCards, &s.NewCount, &s.LearningCount,
		&s.MatureCount, &s.DueNowCount, &s.NextReviewTime, &s.LastCalculated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A user with no concepts has an all-zero aggregate.
			return &models.UserStats{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}

	return &s, nil
}

func (r *userStatsRepository) ApplyDelta(ctx context.Context, userID uuid.UUID, delta *stats.Delta) error {
	if delta == nil || delta.IsZero() {
		return nil
	}

	// Single atomic increment; the GREATEST guards keep counters from going
	// negative if a delta is ever applied twice.
	query := `
		INSERT INTO user_stats (
			user_id, total_cards, new_count, learning_count, mature_count,
			due_now_count, last_calculated
		) VALUES ($1, GREATEST(0, $2), GREATEST(0, $3), GREATEST(0, $4), GREATEST(0, $5), GREATEST(0, $6), $7)
		ON CONFLICT (user_id) DO UPDATE SET
			total_cards = GREATEST(0, user_stats.total_cards + $2),
			new_count = GREATEST(0, user_stats.new_count + $3),
			learning_count = GREATEST(0, user_stats.learning_count + $4),
			mature_count = GREATEST(0, user_stats.mature_count + $5),
			due_now_count = GREATEST(0, user_stats.due_now_count + $6),
			last_calculated = $7`

	_, err := r.db.Exec(ctx, query,
		userID,
		delta.TotalCards,
		delta.NewCount,
		delta.LearningCount,
		delta.MatureCount,
		delta.DueNowCount,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to apply stats delta: %w", err)
	}

	return nil
}

func (r *userStatsRepository) SetNextReviewTime(ctx context.Context, userID uuid.UUID, at *time.Time) error {
	query := `
		INSERT INTO user_stats (user_id, next_review_time, last_calculated)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			next_review_time = $2,
			last_calculated = now()`

	if _, err := r.db.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to set next review time: %w", err)
	}

	return nil
}

func (r *userStatsRepository) Recalculate(ctx context.Context, userID uuid.UUID, now time.Time) (*models.UserStats, error) {
	// Rebuild the aggregate from the concept table and overwrite the cached
	// row, discarding any accumulated drift.
	query := `
		WITH agg AS (
			SELECT
				COUNT(*) AS total_cards,
				COUNT(*) FILTER (WHERE state = 'new') AS new_count,
				COUNT(*) FILTER (WHERE state IN ('learning', 'relearning')) AS learning_count,
				COUNT(*) FILTER (WHERE state = 'review') AS mature_count,
				COUNT(*) FILTER (WHERE next_review <= $2) AS due_now_count,
				MIN(next_review) FILTER (WHERE next_review > $2) AS next_review_time
			FROM concepts
			WHERE user_id = $1 AND deleted_at IS NULL AND archived_at IS NULL
		)
		INSERT INTO user_stats (
			user_id, total_cards, new_count, learning_count, mature_count,
			due_now_count, next_review_time, last_calculated
		)
		SELECT $1, total_cards, new_count, learning_count, mature_count,
		       due_now_count, next_review_time, $2
		FROM agg
		ON CONFLICT (user_id) DO UPDATE SET
			total_cards = EXCLUDED.total_cards,
			new_count = EXCLUDED.new_count,
			learning_count = EXCLUDED.learning_count,
			mature_count = EXCLUDED.mature_count,
			due_now_count = EXCLUDED.due_now_count,
			next_review_time = EXCLUDED.next_review_time,
			last_calculated = EXCLUDED.last_calculated
		RETURNING user_id, total_cards, new_count, learning_count, mature_count,
		          due_now_count, next_review_time, last_calculated`

	var s models.UserStats
	err := r.db.QueryRow(ctx, query, userID, now).Scan(
		&s.UserID, &s.TotalCards, &s.NewCount, &s.LearningCount,
		&s.MatureCount, &s.DueNowCount, &s.NextReviewTime, &s.LastCalculated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recalculate user stats: %w", err)
	}

	return &s, nil
}
