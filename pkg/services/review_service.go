package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/config"
	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/repositories"
	"github.com/loci-ai/loci-engine/pkg/review"
	"github.com/loci-ai/loci-engine/pkg/scheduler"
	"github.com/loci-ai/loci-engine/pkg/stats"
)

// ReviewItem is the next card to present: a prioritized concept plus the
// phrasing variant chosen for it.
type ReviewItem struct {
	Concept        *models.Concept        `json:"concept"`
	Phrasing       *models.Phrasing       `json:"phrasing"`
	Retrievability float64                `json:"retrievability"`
	QueueDepth     int                    `json:"queue_depth"`
	Reason         review.SelectionReason `json:"reason"`
}

// RecordInteractionRequest carries one review answer.
type RecordInteractionRequest struct {
	UserID     uuid.UUID
	ConceptID  uuid.UUID
	PhrasingID uuid.UUID
	UserAnswer string
	IsCorrect  bool
	SessionID  *uuid.UUID
}

// ReviewResult is the outcome of recording an interaction.
type ReviewResult struct {
	Concept     *models.Concept     `json:"concept"`
	Interaction *models.Interaction `json:"interaction"`
	NextReview  time.Time           `json:"next_review"`
}

// ReviewService drives the review loop: what to show next, and what a
// submitted answer does to scheduling state and cached aggregates.
type ReviewService interface {
	NextReviewItem(ctx context.Context, userID uuid.UUID) (*ReviewItem, error)
	RecordInteraction(ctx context.Context, req RecordInteractionRequest) (*ReviewResult, error)
	GetDueCount(ctx context.Context, userID uuid.UUID) (int, error)
	GetUserCardStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
	RecalculateStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
}

type reviewService struct {
	tx          TxRunner
	concepts    repositories.ConceptRepository
	phrasings   repositories.PhrasingRepository
	stats       repositories.UserStatsRepository
	engine      *scheduler.Engine
	prioritizer *review.Prioritizer
	rng         *rand.Rand
	now         func() time.Time
	logger      *zap.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	tx TxRunner,
	concepts repositories.ConceptRepository,
	phrasings repositories.PhrasingRepository,
	statsRepo repositories.UserStatsRepository,
	engine *scheduler.Engine,
	cfg config.ReviewConfig,
	logger *zap.Logger,
) ReviewService {
	return &reviewService{
		tx:          tx,
		concepts:    concepts,
		phrasings:   phrasings,
		stats:       statsRepo,
		engine:      engine,
		prioritizer: review.NewPrioritizer(cfg.UrgentTierEpsilon, cfg.FreshnessWindow, cfg.FreshnessHalfLife),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		logger:      logger.Named("review-service"),
	}
}

var _ ReviewService = (*reviewService)(nil)

// NextReviewItem returns the highest-priority due concept with its selected
// phrasing, or nil when nothing is reviewable.
func (s *reviewService) NextReviewItem(ctx context.Context, userID uuid.UUID) (*ReviewItem, error) {
	now := s.now()

	concepts, err := s.concepts.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load review queue: %w", err)
	}

	due := make([]*models.Concept, 0, len(concepts))
	for _, c := range concepts {
		if s.engine.IsDue(&c.Memory, now) {
			due = append(due, c)
		}
	}

	queue := s.prioritizer.Prioritize(due, now, s.engine.Retrievability, s.rng)

	for _, entry := range queue {
		phrasings, err := s.phrasings.ListActiveByConcept(ctx, entry.Concept.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load phrasings: %w", err)
		}

		selection := review.SelectActivePhrasing(entry.Concept, phrasings)
		if selection == nil {
			// Counter drift: phrasing_count was positive but nothing is
			// active. Skip rather than fail the whole queue.
			s.logger.Warn("concept has no active phrasings despite positive count",
				zap.String("concept_id", entry.Concept.ID.String()))
			continue
		}

		return &ReviewItem{
			Concept:        entry.Concept,
			Phrasing:       selection.Phrasing,
			Retrievability: entry.Retrievability,
			QueueDepth:     len(queue),
			Reason:         selection.Reason,
		}, nil
	}

	return nil, nil
}

// RecordInteraction applies one answer atomically: reschedule the concept,
// append the immutable interaction, bump phrasing exposure counters, and
// apply the O(1) stats delta.
func (s *reviewService) RecordInteraction(ctx context.Context, req RecordInteractionRequest) (*ReviewResult, error) {
	now := s.now()

	var result *ReviewResult
	err := s.tx.InTx(ctx, func(r *TxRepos) error {
		concept, err := r.Concepts.GetByID(ctx, req.ConceptID)
		if err != nil {
			return err
		}
		if concept.UserID != req.UserID {
			return apperrors.ErrUnauthorized
		}
		if !concept.IsActive() {
			return fmt.Errorf("concept is not reviewable: %w", apperrors.ErrConflict)
		}

		phrasing, err := r.Phrasings.GetByID(ctx, req.PhrasingID)
		if err != nil {
			return err
		}
		if phrasing.ConceptID != concept.ID {
			return fmt.Errorf("phrasing does not belong to concept: %w", apperrors.ErrConflict)
		}

		oldState := concept.Memory.State
		oldNextReview := concept.Memory.NextReview

		newMemory, _ := s.engine.Schedule(&concept.Memory, req.IsCorrect, now)
		concept.Memory = newMemory

		if err := r.Concepts.UpdateMemory(ctx, concept); err != nil {
			return err
		}
		if err := r.Phrasings.RecordAttempt(ctx, phrasing.ID, req.IsCorrect, now); err != nil {
			return err
		}

		snapshot := newMemory
		scheduledDays := newMemory.ScheduledDays
		resultingDue := newMemory.NextReview
		interaction := &models.Interaction{
			UserID:        req.UserID,
			ConceptID:     concept.ID,
			PhrasingID:    phrasing.ID,
			UserAnswer:    req.UserAnswer,
			IsCorrect:     req.IsCorrect,
			SessionID:     req.SessionID,
			ScheduledDays: &scheduledDays,
			ResultingDue:  &resultingDue,
			MemoryState:   &snapshot,
		}
		if err := r.Interactions.Create(ctx, interaction); err != nil {
			return err
		}

		delta := stats.ComputeDelta(oldState, newMemory.State, &oldNextReview, &newMemory.NextReview, now)
		if err := r.Stats.ApplyDelta(ctx, req.UserID, delta); err != nil {
			return err
		}
		if err := s.maintainNextReviewTime(ctx, r.Stats, req.UserID, newMemory.NextReview, now); err != nil {
			return err
		}

		result = &ReviewResult{
			Concept:     concept,
			Interaction: interaction,
			NextReview:  newMemory.NextReview,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrUnauthorized) {
			s.logger.Error("failed to record interaction",
				zap.String("concept_id", req.ConceptID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("interaction recorded",
		zap.String("concept_id", req.ConceptID.String()),
		zap.Bool("is_correct", req.IsCorrect),
		zap.Time("next_review", result.NextReview))

	return result, nil
}

// maintainNextReviewTime keeps the cached earliest-upcoming-review pointer
// monotone: it only moves earlier, or fills in when unset or already past.
func (s *reviewService) maintainNextReviewTime(ctx context.Context, statsRepo repositories.UserStatsRepository, userID uuid.UUID, candidate time.Time, now time.Time) error {
	current, err := statsRepo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if candidate.After(now) &&
		(current.NextReviewTime == nil || current.NextReviewTime.Before(now) || candidate.Before(*current.NextReviewTime)) {
		return statsRepo.SetNextReviewTime(ctx, userID, &candidate)
	}
	return nil
}

// GetDueCount reads the cached due counter without scanning concepts.
func (s *reviewService) GetDueCount(ctx context.Context, userID uuid.UUID) (int, error) {
	userStats, err := s.stats.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get due count: %w", err)
	}
	return userStats.DueNowCount, nil
}

// GetUserCardStats returns the cached aggregate row.
func (s *reviewService) GetUserCardStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	userStats, err := s.stats.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return userStats, nil
}

// RecalculateStats rebuilds the aggregate from the concept table, repairing
// any drift the incremental deltas accumulated.
func (s *reviewService) RecalculateStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	userStats, err := s.stats.Recalculate(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("user stats recalculated",
		zap.String("user_id", userID.String()),
		zap.Int("total_cards", userStats.TotalCards),
		zap.Int("due_now", userStats.DueNowCount))

	return userStats, nil
}
