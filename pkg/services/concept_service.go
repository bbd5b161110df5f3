package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/batch"
	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/repositories"
	"github.com/loci-ai/loci-engine/pkg/scheduler"
	"github.com/loci-ai/loci-engine/pkg/stats"
)

// CreateConceptRequest carries a manually created concept.
type CreateConceptRequest struct {
	UserID      uuid.UUID
	Title       string
	Description string
	ContentType string
}

// CreatePhrasingRequest carries a manually created phrasing.
type CreatePhrasingRequest struct {
	UserID        uuid.UUID
	ConceptID     uuid.UUID
	Question      string
	AnswerOptions []string
	CorrectAnswer string
	Explanation   string
	PhrasingType  string
}

// ConceptService manages concept and phrasing lifecycle: creation, the
// archive/restore/delete transitions with their phrasing cascades, and
// canonical phrasing assignment.
type ConceptService interface {
	CreateConcept(ctx context.Context, req CreateConceptRequest) (*models.Concept, error)
	GetConcept(ctx context.Context, userID, conceptID uuid.UUID) (*models.Concept, error)
	ListConcepts(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error)
	ListArchivedConcepts(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error)
	ArchiveConcept(ctx context.Context, userID, conceptID uuid.UUID) error
	RestoreConcept(ctx context.Context, userID, conceptID uuid.UUID) error
	DeleteConcept(ctx context.Context, userID, conceptID uuid.UUID) error
	CreatePhrasing(ctx context.Context, req CreatePhrasingRequest) (*models.Phrasing, error)
	ArchivePhrasing(ctx context.Context, userID, phrasingID uuid.UUID) error
	SetCanonicalPhrasing(ctx context.Context, userID, conceptID uuid.UUID, phrasingID *uuid.UUID) error
}

type conceptService struct {
	tx        TxRunner
	concepts  repositories.ConceptRepository
	phrasings repositories.PhrasingRepository
	stats     repositories.UserStatsRepository
	engine    *scheduler.Engine
	mutator   *batch.Mutator
	now       func() time.Time
	logger    *zap.Logger
}

// NewConceptService creates a new ConceptService.
func NewConceptService(
	tx TxRunner,
	concepts repositories.ConceptRepository,
	phrasings repositories.PhrasingRepository,
	statsRepo repositories.UserStatsRepository,
	engine *scheduler.Engine,
	mutator *batch.Mutator,
	logger *zap.Logger,
) ConceptService {
	return &conceptService{
		tx:        tx,
		concepts:  concepts,
		phrasings: phrasings,
		stats:     statsRepo,
		engine:    engine,
		mutator:   mutator,
		now:       time.Now,
		logger:    logger.Named("concept-service"),
	}
}

var _ ConceptService = (*conceptService)(nil)

// ============================================================================
// Concepts
// ============================================================================

func (s *conceptService) CreateConcept(ctx context.Context, req CreateConceptRequest) (*models.Concept, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	now := s.now()
	concept := &models.Concept{
		UserID:      req.UserID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		ContentType: req.ContentType,
		Memory:      s.engine.InitializeState(now),
	}

	err := s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Concepts.Create(ctx, concept); err != nil {
			return err
		}

		delta := stats.DeltaForCreate(concept.Memory.State, concept.Memory.NextReview, now)
		return r.Stats.ApplyDelta(ctx, req.UserID, &delta)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("concept created",
		zap.String("concept_id", concept.ID.String()),
		zap.String("title", concept.Title))

	return concept, nil
}

func (s *conceptService) GetConcept(ctx context.Context, userID, conceptID uuid.UUID) (*models.Concept, error) {
	concept, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	if concept.UserID != userID {
		return nil, apperrors.ErrUnauthorized
	}
	if concept.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	return concept, nil
}

func (s *conceptService) ListConcepts(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	return s.concepts.ListActive(ctx, userID)
}

func (s *conceptService) ListArchivedConcepts(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	return s.concepts.ListArchived(ctx, userID)
}

// ArchiveConcept removes a concept from scheduling and archives its active
// phrasings in bounded batches. The concept flip and the stats delta commit
// together; the cascade runs after, relying on the fetch queries excluding
// already-archived rows so a crash mid-cascade resumes cleanly.
func (s *conceptService) ArchiveConcept(ctx context.Context, userID, conceptID uuid.UUID) error {
	now := s.now()

	concept, err := s.GetConcept(ctx, userID, conceptID)
	if err != nil {
		return err
	}
	if concept.ArchivedAt != nil {
		return nil // already archived, idempotent
	}

	err = s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Concepts.Archive(ctx, conceptID, now); err != nil {
			return err
		}

		delta := stats.DeltaForRemove(concept.Memory.State, concept.Memory.NextReview, now)
		return r.Stats.ApplyDelta(ctx, userID, &delta)
	})
	if err != nil {
		return fmt.Errorf("failed to archive concept: %w", err)
	}

	archived, err := batch.Apply(ctx, s.mutator,
		func(ctx context.Context, limit int) ([]*models.Phrasing, error) {
			return s.phrasings.ListActiveBatch(ctx, conceptID, limit)
		},
		func(ctx context.Context, p *models.Phrasing) error {
			return s.phrasings.Archive(ctx, p.ID, now)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to archive phrasings: %w", err)
	}
	if err := s.concepts.SetPhrasingCount(ctx, conceptID, 0); err != nil {
		return err
	}

	s.logger.Info("concept archived",
		zap.String("concept_id", conceptID.String()),
		zap.Int("phrasings_archived", archived))

	return nil
}

// RestoreConcept returns an archived concept to scheduling and unarchives
// its phrasings.
func (s *conceptService) RestoreConcept(ctx context.Context, userID, conceptID uuid.UUID) error {
	now := s.now()

	concept, err := s.GetConcept(ctx, userID, conceptID)
	if err != nil {
		return err
	}
	if concept.ArchivedAt == nil {
		return nil // not archived, idempotent
	}

	err = s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Concepts.Restore(ctx, conceptID); err != nil {
			return err
		}

		delta := stats.DeltaForCreate(concept.Memory.State, concept.Memory.NextReview, now)
		return r.Stats.ApplyDelta(ctx, userID, &delta)
	})
	if err != nil {
		return fmt.Errorf("failed to restore concept: %w", err)
	}

	restored, err := batch.Apply(ctx, s.mutator,
		func(ctx context.Context, limit int) ([]*models.Phrasing, error) {
			return s.phrasings.ListArchivedBatch(ctx, conceptID, limit)
		},
		func(ctx context.Context, p *models.Phrasing) error {
			return s.phrasings.Restore(ctx, p.ID)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to restore phrasings: %w", err)
	}
	if err := s.concepts.SetPhrasingCount(ctx, conceptID, restored); err != nil {
		return err
	}

	s.logger.Info("concept restored",
		zap.String("concept_id", conceptID.String()),
		zap.Int("phrasings_restored", restored))

	return nil
}

// DeleteConcept soft-deletes a concept and all its remaining phrasings.
// Interactions are immutable history and are never touched.
func (s *conceptService) DeleteConcept(ctx context.Context, userID, conceptID uuid.UUID) error {
	now := s.now()

	concept, err := s.GetConcept(ctx, userID, conceptID)
	if err != nil {
		return err
	}
	wasActive := concept.ArchivedAt == nil

	err = s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Concepts.SoftDelete(ctx, conceptID, now); err != nil {
			return err
		}

		// Archived concepts already left the aggregate when archived.
		if !wasActive {
			return nil
		}
		delta := stats.DeltaForRemove(concept.Memory.State, concept.Memory.NextReview, now)
		return r.Stats.ApplyDelta(ctx, userID, &delta)
	})
	if err != nil {
		return fmt.Errorf("failed to delete concept: %w", err)
	}

	deleted, err := batch.Apply(ctx, s.mutator,
		func(ctx context.Context, limit int) ([]*models.Phrasing, error) {
			return s.phrasings.ListUndeletedBatch(ctx, conceptID, limit)
		},
		func(ctx context.Context, p *models.Phrasing) error {
			return s.phrasings.SoftDelete(ctx, p.ID, now)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to delete phrasings: %w", err)
	}

	s.logger.Info("concept deleted",
		zap.String("concept_id", conceptID.String()),
		zap.Int("phrasings_deleted", deleted))

	return nil
}

// ============================================================================
// Phrasings
// ============================================================================

func (s *conceptService) CreatePhrasing(ctx context.Context, req CreatePhrasingRequest) (*models.Phrasing, error) {
	concept, err := s.GetConcept(ctx, req.UserID, req.ConceptID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}
	phrasingType := req.PhrasingType
	if phrasingType == "" {
		phrasingType = models.PhrasingTypeMultipleChoice
	}

	phrasing := &models.Phrasing{
		ConceptID:     concept.ID,
		UserID:        req.UserID,
		Question:      strings.TrimSpace(req.Question),
		AnswerOptions: req.AnswerOptions,
		CorrectAnswer: req.CorrectAnswer,
		Explanation:   req.Explanation,
		PhrasingType:  phrasingType,
	}

	err = s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Phrasings.Create(ctx, phrasing); err != nil {
			return err
		}
		return r.Concepts.AdjustPhrasingCount(ctx, concept.ID, 1)
	})
	if err != nil {
		return nil, err
	}

	return phrasing, nil
}

// ArchivePhrasing archives a single phrasing variant and decrements the
// concept's active count. Archiving the last variant leaves the concept in
// place but ineligible for review.
func (s *conceptService) ArchivePhrasing(ctx context.Context, userID, phrasingID uuid.UUID) error {
	now := s.now()

	phrasing, err := s.phrasings.GetByID(ctx, phrasingID)
	if err != nil {
		return err
	}
	if phrasing.UserID != userID {
		return apperrors.ErrUnauthorized
	}
	if !phrasing.IsActive() {
		return nil // idempotent
	}

	return s.tx.InTx(ctx, func(r *TxRepos) error {
		if err := r.Phrasings.Archive(ctx, phrasingID, now); err != nil {
			return err
		}
		return r.Concepts.AdjustPhrasingCount(ctx, phrasing.ConceptID, -1)
	})
}

// SetCanonicalPhrasing pins (or clears, with nil) the phrasing variant that
// always wins selection. The phrasing must belong to the concept and be
// active.
func (s *conceptService) SetCanonicalPhrasing(ctx context.Context, userID, conceptID uuid.UUID, phrasingID *uuid.UUID) error {
	concept, err := s.GetConcept(ctx, userID, conceptID)
	if err != nil {
		return err
	}

	if phrasingID != nil {
		phrasing, err := s.phrasings.GetByID(ctx, *phrasingID)
		if err != nil {
			return err
		}
		if phrasing.ConceptID != concept.ID {
			return fmt.Errorf("phrasing does not belong to concept: %w", apperrors.ErrConflict)
		}
		if !phrasing.IsActive() {
			return fmt.Errorf("canonical phrasing must be active: %w", apperrors.ErrConflict)
		}
	}

	return s.concepts.SetCanonicalPhrasing(ctx, conceptID, phrasingID)
}
