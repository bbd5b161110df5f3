package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/config"
	"github.com/loci-ai/loci-engine/pkg/llm"
	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/prompts"
	"github.com/loci-ai/loci-engine/pkg/repositories"
	"github.com/loci-ai/loci-engine/pkg/scheduler"
	"github.com/loci-ai/loci-engine/pkg/services/workqueue"
	"github.com/loci-ai/loci-engine/pkg/stats"
)

// GenerationService runs the asynchronous content-generation pipeline. A job
// advances through discrete steps executed off-request by the work queue:
// one synthesis call that plans concepts (Stage A), then one phrasing call
// per concept (Stage B). Every step persists its full outcome before the
// next is scheduled, so a restart loses at most the in-flight call.
type GenerationService interface {
	CreateJob(ctx context.Context, userID uuid.UUID, prompt string) (*models.GenerationJob, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
	CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error)
	Step(ctx context.Context, jobID uuid.UUID) (bool, error)
	RecoverUnfinished(ctx context.Context) error
}

type generationService struct {
	tx       TxRunner
	jobs     repositories.GenerationJobRepository
	concepts repositories.ConceptRepository
	client   llm.GenerationClient
	runner   *workqueue.Runner
	engine   *scheduler.Engine
	cfg      config.AIConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewGenerationService creates a new GenerationService and registers its
// failure handler on the runner.
func NewGenerationService(
	tx TxRunner,
	jobs repositories.GenerationJobRepository,
	concepts repositories.ConceptRepository,
	client llm.GenerationClient,
	runner *workqueue.Runner,
	engine *scheduler.Engine,
	cfg config.AIConfig,
	logger *zap.Logger,
) GenerationService {
	s := &generationService{
		tx:       tx,
		jobs:     jobs,
		concepts: concepts,
		client:   client,
		runner:   runner,
		engine:   engine,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("generation-service"),
	}
	runner.SetOnFailure(s.failJob)
	return s
}

var _ GenerationService = (*generationService)(nil)

// ============================================================================
// Job lifecycle
// ============================================================================

func (s *generationService) CreateJob(ctx context.Context, userID uuid.UUID, prompt string) (*models.GenerationJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	job := &models.GenerationJob{
		UserID: userID,
		Prompt: prompt,
		Status: models.JobStatusPending,
		Phase:  models.JobPhaseClarifying,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("generation job created",
		zap.String("job_id", job.ID.String()),
		zap.Int("prompt_length", len(prompt)))

	s.enqueue(job.ID)
	return job, nil
}

func (s *generationService) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperrors.ErrUnauthorized
	}
	return job, nil
}

func (s *generationService) ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.jobs.ListByUser(ctx, userID, limit)
}

// CancelJob moves a job to cancelled and drops any scheduled steps.
// Cancelling twice is a no-op; cancelling a completed or failed job returns
// ErrJobTerminal. Concepts and phrasings created so far are kept.
func (s *generationService) CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCancelled {
		return job, nil
	}
	if job.IsTerminal() {
		return nil, apperrors.ErrJobTerminal
	}

	s.runner.CancelJob(jobID)

	now := s.now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("generation job cancelled",
		zap.String("job_id", jobID.String()),
		zap.String("phase", string(job.Phase)),
		zap.Int("phrasings_saved", job.PhrasingSaved))

	return job, nil
}

// RecoverUnfinished re-enqueues jobs left pending or processing by a
// previous process. Persisted phase and pending concept ids make every step
// boundary a safe resume point.
func (s *generationService) RecoverUnfinished(ctx context.Context) error {
	unfinished, err := s.jobs.ListUnfinished(ctx)
	if err != nil {
		return err
	}

	for _, job := range unfinished {
		s.logger.Info("recovering interrupted generation job",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)),
			zap.String("phase", string(job.Phase)))
		s.enqueue(job.ID)
	}

	if len(unfinished) > 0 {
		s.logger.Info("generation job recovery complete", zap.Int("count", len(unfinished)))
	}
	return nil
}

func (s *generationService) enqueue(jobID uuid.UUID) {
	s.runner.Submit(jobID, func(ctx context.Context) (bool, error) {
		return s.Step(ctx, jobID)
	})
}

// ============================================================================
// Pipeline steps
// ============================================================================

// Step advances the job by exactly one unit of work and persists the result.
// It returns requeue=true while the job has more steps. Transient errors are
// returned unpersisted so the caller can retry the same step.
func (s *generationService) Step(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.IsTerminal() {
		// Cancelled (or already finished) between steps; nothing to do.
		return false, nil
	}

	switch job.Phase {
	case models.JobPhaseClarifying, models.JobPhaseConceptSynthesis:
		return s.stepSynthesis(ctx, job)
	case models.JobPhaseGenerating, models.JobPhasePhrasingGeneration:
		return s.stepPhrasings(ctx, job)
	case models.JobPhaseFinalizing:
		return false, s.complete(ctx, job)
	default:
		return false, fmt.Errorf("job %s in unknown phase %q", job.ID, job.Phase)
	}
}

// stepSynthesis is Stage A: one model call that plans the concept set, then
// one concept row per surviving candidate.
func (s *generationService) stepSynthesis(ctx context.Context, job *models.GenerationJob) (bool, error) {
	now := s.now()
	if job.Status == models.JobStatusPending {
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
		job.Phase = models.JobPhaseConceptSynthesis
		if err := s.jobs.Update(ctx, job); err != nil {
			return false, err
		}
	}

	prompt := prompts.BuildConceptSynthesisPrompt(job.Prompt, s.cfg.MaxConceptsPerJob)
	raw, err := s.client.Complete(ctx, prompts.ConceptSynthesisSystemMessage, prompt)
	if err != nil {
		return false, err
	}

	candidates, err := llm.ParseJSONResponse[[]llm.ConceptCandidate](raw)
	if err != nil {
		return false, llm.NewError(llm.ErrorTypeUnknown, "unparseable synthesis response", false, err)
	}

	created, err := s.createConcepts(ctx, job.UserID, candidates)
	if err != nil {
		return false, err
	}
	if len(created) == 0 {
		// Everything was a duplicate or malformed. That is a valid empty
		// outcome, not a failure.
		job.Phase = models.JobPhaseFinalizing
		if err := s.jobs.Update(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	}

	estimated := len(created) * s.cfg.TargetPhrasingCount
	job.Phase = models.JobPhasePhrasingGeneration
	job.ConceptIDs = created
	job.PendingConceptIDs = created
	job.EstimatedTotal = &estimated
	if err := s.jobs.Update(ctx, job); err != nil {
		return false, err
	}

	s.logger.Info("concept synthesis complete",
		zap.String("job_id", job.ID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("created", len(created)))

	return true, nil
}

// createConcepts persists surviving candidates. Duplicates of existing
// active titles and titles below the minimum length are skipped silently;
// skipping is progress, not failure.
func (s *generationService) createConcepts(ctx context.Context, userID uuid.UUID, candidates []llm.ConceptCandidate) ([]uuid.UUID, error) {
	now := s.now()
	var created []uuid.UUID
	seen := make(map[string]bool)

	for _, candidate := range candidates {
		if err := candidate.Validate(); err != nil {
			s.logger.Debug("skipping malformed concept candidate", zap.Error(err))
			continue
		}

		norm := models.NormalizeTitle(candidate.Title)
		if seen[norm] {
			continue
		}
		seen[norm] = true

		exists, err := s.concepts.ExistsActiveTitle(ctx, userID, norm)
		if err != nil {
			return created, err
		}
		if exists {
			s.logger.Debug("skipping duplicate concept candidate",
				zap.String("title", candidate.Title))
			continue
		}

		concept := &models.Concept{
			UserID:      userID,
			Title:       strings.TrimSpace(candidate.Title),
			Description: strings.TrimSpace(candidate.Description),
			ContentType: "generated",
			Memory:      s.engine.InitializeState(now),
		}

		err = s.tx.InTx(ctx, func(r *TxRepos) error {
			if err := r.Concepts.Create(ctx, concept); err != nil {
				return err
			}
			delta := stats.DeltaForCreate(concept.Memory.State, concept.Memory.NextReview, now)
			return r.Stats.ApplyDelta(ctx, userID, &delta)
		})
		if err != nil {
			return created, err
		}

		created = append(created, concept.ID)
	}

	return created, nil
}

// stepPhrasings is Stage B: one model call generating phrasing variants for
// the next pending concept.
func (s *generationService) stepPhrasings(ctx context.Context, job *models.GenerationJob) (bool, error) {
	if len(job.PendingConceptIDs) == 0 {
		job.Phase = models.JobPhaseFinalizing
		if err := s.jobs.Update(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	}

	conceptID := job.PendingConceptIDs[0]
	concept, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return false, err
	}
	if err != nil || !concept.IsActive() {
		// Concept removed or archived mid-job; drop it and move on.
		job.PendingConceptIDs = job.PendingConceptIDs[1:]
		return true, s.jobs.Update(ctx, job)
	}

	prompt := prompts.BuildPhrasingGenerationPrompt(concept.Title, concept.Description, s.cfg.TargetPhrasingCount)
	raw, err := s.client.Complete(ctx, prompts.PhrasingGenerationSystemMessage, prompt)
	if err != nil {
		return false, err
	}

	candidates, err := llm.ParseJSONResponse[[]llm.PhrasingCandidate](raw)
	if err != nil {
		return false, llm.NewError(llm.ErrorTypeUnknown, "unparseable phrasing response", false, err)
	}

	saved, err := s.savePhrasings(ctx, concept, candidates)
	if err != nil {
		return false, err
	}

	job.PhrasingGenerated += len(candidates)
	job.PhrasingSaved += saved
	job.PendingConceptIDs = job.PendingConceptIDs[1:]
	if err := s.jobs.Update(ctx, job); err != nil {
		return false, err
	}

	s.logger.Info("phrasings generated for concept",
		zap.String("job_id", job.ID.String()),
		zap.String("concept_id", conceptID.String()),
		zap.Int("generated", len(candidates)),
		zap.Int("saved", saved),
		zap.Int("remaining", len(job.PendingConceptIDs)))

	return true, nil
}

// savePhrasings validates and persists candidates for one concept. Invalid
// candidates are dropped individually; the generated/saved divergence is the
// job's record of partial validation failure.
func (s *generationService) savePhrasings(ctx context.Context, concept *models.Concept, candidates []llm.PhrasingCandidate) (int, error) {
	saved := 0
	for _, candidate := range candidates {
		if err := candidate.Validate(); err != nil {
			s.logger.Debug("skipping invalid phrasing candidate",
				zap.String("concept_id", concept.ID.String()),
				zap.Error(err))
			continue
		}

		phrasing := &models.Phrasing{
			ConceptID:     concept.ID,
			UserID:        concept.UserID,
			Question:      strings.TrimSpace(candidate.Question),
			AnswerOptions: candidate.Options,
			CorrectAnswer: strings.TrimSpace(candidate.CorrectAnswer),
			Explanation:   strings.TrimSpace(candidate.Explanation),
			PhrasingType:  candidate.Type,
		}

		err := s.tx.InTx(ctx, func(r *TxRepos) error {
			if err := r.Phrasings.Create(ctx, phrasing); err != nil {
				return err
			}
			return r.Concepts.AdjustPhrasingCount(ctx, concept.ID, 1)
		})
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// complete moves a finalizing job to completed.
func (s *generationService) complete(ctx context.Context, job *models.GenerationJob) error {
	now := s.now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		return err
	}

	s.logger.Info("generation job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("concepts", len(job.ConceptIDs)),
		zap.Int("phrasing_generated", job.PhrasingGenerated),
		zap.Int("phrasing_saved", job.PhrasingSaved))

	return nil
}

// failJob persists terminal failure once the runner gives up on a step.
// Concepts and phrasings already saved stay; the error classification tells
// the client whether resubmitting the same prompt is worthwhile.
func (s *generationService) failJob(jobID uuid.UUID, stepErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Error("failed to load job for failure persistence",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
		return
	}
	if job.IsTerminal() {
		return
	}

	classified := llm.ClassifyError(stepErr)
	now := s.now()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = classified.Message
	job.ErrorCode = string(classified.Type)
	job.Retryable = classified.Retryable
	job.CompletedAt = &now

	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to persist job failure",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
		return
	}

	s.logger.Warn("generation job failed",
		zap.String("job_id", jobID.String()),
		zap.String("error_code", job.ErrorCode),
		zap.Bool("retryable", job.Retryable),
		zap.Int("phrasings_saved", job.PhrasingSaved))
}
