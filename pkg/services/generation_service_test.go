package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/config"
	"github.com/loci-ai/loci-engine/pkg/llm"
	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/scheduler"
	"github.com/loci-ai/loci-engine/pkg/services/workqueue"
)

const synthesisResponse = `[
	{"title": "Spacing effect", "description": "Distributed practice beats massed practice"},
	{"title": "Testing effect", "description": "Retrieval practice strengthens memory"}
]`

const phrasingResponse = `[
	{"question": "Q1?", "type": "multiple_choice", "options": ["a", "b"], "correctAnswer": "a", "explanation": "because"},
	{"question": "Q2?", "type": "true_false", "correctAnswer": "true", "explanation": ""},
	{"question": "", "type": "multiple_choice", "options": ["a", "b"], "correctAnswer": "a", "explanation": "invalid"}
]`

type generationFixture struct {
	svc      *generationService
	jobs     *mockJobRepo
	concepts *mockConceptRepo
	stats    *mockStatsRepo
	client   *llm.MockClient
}

func newGenerationFixture(t *testing.T, client *llm.MockClient) *generationFixture {
	t.Helper()

	jobs := newMockJobRepo()
	concepts := newMockConceptRepo()
	phrasings := newMockPhrasingRepo()
	statsRepo := newMockStatsRepo()
	tx := &fakeTxRunner{repos: &TxRepos{
		Concepts:     concepts,
		Phrasings:    phrasings,
		Interactions: &mockInteractionRepo{},
		Stats:        statsRepo,
	}}

	logger := zaptest.NewLogger(t)
	runner := workqueue.New(logger) // never started: tests drive Step directly

	cfg := config.AIConfig{
		TargetPhrasingCount: 3,
		MaxConceptsPerJob:   20,
	}

	svc := NewGenerationService(tx, jobs, concepts, client, runner, scheduler.NewEngine(), cfg, logger).(*generationService)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &generationFixture{
		svc:      svc,
		jobs:     jobs,
		concepts: concepts,
		stats:    statsRepo,
		client:   client,
	}
}

// runToCompletion drives Step until the job stops requeueing.
func (f *generationFixture) runToCompletion(t *testing.T, jobID uuid.UUID) *models.GenerationJob {
	t.Helper()
	for i := 0; i < 50; i++ {
		requeue, err := f.svc.Step(context.Background(), jobID)
		require.NoError(t, err)
		if !requeue {
			job, err := f.jobs.GetByID(context.Background(), jobID)
			require.NoError(t, err)
			return job
		}
	}
	t.Fatal("job did not terminate")
	return nil
}

func TestGenerationService_FullPipeline(t *testing.T) {
	client := llm.NewMockClient(synthesisResponse, phrasingResponse, phrasingResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	job, err := f.svc.CreateJob(context.Background(), userID, "memory research")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobPhaseClarifying, job.Phase)

	final := f.runToCompletion(t, job.ID)

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, models.JobPhaseFinalizing, final.Phase)
	require.NotNil(t, final.CompletedAt)
	assert.Len(t, final.ConceptIDs, 2)
	assert.Empty(t, final.PendingConceptIDs)

	// 3 candidates per concept, 1 invalid each.
	assert.Equal(t, 6, final.PhrasingGenerated)
	assert.Equal(t, 4, final.PhrasingSaved)
	require.NotNil(t, final.EstimatedTotal)
	assert.Equal(t, 6, *final.EstimatedTotal)

	// One synthesis call plus one phrasing call per concept.
	assert.Equal(t, 3, client.Calls())

	// Concepts are scheduled and counted.
	created, err := f.concepts.ListActive(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, c := range created {
		assert.Equal(t, models.ConceptStateNew, c.Memory.State)
		assert.Equal(t, 2, c.PhrasingCount)
	}
	s, err := f.stats.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalCards)
}

func TestGenerationService_DeduplicatesTitles(t *testing.T) {
	client := llm.NewMockClient(`[
		{"title": "Neural Networks", "description": "a"},
		{"title": "neural network", "description": "b"},
		{"title": "ab", "description": "too short"},
		{"title": "Backpropagation", "description": "c"}
	]`, phrasingResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	// An existing concept also collides case-insensitively.
	existing := &models.Concept{UserID: userID, Title: "Backpropagation"}
	require.NoError(t, f.concepts.Create(context.Background(), existing))

	job, err := f.svc.CreateJob(context.Background(), userID, "deep learning")
	require.NoError(t, err)

	final := f.runToCompletion(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	// "neural network" singularizes into "Neural Networks", "ab" is too
	// short, "Backpropagation" already exists.
	assert.Len(t, final.ConceptIDs, 1)
}

func TestGenerationService_ExistingPluralTitleBlocksSingularCandidate(t *testing.T) {
	client := llm.NewMockClient(`[
		{"title": "Neural  Network", "description": "a"},
		{"title": "Backpropagation", "description": "b"}
	]`, phrasingResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	// Stored plural, candidate singular with a doubled space: both sides
	// normalize to "neural network", so the candidate must be skipped.
	existing := &models.Concept{UserID: userID, Title: "Neural Networks"}
	require.NoError(t, f.concepts.Create(context.Background(), existing))

	job, err := f.svc.CreateJob(context.Background(), userID, "deep learning")
	require.NoError(t, err)

	final := f.runToCompletion(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Len(t, final.ConceptIDs, 1)

	created, err := f.concepts.ListActive(context.Background(), userID)
	require.NoError(t, err)
	titles := make([]string, 0, len(created))
	for _, c := range created {
		titles = append(titles, c.Title)
	}
	assert.ElementsMatch(t, []string{"Neural Networks", "Backpropagation"}, titles)
}

func TestGenerationService_EmptySynthesisCompletes(t *testing.T) {
	client := llm.NewMockClient(`[]`)
	f := newGenerationFixture(t, client)

	job, err := f.svc.CreateJob(context.Background(), uuid.New(), "nothing new")
	require.NoError(t, err)

	final := f.runToCompletion(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Empty(t, final.ConceptIDs)
	assert.Equal(t, 0, final.PhrasingSaved)
}

func TestGenerationService_TransientErrorSurfacesForRetry(t *testing.T) {
	rateLimited := llm.NewError(llm.ErrorTypeRateLimit, "rate limited", true, nil)
	client := llm.NewMockClientWithErrors(
		[]string{"", synthesisResponse},
		[]error{rateLimited, nil},
	)
	f := newGenerationFixture(t, client)

	job, err := f.svc.CreateJob(context.Background(), uuid.New(), "memory research")
	require.NoError(t, err)

	// First step fails retryably; the job stays processing with no error
	// persisted, so the same step can run again.
	_, err = f.svc.Step(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))

	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, stored.Status)
	assert.Empty(t, stored.ErrorCode)

	// Retry succeeds.
	requeue, err := f.svc.Step(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, requeue)
}

func TestGenerationService_FailJobPersistsClassification(t *testing.T) {
	client := llm.NewMockClient(synthesisResponse, phrasingResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	job, err := f.svc.CreateJob(context.Background(), userID, "memory research")
	require.NoError(t, err)

	// Stage A succeeds, then the job fails mid Stage B.
	requeue, err := f.svc.Step(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, requeue)
	requeue, err = f.svc.Step(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, requeue)

	f.svc.failJob(job.ID, llm.NewError(llm.ErrorTypeAPIKey, "authentication failed", false, nil))

	final, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, models.JobErrorAPIKey, final.ErrorCode)
	assert.False(t, final.Retryable)
	require.NotNil(t, final.CompletedAt)

	// Partial progress survives: concepts and the first batch of phrasings.
	assert.Len(t, final.ConceptIDs, 2)
	assert.Equal(t, 2, final.PhrasingSaved)
	created, err := f.concepts.ListActive(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestGenerationService_CancelJob(t *testing.T) {
	client := llm.NewMockClient(synthesisResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	job, err := f.svc.CreateJob(context.Background(), userID, "memory research")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelJob(context.Background(), userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	// Cancelling again is a no-op.
	again, err := f.svc.CancelJob(context.Background(), userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, again.Status)

	// A step scheduled before the cancel does nothing.
	requeue, err := f.svc.Step(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, requeue)
	assert.Equal(t, 0, client.Calls())
}

func TestGenerationService_CancelCompletedJobRejected(t *testing.T) {
	client := llm.NewMockClient(`[]`)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	job, err := f.svc.CreateJob(context.Background(), userID, "memory research")
	require.NoError(t, err)
	f.runToCompletion(t, job.ID)

	_, err = f.svc.CancelJob(context.Background(), userID, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrJobTerminal)
}

func TestGenerationService_WrongOwnerRejected(t *testing.T) {
	client := llm.NewMockClient(`[]`)
	f := newGenerationFixture(t, client)

	job, err := f.svc.CreateJob(context.Background(), uuid.New(), "memory research")
	require.NoError(t, err)

	_, err = f.svc.GetJob(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestGenerationService_UnparseableResponseIsNotRetryable(t *testing.T) {
	client := llm.NewMockClient("I cannot answer that")
	f := newGenerationFixture(t, client)

	job, err := f.svc.CreateJob(context.Background(), uuid.New(), "memory research")
	require.NoError(t, err)

	_, err = f.svc.Step(context.Background(), job.ID)
	require.Error(t, err)
	assert.False(t, llm.IsRetryable(err))
	assert.Equal(t, llm.ErrorTypeUnknown, llm.GetErrorType(err))
}

func TestGenerationService_DroppedConceptSkippedInStageB(t *testing.T) {
	client := llm.NewMockClient(synthesisResponse, phrasingResponse)
	f := newGenerationFixture(t, client)
	userID := uuid.New()

	job, err := f.svc.CreateJob(context.Background(), userID, "memory research")
	require.NoError(t, err)

	// Run Stage A.
	requeue, err := f.svc.Step(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, requeue)

	// Delete the first planned concept before its Stage B step.
	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, stored.PendingConceptIDs, 2)
	now := time.Now()
	require.NoError(t, f.concepts.SoftDelete(context.Background(), stored.PendingConceptIDs[0], now))

	final := f.runToCompletion(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	// Only the surviving concept got phrasings.
	assert.Equal(t, 2, final.PhrasingSaved)
}

func TestGenerationService_RecoverUnfinished(t *testing.T) {
	client := llm.NewMockClient(synthesisResponse)
	f := newGenerationFixture(t, client)

	// Simulate a job left processing by a dead process.
	job := &models.GenerationJob{
		UserID: uuid.New(),
		Prompt: "interrupted",
		Status: models.JobStatusProcessing,
		Phase:  models.JobPhasePhrasingGeneration,
	}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	require.NoError(t, f.svc.RecoverUnfinished(context.Background()))
	// The runner was never started, so the step is only queued; recovery
	// itself must not touch job state.
	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, stored.Status)
}
