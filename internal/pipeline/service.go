package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
)

// Submission is the answer to an accepted brief.
type Submission struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
	HTML   string           `json:"html"`
}

type ServiceOptions struct {
	Repo         domain.JobRepository
	Cache        domain.StatusCache
	Validator    *Validator
	Structure    *StructureGenerator
	Orchestrator *Orchestrator
	Logger       *infra.Logger
	Clock        func() time.Time
}

// Service is the job API used by the HTTP handlers.
type Service struct {
	repo         domain.JobRepository
	cache        domain.StatusCache
	validator    *Validator
	structure    *StructureGenerator
	orchestrator *Orchestrator
	continuation *Continuation
	logger       *infra.Logger
	now          func() time.Time
}

func NewService(opts ServiceOptions) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:         opts.Repo,
		cache:        opts.Cache,
		validator:    opts.Validator,
		structure:    opts.Structure,
		orchestrator: opts.Orchestrator,
		continuation: NewContinuation(opts.Repo, opts.Cache, opts.Orchestrator, clock),
		logger:       infra.OrDiscard(opts.Logger),
		now:          clock,
	}
}

// Submit validates the brief, runs stage 1 synchronously and stores the
// job as pending with its skeleton. Nothing is persisted on a validation or
// drafting error.
func (s *Service) Submit(ctx context.Context, raw []byte) (Submission, error) {
	req, err := s.validator.Validate(raw)
	if err != nil {
		return Submission{}, err
	}

	skeleton, err := s.structure.Generate(ctx, req)
	if err != nil {
		s.logger.Debug().Err(err).Interface("request", req.Redacted()).Msg("structure drafting failed")
		return Submission{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Submission{}, fmt.Errorf("encode request: %w", err)
	}
	now := s.now()
	job := &domain.Job{
		ID:             uuid.NewString(),
		Status:         domain.JobStatusPending,
		CurrentStage:   domain.StageImages,
		RequestPayload: payload,
		HTMLSnapshot:   skeleton.HTML,
		StageLog: domain.NewStageLog().
			Update(domain.StageStructure, domain.StepStatusCompleted, 100, fmt.Sprintf("%d placeholders", len(skeleton.Placeholders))),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return Submission{}, &domain.PersistenceError{Op: "create job", Err: err}
	}
	if s.cache != nil {
		s.cache.Set(domain.StateOf(job, now))
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("text_provider", req.Text.Provider).
		Str("image_provider", req.Image.Provider).
		Bool("test_mode", req.TestMode).
		Int("placeholders", len(skeleton.Placeholders)).
		Msg("job submitted")

	return Submission{JobID: job.ID, Status: domain.JobStatusProcessing, HTML: skeleton.HTML}, nil
}

// Observe is the side-effecting status read.
func (s *Service) Observe(ctx context.Context, jobID string) (domain.JobState, error) {
	return s.continuation.Observe(ctx, jobID)
}

// Advance explicitly runs the next stages. It is idempotent on terminal jobs.
func (s *Service) Advance(ctx context.Context, jobID string) (domain.JobState, error) {
	return s.orchestrator.Advance(ctx, jobID)
}

// Get returns the stored view and never advances the job.
func (s *Service) Get(ctx context.Context, jobID string) (domain.JobState, error) {
	return s.orchestrator.Get(ctx, jobID)
}
