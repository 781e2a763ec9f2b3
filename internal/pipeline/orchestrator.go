package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pageforge/internal/domain"
	"pageforge/internal/htmldoc"
	"pageforge/internal/imagegen"
	"pageforge/internal/infra"
	"pageforge/internal/rehost"
)

const (
	defaultLockTTL     = 5 * time.Minute
	defaultParallelism = 3
	failWriteTimeout   = 10 * time.Second
)

// Resolver resolves one image description and never fails.
type Resolver interface {
	Resolve(ctx context.Context, description string, primary imagegen.Config, fallbacks []imagegen.Config) domain.ImageRef
}

// AssetRehoster turns an unstable image reference into a stable URL and
// never fails.
type AssetRehoster interface {
	Rehost(ctx context.Context, ref domain.ImageRef, jobID string, index int, label string) string
}

type OrchestratorOptions struct {
	Repo          domain.JobRepository
	Cache         domain.StatusCache
	Resolver      Resolver
	ProviderChain infra.ProviderChain
	// Rehoster may be nil, in which case rehosting is skipped.
	Rehoster    AssetRehoster
	LockTTL     time.Duration
	Parallelism int
	Logger      *infra.Logger
	Clock       func() time.Time
}

// Orchestrator runs stages 2 and 3 of a job under a processing lease.
type Orchestrator struct {
	repo        domain.JobRepository
	cache       domain.StatusCache
	resolver    Resolver
	chain       infra.ProviderChain
	rehoster    AssetRehoster
	lockTTL     time.Duration
	parallelism int
	logger      *infra.Logger
	now         func() time.Time
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		repo:        opts.Repo,
		cache:       opts.Cache,
		resolver:    opts.Resolver,
		chain:       opts.ProviderChain,
		rehoster:    opts.Rehoster,
		lockTTL:     opts.LockTTL,
		parallelism: opts.Parallelism,
		logger:      infra.OrDiscard(opts.Logger),
		now:         opts.Clock,
	}
	if o.lockTTL <= 0 {
		o.lockTTL = defaultLockTTL
	}
	if o.parallelism < 1 {
		o.parallelism = defaultParallelism
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Advance runs whatever stages remain for the job. When another caller holds
// the lease, or the job is already terminal, it returns the current state
// without side effects.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) (domain.JobState, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return domain.JobState{}, err
	}
	if job.Status.Terminal() {
		return o.publish(job), nil
	}

	token := uuid.NewString()
	now := o.now()
	locked, err := o.repo.AcquireLock(ctx, jobID, token, now.Add(o.lockTTL), now)
	switch {
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrTerminal):
		return o.current(ctx, jobID)
	case err != nil:
		return domain.JobState{}, &domain.PersistenceError{Op: "acquire lock", Err: err}
	}

	// The stages outlive the caller's request so an abandoned poll does not
	// degrade the page; the lease bounds them instead.
	stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.lockTTL)
	defer cancel()

	r := &run{
		o:      o,
		job:    locked,
		token:  token,
		doc:    locked.HTMLSnapshot,
		log:    locked.StageLog.Clone(),
		stage:  locked.CurrentStage,
		logger: o.logger.With().Str("job_id", jobID).Logger(),
	}
	if len(r.log) == 0 {
		r.log = domain.NewStageLog()
	}
	r.logger.Info().Int("stage", int(r.stage)).Msg("processing lease acquired")

	if err := r.execute(stageCtx); err != nil {
		if errors.Is(err, domain.ErrLeaseLost) || errors.Is(err, domain.ErrTerminal) {
			r.logger.Warn().Err(err).Msg("processing lease lost, stopping")
			return o.current(stageCtx, jobID)
		}
		// The stage deadline may be what failed; recording it needs its own.
		failCtx, cancelFail := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
		defer cancelFail()
		if ferr := r.fail(failCtx, err); ferr != nil {
			return domain.JobState{}, ferr
		}
		return o.current(failCtx, jobID)
	}
	return o.current(stageCtx, jobID)
}

// Get reads the durable view without advancing the job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (domain.JobState, error) {
	return o.current(ctx, jobID)
}

func (o *Orchestrator) load(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "get job", Err: err}
	}
	return job, nil
}

func (o *Orchestrator) current(ctx context.Context, jobID string) (domain.JobState, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return domain.JobState{}, err
	}
	return o.publish(job), nil
}

func (o *Orchestrator) publish(job *domain.Job) domain.JobState {
	state := domain.StateOf(job, o.now())
	if o.cache != nil {
		o.cache.Set(state)
	}
	return state
}

// run is the state of one leased Advance call.
type run struct {
	o     *Orchestrator
	job   *domain.Job
	token string

	mu    sync.Mutex
	doc   string
	log   domain.StageLog
	stage domain.Stage

	logger infra.Logger
}

func (r *run) execute(ctx context.Context) error {
	req, err := domain.DecodeGenerationRequest(r.job.RequestPayload)
	if err != nil {
		return fmt.Errorf("decode stored request: %w", err)
	}
	if r.stage < domain.StageImages {
		r.stage = domain.StageImages
	}
	if r.stage == domain.StageImages {
		if err := r.images(ctx, req); err != nil {
			return err
		}
	}
	return r.finalize(ctx, req)
}

// images resolves every placeholder still pending in the snapshot. Each
// resolved slot is persisted before the next one is reported.
func (r *run) images(ctx context.Context, req domain.GenerationRequest) error {
	pending := htmldoc.Pending(r.doc)
	total := len(pending) + len(htmldoc.Images(r.doc))
	done := total - len(pending)

	r.log = r.log.Update(domain.StageImages, domain.StepStatusRunning, percent(done, total), progressDetail(done, total))
	if err := r.save(ctx); err != nil {
		return err
	}

	primary, fallbacks := imagegen.Plan(req, r.o.chain)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.parallelism)
	for _, slot := range pending {
		g.Go(func() error {
			ref := r.o.resolver.Resolve(gctx, slot.Description, primary, fallbacks)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			doc, ok := htmldoc.Fill(r.doc, slot.Index, ref.Src(), htmldoc.Origin{Ephemeral: ref.Ephemeral, Static: ref.Placeholder})
			if !ok {
				return nil
			}
			r.doc = doc
			done++
			r.log = r.log.Update(domain.StageImages, domain.StepStatusRunning, percent(done, total), progressDetail(done, total))
			r.logger.Debug().
				Int("slot", slot.Index).
				Str("provider", ref.Provider).
				Bool("placeholder", ref.Placeholder).
				Msg("image slot resolved")
			return r.saveLocked(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.log = r.log.Update(domain.StageImages, domain.StepStatusCompleted, 100, progressDetail(total, total))
	r.stage = domain.StageFinalize
	r.log = r.log.Update(domain.StageFinalize, domain.StepStatusRunning, 0, "")
	return r.save(ctx)
}

// finalize rehosts unstable references when asked to, repairs the document
// and marks the job completed.
func (r *run) finalize(ctx context.Context, req domain.GenerationRequest) error {
	doc := r.doc
	if req.PageConfig.Rehost && r.o.rehoster != nil {
		for _, img := range htmldoc.Images(doc) {
			if img.Static {
				continue
			}
			ref := rehost.RefFromSrc(img.Src, img.Ephemeral)
			if !rehost.NeedsRehost(ref) {
				continue
			}
			doc = htmldoc.SetSrc(doc, img.Index, r.o.rehoster.Rehost(ctx, ref, r.job.ID, img.Index, img.Description))
		}
	}

	// Every slot was filled above; anything still matching the token came
	// from model output outside an image tag.
	doc = htmldoc.Scrub(doc)
	repaired, err := htmldoc.Repair(doc, htmldoc.Meta{Title: req.PageConfig.Title, Language: req.PageConfig.Language})
	if err != nil {
		return fmt.Errorf("repair document: %w", err)
	}
	r.doc = repaired
	r.log = r.log.Update(domain.StageFinalize, domain.StepStatusCompleted, 100, "")

	err = r.o.repo.Finish(ctx, r.job.ID, r.token, domain.Outcome{
		Status:       domain.JobStatusCompleted,
		Stage:        domain.StageFinalize,
		HTMLSnapshot: r.doc,
		StageLog:     r.log,
		At:           r.o.now(),
	})
	if err != nil {
		return persistenceErr("complete job", err)
	}
	r.logger.Info().Msg("job completed")
	return nil
}

// fail records the failure with error markers in place of unresolved
// images. When even that write fails the lease is released so another
// observer can retry.
func (r *run) fail(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Error().Err(cause).Int("stage", int(r.stage)).Msg("job failed")
	r.log = r.log.Update(r.stage, domain.StepStatusFailed, stageProgress(r.log, r.stage), cause.Error())
	err := r.o.repo.Finish(ctx, r.job.ID, r.token, domain.Outcome{
		Status:       domain.JobStatusFailed,
		Stage:        r.stage,
		HTMLSnapshot: htmldoc.Scrub(r.doc),
		StageLog:     r.log,
		Error:        cause.Error(),
		At:           r.o.now(),
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrLeaseLost) || errors.Is(err, domain.ErrTerminal) {
		return nil
	}
	if rerr := r.o.repo.ReleaseLock(ctx, r.job.ID, r.token); rerr != nil {
		r.logger.Error().Err(rerr).Msg("release lock after failed write")
	}
	if r.o.cache != nil {
		r.o.cache.Delete(r.job.ID)
	}
	return &domain.PersistenceError{Op: "fail job", Err: errors.Join(cause, err)}
}

func (r *run) save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx)
}

// saveLocked persists the snapshot, renews the lease and mirrors the state
// into the cache. r.mu must be held.
func (r *run) saveLocked(ctx context.Context) error {
	now := r.o.now()
	until := now.Add(r.o.lockTTL)
	err := r.o.repo.SaveProgress(ctx, r.job.ID, r.token, domain.Progress{
		Stage:        r.stage,
		HTMLSnapshot: r.doc,
		StageLog:     r.log.Clone(),
		LockedUntil:  &until,
	})
	if err != nil {
		return persistenceErr("save progress", err)
	}
	if r.o.cache != nil {
		snapshot := r.job.Clone()
		snapshot.Status = domain.JobStatusProcessing
		snapshot.CurrentStage = r.stage
		snapshot.HTMLSnapshot = r.doc
		snapshot.StageLog = r.log.Clone()
		snapshot.LockToken = r.token
		snapshot.LockedUntil = &until
		snapshot.UpdatedAt = now
		r.o.cache.Set(domain.StateOf(snapshot, now))
	}
	return nil
}

func persistenceErr(op string, err error) error {
	if errors.Is(err, domain.ErrLeaseLost) || errors.Is(err, domain.ErrTerminal) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

func progressDetail(done, total int) string {
	return fmt.Sprintf("%d/%d images", done, total)
}

func stageProgress(log domain.StageLog, stage domain.Stage) int {
	for _, e := range log {
		if e.Stage == stage {
			return e.Progress
		}
	}
	return 0
}
