package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/html"

	"pageforge/internal/adapter/repo"
	"pageforge/internal/cache"
	"pageforge/internal/domain"
	"pageforge/internal/imagegen"
	"pageforge/internal/infra"
	"pageforge/internal/providers/text"
)

var imageSrcRe = regexp.MustCompile(`https://img\.example\.com/pollinations/\d+`)

const testBrief = `{"prompt":"A neighbourhood bakery","testMode":true,"imageProviderConfig":{"provider":"pollinations"}}`

// recordingRepo wraps a real store, counting calls and optionally failing writes.
type recordingRepo struct {
	domain.JobRepository

	mu            sync.Mutex
	gets          int
	saves         []domain.Progress
	failSaveAt    int
	failFinish    bool
	releaseCalled bool
}

func (r *recordingRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.JobRepository.GetByID(ctx, id)
}

func (r *recordingRepo) SaveProgress(ctx context.Context, id, token string, p domain.Progress) error {
	r.mu.Lock()
	r.saves = append(r.saves, domain.Progress{Stage: p.Stage, HTMLSnapshot: p.HTMLSnapshot, StageLog: p.StageLog.Clone()})
	n := len(r.saves)
	r.mu.Unlock()
	if r.failSaveAt > 0 && n >= r.failSaveAt {
		return errors.New("disk full")
	}
	return r.JobRepository.SaveProgress(ctx, id, token, p)
}

func (r *recordingRepo) Finish(ctx context.Context, id, token string, o domain.Outcome) error {
	if r.failFinish {
		return errors.New("disk full")
	}
	return r.JobRepository.Finish(ctx, id, token, o)
}

func (r *recordingRepo) ReleaseLock(ctx context.Context, id, token string) error {
	r.mu.Lock()
	r.releaseCalled = true
	r.mu.Unlock()
	return r.JobRepository.ReleaseLock(ctx, id, token)
}

func (r *recordingRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func (r *recordingRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

// imageScript answers image attempts. fail decides per description and
// attempt number whether the attempt errors.
type imageScript struct {
	mu      sync.Mutex
	calls   map[string]int
	total   atomic.Int32
	fail    func(description string, attempt int) bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newImageScript() *imageScript {
	return &imageScript{calls: map[string]int{}}
}

func (s *imageScript) Generate(ctx context.Context, description string, cfg imagegen.Config) (domain.ImageRef, error) {
	seq := s.total.Add(1)
	s.mu.Lock()
	s.calls[description]++
	n := s.calls[description]
	s.mu.Unlock()

	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return domain.ImageRef{}, domain.NewProviderError(cfg.Provider, domain.ProviderTimeout, 0, ctx.Err())
		}
	}
	if s.fail != nil && s.fail(description, n) {
		return domain.ImageRef{}, domain.NewProviderError(cfg.Provider, domain.ProviderRateLimited, 429, errors.New("slow down"))
	}
	return domain.ImageRef{URL: "https://img.example.com/" + cfg.Provider + "/" + strconv.Itoa(int(seq)), Provider: cfg.Provider, Ephemeral: true}, nil
}

type harness struct {
	svc    *Service
	orch   *Orchestrator
	repo   *recordingRepo
	cache  *cache.MemoryStatusCache
	images *imageScript
}

type harnessOptions struct {
	parallelism int
	rehoster    AssetRehoster
}

func newHarness(t *testing.T, images *imageScript, opts harnessOptions) *harness {
	t.Helper()
	db, err := infra.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := repo.NewSQLiteJobRepository(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &recordingRepo{JobRepository: store}
	statusCache := cache.NewMemoryStatusCache(time.Minute)

	chain := imagegen.NewFallbackChain(images, imagegen.ChainOptions{Policy: imagegen.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
		Deadline:       5 * time.Second,
	}})
	orch := NewOrchestrator(OrchestratorOptions{
		Repo:          rec,
		Cache:         statusCache,
		Resolver:      chain,
		ProviderChain: infra.DefaultProviderChain(),
		Rehoster:      opts.rehoster,
		Parallelism:   opts.parallelism,
	})
	validator, err := NewValidator(ValidatorOptions{
		TextProviders:  []string{"static", "openai"},
		ImageProviders: []string{"pollinations", "picsum", "openai", "placeholder"},
	})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	svc := NewService(ServiceOptions{
		Repo:         rec,
		Cache:        statusCache,
		Validator:    validator,
		Structure:    NewStructureGenerator(text.NewRegistry(text.NewStaticGenerator()), 12, nil),
		Orchestrator: orch,
	})
	return &harness{svc: svc, orch: orch, repo: rec, cache: statusCache, images: images}
}

func (h *harness) submit(t *testing.T, body string) Submission {
	t.Helper()
	sub, err := h.svc.Submit(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return sub
}

func TestSubmitStoresPendingSkeleton(t *testing.T) {
	h := newHarness(t, newImageScript(), harnessOptions{})
	sub := h.submit(t, testBrief)

	if sub.Status != domain.JobStatusProcessing || sub.JobID == "" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if got := strings.Count(sub.HTML, "placeholder://image-"); got != 3 {
		t.Fatalf("skeleton placeholders = %d, want 3", got)
	}
	state, err := h.svc.Get(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.Status != domain.JobStatusPending || state.CurrentStep != domain.StageImages || state.Locked {
		t.Fatalf("stored state = %+v", state)
	}
	if h.images.total.Load() != 0 {
		t.Fatalf("submission must not call image providers")
	}
}

func TestSubmitRejectsInvalidBriefWithoutCreatingJob(t *testing.T) {
	h := newHarness(t, newImageScript(), harnessOptions{})
	_, err := h.svc.Submit(context.Background(), []byte(`{"imageProviderConfig":{"provider":"pollinations"},"textProviderConfig":{"provider":"openai"}}`))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, ok := verr.Fields["prompt"]; !ok {
		t.Fatalf("fields = %v, want prompt", verr.Fields)
	}
	if h.cache.Len() != 0 {
		t.Fatalf("cache populated for rejected submission")
	}
}

func TestObserveResolvesPlaceholdersWithRetry(t *testing.T) {
	images := newImageScript()
	images.fail = func(_ string, attempt int) bool { return attempt == 1 }
	h := newHarness(t, images, harnessOptions{parallelism: 1})
	sub := h.submit(t, testBrief)

	state, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", state.Status, state.Error)
	}
	if strings.Contains(state.FinalHTML, "placeholder://") {
		t.Fatalf("unresolved placeholder in final html: %s", state.FinalHTML)
	}
	srcs := imageSrcRe.FindAllString(state.FinalHTML, -1)
	if len(srcs) != 3 {
		t.Fatalf("resolved images = %v, want 3: %s", srcs, state.FinalHTML)
	}
	distinct := map[string]bool{}
	for _, src := range srcs {
		distinct[src] = true
	}
	if len(distinct) != 3 {
		t.Fatalf("image references not distinct: %v", srcs)
	}
	if state.Locked || state.LockedUntil != nil || state.Progress != 100 {
		t.Fatalf("terminal state still locked or incomplete: %+v", state)
	}

	var progress []int
	for _, p := range h.repo.saves {
		for _, e := range p.StageLog {
			if e.Stage == domain.StageImages && e.Status == domain.StepStatusRunning {
				progress = append(progress, e.Progress)
			}
		}
	}
	if len(progress) < 3 {
		t.Fatalf("stage 2 progress updates = %v, want at least 3", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if images.total.Load() != 6 {
		t.Fatalf("image attempts = %d, want 6", images.total.Load())
	}
	for desc, n := range images.calls {
		if n != 2 {
			t.Fatalf("attempts for %q = %d, want 2", desc, n)
		}
	}
}

func TestObserveFallsBackToStaticPlaceholders(t *testing.T) {
	images := newImageScript()
	images.fail = func(string, int) bool { return true }
	h := newHarness(t, images, harnessOptions{})
	sub := h.submit(t, testBrief)

	state, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if got := strings.Count(state.FinalHTML, "data:image/svg+xml;base64,"); got != 3 {
		t.Fatalf("static placeholders = %d, want 3", got)
	}
	if strings.Contains(state.FinalHTML, "placeholder://") {
		t.Fatalf("placeholder token survived")
	}
}

func TestConcurrentObserversAdvanceOnce(t *testing.T) {
	images := newImageScript()
	images.entered = make(chan struct{})
	images.release = make(chan struct{})
	h := newHarness(t, images, harnessOptions{parallelism: 3})
	sub := h.submit(t, testBrief)

	done := make(chan domain.JobState, 1)
	go func() {
		st, err := h.svc.Observe(context.Background(), sub.JobID)
		if err != nil {
			t.Errorf("first Observe: %v", err)
		}
		done <- st
	}()
	<-images.entered

	second, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("second Observe: %v", err)
	}
	if second.Status != domain.JobStatusProcessing || !second.Locked {
		t.Fatalf("second observer state = %+v, want locked processing", second)
	}
	if strings.Count(second.FinalHTML, "placeholder://") != 3 {
		t.Fatalf("second observer should see the pre-advance snapshot")
	}

	direct, err := h.orch.Advance(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("direct Advance: %v", err)
	}
	if direct.Status != domain.JobStatusProcessing || !direct.Locked {
		t.Fatalf("direct Advance under lease = %+v", direct)
	}

	close(images.release)
	first := <-done
	if first.Status != domain.JobStatusCompleted {
		t.Fatalf("first observer status = %s", first.Status)
	}
	if got := images.total.Load(); got != 3 {
		t.Fatalf("image calls = %d, want exactly 3", got)
	}
}

func TestAdvanceIsIdempotentOnTerminalJobs(t *testing.T) {
	images := newImageScript()
	h := newHarness(t, images, harnessOptions{})
	sub := h.submit(t, testBrief)
	ctx := context.Background()

	first, err := h.svc.Advance(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	calls, saves := images.total.Load(), h.repo.saveCount()

	for i := 0; i < 3; i++ {
		again, err := h.svc.Advance(ctx, sub.JobID)
		if err != nil {
			t.Fatalf("Advance again: %v", err)
		}
		if again.Status != first.Status || again.FinalHTML != first.FinalHTML {
			t.Fatalf("terminal state changed on repeat advance")
		}
	}
	if images.total.Load() != calls || h.repo.saveCount() != saves {
		t.Fatalf("repeat advance produced side effects")
	}

	gets := h.repo.getCount()
	if _, err := h.svc.Observe(ctx, sub.JobID); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if h.repo.getCount() != gets {
		t.Fatalf("cached terminal state should not hit the store")
	}
}

func TestPersistenceFailureFailsJobWithParseableHTML(t *testing.T) {
	h := newHarness(t, newImageScript(), harnessOptions{parallelism: 1})
	h.repo.failSaveAt = 2
	sub := h.submit(t, testBrief)

	state, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusFailed || !strings.Contains(state.Error, "disk full") {
		t.Fatalf("state = %+v, want failed with error", state)
	}
	if state.Locked || state.LockedUntil != nil {
		t.Fatalf("lock not cleared on failure")
	}
	if strings.Contains(state.FinalHTML, "placeholder://") {
		t.Fatalf("placeholder token in failed snapshot")
	}
	if !strings.Contains(state.FinalHTML, "image-error") {
		t.Fatalf("unresolved images not marked: %s", state.FinalHTML)
	}
	if _, err := html.Parse(strings.NewReader(state.FinalHTML)); err != nil {
		t.Fatalf("failed snapshot does not parse: %v", err)
	}
}

func TestUnrecordableFailureReleasesLease(t *testing.T) {
	h := newHarness(t, newImageScript(), harnessOptions{parallelism: 1})
	h.repo.failSaveAt = 1
	h.repo.failFinish = true
	sub := h.submit(t, testBrief)

	_, err := h.svc.Advance(context.Background(), sub.JobID)
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if !h.repo.releaseCalled {
		t.Fatalf("lease was not released")
	}
	job, err := h.repo.JobRepository.GetByID(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status.Terminal() || !job.Advanceable(time.Now()) {
		t.Fatalf("job should be left advanceable: %+v", job)
	}
}

func TestObserveTakesOverExpiredLease(t *testing.T) {
	images := newImageScript()
	h := newHarness(t, images, harnessOptions{})
	sub := h.submit(t, testBrief)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Minute)
	if _, err := h.repo.AcquireLock(ctx, sub.JobID, "crashed-worker", past.Add(time.Minute), past); err != nil {
		t.Fatalf("seed stale lease: %v", err)
	}

	state, err := h.svc.Observe(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed after takeover", state.Status)
	}
}

func TestObserveIgnoresStaleCachedLease(t *testing.T) {
	images := newImageScript()
	h := newHarness(t, images, harnessOptions{})
	sub := h.submit(t, testBrief)
	ctx := context.Background()

	// Another instance held and released the lease; this cache never saw it.
	until := time.Now().Add(5 * time.Minute)
	h.cache.Set(domain.JobState{
		JobID:       sub.JobID,
		Status:      domain.JobStatusProcessing,
		CurrentStep: domain.StageImages,
		Locked:      true,
		LockedUntil: &until,
		UpdatedAt:   time.Now(),
	})

	state, err := h.svc.Observe(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s locked=%v, want completed", state.Status, state.Locked)
	}
	if images.total.Load() != 3 {
		t.Fatalf("image calls = %d, want 3", images.total.Load())
	}
}

func TestObserveUnknownJob(t *testing.T) {
	h := newHarness(t, newImageScript(), harnessOptions{})
	if _, err := h.svc.Observe(context.Background(), "8d1f1c1e-0000-4000-8000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type recordingRehoster struct {
	mu    sync.Mutex
	calls []int
}

func (r *recordingRehoster) Rehost(_ context.Context, ref domain.ImageRef, jobID string, index int, _ string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, index)
	return "https://assets.example.com/job/" + jobID + "/" + strconv.Itoa(index) + ".png"
}

func TestFinalizeRehostsEphemeralImages(t *testing.T) {
	rehoster := &recordingRehoster{}
	h := newHarness(t, newImageScript(), harnessOptions{rehoster: rehoster})
	sub := h.submit(t, `{"prompt":"A bakery","testMode":true,"pageConfig":{"rehostImages":true},"imageProviderConfig":{"provider":"pollinations"}}`)

	state, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(rehoster.calls) != 3 {
		t.Fatalf("rehost calls = %v, want 3", rehoster.calls)
	}
	if strings.Contains(state.FinalHTML, "img.example.com") {
		t.Fatalf("ephemeral url left in final html")
	}
	if strings.Contains(state.FinalHTML, `data-ephemeral="true"`) {
		t.Fatalf("rehosted images still flagged ephemeral")
	}
	if got := strings.Count(state.FinalHTML, "https://assets.example.com/job/"+sub.JobID); got != 3 {
		t.Fatalf("stable urls = %d, want 3", got)
	}
}

func TestFinalizeSkipsStaticFallbackImages(t *testing.T) {
	images := newImageScript()
	images.fail = func(string, int) bool { return true }
	rehoster := &recordingRehoster{}
	h := newHarness(t, images, harnessOptions{rehoster: rehoster})
	sub := h.submit(t, `{"prompt":"A bakery","testMode":true,"pageConfig":{"rehostImages":true},"imageProviderConfig":{"provider":"pollinations"}}`)

	state, err := h.svc.Observe(context.Background(), sub.JobID)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if state.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if len(rehoster.calls) != 0 {
		t.Fatalf("static fallback images were rehosted: %v", rehoster.calls)
	}
	if got := strings.Count(state.FinalHTML, `data-placeholder-image="true"`); got != 3 {
		t.Fatalf("static images tagged = %d, want 3", got)
	}
}
