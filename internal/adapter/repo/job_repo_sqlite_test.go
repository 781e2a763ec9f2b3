package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
)

func newSQLiteRepo(t *testing.T) *JobRepositorySQLite {
	t.Helper()
	db, err := infra.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	r := NewSQLiteJobRepository(db)
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func seedJob(t *testing.T, r domain.JobRepository) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:             uuid.NewString(),
		Status:         domain.JobStatusPending,
		CurrentStage:   domain.StageImages,
		RequestPayload: []byte(`{"prompt":"bakery"}`),
		HTMLSnapshot:   "<!DOCTYPE html><html><body>skeleton</body></html>",
		StageLog:       domain.NewStageLog().Update(domain.StageStructure, domain.StepStatusCompleted, 100, ""),
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return job
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	r := newSQLiteRepo(t)
	job := seedJob(t, r)

	got, err := r.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusPending || got.CurrentStage != domain.StageImages {
		t.Fatalf("unexpected job: %+v", got)
	}
	if string(got.RequestPayload) != `{"prompt":"bakery"}` {
		t.Fatalf("payload = %s", got.RequestPayload)
	}
	if len(got.StageLog) != 3 || got.StageLog[0].Status != domain.StepStatusCompleted {
		t.Fatalf("stage log = %+v", got.StageLog)
	}
	if _, err := r.GetByID(context.Background(), uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing job err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepositoryLockIsExclusive(t *testing.T) {
	r := newSQLiteRepo(t)
	job := seedJob(t, r)
	ctx := context.Background()
	now := time.Now().UTC()

	locked, err := r.AcquireLock(ctx, job.ID, "first", now.Add(time.Minute), now)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if locked.Status != domain.JobStatusProcessing || locked.LockToken != "first" {
		t.Fatalf("unexpected locked job: %+v", locked)
	}
	if _, err := r.AcquireLock(ctx, job.ID, "second", now.Add(time.Minute), now); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire err = %v, want ErrLockHeld", err)
	}

	// After expiry a new holder takes over and the old token is fenced off.
	later := now.Add(2 * time.Minute)
	if _, err := r.AcquireLock(ctx, job.ID, "second", later.Add(time.Minute), later); err != nil {
		t.Fatalf("takeover acquire: %v", err)
	}
	err = r.SaveProgress(ctx, job.ID, "first", domain.Progress{Stage: domain.StageImages, HTMLSnapshot: "stale"})
	if !errors.Is(err, domain.ErrLeaseLost) {
		t.Fatalf("stale save err = %v, want ErrLeaseLost", err)
	}
}

func TestSQLiteRepositoryProgressAndFinish(t *testing.T) {
	r := newSQLiteRepo(t)
	job := seedJob(t, r)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := r.AcquireLock(ctx, job.ID, "tok", now.Add(time.Minute), now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	renewed := now.Add(5 * time.Minute)
	log := domain.NewStageLog().Update(domain.StageImages, domain.StepStatusRunning, 50, "1/2")
	if err := r.SaveProgress(ctx, job.ID, "tok", domain.Progress{Stage: domain.StageImages, HTMLSnapshot: "half", StageLog: log, LockedUntil: &renewed}); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	got, _ := r.GetByID(ctx, job.ID)
	if got.HTMLSnapshot != "half" || got.LockedUntil == nil || got.LockedUntil.UnixMilli() != renewed.UnixMilli() {
		t.Fatalf("progress not persisted: %+v", got)
	}

	// current_stage never moves backwards
	if err := r.SaveProgress(ctx, job.ID, "tok", domain.Progress{Stage: domain.StageStructure, HTMLSnapshot: "half", StageLog: log}); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	got, _ = r.GetByID(ctx, job.ID)
	if got.CurrentStage != domain.StageImages {
		t.Fatalf("CurrentStage = %d, want %d", got.CurrentStage, domain.StageImages)
	}

	done := now.Add(time.Second)
	if err := r.Finish(ctx, job.ID, "tok", domain.Outcome{Status: domain.JobStatusCompleted, Stage: domain.StageFinalize, HTMLSnapshot: "final", StageLog: log, At: done}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = r.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted || got.LockToken != "" || got.LockedUntil != nil || got.CompletedAt == nil {
		t.Fatalf("unexpected finished job: %+v", got)
	}
	if _, err := r.AcquireLock(ctx, job.ID, "again", now.Add(time.Hour), now.Add(time.Hour)); !errors.Is(err, domain.ErrTerminal) {
		t.Fatalf("acquire on terminal err = %v, want ErrTerminal", err)
	}
	if err := r.Finish(ctx, job.ID, "tok", domain.Outcome{Status: domain.JobStatusFailed, At: done}); !errors.Is(err, domain.ErrTerminal) {
		t.Fatalf("second finish err = %v, want ErrTerminal", err)
	}
}

func TestSQLiteRepositoryReleaseLock(t *testing.T) {
	r := newSQLiteRepo(t)
	job := seedJob(t, r)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := r.AcquireLock(ctx, job.ID, "tok", now.Add(time.Minute), now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := r.ReleaseLock(ctx, job.ID, "other"); err != nil {
		t.Fatalf("release with foreign token: %v", err)
	}
	if _, err := r.AcquireLock(ctx, job.ID, "next", now.Add(time.Minute), now); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("foreign release must not free the lease, err = %v", err)
	}
	if err := r.ReleaseLock(ctx, job.ID, "tok"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.AcquireLock(ctx, job.ID, "next", now.Add(time.Minute), now); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
