package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
	"pageforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL through the
// marked-query runner.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(executor infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: executor}
}

// Migrate creates the jobs table when missing.
func (r *JobRepositoryPG) Migrate(ctx context.Context) error {
	_, err := r.sql.Exec(ctx, sqlinline.QCreateJobsTable)
	return err
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	id, err := uuid.Parse(job.ID)
	if err != nil {
		return err
	}
	log, err := encodeStageLog(job.StageLog)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		id,
		string(job.Status),
		int32(job.CurrentStage),
		job.RequestPayload,
		job.HTMLSnapshot,
		log,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return r.scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
}

// AcquireLock takes the processing lease with a single conditional update.
func (r *JobRepositoryPG) AcquireLock(ctx context.Context, jobID, token string, until, now time.Time) (*domain.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := r.scanJob(r.sql.QueryRow(ctx, sqlinline.QAcquireJobLock, id, token, until, now))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	current, getErr := r.GetByID(ctx, jobID)
	return nil, classifyMiss(current, getErr, domain.ErrLockHeld)
}

// SaveProgress writes an intermediate snapshot under the caller's lease.
func (r *JobRepositoryPG) SaveProgress(ctx context.Context, jobID, token string, p domain.Progress) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return domain.ErrNotFound
	}
	log, err := encodeStageLog(p.StageLog)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QSaveJobProgress, id, token, int32(p.Stage), p.HTMLSnapshot, log, p.LockedUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, jobID)
		return classifyMiss(current, getErr, domain.ErrLeaseLost)
	}
	return nil
}

// Finish records a terminal outcome and clears the lease.
func (r *JobRepositoryPG) Finish(ctx context.Context, jobID, token string, o domain.Outcome) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return domain.ErrNotFound
	}
	log, err := encodeStageLog(o.StageLog)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFinishJob, id, token, string(o.Status), int32(o.Stage), o.HTMLSnapshot, log, o.Error, o.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		current, getErr := r.GetByID(ctx, jobID)
		return classifyMiss(current, getErr, domain.ErrLeaseLost)
	}
	return nil
}

// ReleaseLock drops the lease if the caller still holds it.
func (r *JobRepositoryPG) ReleaseLock(ctx context.Context, jobID, token string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return domain.ErrNotFound
	}
	_, err = r.sql.Exec(ctx, sqlinline.QReleaseJobLock, id, token)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepositoryPG) scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job      domain.Job
		status   string
		stage    int32
		stageLog []byte
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&stage,
		&job.RequestPayload,
		&job.HTMLSnapshot,
		&stageLog,
		&job.Error,
		&job.LockToken,
		&job.LockedUntil,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CurrentStage = domain.Stage(stage)
	log, err := decodeStageLog(stageLog)
	if err != nil {
		return nil, err
	}
	job.StageLog = log
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
