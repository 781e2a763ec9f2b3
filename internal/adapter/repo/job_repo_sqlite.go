package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pageforge/internal/domain"
)

const sqliteSchema = `
create table if not exists page_jobs (
    id              text primary key,
    status          text    not null default 'pending',
    current_stage   integer not null default 1,
    request_payload blob    not null,
    html_snapshot   text    not null default '',
    stage_log       text    not null default '[]',
    error_message   text    not null default '',
    lock_token      text,
    locked_until    integer,
    created_at      integer not null,
    updated_at      integer not null,
    completed_at    integer
);`

const sqliteJobColumns = `id, status, current_stage, request_payload, html_snapshot, stage_log, error_message,
       coalesce(lock_token, ''), locked_until, created_at, updated_at, completed_at`

// JobRepositorySQLite implements domain.JobRepository on SQLite. Timestamps
// are stored as unix milliseconds so lease comparisons stay numeric.
type JobRepositorySQLite struct {
	db *sql.DB
}

// NewSQLiteJobRepository wraps an open database handle.
func NewSQLiteJobRepository(db *sql.DB) *JobRepositorySQLite {
	return &JobRepositorySQLite{db: db}
}

// Migrate creates the jobs table when missing.
func (r *JobRepositorySQLite) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (r *JobRepositorySQLite) Create(ctx context.Context, job *domain.Job) error {
	log, err := encodeStageLog(job.StageLog)
	if err != nil {
		return err
	}
	created := toMillis(job.CreatedAt)
	_, err = r.db.ExecContext(ctx, `
insert into page_jobs (id, status, current_stage, request_payload, html_snapshot, stage_log, error_message, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, '', ?, ?);`,
		job.ID, string(job.Status), int(job.CurrentStage), job.RequestPayload, job.HTMLSnapshot, string(log), created, created)
	return err
}

func (r *JobRepositorySQLite) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `select `+sqliteJobColumns+` from page_jobs where id = ?;`, jobID)
	return scanSQLiteJob(row)
}

func (r *JobRepositorySQLite) AcquireLock(ctx context.Context, jobID, token string, until, now time.Time) (*domain.Job, error) {
	res, err := r.db.ExecContext(ctx, `
update page_jobs
set lock_token   = ?,
    locked_until = ?,
    status       = case when status = 'pending' then 'processing' else status end,
    updated_at   = ?
where id = ?
  and status in ('pending', 'processing')
  and (lock_token is null or locked_until is null or locked_until <= ?);`,
		token, toMillis(until), toMillis(now), jobID, toMillis(now))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	current, getErr := r.GetByID(ctx, jobID)
	if n == 0 {
		return nil, classifyMiss(current, getErr, domain.ErrLockHeld)
	}
	return current, getErr
}

func (r *JobRepositorySQLite) SaveProgress(ctx context.Context, jobID, token string, p domain.Progress) error {
	log, err := encodeStageLog(p.StageLog)
	if err != nil {
		return err
	}
	var until any
	if p.LockedUntil != nil {
		until = toMillis(*p.LockedUntil)
	}
	res, err := r.db.ExecContext(ctx, `
update page_jobs
set current_stage = max(current_stage, ?),
    html_snapshot = ?,
    stage_log     = ?,
    locked_until  = coalesce(?, locked_until),
    updated_at    = ?
where id = ?
  and lock_token = ?
  and status in ('pending', 'processing');`,
		int(p.Stage), p.HTMLSnapshot, string(log), until, toMillis(time.Now()), jobID, token)
	return r.checkAffected(ctx, jobID, res, err)
}

func (r *JobRepositorySQLite) Finish(ctx context.Context, jobID, token string, o domain.Outcome) error {
	log, err := encodeStageLog(o.StageLog)
	if err != nil {
		return err
	}
	at := toMillis(o.At)
	res, err := r.db.ExecContext(ctx, `
update page_jobs
set status        = ?,
    current_stage = max(current_stage, ?),
    html_snapshot = ?,
    stage_log     = ?,
    error_message = ?,
    completed_at  = ?,
    updated_at    = ?,
    lock_token    = null,
    locked_until  = null
where id = ?
  and lock_token = ?
  and status in ('pending', 'processing');`,
		string(o.Status), int(o.Stage), o.HTMLSnapshot, string(log), o.Error, at, at, jobID, token)
	return r.checkAffected(ctx, jobID, res, err)
}

func (r *JobRepositorySQLite) ReleaseLock(ctx context.Context, jobID, token string) error {
	_, err := r.db.ExecContext(ctx, `
update page_jobs set lock_token = null, locked_until = null, updated_at = ?
where id = ? and lock_token = ?;`, toMillis(time.Now()), jobID, token)
	return err
}

func (r *JobRepositorySQLite) checkAffected(ctx context.Context, jobID string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, getErr := r.GetByID(ctx, jobID)
		return classifyMiss(current, getErr, domain.ErrLeaseLost)
	}
	return nil
}

func scanSQLiteJob(row *sql.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		stage       int
		stageLog    string
		lockedUntil sql.NullInt64
		createdAt   int64
		updatedAt   int64
		completedAt sql.NullInt64
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
		&lockedUntil,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CurrentStage = domain.Stage(stage)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	if lockedUntil.Valid {
		t := fromMillis(lockedUntil.Int64)
		job.LockedUntil = &t
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		job.CompletedAt = &t
	}
	log, err := decodeStageLog([]byte(stageLog))
	if err != nil {
		return nil, err
	}
	job.StageLog = log
	return &job, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ domain.JobRepository = (*JobRepositorySQLite)(nil)
