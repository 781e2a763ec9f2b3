package domain

import (
	"context"
	"time"
)

// Progress is a mid-stage write carried under a processing lease.
type Progress struct {
	Stage        Stage
	HTMLSnapshot string
	StageLog     StageLog
	// LockedUntil renews the lease when non-nil.
	LockedUntil *time.Time
}

// Outcome is the terminal write that also clears the lease.
type Outcome struct {
	Status       JobStatus
	Stage        Stage
	HTMLSnapshot string
	StageLog     StageLog
	Error        string
	At           time.Time
}

// JobRepository is the durable source of truth for jobs. Lock decisions are
// always made here, never against the status cache.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// AcquireLock takes the processing lease when the job is not terminal and
	// the lease is free or expired at now. It moves pending jobs to processing.
	AcquireLock(ctx context.Context, jobID, token string, until, now time.Time) (*Job, error)
	SaveProgress(ctx context.Context, jobID, token string, p Progress) error
	Finish(ctx context.Context, jobID, token string, o Outcome) error
	ReleaseLock(ctx context.Context, jobID, token string) error
}

// StatusCache is an eventually consistent mirror of job state for cheap polling reads.
type StatusCache interface {
	Get(jobID string) (JobState, bool)
	Set(state JobState)
	Delete(jobID string)
}

// StoredObject describes an object held by an ObjectStore.
type StoredObject struct {
	Key       string
	MIME      string
	Size      int64
	ExpiresAt time.Time
}

// ObjectStore holds rehosted assets with an expiry.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, mime string, ttl time.Duration) (StoredObject, error)
	Open(ctx context.Context, key string) (StoredObject, []byte, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}
