package domain

import (
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank orders statuses along pending -> processing -> {completed, failed}.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the forward-only order.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return s == next
	}
	return next.rank() >= s.rank() && next.rank() >= 0
}

// Stage numbers the three pipeline phases.
type Stage int

const (
	StageStructure Stage = 1
	StageImages    Stage = 2
	StageFinalize  Stage = 3
)

// Name returns the stage label used in the stage log.
func (s Stage) Name() string {
	switch s {
	case StageStructure:
		return "structure"
	case StageImages:
		return "images"
	case StageFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// StepStatus is the status of a single stage log entry.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StageLogEntry records observable progress of one stage.
type StageLogEntry struct {
	Stage    Stage      `json:"stage"`
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Progress int        `json:"progress"`
	Detail   string     `json:"detail,omitempty"`
}

// StageLog is append/update only; entries are never reordered.
type StageLog []StageLogEntry

// NewStageLog seeds a log with one pending entry per stage.
func NewStageLog() StageLog {
	return StageLog{
		{Stage: StageStructure, Name: StageStructure.Name(), Status: StepStatusPending},
		{Stage: StageImages, Name: StageImages.Name(), Status: StepStatusPending},
		{Stage: StageFinalize, Name: StageFinalize.Name(), Status: StepStatusPending},
	}
}

// Update sets the entry for stage in place, appending it when missing.
func (l StageLog) Update(stage Stage, status StepStatus, progress int, detail string) StageLog {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	for i := range l {
		if l[i].Stage == stage {
			l[i].Status = status
			l[i].Progress = progress
			l[i].Detail = detail
			return l
		}
	}
	return append(l, StageLogEntry{Stage: stage, Name: stage.Name(), Status: status, Progress: progress, Detail: detail})
}

// Clone returns an independent copy.
func (l StageLog) Clone() StageLog {
	if l == nil {
		return nil
	}
	out := make(StageLog, len(l))
	copy(out, l)
	return out
}

// Progress averages stage progress into a single 0-100 value.
func (l StageLog) Progress() int {
	if len(l) == 0 {
		return 0
	}
	total := 0
	for _, e := range l {
		total += e.Progress
	}
	return total / len(l)
}

// Job is the durable record of one end-to-end generation request.
type Job struct {
	ID             string
	Status         JobStatus
	CurrentStage   Stage
	RequestPayload []byte
	HTMLSnapshot   string
	StageLog       StageLog
	Error          string
	LockToken      string
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Locked reports whether the processing lease is held at the given instant.
func (j *Job) Locked(now time.Time) bool {
	if j == nil || strings.TrimSpace(j.LockToken) == "" || j.LockedUntil == nil {
		return false
	}
	return now.Before(*j.LockedUntil)
}

// Advanceable reports whether an observer may run the next stage.
func (j *Job) Advanceable(now time.Time) bool {
	if j == nil || j.Status.Terminal() {
		return false
	}
	return !j.Locked(now)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.RequestPayload = append([]byte(nil), j.RequestPayload...)
	out.StageLog = j.StageLog.Clone()
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		out.LockedUntil = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// JobState is the client-facing view of a job returned by status reads.
type JobState struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	CurrentStep Stage      `json:"currentStep"`
	Steps       StageLog   `json:"steps"`
	Progress    int        `json:"progress"`
	FinalHTML   string     `json:"finalHtml"`
	Error       string     `json:"error,omitempty"`
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StateOf projects a job into its client-facing view.
func StateOf(j *Job, now time.Time) JobState {
	if j == nil {
		return JobState{}
	}
	state := JobState{
		JobID:       j.ID,
		Status:      j.Status,
		CurrentStep: j.CurrentStage,
		Steps:       j.StageLog.Clone(),
		Progress:    j.StageLog.Progress(),
		FinalHTML:   j.HTMLSnapshot,
		Error:       j.Error,
		Locked:      j.Locked(now),
		UpdatedAt:   j.UpdatedAt,
	}
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		state.LockedUntil = &t
	}
	if j.Status == JobStatusCompleted {
		state.Progress = 100
	}
	return state
}
