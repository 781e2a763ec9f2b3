package pipeline

import (
	"context"
	"time"

	"pageforge/internal/domain"
)

// Advancer runs the remaining stages of a job.
type Advancer interface {
	Advance(ctx context.Context, jobID string) (domain.JobState, error)
}

// Continuation is the status read that also drives the pipeline: there is no
// background worker, so an observed job that nobody is processing gets
// advanced by its observer.
type Continuation struct {
	repo     domain.JobRepository
	cache    domain.StatusCache
	advancer Advancer
	now      func() time.Time
}

func NewContinuation(repo domain.JobRepository, cache domain.StatusCache, advancer Advancer, clock func() time.Time) *Continuation {
	if clock == nil {
		clock = time.Now
	}
	return &Continuation{repo: repo, cache: cache, advancer: advancer, now: clock}
}

// Observe returns the job state, advancing the job first when it is not
// terminal and no unexpired lease is held on it. Only cached terminal states
// skip the store; lease checks always read the durable row.
func (c *Continuation) Observe(ctx context.Context, jobID string) (domain.JobState, error) {
	now := c.now()
	if c.cache != nil {
		if st, ok := c.cache.Get(jobID); ok && st.Status.Terminal() {
			return st, nil
		}
	}

	job, err := c.repo.GetByID(ctx, jobID)
	if err != nil {
		return domain.JobState{}, persistenceErr("get job", err)
	}
	if !job.Advanceable(now) {
		state := domain.StateOf(job, now)
		if c.cache != nil {
			c.cache.Set(state)
		}
		return state, nil
	}
	return c.advancer.Advance(ctx, jobID)
}
