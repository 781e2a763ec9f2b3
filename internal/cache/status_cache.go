package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"pageforge/internal/domain"
)

// MemoryStatusCache mirrors job state in process memory. Entries expire after
// the configured TTL; terminal states are kept for the same window so repeated
// polls of finished jobs never reach the durable store.
type MemoryStatusCache struct {
	items *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStatusCache builds a cache whose entries live for ttl and whose
// janitor runs at twice that interval.
func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryStatusCache{items: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (c *MemoryStatusCache) Get(jobID string) (domain.JobState, bool) {
	v, ok := c.items.Get(jobID)
	if !ok {
		return domain.JobState{}, false
	}
	state, ok := v.(domain.JobState)
	if !ok {
		c.items.Delete(jobID)
		return domain.JobState{}, false
	}
	return state, true
}

// Set stores state unless it would move a cached job backwards, which can
// happen when a slow writer lands after a newer one.
func (c *MemoryStatusCache) Set(state domain.JobState) {
	if state.JobID == "" {
		return
	}
	if prev, ok := c.Get(state.JobID); ok && !prev.Status.CanTransition(state.Status) {
		return
	}
	c.items.Set(state.JobID, state, c.ttl)
}

func (c *MemoryStatusCache) Delete(jobID string) {
	c.items.Delete(jobID)
}

// Len reports the number of live entries.
func (c *MemoryStatusCache) Len() int {
	return c.items.ItemCount()
}

var _ domain.StatusCache = (*MemoryStatusCache)(nil)
