package statesync

import (
	"sync"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// DefaultLockTTL is how long an advisory lock lives without being refreshed.
const DefaultLockTTL = 30 * time.Second

// lockRecord is one held advisory lock.
type lockRecord struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// lockTable is an in-process advisory lock registry. Acquisition never
// blocks: a live conflicting lock is an immediate error and the caller
// decides whether to retry or abort. Expired locks are reaped on contact,
// never by a background goroutine.
type lockTable struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	locks map[string]*lockRecord
}

func newLockTable(ttl time.Duration, now func() time.Time) *lockTable {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if now == nil {
		now = time.Now
	}
	return &lockTable{
		ttl:   ttl,
		now:   now,
		locks: make(map[string]*lockRecord),
	}
}

// Acquire takes the lock for holder or fails immediately. Re-acquiring a
// lock the holder already owns refreshes its expiry.
func (t *lockTable) Acquire(resource, holder string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if rec, ok := t.locks[resource]; ok {
		if now.Before(rec.ExpiresAt) {
			if rec.Holder == holder {
				rec.ExpiresAt = now.Add(t.ttl)
				return nil
			}
			return schema.NewErrorf(schema.ErrCodeLockConflict,
				"resource %q is locked by execution %s", resource, rec.Holder).
				WithEntity(holder)
		}
		delete(t.locks, resource)
	}

	t.locks[resource] = &lockRecord{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(t.ttl),
	}
	return nil
}

// Release drops the lock if holder owns it.
func (t *lockTable) Release(resource, holder string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.locks[resource]
	if !ok || rec.Holder != holder {
		return false
	}
	delete(t.locks, resource)
	return true
}

// ReleaseAll drops every lock the holder owns and reports how many.
func (t *lockTable) ReleaseAll(holder string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := 0
	for resource, rec := range t.locks {
		if rec.Holder == holder {
			delete(t.locks, resource)
			released++
		}
	}
	return released
}

// Holder reports the live owner of a resource, reaping it first if expired.
func (t *lockTable) Holder(resource string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.locks[resource]
	if !ok {
		return "", false
	}
	if !t.now().Before(rec.ExpiresAt) {
		delete(t.locks, resource)
		return "", false
	}
	return rec.Holder, true
}
