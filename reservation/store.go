// Package reservation tracks transaction references that are currently
// claimed as payment proof. The store is the only shared mutable state in the
// engine: its atomic claim operation is what prevents two concurrent requests
// from both spending the same transaction.
package reservation

import (
	"sync"
	"time"
)

type entry struct {
	claimedAt time.Time
	consumed  bool
}

// Store is a process-wide set of claimed transaction references. Entries for
// consumed references are evicted after a TTL; the TTL must be at least the
// freshness window, since a transaction older than that window fails the age
// check before its transfer is ever evaluated.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl  time.Duration
	done chan struct{}
	stop sync.Once

	now func() time.Time
}

// NewStore creates a store that evicts entries older than ttl, sweeping every
// sweepInterval. A non-positive sweepInterval disables the background sweep;
// a non-positive ttl disables eviction entirely.
func NewStore(ttl, sweepInterval time.Duration) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if ttl > 0 && sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}
	return s
}

// TryClaim atomically claims reference if it is not already claimed. The
// returned Claim settles the reservation exactly once: Consume keeps the
// reference permanently held, Release frees it. Release after Consume is a
// no-op, so a deferred Release on every exit path is safe.
func (s *Store) TryClaim(reference string) (*Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[reference]; exists {
		return nil, false
	}
	s.entries[reference] = &entry{claimedAt: s.now()}
	return &Claim{store: s, reference: reference}, true
}

// Release removes reference from the claimed set. Idempotent; safe on
// references that were never claimed.
func (s *Store) Release(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, reference)
}

// Len reports the number of currently held references.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweep. The store remains usable afterwards.
func (s *Store) Close() {
	s.stop.Do(func() { close(s.done) })
}

func (s *Store) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep evicts entries older than the TTL. Unconsumed claims only live for
// the duration of one verification, which is bounded by the per-call RPC
// timeouts and far below any sane TTL, so age alone is a safe criterion.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, e := range s.entries {
		if now.Sub(e.claimedAt) > s.ttl {
			delete(s.entries, ref)
		}
	}
}

// Claim is a scoped hold on a single reference. All methods are safe for
// concurrent use; the first of Consume or Release wins and the other becomes
// a no-op.
type Claim struct {
	store     *Store
	reference string
	settled   bool
}

// Consume marks the reference permanently used. Called only after a
// successful verification.
func (c *Claim) Consume() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.settled {
		return
	}
	c.settled = true
	if e, ok := c.store.entries[c.reference]; ok {
		e.consumed = true
	}
}

// Release frees the reference so a later attempt can claim it again. No-op
// once the claim is consumed.
func (c *Claim) Release() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.settled {
		return
	}
	c.settled = true
	delete(c.store.entries, c.reference)
}
