package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

type memEntry struct {
	entry     domain.JournalEntry
	expiresAt time.Time
}

const sweepInterval = time.Minute

// MemoryStore is a process-local journal. It only protects a single
// gateway instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an empty in-memory journal. Call Close to stop
// the background sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// Close stops the sweeper. The store stays usable.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) Reserve(_ context.Context, entry domain.JournalEntry, ttl time.Duration) (*domain.JournalEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.live(entry.Key); ok {
		existing := cur.entry
		return &existing, false, nil
	}
	s.entries[entry.Key] = memEntry{entry: entry, expiresAt: s.now().Add(ttl)}
	return &entry, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry domain.JournalEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = memEntry{entry: entry, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	existing := cur.entry
	return &existing, nil
}

// live must be called with mu held.
func (s *MemoryStore) live(key string) (memEntry, bool) {
	cur, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !s.now().Before(cur.expiresAt) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return cur, true
}

func (s *MemoryStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

// purge drops every expired entry and returns how many it removed.
func (s *MemoryStore) purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, v := range s.entries {
		if !now.Before(v.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
