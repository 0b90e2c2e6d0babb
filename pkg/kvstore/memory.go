package kvstore

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = 30 * time.Second

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for single-node deployments and
// tests. A background janitor drops expired entries; reads also check
// expiry so behavior does not depend on janitor timing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}

	go s.janitor()

	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = newEntry(value, ttl)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists || entry.expired(time.Now()) {
		return "", ErrKeyNotFound
	}

	return entry.value, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if exists && !entry.expired(time.Now()) {
		return false, nil
	}

	s.entries[key] = newEntry(value, ttl)

	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)

	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })

	return nil
}

func newEntry(value string, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	return entry
}
