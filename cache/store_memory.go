package cache

import (
	"sort"
	"sync"

	"github.com/saiset-co/sai-cache/types"
)

// MemoryStore is the default in-process PersistentStore backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.PersistedRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.PersistedRecord),
	}
}

func (s *MemoryStore) Get(key string) (*types.PersistedRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[key]
	if !exists {
		return nil, false, nil
	}

	copied := *record
	return &copied, true, nil
}

func (s *MemoryStore) Put(record *types.PersistedRecord) error {
	if record == nil || record.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := *record

	s.mu.Lock()
	s.records[record.Key] = &stored
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.records, key)
	}

	return nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}

	return keys, nil
}

func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records), nil
}

// Oldest returns up to n keys ordered by record timestamp, ties broken by key.
func (s *MemoryStore) Oldest(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	records := make([]*types.PersistedRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Key < records[j].Key
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	if n > len(records) {
		n = len(records)
	}

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = records[i].Key
	}

	return keys, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.records = make(map[string]*types.PersistedRecord)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Ping() error { return nil }

func (s *MemoryStore) Close() error { return nil }
