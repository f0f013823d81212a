package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

const (
	DefaultMemoryMaxItems = 500
	DefaultMemoryMaxBytes = 50 << 20
)

// MemoryTier is the fast in-process tier. Entries are kept in recency order:
// the front of the list is the most recently touched entry.
type MemoryTier struct {
	mu       sync.Mutex
	maxItems int
	maxBytes int64
	list     *list.List
	items    map[string]*list.Element
	perType  map[string]int
	bytes    int64
	clock    types.Clock
}

func NewMemoryTier(config *types.MemoryTierConfig, clock types.Clock) *MemoryTier {
	m := &MemoryTier{
		maxItems: DefaultMemoryMaxItems,
		maxBytes: DefaultMemoryMaxBytes,
		list:     list.New(),
		items:    make(map[string]*list.Element),
		perType:  make(map[string]int),
		clock:    clock,
	}

	if config != nil {
		if config.MaxItems > 0 {
			m.maxItems = config.MaxItems
		}
		if config.MaxBytes > 0 {
			m.maxBytes = config.MaxBytes
		}
	}

	if m.clock == nil {
		m.clock = time.Now
	}

	return m
}

// EntrySize is the size estimate used for memory accounting.
func EntrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

// Get returns a copy of the entry and marks it most recently used. Expired
// entries are dropped and reported as a miss.
func (m *MemoryTier) Get(key string) (types.CacheEntry, bool) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		return types.CacheEntry{}, false
	}

	entry := elem.Value.(*types.CacheEntry)
	if !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt) {
		m.removeElementUnsafe(elem)
		return types.CacheEntry{}, false
	}

	entry.LastTouchedAt = now
	m.list.MoveToFront(elem)

	return *entry, true
}

// Set inserts or overwrites entry and enforces the global bounds and, when
// typeLimit is positive, the per-entity-type item bound. It returns the keys
// evicted to make room.
func (m *MemoryTier) Set(entry types.CacheEntry, typeLimit int) []string {
	now := m.clock()

	entry.Size = EntrySize(entry.Key, entry.Value)
	entry.LastTouchedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.items[entry.Key]; exists {
		current := elem.Value.(*types.CacheEntry)
		m.bytes -= current.Size
		m.perType[current.EntityType]--
		if m.perType[current.EntityType] <= 0 {
			delete(m.perType, current.EntityType)
		}

		entry.InsertedAt = current.InsertedAt
		*current = entry
		m.list.MoveToFront(elem)
	} else {
		if entry.InsertedAt.IsZero() {
			entry.InsertedAt = now
		}
		stored := entry
		m.items[entry.Key] = m.list.PushFront(&stored)
	}

	m.bytes += entry.Size
	m.perType[entry.EntityType]++

	var evicted []string

	for m.list.Len() > 0 && (m.list.Len() > m.maxItems || m.bytes > m.maxBytes) {
		evicted = append(evicted, m.removeElementUnsafe(m.list.Back()))
	}

	if typeLimit > 0 {
		for elem := m.list.Back(); elem != nil && m.perType[entry.EntityType] > typeLimit; {
			prev := elem.Prev()
			if elem.Value.(*types.CacheEntry).EntityType == entry.EntityType {
				evicted = append(evicted, m.removeElementUnsafe(elem))
			}
			elem = prev
		}
	}

	return evicted
}

func (m *MemoryTier) Delete(keys ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if elem, exists := m.items[key]; exists {
			m.removeElementUnsafe(elem)
			removed++
		}
	}

	return removed
}

func (m *MemoryTier) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for elem := m.list.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*types.CacheEntry).Key)
	}

	return keys
}

func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.list.Len()
}

func (m *MemoryTier) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bytes
}

func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.list.Init()
	m.items = make(map[string]*list.Element)
	m.perType = make(map[string]int)
	m.bytes = 0
}

func (m *MemoryTier) removeElementUnsafe(elem *list.Element) string {
	entry := elem.Value.(*types.CacheEntry)

	m.list.Remove(elem)
	delete(m.items, entry.Key)

	m.bytes -= entry.Size
	m.perType[entry.EntityType]--
	if m.perType[entry.EntityType] <= 0 {
		delete(m.perType, entry.EntityType)
	}

	return entry.Key
}
