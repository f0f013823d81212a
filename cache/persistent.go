package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/codec"
	"github.com/saiset-co/sai-cache/types"
)

const (
	DefaultPersistentCapacity   = 1000
	DefaultPersistentEvictBatch = 100
)

var customStoreCreators = make(map[string]StoreCreator)

type StoreCreator func(ctx context.Context, config interface{}) (types.PersistentStore, error)

func RegisterPersistentStore(storeName string, creator StoreCreator) {
	customStoreCreators[storeName] = creator
}

// NewPersistentStore builds the backend named by config.Type.
func NewPersistentStore(ctx context.Context, config *types.PersistentTierConfig) (types.PersistentStore, error) {
	storeName := "memory"
	var storeConfig interface{}

	if config != nil {
		if config.Type != "" {
			storeName = config.Type
		}
		storeConfig = config.Config
	}

	switch storeName {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, storeConfig)
	default:
		if creator, exists := customStoreCreators[storeName]; exists {
			return creator(ctx, storeConfig)
		}
		return nil, types.Errorf(types.ErrPersistentStoreUnknown, "type: %s", storeName)
	}
}

// PersistentTier is the durable-style second tier. It compresses payloads
// according to the entity policy and keeps the record count at or below
// capacity by dropping the oldest records in batches.
type PersistentTier struct {
	mu         sync.RWMutex
	store      types.PersistentStore
	codec      *codec.Codec
	logger     types.Logger
	clock      types.Clock
	capacity   int
	evictBatch int
}

func NewPersistentTier(store types.PersistentStore, c *codec.Codec, config *types.PersistentTierConfig, logger types.Logger, clock types.Clock) *PersistentTier {
	p := &PersistentTier{
		store:      store,
		codec:      c,
		logger:     logger,
		clock:      clock,
		capacity:   DefaultPersistentCapacity,
		evictBatch: DefaultPersistentEvictBatch,
	}

	if config != nil {
		if config.Capacity > 0 {
			p.capacity = config.Capacity
		}
		if config.EvictBatch > 0 {
			p.evictBatch = config.EvictBatch
		}
	}

	if p.clock == nil {
		p.clock = time.Now
	}

	return p
}

// Get returns the stored record together with its decoded payload.
func (p *PersistentTier) Get(key string) (*types.PersistedRecord, []byte, bool, error) {
	p.mu.RLock()
	record, exists, err := p.store.Get(key)
	p.mu.RUnlock()

	if err != nil {
		return nil, nil, false, err
	}
	if !exists {
		return nil, nil, false, nil
	}

	raw, err := p.codec.Decode(record.Payload, record.Compressed)
	if err != nil {
		return record, nil, true, err
	}

	return record, raw, true, nil
}

// Set encodes raw with the policy compression rule and stores it stamped with
// the current time. Nothing is written when encoding fails. The returned keys
// are the records evicted to get back under capacity.
func (p *PersistentTier) Set(key string, raw []byte, policy types.CachePolicy) (*types.PersistedRecord, []string, error) {
	payload, compressed, err := p.codec.Encode(policy, raw)
	if err != nil {
		return nil, nil, err
	}

	record := &types.PersistedRecord{
		Key:        key,
		Payload:    payload,
		Compressed: compressed,
		EntityType: policy.EntityType,
		Timestamp:  p.clock(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Put(record); err != nil {
		return nil, nil, err
	}

	evicted, err := p.evictUnsafe()
	if err != nil {
		p.logger.Error("Failed to evict persistent records", zap.String("key", key), zap.Error(err))
	}

	return record, evicted, nil
}

func (p *PersistentTier) Delete(keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store.Delete(keys...)
}

// DeleteExpired removes key only while it still holds the record written at
// timestamp. It reports whether a record was removed.
func (p *PersistentTier) DeleteExpired(key string, timestamp time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, exists, err := p.store.Get(key)
	if err != nil || !exists {
		return false, err
	}

	if !record.Timestamp.Equal(timestamp) {
		return false, nil
	}

	return true, p.store.Delete(key)
}

func (p *PersistentTier) Keys() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.store.Keys()
}

func (p *PersistentTier) Len() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.store.Len()
}

func (p *PersistentTier) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.store.Clear()
}

func (p *PersistentTier) Ping() error {
	return p.store.Ping()
}

func (p *PersistentTier) Close() error {
	return p.store.Close()
}

func (p *PersistentTier) evictUnsafe() ([]string, error) {
	count, err := p.store.Len()
	if err != nil {
		return nil, err
	}

	if count <= p.capacity {
		return nil, nil
	}

	victims, err := p.store.Oldest(p.evictBatch)
	if err != nil {
		return nil, err
	}

	if err := p.store.Delete(victims...); err != nil {
		return nil, err
	}

	p.logger.Debug("Persistent tier batch eviction",
		zap.Int("count_before", count),
		zap.Int("evicted", len(victims)))

	return victims, nil
}
