package types

import (
	"context"
	"time"
)

type Strategy string

const (
	StrategyCacheFirst           Strategy = "CACHE_FIRST"
	StrategyCacheOnly            Strategy = "CACHE_ONLY"
	StrategyNetworkFirst         Strategy = "NETWORK_FIRST"
	StrategyNetworkOnly          Strategy = "NETWORK_ONLY"
	StrategyStaleWhileRevalidate Strategy = "STALE_WHILE_REVALIDATE"
)

const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// PreloadPriority is the minimum policy priority an entity type needs to be warmed by Preload.
const PreloadPriority = 8

// CachePolicy is the per-entity-type cache configuration.
type CachePolicy struct {
	EntityType     string        `json:"entity_type" yaml:"entity_type"`
	Strategy       Strategy      `json:"strategy" yaml:"strategy"`
	TTL            time.Duration `json:"ttl" yaml:"ttl"`
	StaleTime      time.Duration `json:"stale_time" yaml:"stale_time"`
	MaxMemoryItems int           `json:"max_memory_items" yaml:"max_memory_items"`
	Compress       bool          `json:"compress" yaml:"compress"`
	Priority       int           `json:"priority" yaml:"priority"`
}

// PolicyRecord is a policy as delivered by an external PolicySource. Durations are in seconds.
type PolicyRecord struct {
	EntityType     string `json:"entity_type" yaml:"entity_type" validate:"required"`
	Strategy       string `json:"strategy" yaml:"strategy" validate:"required,oneof=CACHE_FIRST CACHE_ONLY NETWORK_FIRST NETWORK_ONLY STALE_WHILE_REVALIDATE"`
	TTL            int64  `json:"ttl" yaml:"ttl" validate:"min=0"`
	StaleTime      int64  `json:"stale_time" yaml:"stale_time" validate:"min=0"`
	Priority       int    `json:"priority" yaml:"priority" validate:"min=1,max=10"`
	MaxMemoryItems *int   `json:"max_memory_items,omitempty" yaml:"max_memory_items,omitempty" validate:"omitempty,min=1"`
	Compress       *bool  `json:"compress,omitempty" yaml:"compress,omitempty"`
}

type PolicySource interface {
	Name() string
	Policies(ctx context.Context) ([]PolicyRecord, error)
}

type PolicyProvider interface {
	Get(entityType string) CachePolicy
}

type CacheEntry struct {
	Key           string    `json:"key"`
	Value         []byte    `json:"value"`
	EntityType    string    `json:"entity_type"`
	Size          int64     `json:"size"`
	InsertedAt    time.Time `json:"inserted_at"`
	LastTouchedAt time.Time `json:"last_touched_at"`
	StoredAt      time.Time `json:"stored_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type PersistedRecord struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	Compressed bool      `json:"compressed"`
	EntityType string    `json:"entity_type"`
	Timestamp  time.Time `json:"timestamp"`
}

type CacheItem struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	EntityType string    `json:"entity_type"`
	StoredAt   time.Time `json:"stored_at"`
	Tier       string    `json:"tier"`
	Stale      bool      `json:"stale"`
}

type CacheStats struct {
	MemoryCount         int     `json:"memory_count"`
	MemoryBytes         int64   `json:"memory_bytes"`
	PersistentCount     int     `json:"persistent_count"`
	HitCount            uint64  `json:"hit_count"`
	MissCount           uint64  `json:"miss_count"`
	HitRate             float64 `json:"hit_rate"`
	MemoryEvictions     uint64  `json:"memory_evictions"`
	PersistentEvictions uint64  `json:"persistent_evictions"`
	BackgroundRefreshes uint64  `json:"background_refreshes"`
}

// PersistentStore is the backend behind the persistent tier. Implementations must be safe for concurrent use.
type PersistentStore interface {
	Get(key string) (*PersistedRecord, bool, error)
	Put(record *PersistedRecord) error
	Delete(keys ...string) error
	Keys() ([]string, error)
	Len() (int, error)
	Oldest(n int) ([]string, error)
	Clear() error
	Ping() error
	Close() error
}

type CacheManager interface {
	LifecycleManager
	Get(key, entityType string) ([]byte, bool)
	Lookup(key, entityType string) (*CacheItem, bool)
	Set(key string, value interface{}, entityType string) error
	Invalidate(pattern string) (int, error)
	InvalidateEntity(entityType string, entityID ...string) (int, error)
	Preload(ctx context.Context, entityTypes ...string) error
	RegisterWarmer(entityType string, fn WarmFunc)
	Refresh(key, entityType string, fn RefreshFunc)
	Stats() CacheStats
	Clear()
	Policy(entityType string) CachePolicy
	Ping() error
}

// WarmFunc fetches fresh data for an entity type and stores it through the cache manager.
type WarmFunc func(ctx context.Context, entityType string) error

// RefreshFunc fetches a fresh value for a single key.
type RefreshFunc func(ctx context.Context) (interface{}, error)
