package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	OperationTimeout   time.Duration `json:"operation_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisStore keeps persisted records in Redis. Each record is a JSON string
// under <prefix>:rec:<key>; a sorted set at <prefix>:index scores keys by
// record timestamp so the oldest ones can be evicted in a batch.
type RedisStore struct {
	ctx    context.Context
	config *RedisConfig
	client *redis.Client
}

func NewRedisStore(ctx context.Context, config interface{}) (*RedisStore, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		OperationTimeout:   3 * time.Second,
		KeyPrefix:          "sai-cache",
	}

	if config != nil {
		err := utils.UnmarshalConfig(config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to marshal redis store config")
		}
	}

	if redisConfig.OperationTimeout <= 0 {
		redisConfig.OperationTimeout = 3 * time.Second
	}

	store := &RedisStore{
		ctx:    ctx,
		config: redisConfig,
	}

	store.initRedisClient()

	if err := store.Ping(); err != nil {
		_ = store.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(key string) (*types.PersistedRecord, bool, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	result, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrPersistentStoreFailed, "get %s: %v", key, err)
	}

	var record types.PersistedRecord
	if err := utils.Unmarshal(result, &record); err != nil {
		return nil, false, types.Errorf(types.ErrPersistentStoreFailed, "decode %s: %v", key, err)
	}

	return &record, true, nil
}

func (r *RedisStore) Put(record *types.PersistedRecord) error {
	if record == nil || record.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(record)
	if err != nil {
		return types.Errorf(types.ErrPersistentStoreFailed, "encode %s: %v", record.Key, err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(record.Key), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(record.Timestamp.UnixMicro()),
			Member: record.Key,
		})
		return nil
	})
	if err != nil {
		return types.Errorf(types.ErrPersistentStoreFailed, "put %s: %v", record.Key, err)
	}

	return nil
}

func (r *RedisStore) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	recordKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		recordKeys[i] = r.recordKey(key)
		members[i] = key
	}

	ctx, cancel := r.opContext()
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKeys...)
		pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return types.Errorf(types.ErrPersistentStoreFailed, "delete: %v", err)
	}

	return nil
}

func (r *RedisStore) Keys() ([]string, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrPersistentStoreFailed, "keys: %v", err)
	}

	return keys, nil
}

func (r *RedisStore) Len() (int, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	count, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, types.Errorf(types.ErrPersistentStoreFailed, "len: %v", err)
	}

	return int(count), nil
}

func (r *RedisStore) Oldest(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	ctx, cancel := r.opContext()
	defer cancel()

	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrPersistentStoreFailed, "oldest: %v", err)
	}

	return keys, nil
}

func (r *RedisStore) Clear() error {
	keys, err := r.Keys()
	if err != nil {
		return err
	}

	const batchSize = 100

	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := r.Delete(keys[i:end]...); err != nil {
			return err
		}
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if err := r.client.Del(ctx, r.indexKey()).Err(); err != nil {
		return types.Errorf(types.ErrPersistentStoreFailed, "clear: %v", err)
	}

	return nil
}

func (r *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	return nil
}

func (r *RedisStore) initRedisClient() {
	addr := fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)

	r.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

func (r *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.config.OperationTimeout)
}

func (r *RedisStore) recordKey(key string) string {
	return r.buildFullKey("rec:" + key)
}

func (r *RedisStore) indexKey() string {
	return r.buildFullKey("index")
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
