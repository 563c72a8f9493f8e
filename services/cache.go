package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheStore is a byte-oriented key/value store with TTLs
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	// SetNX stores key only when absent and reports whether it did
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// IdempotencyStore remembers processed deliveries
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget releases a key so a failed delivery can be retried
	Forget(ctx context.Context, key string) error
}

// RedisCache implements CacheStore and IdempotencyStore on Redis
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheWithClient(client, "portal:"), nil
}

func NewRedisCacheWithClient(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}

func (r *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.keyPrefix+key, "1", ttl).Result()
}

func (r *RedisCache) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.SetNX(ctx, "idempotency:"+key, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s as processed: %w", key, err)
	}
	return ok, nil
}

func (r *RedisCache) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+"idempotency:"+key).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the single-instance fallback used when Redis is disabled
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.entry(value, ttl)
	return nil
}

func (m *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryCache) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && (e.expiresAt.IsZero() || m.now().Before(e.expiresAt)) {
		return false, nil
	}
	m.entries[key] = m.entry([]byte("1"), ttl)
	return true, nil
}

func (m *MemoryCache) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.SetNX(ctx, "idempotency:"+key, ttl)
}

func (m *MemoryCache) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, "idempotency:"+key)
	return nil
}

func (m *MemoryCache) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

// QueryCache caches read queries per customer. Concurrent misses for the same
// key share one load, and writes drop every key under the customer's prefix.
type QueryCache struct {
	store  CacheStore
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewQueryCache(store CacheStore, ttl time.Duration, logger *zap.Logger) *QueryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCache{store: store, ttl: ttl, logger: logger}
}

// CustomerKey builds a cache key scoped to one customer
func CustomerKey(customerID fmt.Stringer, parts ...string) string {
	return "customer:" + customerID.String() + ":" + strings.Join(parts, ":")
}

// Invalidate drops every cached query of a customer
func (q *QueryCache) Invalidate(ctx context.Context, customerID fmt.Stringer) {
	if q == nil {
		return
	}
	if err := q.store.DeletePrefix(ctx, "customer:"+customerID.String()+":"); err != nil {
		q.logger.Warn("Cache invalidation failed", zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}

// LoadCached returns the cached value for key or runs load and caches its result.
// Cache failures degrade to calling load directly.
func LoadCached[T any](ctx context.Context, q *QueryCache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if q == nil {
		return load(ctx)
	}

	if b, ok, err := q.store.Get(ctx, key); err != nil {
		q.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var cached T
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	}

	v, err, _ := q.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(value); err == nil {
			if err := q.store.Set(ctx, key, b, q.ttl); err != nil {
				q.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
