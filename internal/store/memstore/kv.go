package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// KV is an expiring key/value map offering the same lock and idempotency
// operations as the Redis client.
type KV struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewKV returns an empty KV.
func NewKV() *KV {
	return &KV{items: make(map[string]entry), now: time.Now}
}

func (kv *KV) get(key string) (string, bool) {
	e, ok := kv.items[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !kv.now().Before(e.expiresAt) {
		delete(kv.items, key)
		return "", false
	}
	return e.value, true
}

func (kv *KV) set(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = kv.now().Add(ttl)
	}
	kv.items[key] = e
}

// AcquireLock takes key for ttl unless it is already held.
func (kv *KV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	k := "lock:" + key
	if _, held := kv.get(k); held {
		return "", false, nil
	}
	token := uuid.NewString()
	kv.set(k, token, ttl)
	return token, true, nil
}

// ReleaseLock frees key only if token still owns it.
func (kv *KV) ReleaseLock(ctx context.Context, key, token string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	k := "lock:" + key
	if v, ok := kv.get(k); ok && v == token {
		delete(kv.items, k)
	}
	return nil
}

// SetIdempotencyKey remembers the order created for key.
func (kv *KV) SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.set("idempotency:"+key, strconv.FormatInt(orderID, 10), ttl)
	return nil
}

// GetIdempotencyKey returns the order remembered for key.
func (kv *KV) GetIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.get("idempotency:" + key)
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
