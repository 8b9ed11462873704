// Package locker provides the per-owner distributed mutex backed by Redis.
// A lock is a key shaped "<namespace>=<owner id>" whose value is the
// fingerprint of the task holding it and whose TTL bounds how long a crashed
// holder can block an owner.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AcquireStatus is the explicit outcome of a lock acquisition attempt.
// Contention is an expected result, not an error.
type AcquireStatus int

const (
	// StatusAcquired means the caller now holds the lock (fresh or re-entered
	// by the same fingerprint on a retried delivery).
	StatusAcquired AcquireStatus = iota
	// StatusContended means a different fingerprint holds the lock.
	StatusContended
)

var errMissingClient = errors.New("locker: redis client is required")

// commands is the subset of redis commands the coordinator needs. go-redis
// satisfies it; tests substitute an in-memory fake.
type commands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Coordinator implements the TTL mutex protocol.
type Coordinator struct {
	client    commands
	namespace string
}

// NewCoordinator wires a redis client under the given key namespace.
func NewCoordinator(client *redis.Client, namespace string) (*Coordinator, error) {
	return newCoordinator(client, namespace)
}

func newCoordinator(client commands, namespace string) (*Coordinator, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if namespace == "" {
		namespace = "userdb_modify_worker"
	}
	return &Coordinator{client: client, namespace: namespace}, nil
}

func (c *Coordinator) key(ownerID int64) string {
	return fmt.Sprintf("%s=%d", c.namespace, ownerID)
}

// TryAcquire atomically takes the owner's lock for the given fingerprint.
// SET NX is the gate: two workers can never both observe "unlocked" and
// proceed. A lock already held by the same fingerprint is re-entered with a
// refreshed TTL so a redelivered task can resume after a crash.
func (c *Coordinator) TryAcquire(ctx context.Context, ownerID int64, fingerprint string, ttl time.Duration) (AcquireStatus, error) {
	key := c.key(ownerID)

	ok, err := c.client.SetNX(ctx, key, fingerprint, ttl).Result()
	if err != nil {
		return StatusContended, fmt.Errorf("locker: acquiring %s: %w", key, err)
	}
	if ok {
		return StatusAcquired, nil
	}

	holder, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Holder expired between SETNX and GET; retry once.
		ok, err := c.client.SetNX(ctx, key, fingerprint, ttl).Result()
		if err != nil {
			return StatusContended, fmt.Errorf("locker: acquiring %s: %w", key, err)
		}
		if ok {
			return StatusAcquired, nil
		}
		return StatusContended, nil
	}
	if err != nil {
		return StatusContended, fmt.Errorf("locker: inspecting %s: %w", key, err)
	}

	if holder == fingerprint {
		if err := c.client.Set(ctx, key, fingerprint, ttl).Err(); err != nil {
			return StatusContended, fmt.Errorf("locker: refreshing %s: %w", key, err)
		}
		return StatusAcquired, nil
	}
	return StatusContended, nil
}

// Peek reports the fingerprint currently holding the owner's lock, if any.
func (c *Coordinator) Peek(ctx context.Context, ownerID int64) (string, bool, error) {
	key := c.key(ownerID)
	holder, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("locker: inspecting %s: %w", key, err)
	}
	return holder, true, nil
}

// Release drops the owner's lock. Locks that are never released expire on
// their own via TTL.
func (c *Coordinator) Release(ctx context.Context, ownerID int64) error {
	key := c.key(ownerID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("locker: releasing %s: %w", key, err)
	}
	return nil
}
