// Package worker executes one queued task end-to-end: lock, download, apply,
// upload, release, acknowledge.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/profcard/syncworker/internal/locker"
	"github.com/profcard/syncworker/internal/queue"
	"github.com/profcard/syncworker/internal/userdb"
	"go.uber.org/zap"
)

var (
	errMissingLocks     = errors.New("worker: lock coordinator is required")
	errMissingSnapshots = errors.New("worker: snapshot store is required")
	errMissingApplier   = errors.New("worker: applier is required")
	errMissingQueue     = errors.New("worker: queue is required")

	// ErrLockContention signals that another task's fingerprint holds the
	// owner's lock. Expected and retryable; the caller defers the message.
	ErrLockContention = errors.New("worker: lock held by another task")
)

const defaultLockTTL = 6 * time.Minute

// Locks is the mutex surface the worker needs.
type Locks interface {
	TryAcquire(ctx context.Context, ownerID int64, fingerprint string, ttl time.Duration) (locker.AcquireStatus, error)
	Release(ctx context.Context, ownerID int64) error
}

// Snapshots moves whole snapshot blobs in and out of storage.
type Snapshots interface {
	Download(ctx context.Context, ownerID int64) ([]byte, error)
	Upload(ctx context.Context, ownerID int64, data []byte) error
}

// Applier merges a changelog into an open snapshot.
type Applier interface {
	Apply(ctx context.Context, snap *userdb.Snapshot, changelog userdb.Changelog) error
}

// Queue is the acknowledge/requeue surface the worker needs.
type Queue interface {
	Delete(ctx context.Context, handle string) error
	ExtendVisibility(ctx context.Context, handle string, seconds int) error
}

// Config wires the worker's collaborators.
type Config struct {
	Locks      Locks
	Snapshots  Snapshots
	Applier    Applier
	Queue      Queue
	Logger     *zap.Logger
	LockTTL    time.Duration
	RetryDelay int
}

// Worker processes tasks one at a time.
type Worker struct {
	locks      Locks
	snapshots  Snapshots
	applier    Applier
	queue      Queue
	logger     *zap.Logger
	lockTTL    time.Duration
	retryDelay int
}

// New validates configuration and returns a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Locks == nil {
		return nil, errMissingLocks
	}
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshots
	}
	if cfg.Applier == nil {
		return nil, errMissingApplier
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 45
	}

	return &Worker{
		locks:      cfg.Locks,
		snapshots:  cfg.Snapshots,
		applier:    cfg.Applier,
		queue:      cfg.Queue,
		logger:     log,
		lockTTL:    ttl,
		retryDelay: retryDelay,
	}, nil
}

// Process executes one task. On ErrLockContention the caller extends the
// message's visibility; on any other failure the worker extends it before
// returning so the message is redelivered instead of reappearing at its
// original short window. The lock is deliberately left to expire on failure:
// releasing it early would let a concurrent retry race a half-applied
// snapshot.
func (w *Worker) Process(ctx context.Context, task queue.Task) (err error) {
	defer func() {
		if err == nil || errors.Is(err, ErrLockContention) {
			return
		}
		if extendErr := w.queue.ExtendVisibility(ctx, task.Handle, w.retryDelay); extendErr != nil {
			// Never mask the original failure with a requeue failure.
			w.logger.Warn("visibility extension failed",
				zap.Int64("owner_id", task.OwnerID),
				zap.Error(extendErr))
		}
	}()

	status, err := w.locks.TryAcquire(ctx, task.OwnerID, task.Fingerprint, w.lockTTL)
	if err != nil {
		return fmt.Errorf("worker: owner %d: acquiring lock: %w", task.OwnerID, err)
	}
	if status == locker.StatusContended {
		return fmt.Errorf("%w (owner %d)", ErrLockContention, task.OwnerID)
	}

	data, err := w.snapshots.Download(ctx, task.OwnerID)
	if err != nil {
		return fmt.Errorf("worker: owner %d: %w", task.OwnerID, err)
	}

	snap, err := userdb.OpenSnapshot(data)
	if err != nil {
		return fmt.Errorf("worker: owner %d: %w", task.OwnerID, err)
	}
	defer snap.Discard()

	if err = w.applier.Apply(ctx, snap, task.Changelog); err != nil {
		return fmt.Errorf("worker: owner %d: %w", task.OwnerID, err)
	}

	out, err := snap.Finalize()
	if err != nil {
		return fmt.Errorf("worker: owner %d: %w", task.OwnerID, err)
	}

	if err = w.snapshots.Upload(ctx, task.OwnerID, out); err != nil {
		return fmt.Errorf("worker: owner %d: %w", task.OwnerID, err)
	}

	// The result is durable; a failed release only costs other workers the
	// remaining TTL, and redelivery would be pure wasted work.
	if releaseErr := w.locks.Release(ctx, task.OwnerID); releaseErr != nil {
		w.logger.Warn("lock release failed, waiting out ttl",
			zap.Int64("owner_id", task.OwnerID),
			zap.Error(releaseErr))
	}

	if err = w.queue.Delete(ctx, task.Handle); err != nil {
		return fmt.Errorf("worker: owner %d: acknowledging: %w", task.OwnerID, err)
	}
	return nil
}
