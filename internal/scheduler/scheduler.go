// Package scheduler polls the task queue in batches and decides, per
// message, whether to admit it to a worker or defer it behind the owner's
// lock. The lock peek here is an optimization to avoid wasted dispatch; the
// worker's atomic acquisition is the safety gate.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/profcard/syncworker/internal/queue"
	"github.com/profcard/syncworker/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errMissingQueue  = errors.New("scheduler: queue is required")
	errMissingLocks  = errors.New("scheduler: lock coordinator is required")
	errMissingWorker = errors.New("scheduler: worker is required")
)

// Outcome tells the invoker whether another pass is worth scheduling.
type Outcome string

const (
	// OutcomeNoTask means the queue was empty on the first poll.
	OutcomeNoTask Outcome = "NO_TASK_IN_QUEUE"
	// OutcomeProcessed means at least one batch was handled.
	OutcomeProcessed Outcome = "BATCH_PROCESSED"
)

// Result summarizes one scheduler run.
type Result struct {
	Outcome   Outcome
	Processed int64
	Deferred  int64
	Failed    int64
}

// Queue is the transport surface the scheduler needs.
type Queue interface {
	ReceiveBatch(ctx context.Context) ([]queue.Task, error)
	ExtendVisibility(ctx context.Context, handle string, seconds int) error
}

// Locks exposes the cheap pre-check against the owner's mutex.
type Locks interface {
	Peek(ctx context.Context, ownerID int64) (fingerprint string, held bool, err error)
}

// Processor runs one admitted task to completion.
type Processor interface {
	Process(ctx context.Context, task queue.Task) error
}

// Config wires the scheduler's collaborators.
type Config struct {
	Queue      Queue
	Locks      Locks
	Worker     Processor
	Logger     *zap.Logger
	RetryDelay int
	Workers    int
}

// Scheduler drains the queue until an empty poll. It is stateless between
// runs; the queue and the lock store carry all coordination state.
type Scheduler struct {
	queue      Queue
	locks      Locks
	worker     Processor
	logger     *zap.Logger
	retryDelay int
	workers    int
}

// New validates configuration and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Locks == nil {
		return nil, errMissingLocks
	}
	if cfg.Worker == nil {
		return nil, errMissingWorker
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 45
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Scheduler{
		queue:      cfg.Queue,
		locks:      cfg.Locks,
		worker:     cfg.Worker,
		logger:     log,
		retryDelay: retryDelay,
		workers:    workers,
	}, nil
}

// Run polls batches until the queue comes back empty. Deferred and failed
// messages stay queued for redelivery; an all-deferred batch is a normal
// outcome, not an error.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	runLogger := s.logger.With(zap.String("run_id", uuid.NewString()))

	var processed, deferred, failed atomic.Int64
	for {
		if err := ctx.Err(); err != nil {
			return s.result(&processed, &deferred, &failed), err
		}

		tasks, err := s.queue.ReceiveBatch(ctx)
		if err != nil {
			return s.result(&processed, &deferred, &failed), err
		}
		if len(tasks) == 0 {
			result := s.result(&processed, &deferred, &failed)
			runLogger.Info("queue drained",
				zap.String("outcome", string(result.Outcome)),
				zap.Int64("processed", result.Processed),
				zap.Int64("deferred", result.Deferred),
				zap.Int64("failed", result.Failed))
			return result, nil
		}

		pool, poolCtx := errgroup.WithContext(ctx)
		pool.SetLimit(s.workers)
		for _, task := range tasks {
			task := task
			if s.deferContended(ctx, runLogger, task) {
				deferred.Add(1)
				continue
			}

			pool.Go(func() error {
				err := s.worker.Process(poolCtx, task)
				switch {
				case err == nil:
					processed.Add(1)
				case errors.Is(err, worker.ErrLockContention):
					// Lost the race between peek and acquire; back off.
					s.extend(ctx, runLogger, task)
					deferred.Add(1)
				default:
					// Worker already extended visibility; the message will
					// come back. One failure never blocks the batch.
					failed.Add(1)
					runLogger.Error("task failed",
						zap.Int64("owner_id", task.OwnerID),
						zap.String("fingerprint", task.Fingerprint),
						zap.Error(err))
				}
				return nil
			})
		}
		pool.Wait() //nolint:errcheck
	}
}

// deferContended reports whether the owner's lock is held by a different
// fingerprint and, if so, pushes the message's redelivery out. A retried
// delivery of the lock holder itself is admitted.
func (s *Scheduler) deferContended(ctx context.Context, log *zap.Logger, task queue.Task) bool {
	holder, held, err := s.locks.Peek(ctx, task.OwnerID)
	if err != nil {
		// Peek is only an optimization; let the worker's acquire decide.
		log.Warn("lock peek failed, dispatching anyway",
			zap.Int64("owner_id", task.OwnerID),
			zap.Error(err))
		return false
	}
	if !held || holder == task.Fingerprint {
		return false
	}

	s.extend(ctx, log, task)
	return true
}

func (s *Scheduler) extend(ctx context.Context, log *zap.Logger, task queue.Task) {
	if err := s.queue.ExtendVisibility(ctx, task.Handle, s.retryDelay); err != nil {
		log.Warn("visibility extension failed",
			zap.Int64("owner_id", task.OwnerID),
			zap.Error(err))
	}
}

func (s *Scheduler) result(processed, deferred, failed *atomic.Int64) Result {
	result := Result{
		Outcome:   OutcomeProcessed,
		Processed: processed.Load(),
		Deferred:  deferred.Load(),
		Failed:    failed.Load(),
	}
	if result.Processed == 0 && result.Deferred == 0 && result.Failed == 0 {
		result.Outcome = OutcomeNoTask
	}
	return result
}
