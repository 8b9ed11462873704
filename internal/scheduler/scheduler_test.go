package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/profcard/syncworker/internal/queue"
	"github.com/profcard/syncworker/internal/worker"
)

type fakeQueue struct {
	mu       sync.Mutex
	batches  [][]queue.Task
	extended map[string]int
}

func newFakeQueue(batches ...[]queue.Task) *fakeQueue {
	return &fakeQueue{batches: batches, extended: map[string]int{}}
}

func (f *fakeQueue) ReceiveBatch(context.Context) ([]queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeQueue) ExtendVisibility(_ context.Context, handle string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended[handle] = seconds
	return nil
}

type fakeLocks struct {
	holders map[int64]string
}

func (f *fakeLocks) Peek(_ context.Context, ownerID int64) (string, bool, error) {
	holder, held := f.holders[ownerID]
	return holder, held, nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []queue.Task
	err       error
}

func (f *fakeProcessor) Process(_ context.Context, task queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.processed = append(f.processed, task)
	return nil
}

func mustScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected scheduler error: %v", err)
	}
	return s
}

func task(ownerID int64, fingerprint, handle string) queue.Task {
	return queue.Task{OwnerID: ownerID, Fingerprint: fingerprint, Handle: handle}
}

func TestRunReportsNoTaskOnEmptyQueue(t *testing.T) {
	s := mustScheduler(t, Config{
		Queue:  newFakeQueue(),
		Locks:  &fakeLocks{},
		Worker: &fakeProcessor{},
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeNoTask {
		t.Fatalf("expected NO_TASK_IN_QUEUE, got %q", result.Outcome)
	}
}

func TestRunProcessesBatchesUntilDrained(t *testing.T) {
	taskQueue := newFakeQueue(
		[]queue.Task{task(1, "fp-1", "h-1"), task(2, "fp-2", "h-2")},
		[]queue.Task{task(3, "fp-3", "h-3")},
	)
	processor := &fakeProcessor{}
	s := mustScheduler(t, Config{
		Queue:   taskQueue,
		Locks:   &fakeLocks{},
		Worker:  processor,
		Workers: 2,
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected BATCH_PROCESSED, got %q", result.Outcome)
	}
	if result.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", result.Processed)
	}
	if len(processor.processed) != 3 {
		t.Fatalf("expected 3 worker invocations, got %d", len(processor.processed))
	}
}

func TestRunDefersOwnerLockedByDifferentFingerprint(t *testing.T) {
	taskQueue := newFakeQueue([]queue.Task{task(7, "fp-mine", "h-7")})
	processor := &fakeProcessor{}
	s := mustScheduler(t, Config{
		Queue:      taskQueue,
		Locks:      &fakeLocks{holders: map[int64]string{7: "fp-other"}},
		Worker:     processor,
		RetryDelay: 45,
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("expected 1 deferred, got %d", result.Deferred)
	}
	if len(processor.processed) != 0 {
		t.Fatalf("locked owner must not reach a worker, got %v", processor.processed)
	}
	if taskQueue.extended["h-7"] != 45 {
		t.Fatalf("expected 45s visibility extension, got %v", taskQueue.extended)
	}
}

func TestRunAdmitsRetryOfLockHolder(t *testing.T) {
	taskQueue := newFakeQueue([]queue.Task{task(7, "fp-mine", "h-7")})
	processor := &fakeProcessor{}
	s := mustScheduler(t, Config{
		Queue:  taskQueue,
		Locks:  &fakeLocks{holders: map[int64]string{7: "fp-mine"}},
		Worker: processor,
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("a redelivery of the holder must be admitted, got %+v", result)
	}
}

func TestRunDefersOnWorkerContention(t *testing.T) {
	taskQueue := newFakeQueue([]queue.Task{task(7, "fp-mine", "h-7")})
	processor := &fakeProcessor{err: worker.ErrLockContention}
	s := mustScheduler(t, Config{
		Queue:      taskQueue,
		Locks:      &fakeLocks{},
		Worker:     processor,
		RetryDelay: 45,
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("expected 1 deferred, got %+v", result)
	}
	if taskQueue.extended["h-7"] != 45 {
		t.Fatalf("expected visibility extension after losing the acquire race, got %v", taskQueue.extended)
	}
}

func TestRunContinuesPastFailedTask(t *testing.T) {
	taskQueue := newFakeQueue(
		[]queue.Task{task(1, "fp-1", "h-1")},
		[]queue.Task{task(2, "fp-2", "h-2")},
	)
	failing := &fakeProcessor{err: errors.New("apply failed")}
	s := mustScheduler(t, Config{
		Queue:  taskQueue,
		Locks:  &fakeLocks{},
		Worker: failing,
	})

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("one bad task must not fail the run: %v", err)
	}
	if result.Failed != 2 {
		t.Fatalf("expected 2 failed, got %+v", result)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("a failing batch still counts as processed work, got %q", result.Outcome)
	}
}
