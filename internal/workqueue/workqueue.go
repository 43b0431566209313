// Package workqueue implements the bounded-concurrency execution substrate
// (spec C2): a generic queue of work items with priority scheduling,
// dependency ordering, retry, and cancellation, ported from the scheduler
// contract in ztoq's work_queue.py onto goroutines and channels — the
// single coherent concurrency model collapsing the spec's "OS threads" and
// "cooperative async tasks" worker flavors (spec §4.2, §5).
package workqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of lifecycle states a WorkItem passes through.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WorkItem is one unit of work submitted to a Queue.
type WorkItem[In, Out any] struct {
	ID           string
	Input        In
	Status       Status
	Result       Out
	Err          error
	Priority     int // higher runs first
	Dependencies map[string]struct{}
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	Attempt      int
	MaxAttempts  int
	Metadata     map[string]any

	seq int64 // insertion sequence, for FIFO tie-breaking within a priority
	done chan struct{}
}

// ProcessingTime is CompletedAt - StartedAt, valid once terminal.
func (w *WorkItem[In, Out]) ProcessingTime() time.Duration {
	if w.StartedAt.IsZero() || w.CompletedAt.IsZero() {
		return 0
	}
	return w.CompletedAt.Sub(w.StartedAt)
}

// WaitingTime is StartedAt - CreatedAt.
func (w *WorkItem[In, Out]) WaitingTime() time.Duration {
	if w.StartedAt.IsZero() {
		return 0
	}
	return w.StartedAt.Sub(w.CreatedAt)
}

// TotalTime is CompletedAt - CreatedAt.
func (w *WorkItem[In, Out]) TotalTime() time.Duration {
	if w.CompletedAt.IsZero() {
		return 0
	}
	return w.CompletedAt.Sub(w.CreatedAt)
}

// WorkFunc is the body executed for a work item's input.
type WorkFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// RetryDecider decides, given the attempt number just exhausted and the
// failure, whether the item should be retried and after what delay. The
// retry package's Policy satisfies this signature. The queue acts on the
// retry decision only: a retried item goes back on the ready heap at once
// and the returned delay is not applied.
type RetryDecider func(attempt int, err error) (retry bool, delay time.Duration)

// EventEmitter receives queue lifecycle notifications. Implementations are
// externally injected; the queue never touches process-wide logging or
// progress-console singletons (spec §9).
type EventEmitter interface {
	Emit(event string, fields map[string]any)
}

type noopEmitter struct{}

func (noopEmitter) Emit(string, map[string]any) {}

// Queue is a bounded-concurrency executor over WorkItem[In, Out].
type Queue[In, Out any] struct {
	maxWorkers int
	fn         WorkFunc[In, Out]
	retry      RetryDecider
	emitter    EventEmitter
	onComplete func(*WorkItem[In, Out])
	onError    func(*WorkItem[In, Out])

	mu        sync.Mutex
	cond      *sync.Cond
	items     map[string]*WorkItem[In, Out]
	ready     *itemHeap[In, Out]
	waiting   map[string]*WorkItem[In, Out]
	nextSeq   int64
	running   int
	stopped   bool
	draining  bool
	wg        sync.WaitGroup
}

// Options configures a new Queue.
type Options[In, Out any] struct {
	MaxWorkers int
	Fn         WorkFunc[In, Out]
	Retry      RetryDecider // nil means never retry
	Emitter    EventEmitter // nil means discard events
	OnComplete func(*WorkItem[In, Out])
	OnError    func(*WorkItem[In, Out])
}

// New constructs a Queue ready to Start.
func New[In, Out any](opts Options[In, Out]) *Queue[In, Out] {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = noopEmitter{}
	}
	q := &Queue[In, Out]{
		maxWorkers: opts.MaxWorkers,
		fn:         opts.Fn,
		retry:      opts.Retry,
		emitter:    emitter,
		onComplete: opts.OnComplete,
		onError:    opts.OnError,
		items:      map[string]*WorkItem[In, Out]{},
		ready:      &itemHeap[In, Out]{},
		waiting:    map[string]*WorkItem[In, Out]{},
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(q.ready)
	return q
}

// AddWork enqueues a single item with no dependencies.
func (q *Queue[In, Out]) AddWork(input In, priority, maxAttempts int, metadata map[string]any) string {
	return q.AddWithDependencies(input, priority, maxAttempts, metadata, nil)
}

// AddBatch enqueues many independent items at once.
func (q *Queue[In, Out]) AddBatch(inputs []In, priority, maxAttempts int, metadata map[string]any) []string {
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		ids[i] = q.AddWork(in, priority, maxAttempts, metadata)
	}
	return ids
}

// AddWithDependencies enqueues an item that becomes eligible only once
// every id in deps has reached COMPLETED. Dependency edges are persisted
// before the item is eligible, so a caller that adds A then B-depending-on-A
// can never observe B dequeued ahead of A's completion.
func (q *Queue[In, Out]) AddWithDependencies(input In, priority, maxAttempts int, metadata map[string]any, deps []string) string {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	depSet := map[string]struct{}{}
	for _, d := range deps {
		depSet[d] = struct{}{}
	}
	item := &WorkItem[In, Out]{
		ID:           uuid.NewString(),
		Input:        input,
		Status:       StatusPending,
		Priority:     priority,
		Dependencies: depSet,
		CreatedAt:    time.Now(),
		MaxAttempts:  maxAttempts,
		Metadata:     metadata,
		seq:          q.nextSeq,
		done:         make(chan struct{}),
	}
	q.nextSeq++
	q.items[item.ID] = item

	if q.dependenciesSatisfied(item) {
		heap.Push(q.ready, item)
	} else {
		q.waiting[item.ID] = item
	}
	q.cond.Signal()
	return item.ID
}

func (q *Queue[In, Out]) dependenciesSatisfied(item *WorkItem[In, Out]) bool {
	for dep := range item.Dependencies {
		d, ok := q.items[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Start launches maxWorkers dispatcher goroutines and returns immediately;
// call Stop to drain and shut down.
func (q *Queue[In, Out]) Start(ctx context.Context) {
	for i := 0; i < q.maxWorkers; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx)
	}
}

func (q *Queue[In, Out]) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		item := q.dequeue(ctx)
		if item == nil {
			return
		}
		q.run(ctx, item)
	}
}

// dequeue blocks until a ready item is available, the queue stops, or ctx
// is cancelled. Returns nil to signal the worker should exit.
func (q *Queue[In, Out]) dequeue(ctx context.Context) *WorkItem[In, Out] {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if q.ready.Len() > 0 {
			item := heap.Pop(q.ready).(*WorkItem[In, Out])
			q.running++
			return item
		}
		if q.stopped && !q.draining {
			return nil
		}
		// With nothing running, no waiting item can become ready any more.
		if q.stopped && q.draining && q.running == 0 {
			return nil
		}
		q.cond.Wait()
	}
}

func (q *Queue[In, Out]) run(ctx context.Context, item *WorkItem[In, Out]) {
	q.mu.Lock()
	if item.Status == StatusCancelled {
		q.mu.Unlock()
		q.finishRunningSlot()
		return
	}
	item.Status = StatusRunning
	item.StartedAt = time.Now()
	item.Attempt++
	q.mu.Unlock()

	q.emitter.Emit("work_item.started", map[string]any{"id": item.ID, "attempt": item.Attempt})

	result, err := q.fn(ctx, item.Input)

	q.mu.Lock()
	item.CompletedAt = time.Now()
	if item.Status == StatusCancelled {
		// Cancelled while running: keep the terminal state, no retry.
		q.mu.Unlock()
		close(item.done)
		q.finishRunningSlot()
		return
	}
	if err == nil {
		item.Result = result
		item.Status = StatusCompleted
		q.settleDependents(item.ID)
		q.mu.Unlock()
		q.fireComplete(item)
	} else if item.Attempt < item.MaxAttempts && q.shouldRetry(item.Attempt, err) {
		item.Status = StatusPending
		item.Err = err
		heap.Push(q.ready, item)
		q.cond.Signal()
		q.mu.Unlock()
	} else {
		item.Err = err
		item.Status = StatusFailed
		q.mu.Unlock()
		q.fireError(item)
	}
	q.finishRunningSlot()
}

func (q *Queue[In, Out]) shouldRetry(attempt int, err error) bool {
	if q.retry == nil {
		return false
	}
	retry, _ := q.retry(attempt, err)
	return retry
}

// settleDependents moves any waiting item whose dependencies are now all
// satisfied into the ready heap. Caller holds q.mu.
func (q *Queue[In, Out]) settleDependents(completedID string) {
	for id, w := range q.waiting {
		if _, depends := w.Dependencies[completedID]; !depends {
			continue
		}
		if q.dependenciesSatisfied(w) {
			delete(q.waiting, id)
			heap.Push(q.ready, w)
		}
	}
	q.cond.Broadcast()
}

func (q *Queue[In, Out]) finishRunningSlot() {
	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[In, Out]) fireComplete(item *WorkItem[In, Out]) {
	close(item.done)
	q.emitter.Emit("work_item.completed", map[string]any{"id": item.ID})
	if q.onComplete == nil {
		return
	}
	safeCall(func() { q.onComplete(item) })
}

func (q *Queue[In, Out]) fireError(item *WorkItem[In, Out]) {
	close(item.done)
	q.emitter.Emit("work_item.failed", map[string]any{"id": item.ID, "error": item.Err.Error()})
	if q.onError == nil {
		return
	}
	safeCall(func() { q.onError(item) })
}

func safeCall(fn func()) {
	defer func() { recover() }() //nolint:errcheck // callback panics must not affect queue state
	fn()
}

// Cancel transitions a PENDING item to CANCELLED without running its
// worker function, or best-effort-signals a RUNNING item (it may not
// observe cancellation until its own checkpoint). It is idempotent.
func (q *Queue[In, Out]) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("workqueue: item %q not found", id)
	}
	if item.Status.Terminal() {
		return nil
	}
	if item.Status == StatusPending {
		q.removeFromReadyOrWaiting(item)
		item.Status = StatusCancelled
		item.CompletedAt = time.Now()
		close(item.done)
		return nil
	}
	// RUNNING: mark cancelled so completion handling treats it as terminal;
	// the worker body itself is not interrupted.
	item.Status = StatusCancelled
	return nil
}

func (q *Queue[In, Out]) removeFromReadyOrWaiting(item *WorkItem[In, Out]) {
	delete(q.waiting, item.ID)
	for i, w := range *q.ready {
		if w.ID == item.ID {
			heap.Remove(q.ready, i)
			break
		}
	}
}

// GetResult blocks until the item reaches a terminal state or timeout
// elapses, then returns its result and error. A zero timeout waits
// indefinitely.
func (q *Queue[In, Out]) GetResult(ctx context.Context, id string, timeout time.Duration) (Out, error) {
	q.mu.Lock()
	item, ok := q.items[id]
	q.mu.Unlock()
	if !ok {
		var zero Out
		return zero, fmt.Errorf("workqueue: item %q not found", id)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-item.done:
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	case <-timeoutCh:
		var zero Out
		return zero, fmt.Errorf("workqueue: timeout waiting for item %q", id)
	}

	switch item.Status {
	case StatusCompleted:
		return item.Result, nil
	case StatusCancelled:
		var zero Out
		return zero, fmt.Errorf("workqueue: item %q cancelled", id)
	default:
		var zero Out
		return zero, item.Err
	}
}

// Get returns a snapshot of an item's current state.
func (q *Queue[In, Out]) Get(id string) (WorkItem[In, Out], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return WorkItem[In, Out]{}, false
	}
	return *item, true
}

// Stop drains running work if wait is true (letting in-flight items and
// their eligible dependents complete), then cancels every remaining
// PENDING item and returns once all worker goroutines have exited.
func (q *Queue[In, Out]) Stop(wait bool) {
	q.mu.Lock()
	q.stopped = true
	q.draining = wait
	if !wait {
		for _, w := range *q.ready {
			w.Status = StatusCancelled
			close(w.done)
		}
		*q.ready = nil
		for _, w := range q.waiting {
			w.Status = StatusCancelled
			close(w.done)
		}
		q.waiting = map[string]*WorkItem[In, Out]{}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()

	if wait {
		q.mu.Lock()
		for _, w := range *q.ready {
			w.Status = StatusCancelled
			close(w.done)
		}
		*q.ready = nil
		for _, w := range q.waiting {
			w.Status = StatusCancelled
			close(w.done)
		}
		q.waiting = map[string]*WorkItem[In, Out]{}
		q.mu.Unlock()
	}
}

// itemHeap is a container/heap ordering by (priority desc, seq asc) —
// highest priority first, FIFO among equal priorities.
type itemHeap[In, Out any] []*WorkItem[In, Out]

func (h itemHeap[In, Out]) Len() int { return len(h) }
func (h itemHeap[In, Out]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap[In, Out]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap[In, Out]) Push(x any)   { *h = append(*h, x.(*WorkItem[In, Out])) }
func (h *itemHeap[In, Out]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
