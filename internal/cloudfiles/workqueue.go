package cloudfiles

import (
	"sync"

	"github.com/rs/zerolog"
)

// WorkItem is a deferred unit of fetch work. It captures by value everything
// it needs; the queue owns it from enqueue until the worker consumes it
// exactly once.
type WorkItem struct {
	Path string
	Run  func() error
}

// WorkQueue is a multi-producer, single-consumer FIFO of WorkItems executed
// by one dedicated worker. Enqueue never blocks the caller; the worker never
// holds the queue lock while executing an item, so items may enqueue more
// work without deadlocking.
type WorkQueue struct {
	log zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []WorkItem
	stopped bool

	done chan struct{}
}

func NewWorkQueue(log zerolog.Logger) *WorkQueue {
	q := &WorkQueue{
		log:  log,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item and wakes the worker. Items enqueued after Stop
// are discarded.
func (q *WorkQueue) Enqueue(item WorkItem) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.log.Debug().Str("path", item.Path).Msg("work item discarded after stop")
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Run executes items in submission order until Stop is requested. It is
// meant to run on exactly one dedicated goroutine for the lifetime of the
// provider. An item already popped when Stop arrives runs to completion;
// items still queued are never executed.
func (q *WorkQueue) Run() {
	defer close(q.done)
	q.mu.Lock()
	for {
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		q.execute(item)
		q.mu.Lock()
	}
}

// execute isolates one item: a failure or panic is reported through the
// provider log and never halts the worker loop.
func (q *WorkQueue) execute(item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("path", item.Path).Interface("panic", r).Msg("work item panicked")
		}
	}()
	if err := item.Run(); err != nil {
		q.log.Error().Str("path", item.Path).Err(err).Msg("work item failed")
	}
}

// Stop requests the worker to exit and wakes all waiters. Idempotent.
func (q *WorkQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Done is closed when Run has returned.
func (q *WorkQueue) Done() <-chan struct{} {
	return q.done
}

// Depth reports the number of items awaiting execution.
func (q *WorkQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
