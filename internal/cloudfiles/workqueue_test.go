package cloudfiles

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestWorkQueueExecutesInSubmissionOrderExactlyOnce(t *testing.T) {
	queue := NewWorkQueue(testLogger())

	const n = 50
	var mu sync.Mutex
	var observed []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		queue.Enqueue(WorkItem{
			Path: fmt.Sprintf("item-%d", i),
			Run: func() error {
				mu.Lock()
				observed = append(observed, i)
				finished := len(observed) == n
				mu.Unlock()
				if finished {
					close(done)
				}
				return nil
			},
		})
	}

	go queue.Run()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d items", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != n {
		t.Fatalf("expected %d executions, got %d", n, len(observed))
	}
	for i, got := range observed {
		if got != i {
			t.Fatalf("expected item %d at position %d, got %d", i, i, got)
		}
	}

	queue.Stop()
	<-queue.Done()
}

func TestWorkQueueStopDiscardsQueuedItems(t *testing.T) {
	queue := NewWorkQueue(testLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	executed := 0

	queue.Enqueue(WorkItem{Path: "blocking", Run: func() error {
		close(started)
		<-release
		mu.Lock()
		executed++
		mu.Unlock()
		return nil
	}})
	for i := 0; i < 5; i++ {
		queue.Enqueue(WorkItem{Path: fmt.Sprintf("queued-%d", i), Run: func() error {
			mu.Lock()
			executed++
			mu.Unlock()
			return nil
		}})
	}

	go queue.Run()
	<-started

	queue.Stop()
	close(release)

	select {
	case <-queue.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit after stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if executed != 1 {
		t.Fatalf("expected only the in-flight item to run, got %d executions", executed)
	}
}

func TestWorkQueueItemFailureDoesNotHaltWorker(t *testing.T) {
	queue := NewWorkQueue(testLogger())

	done := make(chan struct{})
	queue.Enqueue(WorkItem{Path: "failing", Run: func() error {
		return errors.New("fetch failed")
	}})
	queue.Enqueue(WorkItem{Path: "panicking", Run: func() error {
		panic("boom")
	}})
	queue.Enqueue(WorkItem{Path: "after", Run: func() error {
		close(done)
		return nil
	}})

	go queue.Run()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker halted after a failing item")
	}

	queue.Stop()
	<-queue.Done()
}

func TestWorkQueueEnqueueFromRunningItemDoesNotDeadlock(t *testing.T) {
	queue := NewWorkQueue(testLogger())

	done := make(chan struct{})
	queue.Enqueue(WorkItem{Path: "outer", Run: func() error {
		queue.Enqueue(WorkItem{Path: "inner", Run: func() error {
			close(done)
			return nil
		}})
		return nil
	}})

	go queue.Run()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("nested enqueue deadlocked")
	}

	queue.Stop()
	<-queue.Done()
}

func TestWorkQueueEnqueueAfterStopIsDiscarded(t *testing.T) {
	queue := NewWorkQueue(testLogger())
	go queue.Run()

	queue.Stop()
	<-queue.Done()

	queue.Enqueue(WorkItem{Path: "late", Run: func() error {
		t.Errorf("item enqueued after stop must not run")
		return nil
	}})
	if depth := queue.Depth(); depth != 0 {
		t.Fatalf("expected empty queue after stop, depth=%d", depth)
	}
}
