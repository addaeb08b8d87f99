// Package dispatch implements the single-consumer priority queue that
// serializes every producer's work before it reaches the response generator.
//
// Producers (observation loop, voice input, daily scheduler) call Enqueue
// from any goroutine. Exactly one consumer calls Dequeue, which blocks until
// a task is available and returns the task with the smallest
// (priority, sequence) key. Shutdown is a sentinel task at the lowest
// urgency, so it unblocks the consumer only after pending work drains.
package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher is an unbounded priority queue of tasks.
type Dispatcher struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64

	// ready holds at most one wakeup for the consumer.
	ready chan struct{}
	now   func() time.Time
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		ready: make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Enqueue assigns the next sequence number and queues the task. It never
// fails and is safe for concurrent use.
func (d *Dispatcher) Enqueue(priority int, kind models.TaskKind, payload any) models.Task {
	d.mu.Lock()
	d.seq++
	task := models.Task{
		ID:         uuid.NewString(),
		Priority:   priority,
		Seq:        d.seq,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: d.now(),
	}
	heap.Push(&d.tasks, task)
	depth := len(d.tasks)
	d.mu.Unlock()

	select {
	case d.ready <- struct{}{}:
	default:
	}

	log.Debug().
		Str("kind", string(kind)).
		Int("priority", priority).
		Uint64("seq", task.Seq).
		Int("depth", depth).
		Msg("Task enqueued")
	return task
}

// Dequeue blocks until a task is available and removes the most urgent one.
// It returns ctx.Err() if ctx is canceled while waiting. Only one goroutine
// may call Dequeue.
func (d *Dispatcher) Dequeue(ctx context.Context) (models.Task, error) {
	for {
		if task, ok := d.TryDequeue(); ok {
			return task, nil
		}
		select {
		case <-d.ready:
		case <-ctx.Done():
			return models.Task{}, ctx.Err()
		}
	}
}

// TryDequeue removes the most urgent task without blocking.
func (d *Dispatcher) TryDequeue() (models.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		return models.Task{}, false
	}
	return heap.Pop(&d.tasks).(models.Task), true
}

// Shutdown enqueues the sentinel that makes the consumer exit once every
// task queued before it has been served.
func (d *Dispatcher) Shutdown() {
	d.Enqueue(models.PriorityShutdown, models.TaskShutdown, nil)
}

// Len returns the number of pending tasks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// ── heap.Interface ──────────────────────────────────────────

type taskHeap []models.Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(models.Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = models.Task{}
	*h = old[:n-1]
	return t
}
