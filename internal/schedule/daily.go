// Package schedule fires the once-a-day summary producer.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// NextFire returns the next occurrence of tod relative to now, in now's
// location. If tod has already passed today the result is tomorrow.
func NextFire(now time.Time, tod models.TimeOfDay) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, 0, 0, now.Location())
	if now.After(target) {
		target = time.Date(now.Year(), now.Month(), now.Day()+1, tod.Hour, tod.Minute, 0, 0, now.Location())
	}
	return target
}

// Daily enqueues a DailySummary task at a fixed time of day. After every
// fire the next occurrence is recomputed from the clock, never by adding 24h.
type Daily struct {
	at    models.TimeOfDay
	queue contracts.Enqueuer
	now   func() time.Time
	// after is swapped in tests to avoid real waits.
	after func(d time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	next    time.Time
	fired   int
	stopCh  chan struct{}
	done    chan struct{}
}

// NewDaily creates a stopped scheduler.
func NewDaily(at models.TimeOfDay, queue contracts.Enqueuer) *Daily {
	return &Daily{
		at:    at,
		queue: queue,
		now:   time.Now,
		after: time.After,
	}
}

// Start arms the timer for the next occurrence.
func (d *Daily) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop(ctx)
}

// Stop disarms the scheduler and waits for its goroutine.
func (d *Daily) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	done := d.done
	d.mu.Unlock()
	<-done
}

// Next returns the currently armed fire time, zero if not started.
func (d *Daily) Next() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// Fired returns how many summaries were enqueued.
func (d *Daily) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

func (d *Daily) loop(ctx context.Context) {
	defer close(d.done)
	var last time.Time
	for {
		now := d.now()
		next := NextFire(now, d.at)
		if !next.After(last) {
			// Clock has not moved past the previous fire yet.
			next = NextFire(last.Add(time.Second), d.at)
		}
		d.mu.Lock()
		d.next = next
		d.mu.Unlock()

		delay := next.Sub(now)
		log.Info().
			Time("next", next).
			Dur("delay", delay).
			Msg("📅 Daily summary armed")

		select {
		case <-d.after(delay):
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}

		d.fire(next)
		last = next
	}
}

func (d *Daily) fire(at time.Time) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	task := d.queue.Enqueue(models.PriorityNormal, models.TaskDailySummary, models.DailySummaryPayload{Day: day})

	d.mu.Lock()
	d.fired++
	d.mu.Unlock()

	log.Info().
		Str("day", day.Format("2006-01-02")).
		Uint64("seq", task.Seq).
		Msg("Daily summary enqueued")
}
