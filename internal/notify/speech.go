package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Speech Queue ─────────────────────────────────────────────

// Speaker plays one utterance and returns when it is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Default speech policy.
const (
	DefaultSpeechQueue = 2
	StaleAfter         = 15 * time.Second
	// urgentPriority and below preempt everything still pending.
	urgentPriority = 1
)

type speechRequest struct {
	text     string
	priority int
	seq      uint64
	queuedAt time.Time
}

// SpeechQueue serializes speech. An urgent request (priority ≤ 1) clears
// everything pending; the queue holds at most max requests; low-urgency
// requests that waited longer than StaleAfter are dropped unspoken.
type SpeechQueue struct {
	speaker Speaker
	max     int
	stale   time.Duration
	now     func() time.Time

	mu       sync.Mutex
	pending  []speechRequest
	seq      uint64
	stats    SpeechStats
	speaking bool
	wake     chan struct{}
}

// NewSpeechQueue creates a queue of at most max pending requests.
func NewSpeechQueue(speaker Speaker, max int) *SpeechQueue {
	if max <= 0 {
		max = DefaultSpeechQueue
	}
	return &SpeechQueue{
		speaker: speaker,
		max:     max,
		stale:   StaleAfter,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Submit queues text for playback.
func (q *SpeechQueue) Submit(text string, priority int) {
	if text == "" {
		return
	}
	q.mu.Lock()
	if priority <= urgentPriority && len(q.pending) > 0 {
		q.stats.Dropped += len(q.pending)
		log.Debug().Int("cleared", len(q.pending)).Msg("Urgent speech clears pending queue")
		q.pending = q.pending[:0]
	}
	q.seq++
	q.pending = append(q.pending, speechRequest{text: text, priority: priority, seq: q.seq, queuedAt: q.now()})
	sort.Slice(q.pending, func(i, j int) bool {
		a, b := q.pending[i], q.pending[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	for len(q.pending) > q.max {
		q.dropLeastUrgent()
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dropLeastUrgent removes the oldest request among those with the highest
// priority number. pending is sorted, so that is the first entry of the
// last priority band.
func (q *SpeechQueue) dropLeastUrgent() {
	worst := q.pending[len(q.pending)-1].priority
	idx := len(q.pending) - 1
	for idx > 0 && q.pending[idx-1].priority == worst {
		idx--
	}
	log.Debug().Str("text", q.pending[idx].text).Msg("Speech queue full, dropping request")
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.stats.Dropped++
}

// next pops the most urgent request that is still worth speaking.
func (q *SpeechQueue) next() (speechRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		r := q.pending[0]
		q.pending = q.pending[1:]
		if r.priority > urgentPriority && q.now().Sub(r.queuedAt) > q.stale {
			q.stats.Dropped++
			log.Debug().Str("text", r.text).Msg("Dropping stale speech request")
			continue
		}
		q.speaking = true
		return r, true
	}
	return speechRequest{}, false
}

// Run speaks queued requests one at a time until ctx is cancelled.
func (q *SpeechQueue) Run(ctx context.Context) error {
	for {
		if r, ok := q.next(); ok {
			if err := q.speaker.Speak(ctx, r.text); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Int("priority", r.priority).Msg("Speech playback failed")
				q.mu.Lock()
				q.stats.Failed++
				q.speaking = false
				q.mu.Unlock()
				continue
			}
			q.mu.Lock()
			q.stats.Spoken++
			q.speaking = false
			q.mu.Unlock()
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

// Drain waits until nothing is pending or being spoken. Run must still be
// running for the queue to empty.
func (q *SpeechQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && !q.speaking
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pending returns the number of queued requests.
func (q *SpeechQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SpeechStats counts what happened to submitted requests.
type SpeechStats struct {
	Spoken  int `json:"spoken"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// Stats returns the request counters.
func (q *SpeechQueue) Stats() SpeechStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// ── Speakers ─────────────────────────────────────────────────

// LogSpeaker logs utterances instead of playing them.
type LogSpeaker struct{}

func (LogSpeaker) Speak(_ context.Context, text string) error {
	log.Info().Msgf("🔊 %s", text)
	return nil
}

// HTTPSpeaker posts {"text": ...} to a TTS endpoint and waits for the
// response, which is expected once playback has finished.
type HTTPSpeaker struct {
	url    string
	client *http.Client
}

// NewHTTPSpeaker creates a speaker for url.
func NewHTTPSpeaker(url string, client *http.Client) *HTTPSpeaker {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPSpeaker{url: url, client: client}
}

func (s *HTTPSpeaker) Speak(ctx context.Context, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("speech endpoint HTTP %d", resp.StatusCode)
	}
	return nil
}
