package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

// ── fakes ────────────────────────────────────────────────────

type recordingDriver struct {
	mu     sync.Mutex
	events []Event
}

func (d *recordingDriver) Kind() string { return "recorder" }

func (d *recordingDriver) Send(_ context.Context, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDriver) snapshot() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// stuckDriver never completes a send until its context ends.
type stuckDriver struct{ calls atomic.Int32 }

func (d *stuckDriver) Kind() string { return "stuck" }

func (d *stuckDriver) Send(ctx context.Context, _ Event) error {
	d.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type recordingSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return nil
}

func (s *recordingSpeaker) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

func texts(q *SpeechQueue) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.pending))
	for i, r := range q.pending {
		out[i] = r.text
	}
	return out
}

// ── Service ──────────────────────────────────────────────────

func TestService_DisplayFansOut(t *testing.T) {
	rec := &recordingDriver{}
	svc := NewService(nil)
	svc.RegisterDriver(rec)
	svc.RegisterDriver(LogDriver{})

	svc.Display(context.Background(), models.DisplayMessage{
		Speaker: models.SpeakerObservation,
		Text:    "📷 2. eating",
		Image:   &models.Frame{Data: []byte("abc"), MIMEType: "image/png"},
	})
	svc.Status("Analyzing...")
	require.NoError(t, svc.Shutdown(context.Background()))

	evs := rec.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, EventDisplay, evs[0].Type)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, "data:image/png;base64,YWJj", evs[0].Image)
	assert.Equal(t, EventStatus, evs[1].Type)
	assert.Equal(t, "Analyzing...", svc.LastStatus())
	assert.ElementsMatch(t, []string{"recorder", "log"}, svc.Drivers())
}

func TestService_ForwardObservations(t *testing.T) {
	rec := &recordingDriver{}
	svc := NewService(nil)
	svc.RegisterDriver(rec)

	ch := make(chan models.Observation, 2)
	ch <- models.Observation{ID: "o1", BehaviorLabel: "eating", EmotionLabel: "happy"}
	close(ch)

	require.NoError(t, svc.Forward(context.Background(), ch))
	require.NoError(t, svc.Shutdown(context.Background()))

	evs := rec.snapshot()
	require.Len(t, evs, 1)
	assert.Equal(t, EventObservation, evs[0].Type)
	assert.Equal(t, "eating / happy", evs[0].Text)
	require.NotNil(t, evs[0].Observation)
	assert.Equal(t, "o1", evs[0].Observation.ID)
}

func TestService_StuckDriverDoesNotBlockCallers(t *testing.T) {
	stuck := &stuckDriver{}
	rec := &recordingDriver{}
	svc := NewService(nil)
	svc.RegisterDriver(stuck)
	svc.RegisterDriver(rec)

	start := time.Now()
	for i := 0; i < OutboxSize+10; i++ {
		svc.Status("Analyzing...")
		svc.Display(context.Background(), models.DisplayMessage{Speaker: models.SpeakerAssistant, Text: "hi"})
		svc.Speak(context.Background(), "hi", 2)
	}
	assert.Less(t, time.Since(start), time.Second)

	// The healthy driver still receives its events.
	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(1), stuck.calls.Load())

	// Events after shutdown are ignored.
	svc.Status("late")
	assert.Equal(t, int32(1), stuck.calls.Load())
}

func TestService_DeliveryTimeout(t *testing.T) {
	stuck := &stuckDriver{}
	svc := NewService(nil)
	svc.timeout = 20 * time.Millisecond
	svc.RegisterDriver(stuck)

	svc.Status("one")
	svc.Status("two")
	require.Eventually(t, func() bool { return stuck.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestService_SpeakQueues(t *testing.T) {
	q := NewSpeechQueue(&recordingSpeaker{}, 2)
	rec := &recordingDriver{}
	svc := NewService(q)
	svc.RegisterDriver(rec)

	svc.Speak(context.Background(), "hello", 2)
	assert.Equal(t, 1, q.Pending())
	require.NoError(t, svc.Shutdown(context.Background()))
	evs := rec.snapshot()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Priority)
	assert.Equal(t, 2, *evs[0].Priority)
}

// ── Speech queue ─────────────────────────────────────────────

func TestSpeechQueue_UrgentClearsPending(t *testing.T) {
	q := NewSpeechQueue(&recordingSpeaker{}, 2)
	q.Submit("observation a", 2)
	q.Submit("observation b", 2)
	q.Submit("you said something", 1)
	assert.Equal(t, []string{"you said something"}, texts(q))

	assert.Equal(t, 2, q.Stats().Dropped)
}

func TestSpeechQueue_BoundedDropsOldestLeastUrgent(t *testing.T) {
	q := NewSpeechQueue(&recordingSpeaker{}, 2)
	q.Submit("a", 2)
	q.Submit("b", 2)
	q.Submit("c", 2)
	assert.Equal(t, []string{"b", "c"}, texts(q))

	q.Submit("care", 0)
	q.Submit("d", 2)
	q.Submit("e", 2)
	assert.Equal(t, []string{"care", "e"}, texts(q))
}

func TestSpeechQueue_StaleDropped(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	q := NewSpeechQueue(&recordingSpeaker{}, 2)
	q.now = func() time.Time { return now }
	q.Submit("old observation", 2)
	now = now.Add(16 * time.Second)
	q.Submit("fresh observation", 2)

	r, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "fresh observation", r.text)
	_, ok = q.next()
	assert.False(t, ok)
}

func TestSpeechQueue_UrgentNeverStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	q := NewSpeechQueue(&recordingSpeaker{}, 2)
	q.now = func() time.Time { return now }
	q.Submit("reply to voice", 1)
	now = now.Add(time.Minute)

	r, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "reply to voice", r.text)
}

func TestSpeechQueue_RunSpeaksInOrder(t *testing.T) {
	spk := &recordingSpeaker{}
	q := NewSpeechQueue(spk, 3)
	q.Submit("summary", 0)
	q.Submit("normal", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return len(spk.lines()) == 2 }, time.Second, 5*time.Millisecond)
	q.Submit("later", 2)
	require.Eventually(t, func() bool { return len(spk.lines()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"summary", "normal", "later"}, spk.lines())
}

// flakySpeaker fails every utterance equal to bad.
type flakySpeaker struct {
	recordingSpeaker
	bad string
}

func (s *flakySpeaker) Speak(ctx context.Context, text string) error {
	if text == s.bad {
		return errors.New("tts endpoint down")
	}
	return s.recordingSpeaker.Speak(ctx, text)
}

func TestSpeechQueue_FailuresCountedSeparately(t *testing.T) {
	spk := &flakySpeaker{bad: "broken"}
	q := NewSpeechQueue(spk, 3)
	q.Submit("broken", 2)
	q.Submit("fine", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Stats().Failed == 1 && q.Stats().Spoken == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, SpeechStats{Spoken: 1, Failed: 1}, q.Stats())
	assert.Equal(t, []string{"fine"}, spk.lines())
}

func TestHTTPSpeaker(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPSpeaker(srv.URL, srv.Client()).Speak(context.Background(), "hi there"))
	assert.Equal(t, "hi there", got["text"])
}

// ── Webhook ──────────────────────────────────────────────────

func TestWebhookDriver_SignsAndRetries(t *testing.T) {
	var hits atomic.Int32
	var sig, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		sig = r.Header.Get("X-Companion-Signature")
	}))
	defer srv.Close()

	d := NewWebhookDriver(srv.URL, "s3cret", srv.Client())
	d.newBO = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	err := d.Send(context.Background(), Event{Type: EventDisplay, Text: "hello"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, Sign("s3cret", []byte(body)), sig)
	assert.True(t, strings.HasPrefix(sig, "sha256="))
}

func TestWebhookDriver_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewWebhookDriver(srv.URL, "", srv.Client())
	d.newBO = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	assert.Error(t, d.Send(context.Background(), Event{Type: EventStatus}))
	assert.EqualValues(t, 1, hits.Load())
}

// ── WebSocket hub ────────────────────────────────────────────

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Send(context.Background(), Event{Type: EventDisplay, Text: "hi"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "hi", ev.Text)
	assert.Equal(t, EventDisplay, ev.Type)
}

func TestSpeechQueue_DrainWaitsForPending(t *testing.T) {
	spk := &recordingSpeaker{}
	q := NewSpeechQueue(spk, 3)
	q.Submit("one", 2)
	q.Submit("two", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	require.NoError(t, q.Drain(drainCtx))
	assert.Equal(t, []string{"one", "two"}, spk.lines())

	cancel()
	require.NoError(t, <-done)
}

func TestSpeechQueue_DrainHonorsDeadline(t *testing.T) {
	q := NewSpeechQueue(&recordingSpeaker{}, 3)
	q.Submit("never spoken", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}
