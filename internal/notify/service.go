// Package notify delivers the companion's output: display lines and status
// updates fanned out to pluggable drivers (log, websocket, webhook), and
// speech routed through a bounded priority queue.
package notify

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what is being delivered.
type EventType string

const (
	EventDisplay     EventType = "display"
	EventStatus      EventType = "status"
	EventSpeak       EventType = "speak"
	EventObservation EventType = "observation"
)

// Event is the payload handed to every driver.
type Event struct {
	Type        EventType                 `json:"type"`
	ID          string                    `json:"id"`
	Speaker     models.Speaker            `json:"speaker,omitempty"`
	Text        string                    `json:"text"`
	Image       string                    `json:"image,omitempty"` // data: URL of the screenshot
	Priority    *int                      `json:"priority,omitempty"`
	Observation *models.ObservationRecord `json:"observation,omitempty"`
	At          time.Time                 `json:"at"`
}

// Driver delivers events to one destination.
type Driver interface {
	Kind() string
	Send(ctx context.Context, ev Event) error
}

// ── Service ──────────────────────────────────────────────────

const (
	// OutboxSize is the number of undelivered events buffered per driver.
	// Events beyond it are dropped for that driver only.
	OutboxSize = 64
	// DeliveryTimeout bounds one Send, retries included.
	DeliveryTimeout = 30 * time.Second
)

// Service implements contracts.Output and contracts.StatusReporter.
//
// Every driver has its own outbox and delivery goroutine, so Display, Speak
// and Status never wait on a driver. Call Shutdown to flush and stop them.
type Service struct {
	drvMu   sync.RWMutex
	drivers map[string]*outbox
	closed  bool
	wg      sync.WaitGroup

	// base is cancelled when Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	speech  *SpeechQueue
	now     func() time.Time
	timeout time.Duration

	statusMu sync.RWMutex
	status   string
}

type outbox struct {
	driver Driver
	events chan Event
}

// NewService creates a service. speech may be nil, in which case speak
// requests are only logged.
func NewService(speech *SpeechQueue) *Service {
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		drivers: make(map[string]*outbox),
		base:    base,
		cancel:  cancel,
		speech:  speech,
		now:     time.Now,
		timeout: DeliveryTimeout,
	}
}

// RegisterDriver adds or replaces the driver for its kind. A replaced
// driver still delivers what is already in its outbox.
func (s *Service) RegisterDriver(d Driver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	if s.closed {
		log.Warn().Str("kind", d.Kind()).Msg("Output service is shut down, driver not registered")
		return
	}
	if old, ok := s.drivers[d.Kind()]; ok {
		close(old.events)
	}
	ob := &outbox{driver: d, events: make(chan Event, OutboxSize)}
	s.drivers[d.Kind()] = ob
	s.wg.Add(1)
	go s.deliver(ob)
	log.Info().Str("kind", d.Kind()).Msg("Registered output driver")
}

// Shutdown stops accepting events and waits for every outbox to drain. When
// ctx ends first, in-flight and queued deliveries are abandoned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.drvMu.Lock()
	if !s.closed {
		s.closed = true
		for _, ob := range s.drivers {
			close(ob.events)
		}
	}
	s.drvMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Drivers lists registered driver kinds.
func (s *Service) Drivers() []string {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	kinds := make([]string, 0, len(s.drivers))
	for k := range s.drivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Display pushes one line to every driver.
func (s *Service) Display(ctx context.Context, msg models.DisplayMessage) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.At.IsZero() {
		msg.At = s.now()
	}
	ev := Event{Type: EventDisplay, ID: msg.ID, Speaker: msg.Speaker, Text: msg.Text, At: msg.At}
	if msg.Image != nil && len(msg.Image.Data) > 0 {
		mt := msg.Image.MIMEType
		if mt == "" {
			mt = "image/jpeg"
		}
		ev.Image = "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(msg.Image.Data)
	}
	s.dispatch(ev)
}

// Speak hands text to the speech queue and mirrors it to the drivers.
func (s *Service) Speak(ctx context.Context, text string, priority int) {
	p := priority
	s.dispatch(Event{Type: EventSpeak, ID: uuid.New().String(), Text: text, Priority: &p, At: s.now()})
	if s.speech == nil {
		log.Info().Int("priority", priority).Str("text", text).Msg("🔊 Speak (no speech queue)")
		return
	}
	s.speech.Submit(text, priority)
}

// Status records the latest status line and broadcasts it.
func (s *Service) Status(text string) {
	s.statusMu.Lock()
	s.status = text
	s.statusMu.Unlock()
	s.dispatch(Event{Type: EventStatus, ID: uuid.New().String(), Text: text, At: s.now()})
}

// Forward publishes every observation received on ch until ctx is done or
// ch is closed. Feed it from history.Subscribe.
func (s *Service) Forward(ctx context.Context, ch <-chan models.Observation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case obs, ok := <-ch:
			if !ok {
				return nil
			}
			rec := obs.Record()
			s.dispatch(Event{
				Type:        EventObservation,
				ID:          obs.ID,
				Text:        obs.BehaviorLabel + " / " + obs.EmotionLabel,
				Observation: &rec,
				At:          obs.Timestamp,
			})
		}
	}
}

// LastStatus returns the most recent status line.
func (s *Service) LastStatus() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// dispatch queues ev on every driver's outbox without blocking.
func (s *Service) dispatch(ev Event) {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	if s.closed {
		return
	}
	for kind, ob := range s.drivers {
		select {
		case ob.events <- ev:
		default:
			log.Warn().Str("kind", kind).Str("event", string(ev.Type)).Msg("Output driver backlogged, event dropped")
		}
	}
}

func (s *Service) deliver(ob *outbox) {
	defer s.wg.Done()
	for ev := range ob.events {
		if s.base.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		err := ob.driver.Send(ctx, ev)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("kind", ob.driver.Kind()).Str("event", string(ev.Type)).Msg("Output delivery failed")
		}
	}
}

// ── Log Driver ───────────────────────────────────────────────

// LogDriver writes events to the structured log.
type LogDriver struct{}

func (LogDriver) Kind() string { return "log" }

func (LogDriver) Send(_ context.Context, ev Event) error {
	switch ev.Type {
	case EventDisplay:
		log.Info().Str("speaker", string(ev.Speaker)).Bool("image", ev.Image != "").Msgf("💬 %s", ev.Text)
	case EventStatus:
		log.Debug().Msgf("ℹ️ %s", ev.Text)
	case EventObservation:
		log.Debug().Str("id", ev.ID).Msgf("👀 %s", ev.Text)
	}
	return nil
}
