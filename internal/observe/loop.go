// Package observe runs the periodic capture → upload → analyze → extract
// cycle and turns each observation into dispatcher tasks through the gate.
package observe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/internal/gate"
	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/labels"
	"github.com/agentoven/companion/internal/telemetry"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State is the stage a cycle is in.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateUploading  State = "uploading"
	StateAnalyzing  State = "analyzing"
	StateExtracting State = "extracting"
	StateDispatched State = "dispatched"
)

// ResumeDelay is how soon a cycle runs after Resume.
const ResumeDelay = 500 * time.Millisecond

// Deps are the collaborators a Loop drives. Log and Status are optional.
type Deps struct {
	Source   contracts.FrameSource
	Uploader contracts.Uploader
	Analyzer contracts.Analyzer
	Queue    contracts.Enqueuer
	History  *history.History
	Gate     *gate.Gate
	Log      contracts.ObservationLog
	Status   contracts.StatusReporter
}

// Result describes one successful cycle.
type Result struct {
	Observation models.Observation `json:"observation"`
	Decision    gate.Decision      `json:"decision"`
	Task        *models.Task       `json:"task,omitempty"`
}

// Snapshot is a point-in-time view of the loop for status endpoints.
type Snapshot struct {
	State      State     `json:"state"`
	Running    bool      `json:"running"`
	Paused     bool      `json:"paused"`
	Processing bool      `json:"processing"`
	Cycles     int       `json:"cycles"`
	Failures   int       `json:"failures"`
	LastCycle  time.Time `json:"last_cycle,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Loop is the observation producer. Cycles run one at a time on the loop's
// own goroutine so slow analysis never blocks the dispatcher.
type Loop struct {
	cfg  config.ObserveConfig
	deps Deps
	now  func() time.Time

	mu         sync.Mutex
	running    bool
	paused     bool
	processing bool
	state      State
	cycles     int
	failures   int
	lastCycle  time.Time
	lastErr    string

	stopCh chan struct{}
	kick   chan struct{}
	done   chan struct{}
}

// New creates a stopped loop.
func New(cfg config.ObserveConfig, deps Deps) *Loop {
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		state: StateIdle,
		kick:  make(chan struct{}, 1),
	}
}

// ── Lifecycle ────────────────────────────────────────────────

// Start launches the loop goroutine. The first cycle runs after the
// configured initial delay.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()

	log.Info().
		Dur("interval", l.cfg.Interval).
		Int("frames", l.cfg.Frames).
		Msg("👁️ Observation loop started")

	go l.run(ctx)
}

// Stop asks the loop to exit and waits for an in-flight cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.done
	l.mu.Unlock()

	<-done
	log.Info().Msg("Observation loop stopped")
}

// Pause suppresses new cycles until Resume. An in-flight cycle completes.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.status("Observation paused")
	log.Info().Msg("⏸️ Observation paused")
}

// Resume re-enables cycles and schedules one after ResumeDelay. It is a
// no-op when the loop is not paused, so the fixed cadence is kept.
func (l *Loop) Resume() {
	l.mu.Lock()
	wasPaused := l.paused
	l.paused = false
	l.mu.Unlock()
	if !wasPaused {
		log.Debug().Msg("Resume ignored, observation is not paused")
		return
	}
	select {
	case l.kick <- struct{}{}:
	default:
	}
	l.status("Observation resumed")
	log.Info().Msg("▶️ Observation resumed")
}

// Snapshot returns the loop's current status.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		State:      l.state,
		Running:    l.running,
		Paused:     l.paused,
		Processing: l.processing,
		Cycles:     l.cycles,
		Failures:   l.failures,
		LastCycle:  l.lastCycle,
		LastError:  l.lastErr,
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	timer := time.NewTimer(l.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-l.kick:
			timer.Reset(ResumeDelay)
			continue
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}

		if _, err := l.RunCycle(ctx); err != nil && !errors.Is(err, ErrPaused) && !errors.Is(err, ErrBusy) {
			log.Warn().Err(err).Msg("Observation cycle failed")
		}
		// Fixed cadence whatever the outcome.
		timer.Reset(l.cfg.Interval)
	}
}

// ── Cycle ────────────────────────────────────────────────────

// begin checks the entry condition and marks the loop as processing.
func (l *Loop) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case !l.running || l.paused:
		return ErrPaused
	case l.processing:
		return ErrBusy
	}
	l.processing = true
	return nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processing = false
	l.state = StateIdle
	l.lastCycle = l.now()
	l.cycles++
	if err != nil {
		l.failures++
		l.lastErr = err.Error()
	} else {
		l.lastErr = ""
	}
}

// RunCycle performs one full cycle synchronously. It requires the loop to be
// started and not paused.
func (l *Loop) RunCycle(ctx context.Context) (res *Result, err error) {
	if err := l.begin(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "observe.cycle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l.status("Observation failed, retrying next interval")
		}
		span.End()
		l.finish(err)
	}()

	l.setState(StateCapturing)
	l.status("Capturing frames")
	frames, latest, err := l.deps.Source.Capture(ctx, l.cfg.Frames, l.cfg.FrameSpacing)
	if err != nil || len(frames) == 0 {
		return nil, stageError(StateCapturing, ErrCaptureFailure, err)
	}
	if latest == nil {
		latest = &frames[len(frames)-1]
	}

	l.setState(StateUploading)
	l.status("Uploading frames")
	refs, err := l.deps.Uploader.Upload(ctx, frames)
	if err != nil || len(refs) == 0 {
		return nil, stageError(StateUploading, ErrUploadFailure, err)
	}

	l.setState(StateAnalyzing)
	l.status("Analyzing behavior")
	raw, err := l.deps.Analyzer.Analyze(ctx, refs)
	if err != nil || strings.TrimSpace(raw) == "" {
		return nil, stageError(StateAnalyzing, ErrAnalysisFailure, err)
	}

	l.setState(StateExtracting)
	obs := l.extract(raw)
	span.SetAttributes(
		attribute.String("behavior", obs.BehaviorLabel),
		attribute.String("emotion", obs.EmotionLabel),
	)

	l.deps.History.Append(obs)
	if l.deps.Log != nil {
		if err := l.deps.Log.Append(ctx, obs.Record()); err != nil {
			log.Warn().Err(err).Str("observation", obs.ID).Msg("Failed to persist observation")
		}
	}

	decision := l.deps.Gate.Evaluate(obs, obs.Timestamp)
	span.SetAttributes(
		attribute.Int("streak", decision.Streak),
		attribute.String("decision", decision.Outcome.String()),
	)

	l.setState(StateDispatched)
	res = &Result{Observation: obs, Decision: decision}
	switch decision.Outcome {
	case gate.Escalate:
		task := l.deps.Queue.Enqueue(models.PriorityCritical, models.TaskSpecialCare, models.SpecialCarePayload{
			Emotion: obs.EmotionLabel,
			Streak:  decision.Streak,
			At:      obs.Timestamp,
		})
		res.Task = &task
		log.Warn().
			Str("emotion", obs.EmotionLabel).
			Int("streak", decision.Streak).
			Msg("🚨 Negative streak reached threshold, escalating")
	case gate.Standard:
		task := l.deps.Queue.Enqueue(models.PriorityNormal, models.TaskImageAnalysis, models.ImageAnalysisPayload{
			Observation: obs,
			Screenshot:  latest,
		})
		res.Task = &task
	}

	log.Info().
		Str("behavior", obs.BehaviorLabel).
		Str("emotion", obs.EmotionLabel).
		Int("streak", decision.Streak).
		Str("decision", decision.Outcome.String()).
		Msg("Observation recorded")
	l.status("Observation: " + obs.BehaviorLabel + ", " + obs.EmotionLabel)
	return res, nil
}

func (l *Loop) extract(raw string) models.Observation {
	code, behavior := labels.ExtractBehavior(raw)
	return models.Observation{
		ID:            uuid.NewString(),
		Timestamp:     l.now(),
		BehaviorCode:  code,
		BehaviorLabel: behavior,
		EmotionLabel:  labels.ExtractEmotion(raw),
		RawAnalysis:   raw,
	}
}

func (l *Loop) status(text string) {
	if l.deps.Status != nil {
		l.deps.Status.Status(text)
	}
}
