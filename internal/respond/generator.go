// Package respond is the single consumer of the dispatcher. It turns each
// task into a chat completion and pushes the reply to the output.
package respond

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/store"
	"github.com/agentoven/companion/internal/telemetry"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Dequeuer is the consumer-side view of the dispatcher.
type Dequeuer interface {
	Dequeue(ctx context.Context) (models.Task, error)
}

// Options tune prompt assembly.
type Options struct {
	// Window is the number of non-system messages kept in the rolling context.
	Window int
	// Recent is how many observations a voice prompt includes.
	Recent int
	// MaxRecords caps the records fed into the daily summary.
	MaxRecords int
}

// Generator owns the rolling conversation. Run must be called from exactly
// one goroutine.
type Generator struct {
	queue   Dequeuer
	chat    contracts.ChatCompleter
	out     contracts.Output
	history *history.History
	log     contracts.ObservationLog
	opts    Options
	conv    *Conversation
	now     func() time.Time

	// Status is optional.
	Status contracts.StatusReporter
}

// NewGenerator creates a generator.
func NewGenerator(queue Dequeuer, chat contracts.ChatCompleter, out contracts.Output,
	hist *history.History, obsLog contracts.ObservationLog, opts Options) *Generator {
	if opts.Recent <= 0 {
		opts.Recent = 5
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100
	}
	return &Generator{
		queue:   queue,
		chat:    chat,
		out:     out,
		history: hist,
		log:     obsLog,
		opts:    opts,
		conv:    NewConversation(SystemPrompt, opts.Window),
		now:     time.Now,
	}
}

// Run drains the dispatcher until it dequeues the shutdown sentinel (nil) or
// ctx is canceled (ctx.Err()). A failing task never ends the loop.
func (g *Generator) Run(ctx context.Context) error {
	log.Info().Int("window", g.opts.Window).Msg("💬 Response generator started")
	for {
		task, err := g.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if task.Kind == models.TaskShutdown {
			log.Info().Msg("Response generator received shutdown")
			return nil
		}
		g.Handle(ctx, task)
	}
}

// Handle processes one task. Panics are recovered and logged.
func (g *Generator) Handle(ctx context.Context, task models.Task) {
	ctx, span := telemetry.Tracer().Start(ctx, "respond."+string(task.Kind))
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.priority", task.Priority),
		attribute.Int64("task.seq", int64(task.Seq)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			log.Error().
				Interface("panic", r).
				Str("kind", string(task.Kind)).
				Uint64("seq", task.Seq).
				Msg("Task handler panicked")
			g.display(ctx, models.SpeakerAssistant, FallbackReply, nil)
			g.out.Speak(ctx, FallbackReply, speakPriority(task.Kind))
		}
	}()

	start := time.Now()
	var err error
	switch task.Kind {
	case models.TaskImageAnalysis:
		p, ok := task.Payload.(models.ImageAnalysisPayload)
		if !ok {
			err = malformed(task)
			break
		}
		g.handleImage(ctx, p)
	case models.TaskVoiceInput:
		p, ok := task.Payload.(models.VoiceInputPayload)
		if !ok {
			err = malformed(task)
			break
		}
		g.handleVoice(ctx, p)
	case models.TaskSpecialCare:
		p, ok := task.Payload.(models.SpecialCarePayload)
		if !ok {
			err = malformed(task)
			break
		}
		g.handleSpecialCare(ctx, p)
	case models.TaskDailySummary:
		p, _ := task.Payload.(models.DailySummaryPayload)
		g.handleSummary(ctx, p)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Uint64("seq", task.Seq).Msg("Dropping task")
		return
	}
	log.Debug().
		Str("kind", string(task.Kind)).
		Uint64("seq", task.Seq).
		Dur("took", time.Since(start)).
		Msg("Task handled")
}

// speakPriority is the playback priority of a reply to kind.
func speakPriority(kind models.TaskKind) int {
	switch kind {
	case models.TaskSpecialCare, models.TaskDailySummary:
		return models.PriorityCritical
	case models.TaskVoiceInput:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

func malformed(task models.Task) error {
	return fmt.Errorf("malformed %s payload: %T", task.Kind, task.Payload)
}

// ── Handlers ─────────────────────────────────────────────────

func (g *Generator) handleImage(ctx context.Context, p models.ImageAnalysisPayload) {
	g.conv.Append(models.RoleUser, imagePrompt(p.Observation))
	reply := g.completeRolling(ctx)

	g.display(ctx, models.SpeakerObservation, "📷 "+p.Observation.RawAnalysis, p.Screenshot)
	g.display(ctx, models.SpeakerAssistant, reply, nil)
	g.out.Speak(ctx, reply, models.PriorityNormal)
}

func (g *Generator) handleVoice(ctx context.Context, p models.VoiceInputPayload) {
	var recent []models.Observation
	if g.history != nil {
		recent = g.history.Recent(g.opts.Recent)
	}
	g.conv.Append(models.RoleUser, voicePrompt(p.Text, recent))
	reply := g.completeRolling(ctx)

	g.display(ctx, models.SpeakerAssistant, reply, nil)
	g.out.Speak(ctx, reply, models.PriorityHigh)
}

func (g *Generator) handleSpecialCare(ctx context.Context, p models.SpecialCarePayload) {
	g.status("Reaching out")
	reply := g.completeIsolated(ctx, specialCarePrompt(p))

	g.display(ctx, models.SpeakerAssistant, reply, nil)
	g.out.Speak(ctx, reply, models.PriorityCritical)
}

func (g *Generator) handleSummary(ctx context.Context, p models.DailySummaryPayload) {
	day := p.Day
	if day.IsZero() {
		day = g.now()
	}
	g.status("Preparing daily summary")

	reply := g.summarize(ctx, day)
	g.display(ctx, models.SpeakerAssistant, reply, nil)
	g.out.Speak(ctx, reply, models.PriorityCritical)
}

// summarize returns the recap for day or one of the fixed fallbacks.
func (g *Generator) summarize(ctx context.Context, day time.Time) string {
	if g.log == nil {
		return FallbackNoLog
	}
	records, err := g.log.ReadDay(ctx, day)
	switch {
	case errors.Is(err, store.ErrLogMissing):
		log.Info().Str("day", day.Format("2006-01-02")).Msg("No observation log for summary")
		return FallbackNoLog
	case err != nil:
		log.Error().Err(err).Msg("Failed to read observation log")
		return FallbackLogReadFail
	case len(records) == 0:
		return FallbackEmptyLog
	}
	if len(records) > g.opts.MaxRecords {
		records = records[len(records)-g.opts.MaxRecords:]
	}
	return g.completeIsolated(ctx, summaryPrompt(records))
}

// Summarize produces the recap for day synchronously, outside the dispatcher.
// It does not touch the rolling conversation.
func (g *Generator) Summarize(ctx context.Context, day time.Time) string {
	return g.summarize(ctx, day)
}

// ── Completion ───────────────────────────────────────────────

// completeRolling completes against the rolling context and records the
// reply in it. On failure the fallback is returned and nothing is recorded.
func (g *Generator) completeRolling(ctx context.Context) string {
	reply, err := g.chat.Complete(ctx, g.conv.Messages())
	if err != nil || reply == "" {
		logCompletionFailure(err)
		return FallbackReply
	}
	g.conv.Append(models.RoleAssistant, reply)
	return reply
}

func (g *Generator) completeIsolated(ctx context.Context, prompt string) string {
	reply, err := g.chat.Complete(ctx, g.conv.Isolated(prompt))
	if err != nil || reply == "" {
		logCompletionFailure(err)
		return FallbackReply
	}
	return reply
}

func logCompletionFailure(err error) {
	if err == nil {
		err = errors.New("empty completion")
	}
	log.Error().Err(err).Msg("Chat completion failed, using fallback reply")
}

func (g *Generator) display(ctx context.Context, who models.Speaker, text string, img *models.Frame) {
	g.out.Display(ctx, models.DisplayMessage{
		ID:      uuid.NewString(),
		Speaker: who,
		Text:    text,
		Image:   img,
		At:      g.now(),
	})
}

func (g *Generator) status(text string) {
	if g.Status != nil {
		g.Status.Status(text)
	}
}
