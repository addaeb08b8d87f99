package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/companion/internal/dispatch"
	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/notify"
	"github.com/agentoven/companion/internal/store"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── Fakes ────────────────────────────────────────────────────

type fakeChat struct {
	mu    sync.Mutex
	calls [][]models.ChatMessage
	fail  bool
	panic bool
}

func (f *fakeChat) Complete(_ context.Context, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	if f.panic {
		panic("boom")
	}
	if f.fail {
		return "", errors.New("upstream 503")
	}
	return fmt.Sprintf("reply %d", len(f.calls)), nil
}

type spoken struct {
	text     string
	priority int
}

type fakeOutput struct {
	mu        sync.Mutex
	displayed []models.DisplayMessage
	spoken    []spoken
}

func (o *fakeOutput) Display(_ context.Context, m models.DisplayMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.displayed = append(o.displayed, m)
}

func (o *fakeOutput) Speak(_ context.Context, text string, priority int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, spoken{text, priority})
}

func newGen(chat *fakeChat, out *fakeOutput, hist *history.History, obsLog contracts.ObservationLog) *Generator {
	return NewGenerator(dispatch.New(), chat, out, hist, obsLog, Options{Window: 9, Recent: 5, MaxRecords: 100})
}

func task(kind models.TaskKind, payload any) models.Task {
	return models.Task{Kind: kind, Payload: payload}
}

// ── Conversation ─────────────────────────────────────────────

func TestConversation_WindowDropsOldestKeepsSystem(t *testing.T) {
	c := NewConversation("sys", 3)
	for i := 1; i <= 5; i++ {
		c.Append(models.RoleUser, fmt.Sprint(i))
	}
	msgs := c.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, []string{"3", "4", "5"}, []string{msgs[1].Content, msgs[2].Content, msgs[3].Content})

	iso := c.Isolated("care")
	require.Len(t, iso, 2)
	assert.Equal(t, "sys", iso[0].Content)
	assert.Equal(t, 3, c.Len())
}

// ── Handlers ─────────────────────────────────────────────────

func TestHandle_ImageAnalysis(t *testing.T) {
	chat, out := &fakeChat{}, &fakeOutput{}
	g := newGen(chat, out, history.New(20), nil)

	shot := &models.Frame{MIMEType: "image/jpeg"}
	g.Handle(context.Background(), task(models.TaskImageAnalysis, models.ImageAnalysisPayload{
		Observation: models.Observation{BehaviorLabel: "eating", EmotionLabel: "happy", RawAnalysis: "2. eating"},
		Screenshot:  shot,
	}))

	require.Len(t, out.displayed, 2)
	assert.Equal(t, models.SpeakerObservation, out.displayed[0].Speaker)
	assert.Same(t, shot, out.displayed[0].Image)
	assert.Equal(t, "reply 1", out.displayed[1].Text)
	assert.Equal(t, []spoken{{"reply 1", models.PriorityNormal}}, out.spoken)
	// user prompt and assistant reply enter the rolling context
	assert.Equal(t, 2, g.conv.Len())
}

func TestHandle_VoiceIncludesRecentHistory(t *testing.T) {
	hist := history.New(20)
	at := time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local)
	for i := 0; i < 7; i++ {
		hist.Append(models.Observation{Timestamp: at, BehaviorLabel: fmt.Sprintf("b%d", i), EmotionLabel: "calm"})
	}
	chat, out := &fakeChat{}, &fakeOutput{}
	g := newGen(chat, out, hist, nil)

	g.Handle(context.Background(), task(models.TaskVoiceInput, models.VoiceInputPayload{Text: "how am I doing?"}))

	require.Len(t, chat.calls, 1)
	prompt := chat.calls[0][len(chat.calls[0])-1].Content
	assert.Contains(t, prompt, "14:05:09")
	assert.NotContains(t, prompt, "b1")
	assert.Contains(t, prompt, "b2")
	assert.Contains(t, prompt, "b6")
	assert.Contains(t, prompt, "how am I doing?")
	assert.Equal(t, []spoken{{"reply 1", models.PriorityHigh}}, out.spoken)
}

func TestHandle_VoiceWithoutHistory(t *testing.T) {
	chat := &fakeChat{}
	g := newGen(chat, &fakeOutput{}, history.New(20), nil)
	g.Handle(context.Background(), task(models.TaskVoiceInput, models.VoiceInputPayload{Text: "hi"}))
	assert.Contains(t, chat.calls[0][1].Content, "no records yet")
}

func TestHandle_SpecialCareIsIsolated(t *testing.T) {
	chat, out := &fakeChat{}, &fakeOutput{}
	g := newGen(chat, out, history.New(20), nil)
	g.Handle(context.Background(), task(models.TaskVoiceInput, models.VoiceInputPayload{Text: "hi"}))
	before := g.conv.Len()

	g.Handle(context.Background(), task(models.TaskSpecialCare, models.SpecialCarePayload{Emotion: "tired", Streak: 6}))

	last := chat.calls[len(chat.calls)-1]
	require.Len(t, last, 2, "system + care prompt only")
	assert.Contains(t, last[1].Content, "6 times")
	assert.Equal(t, before, g.conv.Len(), "special care must not touch the rolling context")
	assert.Equal(t, models.PriorityCritical, out.spoken[len(out.spoken)-1].priority)
}

func TestHandle_CompletionFailureFallsBack(t *testing.T) {
	for _, kind := range []models.TaskKind{models.TaskImageAnalysis, models.TaskVoiceInput, models.TaskSpecialCare} {
		t.Run(string(kind), func(t *testing.T) {
			chat, out := &fakeChat{fail: true}, &fakeOutput{}
			g := newGen(chat, out, history.New(20), nil)

			var payload any
			switch kind {
			case models.TaskImageAnalysis:
				payload = models.ImageAnalysisPayload{}
			case models.TaskVoiceInput:
				payload = models.VoiceInputPayload{Text: "hi"}
			case models.TaskSpecialCare:
				payload = models.SpecialCarePayload{Emotion: "angry", Streak: 6}
			}
			g.Handle(context.Background(), task(kind, payload))

			require.NotEmpty(t, out.spoken)
			assert.Equal(t, FallbackReply, out.spoken[len(out.spoken)-1].text)
		})
	}
}

func TestHandle_DailySummary(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)

	t.Run("missing log", func(t *testing.T) {
		chat, out := &fakeChat{}, &fakeOutput{}
		g := newGen(chat, out, history.New(20), store.NewMemoryLog())
		g.Handle(context.Background(), task(models.TaskDailySummary, models.DailySummaryPayload{Day: day}))
		assert.Empty(t, chat.calls)
		assert.Equal(t, []spoken{{FallbackNoLog, models.PriorityCritical}}, out.spoken)
	})

	t.Run("caps records and formats them", func(t *testing.T) {
		lg := store.NewMemoryLog()
		for i := 0; i < 120; i++ {
			require.NoError(t, lg.Append(context.Background(), models.ObservationRecord{
				Timestamp:     day.Add(8*time.Hour + time.Duration(i)*time.Minute),
				BehaviorLabel: fmt.Sprintf("b%03d", i),
				EmotionLabel:  "calm",
			}))
		}
		chat, out := &fakeChat{}, &fakeOutput{}
		g := newGen(chat, out, history.New(20), lg)
		g.Handle(context.Background(), task(models.TaskDailySummary, models.DailySummaryPayload{Day: day}))

		require.Len(t, chat.calls, 1)
		require.Len(t, chat.calls[0], 2)
		prompt := chat.calls[0][1].Content
		assert.Equal(t, 100, strings.Count(prompt, "\n- "))
		assert.NotContains(t, prompt, "b019")
		assert.Contains(t, prompt, "- 08:20: behavior 'b020', emotion 'calm'")
		assert.Equal(t, models.PriorityCritical, out.spoken[0].priority)
		assert.Zero(t, g.conv.Len())
	})
}

func TestSummarize_EmptyLog(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)
	lg := store.NewMemoryLog()
	lg.Touch(day)
	g := newGen(&fakeChat{}, &fakeOutput{}, history.New(20), lg)
	assert.Equal(t, FallbackEmptyLog, g.Summarize(context.Background(), day))
}

func TestHandle_MalformedPayloadSkipped(t *testing.T) {
	chat, out := &fakeChat{}, &fakeOutput{}
	g := newGen(chat, out, history.New(20), nil)
	g.Handle(context.Background(), task(models.TaskVoiceInput, "not a payload"))
	assert.Empty(t, chat.calls)
	assert.Empty(t, out.spoken)
}

func TestHandle_PanicRecovered(t *testing.T) {
	out := &fakeOutput{}
	g := newGen(&fakeChat{panic: true}, out, history.New(20), nil)
	assert.NotPanics(t, func() {
		g.Handle(context.Background(), task(models.TaskVoiceInput, models.VoiceInputPayload{Text: "hi"}))
	})

	require.Len(t, out.displayed, 1)
	assert.Equal(t, FallbackReply, out.displayed[0].Text)
	assert.Equal(t, models.SpeakerAssistant, out.displayed[0].Speaker)
	require.Len(t, out.spoken, 1)
	assert.Equal(t, spoken{FallbackReply, models.PriorityHigh}, out.spoken[0])
}

// ── Run ──────────────────────────────────────────────────────

func TestRun_ContinuesAfterFailureAndStopsOnShutdown(t *testing.T) {
	q := dispatch.New()
	chat, out := &fakeChat{fail: true}, &fakeOutput{}
	g := NewGenerator(q, chat, out, history.New(20), nil, Options{Window: 9})

	q.Enqueue(models.PriorityHigh, models.TaskVoiceInput, models.VoiceInputPayload{Text: "one"})
	q.Enqueue(models.PriorityHigh, models.TaskVoiceInput, 42) // malformed
	q.Enqueue(models.PriorityNormal, models.TaskImageAnalysis, models.ImageAnalysisPayload{})
	q.Shutdown()

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on shutdown")
	}
	assert.Len(t, out.spoken, 2)
	assert.Zero(t, q.Len())
}

func TestRun_ContextCancel(t *testing.T) {
	g := NewGenerator(dispatch.New(), &fakeChat{}, &fakeOutput{}, nil, nil, Options{Window: 9})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Run(ctx), context.Canceled)
}

// blockedDriver holds every delivery until its context ends.
type blockedDriver struct{}

func (blockedDriver) Kind() string { return "blocked" }

func (blockedDriver) Send(ctx context.Context, _ notify.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHandle_SlowOutputDoesNotStallConsumer(t *testing.T) {
	out := notify.NewService(nil)
	out.RegisterDriver(blockedDriver{})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		out.Shutdown(ctx)
	}()

	chat := &fakeChat{}
	g := NewGenerator(dispatch.New(), chat, out, history.New(20), nil, Options{Window: 9, Recent: 5, MaxRecords: 100})
	g.Status = out

	start := time.Now()
	for i := 0; i < 5; i++ {
		g.Handle(context.Background(), task(models.TaskSpecialCare, models.SpecialCarePayload{}))
		g.Handle(context.Background(), task(models.TaskVoiceInput, models.VoiceInputPayload{Text: "hello"}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, chat.calls, 10)
}
