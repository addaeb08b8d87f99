package observe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/internal/gate"
	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/notify"
	"github.com/agentoven/companion/internal/store"
	"github.com/agentoven/companion/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── Fakes ────────────────────────────────────────────────────

type fakeSource struct {
	err   error
	calls int
}

func (f *fakeSource) Capture(_ context.Context, n int, _ time.Duration) ([]models.Frame, *models.Frame, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	frames := make([]models.Frame, n)
	for i := range frames {
		frames[i] = models.Frame{Data: []byte{byte(i)}, MIMEType: "image/jpeg"}
	}
	return frames, &frames[n-1], nil
}

type fakeUploader struct{ err error }

func (f *fakeUploader) Upload(_ context.Context, frames []models.Frame) ([]models.ImageRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	refs := make([]models.ImageRef, len(frames))
	for i := range refs {
		refs[i] = models.ImageRef{URL: "data:image/jpeg;base64,AA=="}
	}
	return refs, nil
}

// scriptedAnalyzer returns the next reply on each call.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (a *scriptedAnalyzer) Analyze(context.Context, []models.ImageRef) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if len(a.replies) == 0 {
		return "", nil
	}
	r := a.replies[0]
	a.replies = a.replies[1:]
	return r, nil
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (q *recordingQueue) Enqueue(priority int, kind models.TaskKind, payload any) models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := models.Task{Priority: priority, Kind: kind, Payload: payload, Seq: uint64(len(q.tasks) + 1)}
	q.tasks = append(q.tasks, t)
	return t
}

func (q *recordingQueue) kinds() []models.TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.TaskKind
	for _, t := range q.tasks {
		out = append(out, t.Kind)
	}
	return out
}

type harness struct {
	loop     *Loop
	source   *fakeSource
	uploader *fakeUploader
	analyzer *scriptedAnalyzer
	queue    *recordingQueue
	history  *history.History
	log      *store.MemoryLog
	clock    time.Time
}

func newHarness(t *testing.T, threshold int, replies ...string) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{},
		uploader: &fakeUploader{},
		analyzer: &scriptedAnalyzer{replies: replies},
		queue:    &recordingQueue{},
		history:  history.New(20),
		log:      store.NewMemoryLog(),
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local),
	}
	cfg := config.ObserveConfig{
		Interval:     time.Hour,
		InitialDelay: time.Hour,
		Frames:       4,
		FrameSpacing: 0,
	}
	h.loop = New(cfg, Deps{
		Source:   h.source,
		Uploader: h.uploader,
		Analyzer: h.analyzer,
		Queue:    h.queue,
		History:  h.history,
		Gate:     gate.New(gate.NewTracker([]string{"frustrated", "angry", "tired"}, threshold), 300*time.Second),
		Log:      h.log,
	})
	h.loop.now = func() time.Time { return h.clock }
	h.loop.Start(context.Background())
	t.Cleanup(h.loop.Stop)
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

// ── Tests ────────────────────────────────────────────────────

func TestRunCycle_StandardResponse(t *testing.T) {
	h := newHarness(t, 6, "2. eating, looks calm")

	res, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eating", res.Observation.BehaviorLabel)
	assert.Equal(t, "calm", res.Observation.EmotionLabel)
	assert.Equal(t, gate.Standard, res.Decision.Outcome)

	require.NotNil(t, res.Task)
	assert.Equal(t, models.PriorityNormal, res.Task.Priority)
	payload, ok := res.Task.Payload.(models.ImageAnalysisPayload)
	require.True(t, ok)
	assert.NotNil(t, payload.Screenshot)

	assert.Equal(t, 1, h.history.Len())
	recs, err := h.log.ReadDay(context.Background(), h.clock)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, StateIdle, h.loop.Snapshot().State)
}

func TestRunCycle_EscalationPreemptsGate(t *testing.T) {
	h := newHarness(t, 3,
		"2. eating, frustrated",
		"2. eating, angry",
		"2. eating, tired",
	)
	for i := 0; i < 3; i++ {
		_, err := h.loop.RunCycle(context.Background())
		require.NoError(t, err)
		h.advance(time.Minute)
	}

	assert.Equal(t, []models.TaskKind{models.TaskImageAnalysis, models.TaskSpecialCare}, h.queue.kinds())
	special := h.queue.tasks[1]
	assert.Equal(t, models.PriorityCritical, special.Priority)
	assert.Equal(t, 3, special.Payload.(models.SpecialCarePayload).Streak)
}

func TestRunCycle_UnrecognizedStillRecorded(t *testing.T) {
	h := newHarness(t, 6, "an empty chair")

	res, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.UnrecognizedCode, res.Observation.BehaviorCode)
	assert.Equal(t, models.UnrecognizedLabel, res.Observation.EmotionLabel)
	assert.Equal(t, 1, h.history.Len())
}

func TestRunCycle_FailureTaxonomy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  error
		stage State
	}{
		{"capture", func(h *harness) { h.source.err = errors.New("no camera") }, ErrCaptureFailure, StateCapturing},
		{"upload", func(h *harness) { h.uploader.err = errors.New("bucket down") }, ErrUploadFailure, StateUploading},
		{"analysis error", func(h *harness) { h.analyzer.err = errors.New("timeout") }, ErrAnalysisFailure, StateAnalyzing},
		{"empty analysis", func(h *harness) {}, ErrAnalysisFailure, StateAnalyzing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 6)
			tt.setup(h)

			_, err := h.loop.RunCycle(context.Background())
			require.ErrorIs(t, err, tt.want)
			var ce *CycleError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.stage, ce.Stage)

			snap := h.loop.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.False(t, snap.Processing)
			assert.Equal(t, 1, snap.Failures)
			assert.Empty(t, h.queue.kinds())
			assert.Zero(t, h.history.Len())
		})
	}
}

func TestRunCycle_PausedRejects(t *testing.T) {
	h := newHarness(t, 6, "2. eating")
	h.loop.Pause()

	_, err := h.loop.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrPaused)
	assert.Zero(t, h.source.calls)

	h.loop.Resume()
	_, err = h.loop.RunCycle(context.Background())
	assert.NoError(t, err)
}

func TestRunCycle_NotStarted(t *testing.T) {
	l := New(config.ObserveConfig{Interval: time.Second, Frames: 1}, Deps{})
	_, err := l.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrPaused)
}

func TestLoop_CadenceContinuesAfterFailure(t *testing.T) {
	q := &recordingQueue{}
	src := &fakeSource{err: errors.New("no frame")}
	l := New(config.ObserveConfig{
		Interval:     10 * time.Millisecond,
		InitialDelay: time.Millisecond,
		Frames:       1,
	}, Deps{
		Source:   src,
		Uploader: &fakeUploader{},
		Analyzer: &scriptedAnalyzer{},
		Queue:    q,
		History:  history.New(20),
		Gate:     gate.New(gate.NewTracker(nil, 6), time.Minute),
	})
	l.Start(context.Background())

	require.Eventually(t, func() bool { return l.Snapshot().Failures >= 3 }, 2*time.Second, 5*time.Millisecond)
	l.Stop()
	assert.False(t, l.Snapshot().Running)
}

// stalledDriver holds every delivery until its context ends.
type stalledDriver struct{}

func (stalledDriver) Kind() string { return "stalled" }

func (stalledDriver) Send(ctx context.Context, _ notify.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunCycle_SlowOutputDoesNotStall(t *testing.T) {
	out := notify.NewService(nil)
	out.RegisterDriver(stalledDriver{})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		out.Shutdown(ctx)
	}()

	h := newHarness(t, 6, "2. eating, looks calm")
	h.loop.deps.Status = out

	start := time.Now()
	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []models.TaskKind{models.TaskImageAnalysis}, h.queue.kinds())
}

func TestResume_OnlyAfterPauseTriggersCycle(t *testing.T) {
	h := newHarness(t, 6, "2. eating, looks calm", "3. reading, looks calm")

	h.loop.Resume()
	time.Sleep(ResumeDelay + 300*time.Millisecond)
	assert.Zero(t, h.loop.Snapshot().Cycles, "resume without pause must not run an extra cycle")

	h.loop.Pause()
	h.loop.Resume()
	require.Eventually(t, func() bool { return h.loop.Snapshot().Cycles == 1 }, 2*time.Second, 10*time.Millisecond)
}
