// Package contracts defines the collaborator interfaces the companion
// orchestrates but does not implement itself: frame capture, upload, image
// analysis, chat completion, output, and the daily observation log.
//
// Concrete adapters live under internal/ (capture, upload, llm, notify,
// store). Tests substitute fakes for any of them.
package contracts

import (
	"context"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

// ── Sensing ─────────────────────────────────────────────────

// FrameSource captures a burst of frames. latest is the most recent frame
// seen by the source and is used as the screenshot shown next to a reply.
type FrameSource interface {
	Capture(ctx context.Context, n int, spacing time.Duration) (frames []models.Frame, latest *models.Frame, err error)
}

// Uploader makes frames reachable by the analyzer.
type Uploader interface {
	Upload(ctx context.Context, frames []models.Frame) ([]models.ImageRef, error)
}

// Analyzer describes what the subject is doing. The returned text is free
// form; behavior and emotion labels are extracted from it afterwards.
type Analyzer interface {
	Analyze(ctx context.Context, images []models.ImageRef) (string, error)
}

// ── Conversation ────────────────────────────────────────────

// ChatCompleter returns the assistant reply for an ordered message list.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// ── Output ──────────────────────────────────────────────────

// Output presents replies to the subject.
type Output interface {
	Display(ctx context.Context, msg models.DisplayMessage)
	Speak(ctx context.Context, text string, priority int)
}

// StatusReporter receives short human-readable progress updates.
type StatusReporter interface {
	Status(text string)
}

// ── Observation Log ─────────────────────────────────────────

// ObservationLog persists observations per calendar day.
type ObservationLog interface {
	Append(ctx context.Context, rec models.ObservationRecord) error
	// ReadDay returns the records of the given local calendar day in append
	// order. It returns store.ErrLogMissing when nothing was ever logged
	// for that day.
	ReadDay(ctx context.Context, day time.Time) ([]models.ObservationRecord, error)
	Close() error
}

// ── Dispatch ────────────────────────────────────────────────

// Enqueuer is the producer-side view of the task dispatcher.
type Enqueuer interface {
	Enqueue(priority int, kind models.TaskKind, payload any) models.Task
}
