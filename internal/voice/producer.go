// Package voice turns recognized speech into dispatcher tasks.
package voice

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/agentoven/companion/internal/labels"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrTooShort is returned for transcripts of one character or less after cleaning.
var ErrTooShort = errors.New("voice input too short")

// Producer submits cleaned transcripts as VoiceInput tasks.
type Producer struct {
	queue contracts.Enqueuer
	out   contracts.Output
	now   func() time.Time
}

// NewProducer creates a producer. out may be nil.
func NewProducer(queue contracts.Enqueuer, out contracts.Output) *Producer {
	return &Producer{queue: queue, out: out, now: time.Now}
}

// Submit cleans raw, shows it as the user's line, and enqueues it.
func (p *Producer) Submit(ctx context.Context, raw string) (models.Task, error) {
	text := labels.CleanTranscript(raw)
	if utf8.RuneCountInString(text) <= 1 {
		log.Debug().Str("raw", raw).Msg("Ignoring short voice input")
		return models.Task{}, ErrTooShort
	}
	now := p.now()
	if p.out != nil {
		p.out.Display(ctx, models.DisplayMessage{Speaker: models.SpeakerUser, Text: text, At: now})
	}
	task := p.queue.Enqueue(models.PriorityHigh, models.TaskVoiceInput, models.VoiceInputPayload{Text: text, ReceivedAt: now})
	log.Info().Str("task", task.ID).Msgf("🎤 %s", text)
	return task, nil
}
