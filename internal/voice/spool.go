package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Spool watches a directory where an external speech recognizer drops one
// *.txt transcript per utterance. Each file is submitted once and removed.
type Spool struct {
	dir      string
	producer *Producer
	settle   time.Duration
}

// NewSpool creates a spool for dir.
func NewSpool(dir string, producer *Producer) *Spool {
	return &Spool{dir: dir, producer: producer, settle: 200 * time.Millisecond}
}

// Run watches the spool until ctx is cancelled. Transcripts already present
// at startup are submitted first.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	log.Info().Str("dir", s.dir).Msg("🎤 Voice spool watching")

	s.drain(ctx)

	// Files are read once they stop changing for the settle period.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(s.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTranscript(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Voice spool watcher error")

		case <-ticker.C:
			for path, last := range pending {
				if time.Since(last) < s.settle {
					continue
				}
				delete(pending, path)
				s.consume(ctx, path)
			}
		}
	}
}

func (s *Spool) drain(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.txt"))
	if err != nil {
		return
	}
	for _, path := range matches {
		s.consume(ctx, path)
	}
}

func (s *Spool) consume(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", path).Msg("Failed to read transcript")
		}
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to remove transcript")
	}
	if _, err := s.producer.Submit(ctx, strings.TrimSpace(string(data))); err != nil && !errors.Is(err, ErrTooShort) {
		log.Warn().Err(err).Str("file", path).Msg("Failed to submit transcript")
	}
}

func isTranscript(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}
