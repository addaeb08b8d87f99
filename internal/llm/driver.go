// Package llm talks to the chat and vision models.
//
// A Driver speaks one provider's wire protocol. The Router wraps an ordered
// list of drivers, falls back on failure, and tracks per-driver latency. It
// satisfies both contracts.ChatCompleter and contracts.Analyzer.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/internal/labels"
	"github.com/agentoven/companion/pkg/models"
)

// Driver is a single model endpoint.
type Driver interface {
	Name() string
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
	Analyze(ctx context.Context, prompt string, images []models.ImageRef) (string, error)
}

// VisionPrompt asks the vision model for a numbered behavior and a short
// description of the visible emotion.
var VisionPrompt = buildVisionPrompt()

func buildVisionPrompt() string {
	var b strings.Builder
	b.WriteString("These images are consecutive frames of the same person. ")
	b.WriteString("First pick exactly one behavior from the list and answer with its number and name, for example \"2. eating\":\n")
	for _, beh := range labels.Behaviors {
		fmt.Fprintf(&b, "%s. %s\n", beh.Code, beh.Label)
	}
	b.WriteString("Then describe the person's facial expression and emotion in one sentence, using one of: ")
	names := make([]string, 0, len(labels.Emotions))
	for _, e := range labels.Emotions {
		names = append(names, e.Label)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".")
	return b.String()
}

// NewDriver builds the driver named by cfg.Provider.
func NewDriver(ctx context.Context, cfg config.LLMConfig) (Driver, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIDriver(cfg, &http.Client{Timeout: timeoutOr(cfg.Timeout, 60*time.Second)}), nil
	case "gemini":
		return NewGeminiDriver(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
