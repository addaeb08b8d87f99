package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Router sends each request to its drivers in order until one succeeds.
type Router struct {
	drivers []Driver
	prompt  string
	now     func() time.Time

	// Latency tracking: driver name → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64
}

// NewRouter wraps drivers, tried in the given order.
func NewRouter(drivers ...Driver) *Router {
	return &Router{
		drivers:   drivers,
		prompt:    VisionPrompt,
		now:       time.Now,
		latencies: make(map[string]int64),
	}
}

// FromConfig builds a router for cfg and its fallback chain.
func FromConfig(ctx context.Context, cfg config.LLMConfig) (*Router, error) {
	var drivers []Driver
	for c := &cfg; c != nil; c = c.Fallback {
		d, err := NewDriver(ctx, *c)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return NewRouter(drivers...), nil
}

// Complete implements contracts.ChatCompleter.
func (r *Router) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	return r.route(ctx, "complete", func(d Driver) (string, error) {
		return d.Complete(ctx, messages)
	})
}

// Analyze implements contracts.Analyzer.
func (r *Router) Analyze(ctx context.Context, images []models.ImageRef) (string, error) {
	if len(images) == 0 {
		return "", errors.New("no images to analyze")
	}
	return r.route(ctx, "analyze", func(d Driver) (string, error) {
		return d.Analyze(ctx, r.prompt, images)
	})
}

func (r *Router) route(ctx context.Context, op string, call func(Driver) (string, error)) (string, error) {
	if len(r.drivers) == 0 {
		return "", fmt.Errorf("no model drivers configured")
	}
	var lastErr error
	for _, d := range r.drivers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start := r.now()
		text, err := call(d)
		if err != nil {
			log.Warn().
				Str("driver", d.Name()).
				Str("op", op).
				Err(err).
				Msg("Model call failed, trying next")
			lastErr = err
			continue
		}
		r.trackLatency(d.Name(), r.now().Sub(start).Milliseconds())
		return text, nil
	}
	return "", fmt.Errorf("all drivers failed, last error: %w", lastErr)
}

func (r *Router) trackLatency(name string, ms int64) {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	prev := r.latencies[name]
	if prev == 0 {
		r.latencies[name] = ms
		return
	}
	// Exponential moving average
	r.latencies[name] = (prev*7 + ms*3) / 10
}

// Latencies returns a copy of the rolling average latency per driver.
func (r *Router) Latencies() map[string]int64 {
	r.latencyMu.RLock()
	defer r.latencyMu.RUnlock()
	out := make(map[string]int64, len(r.latencies))
	for k, v := range r.latencies {
		out[k] = v
	}
	return out
}

// Drivers lists driver names in call order.
func (r *Router) Drivers() []string {
	names := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		names[i] = d.Name()
	}
	return names
}
