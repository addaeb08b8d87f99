// Package server assembles the companion from its configuration and runs
// every component under one errgroup.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close()
//	err = srv.Run(ctx) // returns after ctx is cancelled and the queue drained
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/companion/internal/api"
	"github.com/agentoven/companion/internal/api/handlers"
	"github.com/agentoven/companion/internal/capture"
	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/internal/dispatch"
	"github.com/agentoven/companion/internal/gate"
	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/llm"
	"github.com/agentoven/companion/internal/notify"
	"github.com/agentoven/companion/internal/observe"
	"github.com/agentoven/companion/internal/respond"
	"github.com/agentoven/companion/internal/retention"
	"github.com/agentoven/companion/internal/schedule"
	"github.com/agentoven/companion/internal/store"
	"github.com/agentoven/companion/internal/telemetry"
	"github.com/agentoven/companion/internal/upload"
	"github.com/agentoven/companion/internal/voice"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server holds the initialized companion.
type Server struct {
	Config     *config.Config
	Dispatcher *dispatch.Dispatcher
	Gate       *gate.Gate
	History    *history.History
	Log        store.Log
	Vision     *llm.Router
	Chat       *llm.Router
	Loop       *observe.Loop
	Generator  *respond.Generator
	Scheduler  *schedule.Daily // nil when summaries are disabled
	Janitor    *retention.Janitor
	Output     *notify.Service
	Speech     *notify.SpeechQueue
	Hub        *notify.Hub
	Voice      *voice.Producer
	Spool      *voice.Spool // nil without voice.spool_dir

	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// ShutdownFunc flushes telemetry.
	ShutdownFunc func(context.Context) error

	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New initializes every component from cfg.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	obsLog, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open observation log: %w", err)
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("✅ Observation log opened")

	src, err := capture.New(cfg.Capture)
	if err != nil {
		obsLog.Close()
		return nil, fmt.Errorf("frame source: %w", err)
	}
	up, err := upload.New(ctx, cfg.Upload)
	if err != nil {
		obsLog.Close()
		return nil, fmt.Errorf("uploader: %w", err)
	}
	vision, err := llm.FromConfig(ctx, cfg.Vision)
	if err != nil {
		obsLog.Close()
		return nil, fmt.Errorf("vision model: %w", err)
	}
	chat, err := llm.FromConfig(ctx, cfg.LLM)
	if err != nil {
		obsLog.Close()
		return nil, fmt.Errorf("chat model: %w", err)
	}
	log.Info().Strs("vision", vision.Drivers()).Strs("chat", chat.Drivers()).Msg("✅ Model routers initialized")

	s := &Server{
		Config:          cfg,
		Dispatcher:      dispatch.New(),
		Gate:            gate.New(gate.NewTracker(cfg.Emotion.Negative, cfg.Emotion.Threshold), cfg.Gate.MinInterval),
		History:         history.New(cfg.History.Capacity),
		Log:             obsLog,
		Vision:          vision,
		Chat:            chat,
		Hub:             notify.NewHub(),
		ShutdownFunc:    shutdown,
		shutdownTimeout: 15 * time.Second,
	}

	// Output
	var speaker notify.Speaker = notify.LogSpeaker{}
	if cfg.Output.SpeechURL != "" {
		speaker = notify.NewHTTPSpeaker(cfg.Output.SpeechURL, nil)
	}
	s.Speech = notify.NewSpeechQueue(speaker, cfg.Output.SpeechQueue)
	s.Output = notify.NewService(s.Speech)
	s.Output.RegisterDriver(notify.LogDriver{})
	s.Output.RegisterDriver(s.Hub)
	if cfg.Output.WebhookURL != "" {
		s.Output.RegisterDriver(notify.NewWebhookDriver(cfg.Output.WebhookURL, cfg.Output.WebhookSecret, nil))
	}

	// Producers and consumer
	s.Loop = observe.New(cfg.Observe, observe.Deps{
		Source:   src,
		Uploader: up,
		Analyzer: vision,
		Queue:    s.Dispatcher,
		History:  s.History,
		Gate:     s.Gate,
		Log:      obsLog,
		Status:   s.Output,
	})
	s.Generator = respond.NewGenerator(s.Dispatcher, chat, s.Output, s.History, obsLog, respond.Options{
		Window:     cfg.Context.Window,
		Recent:     cfg.History.Recent,
		MaxRecords: cfg.Summary.MaxRecords,
	})
	s.Generator.Status = s.Output

	if cfg.Summary.Enabled {
		at, err := cfg.SummaryTime()
		if err != nil {
			s.Output.Shutdown(context.Background())
			obsLog.Close()
			return nil, err
		}
		s.Scheduler = schedule.NewDaily(at, s.Dispatcher)
	}

	s.Janitor = retention.NewJanitor(obsLog, cfg.Store.RetentionDays, 6*time.Hour)
	if cfg.Store.ArchiveDir != "" {
		s.Janitor.SetArchiver(retention.NewLocalFileArchiver(cfg.Store.ArchiveDir, cfg.Store.ArchiveGzip))
	}

	s.Voice = voice.NewProducer(s.Dispatcher, s.Output)
	if cfg.Voice.SpoolDir != "" {
		s.Spool = voice.NewSpool(cfg.Voice.SpoolDir, s.Voice)
	}

	// HTTP
	h := &handlers.Handlers{
		Observer: s.Loop,
		Queue:    s.Dispatcher,
		Gate:     s.Gate,
		History:  s.History,
		Voice:    s.Voice,
		Status:   s.Output,
		Stats:    s,
	}
	if s.Scheduler != nil {
		h.Scheduler = s.Scheduler
	}
	s.Handler = api.NewRouter(cfg, h, s.Hub)
	if cfg.HTTP.Enabled {
		s.httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:      s.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	return s, nil
}

// Run starts every component and blocks until ctx is cancelled. On shutdown
// the producers stop first, then the dispatcher's shutdown sentinel lets the
// response generator finish everything already queued.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The generator outlives gctx so it can drain the queue.
	genCtx, genCancel := context.WithCancel(context.WithoutCancel(gctx))
	defer genCancel()
	genDone := make(chan struct{})
	g.Go(func() error {
		defer close(genDone)
		err := s.Generator.Run(genCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Speech keeps playing until the drained replies have been spoken.
	speechCtx, speechCancel := context.WithCancel(context.WithoutCancel(gctx))
	defer speechCancel()
	g.Go(func() error { return s.Speech.Run(speechCtx) })
	observations := s.History.Subscribe()
	g.Go(func() error {
		defer s.History.Unsubscribe(observations)
		return s.Output.Forward(gctx, observations)
	})
	g.Go(func() error {
		s.Janitor.Start(gctx)
		return nil
	})
	if s.Spool != nil {
		g.Go(func() error { return s.Spool.Run(gctx) })
	}

	s.Loop.Start(gctx)
	if s.Scheduler != nil {
		s.Scheduler.Start(gctx)
		log.Info().Str("at", s.Config.Summary.At).Msg("📅 Daily summary scheduled")
	}

	if s.httpServer != nil {
		g.Go(func() error {
			log.Info().Int("port", s.Config.HTTP.Port).Msg("🌐 Control API listening")
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	log.Info().Msg("🤝 Companion is up and watching")

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")

		s.Loop.Stop()
		if s.Scheduler != nil {
			s.Scheduler.Stop()
		}
		s.Dispatcher.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("HTTP shutdown")
			}
		}

		select {
		case <-genDone:
		case <-shutdownCtx.Done():
			log.Warn().Int("pending", s.Dispatcher.Len()).Msg("Response generator did not drain in time")
			genCancel()
			<-genDone
		}

		// Output stays up until the drained replies are delivered.
		if err := s.Speech.Drain(shutdownCtx); err != nil {
			log.Warn().Int("pending", s.Speech.Pending()).Msg("Speech did not finish in time")
		}
		speechCancel()
		if err := s.Output.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Output drivers did not flush in time")
		}
		s.Hub.Close()
		return nil
	})

	return g.Wait()
}

// Stats reports component counters for the status endpoint.
func (s *Server) Stats() map[string]any {
	speech := s.Speech.Stats()
	out := map[string]any{
		"speech": map[string]int{
			"pending": s.Speech.Pending(),
			"spoken":  speech.Spoken,
			"failed":  speech.Failed,
			"dropped": speech.Dropped,
		},
		"display_clients":   s.Hub.Clients(),
		"output_drivers":    s.Output.Drivers(),
		"vision_latency_ms": s.Vision.Latencies(),
		"chat_latency_ms":   s.Chat.Latencies(),
		"history":           map[string]int{"len": s.History.Len(), "capacity": s.History.Capacity()},
	}
	if s.Scheduler != nil {
		out["summaries_fired"] = s.Scheduler.Fired()
	}
	return out
}

// Summarize produces today's recap without running the loop.
func (s *Server) Summarize(ctx context.Context) string {
	return s.Generator.Summarize(ctx, time.Now())
}

// Close stops the output drivers, releases the observation log and flushes
// telemetry.
func (s *Server) Close() error {
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Output.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop output: %w", err))
	}
	if err := s.Log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close observation log: %w", err))
	}
	if s.ShutdownFunc != nil {
		if err := s.ShutdownFunc(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
