// Companion watches over one person through a camera and microphone and
// talks back: it classifies what they are doing and how they feel, replies
// when something changes, reaches out after sustained negative emotion, and
// recaps the day every evening.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "companion",
	Short:        "An observing, conversational companion",
	SilenceUsage: true,
	RunE:         runCompanion,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start observing and responding (default)",
	RunE:  runCompanion,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print a recap of today's observations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.HTTP.Enabled = false
		srv, err := server.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer srv.Close()
		fmt.Fprintln(cmd.OutOrStdout(), srv.Summarize(cmd.Context()))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Defaults().Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("COMPANION_CONFIG"), "YAML config file")
	rootCmd.AddCommand(runCmd, summaryCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runCompanion(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Str("version", cfg.Version).Msg("🤝 Companion starting...")

	srv, err := server.New(cmd.Context(), cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize companion")
		return err
	}
	defer srv.Close()

	if err := srv.Run(cmd.Context()); err != nil {
		log.Error().Err(err).Msg("Companion stopped with error")
		return err
	}
	log.Info().Msg("👋 Companion stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		setupLogging(config.LogConfig{})
		log.Error().Err(err).Msg("Failed to load config")
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(lc config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
