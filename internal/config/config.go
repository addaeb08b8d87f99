package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the companion.
type Config struct {
	Version   string          `yaml:"version"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Observe   ObserveConfig   `yaml:"observe"`
	Emotion   EmotionConfig   `yaml:"emotion"`
	Gate      GateConfig      `yaml:"gate"`
	Summary   SummaryConfig   `yaml:"summary"`
	Context   ContextConfig   `yaml:"context"`
	History   HistoryConfig   `yaml:"history"`
	Capture   CaptureConfig   `yaml:"capture"`
	Upload    UploadConfig    `yaml:"upload"`
	LLM       LLMConfig       `yaml:"llm"`
	Vision    LLMConfig       `yaml:"vision"`
	Store     StoreConfig     `yaml:"store"`
	Voice     VoiceConfig     `yaml:"voice"`
	Output    OutputConfig    `yaml:"output"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

type HTTPConfig struct {
	Enabled bool     `yaml:"enabled"`
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"` // 0..1, parent-based
}

type ObserveConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Frames       int           `yaml:"frames"`
	FrameSpacing time.Duration `yaml:"frame_spacing"`
}

type EmotionConfig struct {
	// Negative lists emotion labels that extend the streak.
	Negative  []string `yaml:"negative"`
	Threshold int      `yaml:"threshold"`
}

type GateConfig struct {
	// MinInterval is the only debounce setting; nothing else hardcodes it.
	MinInterval time.Duration `yaml:"min_interval"`
}

type SummaryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	At         string `yaml:"at"` // HH:MM local time
	MaxRecords int    `yaml:"max_records"`
}

type ContextConfig struct {
	// Window is the number of non-system messages kept in the rolling context.
	Window int `yaml:"window"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
	Recent   int `yaml:"recent"`
}

type CaptureConfig struct {
	Source      string        `yaml:"source"` // dir, snapshot
	Dir         string        `yaml:"dir"`
	SnapshotURL string        `yaml:"snapshot_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type UploadConfig struct {
	Backend   string `yaml:"backend"` // inline, s3
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// LLMConfig describes one OpenAI-compatible or Gemini endpoint.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // openai, gemini
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	// Fallback is tried when the primary endpoint fails.
	Fallback *LLMConfig `yaml:"fallback,omitempty"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"` // jsonl, sqlite, memory
	Dir           string `yaml:"dir"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
	// ArchiveDir, when set, receives a copy of each expired day before purge.
	ArchiveDir    string `yaml:"archive_dir"`
	ArchiveGzip   bool   `yaml:"archive_gzip"`
}

type VoiceConfig struct {
	SpoolDir string `yaml:"spool_dir"`
}

type OutputConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	SpeechURL     string `yaml:"speech_url"`
	SpeechQueue   int    `yaml:"speech_queue"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Version: "0.1.0",
		Log:     LogConfig{Level: "info", Format: "console"},
		HTTP:    HTTPConfig{Enabled: true, Port: 8090},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "companion",
			Insecure:     true,
			SampleRatio:  1,
		},
		Observe: ObserveConfig{
			Interval:     35 * time.Second,
			InitialDelay: 2 * time.Second,
			Frames:       4,
			FrameSpacing: 100 * time.Millisecond,
		},
		Emotion: EmotionConfig{
			Negative:  []string{"frustrated", "angry", "tired"},
			Threshold: 6,
		},
		Gate:    GateConfig{MinInterval: 300 * time.Second},
		Summary: SummaryConfig{Enabled: true, At: "18:00", MaxRecords: 100},
		Context: ContextConfig{Window: 9},
		History: HistoryConfig{Capacity: 20, Recent: 5},
		Capture: CaptureConfig{Source: "dir", Dir: "frames", Timeout: 5 * time.Second},
		Upload:  UploadConfig{Backend: "inline", Prefix: "screenshots"},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.deepseek.com",
			Model:    "deepseek-chat",
			Timeout:  60 * time.Second,
		},
		Vision: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:    "qwen-vl-max",
			Timeout:  90 * time.Second,
		},
		Store:  StoreConfig{Backend: "jsonl", Dir: "observations", SQLitePath: "observations.db", RetentionDays: 30},
		Voice:  VoiceConfig{},
		Output: OutputConfig{SpeechQueue: 2},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = envStr("COMPANION_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("COMPANION_LOG_FORMAT", cfg.Log.Format)

	cfg.HTTP.Enabled = envBool("COMPANION_HTTP_ENABLED", cfg.HTTP.Enabled)
	cfg.HTTP.Port = envInt("COMPANION_PORT", cfg.HTTP.Port)
	cfg.HTTP.APIKeys = envList("COMPANION_API_KEYS", cfg.HTTP.APIKeys)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Insecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Telemetry.Insecure)
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRatio = r
		}
	}

	cfg.Observe.Interval = envDuration("COMPANION_ANALYSIS_INTERVAL", cfg.Observe.Interval)
	cfg.Observe.Frames = envInt("COMPANION_CAPTURE_FRAMES", cfg.Observe.Frames)

	cfg.Emotion.Negative = envList("COMPANION_NEGATIVE_EMOTIONS", cfg.Emotion.Negative)
	cfg.Emotion.Threshold = envInt("COMPANION_EMOTION_THRESHOLD", cfg.Emotion.Threshold)

	cfg.Gate.MinInterval = envDuration("COMPANION_MIN_RESPONSE_INTERVAL", cfg.Gate.MinInterval)

	cfg.Summary.Enabled = envBool("COMPANION_SUMMARY_ENABLED", cfg.Summary.Enabled)
	cfg.Summary.At = envStr("COMPANION_SUMMARY_AT", cfg.Summary.At)

	cfg.Context.Window = envInt("COMPANION_CONTEXT_WINDOW", cfg.Context.Window)

	cfg.Capture.Source = envStr("COMPANION_CAPTURE_SOURCE", cfg.Capture.Source)
	cfg.Capture.Dir = envStr("COMPANION_CAPTURE_DIR", cfg.Capture.Dir)
	cfg.Capture.SnapshotURL = envStr("COMPANION_SNAPSHOT_URL", cfg.Capture.SnapshotURL)

	cfg.Upload.Backend = envStr("COMPANION_UPLOAD_BACKEND", cfg.Upload.Backend)
	cfg.Upload.Bucket = envStr("COMPANION_UPLOAD_BUCKET", cfg.Upload.Bucket)
	cfg.Upload.Endpoint = envStr("COMPANION_UPLOAD_ENDPOINT", cfg.Upload.Endpoint)
	cfg.Upload.Region = envStr("COMPANION_UPLOAD_REGION", cfg.Upload.Region)
	cfg.Upload.AccessKey = envStr("COMPANION_UPLOAD_ACCESS_KEY", cfg.Upload.AccessKey)
	cfg.Upload.SecretKey = envStr("COMPANION_UPLOAD_SECRET_KEY", cfg.Upload.SecretKey)

	cfg.LLM.Provider = envStr("COMPANION_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = envStr("COMPANION_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = envStr("COMPANION_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = envStr("COMPANION_LLM_MODEL", cfg.LLM.Model)

	cfg.Vision.Provider = envStr("COMPANION_VISION_PROVIDER", cfg.Vision.Provider)
	cfg.Vision.BaseURL = envStr("COMPANION_VISION_BASE_URL", cfg.Vision.BaseURL)
	cfg.Vision.APIKey = envStr("COMPANION_VISION_API_KEY", cfg.Vision.APIKey)
	cfg.Vision.Model = envStr("COMPANION_VISION_MODEL", cfg.Vision.Model)

	cfg.Store.Backend = envStr("COMPANION_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Dir = envStr("COMPANION_STORE_DIR", cfg.Store.Dir)
	cfg.Store.SQLitePath = envStr("COMPANION_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.RetentionDays = envInt("COMPANION_RETENTION_DAYS", cfg.Store.RetentionDays)
	cfg.Store.ArchiveDir = envStr("COMPANION_ARCHIVE_DIR", cfg.Store.ArchiveDir)
	cfg.Store.ArchiveGzip = envBool("COMPANION_ARCHIVE_GZIP", cfg.Store.ArchiveGzip)

	cfg.Voice.SpoolDir = envStr("COMPANION_VOICE_SPOOL", cfg.Voice.SpoolDir)

	cfg.Output.WebhookURL = envStr("COMPANION_WEBHOOK_URL", cfg.Output.WebhookURL)
	cfg.Output.WebhookSecret = envStr("COMPANION_WEBHOOK_SECRET", cfg.Output.WebhookSecret)
	cfg.Output.SpeechURL = envStr("COMPANION_SPEECH_URL", cfg.Output.SpeechURL)
}

// Validate rejects settings the orchestration cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Observe.Interval <= 0:
		return fmt.Errorf("config: observe.interval must be positive")
	case c.Observe.Frames <= 0:
		return fmt.Errorf("config: observe.frames must be positive")
	case c.Emotion.Threshold <= 0:
		return fmt.Errorf("config: emotion.threshold must be positive")
	case c.Gate.MinInterval < 0:
		return fmt.Errorf("config: gate.min_interval must not be negative")
	case c.Context.Window <= 0:
		return fmt.Errorf("config: context.window must be positive")
	case c.History.Capacity <= 0:
		return fmt.Errorf("config: history.capacity must be positive")
	case c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1:
		return fmt.Errorf("config: telemetry.sample_ratio must be within [0, 1]")
	}
	if _, err := c.SummaryTime(); err != nil {
		return fmt.Errorf("config: summary.at: %w", err)
	}
	return nil
}

// SummaryTime returns the parsed daily summary time of day.
func (c *Config) SummaryTime() (models.TimeOfDay, error) {
	return models.ParseTimeOfDay(c.Summary.At)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or bare seconds ("35").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
