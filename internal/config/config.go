package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshfield/meshfield/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultWidth           = 800
	DefaultHeight          = 600
	DefaultXMin            = -2.5
	DefaultXMax            = 1.5
	DefaultYMin            = -1.5
	DefaultYMax            = 1.5
	DefaultMaxIter         = 100
	DefaultStrategy        = "contiguous"
	DefaultCollect         = "gather"
	DefaultProgressEvery   = 10
	DefaultListen          = ":7946"
	DefaultCoordinator     = "ws://localhost:7946/ws"
	DefaultDialTimeout     = 30 * time.Second
	DefaultMaxMessageBytes = 256 << 20
	DefaultExportDir       = "out"
	DefaultHistoryTTL      = time.Hour
	DefaultLogLevel        = "info"
)

// Config is the top-level run configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Grid      types.Grid      `yaml:"grid"`
	Run       RunConfig       `yaml:"run"`
	Transport TransportConfig `yaml:"transport"`
	Export    ExportConfig    `yaml:"export"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// RunConfig controls how work is split and collected.
type RunConfig struct {
	// Strategy is the row partitioning scheme: contiguous | striped.
	Strategy string `yaml:"strategy"`

	// Collect selects how rank 0 receives reports: gather | p2p.
	Collect string `yaml:"collect"`

	// ProgressEvery is the progress log cadence as a percentage of each rank's
	// rows. 0 disables progress records.
	ProgressEvery int `yaml:"progress_every"`

	// GatherTimeout bounds how long rank 0 waits for reports. Zero waits
	// indefinitely and leaves hung peers to the external supervisor.
	GatherTimeout time.Duration `yaml:"gather_timeout"`
}

// TransportConfig holds the websocket transport settings used when ranks run
// as separate processes.
type TransportConfig struct {
	// Listen is the address rank 0 serves the peer hub on.
	Listen string `yaml:"listen"`

	// Coordinator is the ws:// URL the other ranks dial.
	Coordinator string `yaml:"coordinator"`

	// DialTimeout bounds how long a rank keeps retrying the coordinator and how
	// long rank 0 waits for every peer to connect.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxMessageBytes caps a single inbound websocket message.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// TokenEnv is the name of the environment variable holding the shared
	// peer token. Empty disables peer authentication.
	TokenEnv string `yaml:"token_env"`
}

// Token returns the shared peer token resolved from the environment.
// Returns empty string if TokenEnv is unset or the variable is not found.
func (t TransportConfig) Token() string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// ExportConfig selects which artifacts rank 0 writes for the external renderer.
type ExportConfig struct {
	// Dir is the output directory. Empty disables file export.
	Dir string `yaml:"dir"`

	// Artifact writes the msgpack grid artifact (grid.msgpack).
	Artifact bool `yaml:"artifact"`

	// Report writes the JSON run report (report.json).
	Report bool `yaml:"report"`

	// Metrics writes the Prometheus text exposition (metrics.prom).
	Metrics bool `yaml:"metrics"`
}

// HistoryConfig controls the in-memory run history served on /api/v1/runs.
type HistoryConfig struct {
	// TTL is how long a finished run stays listed.
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Grid: types.Grid{
			Width:   DefaultWidth,
			Height:  DefaultHeight,
			XMin:    DefaultXMin,
			XMax:    DefaultXMax,
			YMin:    DefaultYMin,
			YMax:    DefaultYMax,
			MaxIter: DefaultMaxIter,
		},
		Run: RunConfig{
			Strategy:      DefaultStrategy,
			Collect:       DefaultCollect,
			ProgressEvery: DefaultProgressEvery,
		},
		Transport: TransportConfig{
			Listen:          DefaultListen,
			Coordinator:     DefaultCoordinator,
			DialTimeout:     DefaultDialTimeout,
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
		Export: ExportConfig{
			Dir:      DefaultExportDir,
			Artifact: true,
			Report:   true,
			Metrics:  true,
		},
		History: HistoryConfig{TTL: DefaultHistoryTTL},
		Log:     LogConfig{Level: DefaultLogLevel},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if err := cfg.Grid.Validate(); err != nil {
		return err
	}
	switch cfg.Run.Strategy {
	case "contiguous", "striped":
	default:
		return &types.ConfigurationError{Field: "run.strategy", Reason: fmt.Sprintf("unknown strategy %q", cfg.Run.Strategy)}
	}
	switch cfg.Run.Collect {
	case "gather", "p2p":
	default:
		return &types.ConfigurationError{Field: "run.collect", Reason: fmt.Sprintf("unknown collect mode %q", cfg.Run.Collect)}
	}
	if cfg.Run.ProgressEvery < 0 || cfg.Run.ProgressEvery > 100 {
		return &types.ConfigurationError{Field: "run.progress_every", Reason: "must be within 0–100"}
	}
	if cfg.Run.GatherTimeout < 0 {
		return &types.ConfigurationError{Field: "run.gather_timeout", Reason: "must not be negative"}
	}
	if cfg.Transport.DialTimeout <= 0 {
		return &types.ConfigurationError{Field: "transport.dial_timeout", Reason: "must be positive"}
	}
	if cfg.Transport.MaxMessageBytes <= 0 {
		return &types.ConfigurationError{Field: "transport.max_message_bytes", Reason: "must be positive"}
	}
	if cfg.History.TTL <= 0 {
		return &types.ConfigurationError{Field: "history.ttl", Reason: "must be positive"}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return &types.ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", cfg.Log.Level)}
	}
	return nil
}
