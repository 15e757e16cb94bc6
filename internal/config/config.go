// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port                string        `env:"PORT"                   envDefault:"8080"`
	FrontendURL         string        `env:"FRONTEND_URL"`
	DBPath              string        `env:"DB_PATH"                envDefault:"./data/missiontalk.db"`
	LogLevel            string        `env:"LOG_LEVEL"              envDefault:"info"`
	ScenarioDir         string        `env:"SCENARIO_DIR"`
	SessionRetention    time.Duration `env:"SESSION_RETENTION"      envDefault:"720h"`
	MaxRequestBodyBytes int64         `env:"MAX_REQUEST_BODY_BYTES" envDefault:"1048576"`

	Generation      GenerationConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
	Telemetry       TelemetryConfig
}

// GenerationConfig selects and configures the text generation backend.
type GenerationConfig struct {
	Backend       string        `env:"GENERATION_BACKEND"    envDefault:"gemini"`
	APIKey        string        `env:"GEMINI_API_KEY"`
	ChatModel     string        `env:"GEMINI_MODEL"          envDefault:"gemini-2.0-flash"`
	AnalysisModel string        `env:"GEMINI_ANALYSIS_MODEL" envDefault:"gemini-2.0-flash"`
	GrpcAddr      string        `env:"GENERATION_GRPC_ADDR"`
	Timeout       time.Duration `env:"GENERATION_TIMEOUT"    envDefault:"30s"`
}

// RateLimitConfig bounds message turns per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	WindowDuration    time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"1m"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED"        envDefault:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR"            envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH"    envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE"     envDefault:"1000"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED"  envDefault:"true"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.Generation.Backend) {
	case agent.BackendGemini, agent.BackendGrpc:
	default:
		return fmt.Errorf("GENERATION_BACKEND must be %q or %q, got %q", agent.BackendGemini, agent.BackendGrpc, c.Generation.Backend)
	}
	if c.Generation.Timeout < 0 {
		return fmt.Errorf("GENERATION_TIMEOUT cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Agent returns the generation settings in the form the agent package takes.
func (c *Config) Agent() agent.Config {
	return agent.Config{
		Backend:       strings.ToLower(c.Generation.Backend),
		APIKey:        c.Generation.APIKey,
		ChatModel:     c.Generation.ChatModel,
		AnalysisModel: c.Generation.AnalysisModel,
		GrpcAddr:      c.Generation.GrpcAddr,
		Timeout:       c.Generation.Timeout,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a valid level", s)
	}
	return level, nil
}
