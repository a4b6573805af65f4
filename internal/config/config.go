// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting,
// auto-reply rules, the AI responder, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-messaging-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-messaging-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AutoReplyConfig controls the per-user auto-reply rule engine.
type AutoReplyConfig struct {
	Enabled         bool   // AUTO_REPLY_ENABLED
	MaxRulesPerUser int    // AUTO_REPLY_MAX_RULES (>= 1)
	DefaultTrigger  string // AUTO_REPLY_DEFAULT_TRIGGER: all|first_message|keywords
	AllowKeywords   bool   // AUTO_REPLY_ALLOW_KEYWORDS
	AllowScheduled  bool   // AUTO_REPLY_ALLOW_SCHEDULED
	MaxDelaySeconds int    // AUTO_REPLY_MAX_DELAY_SECONDS (advisory field cap)
	Timezone        string // MESSAGES_TIMEZONE (IANA name, e.g. "Europe/Athens")
}

// Location resolves the configured timezone, falling back to UTC when the
// name cannot be loaded.
func (c AutoReplyConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Provider names recognized by the AI responder.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCustom    = "custom"
)

// AIProviderConfig holds per-provider credentials and model selection.
type AIProviderConfig struct {
	APIKey string
	Model  string
}

// AIConfig controls the AI auto-responder pipeline.
type AIConfig struct {
	Enabled          bool    // AI_ENABLED
	UserID           string  // AI_USER_ID: the participant that represents the assistant
	Provider         string  // AI_PROVIDER: openai|anthropic|custom
	SystemPrompt     string  // AI_SYSTEM_PROMPT
	MaxTokens        int     // AI_MAX_TOKENS
	Temperature      float64 // AI_TEMPERATURE in [0..1]
	RateLimitMinutes int     // AI_RATE_LIMIT_MINUTES: min gap between replies per inbox
	ContextMessages  int     // AI_CONTEXT_MESSAGES: history depth sent to the provider
	RequestTimeout   time.Duration

	OpenAI    AIProviderConfig // OPENAI_API_KEY / OPENAI_MODEL
	Anthropic AIProviderConfig // ANTHROPIC_API_KEY / ANTHROPIC_MODEL
}

// RateLimitWindow returns the configured per-inbox quiet period.
func (c AIConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitMinutes) * time.Minute
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Messaging features
	AutoReply AutoReplyConfig
	AI        AIConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Auto-reply rule engine
		AutoReply: AutoReplyConfig{
			Enabled:         getbool("AUTO_REPLY_ENABLED", true),
			MaxRulesPerUser: getint("AUTO_REPLY_MAX_RULES", 10),
			DefaultTrigger:  strings.ToLower(getenv("AUTO_REPLY_DEFAULT_TRIGGER", "all")),
			AllowKeywords:   getbool("AUTO_REPLY_ALLOW_KEYWORDS", true),
			AllowScheduled:  getbool("AUTO_REPLY_ALLOW_SCHEDULED", true),
			MaxDelaySeconds: getint("AUTO_REPLY_MAX_DELAY_SECONDS", 3600),
			Timezone:        getenv("MESSAGES_TIMEZONE", "UTC"),
		},

		// AI responder
		AI: AIConfig{
			Enabled:          getbool("AI_ENABLED", false),
			UserID:           getenv("AI_USER_ID", ""),
			Provider:         strings.ToLower(getenv("AI_PROVIDER", ProviderOpenAI)),
			SystemPrompt:     getenv("AI_SYSTEM_PROMPT", "You are a helpful customer support assistant. Be friendly, professional, and concise in your responses. If you don't know something, say so honestly."),
			MaxTokens:        getint("AI_MAX_TOKENS", 500),
			Temperature:      getfloat("AI_TEMPERATURE", 0.7),
			RateLimitMinutes: getint("AI_RATE_LIMIT_MINUTES", 1),
			ContextMessages:  getint("AI_CONTEXT_MESSAGES", 10),
			RequestTimeout:   getdur("AI_REQUEST_TIMEOUT", 30*time.Second),
			OpenAI: AIProviderConfig{
				APIKey: getenv("OPENAI_API_KEY", ""),
				Model:  getenv("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: AIProviderConfig{
				APIKey: getenv("ANTHROPIC_API_KEY", ""),
				Model:  getenv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			},
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-messaging-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.AutoReply.MaxRulesPerUser < 1 {
		return cfg, errors.New("AUTO_REPLY_MAX_RULES must be >= 1")
	}
	switch cfg.AutoReply.DefaultTrigger {
	case "all", "first_message", "keywords":
	default:
		return cfg, errors.New("AUTO_REPLY_DEFAULT_TRIGGER must be one of: all, first_message, keywords")
	}
	if cfg.AutoReply.MaxDelaySeconds < 0 {
		return cfg, errors.New("AUTO_REPLY_MAX_DELAY_SECONDS must be >= 0")
	}
	if _, err := time.LoadLocation(cfg.AutoReply.Timezone); err != nil {
		return cfg, fmt.Errorf("MESSAGES_TIMEZONE is not a valid IANA timezone: %q", cfg.AutoReply.Timezone)
	}
	switch cfg.AI.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderCustom:
	default:
		return cfg, errors.New("AI_PROVIDER must be one of: openai, anthropic, custom")
	}
	if cfg.AI.Enabled && strings.TrimSpace(cfg.AI.UserID) == "" {
		return cfg, errors.New("AI_USER_ID must be set when AI_ENABLED is true")
	}
	if cfg.AI.MaxTokens < 1 {
		return cfg, errors.New("AI_MAX_TOKENS must be >= 1")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 1 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,1]")
	}
	if cfg.AI.RateLimitMinutes < 0 {
		return cfg, errors.New("AI_RATE_LIMIT_MINUTES must be >= 0")
	}
	if cfg.AI.ContextMessages < 1 {
		return cfg, errors.New("AI_CONTEXT_MESSAGES must be >= 1")
	}
	if cfg.AI.RequestTimeout <= 0 {
		return cfg, errors.New("AI_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
