package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load consults so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY", "API_BASE_PATH",
		"DB_PATH",
		"AUTO_REPLY_ENABLED", "AUTO_REPLY_MAX_RULES", "AUTO_REPLY_DEFAULT_TRIGGER",
		"AUTO_REPLY_ALLOW_KEYWORDS", "AUTO_REPLY_ALLOW_SCHEDULED",
		"AUTO_REPLY_MAX_DELAY_SECONDS", "MESSAGES_TIMEZONE",
		"AI_ENABLED", "AI_USER_ID", "AI_PROVIDER", "AI_SYSTEM_PROMPT", "AI_MAX_TOKENS",
		"AI_TEMPERATURE", "AI_RATE_LIMIT_MINUTES", "AI_CONTEXT_MESSAGES", "AI_REQUEST_TIMEOUT",
		"OPENAI_API_KEY", "OPENAI_MODEL", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"RATE_RPS", "RATE_BURST", "CORS_ALLOWED_ORIGINS", "ENABLE_HSTS", "HSTS_MAX_AGE",
		"IDEMPOTENCY_TTL", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_BoolEnvSpellings(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTO_REPLY_ENABLED", "off")
	t.Setenv("LOG_PRETTY", "on")
	t.Setenv("OTEL_ENABLED", "maybe") // unparsable keeps the default

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AutoReply.Enabled {
		t.Fatalf("AUTO_REPLY_ENABLED=off parsed as true")
	}
	if !cfg.LogPretty {
		t.Fatalf("LOG_PRETTY=on parsed as false")
	}
	if cfg.OTEL.Enabled {
		t.Fatalf("unparsable OTEL_ENABLED overrode the default")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" || cfg.GinMode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected server defaults: %+v", cfg)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "app.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}

	ar := cfg.AutoReply
	if !ar.Enabled || ar.MaxRulesPerUser != 10 || ar.DefaultTrigger != "all" ||
		!ar.AllowKeywords || !ar.AllowScheduled || ar.MaxDelaySeconds != 3600 || ar.Timezone != "UTC" {
		t.Fatalf("unexpected auto-reply defaults: %+v", ar)
	}

	ai := cfg.AI
	if ai.Enabled || ai.Provider != ProviderOpenAI || ai.MaxTokens != 500 ||
		ai.RateLimitMinutes != 1 || ai.ContextMessages != 10 {
		t.Fatalf("unexpected ai defaults: %+v", ai)
	}
	if ai.RequestTimeout != 30*time.Second {
		t.Fatalf("RequestTimeout = %v", ai.RequestTimeout)
	}
	if ai.OpenAI.Model != "gpt-4o" || ai.Anthropic.Model == "" {
		t.Fatalf("unexpected provider model defaults: %+v", ai)
	}
	if ai.RateLimitWindow() != time.Minute {
		t.Fatalf("RateLimitWindow = %v", ai.RateLimitWindow())
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("GIN_MODE", "bogus")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("AUTO_REPLY_MAX_RULES", "3")
	t.Setenv("AI_PROVIDER", "ANTHROPIC")
	t.Setenv("MESSAGES_TIMEZONE", "Europe/Athens")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q", cfg.GinMode)
	}
	if cfg.APIBasePath != "/api/v2" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.AutoReply.MaxRulesPerUser != 3 {
		t.Fatalf("MaxRulesPerUser = %d", cfg.AutoReply.MaxRulesPerUser)
	}
	if cfg.AI.Provider != ProviderAnthropic {
		t.Fatalf("Provider = %q", cfg.AI.Provider)
	}
	if loc := cfg.AutoReply.Location(); loc.String() != "Europe/Athens" {
		t.Fatalf("Location = %v", loc)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad trigger", map[string]string{"AUTO_REPLY_DEFAULT_TRIGGER": "sometimes"}, "AUTO_REPLY_DEFAULT_TRIGGER"},
		{"bad timezone", map[string]string{"MESSAGES_TIMEZONE": "Mars/Olympus"}, "MESSAGES_TIMEZONE"},
		{"bad provider", map[string]string{"AI_PROVIDER": "bard"}, "AI_PROVIDER"},
		{"ai enabled without user", map[string]string{"AI_ENABLED": "true"}, "AI_USER_ID"},
		{"temperature out of range", map[string]string{"AI_TEMPERATURE": "1.5"}, "AI_TEMPERATURE"},
		{"rule cap too low", map[string]string{"AUTO_REPLY_MAX_RULES": "0"}, "AUTO_REPLY_MAX_RULES"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestAutoReplyConfig_Location_Fallback(t *testing.T) {
	c := AutoReplyConfig{Timezone: "Not/AZone"}
	if got := c.Location(); got != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", got)
	}
}
