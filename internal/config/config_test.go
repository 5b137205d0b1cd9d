package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soulbot/internal/entities"
)

const sampleYAML = `
defaultPersona: Oracle
quota:
  freeAllotment: 5
  freePeriodDays: 7
  premiumAllotment: 50
  premiumPeriodHours: 12
  premiumExtensionDays: 31
premium:
  title: Gold
  price: 1000
  currency: usd
characters:
  Oracle:
    prompt: You are an oracle.
  magicball:
    name: Magic Ball
    responses: ["Yes", "No"]
  ghost:
    hidden: true
    prompt: You are a ghost.
messages:
  start: hello
`

func TestParseBotConfigYAML(t *testing.T) {
	cfg, err := ParseBotConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBotConfig() error: %v", err)
	}

	want := entities.QuotaPolicy{FreeAllotment: 5, FreePeriodDays: 7, PremiumAllotment: 50, PremiumPeriodHours: 12, PremiumExtensionDays: 31}
	if cfg.Quota != want {
		t.Fatalf("quota = %+v, want %+v", cfg.Quota, want)
	}
	if cfg.DefaultPersona != "oracle" {
		t.Fatalf("default persona = %q, want lowercased key", cfg.DefaultPersona)
	}
	p, ok := cfg.Persona("ORACLE")
	if !ok || p.Name != "oracle" {
		t.Fatalf("Persona(ORACLE) = %+v, %v", p, ok)
	}
	if ghost, _ := cfg.Persona("ghost"); !ghost.Hidden {
		t.Fatal("ghost should be hidden")
	}
	if cfg.Premium.Currency != "USD" {
		t.Fatalf("currency = %q, want USD", cfg.Premium.Currency)
	}
	if cfg.Messages.Start != "hello" {
		t.Fatalf("start message = %q", cfg.Messages.Start)
	}
	// Untouched messages keep their defaults
	if cfg.Messages.Apology == "" {
		t.Fatal("expected default apology text")
	}
}

func TestParseBotConfigJSON(t *testing.T) {
	data := `{
  "defaultPersona": "oracle",
  "characters": {"oracle": {"name": "Oracle", "prompt": "You are an oracle."}}
}`
	cfg, err := ParseBotConfig([]byte(data))
	if err != nil {
		t.Fatalf("ParseBotConfig() error: %v", err)
	}
	if cfg.Quota != entities.DefaultQuotaPolicy() {
		t.Fatalf("quota = %+v, want defaults", cfg.Quota)
	}
}

func TestBotConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{
			name:  "zero free allotment",
			data:  "quota: {freeAllotment: 0}\ncharacters: {oracle: {prompt: p}}",
			field: "quota.freeAllotment",
		},
		{
			name:  "negative premium period",
			data:  "quota: {premiumPeriodHours: -1}\ncharacters: {oracle: {prompt: p}}",
			field: "quota.premiumPeriodHours",
		},
		{
			name:  "no characters",
			data:  "defaultPersona: oracle",
			field: "characters",
		},
		{
			name:  "missing default persona",
			data:  "defaultPersona: sage\ncharacters: {oracle: {prompt: p}}",
			field: "defaultPersona",
		},
		{
			name:  "hidden default persona",
			data:  "characters: {oracle: {prompt: p, hidden: true}}",
			field: "defaultPersona",
		},
		{
			name:  "persona without prompt",
			data:  "characters: {oracle: {name: Oracle}}",
			field: "characters.oracle",
		},
		{
			name:  "free premium",
			data:  "premium: {price: 0}\ncharacters: {oracle: {prompt: p}}",
			field: "premium",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBotConfig([]byte(tc.data))
			var verr entities.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestLoadBotConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBotConfig(path); err != nil {
		t.Fatalf("LoadBotConfig() error: %v", err)
	}
	if _, err := LoadBotConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSampleConfigIsValid(t *testing.T) {
	if _, err := LoadBotConfig(filepath.Join("..", "..", "config.yaml")); err != nil {
		t.Fatalf("shipped config.yaml is invalid: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("WHATSAPP_ENABLED", "true")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	if cfg.StorageDriver != DriverMemory {
		t.Fatalf("driver = %q", cfg.StorageDriver)
	}
	if !cfg.WhatsAppEnabled {
		t.Fatal("expected whatsapp enabled")
	}
	if cfg.GenerationTimeout != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.GenerationTimeout)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr = %q, want default", cfg.HTTPAddr)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "mongo"}},
		{name: "postgres without url", env: map[string]string{"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{name: "bad bool", env: map[string]string{"STORAGE_DRIVER": "memory", "WHATSAPP_ENABLED": "maybe"}},
		{name: "bad timeout", env: map[string]string{"STORAGE_DRIVER": "memory", "GENERATION_TIMEOUT": "soon"}},
		{name: "zero timeout", env: map[string]string{"STORAGE_DRIVER": "memory", "GENERATION_TIMEOUT": "0s"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
