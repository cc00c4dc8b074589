package config

import (
	"errors"
	"testing"

	"github.com/markdave123-py/Ingesta/internal/core"
)

func validConfig() *Config {
	return &Config{
		KafkaBrokers:   []string{"localhost:9092"},
		DatabaseURL:    "postgres://localhost/ingesta",
		AIAPIKey:       "test-key",
		EmbedDim:       768,
		EmbedBatchSize: 16,
		MaxChunkSize:   4000,
		ChunkOverlap:   200,
		MaxAttempts:    3,
		Concurrency:    4,
		EventTimeout:   300,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing api key", func(c *Config) { c.AIAPIKey = "" }, "GEMINI_API_KEY"},
		{"no brokers", func(c *Config) { c.KafkaBrokers = nil }, "KAFKA_BROKERS"},
		{"zero dim", func(c *Config) { c.EmbedDim = 0 }, "EMBED_DIM"},
		{"overlap equals chunk size", func(c *Config) { c.ChunkOverlap = c.MaxChunkSize }, "CHUNK_OVERLAP"},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, "CHUNK_OVERLAP"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "MAX_ATTEMPTS"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "CONCURRENCY"},
		{"zero timeout", func(c *Config) { c.EventTimeout = 0 }, "EVENT_TIMEOUT_SECONDS"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			var cfgErr *core.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %T", err)
			}
			if cfgErr.Key != tc.key {
				t.Errorf("expected key %s, got %s", tc.key, cfgErr.Key)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ingesta")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KafkaTopic != "pdf-uploads" {
		t.Errorf("default topic: got %s", cfg.KafkaTopic)
	}
	if cfg.KafkaGroupID != "pdf-processor" {
		t.Errorf("default group: got %s", cfg.KafkaGroupID)
	}
	if cfg.EmbedDim != 768 {
		t.Errorf("default dim: got %d", cfg.EmbedDim)
	}
	if cfg.MaxChunkSize != 4000 || cfg.ChunkOverlap != 200 {
		t.Errorf("default chunking: got %d/%d", cfg.MaxChunkSize, cfg.ChunkOverlap)
	}
}
