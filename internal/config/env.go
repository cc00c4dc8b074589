package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/Ingesta/internal/core"
)

type Config struct {
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	DeadLetterTopic string
	StatusTopic     string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	DatabaseURL string

	AIAPIKey       string
	EmbedModel     string
	EmbedDim       int
	EmbedBatchSize int

	MaxChunkSize int
	ChunkOverlap int

	MaxAttempts  int
	Concurrency  int
	EventTimeout int // seconds

	Port string
}

// LoadConfig loads the environment variables and returns the config. A
// missing or inconsistent value surfaces as a ConfigurationError so main can
// abort before the consumer starts.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "pdf-uploads"),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "pdf-processor"),
		DeadLetterTopic: getEnv("DEAD_LETTER_TOPIC", "pdf-dead-letter"),
		StatusTopic:     getEnv("STATUS_TOPIC", "pdf-processing-status"),
		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-1"),
		BucketName:      getEnv("BUCKET_NAME", "ingesta-docs"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		AIAPIKey:        getEnv("GEMINI_API_KEY", ""),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:        getEnvInt("EMBED_DIM", 768),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 16),
		MaxChunkSize:    getEnvInt("MAX_CHUNK_SIZE", 4000),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 200),
		MaxAttempts:     getEnvInt("MAX_ATTEMPTS", 3),
		Concurrency:     getEnvInt("CONCURRENCY", 4),
		EventTimeout:    getEnvInt("EVENT_TIMEOUT_SECONDS", 300),
		Port:            getEnv("PORT", "8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return &core.ConfigurationError{Key: "DATABASE_URL", Reason: "not set"}
	}
	if c.AIAPIKey == "" {
		return &core.ConfigurationError{Key: "GEMINI_API_KEY", Reason: "not set"}
	}
	if len(c.KafkaBrokers) == 0 || c.KafkaBrokers[0] == "" {
		return &core.ConfigurationError{Key: "KAFKA_BROKERS", Reason: "not set"}
	}
	if c.EmbedDim <= 0 {
		return &core.ConfigurationError{Key: "EMBED_DIM", Reason: "must be positive"}
	}
	if c.EmbedBatchSize <= 0 {
		return &core.ConfigurationError{Key: "EMBED_BATCH_SIZE", Reason: "must be positive"}
	}
	if c.MaxChunkSize <= 0 {
		return &core.ConfigurationError{Key: "MAX_CHUNK_SIZE", Reason: "must be positive"}
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkSize {
		return &core.ConfigurationError{Key: "CHUNK_OVERLAP", Reason: "must be >= 0 and < MAX_CHUNK_SIZE"}
	}
	if c.MaxAttempts < 1 {
		return &core.ConfigurationError{Key: "MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	if c.Concurrency < 1 {
		return &core.ConfigurationError{Key: "CONCURRENCY", Reason: "must be at least 1"}
	}
	if c.EventTimeout <= 0 {
		return &core.ConfigurationError{Key: "EVENT_TIMEOUT_SECONDS", Reason: "must be positive"}
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
