package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Store    StoreConfig
	Server   ServerConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Ingest   IngestConfig
}

// StoreConfig holds artifact store and job index configuration
type StoreConfig struct {
	DataRoot string
	IndexDSN string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
}

// LLMConfig holds reasoning-service configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// PipelineConfig holds orchestrator and extraction tuning knobs
type PipelineConfig struct {
	WindowSize            int
	Stride                int
	TriageTopK            int
	StageAttempts         int
	StageBackoffBase      time.Duration
	ReextractBudget       int
	ReextractMinRelevance float64
	NumericTolerance      float64
	AmbiguityThreshold    float64
	ConflictConfidenceCap float64
}

// IngestConfig holds inbox watcher configuration
type IngestConfig struct {
	InboxRoots  []string
	InitialScan bool
	Debounce    time.Duration
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DataRoot: getEnv("DATA_ROOT", "./data"),
			IndexDSN: getEnv("JOB_INDEX_PATH", "./data/jobs.db"),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
			Model:       getEnv("LLM_MODEL", "llama3.1:latest"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 2),
			BackoffBase: getEnvAsDuration("LLM_RETRY_BACKOFF", 500*time.Millisecond),
			BackoffCap:  getEnvAsDuration("LLM_RETRY_BACKOFF_CAP", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			WindowSize:            getEnvAsInt("PIPELINE_WINDOW_SIZE", 2),
			Stride:                getEnvAsInt("PIPELINE_STRIDE", 1),
			TriageTopK:            getEnvAsInt("PIPELINE_TRIAGE_TOP_K", 6),
			StageAttempts:         getEnvAsInt("PIPELINE_STAGE_ATTEMPTS", 2),
			StageBackoffBase:      getEnvAsDuration("PIPELINE_STAGE_BACKOFF", 1*time.Second),
			ReextractBudget:       getEnvAsInt("PIPELINE_REEXTRACT_BUDGET", 1),
			ReextractMinRelevance: getEnvAsFloat64("PIPELINE_REEXTRACT_MIN_RELEVANCE", 0.75),
			NumericTolerance:      getEnvAsFloat64("PIPELINE_NUMERIC_TOLERANCE", 0.01),
			AmbiguityThreshold:    getEnvAsFloat64("PIPELINE_AMBIGUITY_THRESHOLD", 0.5),
			ConflictConfidenceCap: getEnvAsFloat64("PIPELINE_CONFLICT_CONFIDENCE_CAP", 0.3),
		},
		Ingest: IngestConfig{
			InboxRoots:  splitNonEmpty(getEnv("INBOX_ROOTS", "")),
			InitialScan: getEnv("INBOX_INITIAL_SCAN", "true") == "true",
			Debounce:    getEnvAsDuration("INBOX_DEBOUNCE", 500*time.Millisecond),
			Workers:     getEnvAsInt("INGEST_WORKERS", 4),
			QueueSize:   getEnvAsInt("INGEST_QUEUE_SIZE", 256),
			JobTimeout:  getEnvAsDuration("INGEST_JOB_TIMEOUT", 10*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Store.DataRoot == "" {
		return NewAppError("CONFIG_ERROR", "DATA_ROOT is required", ErrInvalidInput)
	}
	if c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "LLM_BASE_URL is required", ErrInvalidInput)
	}
	if c.Pipeline.WindowSize < 1 || c.Pipeline.Stride < 1 {
		return NewAppError("CONFIG_ERROR", "window size and stride must be >= 1", ErrInvalidInput)
	}
	return nil
}
