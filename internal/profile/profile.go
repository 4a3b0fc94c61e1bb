package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the coordinator. Values that may change
// while the process runs live in ai/tunables instead.
type Profile struct {
	// Server
	Mode       string
	Addr       string
	Port       int
	Data       string
	Driver     string
	DSN        string
	Version    string
	ConfigFile string
	JWTSecret  string

	// Vector store: "chromem" (in-process) or "pgvector" (requires the postgres driver)
	VectorBackend string

	// Embedding configuration (OpenAI-compatible protocol)
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Local inference backend (OpenAI-compatible protocol, usually ollama or llama.cpp)
	LocalProvider       string
	LocalModel          string
	LocalAPIKey         string
	LocalBaseURL        string
	LocalTimeout        int // seconds
	LocalMaxConcurrency int

	// Remote inference backend: any OpenAI-compatible provider or "anthropic"
	RemoteProvider string
	RemoteModel    string
	RemoteAPIKey   string
	RemoteBaseURL  string
	RemoteTimeout  int // seconds
	RemoteRPS      float64
	RemoteBurst    int

	// Bookkeeping path
	CacheTimeoutMs  int
	VectorTimeoutMs int
	RecordTimeout   int // seconds
	EventQueueSize  int
	GCSchedule      string
	GCPassTimeout   int // seconds
}

// Provider default configurations for OpenAI-compatible backends.
// Used when the base URL or model is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"anthropic": {
		BaseURL: "https://api.anthropic.com",
		Model:   "claude-sonnet-4-5",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
	"llamacpp": {
		BaseURL: "http://localhost:8080/v1",
		Model:   "local",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAuthEnabled returns true if API requests must carry a bearer token.
func (p *Profile) IsAuthEnabled() bool {
	return p.JWTSecret != ""
}

// CacheTimeout is the budget of one semantic cache lookup.
func (p *Profile) CacheTimeout() time.Duration {
	return time.Duration(p.CacheTimeoutMs) * time.Millisecond
}

// VectorTimeout is the budget of one context search against a collection.
func (p *Profile) VectorTimeout() time.Duration {
	return time.Duration(p.VectorTimeoutMs) * time.Millisecond
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads backend and bookkeeping configuration from environment variables.
func (p *Profile) FromEnv() {
	p.JWTSecret = getEnvOrDefault("HQC_JWT_SECRET", p.JWTSecret)
	p.VectorBackend = getEnvOrDefault("HQC_VECTOR_BACKEND", "chromem")

	// Embedding configuration
	p.EmbeddingProvider = getEnvOrDefault("HQC_EMBEDDING_PROVIDER", "ollama")
	p.EmbeddingModel = getEnvOrDefault("HQC_EMBEDDING_MODEL", "nomic-embed-text")
	p.EmbeddingAPIKey = getEnvOrDefault("HQC_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("HQC_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("HQC_EMBEDDING_DIMENSIONS", 768)

	// Local backend
	p.LocalProvider = getEnvOrDefault("HQC_LOCAL_PROVIDER", "ollama")
	p.LocalModel = getEnvOrDefault("HQC_LOCAL_MODEL", "")
	p.LocalAPIKey = getEnvOrDefault("HQC_LOCAL_API_KEY", "")
	p.LocalBaseURL = getEnvOrDefault("HQC_LOCAL_BASE_URL", "")
	p.LocalTimeout = getEnvOrDefaultInt("HQC_LOCAL_TIMEOUT_SECONDS", 30)
	p.LocalMaxConcurrency = getEnvOrDefaultInt("HQC_LOCAL_MAX_CONCURRENCY", 4)

	// Remote backend
	p.RemoteProvider = getEnvOrDefault("HQC_REMOTE_PROVIDER", "openai")
	p.RemoteModel = getEnvOrDefault("HQC_REMOTE_MODEL", "")
	p.RemoteAPIKey = getEnvOrDefault("HQC_REMOTE_API_KEY", "")
	p.RemoteBaseURL = getEnvOrDefault("HQC_REMOTE_BASE_URL", "")
	p.RemoteTimeout = getEnvOrDefaultInt("HQC_REMOTE_TIMEOUT_SECONDS", 30)
	p.RemoteRPS = getEnvOrDefaultFloat("HQC_REMOTE_RPS", 5)
	p.RemoteBurst = getEnvOrDefaultInt("HQC_REMOTE_BURST", 10)

	// Bookkeeping
	p.CacheTimeoutMs = getEnvOrDefaultInt("HQC_CACHE_TIMEOUT_MS", 100)
	p.VectorTimeoutMs = getEnvOrDefaultInt("HQC_VECTOR_TIMEOUT_MS", 2000)
	p.RecordTimeout = getEnvOrDefaultInt("HQC_RECORD_TIMEOUT_SECONDS", 5)
	p.EventQueueSize = getEnvOrDefaultInt("HQC_EVENT_QUEUE_SIZE", 256)
	p.GCSchedule = getEnvOrDefault("HQC_GC_SCHEDULE", "@every 15m")
	p.GCPassTimeout = getEnvOrDefaultInt("HQC_GC_PASS_TIMEOUT_SECONDS", 120)

	p.applyProviderDefaults()
}

func (p *Profile) applyProviderDefaults() {
	if d, ok := llmProviderDefaults[p.LocalProvider]; ok {
		if p.LocalBaseURL == "" {
			p.LocalBaseURL = d.BaseURL
		}
		if p.LocalModel == "" {
			p.LocalModel = d.Model
		}
	}
	if d, ok := llmProviderDefaults[p.RemoteProvider]; ok {
		if p.RemoteBaseURL == "" {
			p.RemoteBaseURL = d.BaseURL
		}
		if p.RemoteModel == "" {
			p.RemoteModel = d.Model
		}
	} else if p.RemoteProvider != "" {
		slog.Info("Using generic OpenAI-compatible remote provider", "provider", p.RemoteProvider)
	}
	if p.EmbeddingBaseURL == "" {
		if d, ok := llmProviderDefaults[p.EmbeddingProvider]; ok {
			p.EmbeddingBaseURL = d.BaseURL
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("coordinator_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres driver requires a dsn")
		}
	case "memory":
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	switch p.VectorBackend {
	case "", "chromem":
		p.VectorBackend = "chromem"
	case "pgvector":
		if p.Driver != "postgres" {
			return errors.New("pgvector vector backend requires the postgres driver")
		}
	default:
		return errors.Errorf("unsupported vector backend %q", p.VectorBackend)
	}

	if p.LocalTimeout <= 0 || p.RemoteTimeout <= 0 {
		return errors.New("backend timeouts must be positive")
	}
	if p.CacheTimeoutMs <= 0 || p.VectorTimeoutMs <= 0 {
		return errors.New("cache and vector timeouts must be positive")
	}
	if p.EventQueueSize <= 0 {
		return errors.New("event queue size must be positive")
	}
	if p.LocalMaxConcurrency <= 0 {
		p.LocalMaxConcurrency = 1
	}
	return nil
}
