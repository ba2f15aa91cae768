// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ShutdownTimeout    time.Duration

	// Database settings
	DatabaseDriver string
	DatabaseDSN    string

	// Conversation locking. Empty RedisURL keeps locks in-process.
	RedisURL string
	LockTTL  time.Duration

	// NATS settings. Empty NATSURL disables the audit stream.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider       string
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMTopP           float64
	GenerationTimeout time.Duration

	// Embedding settings
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingTimeout time.Duration

	// Knowledge index
	QdrantURL     string
	QdrantAPIKey  string
	SearchTimeout time.Duration
	KnowledgeDir  string
	MaxUploadSize int64

	// Retrieval defaults, overridable per tenant
	ChunkSize    int
	ChunkOverlap int
	SearchLimit  int

	// Gateway
	GatewayTimeout time.Duration

	// Conversation engine
	TenantConfigDir string
	ReGreetAfter    time.Duration
	EventMaxAge     time.Duration
	PresenceDelay   time.Duration

	// Admin API
	CORSOrigins []string

	// Rate limiting
	RateLimitRequests        int
	RateLimitWindow          time.Duration
	WebhookRateLimitRequests int

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 150*time.Second),

		// Database
		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=agent port=5432 sslmode=disable"),

		// Locks
		RedisURL: getEnv("REDIS_URL", ""),
		LockTTL:  getDurationEnv("LOCK_TTL", 3*time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", "ollama"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "http://localhost:11434/v1"),
		LLMModel:          getEnv("LLM_MODEL", "llama3"),
		LLMMaxTokens:      getIntEnv("LLM_MAX_TOKENS", 800),
		LLMTemperature:    getFloatEnv("LLM_TEMPERATURE", 0.6),
		LLMTopP:           getFloatEnv("LLM_TOP_P", 0.9),
		GenerationTimeout: getDurationEnv("GENERATION_TIMEOUT", 120*time.Second),

		// Embeddings
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "ollama")),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", getEnv("OPENAI_BASE_URL", "http://localhost:11434/v1")),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingTimeout: getDurationEnv("EMBEDDING_TIMEOUT", 30*time.Second),

		// Knowledge
		QdrantURL:     getEnv("QDRANT_URL", ""),
		QdrantAPIKey:  getEnv("QDRANT_API_KEY", ""),
		SearchTimeout: getDurationEnv("SEARCH_TIMEOUT", 10*time.Second),
		KnowledgeDir:  getEnv("KNOWLEDGE_DIR", "./data/knowledge"),
		MaxUploadSize: int64(getIntEnv("MAX_UPLOAD_SIZE_MB", 20)) << 20,

		ChunkSize:    getIntEnv("RAG_CHUNK_SIZE", 1500),
		ChunkOverlap: getIntEnv("RAG_CHUNK_OVERLAP", 200),
		SearchLimit:  getIntEnv("RAG_SEARCH_LIMIT", 5),

		// Gateway
		GatewayTimeout: getDurationEnv("GATEWAY_TIMEOUT", 30*time.Second),

		// Engine
		TenantConfigDir: getEnv("TENANT_CONFIG_DIR", "./config/tenants"),
		ReGreetAfter:    getDurationEnv("REGREET_AFTER", 10*time.Minute),
		EventMaxAge:     getDurationEnv("EVENT_MAX_AGE", 24*time.Hour),
		PresenceDelay:   getDurationEnv("PRESENCE_DELAY", 1200*time.Millisecond),

		CORSOrigins: getListEnv("CORS_ORIGINS"),

		// Rate limiting
		RateLimitRequests:        getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:          getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WebhookRateLimitRequests: getIntEnv("WEBHOOK_RATE_LIMIT_REQUESTS", 600),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
