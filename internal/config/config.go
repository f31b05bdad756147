package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Ai       AIConfig
	Memory   MemoryConfig
}

type AppConfig struct {
	Port          string
	Environment   string
	LogFilePath   string
	NatsURL       string
	RedisURL      string
	CacheBackend  string // "redis" or "memory"
	EventsBackend string // "nats" or "gochannel"

	CorsAllowedOrigins string
}

type DatabaseConfig struct {
	Connection string
}

type AIConfig struct {
	EmbeddingProvider   string // "hash" or "ollama"
	EmbeddingDimensions int
	OllamaBaseURL       string
	OllamaModel         string
}

// MemoryConfig carries every tunable of the memory core. It is passed by value to
// each component at construction.
type MemoryConfig struct {
	ContextTTL        time.Duration
	MaxRecentSessions int
	CacheNamespace    string

	MinKnowledgeConfidence     float64
	DefaultSimilarityThreshold float64
	DefaultMaxResults          int
	ShareConfidenceDecay       float64
	DefaultMetric              string

	SummaryMaxEntities         int
	SummaryMaxDecisions        int
	SummaryConfidenceDecrement float64
	SummaryConfidenceFloor     float64

	TopUsedCount int
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ContextTTL:                 24 * time.Hour,
		MaxRecentSessions:          50,
		CacheNamespace:             "agentmem",
		MinKnowledgeConfidence:     0.3,
		DefaultSimilarityThreshold: 0.7,
		DefaultMaxResults:          10,
		ShareConfidenceDecay:       0.9,
		DefaultMetric:              "cosine",
		SummaryMaxEntities:         10,
		SummaryMaxDecisions:        5,
		SummaryConfidenceDecrement: 0.1,
		SummaryConfidenceFloor:     0.1,
		TopUsedCount:               5,
	}
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	def := DefaultMemoryConfig()

	return &Config{
		App: AppConfig{
			Port:          getEnv("APP_PORT", "3000"),
			Environment:   getEnv("GO_ENV", "development"),
			LogFilePath:   getEnv("LOG_FILE_PATH", "logs/agent-memory.log"),
			NatsURL:       getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			CacheBackend:  getEnv("CONTEXT_CACHE_BACKEND", "redis"),
			EventsBackend: getEnv("EVENTS_BACKEND", "gochannel"),

			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "hash"),
			EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 768),
			OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:         getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Memory: MemoryConfig{
			ContextTTL:                 getEnvAsDuration("MEMORY_CONTEXT_TTL", def.ContextTTL),
			MaxRecentSessions:          getEnvAsInt("MEMORY_MAX_RECENT_SESSIONS", def.MaxRecentSessions),
			CacheNamespace:             getEnv("MEMORY_CACHE_NAMESPACE", def.CacheNamespace),
			MinKnowledgeConfidence:     getEnvAsFloat("MEMORY_MIN_KNOWLEDGE_CONFIDENCE", def.MinKnowledgeConfidence),
			DefaultSimilarityThreshold: getEnvAsFloat("MEMORY_SIMILARITY_THRESHOLD", def.DefaultSimilarityThreshold),
			DefaultMaxResults:          getEnvAsInt("MEMORY_MAX_RESULTS", def.DefaultMaxResults),
			ShareConfidenceDecay:       getEnvAsFloat("MEMORY_SHARE_CONFIDENCE_DECAY", def.ShareConfidenceDecay),
			DefaultMetric:              getEnv("MEMORY_SIMILARITY_METRIC", def.DefaultMetric),
			SummaryMaxEntities:         getEnvAsInt("MEMORY_SUMMARY_MAX_ENTITIES", def.SummaryMaxEntities),
			SummaryMaxDecisions:        getEnvAsInt("MEMORY_SUMMARY_MAX_DECISIONS", def.SummaryMaxDecisions),
			SummaryConfidenceDecrement: getEnvAsFloat("MEMORY_SUMMARY_CONFIDENCE_DECREMENT", def.SummaryConfidenceDecrement),
			SummaryConfidenceFloor:     getEnvAsFloat("MEMORY_SUMMARY_CONFIDENCE_FLOOR", def.SummaryConfidenceFloor),
			TopUsedCount:               getEnvAsInt("MEMORY_TOP_USED_COUNT", def.TopUsedCount),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
