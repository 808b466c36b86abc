// Package config loads the RAG engine's configuration from environment
// variables. Load fails fast on missing required variables; everything else
// falls back to a documented default so misconfiguration surfaces at
// startup, never on first use.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all engine configuration. Immutable after Load returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisURL string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	GCPProject          string
	VertexAILocation    string
	VertexAIModel       string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Retrieval tuning knobs.
	SemanticThreshold float64
	TopK              int
	SemanticWeight    float64
	KeywordWeight     float64
	MaxTokens         int
	DiversityWeight   float64
	RecencyWeight     float64
	ImportanceWeight  float64

	// Chunking.
	ChunkMaxSize int
	ChunkOverlap int

	// Trace buffer / persistence.
	RagTraceEnabled       bool
	RagTracePersistence   bool
	RagTraceBatchSize     int
	RagTraceFlushInterval int // milliseconds
	RagTraceBufferSize    int
	RagTraceRetentionDays int

	EmbeddingCacheTTLSeconds int
	QueryCacheTTLSeconds     int
}

// Load reads configuration from environment variables. DATABASE_URL and
// GOOGLE_CLOUD_PROJECT are required; everything else has a default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisURL:         envStr("REDIS_URL", ""),
		Neo4jURI:         envStr("NEO4J_URI", ""),
		Neo4jUser:        envStr("NEO4J_USER", ""),
		Neo4jPassword:    envStr("NEO4J_PASSWORD", ""),

		GCPProject:          gcpProject,
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:       envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", "us-east4"),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		SemanticThreshold: envFloat("SEMANTIC_THRESHOLD", 0.25),
		TopK:              envInt("TOP_K", 20),
		SemanticWeight:    envFloat("SEMANTIC_WEIGHT", 0.7),
		KeywordWeight:     envFloat("KEYWORD_WEIGHT", 0.3),
		MaxTokens:         envInt("MAX_TOKENS", 4000),
		DiversityWeight:   envFloat("DIVERSITY_WEIGHT", 0.2),
		RecencyWeight:     envFloat("RECENCY_WEIGHT", 0.1),
		ImportanceWeight:  envFloat("IMPORTANCE_WEIGHT", 0.1),

		ChunkMaxSize: envInt("CHUNK_MAX_SIZE", 1000),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 100),

		RagTraceEnabled:       envBool("RAG_TRACE_ENABLED", true),
		RagTracePersistence:   envBool("RAG_TRACE_PERSISTENCE", true),
		RagTraceBatchSize:     envInt("RAG_TRACE_BATCH_SIZE", 20),
		RagTraceFlushInterval: envInt("RAG_TRACE_FLUSH_INTERVAL_MS", 5000),
		RagTraceBufferSize:    envInt("RAG_TRACE_BUFFER_SIZE", 200),
		RagTraceRetentionDays: envInt("RAG_TRACE_RETENTION_DAYS", 30),

		EmbeddingCacheTTLSeconds: envInt("EMBEDDING_CACHE_TTL", 900),
		QueryCacheTTLSeconds:     envInt("QUERY_CACHE_TTL", 120),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
