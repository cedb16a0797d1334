// Package config loads classifier configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Thresholds holds the confidence cutoffs from spec §6.
type Thresholds struct {
	NCMConfirm  float64
	CESTConfirm float64
	GoldenMatch float64
	EmbedGroup  float64
}

// RetrievalWeights fuses retrieval mode scores; must sum to 1.
type RetrievalWeights struct {
	Dense  float64
	Sparse float64
	Rule   float64
	Golden float64
}

// Timeouts bound every suspension point in the pipeline.
type Timeouts struct {
	PerItemMs          int
	PerNodeMs          int
	PerRetrievalModeMs int
	PerLLMCallMs       int
}

// Models selects a provider+model id per agent role.
type Models struct {
	Enrichment string
	NCM        string
	CEST       string
	Reconciliation string
	Default    string
}

// Config holds classifier service configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisAddr   string
	KBBundleDir string

	LLMLocalURL    string
	LLMRemoteModel string

	Concurrency int

	Thresholds       Thresholds
	RetrievalWeights RetrievalWeights
	Timeouts         Timeouts
	Models           Models

	PromptsVersion            string
	GoldenSetSharedAcrossTenants bool
	AggregationMethodsEnabled []string
}

// Load reads configuration from the environment, matching defaults sane
// for local development against a local Postgres and local model server.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://classifier@localhost:5432/classifier?sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		KBBundleDir: getEnv("KB_BUNDLE_DIR", "./kb-bundles"),

		LLMLocalURL:    getEnv("LLM_LOCAL_URL", "http://localhost:1234"),
		LLMRemoteModel: getEnv("LLM_REMOTE_MODEL", "claude-sonnet-4-5"),

		Concurrency: getEnvInt("CONCURRENCY", 6),

		Thresholds: Thresholds{
			NCMConfirm:  getEnvFloat("THRESHOLD_NCM_CONFIRM", 0.7),
			CESTConfirm: getEnvFloat("THRESHOLD_CEST_CONFIRM", 0.7),
			GoldenMatch: getEnvFloat("THRESHOLD_GOLDEN_MATCH", 0.92),
			EmbedGroup:  getEnvFloat("THRESHOLD_EMBED_GROUP", 0.93),
		},
		RetrievalWeights: RetrievalWeights{
			Dense:  getEnvFloat("WEIGHT_DENSE", 0.35),
			Sparse: getEnvFloat("WEIGHT_SPARSE", 0.25),
			Rule:   getEnvFloat("WEIGHT_RULE", 0.25),
			Golden: getEnvFloat("WEIGHT_GOLDEN", 0.15),
		},
		Timeouts: Timeouts{
			PerItemMs:          getEnvInt("TIMEOUT_PER_ITEM_MS", 120_000),
			PerNodeMs:          getEnvInt("TIMEOUT_PER_NODE_MS", 30_000),
			PerRetrievalModeMs: getEnvInt("TIMEOUT_PER_RETRIEVAL_MODE_MS", 5_000),
			PerLLMCallMs:       getEnvInt("TIMEOUT_PER_LLM_CALL_MS", 20_000),
		},
		Models: Models{
			Enrichment:     getEnv("MODEL_ENRICHMENT", "local/fast"),
			NCM:            getEnv("MODEL_NCM", "remote/accurate"),
			CEST:           getEnv("MODEL_CEST", "remote/accurate"),
			Reconciliation: getEnv("MODEL_RECONCILIATION", "local/fast"),
			Default:        getEnv("MODEL_DEFAULT", "local/fast"),
		},

		PromptsVersion:               getEnv("PROMPTS_VERSION", "v1"),
		GoldenSetSharedAcrossTenants: getEnv("GOLDEN_SET_SHARED_ACROSS_TENANTS", "true") == "true",
		AggregationMethodsEnabled:    splitCSV(getEnv("AGGREGATION_METHODS_ENABLED", "exact,normalised,embedding,code")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
