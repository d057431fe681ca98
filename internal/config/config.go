package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the chat room service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool
	MetricsNamespace string

	// LLM settings.
	AnthropicAPIKey string
	Model           string
	MaxTokens       int64
	Temperature     float64
	CacheEnabled    bool

	// Storage.
	DataDir      string
	SQLiteDBName string
	VectorDir    string

	// Embedder: "mock" for offline development, "onnx" for local semantic
	// embeddings (requires the onnx build tag and model files).
	Embedder          string
	OnnxModelPath     string
	OnnxTokenizerPath string
	OnnxLibraryPath   string
	EmbeddingDim      int

	// Memory retrieval.
	TopK             int
	CandidateLimit   int
	RecencyDecay     float64
	WeightRecency    float64
	WeightRelevance  float64
	WeightImportance float64

	// Reflection.
	ReflectionThreshold   int
	ReflectionFocalPoints int
	ReflectionPerFocal    int
	ReflectionSampleSize  int

	// Importance policy: "fixed" scores at write time only, "updated" also
	// decays stored importance on a schedule.
	ImportancePolicy string
	ImportanceDecay  float64
	ImportanceFloor  float64
	DecaySchedule    string

	// Short-term context carried verbatim into the prompt.
	ShortTermLimit int

	// TypingDelay makes responses arrive after a human-plausible pause
	// scaled by response length.
	TypingDelay bool
}

// Load reads .env (if present) and environment variables, applying defaults.
func Load() (Config, error) {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "chatroom"),
		AnthropicAPIKey:       strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		Model:                 envOrDefault("LLM_MODEL", "claude-sonnet-4-20250514"),
		DataDir:               envOrDefault("DATA_DIR", "data"),
		SQLiteDBName:          envOrDefault("SQLITE_DB_NAME", "chat_history.db"),
		VectorDir:             envOrDefault("MEMORY_INDEX_PATH", "data/memory_index"),
		Embedder:              envOrDefault("EMBEDDER", "mock"),
		OnnxModelPath:         envOrDefault("ONNX_MODEL_PATH", ".models/all-MiniLM-L6-v2/model.onnx"),
		OnnxTokenizerPath:     envOrDefault("ONNX_TOKENIZER_PATH", ".models/all-MiniLM-L6-v2/tokenizer.json"),
		OnnxLibraryPath:       strings.TrimSpace(os.Getenv("ONNX_LIBRARY_PATH")),
		ImportancePolicy:      envOrDefault("MEMORY_IMPORTANCE_POLICY", "fixed"),
		DecaySchedule:         envOrDefault("MEMORY_DECAY_SCHEDULE", "@hourly"),
		MaxTokens:             1024,
		Temperature:           0.4,
		CacheEnabled:          true,
		EmbeddingDim:          384,
		TopK:                  10,
		CandidateLimit:        50,
		RecencyDecay:          0.995,
		WeightRecency:         1.0,
		WeightRelevance:       1.0,
		WeightImportance:      1.0,
		ReflectionThreshold:   50,
		ReflectionFocalPoints: 3,
		ReflectionPerFocal:    5,
		ReflectionSampleSize:  100,
		ImportanceDecay:       0.98,
		ImportanceFloor:       0.05,
		ShortTermLimit:        10,
		ShutdownTimeout:       15 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.CacheEnabled, err = boolFromEnv("LLM_CACHE_ENABLED", cfg.CacheEnabled); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokens, err = int64FromEnv("LLM_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.Temperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.Temperature); err != nil {
		return Config{}, err
	}
	if cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim); err != nil {
		return Config{}, err
	}
	if cfg.TopK, err = intFromEnv("MEMORY_TOP_K", cfg.TopK); err != nil {
		return Config{}, err
	}
	if cfg.CandidateLimit, err = intFromEnv("MEMORY_CANDIDATE_LIMIT", cfg.CandidateLimit); err != nil {
		return Config{}, err
	}
	if cfg.RecencyDecay, err = floatFromEnv("MEMORY_RECENCY_DECAY", cfg.RecencyDecay); err != nil {
		return Config{}, err
	}
	if cfg.WeightRecency, err = floatFromEnv("MEMORY_WEIGHT_RECENCY", cfg.WeightRecency); err != nil {
		return Config{}, err
	}
	if cfg.WeightRelevance, err = floatFromEnv("MEMORY_WEIGHT_RELEVANCE", cfg.WeightRelevance); err != nil {
		return Config{}, err
	}
	if cfg.WeightImportance, err = floatFromEnv("MEMORY_WEIGHT_IMPORTANCE", cfg.WeightImportance); err != nil {
		return Config{}, err
	}
	if cfg.ReflectionThreshold, err = intFromEnv("REFLECTION_THRESHOLD", cfg.ReflectionThreshold); err != nil {
		return Config{}, err
	}
	if cfg.ReflectionFocalPoints, err = intFromEnv("REFLECTION_FOCAL_POINTS", cfg.ReflectionFocalPoints); err != nil {
		return Config{}, err
	}
	if cfg.ReflectionPerFocal, err = intFromEnv("REFLECTION_PER_FOCAL", cfg.ReflectionPerFocal); err != nil {
		return Config{}, err
	}
	if cfg.ReflectionSampleSize, err = intFromEnv("REFLECTION_SAMPLE_SIZE", cfg.ReflectionSampleSize); err != nil {
		return Config{}, err
	}
	if cfg.ImportanceDecay, err = floatFromEnv("MEMORY_IMPORTANCE_DECAY", cfg.ImportanceDecay); err != nil {
		return Config{}, err
	}
	if cfg.ImportanceFloor, err = floatFromEnv("MEMORY_IMPORTANCE_FLOOR", cfg.ImportanceFloor); err != nil {
		return Config{}, err
	}
	if cfg.ShortTermLimit, err = intFromEnv("SHORT_TERM_LIMIT", cfg.ShortTermLimit); err != nil {
		return Config{}, err
	}
	if cfg.TypingDelay, err = boolFromEnv("TYPING_DELAY_ENABLED", cfg.TypingDelay); err != nil {
		return Config{}, err
	}

	switch cfg.ImportancePolicy {
	case "fixed", "updated":
	default:
		return Config{}, fmt.Errorf("MEMORY_IMPORTANCE_POLICY must be %q or %q, got %q", "fixed", "updated", cfg.ImportancePolicy)
	}
	switch cfg.Embedder {
	case "mock", "onnx":
	default:
		return Config{}, fmt.Errorf("EMBEDDER must be %q or %q, got %q", "mock", "onnx", cfg.Embedder)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
