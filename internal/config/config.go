// Package config loads typed, immutable settings from the environment.
// There is no YAML layer here: the ingestion/response pipeline is a
// container-deployed service configured the way its messaging, blob,
// and LLM collaborators already are, by environment variable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the fully resolved, immutable configuration for the
// pipeline. It is loaded once at startup; nothing here changes at
// runtime.
type Settings struct {
	// Database backend: "postgres" is the only one this rewrite ships;
	// any other value, including the legacy source's "oracle", is
	// rejected with ErrConfig, since no Oracle driver lives in this
	// dependency set.
	DBBackend    string
	DatabaseURL  string

	VectorURL        string
	VectorCollection string
	VectorDimensions int
	VectorMetric     string

	// LLM model names, one per task (spec §6 "LLM model names per task").
	LLMAPIKey        string
	ModelImage       string
	ModelGate        string
	ModelExtract     string
	ModelCase        string
	ModelRespond     string
	ModelBlocks      string
	EmbeddingModel   string

	// Object storage for attachments (R2/S3-compatible). Empty Bucket
	// means "fall back to local filesystem" per spec §6.
	R2Bucket          string
	R2Endpoint        string
	R2AccessKeyID     string
	R2SecretAccessKey string

	BotStorageDir    string
	IngestStorageDir string

	BotMentionStrings []string

	LogLevel             string
	ContextLastN         int
	RetrieveTopK          int
	WorkerPollInterval    time.Duration
	HistoryTokenTTL       time.Duration
	ChunkCharCap          int
	ChunkOverlapMessages  int
	DedupCosineThreshold  float64
	HistoryMaxWorkers     int

	LLMCallTimeout    time.Duration
	DBCallTimeout     time.Duration
	VectorCallTimeout time.Duration
	JobTotalDeadline  time.Duration
	StalenessDeadline time.Duration

	HTTPAddr string

	OTelEndpoint    string
	OTelServiceName string
	OTelEnabled     bool
}

// ErrConfig wraps any fatal configuration problem discovered at startup.
type ErrConfig struct{ msg string }

func (e *ErrConfig) Error() string { return "config: " + e.msg }

func configErrorf(format string, args ...any) error {
	return &ErrConfig{msg: fmt.Sprintf(format, args...)}
}

func env(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envRequired(name string) (string, error) {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return "", configErrorf("missing required environment variable: %s", name)
	}
	return v, nil
}

func envInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, configErrorf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func envFloat(name string, def float64) (float64, error) {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, configErrorf("%s must be a number, got %q", name, raw)
	}
	return v, nil
}

func envDurationSeconds(name string, defSeconds float64) (time.Duration, error) {
	v, err := envFloat(name, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

func envBool(name string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// Load reads Settings from the process environment. Any missing
// required value or malformed numeric/duration value is a fatal
// config error (spec §7).
func Load() (*Settings, error) {
	// .env is a developer convenience; its absence in a real deployment
	// is not an error since the values may already be in the environment.
	_ = godotenv.Load()

	dbBackend := strings.ToLower(env("DB_BACKEND", "postgres"))
	if dbBackend != "postgres" {
		return nil, configErrorf("unsupported DB_BACKEND %q: only postgres is wired in this build", dbBackend)
	}
	dsn, err := envRequired("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	llmKey, err := envRequired("LLM_API_KEY")
	if err != nil {
		return nil, err
	}

	contextLastN, err := envInt("CONTEXT_LAST_N", 40)
	if err != nil {
		return nil, err
	}
	if contextLastN < 1 {
		return nil, configErrorf("CONTEXT_LAST_N must be >= 1, got %d", contextLastN)
	}
	retrieveTopK, err := envInt("RETRIEVE_TOP_K", 5)
	if err != nil {
		return nil, err
	}
	if retrieveTopK < 1 {
		return nil, configErrorf("RETRIEVE_TOP_K must be >= 1, got %d", retrieveTopK)
	}
	pollInterval, err := envDurationSeconds("WORKER_POLL_SECONDS", 1)
	if err != nil {
		return nil, err
	}
	historyTTLMinutes, err := envInt("HISTORY_TOKEN_TTL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	if historyTTLMinutes < 1 {
		return nil, configErrorf("HISTORY_TOKEN_TTL_MINUTES must be >= 1, got %d", historyTTLMinutes)
	}
	chunkCap, err := envInt("CHUNK_CHAR_CAP", 12000)
	if err != nil {
		return nil, err
	}
	chunkOverlap, err := envInt("CHUNK_OVERLAP_MESSAGES", 3)
	if err != nil {
		return nil, err
	}
	dedupThreshold, err := envFloat("HISTORY_DEDUP_COSINE_THRESHOLD", 0.15)
	if err != nil {
		return nil, err
	}
	historyWorkers, err := envInt("HISTORY_MAX_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	vectorDims, err := envInt("VECTOR_DIMENSIONS", 768)
	if err != nil {
		return nil, err
	}
	llmTimeout, err := envDurationSeconds("LLM_CALL_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	dbTimeout, err := envDurationSeconds("DB_CALL_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	vectorTimeout, err := envDurationSeconds("VECTOR_CALL_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	jobDeadline, err := envDurationSeconds("JOB_TOTAL_DEADLINE_SECONDS", 600)
	if err != nil {
		return nil, err
	}
	stalenessDeadline, err := envDurationSeconds("JOB_STALENESS_DEADLINE_SECONDS", 600)
	if err != nil {
		return nil, err
	}

	mentions := []string{}
	for _, s := range strings.Split(env("BOT_MENTION_STRINGS", "@supportbot"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			mentions = append(mentions, s)
		}
	}

	return &Settings{
		DBBackend:   dbBackend,
		DatabaseURL: dsn,

		VectorURL:        env("VECTOR_URL", "http://localhost:6334"),
		VectorCollection: env("VECTOR_COLLECTION", "cases"),
		VectorDimensions: vectorDims,
		VectorMetric:     env("VECTOR_METRIC", "cosine"),

		LLMAPIKey:      llmKey,
		ModelImage:     env("MODEL_IMAGE", "gpt-4o-mini"),
		ModelGate:      env("MODEL_GATE", "gpt-4o-mini"),
		ModelExtract:   env("MODEL_EXTRACT", "gpt-4o-mini"),
		ModelCase:      env("MODEL_CASE", "gpt-4o-mini"),
		ModelRespond:   env("MODEL_RESPOND", "gpt-4o"),
		ModelBlocks:    env("MODEL_BLOCKS", "gpt-4o"),
		EmbeddingModel: env("EMBEDDING_MODEL", "text-embedding-004"),

		R2Bucket:          env("R2_BUCKET", ""),
		R2Endpoint:        env("R2_ENDPOINT", ""),
		R2AccessKeyID:     env("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: env("R2_SECRET_ACCESS_KEY", ""),

		BotStorageDir:    env("BOT_STORAGE_DIR", "/var/lib/supportbot/bot"),
		IngestStorageDir: env("INGEST_STORAGE_DIR", "/var/lib/supportbot/ingest"),

		BotMentionStrings: mentions,

		LogLevel:             env("LOG_LEVEL", "info"),
		ContextLastN:         contextLastN,
		RetrieveTopK:         retrieveTopK,
		WorkerPollInterval:   pollInterval,
		HistoryTokenTTL:      time.Duration(historyTTLMinutes) * time.Minute,
		ChunkCharCap:         chunkCap,
		ChunkOverlapMessages: chunkOverlap,
		DedupCosineThreshold: dedupThreshold,
		HistoryMaxWorkers:    historyWorkers,

		LLMCallTimeout:    llmTimeout,
		DBCallTimeout:     dbTimeout,
		VectorCallTimeout: vectorTimeout,
		JobTotalDeadline:  jobDeadline,
		StalenessDeadline: stalenessDeadline,

		HTTPAddr: env("HTTP_ADDR", ":8080"),

		OTelEndpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelServiceName: env("OTEL_SERVICE_NAME", "supportbot"),
		OTelEnabled:     envBool("OTEL_ENABLED", false),
	}, nil
}

// R2Enabled reports whether attachment uploads should go to the
// blob-store gateway instead of falling back to local filesystem.
func (s *Settings) R2Enabled() bool {
	return s.R2Bucket != "" && s.R2Endpoint != ""
}
