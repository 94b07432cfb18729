// Package config собирает конфигурацию процесса из окружения (.env) один раз
// при старте; готовый Config передаётся в компоненты явно.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	ServerAddr   string `validate:"required"`
	StoreBackend string `validate:"oneof=postgres memory"`

	PG PostgresConfig

	Embedding EmbeddingConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Loader    LoaderConfig

	UploadDir      string `validate:"required"`
	MaxUploadBytes int64  `validate:"gt=0"`
	JWTSecret      string
	AskTimeout     time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

type EmbeddingConfig struct {
	URL   string
	Model string
	Dim   int `validate:"gt=0"`
}

type LLMConfig struct {
	Url          string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

type RAGConfig struct {
	ChunkSize         int     `validate:"gt=0"`
	ChunkOverlap      int     `validate:"gte=0,ltfield=ChunkSize"`
	DirChunkSize      int     `validate:"gt=0"`
	DirChunkOverlap   int     `validate:"gte=0,ltfield=DirChunkSize"`
	TopK              int     `validate:"gt=0"`
	DistanceThreshold float64 `validate:"gt=0"`
	MaxContextChars   int     `validate:"gt=0"`
	MaxPromptTokens   int     `validate:"gte=0"`
}

type LoaderConfig struct {
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
	PollInterval   time.Duration `validate:"gte=0"`
}

const DefaultSystemPrompt = `You are Altavo AI, an expert, versatile and helpful assistant. Your main goal is to give precise, professional and grammatically flawless answers.
- Write every answer in impeccable language, without mistakes.
- Never cut words. Always finish the words you start.
- Keep a polite and professional tone.
- When you give code, return it in fenced code blocks labelled with the language name (for example ` + "```go" + `).
- Do not invent information. If you do not know the answer, say so clearly.`

// LoadEnv подтягивает .env, если он есть; отсутствие файла не ошибка
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
}

// FromEnv читает конфигурацию из переменных окружения и проверяет её
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerAddr:   getString("SERVER_ADDR", ":8000"),
		StoreBackend: getString("STORE_BACKEND", BackendPostgres),
		PG: PostgresConfig{
			Host:     getString("PG_HOST", "localhost"),
			Port:     getInt("PG_PORT", 5432),
			User:     os.Getenv("PG_USER"),
			Password: os.Getenv("PG_PASS"),
			DBName:   os.Getenv("PG_DB_NAME"),
		},
		Embedding: EmbeddingConfig{
			URL:   getString("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
			Model: getString("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			Dim:   getInt("EMBEDDING_DIM", 768),
		},
		LLM: LLMConfig{
			Url:          getString("LLM_URL", "http://localhost:11434/api/generate"),
			Model:        getString("LLM_MODEL", "mistral"),
			SystemPrompt: getString("SYSTEM_PROMPT", DefaultSystemPrompt),
			Temperature:  getFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:    getInt("LLM_MAX_TOKENS", 2048),
		},
		RAG: RAGConfig{
			ChunkSize:         getInt("CHUNK_SIZE", 1000),
			ChunkOverlap:      getInt("CHUNK_OVERLAP", 200),
			DirChunkSize:      getInt("DIR_CHUNK_SIZE", 500),
			DirChunkOverlap:   getInt("DIR_CHUNK_OVERLAP", 100),
			TopK:              getInt("RAG_TOP_K", 3),
			DistanceThreshold: getFloat("RAG_DISTANCE_THRESHOLD", 1.0),
			MaxContextChars:   getInt("MAX_CONTEXT_CHARS", 20000),
			MaxPromptTokens:   getInt("MAX_PROMPT_TOKENS", 6000),
		},
		Loader: LoaderConfig{
			SourceDir:      getString("LOADER_SOURCE_DIR", "./inbox"),
			ArchiveDir:     getString("LOADER_ARCHIVE_DIR", "./archive"),
			BadDir:         getString("LOADER_BAD_DIR", "./bad"),
			MonitoringTime: getDuration("LOADER_MONITORING_TIME", 5*time.Second),
			PollInterval:   getDuration("LOADER_POLL_INTERVAL", time.Second),
		},
		UploadDir:      getString("UPLOAD_DIR", "./rag-files"),
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		JWTSecret:      os.Getenv("JWT_SECRET_KEY"),
		AskTimeout:     getDuration("ASK_TIMEOUT", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConnString URL подключения к Postgres; учётные данные экранируются
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
