package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/mo"
)

// 会話ストアのバックエンド
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// インデックスストアのバックエンド
const (
	IndexSQLite   = "sqlite"
	IndexPGVector = "pgvector"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database DatabaseConfig
	OpenAI   OpenAIConfig
	Index    IndexConfig
	Session  SessionConfig
	Chat     ChatConfig
	Server   ServerConfig
	Log      LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	// Backend は会話ストアの実装 ("sqlite", "memory" or "postgres")
	Backend    string
	// SQLitePath は sqlite バックエンドのDBファイル
	SQLitePath string

	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            mo.Option[string]
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration
	EmbeddingRPS       float64 // 0 以下で無制限
	LLMModel           string
	Temperature        float64
	LLMTimeout         time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
}

// IndexConfig はドキュメントインデックス設定
type IndexConfig struct {
	Backend      string // "sqlite" or "pgvector"
	Dir          string
	ChunkSize    int
	ChunkOverlap int
	ListCap      int
}

// SessionConfig はセッションメモリ設定
type SessionConfig struct {
	MaxMessages     int
	Timeout         time.Duration
	SummaryEvery    int
	CleanupInterval time.Duration
}

// ChatConfig は応答生成設定
type ChatConfig struct {
	SystemPrompt     string
	RetrievalK       int
	RetrievalTimeout time.Duration
	StoreTimeout     time.Duration
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port            int
	MaxRequestBytes int64
	ShutdownTimeout time.Duration
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Backend:    strings.ToLower(getEnv("CONVERSATION_BACKEND", BackendSQLite)),
			SQLitePath: getEnv("CONVERSATION_DB_PATH", "./data/conversations.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rag_chat"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnvOption("OPENAI_BASE_URL"),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			EmbeddingTimeout:   getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			EmbeddingRPS:       getEnvAsFloat("EMBEDDING_RPS", 0),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-3.5-turbo"),
			Temperature:        getEnvAsFloat("OPENAI_TEMPERATURE", 0.7),
			LLMTimeout:         getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries:         getEnvAsInt("LLM_MAX_RETRIES", 3),
			RetryBackoff:       getEnvAsDuration("LLM_RETRY_BACKOFF", time.Second),
		},
		Index: IndexConfig{
			Backend:      strings.ToLower(getEnv("INDEX_BACKEND", IndexSQLite)),
			Dir:          getEnv("INDEX_DIR", "./chroma_db"),
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
			ListCap:      getEnvAsInt("DOCUMENT_LIST_CAP", 100),
		},
		Session: SessionConfig{
			MaxMessages:     getEnvAsInt("SESSION_MAX_MESSAGES", 50),
			Timeout:         getEnvAsDuration("SESSION_TIMEOUT", time.Hour),
			SummaryEvery:    getEnvAsInt("SESSION_SUMMARY_EVERY", 10),
			CleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Chat: ChatConfig{
			SystemPrompt:     getEnv("SYSTEM_PROMPT", "You are a helpful assistant."),
			RetrievalK:       getEnvAsInt("RETRIEVAL_K", 4),
			RetrievalTimeout: getEnvAsDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
			StoreTimeout:     getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8000),
			MaxRequestBytes: int64(getEnvAsInt("MAX_REQUEST_BYTES", 10<<20)),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate は設定値の範囲を検証します
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Backend {
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("CONVERSATION_DB_PATH is required"))
		} else if c.Index.Backend == IndexSQLite && isWithin(c.Index.Dir, c.Database.SQLitePath) {
			// インデックス削除はディレクトリごと消すため、会話DBを同居させない
			errs = append(errs, errors.New("CONVERSATION_DB_PATH must be outside INDEX_DIR"))
		}
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("CONVERSATION_BACKEND must be %q, %q or %q, got %q",
			BackendSQLite, BackendMemory, BackendPostgres, c.Database.Backend))
	}
	switch c.Index.Backend {
	case IndexSQLite, IndexPGVector:
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", IndexSQLite, IndexPGVector, c.Index.Backend))
	}
	if c.Index.Backend == IndexPGVector && c.Database.Backend != BackendPostgres {
		errs = append(errs, errors.New("INDEX_BACKEND=pgvector requires CONVERSATION_BACKEND=postgres"))
	}
	if c.Index.Backend == IndexSQLite && c.Index.Dir == "" {
		errs = append(errs, errors.New("INDEX_DIR is required"))
	}
	if c.Index.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Index.ChunkSize))
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.Index.ChunkOverlap))
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("OPENAI_EMBEDDING_DIMENSION must be positive, got %d", c.OpenAI.EmbeddingDimension))
	}
	if c.Session.MaxMessages <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_MESSAGES must be positive, got %d", c.Session.MaxMessages))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.Session.Timeout))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Server.Port))
	}
	if c.Server.MaxRequestBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_REQUEST_BYTES must be positive, got %d", c.Server.MaxRequestBytes))
	}

	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
// isWithin は path が dir 配下にあるかを判定します
func isWithin(dir, path string) bool {
	if dir == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOption は環境変数が設定されていれば Some を返します
func getEnvOption(key string) mo.Option[string] {
	if value := os.Getenv(key); value != "" {
		return mo.Some(value)
	}
	return mo.None[string]()
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" 形式、または秒数の整数として環境変数を取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
