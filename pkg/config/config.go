package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Redis設定（キャッシュ・イベントバス・クォータ）
	Redis RedisConfig

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// リランカー設定
	Reranker RerankerConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// バックグラウンドワーカー設定
	Worker WorkerConfig

	// テナント別トークンクォータ設定
	Quota QuotaConfig

	// ドキュメントblobの格納ディレクトリ
	StorageDir string

	// ログ出力設定
	Log LogConfig
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// CacheTTLSeconds は回答キャッシュの有効期間（秒）
	CacheTTLSeconds int
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	GenerateModel      string // 回答生成モデル名
}

// RerankerConfig はリランカーAPI設定。Endpoint が空のときは無効。
type RerankerConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// ChunkingConfig はチャンク分割のウィンドウ設定
type ChunkingConfig struct {
	WindowTokens  int
	OverlapTokens int
	TableRowGroup int
}

// WorkerConfig はジョブワーカーの設定
type WorkerConfig struct {
	Count               int
	PollIntervalSeconds int
}

// QuotaConfig はテナント別の日次トークンクォータ設定
type QuotaConfig struct {
	DailyTokens int64
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
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			CacheTTLSeconds: getEnvAsInt("ANSWER_CACHE_TTL_SECONDS", 3600),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			GenerateModel:      getEnv("OPENAI_GENERATE_MODEL", "gpt-4o-mini"),
		},
		Reranker: RerankerConfig{
			Endpoint: getEnv("RERANKER_ENDPOINT", ""),
			APIKey:   getEnv("RERANKER_API_KEY", ""),
			Model:    getEnv("RERANKER_MODEL", "rerank-v3.5"),
		},
		Chunking: ChunkingConfig{
			WindowTokens:  getEnvAsInt("CHUNK_WINDOW_TOKENS", 500),
			OverlapTokens: getEnvAsInt("CHUNK_OVERLAP_TOKENS", 75),
			TableRowGroup: getEnvAsInt("CHUNK_TABLE_ROW_GROUP", 40),
		},
		Worker: WorkerConfig{
			Count:               getEnvAsInt("WORKER_COUNT", 2),
			PollIntervalSeconds: getEnvAsInt("WORKER_POLL_INTERVAL_SECONDS", 1),
		},
		Quota: QuotaConfig{
			DailyTokens: int64(getEnvAsInt("QUOTA_DAILY_TOKENS", 200000)),
		},
		StorageDir: getEnv("STORAGE_DIR", "/var/lib/doc-rag/blobs"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
