package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jinford/doc-rag/internal/core/answer"
	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/event"
	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/internal/core/pipeline"
	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/internal/infra/markdown"
	"github.com/jinford/doc-rag/internal/infra/openai"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	infraredis "github.com/jinford/doc-rag/internal/infra/redis"
	"github.com/jinford/doc-rag/internal/infra/rerank"
	"github.com/jinford/doc-rag/internal/infra/storage"
	"github.com/jinford/doc-rag/pkg/config"
	"github.com/jinford/doc-rag/pkg/db"
)

// Container はアプリケーションの依存関係を束ねる。
// CLIコマンドはここから必要なサービスを取り出して使う。
type Container struct {
	Repository   *postgres.Repository
	AnswerLogs   *postgres.AnswerLogRepository
	Index        *index.Index
	Storage      *storage.Local
	Retriever    *retrieve.Retriever
	Context      *retrieve.ContextBuilder
	Tokens       *chunking.TokenSplitter
	Orchestrator *answer.Orchestrator
	Runner       *pipeline.Runner
	WorkerPool   *pipeline.Pool
	Bus          event.Bus
	Notifier     *event.Notifier

	database *db.DB
	redis    *goredis.Client
	logger   *slog.Logger
}

type containerOptions struct {
	logger    *slog.Logger
	parser    pipeline.Parser
	embedder  interface {
		retrieve.Embedder
		pipeline.Embedder
	}
	generator answer.Generator
	reranker  retrieve.Reranker
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithParser はドキュメントパーサを差し替える
func WithParser(parser pipeline.Parser) Option {
	return func(opts *containerOptions) {
		opts.parser = parser
	}
}

// WithEmbedder はEmbedderを差し替える
func WithEmbedder(embedder interface {
	retrieve.Embedder
	pipeline.Embedder
}) Option {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithGenerator は回答生成クライアントを差し替える
func WithGenerator(generator answer.Generator) Option {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithReranker はリランカーを差し替える
func WithReranker(reranker retrieve.Reranker) Option {
	return func(opts *containerOptions) {
		opts.reranker = reranker
	}
}

// New は設定からコンテナを生成する。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	options := &containerOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		database.Close()
		return nil, fmt.Errorf("redis接続に失敗しました: %w", err)
	}

	repo := postgres.NewRepository(database)
	answerLogs := postgres.NewAnswerLogRepository(database)
	vectorStore := postgres.NewVectorStore(database)
	idx := index.New(vectorStore, cfg.OpenAI.EmbeddingDimension)

	blobStore, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		database.Close()
		return nil, err
	}

	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension))
	}

	generator := options.generator
	if generator == nil {
		generator = openai.NewGenerator(cfg.OpenAI.APIKey,
			openai.WithGenerateModel(cfg.OpenAI.GenerateModel))
	}

	reranker := options.reranker
	if reranker == nil && cfg.Reranker.Endpoint != "" {
		reranker = rerank.NewClient(cfg.Reranker.Endpoint, cfg.Reranker.APIKey,
			rerank.WithModel(cfg.Reranker.Model))
	}

	parser := options.parser
	if parser == nil {
		parser = markdown.NewParser()
	}

	splitter, err := chunking.NewTokenSplitter(cfg.Chunking.WindowTokens, cfg.Chunking.OverlapTokens)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("トークナイザの初期化に失敗しました: %w", err)
	}
	chunkPipeline := chunking.NewPipeline(splitter,
		chunking.WithTableRowGroup(cfg.Chunking.TableRowGroup))

	bus := infraredis.NewEventBus(redisClient, infraredis.WithEventBusLogger(options.logger))
	notifier := event.NewNotifier(bus, event.WithNotifierLogger(options.logger))

	cache := infraredis.NewAnswerCache(redisClient,
		infraredis.WithCacheTTL(time.Duration(cfg.Redis.CacheTTLSeconds)*time.Second))
	quota := infraredis.NewQuotaLimiter(redisClient,
		infraredis.WithDailyTokenQuota(cfg.Quota.DailyTokens))

	retrieverOpts := []retrieve.RetrieverOption{
		retrieve.WithRetrieverLogger(options.logger),
	}
	if reranker != nil {
		retrieverOpts = append(retrieverOpts, retrieve.WithReranker(reranker))
	}
	retriever := retrieve.NewRetriever(embedder, idx, repo, retrieverOpts...)

	orchestratorOpts := []answer.OrchestratorOption{
		answer.WithCache(cache),
		answer.WithUsageLogger(answerLogs),
		answer.WithQuotaLimiter(quota),
		answer.WithDefaultModel(cfg.OpenAI.GenerateModel),
		answer.WithOrchestratorLogger(options.logger),
	}
	if reranker != nil {
		orchestratorOpts = append(orchestratorOpts, answer.WithOrchestratorReranker(reranker))
	}
	orchestrator := answer.NewOrchestrator(embedder, idx, repo, generator, splitter, orchestratorOpts...)

	runner := pipeline.NewRunner(repo, parser, blobStore, chunkPipeline, embedder, idx,
		pipeline.WithPublisher(bus),
		pipeline.WithRunnerLogger(options.logger))
	pool := pipeline.NewPool(repo, runner, cfg.Worker.Count,
		pipeline.WithPollInterval(time.Duration(cfg.Worker.PollIntervalSeconds)*time.Second),
		pipeline.WithPoolLogger(options.logger))

	return &Container{
		Repository:   repo,
		AnswerLogs:   answerLogs,
		Index:        idx,
		Storage:      blobStore,
		Retriever:    retriever,
		Context:      retrieve.NewContextBuilder(splitter),
		Tokens:       splitter,
		Orchestrator: orchestrator,
		Runner:       runner,
		WorkerPool:   pool,
		Bus:          bus,
		Notifier:     notifier,
		database:     database,
		redis:        redisClient,
		logger:       options.logger,
	}, nil
}

// Close はデータベースとRedisの接続を閉じる
func (c *Container) Close() error {
	c.database.Close()
	return c.redis.Close()
}
