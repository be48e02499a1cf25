package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
	"github.com/sanseviera/miage-projet-llm/internal/core/chunk"
	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/session"
	"github.com/sanseviera/miage-projet-llm/internal/core/summary"
	"github.com/sanseviera/miage-projet-llm/internal/infra/memory"
	"github.com/sanseviera/miage-projet-llm/internal/infra/openai"
	"github.com/sanseviera/miage-projet-llm/internal/infra/postgres"
	"github.com/sanseviera/miage-projet-llm/internal/infra/sqlite"
	"github.com/sanseviera/miage-projet-llm/internal/platform/config"
	"github.com/sanseviera/miage-projet-llm/internal/platform/database"
	"github.com/sanseviera/miage-projet-llm/internal/platform/metrics"
)

// Container はアプリケーションの依存関係を保持する
type Container struct {
	Config        *config.Config
	Chat          *chat.Service
	Index         *index.Service
	Sessions      *session.Store
	Summary       *summary.Service
	Conversations conversation.Store
	Metrics       *metrics.Metrics

	logger             *slog.Logger
	pool               *pgxpool.Pool
	closeStore         func() error
	closeConversations func() error
}

type containerOptions struct {
	logger        *slog.Logger
	embedder      index.Embedder
	llmClient     llm.Client
	conversations conversation.Store
	passages      index.PassageStore
	tokenCounter  chunk.TokenCounter
	metrics       *metrics.Metrics
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithEmbedder はカスタム Embedder を注入する
func WithEmbedder(embedder index.Embedder) Option {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithLLMClient は LLM クライアントを差し替える
func WithLLMClient(client llm.Client) Option {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithConversationStore は会話ストアを差し替える。設定のバックエンドより優先する
func WithConversationStore(store conversation.Store) Option {
	return func(opts *containerOptions) {
		opts.conversations = store
	}
}

// WithPassageStore はパッセージストアを差し替える。設定のバックエンドより優先する
func WithPassageStore(store index.PassageStore) Option {
	return func(opts *containerOptions) {
		opts.passages = store
	}
}

// WithTokenCounter は TokenCounter を差し替える
func WithTokenCounter(counter chunk.TokenCounter) Option {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithMetrics はメトリクスを差し替える
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// New は設定からコンテナを生成する
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Container, err error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{Config: cfg, logger: options.logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Metrics = options.metrics
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}

	if needsDatabase(cfg, options) {
		c.pool, err = database.NewPool(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, c.pool); err != nil {
			return nil, fmt.Errorf("failed to apply database schema: %w", err)
		}
	}

	// TokenCounter
	tokens := options.tokenCounter
	if tokens == nil {
		tokens = newTokenCounter(options.logger)
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL.OrEmpty()),
			openai.WithEmbeddingTimeout(cfg.OpenAI.EmbeddingTimeout),
			openai.WithRateLimit(cfg.OpenAI.EmbeddingRPS),
		)
	}

	// LLMClient (OpenAI)
	llmClient := options.llmClient
	if llmClient == nil {
		llmClient, err = openai.NewClient(
			cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.LLMModel),
			openai.WithTemperature(cfg.OpenAI.Temperature),
			openai.WithTimeout(cfg.OpenAI.LLMTimeout),
			openai.WithBaseURL(cfg.OpenAI.BaseURL.OrEmpty()),
			openai.WithRetryPolicy(cfg.OpenAI.MaxRetries, cfg.OpenAI.RetryBackoff),
			openai.WithClientLogger(options.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	// Document index
	splitter, err := chunk.NewSplitter(chunk.Config{
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize splitter: %w", err)
	}
	passages := options.passages
	if passages == nil {
		passages, err = c.newPassageStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	c.closeStore = passages.Close
	c.Index = index.NewService(
		passages,
		embedder,
		splitter,
		index.WithLogger(options.logger),
		index.WithTokenCounter(tokens),
		index.WithListCap(cfg.Index.ListCap),
		index.WithObserver(c.Metrics),
	)

	// Conversation store
	c.Conversations = options.conversations
	if c.Conversations == nil {
		c.Conversations, err = c.newConversationStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	// Session memory
	c.Sessions = session.NewStore(
		session.Config{
			MaxMessages:  cfg.Session.MaxMessages,
			Timeout:      cfg.Session.Timeout,
			SummaryEvery: cfg.Session.SummaryEvery,
		},
		session.WithLogger(options.logger),
		session.WithObserver(c.Metrics),
		session.WithSummarizer(
			chat.NewConversationSummarizer(llmClient),
			session.WithQueueLogger(options.logger),
		),
	)

	c.Chat = chat.NewService(
		c.Conversations,
		c.Sessions,
		c.Index,
		llmClient,
		chat.Config{
			SystemPrompt:      cfg.Chat.SystemPrompt,
			RetrievalK:        cfg.Chat.RetrievalK,
			RetrievalTimeout:  cfg.Chat.RetrievalTimeout,
			GenerationTimeout: cfg.OpenAI.LLMTimeout,
			StoreTimeout:      cfg.Chat.StoreTimeout,
		},
		chat.WithLogger(options.logger),
		chat.WithTokenCounter(tokens),
		chat.WithObserver(c.Metrics),
	)

	c.Summary = summary.NewService(llmClient, summary.WithLogger(options.logger))

	return c, nil
}

func needsDatabase(cfg *config.Config, options containerOptions) bool {
	if options.conversations == nil && cfg.Database.Backend == config.BackendPostgres {
		return true
	}
	return options.passages == nil && cfg.Index.Backend == config.IndexPGVector
}

func (c *Container) newPassageStore(cfg *config.Config) (index.PassageStore, error) {
	switch cfg.Index.Backend {
	case config.IndexPGVector:
		return postgres.NewPassageStore(c.pool), nil
	default:
		store, err := sqlite.NewPassageStore(cfg.Index.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open document index: %w", err)
		}
		return store, nil
	}
}

func (c *Container) newConversationStore(cfg *config.Config) (conversation.Store, error) {
	switch cfg.Database.Backend {
	case config.BackendPostgres:
		return postgres.NewConversationStore(c.pool), nil
	case config.BackendMemory:
		c.logger.Warn("using in-memory conversation store; history is lost on restart")
		return memory.NewConversationStore(), nil
	default:
		store, err := sqlite.NewConversationStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		c.closeConversations = store.Close
		return store, nil
	}
}

// newTokenCounter は tiktoken を優先し、エンコーディングを読み込めない環境では文字数で代用する
func newTokenCounter(logger *slog.Logger) chunk.TokenCounter {
	counter, err := chunk.NewTiktokenCounter()
	if err != nil {
		logger.Warn("tiktoken unavailable, counting runes instead", "error", err)
		return chunk.RuneCounter{}
	}
	return counter
}

// Close は内部リソースを解放する
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Sessions != nil {
		c.Sessions.Close()
	}
	closeIndex := c.closeStore
	if c.Index != nil {
		closeIndex = c.Index.Close
	}
	if closeIndex != nil {
		if err := closeIndex(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close document index: %w", err))
		}
	}
	if c.closeConversations != nil {
		if err := c.closeConversations(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close conversation store: %w", err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
	return errors.Join(errs...)
}

// Logger はロガーを返す
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
