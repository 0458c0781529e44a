package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/clustering"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
	"github.com/yanqian/faq-pipeline/internal/infra/blobstore"
	"github.com/yanqian/faq-pipeline/internal/infra/config"
	"github.com/yanqian/faq-pipeline/internal/infra/emailrepo"
	"github.com/yanqian/faq-pipeline/internal/infra/embedding"
	"github.com/yanqian/faq-pipeline/internal/infra/extraction"
	"github.com/yanqian/faq-pipeline/internal/infra/faqrepo"
	"github.com/yanqian/faq-pipeline/internal/infra/llm"
	"github.com/yanqian/faq-pipeline/internal/infra/llm/chatgpt"
	"github.com/yanqian/faq-pipeline/internal/infra/queue"
	"github.com/yanqian/faq-pipeline/internal/infra/resource"
	"github.com/yanqian/faq-pipeline/internal/infra/runstate"
	"github.com/yanqian/faq-pipeline/internal/infra/textbudget"
	"github.com/yanqian/faq-pipeline/pkg/logger"
)

// questionStore is the shared question/group persistence used by both FAQ
// generation and the batch processor.
type questionStore interface {
	faq.Repository
	batch.QuestionSink
}

type emailStore interface {
	batch.EmailRepository
	inbox.EmailWriter
}

type runState interface {
	pipeline.RunLock
	pipeline.StatusStore
}

type blobStore interface {
	batch.BodyStore
	inbox.BlobWriter
}

// database wraps the optional Postgres pool. A nil pool selects the memory
// repositories.
type database struct {
	pool *pgxpool.Pool
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return logger.NewWithWriter(os.Stdout, cfg.Log.Level, cfg.Log.Format)
}

func provideFAQConfig(cfg *config.Config) faq.Config {
	return faq.Config{
		MinConfidence:        cfg.FAQ.MinConfidence,
		MinQuestionCount:     cfg.FAQ.MinQuestionCount,
		AutoPublishThreshold: cfg.FAQ.AutoPublishThreshold,
		MaxTitleLength:       cfg.FAQ.MaxTitleLength,
		DefaultCategory:      cfg.FAQ.DefaultCategory,
		BackfillLimit:        cfg.FAQ.BackfillLimit,
		DefaultConfidence:    cfg.FAQ.DefaultConfidence,
		EmbeddingDimension:   cfg.Embedding.Dimension,
		ConsolidationTimeout: cfg.FAQ.ConsolidationTimeout,
	}
}

func provideBatchConfig(cfg *config.Config) batch.Config {
	return batch.Config{
		BatchSize:            cfg.Batch.BatchSize,
		MaxBodyChars:         cfg.Batch.MaxBodyChars,
		MaxThreadChars:       cfg.Batch.MaxThreadChars,
		MaxQuestionChars:     cfg.Batch.MaxQuestionChars,
		MaxAnswerChars:       cfg.Batch.MaxAnswerChars,
		MaxErrorChars:        cfg.Batch.MaxErrorChars,
		ItemTimeout:          cfg.Batch.ItemTimeout,
		MaxConsecutiveErrors: cfg.Batch.MaxConsecutiveErrors,
		MaxTotalErrors:       cfg.Batch.MaxTotalErrors,
		MemoryCheckEvery:     cfg.Batch.MemoryCheckEvery,
		HighWaterRatio:       cfg.Batch.HighWaterRatio,
		CriticalRatio:        cfg.Batch.CriticalRatio,
		PressurePause:        cfg.Batch.PressurePause,
		RequestsPerMinute:    cfg.Batch.RequestsPerMinute,
	}
}

func providePipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		LockTTL:          cfg.Pipeline.LockTTL,
		ProgressLogEvery: cfg.Pipeline.ProgressLogEvery,
	}
}

func provideInboxConfig(cfg *config.Config) inbox.Config {
	return inbox.Config{InlineBodyLimit: cfg.Storage.InlineBodyLimit}
}

func providePostgres(cfg *config.Config, logger *slog.Logger) *database {
	dsn := strings.TrimSpace(cfg.Postgres.DSN)
	if dsn == "" {
		logger.Info("postgres dsn not set, using memory repositories")
		return &database{}
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid postgres dsn, using memory repositories", "error", err)
		return &database{}
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory repositories", "error", err)
		return &database{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory repositories", "error", err)
		pool.Close()
		return &database{}
	}
	logger.Info("postgres repositories enabled")
	return &database{pool: pool}
}

func provideQuestionStore(db *database) questionStore {
	if db.pool == nil {
		return faqrepo.NewMemoryRepository()
	}
	return faqrepo.NewPostgresRepository(db.pool)
}

func provideFAQRepository(store questionStore) faq.Repository {
	return store
}

func provideQuestionSink(store questionStore) batch.QuestionSink {
	return store
}

func provideEmailStore(db *database) emailStore {
	if db.pool == nil {
		return emailrepo.NewMemoryRepository()
	}
	return emailrepo.NewPostgresRepository(db.pool)
}

func provideEmailRepository(store emailStore) batch.EmailRepository {
	return store
}

func provideEmailWriter(store emailStore) inbox.EmailWriter {
	return store
}

// provideValkeyClient returns nil when valkey is disabled or unreachable.
func provideValkeyClient(cfg *config.Config, logger *slog.Logger) valkey.Client {
	if !cfg.Valkey.Enabled {
		return nil
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory", "error", err)
		return nil
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory", "error", err)
		client.Close()
		return nil
	}
	logger.Info("valkey enabled", "addr", cfg.Valkey.Addr)
	return client
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Valkey.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Valkey.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideRunState(cfg *config.Config, client valkey.Client) runState {
	if client == nil {
		return runstate.NewMemoryStore()
	}
	return runstate.NewValkeyStore(client, cfg.Valkey.Prefix)
}

func provideJobQueue(cfg *config.Config, client valkey.Client, logger *slog.Logger) queue.WorkerQueue {
	if strings.EqualFold(cfg.Queue.Backend, "valkey") {
		if client != nil {
			return queue.NewValkeyQueue(client, cfg.Queue.Key, logger)
		}
		logger.Warn("valkey queue requested without a valkey client, using in-process queue")
	}
	return queue.NewImmediateQueue(nil)
}

// provideChatGPTClient returns nil when no key is configured; only the openai
// providers need it.
func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return nil, nil
	}
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
}

func provideChatModel(cfg *config.Config, client *chatgpt.Client, logger *slog.Logger) (llm.ChatModel, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		if client == nil {
			return nil, fmt.Errorf("llm provider openai requires an api key")
		}
		logger.Info("chat model", "provider", "openai", "model", cfg.LLM.Model)
		return llm.NewChatGPTModel(client, cfg.LLM.Model, cfg.LLM.Temperature), nil
	case "anthropic":
		logger.Info("chat model", "provider", "anthropic", "model", cfg.LLM.Anthropic.Model)
		model, err := llm.NewAnthropicModel(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.BaseURL, cfg.LLM.Anthropic.Model)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		logger.Warn("using echo chat model, no questions will be extracted")
		return llm.EchoModel{}, nil
	}
}

func provideExtractor(cfg *config.Config, model llm.ChatModel) batch.Extractor {
	return extraction.NewExtractor(model, cfg.LLM.ExtractionMaxTokens)
}

func provideConsolidator(cfg *config.Config, model llm.ChatModel) faq.AnswerConsolidator {
	return extraction.NewConsolidator(model, cfg.LLM.ConsolidationMaxTokens)
}

func provideEmbedder(cfg *config.Config, client *chatgpt.Client, logger *slog.Logger) (faq.Embedder, error) {
	if !strings.EqualFold(cfg.Embedding.Provider, "openai") {
		return embedding.NewDeterministicEmbedder(cfg.Embedding.Dimension), nil
	}
	if client == nil {
		return nil, fmt.Errorf("embedding provider openai requires llm.apiKey")
	}
	var budget embedding.Truncator
	tokens, err := textbudget.NewTokenBudget(cfg.Embedding.MaxTokens, cfg.Embedding.Encoding)
	if err != nil {
		logger.Warn("token budget unavailable, truncating embedding input by runes", "error", err)
		budget = textbudget.NewRuneBudget(cfg.Embedding.MaxTokens)
	} else {
		budget = tokens
	}
	return embedding.NewChatGPTEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, budget, logger), nil
}

func provideTextBudget(cfg *config.Config, logger *slog.Logger) batch.TextBudget {
	if cfg.Batch.MaxBodyTokens <= 0 {
		return nil
	}
	tokens, err := textbudget.NewTokenBudget(cfg.Batch.MaxBodyTokens, cfg.Embedding.Encoding)
	if err != nil {
		logger.Warn("token budget unavailable, truncating email bodies by runes", "error", err)
		return textbudget.NewRuneBudget(cfg.Batch.MaxBodyTokens)
	}
	return tokens
}

func provideBlobStore(cfg *config.Config, logger *slog.Logger) (blobStore, error) {
	if !cfg.Storage.Enabled {
		return blobstore.NewMemoryStore(), nil
	}
	store, err := blobstore.NewR2Store(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		logger,
	)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func provideBodyStore(store blobStore) batch.BodyStore {
	return store
}

func provideBlobWriter(store blobStore) inbox.BlobWriter {
	return store
}

func provideResourceMonitor(cfg *config.Config) batch.ResourceMonitor {
	return resource.NewRuntimeMonitor(cfg.Batch.MemoryLimitBytes)
}

func provideClusterer(cfg *config.Config) *clustering.Clusterer {
	opts := []clustering.Option{clustering.WithSeedMerging(cfg.Clustering.MergeGroups)}
	if strings.EqualFold(cfg.Clustering.Index, "lsh") {
		planes, seed, maxHamming := cfg.Clustering.Planes, cfg.Clustering.Seed, cfg.Clustering.MaxHamming
		opts = append(opts, clustering.WithIndex(func() clustering.Index {
			return clustering.NewLSHIndex(planes, seed, maxHamming)
		}))
	}
	return clustering.NewClusterer(cfg.Clustering.Threshold, opts...)
}

func provideProcessor(
	cfg batch.Config,
	emails batch.EmailRepository,
	questions batch.QuestionSink,
	extractor batch.Extractor,
	bodies batch.BodyStore,
	monitor batch.ResourceMonitor,
	budget batch.TextBudget,
	logger *slog.Logger,
) *batch.Processor {
	opts := []batch.Option{
		batch.WithBodyStore(bodies),
		batch.WithResourceMonitor(monitor),
	}
	if budget != nil {
		opts = append(opts, batch.WithTextBudget(budget))
	}
	return batch.NewProcessor(cfg, emails, questions, extractor, logger, opts...)
}

// providePipelineService also registers the service as the worker's job
// handler.
func providePipelineService(
	cfg pipeline.Config,
	processor *batch.Processor,
	faqs faq.Service,
	state runState,
	jobs queue.WorkerQueue,
	logger *slog.Logger,
) pipeline.Service {
	svc := pipeline.NewService(cfg, processor, faqs, state, state, jobs, logger)
	jobs.SetHandler(svc.HandleJob)
	return svc
}
