package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/faq-pipeline/internal/infra/config"
	"github.com/yanqian/faq-pipeline/internal/infra/emailrepo"
	"github.com/yanqian/faq-pipeline/internal/infra/embedding"
	"github.com/yanqian/faq-pipeline/internal/infra/faqrepo"
	"github.com/yanqian/faq-pipeline/internal/infra/llm"
	"github.com/yanqian/faq-pipeline/internal/infra/queue"
	"github.com/yanqian/faq-pipeline/internal/infra/runstate"
)

func TestProvidersFallBackToMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Queue.Backend = "valkey"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := providePostgres(cfg, logger)
	require.Nil(t, db.pool)
	require.IsType(t, &faqrepo.MemoryRepository{}, provideQuestionStore(db))
	require.IsType(t, &emailrepo.MemoryRepository{}, provideEmailStore(db))

	client := provideValkeyClient(cfg, logger)
	require.Nil(t, client)
	require.IsType(t, &runstate.MemoryStore{}, provideRunState(cfg, client))
	require.IsType(t, &queue.ImmediateQueue{}, provideJobQueue(cfg, client, logger))
}

func TestProvideChatModel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	cfg.LLM.Provider = "echo"
	model, err := provideChatModel(cfg, nil, logger)
	require.NoError(t, err)
	require.IsType(t, llm.EchoModel{}, model)

	cfg.LLM.Provider = "openai"
	_, err = provideChatModel(cfg, nil, logger)
	require.Error(t, err)
}

func TestProvideEmbedderDefaultsToDeterministic(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Dimension = 64
	embedder, err := provideEmbedder(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.IsType(t, &embedding.DeterministicEmbedder{}, embedder)

	cfg.Embedding.Provider = "openai"
	_, err = provideEmbedder(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestProvideClustererHonoursThreshold(t *testing.T) {
	cfg := &config.Config{}
	cfg.Clustering.Threshold = 0.9
	cfg.Clustering.Index = "lsh"
	cfg.Clustering.Planes = 8
	require.InDelta(t, 0.9, provideClusterer(cfg).Threshold(), 1e-9)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NotNil(t, run.Flags().Lookup("skip-extraction"))
	require.NotNil(t, run.Flags().Lookup("skip-generation"))

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.Equal(t, "serve", serve.Name())
}
