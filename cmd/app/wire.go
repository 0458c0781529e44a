//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/faq-pipeline/internal/bootstrap"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
	"github.com/yanqian/faq-pipeline/internal/infra/config"
	httpiface "github.com/yanqian/faq-pipeline/internal/interface/http"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		provideLogger,
		provideFAQConfig,
		provideBatchConfig,
		providePipelineConfig,
		provideInboxConfig,
		providePostgres,
		provideQuestionStore,
		provideFAQRepository,
		provideQuestionSink,
		provideEmailStore,
		provideEmailRepository,
		provideEmailWriter,
		provideValkeyClient,
		provideRunState,
		provideJobQueue,
		provideChatGPTClient,
		provideChatModel,
		provideExtractor,
		provideConsolidator,
		provideEmbedder,
		provideTextBudget,
		provideBlobStore,
		provideBodyStore,
		provideBlobWriter,
		provideResourceMonitor,
		provideClusterer,
		provideProcessor,
		providePipelineService,
		faq.NewService,
		inbox.NewService,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
