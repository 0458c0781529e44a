package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
	"github.com/yanqian/faq-pipeline/internal/infra/config"
	"github.com/yanqian/faq-pipeline/internal/infra/queue"
)

// App encapsulates the HTTP server and job worker lifecycle.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *http.Server
	worker   queue.WorkerQueue
	pipeline pipeline.Service
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, worker queue.WorkerQueue, pipelineSvc pipeline.Service) *App {
	return &App{
		cfg:      cfg,
		logger:   logger.With("component", "bootstrap"),
		server:   server,
		worker:   worker,
		pipeline: pipelineSvc,
	}
}

// Run starts the HTTP server and the job worker and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		a.logger.Info("job worker starting", "backend", a.cfg.Queue.Backend)
		return a.worker.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutdown signal received")
		return a.server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// RunOnce executes a single pipeline run in the foreground, for schedulers
// that own the cadence.
func (a *App) RunOnce(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
	a.logger.Info("one-shot pipeline run", "skipExtraction", req.SkipExtraction, "skipGeneration", req.SkipGeneration)
	return a.pipeline.Run(ctx, req)
}
