package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
	"github.com/yanqian/faq-pipeline/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.New().Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "faq-pipeline",
		Short:         "Extracts customer questions from email and consolidates them into FAQs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newRunCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process queued pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initializeApp()
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newRunCommand() *cobra.Command {
	var req pipeline.RunRequest
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initializeApp()
			if err != nil {
				return err
			}
			status, runErr := app.RunOnce(cmd.Context(), req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&req.SkipExtraction, "skip-extraction", false, "skip the email extraction batch")
	cmd.Flags().BoolVar(&req.SkipGeneration, "skip-generation", false, "skip FAQ generation")
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "explicit run id (generated when empty)")
	return cmd
}
