package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/api"
	"github.com/JakeFAU/crawl-pipeline/internal/dispatcher"
	"github.com/JakeFAU/crawl-pipeline/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// newWorkCmd creates the 'work' subcommand, which runs the worker fleet until interrupted.
func newWorkCmd() *cobra.Command {
	var threads int

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Runs worker threads against the shared store",
		Long: `Starts worker.threads workers (or --threads) that repeatedly sweep every
running instance, plus the ops HTTP server when server.enabled is set. The
command drains and exits on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runWork(cmd.Context(), appInstance, threads)
		},
	}
	cmd.Flags().IntVar(&threads, "threads", 0, "worker threads to run (overrides worker.threads)")
	return cmd
}

func runWork(ctx context.Context, a App, threads int) error {
	cfg := a.Config()
	logger := a.Logger()
	env := a.Env()

	if threads <= 0 {
		threads = cfg.Worker.Threads
	}
	runners := dispatcher.Spawn(env, worker.Config{
		IdleSleep:    cfg.Worker.IdleSleep,
		FaultBackoff: cfg.Worker.FaultBackoff,
	}, threads, a.ThreadPrefix())
	dispatch := dispatcher.New(env.Pending, runners)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(env, dispatch, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	logger.Info("dispatcher started", zap.Int("threads", threads), zap.String("prefix", a.ThreadPrefix()))
	dispatch.Run(ctx)
	logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}
