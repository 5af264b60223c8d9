package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoplex/procjobs/internal/config"
	"github.com/geoplex/procjobs/internal/observability"
	"github.com/geoplex/procjobs/internal/server"
	"github.com/geoplex/procjobs/internal/server/handlers"
	"github.com/geoplex/procjobs/pkg/jobstore"
	"github.com/geoplex/procjobs/pkg/lifecycle"
	"github.com/geoplex/procjobs/pkg/query"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job management HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return err
	}
	if err := observability.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer observability.Sync()
	log := observability.Logger

	store, err := jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() { _ = store.Close() }()

	controller := lifecycle.New(store, lifecycle.Options{
		Logger:       log,
		PollInterval: cfg.Exec.PollInterval,
	})
	engine := query.New(store)
	directory := handlers.NewStaticDirectory(cfg.Processes)

	handlers.Version = versionInfo.Version
	h := handlers.New(handlers.Config{
		BaseURL:      cfg.Server.BaseURL,
		MaxSyncWait:  cfg.Exec.MaxSyncWait,
		DefaultLimit: cfg.Paging.DefaultLimit,
		MaxLimit:     cfg.Paging.MaxLimit,
	}, store, controller, engine, directory, nil, log)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, h, log)
	httpSrv := &http.Server{
		Addr:         srv.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("store", cfg.Store.Path))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info("shutting down", zap.String("reason", "context canceled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
