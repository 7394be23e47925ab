package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/svezina/internal/api"
	"github.com/erazemk/svezina/internal/config"
	"github.com/erazemk/svezina/internal/store"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, a.db)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	// Items created while the process was down still need their alerts.
	if err := a.tracker.Start(ctx); err != nil {
		slog.Error("rescheduling alerts on start", "error", err)
	}

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(api.Config{
			DB:          a.db,
			Accounts:    a.accounts,
			Tracker:     a.tracker,
			Queue:       a.queue,
			JWTSecret:   jwtSecret,
			TokenTTL:    cfg.TokenTTL,
			AdminEmails: cfg.AdminEmails,
			CORSOrigins: cfg.CORSOrigins,
			Logger:      slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server started", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.runner.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped, closing database")
	return nil
}
