package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/research-loop/pkg/config"
	"github.com/mikeboe/research-loop/pkg/database"
	"github.com/mikeboe/research-loop/pkg/metrics"
	"github.com/mikeboe/research-loop/pkg/research"
	"github.com/mikeboe/research-loop/pkg/server"
	"github.com/mikeboe/research-loop/pkg/setup"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := serve(); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := setup.OpenDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	components, err := setup.Build(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build research components: %w", err)
	}

	recorder, err := metrics.NewRecorder(nil)
	if err != nil {
		return err
	}

	svc := server.NewService(
		database.NewRunRepository(db),
		func(opts ...research.Option) *research.Engine {
			return components.NewEngine(append([]research.Option{research.WithObserver(recorder)}, opts...)...)
		},
		server.RunParams{QueriesPerRound: cfg.QueriesPerRound, MaxLoops: cfg.MaxLoops},
	)

	var knowledge server.KnowledgeStore
	if components.Store != nil {
		knowledge = components.Store
	}
	handler := server.NewHandler(svc, knowledge)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders: []string{"Content-Length", "Mcp-Session-Id"},
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	return svc.Shutdown(shutdownCtx)
}
