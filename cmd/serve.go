package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/db"
	"github.com/draftforge/draftforge/internal/api"
	"github.com/draftforge/draftforge/internal/chunker"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/database"
	"github.com/draftforge/draftforge/internal/embedding"
	"github.com/draftforge/draftforge/internal/generation"
	"github.com/draftforge/draftforge/internal/knowledge"
	"github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/relay"
	"github.com/draftforge/draftforge/internal/search"
	"github.com/draftforge/draftforge/internal/vectorstore"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	// writeTimeout must exceed the 10 minute generation job timeout, or the
	// server would cut SSE streams before the terminal event arrives.
	writeTimeout    = 15 * time.Minute
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the draftforge HTTP API server.

The server runs migrations on startup, then exposes the knowledge-base and
generation endpoints under /api/v1 with health probes at /health and /ready.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides config")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	logger := log.New(log.Config{JSON: !cfg.Dev})
	logger.Info("starting draftforge", "version", Version, "addr", addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	vectors := vectorstore.New(pool, logger)
	embedder := embedding.New(embedding.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
	})
	engine := search.NewEngine(vectors, embedder, logger)
	registry := knowledge.NewRegistry(pool)
	knowledgeSvc := knowledge.NewService(registry, vectors, embedder, engine, chunker.Config{
		Size:    cfg.ChunkSize,
		Overlap: cfg.ChunkOverlap,
	}, logger)

	jobs := generation.NewStore(pool)
	orchestrator := generation.NewOrchestrator(jobs, logger)
	streamRelay := relay.New(jobs, cfg.PollInterval, cfg.HeartbeatInterval, logger)

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	scheduler := generation.NewScheduler(jobs, cfg.CleanupInterval, retention, logger)
	go scheduler.Run(ctx)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Knowledge:    knowledgeSvc,
		Orchestrator: orchestrator,
		Jobs:         jobs,
		Relay:        streamRelay,
		Pool:         pool,
		StreamSecret: []byte(cfg.StreamTokenSecret),
		CORSOrigins:  cfg.CORSOrigins,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
		IsDev:        cfg.Dev,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		orchestrator.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
