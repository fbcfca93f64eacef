package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mathquest/internal/config"
	"mathquest/internal/domain"
	"mathquest/internal/game"
	"mathquest/internal/infra/memory"
	pgloader "mathquest/internal/infra/postgres"
	redisinfra "mathquest/internal/infra/redis"
	transport "mathquest/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.TemplateLoader = memory.NewStaticTemplateLoader(sampleTemplates())
	if pool != nil {
		loader = pgloader.NewTemplateLoader(pool)
	}

	templateTTL := config.TTLDuration(cfg.Game.TemplateTTL, 10*time.Minute)
	var templates game.TemplateRepository
	if redisClient != nil {
		templates = redisinfra.NewTemplateRepository(redisClient, loader, templateTTL)
	} else {
		templates = memory.NewTemplateRepository(loader, templateTTL)
	}

	var store game.SnapshotStore
	if redisClient != nil {
		store = redisinfra.NewSnapshotStore(redisClient, redisTTL, logger)
	} else {
		store = memory.NewSnapshotStore()
	}

	grace := config.TTLDuration(cfg.Game.EvictionGrace, 2*time.Minute)
	idle := config.TTLDuration(cfg.Game.IdleTimeout, 6*time.Hour)
	registry := game.NewRegistry(logger, grace, idle)
	service := game.NewService(registry, templates, store, logger)

	wsHandler := transport.NewWSHandler(service, logger)
	apiHandler := transport.NewAPIHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error {
		logger.Info("starting game engine", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Janitor: evicts ended sessions past grace and idle sessions past timeout.
	eg.Go(func() error {
		ticker := time.NewTicker(grace)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := registry.Sweep(); n > 0 {
					logger.Info("swept sessions", zap.Int("count", n))
				}
			case <-egCtx.Done():
				return nil
			}
		}
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-egCtx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	cancel()
	return eg.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// sampleTemplates provides minimal quiz content for running without a
// database; swap the loader for the Postgres-backed one in production.
func sampleTemplates() map[string]domain.QuizTemplate {
	return map[string]domain.QuizTemplate{
		"demo-1": {
			ID:   "demo-1",
			Name: "Demo quiz",
			Questions: []domain.Question{
				{
					UID:  "q1",
					Text: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					DurationMs: 20_000,
				},
				{
					UID:  "q2",
					Text: "What is 7 × 8?",
					Options: []domain.Option{
						{ID: "o1", Text: "54", Correct: false},
						{ID: "o2", Text: "56", Correct: true},
						{ID: "o3", Text: "64", Correct: false},
					},
					DurationMs: 20_000,
				},
			},
		},
	}
}
