package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/engine"
	"quiz-attempt-engine/internal/gateway"
	"quiz-attempt-engine/internal/infra/memory"
	"quiz-attempt-engine/internal/infra/postgres"
	redisinfra "quiz-attempt-engine/internal/infra/redis"
	"quiz-attempt-engine/internal/transport/ws"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewServeCmd builds the CLI subcommand to start the engine server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the attempt engine over a WebSocket bridge",
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
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url not configured")
	}

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
	snapshotTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	configTTL := config.Duration(cfg.Quiz.ConfigTTL, 10*time.Minute)
	loader := memory.NewStaticConfigLoader(memory.DefaultConfigs())
	var configs engine.ConfigRepository
	if redisClient != nil {
		configs = redisinfra.NewConfigRepository(redisClient, loader, configTTL)
	} else {
		configs = memory.NewConfigRepository(loader, configTTL)
	}

	backendTimeout := config.Duration(cfg.Backend.Timeout, 10*time.Second)
	client := gateway.NewClient(cfg.Backend.BaseURL, backendTimeout)

	opts := engine.Options{
		TickInterval:   config.Duration(cfg.Quiz.TickInterval, time.Second),
		DebounceWindow: config.Duration(cfg.Quiz.DebounceWindow, 2*time.Second),
		Warnings:       config.WarningThresholds(cfg.Quiz.Warnings),
	}

	newEngine := func(userID string) *engine.Engine {
		var store engine.SnapshotStore
		if redisClient != nil {
			store = redisinfra.NewSnapshotStore(redisClient, userID, snapshotTTL)
		} else {
			store = memory.NewSnapshotStore()
		}
		eng := engine.New(client, store, configs, opts)
		if pool != nil {
			eng.WithArchive(postgres.NewAttemptArchive(pool))
		}
		return eng
	}
	handler := ws.NewAttemptHandler(newEngine)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", handler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
