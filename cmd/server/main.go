package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"botnest/internal/api"
	"botnest/internal/auth"
	"botnest/internal/cache"
	"botnest/internal/chat"
	"botnest/internal/config"
	"botnest/internal/crypto"
	"botnest/internal/metrics"
	"botnest/internal/providers/registry"
	"botnest/internal/queue"
	"botnest/internal/realtime"
	"botnest/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("listen_addr", cfg.HTTP.ListenAddr).
		Str("db_driver", cfg.DB.Driver).
		Str("ai_provider", cfg.AI.Provider).
		Msg("starting botnest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var keyring *crypto.Keyring
	if len(cfg.Crypto.Keys) > 0 {
		keyring, err = crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize keyring")
		}
	} else {
		log.Warn().Msg("no master keys configured, visitor info stored in the clear")
	}

	provider, err := registry.Build(registry.BuildOptions{
		Kind:        cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Endpoint:    cfg.AI.Endpoint,
		MaxRetries:  cfg.AI.MaxRetries,
		BackoffBase: cfg.AI.BackoffBase,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build ai provider")
	}

	m := metrics.Global()
	hub := realtime.NewHub(log.Logger)
	defer hub.Close()
	publisher := realtime.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix)
	bridge := realtime.NewBridge(rdb, cfg.Redis.ChannelPrefix, hub, log.Logger)

	gateway := chat.NewGateway(chat.GatewayConfig{
		Provider: provider,
		Model:    cfg.AI.Model,
		Timeout:  cfg.AI.RequestTimeout,
		Logger:   log.Logger,
		Metrics:  m,
	})
	botCache := cache.NewBotCache(rdb, store, cfg.Redis.BotCacheTTL)
	service := chat.NewService(chat.ServiceConfig{
		Store:         store,
		Bots:          botCache,
		Gateway:       gateway,
		Publisher:     publisher,
		Keyring:       keyring,
		HistoryWindow: cfg.AI.HistoryWindow,
		Logger:        log.Logger,
		Metrics:       m,
	})

	server := api.NewServer(api.ServerConfig{
		Store:          store,
		Auth:           auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Chat:           service,
		Bots:           botCache,
		RateLimiter:    queue.NewRateLimiter(rdb, cfg.Rate.PerMinute),
		Realtime:       realtime.NewHandler(hub, log.Logger, m),
		Logger:         log.Logger,
		Metrics:        m,
		AllowedOrigin:  cfg.HTTP.AllowedOrigin,
		HealthPath:     cfg.HTTP.HealthPath,
		MetricsPath:    cfg.HTTP.MetricsPath,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("realtime bridge: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
