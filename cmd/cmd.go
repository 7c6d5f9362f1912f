package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"geocaching-backend/internal/auth"
	"geocaching-backend/internal/blob"
	"geocaching-backend/internal/config"
	"geocaching-backend/internal/handlers"
	"geocaching-backend/internal/proximity"
	"geocaching-backend/internal/repository"
	"geocaching-backend/internal/repository/memory"
	"geocaching-backend/internal/repository/postgres"
	"geocaching-backend/internal/router"
	"geocaching-backend/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func Run() {
	// Load configuration
	defaultPath := "config.yaml"
	if p := os.Getenv("GEOCACHE_CONFIG"); p != "" {
		defaultPath = p
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	blacklist, closeBlacklist := openBlacklist(ctx, cfg)
	defer closeBlacklist()

	finder, err := proximity.New(cfg.Proximity.Strategy, store.Caches())
	if err != nil {
		return err
	}

	// Notifications
	wsHub := services.NewWSHub()
	notifier := services.MultiNotifier{wsHub}
	if cfg.APNs.Enabled() {
		push, err := services.NewPushNotifier(services.PushConfig{
			KeyPath:    cfg.APNs.KeyPath,
			KeyID:      cfg.APNs.KeyID,
			TeamID:     cfg.APNs.TeamID,
			Topic:      cfg.APNs.Topic,
			Production: cfg.APNs.Production,
		}, store.Users())
		if err != nil {
			return err
		}
		notifier = append(notifier, push)
		log.Info().Str("topic", cfg.APNs.Topic).Bool("production", cfg.APNs.Production).Msg("APNs push enabled")
	}

	// Initialize services
	userService := services.NewUserService(store, blobs, blacklist, cfg.JWT.Secret, cfg.JWT.TTL)
	cacheService := services.NewCacheService(store, finder, blobs, cfg.Uploads.PresignTTL)
	discoveryService := services.NewDiscoveryService(store, notifier)
	rankingService := services.NewRankingService(store)

	// Initialize handlers
	h := router.Handlers{
		Auth:      handlers.NewAuthHandler(userService),
		Cache:     handlers.NewCacheHandler(cacheService, discoveryService),
		Ranking:   handlers.NewRankingHandler(rankingService),
		User:      handlers.NewUserHandler(userService),
		WebSocket: handlers.NewWebSocketHandler(wsHub, userService),
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.New(h, userService, log.Logger, cfg.CORS.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("storage", cfg.Storage.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown
		wsHub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		discoveryService.Wait()
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	// Connect to database
	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test database connection
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.QueryTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := postgres.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info().Msg("Database migrations applied")

	return postgres.NewStore(db, cfg.Database.QueryTimeout), db.Close, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.AWS.S3Bucket == "" {
		log.Warn().Msg("No S3 bucket configured, photos and avatars are kept in memory")
		return blob.NewMemoryStore(), nil
	}
	store, err := blob.NewS3Store(ctx, blob.S3Options{
		Region:    cfg.AWS.Region,
		Bucket:    cfg.AWS.S3Bucket,
		AccessKey: cfg.AWS.AccessKey,
		SecretKey: cfg.AWS.SecretKey,
		Endpoint:  cfg.AWS.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	return store, nil
}

func openBlacklist(ctx context.Context, cfg *config.Config) (auth.Blacklist, func()) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("No Redis configured, token revocations are kept in process")
		return auth.NewMemoryBlacklist(), func() {}
	}

	blacklist := auth.NewRedisBlacklist(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := blacklist.Ping(ctx); err != nil {
		// lookups fail safe until Redis is reachable
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable at startup")
	} else {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	}
	return blacklist, func() {
		if err := blacklist.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}

// setupLogger configures zerolog logger
func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if strings.ToLower(format) != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
