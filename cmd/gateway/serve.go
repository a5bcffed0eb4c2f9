package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"inference_gateway/internal/httpapi"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/metrics"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/registry"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
)

var servePort string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = servePort
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx)
		},
	}
	serveCmd.Flags().StringVar(&servePort, "port", "", "Override HTTP_PORT")
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context) error {
	log := utils.NewLogger("server")

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	keyRepo := storage.NewAPIKeyRepository(db)
	var cacheHealth httpapi.HealthChecker
	if cfg.Redis.Enabled {
		rc, err := storage.DialRedis(ctx, &redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		cacheHealth = rc
		keyRepo = storage.NewSharedAPIKeyRepository(db, rc.KeyCache(cfg.Redis.KeyPrefix, cfg.Cache.APIKeyCacheTTL))
		log.Info("Redis key cache enabled", "address", cfg.Redis.Address)
	}

	upstream := providers.NewInferenceClient(providers.InferenceClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	})
	defer upstream.Close()

	var requestLogger *logging.RequestLogger
	if cfg.RequestLogger.Enabled {
		requestLogger, err = logging.NewRequestLogger(logging.RequestLoggerConfig{
			FilePath:   cfg.RequestLogger.FilePath,
			MaxSizeMB:  cfg.RequestLogger.MaxSizeMB,
			MaxBackups: cfg.RequestLogger.MaxBackups,
			MaxAgeDays: cfg.RequestLogger.MaxAgeDays,
			Compress:   cfg.RequestLogger.Compress,
			BufferSize: cfg.RequestLogger.BufferSize,
		})
		if err != nil {
			return err
		}
		defer requestLogger.Shutdown()
	}

	handler := httpapi.NewRouter(&httpapi.Dependencies{
		Health:        db,
		CacheHealth:   cacheHealth,
		APIKeys:       httpapi.NewDatabaseAPIKeyStore(keyRepo),
		Keys:          keyRepo,
		Usage:         storage.NewUsageRepository(db),
		Users:         storage.NewUserRepository(db),
		Upstream:      upstream,
		Models:        registry.New(),
		UpstreamCfg:   cfg.Upstream,
		SessionSecret: cfg.JWTSecretBytes(),
		RequestLogger: requestLogger,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Chat responses are written after the upstream call, so the write
	// deadline has to outlast it. No upstream timeout means no write deadline.
	var writeTimeout time.Duration
	if cfg.Upstream.Timeout > 0 {
		writeTimeout = cfg.Upstream.Timeout + 30*time.Second
	}
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go cleanupKeyCache(ctx, db)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", "addr", server.Addr, "upstream", cfg.Upstream.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server forced to shutdown", "error", err)
	}
	log.Info("Server exited")
	return nil
}

// cleanupKeyCache evicts expired key cache entries until ctx is done.
func cleanupKeyCache(ctx context.Context, db *storage.DB) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.CleanupExpiredCacheEntries()
			metrics.APIKeyCacheSize.Set(float64(db.GetAPIKeyCache().Len()))
		}
	}
}
