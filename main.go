package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cameroncuttingedge/battleship/api"
	"github.com/cameroncuttingedge/battleship/archive"
	"github.com/cameroncuttingedge/battleship/config"
	"github.com/cameroncuttingedge/battleship/session"
	"github.com/cameroncuttingedge/battleship/settlement"
	"github.com/cameroncuttingedge/battleship/store"
	"github.com/cameroncuttingedge/battleship/timer"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	InitializeLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	matchStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", string(cfg.StoreBackend)).Msg("Failed to open match store")
	}
	defer matchStore.Close()

	var client settlement.Client = settlement.LocalClient{}
	if cfg.SettlementURL != "" {
		client = settlement.NewHTTPClient(cfg.SettlementURL, cfg.SettlementToken)
	} else {
		log.Warn().Msg("SETTLEMENT_URL not set, using local settlement client")
	}
	settler := settlement.NewSettler(client, settlement.RetryPolicy{
		Attempts: cfg.SettlementAttempts,
		Backoff:  cfg.SettlementBackoff,
	})

	scheduler, err := timer.NewGocronScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	deps := session.Deps{
		Store:     matchStore,
		Settler:   settler,
		Scheduler: scheduler,
		Clock:     clockwork.NewRealClock(),
	}
	if cfg.ArchiveEnabled {
		archiver, err := archive.NewR2Archiver(ctx, cfg.CloudflareAccount, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2BucketName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize R2 archiver")
		}
		deps.Archiver = archiver
	}

	manager := session.NewManager(session.Config{
		TurnTimeout:  cfg.TurnTimeout,
		MatchTimeout: cfg.MatchTimeout,
	}, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", string(cfg.StoreBackend)).Msg("Starting App")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	manager.Shutdown()
	settler.Close()
	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.NewRedisStore(ctx, cfg.RedisURL)
	case config.StorePostgres:
		return store.NewPostgresStore(cfg.DatabaseURL)
	default:
		return store.NewMemoryStore(), nil
	}
}

func InitializeLogger() {
	loggingEnabled := os.Getenv("LOGGING")
	if loggingEnabled != "true" {
		log.Logger = log.Output(os.Stdout)
	} else {
		logFile := os.Getenv("LOG_FILE")
		if logFile == "" {
			logFile = "battleship.log"
		}
		runLogFile, err := os.OpenFile(
			logFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0664,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}
		multi := zerolog.MultiLevelWriter(runLogFile, os.Stdout)
		log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
