package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watportal/internal/app"
	"watportal/internal/db"
	"watportal/internal/store"
	"watportal/internal/wat"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "watportal").Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo   wat.Repository
		dbConn *sql.DB
	)
	switch cfg.Store {
	case app.StoreMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		repo = store.NewMemory()
	case app.StoreBolt:
		boltStore, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.BoltPath).Msg("bolt store error")
		}
		defer boltStore.Close()
		repo = boltStore
	default:
		dbConn, err = db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("database error")
		}
		defer dbConn.Close()

		if err := db.Migrate(ctx, dbConn); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		repo = store.NewPostgres(dbConn)
	}

	limiter := app.NewIPRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	go sweepLimiter(ctx, limiter)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: app.NewRouter(cfg, app.Deps{
			Logger:  logger,
			Repo:    repo,
			DB:      dbConn,
			Limiter: limiter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Str("env", cfg.AppEnv).Msg("watportal listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("watportal stopped")
}

func sweepLimiter(ctx context.Context, l *app.IPRateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
