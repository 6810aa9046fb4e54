package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/admin"
	"github.com/louros-pizzaria/cardapio-digital-sub002/attendant"
	"github.com/louros-pizzaria/cardapio-digital-sub002/cache"
	"github.com/louros-pizzaria/cardapio-digital-sub002/cfg"
	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
	"github.com/louros-pizzaria/cardapio-digital-sub002/orders"
	"github.com/louros-pizzaria/cardapio-digital-sub002/realtime"
	"github.com/louros-pizzaria/cardapio-digital-sub002/schedule"
	"github.com/louros-pizzaria/cardapio-digital-sub002/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("station_id", cfg.Config.StationID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Cardápio Digital - realtime order service")
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores
	pool, err := pgxpool.New(ctx, cfg.Config.Store.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create postgres pool")
		return
	}
	defer pool.Close()

	scheduleStore := schedule.NewStore(pool)
	if err := scheduleStore.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schedule store")
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Config.Store.RedisAddr,
		DB:   cfg.Config.Store.RedisDB,
	})
	defer redisClient.Close()

	// Query cache: in-process plus the shared Redis keyspace
	queryCache := cache.NewMemoryCache()
	invalidator := cache.Multi{
		queryCache,
		cache.NewRedisInvalidator(redisClient, ""),
	}

	// Change-feed transport and subscription manager
	transport, err := feed.NewTransport(cfg.Config.Realtime)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create change-feed transport")
		return
	}
	defer transport.Close()

	mgr := realtime.NewManager(transport, invalidator, realtime.OptionsFromConfig(cfg.Config.Realtime))
	defer mgr.DisposeAll()

	// Attendant consumer: chime + auto-print on new orders
	consumer := attendant.NewConsumer(mgr, attendant.LogPrinter{}, attendant.LogChime{},
		attendant.ConfigFromGlobal(cfg.Config.Attendant))
	if err := consumer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start attendant consumer")
		return
	}
	defer consumer.Close()

	// Admin HTTP surface; order reads go through the in-process query cache
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewHandlers(scheduleStore, orders.NewStore(pool), queryCache, mgr))
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port),
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Admin HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Admin HTTP server shutdown failed")
	}
}
