package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/arena"
	"github.com/prepdeck/arena/internal/auth"
	"github.com/prepdeck/arena/internal/gateway"
	"github.com/prepdeck/arena/internal/httpapi"
	"github.com/prepdeck/arena/internal/relay"
	"github.com/prepdeck/arena/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	roomStore, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up room store")
	}
	defer closeStore()

	var eventRelay arena.EventRelay
	if cfg.NATSURL != "" {
		r, err := relay.New(relay.DefaultConfig(cfg.NATSURL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer r.Close()
		eventRelay = r
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go manager.Start(ctx)

	app := arena.NewApp(roomStore, manager, eventRelay, clockwork.NewRealClock(), arena.Config{
		Questions:    cfg.Questions,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err := app.AbandonOrphans(ctx); err != nil {
		log.Error().Err(err).Msg("orphan recovery failed")
	}

	verifier := auth.NewHMACVerifier(cfg.AuthSecret, clockwork.NewRealClock())
	wsHandler := gateway.NewWebSocketHandler(manager, app, verifier)
	apiHandler := httpapi.NewHandler(app, verifier)

	server := setupServer(cfg, wsHandler, apiHandler)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(cfg *Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// setupStore builds the configured durable store backend.
func setupStore(ctx context.Context, cfg *Config) (arena.RoomStore, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		return store.NewRedisStore(rdb), func() { rdb.Close() }, nil
	case "postgres":
		pool, err := setupDatabase(ctx)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, errors.New("STORE_BACKEND must be postgres or redis")
	}
}
