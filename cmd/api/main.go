package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"fairroll-backend/internal/config"
	"fairroll-backend/internal/handlers"
	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/services"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "production"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", sl.Err(err))
		os.Exit(1)
	}

	log := setupLogger(cfg.Env)
	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}

	log.Info("Starting server...", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	redisService, err := services.NewRedisService(cfg, log)
	if err != nil {
		log.Error("Failed to connect to Redis", sl.Err(err))
		os.Exit(1)
	}
	defer redisService.Close()

	jwtService := services.NewJWTService(cfg)

	hub := handlers.NewWebSocketHub(log)
	sink := services.FanoutSink{
		services.NewRedisSink(redisService.Client(), cfg.EventChannelPrefix),
		hub,
	}
	queue := services.NewEventQueue(cfg.EventQueueSize, sink, log)

	catalog := services.NewCatalogService(redisService, log)
	dice := services.NewDiceService(redisService, cfg.LockTTL, log)
	settlements := services.NewSettlementService(
		redisService, catalog, dice, queue,
		services.SettlementOptionsFromConfig(cfg),
		log,
	)

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := (&handlers.Router{
		JWT:       jwtService,
		Rolls:     handlers.NewRollHandler(settlements, log),
		Dice:      handlers.NewDiceHandler(dice, log),
		Users:     handlers.NewUserHandler(redisService, log),
		WebSocket: handlers.NewWebSocketHandler(redisService, hub, log),
	}).Engine()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return queue.Run(gctx)
	})

	// The hub outlives the request context so the queue can drain into it.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g.Go(func() error {
		return hub.Run(hubCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop taking rolls before draining the queue.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", sl.Err(err))
		}
		err := queue.Close(shutdownCtx)
		stopHub()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", sl.Err(err))
		os.Exit(1)
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}
