package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/abtime"

	"github.com/iliyamo/star-wheel/internal/config"
	"github.com/iliyamo/star-wheel/internal/database"
	"github.com/iliyamo/star-wheel/internal/logging"
	"github.com/iliyamo/star-wheel/internal/queue"
	"github.com/iliyamo/star-wheel/internal/repository"
	"github.com/iliyamo/star-wheel/internal/router"
	"github.com/iliyamo/star-wheel/internal/service"
	"github.com/iliyamo/star-wheel/internal/utils"
)

func main() {
	cfg := config.Load() // Load environment config
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var replay service.ReplayLog = repository.NewReplayRepo(db)
	if strings.EqualFold(cfg.ReplayBackend, "redis") {
		rdb, err := config.NewRedisClient(ctx, cfg)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		replay = repository.NewRedisReplayLog(rdb, cfg.ReplayRetention)
	}

	clock := abtime.NewRealTime()
	tokens, err := utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, clock)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.EventsEnabled {
		pub := service.NewAMQPPublisher(cfg.RabbitMQURL, logger, service.AMQPOptions{
			Buffer:      cfg.EventsBuffer,
			DialTimeout: cfg.RabbitMQDialTimeout,
		})
		defer pub.Close()
		events = pub

		consumer := &queue.AuditConsumer{URL: cfg.RabbitMQURL, Dir: "logs", Log: logger.With("component", "audit")}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "audit consumer stopped", "err", err)
			}
		}()
	}

	users := repository.NewUserRepo(db)
	auth := service.NewAuthService(users, replay, tokens, utils.NewTelegramVerifier(cfg.TelegramBotToken),
		events, clock, logger, service.AuthOptions{
			AccessTTL:       cfg.AccessTTL(),
			BcryptCost:      cfg.BcryptCost,
			DefaultScopes:   cfg.DefaultScopes,
			AssertionScopes: cfg.AssertionScopes,
		})
	userSvc := service.NewUserService(users, events, clock, logger, cfg.BcryptCost)

	e := router.New(logger, auth, userSvc)

	addr := ":" + cfg.Port
	go func() {
		logger.Info(ctx, "listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver, "replay", cfg.ReplayBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown failed", "err", err)
	}
}
