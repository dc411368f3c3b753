package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/dfiore1230/eventschedule-sub000/internal/api"
	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/distlock"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
	"github.com/dfiore1230/eventschedule-sub000/internal/provider"
	"github.com/dfiore1230/eventschedule-sub000/internal/render"
	"github.com/dfiore1230/eventschedule-sub000/internal/repository/postgres"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/dispatch"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/suppression"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/webhook"
	"github.com/dfiore1230/eventschedule-sub000/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		logger.Error("database unreachable", "error", err.Error())
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis url", "error", err.Error())
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	mailer, err := provider.New(cfg.Mailer)
	if err != nil {
		logger.Error("mailer setup failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("mailer configured", "provider", string(mailer.Name()))

	campaigns := postgres.NewCampaignRepo(db)
	recipients := postgres.NewRecipientRepo(db)
	stats := postgres.NewStatsRepo(db)
	suppressions := postgres.NewSuppressionRepo(db)
	lists := postgres.NewListRepo(db)
	subscribers := postgres.NewSubscriberRepo(db)
	subscriptions := postgres.NewSubscriptionRepo(db)

	audienceSvc := audience.NewService(lists, subscribers, subscriptions)
	registry := suppression.NewService(suppressions)
	ingester := webhook.NewIngester(mailer, registry, audienceSvc, stats, recipients)

	signer := api.NewLinkSigner(cfg.Server.LinkSecret, cfg.Server.PublicURL, 0)
	limiter := worker.NewRateLimiter(redisClient, cfg.Mailer.Provider, cfg.Mailer.RateLimitPerMin)
	job := dispatch.NewJob(campaigns, recipients, stats, audienceSvc, registry,
		render.New(), mailer, limiter, signer, dispatch.Options{
			BatchSize:  cfg.Mailer.BatchSize,
			FooterText: cfg.Mailer.UnsubscribeText,
		})

	locks := func(campaignID string) distlock.DistLock {
		return worker.NewDispatchLock(redisClient, db, campaignID)
	}
	handlers := api.NewHandlers(campaigns, stats, recipients, audienceSvc, ingester, job, locks, signer)
	server := api.NewServer(cfg.Server, handlers)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}
