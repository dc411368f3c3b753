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
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
	"github.com/dfiore1230/eventschedule-sub000/internal/provider"
	"github.com/dfiore1230/eventschedule-sub000/internal/render"
	"github.com/dfiore1230/eventschedule-sub000/internal/repository/postgres"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/dispatch"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/suppression"
	"github.com/dfiore1230/eventschedule-sub000/internal/worker"
)

// The worker owns the scheduled side of delivery: it polls for due campaigns
// and dispatches each under a per-campaign distributed lock, so it can run
// alongside the API server and alongside other workers.
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
	db.SetMaxOpenConns(10)
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

	campaigns := postgres.NewCampaignRepo(db)
	recipients := postgres.NewRecipientRepo(db)
	stats := postgres.NewStatsRepo(db)
	audienceSvc := audience.NewService(
		postgres.NewListRepo(db),
		postgres.NewSubscriberRepo(db),
		postgres.NewSubscriptionRepo(db),
	)
	registry := suppression.NewService(postgres.NewSuppressionRepo(db))

	signer := api.NewLinkSigner(cfg.Server.LinkSecret, cfg.Server.PublicURL, 0)
	limiter := worker.NewRateLimiter(redisClient, cfg.Mailer.Provider, cfg.Mailer.RateLimitPerMin)
	job := dispatch.NewJob(campaigns, recipients, stats, audienceSvc, registry,
		render.New(), mailer, limiter, signer, dispatch.Options{
			BatchSize:  cfg.Mailer.BatchSize,
			FooterText: cfg.Mailer.UnsubscribeText,
		})

	poller := worker.NewPoller(campaigns, job, redisClient, db)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info("worker stopping")
		cancel()
	}()

	poller.Start(ctx)
}
