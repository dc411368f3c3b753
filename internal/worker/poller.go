package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/distlock"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
)

// DefaultPollInterval is how often the poller looks for due campaigns.
const DefaultPollInterval = 30 * time.Second

// dispatchLockTTL bounds how long a crashed worker can hold a campaign lock.
const dispatchLockTTL = 15 * time.Minute

// DueLister finds scheduled campaigns whose send time has passed.
type DueLister interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Dispatcher runs one campaign send.
type Dispatcher interface {
	Run(ctx context.Context, campaignID string) error
}

// NewDispatchLock builds the per-campaign single-writer lock. Every dispatch
// path (poller tick, HTTP send trigger) must go through the same key and TTL,
// otherwise two paths can send the same campaign concurrently.
func NewDispatchLock(redisClient *redis.Client, db *sql.DB, campaignID string) distlock.DistLock {
	return distlock.New(redisClient, db, "dispatch:"+campaignID, dispatchLockTTL)
}

// Poller wakes up on an interval, finds due scheduled campaigns, and
// dispatches each under a per-campaign distributed lock so that two worker
// processes never send the same campaign concurrently.
type Poller struct {
	campaigns  DueLister
	dispatcher Dispatcher
	redis      *redis.Client
	db         *sql.DB
	interval   time.Duration
}

func NewPoller(campaigns DueLister, dispatcher Dispatcher, redisClient *redis.Client, db *sql.DB) *Poller {
	return &Poller{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		redis:      redisClient,
		db:         db,
		interval:   DefaultPollInterval,
	}
}

// Start blocks until ctx is cancelled, dispatching due campaigns every tick.
func (p *Poller) Start(ctx context.Context) {
	logger.Info("campaign poller started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// One immediate pass so a restart doesn't delay overdue campaigns.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("campaign poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	ids, err := p.campaigns.DueScheduled(ctx, time.Now(), 20)
	if err != nil {
		logger.Error("due campaign lookup failed", "error", err.Error())
		return
	}
	for _, id := range ids {
		p.dispatchOne(ctx, id)
	}
}

func (p *Poller) dispatchOne(ctx context.Context, campaignID string) {
	lock := NewDispatchLock(p.redis, p.db, campaignID)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("dispatch lock failed", "campaign_id", campaignID, "error", err.Error())
		return
	}
	if !acquired {
		logger.Debug("campaign locked by another worker", "campaign_id", campaignID)
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("dispatch lock release failed", "campaign_id", campaignID, "error", err.Error())
		}
	}()

	if err := p.dispatcher.Run(ctx, campaignID); err != nil {
		logger.Error("campaign dispatch failed", "campaign_id", campaignID, "error", err.Error())
	}
}
