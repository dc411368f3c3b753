package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
	"github.com/dfiore1230/eventschedule-sub000/internal/provider"
)

// AudienceResolver supplies the deduplicated union of members on a set of lists.
type AudienceResolver interface {
	ResolveAudience(ctx context.Context, listIDs []string) ([]domain.AudienceMember, error)
}

// SuppressionChecker answers whether an address is on the suppression registry.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// MessageRenderer produces one fully-rendered message per audience member.
type MessageRenderer interface {
	Message(c *domain.Campaign, m *domain.AudienceMember, footerText, unsubscribeURL string) (domain.EmailMessage, error)
}

// RateLimiter blocks until n more messages may be submitted to the provider.
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
}

// UnsubscribeLinker builds the signed unsubscribe URL embedded in each message.
type UnsubscribeLinker interface {
	UnsubscribeURL(subscriberID, listID string) string
}

// Options carries the dispatch tunables read from configuration.
type Options struct {
	BatchSize  int
	FooterText string
}

// Job sends one campaign. Construct once per worker; Run may be called for
// many campaigns but the queue layer guarantees at most one concurrent run
// per campaign id.
type Job struct {
	campaigns  CampaignRepository
	recipients RecipientRepository
	stats      StatsRepository
	audience   AudienceResolver
	registry   SuppressionChecker
	renderer   MessageRenderer
	mailer     provider.Mailer
	limiter    RateLimiter
	links      UnsubscribeLinker
	opts       Options
}

func NewJob(
	campaigns CampaignRepository,
	recipients RecipientRepository,
	stats StatsRepository,
	audience AudienceResolver,
	registry SuppressionChecker,
	renderer MessageRenderer,
	mailer provider.Mailer,
	limiter RateLimiter,
	links UnsubscribeLinker,
	opts Options,
) *Job {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Job{
		campaigns:  campaigns,
		recipients: recipients,
		stats:      stats,
		audience:   audience,
		registry:   registry,
		renderer:   renderer,
		mailer:     mailer,
		limiter:    limiter,
		links:      links,
		opts:       opts,
	}
}

// Run executes the dispatch for one campaign id.
func (j *Job) Run(ctx context.Context, campaignID string) error {
	campaign, err := j.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign == nil {
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	if campaign.IsTerminal() {
		logger.Info("campaign already sent, skipping", "campaign_id", campaignID)
		return nil
	}
	if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(time.Now()) {
		return fmt.Errorf("%w: %s", ErrNotScheduled, campaign.ScheduledAt.Format(time.RFC3339))
	}

	// Pre-flight: a rejected from address refuses the whole send and leaves
	// the campaign in draft/scheduled for the operator.
	valid, err := j.mailer.ValidateFromAddress(ctx, campaign.FromEmail)
	if err != nil {
		return fmt.Errorf("validate from address: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: %s", ErrFromAddressRejected, campaign.FromEmail)
	}

	if err := j.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignSending); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	recorded, err := j.recipients.RecordedEmails(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load recorded recipients: %w", err)
	}

	members, err := j.audience.ResolveAudience(ctx, campaign.ListIDs)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	pending, delta, err := j.filter(ctx, campaign, members, recorded)
	if err != nil {
		return err
	}
	if delta.TargetedCount > 0 || delta.SuppressedCount > 0 {
		if err := j.stats.Increment(ctx, campaignID, delta); err != nil {
			return fmt.Errorf("record filter counters: %w", err)
		}
	}

	logger.Info("campaign audience resolved",
		"campaign_id", campaignID,
		"targeted", delta.TargetedCount,
		"suppressed", delta.SuppressedCount,
		"pending", len(pending))

	if err := j.sendAll(ctx, campaign, pending); err != nil {
		return err
	}

	if err := j.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignSent); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	logger.Info("campaign dispatched", "campaign_id", campaignID)
	return nil
}

// filter applies the exclusion rules in order and returns the members that
// survive. Each excluded member increments suppressed_count exactly once even
// when several rules match. Members already recorded for this campaign are a
// resumed run's leftovers and are skipped without touching any counter.
func (j *Job) filter(ctx context.Context, campaign *domain.Campaign, members []domain.AudienceMember, recorded map[string]bool) ([]domain.AudienceMember, domain.CampaignStats, error) {
	var delta domain.CampaignStats
	marketing := campaign.Type == domain.CampaignMarketing

	pending := make([]domain.AudienceMember, 0, len(members))
	for _, m := range members {
		email := domain.NormalizeEmail(m.Email)
		if recorded[email] {
			continue
		}
		delta.TargetedCount++

		if marketing && m.MarketingUnsubscribedAt != nil {
			delta.SuppressedCount++
			continue
		}
		if m.Status != domain.SubscriptionSubscribed {
			delta.SuppressedCount++
			continue
		}
		if marketing && m.OptedOut() {
			delta.SuppressedCount++
			continue
		}
		blocked, err := j.registry.IsSuppressed(ctx, email)
		if err != nil {
			return nil, delta, fmt.Errorf("check suppression: %w", err)
		}
		if blocked {
			delta.SuppressedCount++
			continue
		}
		pending = append(pending, m)
	}
	return pending, delta, nil
}

// sendAll renders the surviving members, partitions them into batches, and
// submits each batch under the rate limit. Provider failures mark the batch's
// recipients failed and the job moves on to the next batch.
func (j *Job) sendAll(ctx context.Context, campaign *domain.Campaign, members []domain.AudienceMember) error {
	messages := make([]domain.EmailMessage, 0, len(members))
	byEmail := make(map[string]domain.AudienceMember, len(members))
	for _, m := range members {
		url := ""
		if j.links != nil {
			url = j.links.UnsubscribeURL(m.SubscriberID, m.ListID)
		}
		msg, err := j.renderer.Message(campaign, &m, j.opts.FooterText, url)
		if err != nil {
			logger.Warn("render failed, recording recipient as failed",
				"campaign_id", campaign.ID, "email", m.Email, "error", err.Error())
			if err := j.record(ctx, campaign.ID, m, domain.RecipientFailed, ""); err != nil {
				return err
			}
			continue
		}
		messages = append(messages, msg)
		byEmail[msg.Email] = m
	}

	for start := 0; start < len(messages); start += j.opts.BatchSize {
		end := start + j.opts.BatchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch := messages[start:end]

		if j.limiter != nil {
			if err := j.limiter.Wait(ctx, len(batch)); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		result, err := j.mailer.SendBatch(ctx, batch)
		if err != nil {
			// Adapter-level error before any provider call; treat the batch
			// as failed and keep going.
			logger.Error("batch submit failed", "campaign_id", campaign.ID, "error", err.Error())
			result = &domain.SendResult{FailedCount: len(batch)}
		}

		accepted := 0
		for _, msg := range batch {
			member := byEmail[msg.Email]
			if id, ok := result.MessageIDs[msg.Email]; ok {
				if err := j.record(ctx, campaign.ID, member, domain.RecipientAccepted, id); err != nil {
					return err
				}
				accepted++
			} else {
				if err := j.record(ctx, campaign.ID, member, domain.RecipientFailed, ""); err != nil {
					return err
				}
			}
		}
		if accepted > 0 {
			if err := j.stats.Increment(ctx, campaign.ID, domain.CampaignStats{ProviderAcceptedCount: accepted}); err != nil {
				return fmt.Errorf("record accepted counter: %w", err)
			}
		}
	}
	return nil
}

func (j *Job) record(ctx context.Context, campaignID string, m domain.AudienceMember, status domain.RecipientStatus, messageID string) error {
	now := time.Now().UTC()
	row := &domain.CampaignRecipient{
		CampaignID:        campaignID,
		SubscriberID:      m.SubscriberID,
		Email:             domain.NormalizeEmail(m.Email),
		ListID:            m.ListID,
		Status:            status,
		ProviderMessageID: messageID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := j.recipients.Upsert(ctx, row); err != nil {
		return fmt.Errorf("record recipient: %w", err)
	}
	return nil
}
