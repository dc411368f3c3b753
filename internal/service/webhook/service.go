package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
	"github.com/dfiore1230/eventschedule-sub000/internal/provider"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
)

// Suppressor records an address on the suppression registry.
type Suppressor interface {
	Suppress(ctx context.Context, email string, reason domain.SuppressionReason, campaignID string) error
}

// Unsubscriber applies a subscription opt-out.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, email string, scope domain.UnsubscribeScope, listID string, actor domain.Actor) error
}

// StatsRepository increments per-campaign counters.
type StatsRepository interface {
	Increment(ctx context.Context, campaignID string, delta domain.CampaignStats) error
}

// RecipientRepository flips a recipient ledger row's status on delivery events.
type RecipientRepository interface {
	UpdateStatus(ctx context.Context, campaignID, email string, status domain.RecipientStatus) error
}

// Ingester processes one provider's webhook deliveries.
type Ingester struct {
	mailer     provider.Mailer
	registry   Suppressor
	ledger     Unsubscriber
	stats      StatsRepository
	recipients RecipientRepository
}

func NewIngester(mailer provider.Mailer, registry Suppressor, ledger Unsubscriber, stats StatsRepository, recipients RecipientRepository) *Ingester {
	return &Ingester{mailer: mailer, registry: registry, ledger: ledger, stats: stats, recipients: recipients}
}

// Process verifies and parses a raw webhook request, then applies its events.
// The error return is for logging only: the HTTP handler acknowledges the
// vendor with 200 regardless, so a bad delivery is never retried into a storm.
func (i *Ingester) Process(ctx context.Context, r *http.Request) error {
	result, err := i.mailer.ParseWebhook(r)
	if err != nil {
		return err
	}
	if result == nil || result.Empty() {
		return nil
	}
	return i.Apply(ctx, result)
}

// Apply writes the normalized events. Individual event failures are recorded
// and skipped so one bad event never blocks the rest of the delivery.
func (i *Ingester) Apply(ctx context.Context, result *domain.WebhookResult) error {
	var failures []error

	failures = append(failures, i.applySuppressions(ctx, result.Bounces, domain.ReasonBounce)...)
	failures = append(failures, i.applySuppressions(ctx, result.Complaints, domain.ReasonComplaint)...)

	for _, ev := range result.Unsubscribes {
		if ev.Email == "" {
			continue
		}
		scope, listID := domain.ScopeList, ev.ListID
		if ev.UnsubscribeAll || ev.ListID == "" {
			scope, listID = domain.ScopeAll, ""
		}
		if err := i.ledger.Unsubscribe(ctx, ev.Email, scope, listID, domain.ActorProvider); err != nil {
			// An unsubscribe for an address we never mailed is a replayed or
			// stale vendor event, not a failure.
			if errors.Is(err, audience.ErrSubscriberNotFound) {
				continue
			}
			logger.Warn("webhook unsubscribe failed", "email", ev.Email, "error", err.Error())
			failures = append(failures, err)
		}
	}

	return errors.Join(failures...)
}

func (i *Ingester) applySuppressions(ctx context.Context, events []domain.WebhookEvent, reason domain.SuppressionReason) []error {
	var failures []error
	var emails []string

	for _, ev := range events {
		if ev.Email == "" {
			continue
		}
		if err := i.registry.Suppress(ctx, ev.Email, reason, ev.CampaignID); err != nil {
			logger.Warn("webhook suppression failed", "email", ev.Email, "error", err.Error())
			failures = append(failures, err)
			continue
		}
		emails = append(emails, ev.Email)

		if ev.CampaignID != "" {
			if err := i.stats.Increment(ctx, ev.CampaignID, domain.CampaignStats{BouncedCount: 1}); err != nil {
				logger.Warn("bounce counter failed", "campaign_id", ev.CampaignID, "error", err.Error())
				failures = append(failures, err)
			}
			if i.recipients != nil {
				if err := i.recipients.UpdateStatus(ctx, ev.CampaignID, domain.NormalizeEmail(ev.Email), domain.RecipientBounced); err != nil {
					logger.Warn("recipient status update failed", "campaign_id", ev.CampaignID, "error", err.Error())
				}
			}
		}
	}

	// Mirror local suppressions to the vendor's own block list, best-effort.
	if len(emails) > 0 {
		if err := i.mailer.SyncSuppressions(ctx, emails, reason); err != nil {
			logger.Warn("vendor suppression sync failed", "reason", string(reason), "error", err.Error())
		}
	}
	return failures
}
