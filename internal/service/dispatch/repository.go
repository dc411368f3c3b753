package dispatch

import (
	"context"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// CampaignRepository loads campaigns and applies status transitions.
type CampaignRepository interface {
	// GetByID returns the campaign with its associated list ids, or nil.
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)

	// UpdateStatus moves the campaign to the given status; CampaignSent also
	// stamps sent_at.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
}

// RecipientRepository persists the per-recipient delivery ledger.
type RecipientRepository interface {
	// Upsert writes the row keyed by (r.CampaignID, r.Email).
	Upsert(ctx context.Context, r *domain.CampaignRecipient) error

	// RecordedEmails returns the normalized emails already recorded for the
	// campaign, used to skip recipients when a run resumes.
	RecordedEmails(ctx context.Context, campaignID string) (map[string]bool, error)
}

// StatsRepository maintains the per-campaign aggregate counter row. Increment
// creates the row on first touch and adds each delta atomically.
type StatsRepository interface {
	Increment(ctx context.Context, campaignID string, delta domain.CampaignStats) error
}
