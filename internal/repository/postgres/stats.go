package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// StatsRepo maintains the per-campaign aggregate counter row.
type StatsRepo struct{ db *sql.DB }

// NewStatsRepo creates a Postgres-backed stats repository.
func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

// Increment adds the delta to the campaign's counter row, creating it on
// first touch. The single-statement upsert keeps concurrent webhook
// deliveries race-free.
func (r *StatsRepo) Increment(ctx context.Context, campaignID string, delta domain.CampaignStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_recipient_stats
			(campaign_id, targeted_count, suppressed_count, provider_accepted_count, bounced_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (campaign_id) DO UPDATE SET
			targeted_count = campaign_recipient_stats.targeted_count + $2,
			suppressed_count = campaign_recipient_stats.suppressed_count + $3,
			provider_accepted_count = campaign_recipient_stats.provider_accepted_count + $4,
			bounced_count = campaign_recipient_stats.bounced_count + $5
	`, campaignID, delta.TargetedCount, delta.SuppressedCount,
		delta.ProviderAcceptedCount, delta.BouncedCount)
	if err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	return nil
}

// Get returns the counter row, or a zero-valued row when the campaign has no
// stats yet.
func (r *StatsRepo) Get(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	var s domain.CampaignStats
	err := r.db.QueryRowContext(ctx, `
		SELECT campaign_id, targeted_count, suppressed_count,
			provider_accepted_count, bounced_count
		FROM campaign_recipient_stats WHERE campaign_id = $1
	`, campaignID).Scan(&s.CampaignID, &s.TargetedCount, &s.SuppressedCount,
		&s.ProviderAcceptedCount, &s.BouncedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.CampaignStats{CampaignID: campaignID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &s, nil
}
