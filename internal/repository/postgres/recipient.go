package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// RecipientRepo implements the per-recipient delivery ledger.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

func (r *RecipientRepo) Upsert(ctx context.Context, rec *domain.CampaignRecipient) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients
			(campaign_id, subscriber_id, email, list_id, status, provider_message_id,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (campaign_id, email) DO UPDATE SET
			status = $5, provider_message_id = $6, updated_at = NOW()
	`, rec.CampaignID, rec.SubscriberID, rec.Email, rec.ListID, rec.Status, rec.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

func (r *RecipientRepo) RecordedEmails(ctx context.Context, campaignID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM campaign_recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("recorded emails: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out[email] = true
	}
	return out, rows.Err()
}

// UpdateStatus flips an existing row's status on a delivery event. A missing
// row is not an error: webhooks can reference campaigns dispatched before
// this subsystem took over the ledger.
func (r *RecipientRepo) UpdateStatus(ctx context.Context, campaignID, email string, status domain.RecipientStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND email = $2
	`, campaignID, email, status)
	if err != nil {
		return fmt.Errorf("update recipient status: %w", err)
	}
	return nil
}

// ListForCampaign returns the ledger rows for operator inspection.
func (r *RecipientRepo) ListForCampaign(ctx context.Context, campaignID string, limit, offset int) ([]domain.CampaignRecipient, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, subscriber_id, email, list_id, status,
			COALESCE(provider_message_id, ''), created_at, updated_at
		FROM campaign_recipients
		WHERE campaign_id = $1
		ORDER BY email
		LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignRecipient
	for rows.Next() {
		var rec domain.CampaignRecipient
		if err := rows.Scan(&rec.CampaignID, &rec.SubscriberID, &rec.Email,
			&rec.ListID, &rec.Status, &rec.ProviderMessageID,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
