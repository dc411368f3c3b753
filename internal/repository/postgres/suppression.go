package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	var s domain.Suppression
	var campaignID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT email, reason, campaign_id, created_at, updated_at
		FROM suppressions WHERE email = $1
	`, email).Scan(&s.Email, &s.Reason, &campaignID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	s.CampaignID = campaignID.String
	return &s, nil
}

func (r *SuppressionRepo) Upsert(ctx context.Context, s *domain.Suppression) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (email, reason, campaign_id, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET reason = $2, updated_at = NOW()
	`, s.Email, s.Reason, s.CampaignID)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) ListEmails(ctx context.Context, emails []string) (map[string]domain.SuppressionReason, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email, reason FROM suppressions WHERE email = ANY($1)
	`, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.SuppressionReason)
	for rows.Next() {
		var email string
		var reason domain.SuppressionReason
		if err := rows.Scan(&email, &reason); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out[email] = reason
	}
	return out, rows.Err()
}
