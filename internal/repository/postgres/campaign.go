package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// CampaignRepo implements dispatch.CampaignRepository plus the CRUD the
// operator API needs.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, name, subject, from_name, from_email, reply_to,
	html_content, text_content, type, status, event_id, scheduled_at, sent_at,
	created_at, updated_at`

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, from_name, from_email, reply_to,
			html_content, text_content, type, status, event_id, scheduled_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail, c.ReplyTo,
		c.HTMLContent, c.TextContent, c.Type, c.Status, c.EventID, c.ScheduledAt, now)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	if err := replaceCampaignLists(ctx, tx, c.ID, c.ListIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET name = $2, subject = $3, from_name = $4,
			from_email = $5, reply_to = $6, html_content = $7, text_content = $8,
			type = $9, event_id = $10, scheduled_at = $11, updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'scheduled')
	`, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail, c.ReplyTo,
		c.HTMLContent, c.TextContent, c.Type, c.EventID, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	if err := replaceCampaignLists(ctx, tx, c.ID, c.ListIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceCampaignLists(ctx context.Context, tx *sql.Tx, campaignID string, listIDs []string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM campaign_lists WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear campaign lists: %w", err)
	}
	for _, listID := range listIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_lists (campaign_id, list_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, campaignID, listID); err != nil {
			return fmt.Errorf("attach campaign list: %w", err)
		}
	}
	return nil
}

func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.HTMLContent, &c.TextContent, &c.Type, &c.Status, &c.EventID,
		&c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT list_id FROM campaign_lists WHERE campaign_id = $1 ORDER BY list_id`, id)
	if err != nil {
		return nil, fmt.Errorf("campaign lists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var listID string
		if err := rows.Scan(&listID); err != nil {
			return nil, fmt.Errorf("scan list id: %w", err)
		}
		c.ListIDs = append(c.ListIDs, listID)
	}
	return &c, rows.Err()
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	var err error
	if status == domain.CampaignSent {
		_, err = r.db.ExecContext(ctx,
			`UPDATE campaigns SET status = $2, sent_at = NOW(), updated_at = NOW() WHERE id = $1`,
			id, status)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`,
			id, status)
	}
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	return nil
}

// List returns campaigns filtered by status, newest first. An empty status
// returns everything.
func (r *CampaignRepo) List(ctx context.Context, status domain.CampaignStatus, limit, offset int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail,
			&c.ReplyTo, &c.HTMLContent, &c.TextContent, &c.Type, &c.Status,
			&c.EventID, &c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DueScheduled returns ids of scheduled campaigns whose send time has passed.
func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AttachLists is used by tests and imports to bulk-associate lists.
func (r *CampaignRepo) AttachLists(ctx context.Context, campaignID string, listIDs []string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_lists (campaign_id, list_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, campaignID, pq.Array(listIDs))
	if err != nil {
		return fmt.Errorf("attach lists: %w", err)
	}
	return nil
}
