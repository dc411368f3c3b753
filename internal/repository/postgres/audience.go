package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// ListRepo implements audience.ListRepository.
type ListRepo struct{ db *sql.DB }

// NewListRepo creates a Postgres-backed list repository.
func NewListRepo(db *sql.DB) *ListRepo { return &ListRepo{db: db} }

func (r *ListRepo) GetByScope(ctx context.Context, scope domain.ListScope, eventID *string) (*domain.List, error) {
	var row *sql.Row
	if scope == domain.ListGlobal {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, name, scope, event_id, created_at FROM lists WHERE scope = $1`,
			scope)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, name, scope, event_id, created_at FROM lists WHERE scope = $1 AND event_id = $2`,
			scope, eventID)
	}
	return scanList(row)
}

func (r *ListRepo) GetByID(ctx context.Context, id string) (*domain.List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, scope, event_id, created_at FROM lists WHERE id = $1`, id)
	return scanList(row)
}

func scanList(row *sql.Row) (*domain.List, error) {
	var l domain.List
	err := row.Scan(&l.ID, &l.Name, &l.Scope, &l.EventID, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan list: %w", err)
	}
	return &l, nil
}

func (r *ListRepo) Create(ctx context.Context, list *domain.List) error {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lists (id, name, scope, event_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, list.ID, list.Name, list.Scope, list.EventID)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

// SubscriberRepo implements audience.SubscriberRepository.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
			marketing_unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE email = $1
	`, email).Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName,
		&s.MarketingUnsubscribedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepo) GetByID(ctx context.Context, id string) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
			marketing_unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE id = $1
	`, id).Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName,
		&s.MarketingUnsubscribedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

// Upsert inserts or touches the row for s.Email and fills s.ID with the
// stored id. Incoming blank names never blank out stored ones.
func (r *SubscriberRepo) Upsert(ctx context.Context, s *domain.Subscriber) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (id, email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(NULLIF($3, ''), subscribers.first_name),
			last_name = COALESCE(NULLIF($4, ''), subscribers.last_name),
			updated_at = NOW()
		RETURNING id
	`, s.ID, s.Email, s.FirstName, s.LastName).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) SetMarketingUnsubscribed(ctx context.Context, subscriberID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscribers SET marketing_unsubscribed_at = COALESCE(marketing_unsubscribed_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
	`, subscriberID)
	if err != nil {
		return fmt.Errorf("set marketing unsubscribed: %w", err)
	}
	return nil
}

// SubscriptionRepo implements audience.SubscriptionRepository.
type SubscriptionRepo struct{ db *sql.DB }

// NewSubscriptionRepo creates a Postgres-backed subscription repository.
func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo { return &SubscriptionRepo{db: db} }

func (r *SubscriptionRepo) Get(ctx context.Context, subscriberID, listID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT subscriber_id, list_id, status, status_changed_at, status_changed_by,
			metadata, created_at
		FROM subscriptions WHERE subscriber_id = $1 AND list_id = $2
	`, subscriberID, listID).Scan(&sub.SubscriberID, &sub.ListID, &sub.Status,
		&sub.StatusChangedAt, &sub.StatusChangedBy, &metadata, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("decode subscription metadata: %w", err)
		}
	}
	return &sub, nil
}

func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("encode subscription metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subscriptions
			(subscriber_id, list_id, status, status_changed_at, status_changed_by,
			 metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (subscriber_id, list_id) DO UPDATE SET
			status = $3, status_changed_at = $4, status_changed_by = $5, metadata = $6
	`, sub.SubscriberID, sub.ListID, sub.Status, sub.StatusChangedAt,
		sub.StatusChangedBy, metadata)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) MembersForLists(ctx context.Context, listIDs []string) ([]domain.AudienceMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.email, COALESCE(s.first_name, ''), COALESCE(s.last_name, ''),
			sub.list_id, sub.status, sub.metadata, s.marketing_unsubscribed_at
		FROM subscriptions sub
		JOIN subscribers s ON s.id = sub.subscriber_id
		WHERE sub.list_id = ANY($1)
		ORDER BY s.email, sub.list_id
	`, pq.Array(listIDs))
	if err != nil {
		return nil, fmt.Errorf("members for lists: %w", err)
	}
	defer rows.Close()

	var out []domain.AudienceMember
	for rows.Next() {
		var m domain.AudienceMember
		var metadata []byte
		if err := rows.Scan(&m.SubscriberID, &m.Email, &m.FirstName, &m.LastName,
			&m.ListID, &m.Status, &metadata, &m.MarketingUnsubscribedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode member metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
