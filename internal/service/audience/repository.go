package audience

import (
	"context"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// ListRepository persists audience lists.
type ListRepository interface {
	// GetByScope returns the list for a scope, or nil when absent. eventID is
	// ignored for the global scope.
	GetByScope(ctx context.Context, scope domain.ListScope, eventID *string) (*domain.List, error)

	// GetByID returns the list by id, or nil when absent.
	GetByID(ctx context.Context, id string) (*domain.List, error)

	// Create inserts a new list.
	Create(ctx context.Context, list *domain.List) error
}

// SubscriberRepository persists subscribers keyed by normalized email.
type SubscriberRepository interface {
	// GetByEmail returns the subscriber for a normalized email, or nil.
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)

	// GetByID returns the subscriber by id, or nil when absent.
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)

	// Upsert inserts the subscriber or updates the row matching its email,
	// filling s.ID with the stored id either way. Existing non-empty names
	// are kept when the incoming value is blank.
	Upsert(ctx context.Context, s *domain.Subscriber) error

	// SetMarketingUnsubscribed stamps the account-wide marketing opt-out.
	SetMarketingUnsubscribed(ctx context.Context, subscriberID string) error
}

// SubscriptionRepository persists the (subscriber, list) ledger.
type SubscriptionRepository interface {
	// Get returns the row for the pair, or nil when absent.
	Get(ctx context.Context, subscriberID, listID string) (*domain.Subscription, error)

	// Upsert inserts or updates the row for (sub.SubscriberID, sub.ListID).
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// MembersForLists returns every (subscriber, subscription) pair on any of
	// the given lists, joined into audience members.
	MembersForLists(ctx context.Context, listIDs []string) ([]domain.AudienceMember, error)
}
