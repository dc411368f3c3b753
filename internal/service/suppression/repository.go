package suppression

import (
	"context"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// Repository persists suppression entries keyed by normalized email.
type Repository interface {
	// Get returns the entry for a normalized email, or nil when absent.
	Get(ctx context.Context, email string) (*domain.Suppression, error)

	// Upsert inserts the entry or updates the existing row for its email.
	Upsert(ctx context.Context, s *domain.Suppression) error

	// ListEmails returns the normalized emails present in the given set.
	ListEmails(ctx context.Context, emails []string) (map[string]domain.SuppressionReason, error)
}
