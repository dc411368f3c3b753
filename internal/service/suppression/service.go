package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
)

// Service is the suppression registry.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsSuppressed reports whether the address is on the registry.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	entry, err := s.repo.Get(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("get suppression: %w", err)
	}
	return entry != nil, nil
}

// FilterSuppressed partitions emails into (deliverable, suppressed). Input
// addresses are normalized before lookup; the returned slices preserve input
// order and the original spelling of each address.
func (s *Service) FilterSuppressed(ctx context.Context, emails []string) (deliverable, suppressed []string, err error) {
	if len(emails) == 0 {
		return nil, nil, nil
	}

	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = domain.NormalizeEmail(e)
	}

	blocked, err := s.repo.ListEmails(ctx, normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("list suppressions: %w", err)
	}

	for i, e := range emails {
		if _, ok := blocked[normalized[i]]; ok {
			suppressed = append(suppressed, e)
		} else {
			deliverable = append(deliverable, e)
		}
	}
	return deliverable, suppressed, nil
}

// Suppress records an address on the registry. Re-suppressing an existing
// entry is a no-op unless the new reason outranks the stored one, in which
// case the entry is escalated. The reverse downgrade never happens.
func (s *Service) Suppress(ctx context.Context, email string, reason domain.SuppressionReason, campaignID string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmptyEmail
	}
	if reason != domain.ReasonBounce && reason != domain.ReasonComplaint {
		return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}

	existing, err := s.repo.Get(ctx, email)
	if err != nil {
		return fmt.Errorf("get suppression: %w", err)
	}

	if existing != nil {
		if !reason.Outranks(existing.Reason) {
			return nil
		}
		existing.Reason = reason
		existing.UpdatedAt = time.Now().UTC()
		if err := s.repo.Upsert(ctx, existing); err != nil {
			return fmt.Errorf("escalate suppression: %w", err)
		}
		logger.Info("suppression escalated", "email", email, "reason", string(reason))
		return nil
	}

	now := time.Now().UTC()
	entry := &domain.Suppression{
		Email:      email,
		Reason:     reason,
		CampaignID: campaignID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	logger.Info("address suppressed", "email", email, "reason", string(reason), "campaign_id", campaignID)
	return nil
}
