package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
)

// Service manages lists and the subscription ledger.
type Service struct {
	lists         ListRepository
	subscribers   SubscriberRepository
	subscriptions SubscriptionRepository
}

func NewService(lists ListRepository, subscribers SubscriberRepository, subscriptions SubscriptionRepository) *Service {
	return &Service{lists: lists, subscribers: subscribers, subscriptions: subscriptions}
}

// EnsureList returns the list for the scope, creating it on first touch.
// The global list exists at most once; event lists at most once per event.
func (s *Service) EnsureList(ctx context.Context, scope domain.ListScope, eventID *string, name string) (*domain.List, error) {
	existing, err := s.lists.GetByScope(ctx, scope, eventID)
	if err != nil {
		return nil, fmt.Errorf("lookup list: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	list := &domain.List{
		ID:        uuid.New().String(),
		Name:      name,
		Scope:     scope,
		EventID:   eventID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.lists.Create(ctx, list); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	logger.Info("list created", "list_id", list.ID, "scope", string(scope))
	return list, nil
}

// SubscribeInput carries one subscribe/purchase touch.
type SubscribeInput struct {
	Email     string
	ListID    string
	FirstName string
	LastName  string
	Status    domain.SubscriptionStatus
	Actor     domain.Actor
	Metadata  map[string]any
}

// Subscribe records a subscription touch. The subscriber row is created on
// first contact; the (subscriber, list) ledger row is upserted, so repeating
// the same touch never produces a second row. An unsubscribed ledger row is
// re-activated only by an explicit subscriber action, never by a purchase
// import replay.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*domain.Subscription, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return nil, ErrEmptyEmail
	}
	list, err := s.lists.GetByID(ctx, in.ListID)
	if err != nil {
		return nil, fmt.Errorf("lookup list: %w", err)
	}
	if list == nil {
		return nil, fmt.Errorf("%w: %s", ErrListNotFound, in.ListID)
	}
	if in.Status == "" {
		in.Status = domain.SubscriptionSubscribed
	}
	if in.Actor == "" {
		in.Actor = domain.ActorSubscriber
	}

	now := time.Now().UTC()
	sub := &domain.Subscriber{
		ID:        uuid.New().String(),
		Email:     email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.subscribers.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscriber: %w", err)
	}

	existing, err := s.subscriptions.Get(ctx, sub.ID, list.ID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	entry := &domain.Subscription{
		SubscriberID:    sub.ID,
		ListID:          list.ID,
		Status:          in.Status,
		StatusChangedAt: now,
		StatusChangedBy: in.Actor,
		Metadata:        in.Metadata,
		CreatedAt:       now,
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		if existing.Status == domain.SubscriptionUnsubscribed && in.Actor != domain.ActorSubscriber {
			// Imports and operators never override a subscriber's opt-out.
			entry.Status = domain.SubscriptionUnsubscribed
			entry.StatusChangedAt = existing.StatusChangedAt
			entry.StatusChangedBy = existing.StatusChangedBy
		}
		if entry.Metadata == nil {
			entry.Metadata = existing.Metadata
		}
	}
	if err := s.subscriptions.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return entry, nil
}

// Unsubscribe applies an opt-out. ScopeList marks one ledger row
// unsubscribed; ScopeAll stamps the subscriber's account-wide marketing
// opt-out, which excludes them from every marketing campaign regardless of
// per-list state.
func (s *Service) Unsubscribe(ctx context.Context, email string, scope domain.UnsubscribeScope, listID string, actor domain.Actor) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmptyEmail
	}
	sub, err := s.subscribers.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup subscriber: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, logger.RedactEmail(email))
	}

	if scope == domain.ScopeAll {
		if err := s.subscribers.SetMarketingUnsubscribed(ctx, sub.ID); err != nil {
			return fmt.Errorf("set marketing unsubscribed: %w", err)
		}
		logger.Info("account-wide unsubscribe", "email", email, "actor", string(actor))
		return nil
	}

	if listID == "" {
		return ErrListRequired
	}
	existing, err := s.subscriptions.Get(ctx, sub.ID, listID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	now := time.Now().UTC()
	entry := &domain.Subscription{
		SubscriberID:    sub.ID,
		ListID:          listID,
		Status:          domain.SubscriptionUnsubscribed,
		StatusChangedAt: now,
		StatusChangedBy: actor,
		CreatedAt:       now,
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		entry.Metadata = existing.Metadata
	}
	if err := s.subscriptions.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	logger.Info("list unsubscribe", "email", email, "list_id", listID, "actor", string(actor))
	return nil
}

// EmailForSubscriber resolves a subscriber id from a signed link token back
// to the address the ledger is keyed on.
func (s *Service) EmailForSubscriber(ctx context.Context, subscriberID string) (string, error) {
	sub, err := s.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("lookup subscriber: %w", err)
	}
	if sub == nil {
		return "", fmt.Errorf("%w: %s", ErrSubscriberNotFound, subscriberID)
	}
	return sub.Email, nil
}

// ConfirmSubscription completes double opt-in: the (subscriber, list) row
// moves to subscribed. Re-clicking a confirmation link is a no-op.
func (s *Service) ConfirmSubscription(ctx context.Context, subscriberID, listID string) error {
	sub, err := s.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return fmt.Errorf("lookup subscriber: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrSubscriberNotFound, subscriberID)
	}
	existing, err := s.subscriptions.Get(ctx, subscriberID, listID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: no subscription on list %s", ErrSubscriberNotFound, listID)
	}
	if existing.Status == domain.SubscriptionSubscribed {
		return nil
	}

	existing.Status = domain.SubscriptionSubscribed
	existing.StatusChangedAt = time.Now().UTC()
	existing.StatusChangedBy = domain.ActorSubscriber
	if err := s.subscriptions.Upsert(ctx, existing); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	logger.Info("subscription confirmed", "subscriber_id", subscriberID, "list_id", listID)
	return nil
}

// ResolveAudience returns the deduplicated union of all members on the given
// lists. A subscriber appearing on several lists yields one member; a row
// with subscribed status wins over a non-subscribed duplicate so that being
// opted out of one list never hides an active subscription on another.
func (s *Service) ResolveAudience(ctx context.Context, listIDs []string) ([]domain.AudienceMember, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}
	members, err := s.subscriptions.MembersForLists(ctx, listIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	byEmail := make(map[string]int, len(members))
	out := make([]domain.AudienceMember, 0, len(members))
	for _, m := range members {
		key := domain.NormalizeEmail(m.Email)
		if i, seen := byEmail[key]; seen {
			if out[i].Status != domain.SubscriptionSubscribed && m.Status == domain.SubscriptionSubscribed {
				out[i] = m
			}
			continue
		}
		byEmail[key] = len(out)
		out = append(out, m)
	}
	return out, nil
}
