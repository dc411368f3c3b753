package domain

import (
	"strings"
	"time"
)

// NormalizeEmail lowercases and trims an address. Every natural key in this
// subsystem (subscribers, suppressions, recipient rows) uses the normalized
// form so that webhook payloads and operator input converge on the same row.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListScope says whether a list is the site-wide marketing list or scoped to
// a single event.
type ListScope string

const (
	ListGlobal ListScope = "global"
	ListEvent  ListScope = "event"
)

// List is a named audience grouping. One list exists per scope: the global
// list is created once, event lists once per event (lookup-or-create).
type List struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Scope     ListScope `json:"scope" db:"scope"`
	EventID   *string   `json:"event_id" db:"event_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Subscriber is a unique normalized email address with account-wide marketing
// state. Subscribers are created on first subscribe/purchase touch and never
// hard-deleted.
type Subscriber struct {
	ID                      string     `json:"id" db:"id"`
	Email                   string     `json:"email" db:"email"`
	FirstName               string     `json:"first_name" db:"first_name"`
	LastName                string     `json:"last_name" db:"last_name"`
	MarketingUnsubscribedAt *time.Time `json:"marketing_unsubscribed_at" db:"marketing_unsubscribed_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// SubscriptionStatus enumerates a subscriber's state on one specific list.
type SubscriptionStatus string

const (
	SubscriptionPending      SubscriptionStatus = "pending"
	SubscriptionSubscribed   SubscriptionStatus = "subscribed"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

// Actor identifies who caused a subscription status change.
type Actor string

const (
	ActorSubscriber Actor = "subscriber"
	ActorOperator   Actor = "operator"
	ActorProvider   Actor = "provider"
)

// Subscription joins Subscriber and List. At most one row exists per
// (subscriber, list) pair; repeat events upsert into the same row.
type Subscription struct {
	SubscriberID    string             `json:"subscriber_id" db:"subscriber_id"`
	ListID          string             `json:"list_id" db:"list_id"`
	Status          SubscriptionStatus `json:"status" db:"status"`
	StatusChangedAt time.Time          `json:"status_changed_at" db:"status_changed_at"`
	StatusChangedBy Actor              `json:"status_changed_by" db:"status_changed_by"`
	Metadata        map[string]any     `json:"metadata" db:"metadata"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// MarketingOptedOut reports whether the subscription metadata carries an
// explicit marketing_opt_in=false. Absent or non-boolean metadata counts as
// opted in.
func (s *Subscription) MarketingOptedOut() bool {
	v, ok := s.Metadata["marketing_opt_in"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && !b
}

// UnsubscribeScope selects between a single-list opt-out and the account-wide
// marketing opt-out.
type UnsubscribeScope string

const (
	ScopeList UnsubscribeScope = "list"
	ScopeAll  UnsubscribeScope = "all"
)

// AudienceMember is a resolved campaign candidate: one subscriber with the
// subscription that connected them to the campaign's audience.
type AudienceMember struct {
	SubscriberID            string
	Email                   string
	FirstName               string
	LastName                string
	ListID                  string
	Status                  SubscriptionStatus
	Metadata                map[string]any
	MarketingUnsubscribedAt *time.Time
}

// OptedOut mirrors Subscription.MarketingOptedOut for resolved members.
func (m *AudienceMember) OptedOut() bool {
	s := Subscription{Metadata: m.Metadata}
	return s.MarketingOptedOut()
}
