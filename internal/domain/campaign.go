package domain

import "time"

// CampaignType distinguishes marketing mail (subject to opt-in filtering)
// from transactional notifications (suppression-filtered only).
type CampaignType string

const (
	CampaignMarketing    CampaignType = "marketing"
	CampaignNotification CampaignType = "notification"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

// Campaign represents one outbound email definition targeting one or more lists.
// Status transitions are owned by the dispatch job; the operator only ever
// creates drafts and schedules them.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	ReplyTo     string         `json:"reply_to" db:"reply_to"`
	HTMLContent string         `json:"html_content" db:"html_content"`
	TextContent string         `json:"text_content" db:"text_content"`
	Type        CampaignType   `json:"type" db:"type"`
	Status      CampaignStatus `json:"status" db:"status"`
	EventID     *string        `json:"event_id" db:"event_id"`
	ListIDs     []string       `json:"list_ids" db:"-"`
	ScheduledAt *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true once the campaign has fully dispatched.
func (c *Campaign) IsTerminal() bool { return c.Status == CampaignSent }

// RecipientStatus enumerates the per-recipient delivery ledger states.
type RecipientStatus string

const (
	RecipientAccepted RecipientStatus = "accepted"
	RecipientFailed   RecipientStatus = "failed"
	RecipientBounced  RecipientStatus = "bounced"
)

// CampaignRecipient is one row per (campaign, resolved subscriber) at send
// time. The (campaign_id, email) pair is the idempotency key: a retried
// dispatch upserts on it and never double-sends.
type CampaignRecipient struct {
	CampaignID        string          `json:"campaign_id" db:"campaign_id"`
	SubscriberID      string          `json:"subscriber_id" db:"subscriber_id"`
	Email             string          `json:"email" db:"email"`
	ListID            string          `json:"list_id" db:"list_id"`
	Status            RecipientStatus `json:"status" db:"status"`
	ProviderMessageID string          `json:"provider_message_id" db:"provider_message_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// CampaignStats is the single aggregate counter row per campaign. Counters
// are incremented transactionally alongside the events that cause them and
// are never recomputed by scanning recipients.
type CampaignStats struct {
	CampaignID            string `json:"campaign_id" db:"campaign_id"`
	TargetedCount         int    `json:"targeted_count" db:"targeted_count"`
	SuppressedCount       int    `json:"suppressed_count" db:"suppressed_count"`
	ProviderAcceptedCount int    `json:"provider_accepted_count" db:"provider_accepted_count"`
	BouncedCount          int    `json:"bounced_count" db:"bounced_count"`
}
