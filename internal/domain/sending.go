package domain

// ProviderType identifies the email service provider used for sending.
type ProviderType string

const (
	ProviderSendGrid ProviderType = "sendgrid"
	ProviderMailgun  ProviderType = "mailgun"
	ProviderMandrill ProviderType = "mandrill"
	ProviderSMTP     ProviderType = "smtp"
)

// EmailMessage is a fully-rendered message ready for a provider adapter.
// By the time a message reaches this struct, all template substitution and
// footer injection is complete.
type EmailMessage struct {
	Email        string            `json:"email"`
	SubscriberID string            `json:"subscriber_id"`
	CampaignID   string            `json:"campaign_id"`
	ListID       string            `json:"list_id"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to"`
	Subject      string            `json:"subject"`
	HTMLContent  string            `json:"html_content"`
	TextContent  string            `json:"text_content"`
	Headers      map[string]string `json:"headers,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SendResult is the adapter's accounting for one logical batch. Every input
// recipient is represented exactly once: accepted addresses appear as keys in
// MessageIDs, the rest are counted in FailedCount (with an optional reason in
// FailedReasons for operator visibility).
type SendResult struct {
	AcceptedCount int               `json:"accepted_count"`
	FailedCount   int               `json:"failed_count"`
	MessageIDs    map[string]string `json:"message_ids"`
	FailedReasons map[string]string `json:"failed_reasons,omitempty"`
}

// Accepted reports whether the given address was accepted by the provider.
func (r *SendResult) Accepted(email string) bool {
	_, ok := r.MessageIDs[email]
	return ok
}

// WebhookEvent is one normalized delivery event extracted from a provider
// callback. CampaignID/ListID are present only when the vendor echoed back
// the metadata attached at send time.
type WebhookEvent struct {
	Email          string `json:"email"`
	CampaignID     string `json:"campaign_id,omitempty"`
	ListID         string `json:"list_id,omitempty"`
	UnsubscribeAll bool   `json:"unsubscribe_all,omitempty"`
}

// WebhookResult buckets a verified provider callback into the three universal
// event classes. An unverified or malformed callback yields the zero value
// (fail closed, no partial trust).
type WebhookResult struct {
	Bounces      []WebhookEvent `json:"bounces"`
	Complaints   []WebhookEvent `json:"complaints"`
	Unsubscribes []WebhookEvent `json:"unsubscribes"`
}

// Empty reports whether the result carries no events at all.
func (r *WebhookResult) Empty() bool {
	return len(r.Bounces) == 0 && len(r.Complaints) == 0 && len(r.Unsubscribes) == 0
}
