package domain

import "time"

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonBounce    SuppressionReason = "bounce"
	ReasonComplaint SuppressionReason = "complaint"
)

// Outranks reports whether r is a stronger suppression signal than other.
// A complaint outranks a bounce; upserts never downgrade the reason.
func (r SuppressionReason) Outranks(other SuppressionReason) bool {
	return r == ReasonComplaint && other == ReasonBounce
}

// Suppression is a permanent, list-independent block on an email address.
// Keyed by normalized email; presence unconditionally excludes the address
// from every future marketing send regardless of subscription state.
type Suppression struct {
	Email      string            `json:"email" db:"email"`
	Reason     SuppressionReason `json:"reason" db:"reason"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}
