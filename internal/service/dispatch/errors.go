package dispatch

import "errors"

var (
	// ErrCampaignNotFound is returned when the campaign id resolves to nothing.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrFromAddressRejected is returned when the provider refuses the
	// campaign's from address at pre-flight. The campaign is left in its
	// current draft/scheduled state for the operator to fix.
	ErrFromAddressRejected = errors.New("from address rejected by provider")

	// ErrNotScheduled is returned when a scheduled campaign's send time is
	// still in the future.
	ErrNotScheduled = errors.New("campaign scheduled time not reached")
)
