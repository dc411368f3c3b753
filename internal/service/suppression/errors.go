package suppression

import "errors"

var (
	// ErrEmptyEmail is returned when a suppression is requested for a blank address.
	ErrEmptyEmail = errors.New("email is required")

	// ErrUnknownReason is returned for a reason outside bounce/complaint.
	ErrUnknownReason = errors.New("unknown suppression reason")
)
