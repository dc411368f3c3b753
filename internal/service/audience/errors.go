package audience

import "errors"

var (
	// ErrEmptyEmail is returned when an operation is attempted for a blank address.
	ErrEmptyEmail = errors.New("email is required")

	// ErrListNotFound is returned when a referenced list does not exist.
	ErrListNotFound = errors.New("list not found")

	// ErrSubscriberNotFound is returned when an unsubscribe targets an
	// address that was never subscribed.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrListRequired is returned for a list-scoped unsubscribe with no list.
	ErrListRequired = errors.New("list id is required for list-scoped unsubscribe")
)
