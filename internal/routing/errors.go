package routing

import "errors"

var (
	// ErrInvalidPattern indicates a topic pattern that violates the
	// wildcard grammar (empty, empty segment, or a misplaced #).
	ErrInvalidPattern = errors.New("routing: invalid topic pattern")

	// ErrUnknownRecipient tags the warning logged when a message is
	// addressed to an agent that is not registered. The message is still
	// enqueued; the target may register later and read its history.
	ErrUnknownRecipient = errors.New("routing: unknown recipient")

	// ErrNotRegistered indicates an operation on an agent ID that has no
	// active registration.
	ErrNotRegistered = errors.New("routing: agent not registered")

	// ErrInvalidEnvelope indicates an envelope missing required fields.
	ErrInvalidEnvelope = errors.New("routing: invalid envelope")
)
