package billing

import "errors"

// Failure classes surfaced by the ingestion gate. Anything else returned from
// Ingest is a transient store/transaction failure and should be answered with
// a server error so the provider redelivers.
var (
	// ErrInvalidPayload marks a malformed or incomplete delivery. No event row
	// is written; the caller has to fix the payload, redelivery will not help.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrInvalidSignature marks a failed authenticity check. No event row is
	// written; an unauthenticated request must not consume a dedup slot.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUserNotFound is the retryable business failure from settlement step 3:
	// the event stays FAILED so a redelivery can retry after the user exists.
	ErrUserNotFound = errors.New("user not found")
)
