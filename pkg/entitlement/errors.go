package entitlement

import "errors"

var (
	// ErrInvalidSignature is returned when webhook signature verification fails
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when a webhook payload cannot be read or parsed
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrUnhandledEventType is returned for event types this module does not process.
	// It is non-fatal: the event is acknowledged so the provider stops redelivering.
	ErrUnhandledEventType = errors.New("unhandled event type")

	// ErrProfileNotFound is returned when no profile references the billing
	// customer id. Redelivery cannot resolve it, so it is acknowledged but
	// logged as a data-integrity alert.
	ErrProfileNotFound = errors.New("no profile for billing customer")

	// ErrUpstreamFetch is returned when a billing provider lookup fails after
	// retries. Retryable: surfaced so the provider redelivers.
	ErrUpstreamFetch = errors.New("billing provider fetch failed")

	// ErrStoreConflict is returned when a conditional profile write detects a
	// concurrent update. The reconciler retries internally before surfacing it.
	ErrStoreConflict = errors.New("profile store write conflict")

	// ErrNotificationWrite is returned when notification creation fails after
	// the state update already committed. The committed state is not rolled
	// back; the event is reported retryable.
	ErrNotificationWrite = errors.New("notification write failed")

	// ErrDuplicateNotification is returned by stores when a notification with
	// the same dedup key already exists. Callers treat it as already delivered.
	ErrDuplicateNotification = errors.New("duplicate notification")

	// ErrNotConfigured is returned when a required dependency is missing
	ErrNotConfigured = errors.New("entitlement reconciler not configured")
)
