package entitlement

import "time"

// Subscription status values mirror Stripe's subscription lifecycle.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusPaused            = "paused"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusUnpaid            = "unpaid"
)

// Payment intent status values for one-time (lifetime) purchases.
const (
	PaymentIntentStatusSucceeded      = "succeeded"
	PaymentIntentStatusProcessing     = "processing"
	PaymentIntentStatusRequiresAction = "requires_action"
	PaymentIntentStatusCanceled       = "canceled"
)

// RecurringState tracks the user's renewing subscription, if any.
type RecurringState struct {
	// SubscriptionID is the provider's subscription identifier
	SubscriptionID string

	// Status is the provider-reported subscription status
	Status string
}

// LifetimeState tracks a one-time lifetime purchase. Once recorded it is
// never cleared; the status is last-write-wins.
type LifetimeState struct {
	// PaymentIntentID is the provider's payment intent identifier
	PaymentIntentID string

	// Status is the provider-reported payment intent status
	Status string
}

// SubscriptionRecord is the per-user billing state. The recurring and
// lifetime halves are independent: a user may hold both at once, and an
// update to one half never touches the other.
type SubscriptionRecord struct {
	Recurring *RecurringState
	Lifetime  *LifetimeState
}

// Profile is the view of a user profile this package needs. Profiles are
// owned by the application; stores expose them via ProfileStore.
type Profile struct {
	// ID is the stable internal profile identifier
	ID string

	// CustomerID is the external billing customer identifier
	// (unique, immutable once assigned)
	CustomerID string

	// Premium is the cached entitlement flag; always equals
	// IsPremium(Subscription) after a successful reconciliation
	Premium bool

	// Subscription is the embedded billing state
	Subscription SubscriptionRecord

	// Version is the optimistic-concurrency token maintained by the store.
	// Conditional updates fail with ErrStoreConflict when it has moved.
	Version int64
}

// BillingObject is the provider-neutral projection of a billing object
// (a subscription or a payment intent) that the merge operates on.
type BillingObject struct {
	// ID is the object's provider identifier
	ID string

	// Customer is the external billing customer identifier
	Customer string

	// Status is the object's provider-reported status
	Status string
}

// Notification types emitted by this package.
const (
	NotificationSubscriptionRecurring = "subscription.recurring"
	NotificationSubscriptionLifetime  = "subscription.lifetime"
	NotificationReply                 = "reply"
	NotificationLike                  = "like"
)

// Notification is an append-only, user-visible notification record.
// CreatedAt is assigned by the store at write time.
type Notification struct {
	ID     string
	UserID string
	Type   string
	Data   map[string]interface{}

	// DedupKey, when non-empty, makes the create conditional: a second
	// create with the same key fails with ErrDuplicateNotification.
	DedupKey string

	CreatedAt time.Time
}
