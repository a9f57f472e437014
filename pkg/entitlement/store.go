package entitlement

import "context"

// ProfileStore is the persistence boundary for user profiles. Implementations
// must make UpdatePremiumAndSubscription conditional on the version read by
// FindByCustomerID so that concurrent reconciliations for the same profile
// cannot silently drop each other's writes.
type ProfileStore interface {
	// FindByCustomerID looks up the profile referencing the external billing
	// customer id. Returns ErrProfileNotFound if no profile references it.
	FindByCustomerID(ctx context.Context, customerID string) (*Profile, error)

	// UpdatePremiumAndSubscription persists the derived premium flag and the
	// merged subscription record. The write only succeeds when the stored
	// version still equals version; otherwise it returns ErrStoreConflict
	// and the caller re-reads and retries.
	UpdatePremiumAndSubscription(ctx context.Context, profileID string, version int64, premium bool, record SubscriptionRecord) error
}

// NotificationStore is the append-only persistence boundary for user
// notifications. CreatedAt is assigned at write time by the store.
type NotificationStore interface {
	// Create appends a notification and returns its id. When n.DedupKey is
	// non-empty and a notification with that key already exists, Create
	// returns ErrDuplicateNotification and writes nothing.
	Create(ctx context.Context, n *Notification) (string, error)
}

// EventDeduper optionally short-circuits redelivered webhook events before
// any processing. Seen is checked before work starts, Mark records the event
// after the whole reconciliation succeeded. Races between concurrent
// deliveries of the same event are harmless: the merge is idempotent and
// notifications carry their own dedup keys.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}
