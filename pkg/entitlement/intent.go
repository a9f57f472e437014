package entitlement

// Intent is the closed set of reconciliation intents a provider event maps
// to. Classification produces exactly one variant; adding a provider event
// type means adding a case to the classifier, not a string comparison at the
// call site.
type Intent interface {
	isIntent()
}

// LifecycleUpdate carries a fully-populated subscription object from a
// subscription lifecycle event. It is always recurring.
type LifecycleUpdate struct {
	Object BillingObject

	// EventType is the provider event type that caused the update
	EventType string
}

// CheckoutCompleted carries a checkout session reference that still needs
// resolution against the provider: the session alone does not say whether it
// paid for a subscription or a one-time purchase.
type CheckoutCompleted struct {
	SessionID string

	// PaymentIntentID is set when the session references a one-time payment
	PaymentIntentID string

	// SubscriptionID is set when the session references a subscription
	SubscriptionID string
}

// Unhandled marks an event type this module does not process.
type Unhandled struct {
	EventType string
}

func (LifecycleUpdate) isIntent()   {}
func (CheckoutCompleted) isIntent() {}
func (Unhandled) isIntent()         {}
