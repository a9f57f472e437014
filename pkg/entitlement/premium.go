package entitlement

// IsPremium derives the entitlement flag from the full subscription record.
// It is the single source of truth: callers re-derive it on every
// reconciliation instead of patching the cached flag incrementally.
//
// A user is premium when the recurring subscription is active or trialing,
// or when a lifetime purchase has succeeded. The two halves are independent;
// a succeeded lifetime purchase keeps the user premium regardless of the
// recurring status.
func IsPremium(record SubscriptionRecord) bool {
	if r := record.Recurring; r != nil {
		if r.Status == SubscriptionStatusActive || r.Status == SubscriptionStatusTrialing {
			return true
		}
	}
	if l := record.Lifetime; l != nil && l.Status == PaymentIntentStatusSucceeded {
		return true
	}
	return false
}
