package entitlement

// EventCheckoutSessionCompleted is the cause event type for checkout
// completions. Merges caused by it notify on the lifetime path even when the
// resolved object is a subscription, so a user who checks out and immediately
// receives the subscription lifecycle event for the same purchase is not
// notified twice.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// NotificationIntent describes the single user notification a merge produced.
type NotificationIntent struct {
	// Type is NotificationSubscriptionRecurring or NotificationSubscriptionLifetime
	Type string

	// Status is the billing object status to include in the notification data
	Status string
}

// MergeResult is the outcome of merging one billing object into a record.
type MergeResult struct {
	Record  SubscriptionRecord
	Premium bool
	Notify  NotificationIntent
}

// Merge computes the new subscription record from the current record and an
// authoritative billing object. The new object fully replaces its own half of
// the record; the other half is left untouched. A canceled recurring
// subscription clears the recurring half to absent. Lifetime state is never
// cleared, only overwritten.
//
// Merge is pure and idempotent: re-applying the same object yields the same
// record, premium flag, and notification intent.
func Merge(current SubscriptionRecord, object BillingObject, recurring bool, causeEventType string) MergeResult {
	next := current

	if recurring {
		if object.Status == SubscriptionStatusCanceled {
			next.Recurring = nil
		} else {
			next.Recurring = &RecurringState{
				SubscriptionID: object.ID,
				Status:         object.Status,
			}
		}
	} else {
		next.Lifetime = &LifetimeState{
			PaymentIntentID: object.ID,
			Status:          object.Status,
		}
	}

	notifyType := NotificationSubscriptionLifetime
	if recurring && causeEventType != EventCheckoutSessionCompleted {
		notifyType = NotificationSubscriptionRecurring
	}

	return MergeResult{
		Record:  next,
		Premium: IsPremium(next),
		Notify: NotificationIntent{
			Type:   notifyType,
			Status: object.Status,
		},
	}
}
