package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// Classify maps a verified Stripe event to a reconciliation intent.
// Subscription lifecycle events carry the full subscription object;
// checkout completions need a follow-up provider lookup because the session
// alone does not say what was bought.
func Classify(event *stripe.Event) (entitlement.Intent, error) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: unmarshal subscription: %v", entitlement.ErrInvalidPayload, err)
		}
		// A bare ID string unmarshals into an ID-only subscription; without
		// a customer there is no profile to reconcile against.
		if sub.Customer == nil || sub.Customer.ID == "" {
			return nil, fmt.Errorf("%w: subscription object without customer", entitlement.ErrInvalidPayload)
		}
		return entitlement.LifecycleUpdate{
			Object:    subscriptionObject(&sub),
			EventType: string(event.Type),
		}, nil

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: unmarshal checkout session: %v", entitlement.ErrInvalidPayload, err)
		}
		intent := entitlement.CheckoutCompleted{SessionID: session.ID}
		if session.PaymentIntent != nil {
			intent.PaymentIntentID = session.PaymentIntent.ID
		}
		if session.Subscription != nil {
			intent.SubscriptionID = session.Subscription.ID
		}
		return intent, nil

	default:
		return entitlement.Unhandled{EventType: string(event.Type)}, nil
	}
}

func subscriptionObject(sub *stripe.Subscription) entitlement.BillingObject {
	obj := entitlement.BillingObject{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		obj.Customer = sub.Customer.ID
	}
	return obj
}

func paymentIntentObject(pi *stripe.PaymentIntent) entitlement.BillingObject {
	obj := entitlement.BillingObject{
		ID:     pi.ID,
		Status: string(pi.Status),
	}
	if pi.Customer != nil {
		obj.Customer = pi.Customer.ID
	}
	return obj
}
