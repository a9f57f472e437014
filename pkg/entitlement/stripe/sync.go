package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// syncCauseEventType marks merges originating from SyncCustomer rather than
// a webhook delivery.
const syncCauseEventType = "sync.customer"

// SyncCustomer re-derives the recurring half of a customer's subscription
// record from the Stripe API. Used for "restore purchases" and periodic
// repair jobs; it never touches the lifetime half, which is append-only and
// fully owned by webhook reconciliation. Concurrent syncs for the same
// customer are collapsed into one API pass.
//
// Returns the resulting premium flag.
func (p *Provider) SyncCustomer(ctx context.Context, customerID string) (bool, error) {
	v, err, _ := p.syncGroup.Do(customerID, func() (interface{}, error) {
		return p.syncCustomer(ctx, customerID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (p *Provider) syncCustomer(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	startTime := time.Now()

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var picked *stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions", "error")
			return false, fmt.Errorf("%w: list subscriptions for %s: %v", entitlement.ErrUpstreamFetch, customerID, err)
		}
		picked = preferSubscription(picked, sub)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions", time.Since(startTime))

	object := entitlement.BillingObject{
		Customer: customerID,
		// No subscriptions at all reconciles as a cancellation, clearing
		// the recurring half.
		Status: entitlement.SubscriptionStatusCanceled,
	}
	if picked != nil {
		object = subscriptionObject(picked)
		object.Customer = customerID
	}

	result, err := p.reconciler.Apply(ctx, entitlement.ApplyInput{
		Object:         object,
		Recurring:      true,
		CauseEventType: syncCauseEventType,
		// Deterministic per resulting state, so repeated syncs that change
		// nothing do not re-notify.
		CauseEventID: fmt.Sprintf("sync:%s:%s:%s", customerID, object.ID, object.Status),
	})
	if err != nil {
		return false, err
	}

	p.logger.Info("customer synced from stripe",
		entitlement.Field{Key: "customer_id", Value: customerID},
		entitlement.Field{Key: "premium", Value: result.Premium},
	)
	return result.Premium, nil
}

// preferSubscription picks the subscription that should drive the recurring
// state: a premium-granting one wins over any other, newest first within the
// same class.
func preferSubscription(current, candidate *stripe.Subscription) *stripe.Subscription {
	if candidate == nil {
		return current
	}
	if current == nil {
		return candidate
	}
	currentGrants := grantsPremium(current)
	candidateGrants := grantsPremium(candidate)
	if candidateGrants != currentGrants {
		if candidateGrants {
			return candidate
		}
		return current
	}
	if candidate.Created > current.Created {
		return candidate
	}
	return current
}

func grantsPremium(sub *stripe.Subscription) bool {
	status := string(sub.Status)
	return status == entitlement.SubscriptionStatusActive || status == entitlement.SubscriptionStatusTrialing
}
