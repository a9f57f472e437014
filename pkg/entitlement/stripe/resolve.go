package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// resolveCheckout turns a checkout completion into the full billing object it
// paid for. A session referencing a payment intent is a one-time (lifetime)
// purchase; one referencing a subscription is recurring. A session with
// neither reference resolves to nothing and the event is a no-op.
func (p *Provider) resolveCheckout(ctx context.Context, intent entitlement.CheckoutCompleted) (entitlement.BillingObject, bool, bool, error) {
	switch {
	case intent.PaymentIntentID != "":
		pi, err := p.retrievePaymentIntent(ctx, intent.PaymentIntentID)
		if err != nil {
			return entitlement.BillingObject{}, false, false, err
		}
		return paymentIntentObject(pi), false, true, nil

	case intent.SubscriptionID != "":
		sub, err := p.retrieveSubscription(ctx, intent.SubscriptionID)
		if err != nil {
			return entitlement.BillingObject{}, false, false, err
		}
		return subscriptionObject(sub), true, true, nil

	default:
		return entitlement.BillingObject{}, false, false, nil
	}
}

func (p *Provider) retrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	var pi *stripe.PaymentIntent
	err := p.withFetchRetry(ctx, "/payment_intents/{id}", func() error {
		var err error
		pi, err = p.stripeClient.V1PaymentIntents.Retrieve(ctx, id, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: payment intent %s: %v", entitlement.ErrUpstreamFetch, id, err)
	}
	return pi, nil
}

func (p *Provider) retrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := p.withFetchRetry(ctx, "/subscriptions/{id}", func() error {
		var err error
		sub, err = p.stripeClient.V1Subscriptions.Retrieve(ctx, id, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s: %v", entitlement.ErrUpstreamFetch, id, err)
	}
	return sub, nil
}

// withFetchRetry runs an idempotent provider GET with bounded retries on
// transient failures.
func (p *Provider) withFetchRetry(ctx context.Context, endpoint string, fetch func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryBackoff * time.Duration(attempt)):
			}
		}

		start := time.Now()
		err := fetch()
		p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
		if err == nil {
			p.metrics.RecordAPICall(providerName, endpoint, "success")
			return nil
		}

		p.metrics.RecordAPICall(providerName, endpoint, "error")
		lastErr = err
		if !isTransient(err) {
			break
		}
		p.logger.Warn("stripe fetch failed, retrying",
			entitlement.Field{Key: "endpoint", Value: endpoint},
			entitlement.Field{Key: "attempt", Value: attempt + 1},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
	}

	return lastErr
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	// Network-level failures without a Stripe error are worth retrying
	return true
}
