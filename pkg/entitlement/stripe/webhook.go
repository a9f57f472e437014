package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stefanmihai/entitlesync/internal"
	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// Receipt reports how an inbound webhook event was handled.
type Receipt struct {
	EventID   string
	EventType string

	// Handled is true when a reconciliation committed. Unhandled event
	// types, duplicate deliveries and reference-less checkout sessions are
	// acknowledged with Handled false.
	Handled bool

	// Duplicate is true when the deduper had already seen the event
	Duplicate bool

	// Result is the committed reconciliation, when Handled
	Result *entitlement.ApplyResult
}

// Process verifies, classifies and reconciles one raw webhook delivery.
// It is transport-agnostic: HTTP bindings map the returned error to a status
// with StatusForError. No state is touched before the signature verifies.
func (p *Provider) Process(ctx context.Context, payload []byte, sigHeader string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	event, err := stripe.ConstructEvent(payload, sigHeader, string(p.webhookSecret))
	if err != nil {
		if isSignatureError(err) {
			p.metrics.RecordWebhookError(providerName, "auth_failed")
			return nil, fmt.Errorf("%w: %v", entitlement.ErrInvalidSignature, err)
		}
		// Signature verified but the payload is not a usable event
		// envelope (bad JSON, not an event object, API version mismatch).
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", entitlement.ErrInvalidPayload, err)
	}

	receipt := &Receipt{
		EventID:   event.ID,
		EventType: string(event.Type),
	}

	if p.deduper != nil && event.ID != "" {
		seen, err := p.deduper.Seen(ctx, event.ID)
		if err != nil {
			p.logger.Warn("event deduper lookup failed",
				entitlement.Field{Key: "event_id", Value: event.ID},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
		} else if seen {
			receipt.Duplicate = true
			p.logger.Debug("duplicate webhook delivery acknowledged",
				entitlement.Field{Key: "event_id", Value: event.ID},
				entitlement.Field{Key: "event_type", Value: receipt.EventType},
			)
			return receipt, nil
		}
	}

	intent, err := Classify(&event)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return receipt, err
	}

	switch v := intent.(type) {
	case entitlement.LifecycleUpdate:
		result, err := p.reconciler.Apply(ctx, entitlement.ApplyInput{
			Object:         v.Object,
			Recurring:      true,
			CauseEventType: v.EventType,
			CauseEventID:   event.ID,
		})
		if err != nil {
			return receipt, err
		}
		receipt.Handled = true
		receipt.Result = result

	case entitlement.CheckoutCompleted:
		object, recurring, ok, err := p.resolveCheckout(ctx, v)
		if err != nil {
			p.metrics.RecordWebhookError(providerName, "upstream_fetch")
			return receipt, err
		}
		if !ok {
			// Session references neither a payment intent nor a
			// subscription; nothing to reconcile.
			p.logger.Debug("checkout session without billing reference",
				entitlement.Field{Key: "session_id", Value: v.SessionID},
			)
			return receipt, nil
		}
		result, err := p.reconciler.Apply(ctx, entitlement.ApplyInput{
			Object:         object,
			Recurring:      recurring,
			CauseEventType: entitlement.EventCheckoutSessionCompleted,
			CauseEventID:   event.ID,
		})
		if err != nil {
			return receipt, err
		}
		receipt.Handled = true
		receipt.Result = result

	case entitlement.Unhandled:
		// Acknowledged so Stripe stops redelivering an event this module
		// will never act on.
		p.logger.Warn("unhandled event type",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: v.EventType},
		)
		return receipt, nil
	}

	if p.deduper != nil && receipt.Handled && event.ID != "" {
		if err := p.deduper.Mark(ctx, event.ID); err != nil {
			p.logger.Warn("event deduper mark failed",
				entitlement.Field{Key: "event_id", Value: event.ID},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	return receipt, nil
}

// isSignatureError reports whether a ConstructEvent failure happened during
// signature verification. Everything else ConstructEvent returns is a payload
// decoding problem on an already authenticated delivery.
func isSignatureError(err error) bool {
	return errors.Is(err, stripe.ErrWebhookNotSigned) ||
		errors.Is(err, stripe.ErrWebhookInvalidHeader) ||
		errors.Is(err, stripe.ErrWebhookNoValidSignature) ||
		errors.Is(err, stripe.ErrWebhookTooOld)
}

// StatusForError maps a Process error to the HTTP status the provider should
// see. Authentication failures are terminal client errors; a missing profile
// is acknowledged because redelivery cannot repair it; everything else is
// retryable and returns 500 so Stripe redelivers.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, entitlement.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, entitlement.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, entitlement.ErrProfileNotFound),
		errors.Is(err, entitlement.ErrUnhandledEventType):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// handleWebhook processes incoming Stripe webhook deliveries
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !p.WebhookConfigured() {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, MaxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	receipt, err := p.Process(r.Context(), body, sig)
	status, response := p.Conclude(receipt, err, startTime)
	if status >= http.StatusBadRequest {
		http.Error(w, response, status)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(response))
}

// Conclude records metrics for one delivery and returns the HTTP status and
// response body to send. Shared by the net/http handler and the framework
// bindings.
func (p *Provider) Conclude(receipt *Receipt, err error, startTime time.Time) (int, string) {
	eventType := "UNKNOWN"
	if receipt != nil && receipt.EventType != "" {
		eventType = receipt.EventType
	}

	status := StatusForError(err)

	switch {
	case err != nil && status >= http.StatusInternalServerError:
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
	case err != nil && status >= http.StatusBadRequest:
		// auth/payload failures already recorded as webhook errors
	case err != nil:
		// acknowledged failure (e.g. missing profile)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
	case receipt != nil && receipt.Handled:
		p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	default:
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))

	response := "ok"
	switch status {
	case http.StatusUnauthorized:
		response = "unauthorized"
	case http.StatusBadRequest:
		response = "invalid payload"
	case http.StatusInternalServerError:
		response = "failed to process webhook"
	}
	return status, response
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
