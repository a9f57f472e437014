package entitlement

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - callers should gracefully handle nil metrics
// by substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// status: "success", "ignored" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "profile_not_found",
	// "store_conflict", "upstream_fetch", "notification_write"
	RecordWebhookError(provider, errorType string)

	// RecordEntitlementChange records a transition of the derived premium flag.
	// from/to: "premium" or "free"
	RecordEntitlementChange(provider, from, to string)

	// RecordNotification records a notification emission attempt.
	// status: "created", "duplicate" or "error"
	RecordNotification(provider, notificationType, status string)

	// RecordAPICall records an outbound API call to the billing provider.
	// endpoint: e.g. "/payment_intents/{id}", "/subscriptions/{id}"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordEntitlementChange(_, _, _ string)                       {}
func (n *NoopMetrics) RecordNotification(_, _, _ string)                            {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
