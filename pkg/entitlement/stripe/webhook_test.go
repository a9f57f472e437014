package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
	"github.com/stefanmihai/entitlesync/storage/memory"
)

const testWebhookSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header the way stripe-go verifies
// it: v1 = HMAC-SHA256(secret, "<timestamp>.<payload>").
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestProvider(t *testing.T, store *memory.Storage) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		Config: entitlement.Config{
			Profiles:      store,
			Notifications: store,
			Deduper:       store,
		},
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: testWebhookSecret,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return p
}

func seedStore(t *testing.T, profile *entitlement.Profile) *memory.Storage {
	t.Helper()
	store := memory.New()
	if profile != nil {
		if err := store.SeedProfile(profile); err != nil {
			t.Fatalf("SeedProfile failed: %v", err)
		}
	}
	return store
}

func subscriptionEvent(eventID, eventType, subscriptionID, customerID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"object": "subscription",
				"customer": %q,
				"status": %q
			}
		}
	}`, eventID, stripe.APIVersion, eventType, subscriptionID, customerID, status))
}

func postWebhook(t *testing.T, p *Provider, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_SubscriptionUpdatedGrantsPremium(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_1", "active")
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %q", rec.Code, rec.Body.String())
	}

	profile, err := store.FindByCustomerID(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("FindByCustomerID failed: %v", err)
	}
	if !profile.Premium {
		t.Error("Expected premium after active subscription event")
	}
	if profile.Subscription.Recurring == nil || profile.Subscription.Recurring.SubscriptionID != "sub_1" {
		t.Errorf("Recurring state = %+v", profile.Subscription.Recurring)
	}

	notifications := store.Notifications("prof_1")
	if len(notifications) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].Type != entitlement.NotificationSubscriptionRecurring {
		t.Errorf("Notification type = %s", notifications[0].Type)
	}
}

func TestWebhook_SubscriptionDeletedKeepsLifetime(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{
		ID:         "prof_1",
		CustomerID: "cus_1",
		Premium:    true,
		Subscription: entitlement.SubscriptionRecord{
			Recurring: &entitlement.RecurringState{SubscriptionID: "sub_1", Status: entitlement.SubscriptionStatusActive},
			Lifetime:  &entitlement.LifetimeState{PaymentIntentID: "pi_1", Status: entitlement.PaymentIntentStatusSucceeded},
		},
		Version: 4,
	})
	p := newTestProvider(t, store)

	payload := subscriptionEvent("evt_2", "customer.subscription.deleted", "sub_1", "cus_1", "canceled")
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %q", rec.Code, rec.Body.String())
	}

	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Subscription.Recurring != nil {
		t.Errorf("Recurring not cleared: %+v", profile.Subscription.Recurring)
	}
	if profile.Subscription.Lifetime == nil {
		t.Error("Lifetime half lost")
	}
	if !profile.Premium {
		t.Error("Lifetime purchase should keep premium after cancellation")
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_1", "active")
	rec := postWebhook(t, p, payload, signPayload(payload, "whsec_wrong", time.Now()))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", rec.Code)
	}

	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Premium {
		t.Error("State must not change on a failed signature")
	}
	if len(store.Notifications("prof_1")) != 0 {
		t.Error("No notification may be written on a failed signature")
	}
}

func TestWebhook_TamperedPayload(t *testing.T) {
	p := newTestProvider(t, seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1}))

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_1", "active")
	sig := signPayload(payload, testWebhookSecret, time.Now())
	tampered := bytes.Replace(payload, []byte(`"active"`), []byte(`"canceled"`), 1)

	rec := postWebhook(t, p, tampered, sig)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", rec.Code)
	}
}

func TestWebhook_StaleTimestamp(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_1", "active")
	sig := signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))

	rec := postWebhook(t, p, payload, sig)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401 for a stale timestamp", rec.Code)
	}
}

func TestWebhook_NonEventPayloadRejected(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	// Correctly signed, but not an event envelope. The signature checks
	// out, so this is a payload problem, not an authentication failure.
	payload := []byte(`{"id": "sub_1", "object": "subscription", "status": "active"}`)
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400 for a non-event payload", rec.Code)
	}

	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Version != 1 {
		t.Error("State must not change for a rejected payload")
	}
}

func TestWebhook_APIVersionMismatchRejected(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "2020-08-27",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "active"}}
	}`)
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400 for a mismatched API version", rec.Code)
	}
}

func TestWebhook_UnhandledEventTypeAcknowledged(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	payload := []byte(fmt.Sprintf(`{"id": "evt_9", "object": "event", "api_version": %q, "type": "invoice.created", "data": {"object": {"id": "in_1"}}}`, stripe.APIVersion))
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 ack", rec.Code)
	}
	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Version != 1 {
		t.Error("Unhandled event must not touch state")
	}
}

func TestWebhook_MissingProfileAcknowledged(t *testing.T) {
	store := seedStore(t, nil)
	p := newTestProvider(t, store)

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_ghost", "active")
	rec := postWebhook(t, p, payload, signPayload(payload, testWebhookSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 ack for an unknown customer", rec.Code)
	}
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "cus_1", "active")
	sig := signPayload(payload, testWebhookSecret, time.Now())

	if rec := postWebhook(t, p, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("First delivery status = %d", rec.Code)
	}
	if rec := postWebhook(t, p, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("Redelivery status = %d", rec.Code)
	}

	if got := len(store.Notifications("prof_1")); got != 1 {
		t.Errorf("Expected 1 notification after redelivery, got %d", got)
	}
	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Version != 2 {
		t.Errorf("Redelivery should be short-circuited, version = %d", profile.Version)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Status = %d, want 405", rec.Code)
	}
}

func TestWebhook_NotConfigured(t *testing.T) {
	store := seedStore(t, nil)
	p, err := NewProvider(Config{
		Config: entitlement.Config{
			Profiles:      store,
			Notifications: store,
		},
		StripeAPIKey: "sk_test_123",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	rec := postWebhook(t, p, []byte(`{}`), "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503 without a webhook secret", rec.Code)
	}
}

func TestWebhook_OversizedPayloadRejected(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	payload := bytes.Repeat([]byte("a"), MaxWebhookBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Status = %d, want 413", rec.Code)
	}
}

func TestWebhook_SecurityHeaders(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	payload := []byte(`{}`)
	rec := postWebhook(t, p, payload, "bogus")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestProcess_CheckoutWithoutReferencesIgnored(t *testing.T) {
	store := seedStore(t, &entitlement.Profile{ID: "prof_1", CustomerID: "cus_1", Version: 1})
	p := newTestProvider(t, store)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_cs",
		"object": "event",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session"}}
	}`, stripe.APIVersion))
	receipt, err := p.Process(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if receipt.Handled {
		t.Error("Reference-less checkout session must be a no-op")
	}

	profile, _ := store.FindByCustomerID(context.Background(), "cus_1")
	if profile.Version != 1 {
		t.Error("State must not change for a reference-less session")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid signature", fmt.Errorf("wrap: %w", entitlement.ErrInvalidSignature), http.StatusUnauthorized},
		{"invalid payload", entitlement.ErrInvalidPayload, http.StatusBadRequest},
		{"profile not found", fmt.Errorf("wrap: %w", entitlement.ErrProfileNotFound), http.StatusOK},
		{"notification write", entitlement.ErrNotificationWrite, http.StatusInternalServerError},
		{"upstream fetch", entitlement.ErrUpstreamFetch, http.StatusInternalServerError},
		{"opaque", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Errorf("StatusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimiter_WebhookBursts(t *testing.T) {
	p := newTestProvider(t, seedStore(t, nil))

	payload := []byte(`{}`)
	var limited bool
	for i := 0; i < defaultRateLimitRequests+5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		p.WebhookHandler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("Expected the per-IP rate limit to trip")
	}
}
