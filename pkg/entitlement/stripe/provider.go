package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/singleflight"

	"github.com/stefanmihai/entitlesync/internal"
	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// MaxWebhookBodyBytes is the size limit applied to inbound webhook payloads.
const MaxWebhookBodyBytes = 256 * 1024

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxFetchAttempts         = 3
	fetchRetryBackoff        = 250 * time.Millisecond
	processTimeout           = 30 * time.Second
)

// Config extends entitlement.Config with Stripe-specific options
type Config struct {
	entitlement.Config // Base config (stores, logger, metrics, deduper)

	// StripeAPIKey authenticates outbound API calls (checkout resolution,
	// customer sync)
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures
	StripeWebhookSecret string
}

// Provider reconciles Stripe webhook events into entitlement state.
type Provider struct {
	reconciler    *entitlement.Reconciler
	deduper       entitlement.EventDeduper
	logger        entitlement.Logger
	metrics       entitlement.Metrics
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	stripeClient  *stripe.Client
	syncGroup     singleflight.Group
}

// NewProvider creates a new Stripe provider
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, entitlement.ErrNotConfigured
	}

	reconciler, err := entitlement.NewReconciler(providerName, config.Config)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &entitlement.NoopMetrics{}
	}

	return &Provider{
		reconciler:    reconciler,
		deduper:       config.Deduper,
		logger:        logger,
		metrics:       metrics,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		stripeClient:  stripe.NewClient(apiKey),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// Reconciler exposes the underlying reconciler, e.g. for application code
// that wants the Notifier.
func (p *Provider) Reconciler() *entitlement.Reconciler {
	return p.reconciler
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// RateLimiter exposes the webhook rate limiter for non-net/http bindings.
func (p *Provider) RateLimiter() *internal.RateLimiter {
	return p.rateLimiter
}

// WebhookConfigured reports whether a webhook secret is set.
func (p *Provider) WebhookConfigured() bool {
	return len(p.webhookSecret) > 0
}
