// Package echo provides an Echo binding for the Stripe webhook endpoint
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stefanmihai/entitlesync/internal"
	stripeprovider "github.com/stefanmihai/entitlesync/pkg/entitlement/stripe"
)

// WebhookHandler returns an Echo handler that processes Stripe webhook
// deliveries through the provider.
func WebhookHandler(p *stripeprovider.Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		startTime := time.Now()
		c.Response().Header().Set("Cache-Control", "no-store")
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")

		if !p.WebhookConfigured() {
			return c.String(http.StatusServiceUnavailable, "webhook not configured")
		}
		if !p.RateLimiter().Allow(c.RealIP()) {
			return c.String(http.StatusTooManyRequests, "rate limit exceeded")
		}

		r := c.Request()
		body, err := internal.ReadBodyStrict(c.Response(), r, stripeprovider.MaxWebhookBodyBytes)
		if err != nil {
			if errors.Is(err, internal.ErrPayloadTooLarge) {
				return c.String(http.StatusRequestEntityTooLarge, "payload too large")
			}
			return c.String(http.StatusBadRequest, "invalid payload")
		}

		receipt, err := p.Process(r.Context(), body, r.Header.Get("Stripe-Signature"))
		status, response := p.Conclude(receipt, err, startTime)
		return c.String(status, response)
	}
}
