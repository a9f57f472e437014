// Package gin provides a Gin binding for the Stripe webhook endpoint
package gin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stefanmihai/entitlesync/internal"
	stripeprovider "github.com/stefanmihai/entitlesync/pkg/entitlement/stripe"
)

// WebhookHandler returns a Gin handler that processes Stripe webhook
// deliveries through the provider.
func WebhookHandler(p *stripeprovider.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Header("Cache-Control", "no-store")
		c.Header("X-Content-Type-Options", "nosniff")

		if !p.WebhookConfigured() {
			c.String(http.StatusServiceUnavailable, "webhook not configured")
			return
		}
		if !p.RateLimiter().Allow(c.ClientIP()) {
			c.String(http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		body, err := internal.ReadBodyStrict(c.Writer, c.Request, stripeprovider.MaxWebhookBodyBytes)
		if err != nil {
			if errors.Is(err, internal.ErrPayloadTooLarge) {
				c.String(http.StatusRequestEntityTooLarge, "payload too large")
				return
			}
			c.String(http.StatusBadRequest, "invalid payload")
			return
		}

		receipt, err := p.Process(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
		status, response := p.Conclude(receipt, err, startTime)
		c.String(status, response)
	}
}
