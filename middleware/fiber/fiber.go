// Package fiber provides a Fiber binding for the Stripe webhook endpoint
package fiber

import (
	"time"

	"github.com/gofiber/fiber/v2"

	stripeprovider "github.com/stefanmihai/entitlesync/pkg/entitlement/stripe"
)

// WebhookHandler returns a Fiber handler that processes Stripe webhook
// deliveries through the provider. Mount it on a POST route that receives
// the raw body (no body parsing middleware in front).
func WebhookHandler(p *stripeprovider.Provider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()
		c.Set("Cache-Control", "no-store")
		c.Set("X-Content-Type-Options", "nosniff")

		if !p.WebhookConfigured() {
			return c.Status(fiber.StatusServiceUnavailable).SendString("webhook not configured")
		}
		if !p.RateLimiter().Allow(c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).SendString("rate limit exceeded")
		}

		body := c.Body()
		if len(body) == 0 {
			return c.Status(fiber.StatusBadRequest).SendString("invalid payload")
		}
		if len(body) > stripeprovider.MaxWebhookBodyBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).SendString("payload too large")
		}

		receipt, err := p.Process(c.UserContext(), body, c.Get("Stripe-Signature"))
		status, response := p.Conclude(receipt, err, startTime)
		return c.Status(status).SendString(response)
	}
}
