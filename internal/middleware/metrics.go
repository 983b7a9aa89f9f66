package middleware

import (
	"strconv"
	"time"

	"github.com/codeak/portal/internal/metrics"
	"github.com/gofiber/fiber/v2"
)

// Metrics records request latency labelled by the matched route pattern,
// keeping path parameters out of the label set.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestDuration.
			WithLabelValues(route, c.Method(), strconv.Itoa(c.Response().StatusCode())).
			Observe(time.Since(start).Seconds())
		return err
	}
}
