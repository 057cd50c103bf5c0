package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/metrics"
)

// Metrics records request counts and latency per route pattern, so ids in
// paths do not blow up label cardinality.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request().Method, path, strconv.Itoa(c.Response().Status),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request().Method, path,
		).Observe(time.Since(start).Seconds())
		return nil
	}
}
