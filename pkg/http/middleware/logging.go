package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"FundGuard/pkg/logger"
)

// RequestLogging tags every request with an id, echoed in X-Request-ID, and
// logs it on completion. Server errors are logged at warn.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			err := next(c)

			status := c.Response().Status
			log := l.Debug
			if status >= 500 || err != nil {
				log = l.Warn
			}
			log("http request",
				logger.String("request_id", id),
				logger.String("method", req.Method),
				logger.String("route", c.Path()),
				logger.String("remote", c.RealIP()),
				logger.Int("status", status),
				logger.Duration("latency_ms", time.Since(start)),
			)
			return err
		}
	}
}
