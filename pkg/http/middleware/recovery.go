package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"FundGuard/pkg/logger"
)

// Recover turns a handler panic into a 500 envelope. Like every other
// response the HTTP status stays 200 and the body carries the real one.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				rid := c.Response().Header().Get(echo.HeaderXRequestID)
				l.Error("http handler panic",
					logger.String("route", c.Path()),
					logger.String("request_id", rid),
					logger.Error(perr),
					logger.String("stack", string(debug.Stack())))
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusOK, map[string]interface{}{
					"status":     http.StatusInternalServerError,
					"message":    http.StatusText(http.StatusInternalServerError),
					"request_id": rid,
				})
			}()
			return next(c)
		}
	}
}
