package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. The handler
// runs on the request goroutine, so it owns the response until it returns
// and nothing writes after it. If the deadline passed and the handler left
// the response unwritten, the client gets a 504. Store calls observe ctx,
// so handlers return soon after the deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return writeError(c, http.StatusGatewayTimeout, "timeout",
					"request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
