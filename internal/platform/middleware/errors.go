package middleware

import "github.com/labstack/echo/v4"

// writeError renders the service's JSON error shape unless the response has
// already started.
func writeError(c echo.Context, status int, code, message string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, map[string]string{"error": code, "message": message})
}
