package middleware

import (
	"github.com/labstack/echo/v4"
)

// AllowAnyOrigin sets Access-Control-Allow-Origin: * before the rest of the
// chain runs, so responses written by later middleware (rate limiting, body
// limits, recovery) carry it as well.
func AllowAnyOrigin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			return next(c)
		}
	}
}
