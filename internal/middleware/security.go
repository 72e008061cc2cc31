package middleware

import (
	"github.com/labstack/echo/v4"
)

// opsHeaders are set on operational endpoints (health, status, allow-list,
// metrics). Their output is per-instance and must never be framed or cached.
var opsHeaders = map[string]string{
	echo.HeaderXContentTypeOptions: "nosniff",
	echo.HeaderXFrameOptions:       "DENY",
	echo.HeaderCacheControl:        "no-store",
	"Referrer-Policy":              "no-referrer",
}

// SecurityHeaders locks down operational endpoints. It must not be applied to
// /proxy, whose responses exist to be framed.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range opsHeaders {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
