package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps inbound request bodies at limit bytes, except on skipPaths.
// /proxy belongs in skipPaths: its upstream request never carries a body, so
// a POST there must behave like a GET whatever it sends.
func BodyLimit(limit int64, skipPaths ...string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Skipper: func(c echo.Context) bool {
			_, ok := skip[c.Request().URL.Path]
			return ok
		},
		Limit: fmt.Sprintf("%dB", limit),
	})
}
