package middleware

import "github.com/labstack/echo/v4"

// responseHeaders suit a JSON API whose bodies (outcome history, Patient
// search bundles) may contain PHI: nothing is framed, sniffed or cached.
var responseHeaders = [...]struct{ name, value string }{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets responseHeaders on every response.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, rh := range responseHeaders {
				h.Set(rh.name, rh.value)
			}
			return next(c)
		}
	}
}
