// Package middleware holds the HTTP middleware stack.
package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestLogger logs each request with method, path, status, and duration,
// and injects the logger into the request context for downstream handlers.
//
// It is also the single dispatch point for handler errors: it must sit
// innermost in the chain so that by the time outer middlewares observe the
// response, the status is committed. Errors are not re-returned; outer
// middlewares and echo itself would each dispatch them again.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("request")

			return nil
		}
	}
}

// Recovery recovers from handler panics and responds with a 500.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Interface("panic", r).
						Str("path", c.Request().URL.Path).
						Msg("panic recovered")
					err = echo.NewHTTPError(500, "Internal Server Error")
				}
			}()
			return next(c)
		}
	}
}
