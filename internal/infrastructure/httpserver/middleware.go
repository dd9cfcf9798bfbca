package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
)

// HTTP status code thresholds for log levels.
const (
	statusClientError = 400
	statusServerError = 500
)

// stackSize bounds the stack trace logged for a recovered panic.
const stackSize = 4 << 10

// RequestLogger returns a middleware that logs every request except the
// ones to skipPaths.
func RequestLogger(logger *slog.Logger, skipPaths ...string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if _, ok := skip[req.URL.Path]; ok {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			}

			level := slog.LevelDebug
			switch {
			case status >= statusServerError:
				level = slog.LevelError
			case status >= statusClientError:
				level = slog.LevelWarn
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			logger.LogAttrs(req.Context(), level, "HTTP request", attrs...)
			return err
		}
	}
}

// Recover returns a middleware that turns a handler panic into a 500 response.
func Recover(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]

				req := c.Request()
				logger.ErrorContext(req.Context(), "panic recovered",
					slog.String("error", fmt.Sprint(r)),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.String("stack", string(stack)),
				)

				if !c.Response().Committed {
					err = c.JSON(http.StatusInternalServerError, map[string]string{
						"status": "error",
					})
				}
			}()

			return next(c)
		}
	}
}
