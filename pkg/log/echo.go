package log

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// EchoRequestLogger returns middleware that logs one line per request via logrus.
// Server errors log at warn, everything else at debug.
func EchoRequestLogger(entry *logrus.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err) // Commit the response so the status below is final
			}

			req := c.Request()
			status := c.Response().Status
			fields := logrus.Fields{
				"method":   req.Method,
				"path":     req.URL.Path,
				"status":   status,
				"duration": time.Since(start).Round(time.Millisecond),
				"remote":   c.RealIP(),
			}
			if status >= 500 {
				entry.WithFields(fields).Warn("HTTP request")
			} else {
				entry.WithFields(fields).Debug("HTTP request")
			}
			return nil
		}
	}
}
