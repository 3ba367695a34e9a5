package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "RiskPull/pkg/logger"
)

// RequestLogging logs one structured line per request; 5xx at error level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", routeLabel(c)),
				applogger.String("uri", req.RequestURI),
				applogger.Int("status", status),
				applogger.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				if err != nil {
					fields = append(fields, applogger.Error(err))
				}
				l.Error("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
