package middleware

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/star-wheel/internal/logging"
)

// RequestLogger logs one line per request through log.  Server errors are
// logged at error level, client errors at warn level.
func RequestLogger(log logging.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true, // forwards the error to the global error handler so the status is final
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"user_id", userID(c),
			}
			if v.RequestID != "" {
				args = append(args, "request_id", v.RequestID)
			}
			ctx := context.Background()
			if req := c.Request(); req != nil {
				ctx = req.Context()
			}
			switch {
			case v.Error != nil || v.Status >= 500:
				if v.Error != nil {
					args = append(args, slog.Any("err", v.Error))
				}
				log.Error(ctx, "request failed", args...)
			case v.Status >= 400:
				log.Warn(ctx, "request rejected", args...)
			default:
				log.Info(ctx, "request", args...)
			}
			return nil
		},
	})
}
