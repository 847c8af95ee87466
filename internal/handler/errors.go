package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/star-wheel/internal/logging"
)

// ErrorHandler renders every error as {"detail": ...}.  Echo's own HTTP
// errors keep their status; anything else is logged and answered with 500.
func ErrorHandler(log logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := any("Internal server error")
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = he.Message
			if he.Internal != nil {
				log.Debug(c.Request().Context(), "http error", "status", status, "err", he.Internal)
			}
		} else {
			log.Error(c.Request().Context(), "unhandled error", "method", c.Request().Method, "path", c.Path(), "err", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, echo.Map{"detail": detail})
		}
		if err != nil {
			log.Error(c.Request().Context(), "write error response failed", "err", err)
		}
	}
}
