package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/logwarden/internal/errclass"
)

// ErrorHandler adapts the error classifier into echo's error hook.
// Handler-raised *echo.HTTPError values keep their status and message;
// everything else is classified, logged, and answered with the safe
// user-facing body.
func ErrorHandler(h *errclass.Handler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]any{
				"message": fmt.Sprintf("%v", he.Message),
			})
			return
		}

		resp := h.APIError(c.Request().Context(), err, map[string]any{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"method":     c.Request().Method,
			"path":       c.Path(),
		})
		if jerr := c.JSON(resp.Status, resp.Body); jerr != nil {
			_ = c.NoContent(http.StatusInternalServerError)
		}
	}
}
