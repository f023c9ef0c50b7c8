package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_auth/internal/service"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c echo.Context, data any, msg string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: msg})
}

// httpError maps a service error kind to a status. Only validation errors expose their text.
func httpError(err error) *echo.HTTPError {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, service.ErrConflict.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, service.ErrUnauthorized.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

// errorHandler renders every error in the response envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		he = httpError(err)
	}
	msg := http.StatusText(he.Code)
	if s, isStr := he.Message.(string); isStr {
		msg = s
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, envelope{Success: false, Message: msg})
}
