package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/gateway"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/outbound"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps a domain error onto its HTTP status. Unknown errors become
// 500s.
func httpError(err error) error {
	switch {
	case errors.Is(err, contacts.ErrContactNotFound),
		errors.Is(err, conversations.ErrConversationNotFound),
		errors.Is(err, messages.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, outbound.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, contacts.ErrIdentityTaken),
		errors.Is(err, messages.ErrDuplicateMessage),
		errors.Is(err, messages.ErrInvalidStatusTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrRejected):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, gateway.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
