package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kanalhq/kanal/internal/outbound"
)

// MessagesHandler serves the unified send path.
type MessagesHandler struct {
	dispatcher *outbound.Dispatcher
}

// NewMessagesHandler creates a messages handler.
func NewMessagesHandler(dispatcher *outbound.Dispatcher) *MessagesHandler {
	return &MessagesHandler{dispatcher: dispatcher}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.POST("/api/messages", h.Send)
}

// Send dispatches one outbound text, either into an existing conversation or
// to a platform recipient directly. A delivery failure still returns the
// stored message in its failed state inside the error body.
//
// @Summary Send a message
// @Description Send an outbound text to a conversation or a platform recipient
// @Tags messages
// @Accept json
// @Produce json
// @Param payload body outbound.SendRequest true "Send request"
// @Success 201 {object} outbound.Result
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/messages [post]
func (h *MessagesHandler) Send(c echo.Context) error {
	var req outbound.SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.dispatcher.Dispatch(c.Request().Context(), req)
	if err != nil {
		if result.Message.ID != "" {
			httpErr := httpError(err).(*echo.HTTPError)
			return c.JSON(httpErr.Code, map[string]any{
				"message": httpErr.Message,
				"failed":  result.Message,
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, result)
}
