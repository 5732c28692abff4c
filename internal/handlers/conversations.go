package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kanalhq/kanal/internal/inbox"
)

// ConversationsHandler serves the inbox views: the conversation list and
// per-thread history.
type ConversationsHandler struct {
	inbox *inbox.Service
}

// NewConversationsHandler creates a conversations handler.
func NewConversationsHandler(service *inbox.Service) *ConversationsHandler {
	return &ConversationsHandler{inbox: service}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	group := e.Group("/api/conversations")
	group.GET("", h.List)
	group.GET("/:id", h.Open)
	group.GET("/:id/messages", h.Messages)
}

// List returns one page of conversations ordered by most recent activity.
//
// @Summary List conversations
// @Description List conversations ordered by last message time, newest first
// @Tags conversations
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} inbox.ConversationPage
// @Failure 500 {object} ErrorResponse
// @Router /api/conversations [get]
func (h *ConversationsHandler) List(c echo.Context) error {
	limit := intQueryParam(c, "limit", 0)
	offset := intQueryParam(c, "offset", 0)
	page, err := h.inbox.ListConversations(c.Request().Context(), limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// Open returns one conversation with its latest messages and clears its
// unread counter.
//
// @Summary Open a conversation
// @Description Get one conversation with its latest messages; marks it read
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "History page size"
// @Success 200 {object} inbox.Thread
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/conversations/{id} [get]
func (h *ConversationsHandler) Open(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	limit := intQueryParam(c, "limit", 0)
	thread, err := h.inbox.OpenConversation(c.Request().Context(), id, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, thread)
}

// Messages pages backwards through a conversation's history. before_seq is
// the seq of the oldest already-loaded message; omitted means the latest page.
//
// @Summary Conversation history
// @Description Page backwards through a conversation's messages, oldest first
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param before_seq query int false "Seq of the oldest already-loaded message"
// @Param limit query int false "Page size"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/conversations/{id}/messages [get]
func (h *ConversationsHandler) Messages(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	beforeSeq, err := strconv.ParseInt(strings.TrimSpace(c.QueryParam("before_seq")), 10, 64)
	if err != nil {
		beforeSeq = 0
	}
	limit := intQueryParam(c, "limit", 0)
	items, err := h.inbox.History(c.Request().Context(), id, beforeSeq, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// intQueryParam reads an integer query parameter, falling back on absent or
// malformed values.
func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
