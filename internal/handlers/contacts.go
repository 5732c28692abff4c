package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/platform"
)

// ContactsHandler serves the contact directory.
type ContactsHandler struct {
	service *contacts.Service
}

// NewContactsHandler creates a contacts handler.
func NewContactsHandler(service *contacts.Service) *ContactsHandler {
	return &ContactsHandler{service: service}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	group := e.Group("/api/contacts")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("", h.Create)
	group.PATCH("/:id", h.Update)
	group.POST("/:id/identities", h.AddIdentity)
}

// List returns one page of contacts, optionally filtered by a free-text query
// over name, phone, and email.
func (h *ContactsHandler) List(c echo.Context) error {
	limit := intQueryParam(c, "limit", 50)
	offset := intQueryParam(c, "offset", 0)
	search := strings.TrimSpace(c.QueryParam("q"))
	items, total, err := h.service.List(c.Request().Context(), limit, offset, search)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": total})
}

// Get returns one contact with its platform identities.
func (h *ContactsHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contact id is required")
	}
	item, err := h.service.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Create stores a contact with no platform identity yet.
func (h *ContactsHandler) Create(c echo.Context) error {
	var req contacts.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	item, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

// Update patches the user-editable contact fields.
func (h *ContactsHandler) Update(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contact id is required")
	}
	var req contacts.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := h.service.Update(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type addIdentityRequest struct {
	Platform    string `json:"platform"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

// AddIdentity links a platform identity to an existing contact. Linking an
// identity already owned by another contact is a conflict.
func (h *ContactsHandler) AddIdentity(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contact id is required")
	}
	var req addIdentityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := platform.Parse(req.Platform)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "external id is required")
	}
	identity, err := h.service.AddIdentity(c.Request().Context(), id, p, req.ExternalID, req.DisplayName)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, identity)
}
