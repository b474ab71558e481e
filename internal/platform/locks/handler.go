package locks

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nazifia/hms/internal/platform/auth"
)

// Handler exposes advisory resource locks so clients can mark a record
// as being edited. The owner is always the authenticated session user.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/locks")
	g.POST("", h.Acquire)
	g.DELETE("", h.Release)
	g.GET("", h.Holder)
}

type lockRequest struct {
	ResourceType string `json:"resource_type" query:"resource_type"`
	ResourceID   string `json:"resource_id" query:"resource_id"`
}

func (req *lockRequest) validate() error {
	if req.ResourceType == "" || req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type and resource_id are required")
	}
	return nil
}

func (h *Handler) Acquire(c echo.Context) error {
	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}
	owner := auth.UserIDFromContext(c.Request().Context())
	lock, err := h.store.Acquire(c.Request().Context(), req.ResourceType, req.ResourceID, owner)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			holder, _ := h.store.Holder(c.Request().Context(), req.ResourceType, req.ResourceID)
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":  "resource locked by another session",
				"holder": holder,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lock)
}

func (h *Handler) Release(c echo.Context) error {
	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}
	owner := auth.UserIDFromContext(c.Request().Context())
	if err := h.store.Release(c.Request().Context(), req.ResourceType, req.ResourceID, owner); err != nil {
		if errors.Is(err, ErrNotOwner) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Holder(c echo.Context) error {
	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}
	lock, err := h.store.Holder(c.Request().Context(), req.ResourceType, req.ResourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if lock == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"locked": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"locked": true, "lock": lock})
}
