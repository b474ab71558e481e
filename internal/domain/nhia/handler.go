package nhia

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/platform/auth"
	"github.com/nazifia/hms/pkg/pagination"
)

// Handler exposes the desk-office surface: issuing and managing codes and
// working the pending-request queue.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/nhia", auth.RequireRole("admin", "desk_office"))
	g.POST("/codes", h.IssueCode)
	g.GET("/codes", h.ListCodes)
	g.GET("/codes/:code", h.LookupCode)
	g.POST("/codes/:id/reject", h.RejectCode)
	g.GET("/requests", h.ListPendingRequests)
	g.POST("/requests", h.CreateRequest)
	g.POST("/requests/:id/dismiss", h.DismissRequest)
}

type issueCodeRequest struct {
	PatientID   uuid.UUID        `json:"patient_id"`
	ServiceType string           `json:"service_type"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	ValidDays   int              `json:"valid_days,omitempty"`
	ManualCode  string           `json:"manual_code,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

func (h *Handler) IssueCode(c echo.Context) error {
	var req issueCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	code, err := h.svc.Issue(c.Request().Context(), IssueParams{
		PatientID:   req.PatientID,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		ValidDays:   req.ValidDays,
		ManualCode:  req.ManualCode,
		Notes:       req.Notes,
		IssuedBy:    auth.UserIDFromContext(c.Request().Context()),
	})
	if err != nil {
		if errors.Is(err, ErrCodeExists) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, code)
}

func (h *Handler) ListCodes(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := CodeFilters{
		Status:      c.QueryParam("status"),
		ServiceType: c.QueryParam("service_type"),
		Search:      c.QueryParam("search"),
	}
	if pidStr := c.QueryParam("patient_id"); pidStr != "" {
		pid, err := uuid.Parse(pidStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filters.PatientID = &pid
	}
	items, total, err := h.svc.ListCodes(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LookupCode(c echo.Context) error {
	code, err := h.svc.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "authorization code not found")
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) RejectCode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Reject(c.Request().Context(), id, body.Reason); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return echo.NewHTTPError(http.StatusConflict, "code is not active")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type createRequestRequest struct {
	Module    string    `json:"module"`
	RecordID  uuid.UUID `json:"record_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Notes     string    `json:"notes,omitempty"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var req createRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.RequestAuthorization(c.Request().Context(),
		req.Module, req.RecordID, req.PatientID,
		auth.UserIDFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		if errors.Is(err, ErrDuplicateAsk) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListPendingRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingRequests(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DismissRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DismissRequest(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		}
		if errors.Is(err, ErrInvalidState) {
			return echo.NewHTTPError(http.StatusConflict, "request is not pending")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
