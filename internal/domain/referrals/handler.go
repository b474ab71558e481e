package referrals

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nazifia/hms/internal/platform/auth"
	"github.com/nazifia/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/referrals", auth.RequireRole("admin", "doctor", "desk_office"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/:id", h.Get)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/authorization", h.SetAuthorization)
}

func mapReferralErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrInvalidState), errors.Is(err, ErrAuthRejected):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrWrongDept):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrMissingFields):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createReferralRequest struct {
	PatientID            uuid.UUID  `json:"patient_id"`
	ReferringDoctor      string     `json:"referring_doctor"`
	ReferredToDepartment string     `json:"referred_to_department"`
	ReferralDate         *time.Time `json:"referral_date,omitempty"`
	Reason               string     `json:"reason"`
	Notes                string     `json:"notes,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createReferralRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params := CreateParams{
		PatientID:            req.PatientID,
		ReferringDoctor:      req.ReferringDoctor,
		ReferredToDepartment: req.ReferredToDepartment,
		Reason:               req.Reason,
		Notes:                req.Notes,
	}
	if req.ReferringDoctor == "" {
		params.ReferringDoctor = auth.UserNameFromContext(c.Request().Context())
	}
	if req.ReferralDate != nil {
		params.ReferralDate = *req.ReferralDate
	}
	ref, err := h.svc.Create(c.Request().Context(), params)
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusCreated, ref)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := ListFilters{
		Department:          c.QueryParam("department"),
		Status:              c.QueryParam("status"),
		AuthorizationStatus: c.QueryParam("authorization_status"),
	}
	if pidStr := c.QueryParam("patient_id"); pidStr != "" {
		pid, err := uuid.Parse(pidStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filters.PatientID = &pid
	}
	items, total, err := h.svc.List(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Dashboard returns the four-bucket view for the caller's department,
// or an explicit ?department= override for admins.
func (h *Handler) Dashboard(c echo.Context) error {
	department := c.QueryParam("department")
	if department == "" {
		department = auth.DepartmentFromContext(c.Request().Context())
	}
	if department == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "department is required")
	}
	d, err := h.svc.Categorize(c.Request().Context(), department)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) Accept(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	ref, err := h.svc.Accept(ctx, id,
		auth.UserNameFromContext(ctx), auth.DepartmentFromContext(ctx))
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusOK, ref)
}

type setAuthorizationRequest struct {
	Status string     `json:"status"` // pending | authorized | rejected
	CodeID *uuid.UUID `json:"code_id,omitempty"`
}

func (h *Handler) SetAuthorization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setAuthorizationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	var ref *Referral
	switch req.Status {
	case AuthAuthorized:
		if req.CodeID == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "code_id is required to authorize")
		}
		ref, err = h.svc.Authorize(ctx, id, *req.CodeID)
	case AuthPending:
		ref, err = h.svc.MarkAuthorizationPending(ctx, id)
	case AuthRejected:
		ref, err = h.svc.MarkAuthorizationRejected(ctx, id)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be pending, authorized or rejected")
	}
	if err != nil {
		return mapReferralErr(err)
	}
	return c.JSON(http.StatusOK, ref)
}
