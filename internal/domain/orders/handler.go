package orders

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	g := api.Group("/orders", auth.RequireRole("admin", "doctor", "lab", "radiology"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/code", h.AttachCode)
	g.POST("/:id/await-payment", h.MarkAwaitingPayment)
	g.POST("/:id/confirm-payment", h.ConfirmPayment)
	g.POST("/:id/schedule", h.Schedule)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
}

func mapOrderErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAuthorizationBlocked):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrMissingFields):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createOrderRequest struct {
	Kind        string           `json:"kind"`
	PatientID   uuid.UUID        `json:"patient_id"`
	ServiceName string           `json:"service_name"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Priority    string           `json:"priority,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.Create(c.Request().Context(), CreateParams{
		Kind:        req.Kind,
		PatientID:   req.PatientID,
		ServiceName: req.ServiceName,
		Price:       req.Price,
		Priority:    req.Priority,
		OrderedBy:   auth.UserIDFromContext(c.Request().Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := ListFilters{
		Kind:     c.QueryParam("kind"),
		Status:   c.QueryParam("status"),
		Priority: c.QueryParam("priority"),
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

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) AttachCode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		CodeID uuid.UUID `json:"code_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.AttachCode(c.Request().Context(), id, body.CodeID)
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) MarkAwaitingPayment(c echo.Context) error {
	return h.simpleTransition(c, h.svc.MarkAwaitingPayment)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		InvoiceID uuid.UUID `json:"invoice_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.ConfirmPayment(c.Request().Context(), id, body.InvoiceID)
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Schedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.Schedule(c.Request().Context(), id, body.ScheduledFor)
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Start(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Start)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Complete)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Cancel)
}

func (h *Handler) simpleTransition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Order, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := fn(c.Request().Context(), id)
	if err != nil {
		return mapOrderErr(err)
	}
	return c.JSON(http.StatusOK, o)
}
