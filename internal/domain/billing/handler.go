package billing

import (
	"errors"
	"net/http"

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
	g := api.Group("/invoices", auth.RequireRole("admin", "billing", "accounts"))
	g.POST("", h.Generate)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/payments", h.RecordPayment)
	g.POST("/:id/cancel", h.Cancel)
}

func mapInvoiceErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAuthorizationBlocked):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrOverpayment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type generateRequest struct {
	PatientID           uuid.UUID       `json:"patient_id"`
	SourceModule        string          `json:"source_module"`
	SourceRecordID      uuid.UUID       `json:"source_record_id"`
	Description         string          `json:"description"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	AuthorizationCodeID *uuid.UUID      `json:"authorization_code_id,omitempty"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.Generate(c.Request().Context(), GenerateParams{
		PatientID:           req.PatientID,
		SourceModule:        req.SourceModule,
		SourceRecordID:      req.SourceRecordID,
		Description:         req.Description,
		TotalAmount:         req.TotalAmount,
		AuthorizationCodeID: req.AuthorizationCodeID,
		CreatedBy:           auth.UserIDFromContext(c.Request().Context()),
	})
	if err != nil {
		return mapInvoiceErr(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := ListFilters{
		SourceModule: c.QueryParam("source_module"),
		Status:       c.QueryParam("status"),
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

// Get resolves a UUID or falls back to invoice-number lookup.
func (h *Handler) Get(c echo.Context) error {
	param := c.Param("id")
	if id, err := uuid.Parse(param); err == nil {
		inv, err := h.svc.Get(c.Request().Context(), id)
		if err != nil {
			return mapInvoiceErr(err)
		}
		return c.JSON(http.StatusOK, inv)
	}
	inv, err := h.svc.GetByNumber(c.Request().Context(), param)
	if err != nil {
		return mapInvoiceErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	UseShared bool            `json:"use_shared,omitempty"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, txn, err := h.svc.RecordWalletPayment(c.Request().Context(), id,
		req.Amount, req.UseShared, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapInvoiceErr(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"invoice":     inv,
		"transaction": txn,
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapInvoiceErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}
