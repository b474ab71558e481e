package wallet

import (
	"errors"
	"net/http"
	"strings"
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
	g := api.Group("/wallets", auth.RequireRole("admin", "billing", "accounts"))
	g.POST("/patients/:patientId", h.EnsureWallet)
	g.GET("/patients/:patientId", h.GetByPatient)
	g.GET("/:id", h.Get)
	g.POST("/:id/credit", h.Credit)
	g.POST("/:id/debit", h.Debit)
	g.POST("/:id/refund", h.Refund)
	g.POST("/:id/adjust", h.Adjust)
	g.POST("/transfer", h.Transfer)
	g.POST("/transactions/:id/reverse", h.Reverse)
	g.GET("/:id/transactions", h.History)
	g.GET("/:id/totals", h.Totals)

	sg := api.Group("/shared-wallets", auth.RequireRole("admin", "billing", "accounts"))
	sg.POST("", h.CreateSharedWallet)
	sg.GET("/:id", h.GetSharedWallet)
	sg.POST("/:id/members", h.AddMember)
	sg.DELETE("/:id/members/:patientId", h.RemoveMember)
	sg.GET("/:id/members", h.ListMembers)
	sg.GET("/:id/transactions", h.SharedHistory)
	sg.GET("/:id/totals", h.SharedTotals)
}

func mapWalletErr(err error) error {
	switch {
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrTransactionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrReasonRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSameWallet), errors.Is(err, ErrInactiveRecipient):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) EnsureWallet(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	w, err := h.svc.EnsureWallet(c.Request().Context(), patientID)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) GetByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	w, err := h.svc.GetByPatient(c.Request().Context(), patientID)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

type mutationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	UseShared   bool            `json:"use_shared,omitempty"`
}

func (h *Handler) Credit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req mutationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Credit(c.Request().Context(), Op{
		Account:     IndividualAccount(id),
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		Actor:       auth.UserIDFromContext(c.Request().Context()),
		UseShared:   req.UseShared,
	})
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Debit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req mutationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Debit(c.Request().Context(), Op{
		Account:     IndividualAccount(id),
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		Actor:       auth.UserIDFromContext(c.Request().Context()),
		UseShared:   req.UseShared,
	})
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

type transferRequest struct {
	FromWalletID uuid.UUID       `json:"from_wallet_id"`
	ToWalletID   uuid.UUID       `json:"to_wallet_id"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description,omitempty"`
}

func (h *Handler) Transfer(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.Transfer(c.Request().Context(),
		req.FromWalletID, req.ToWalletID, req.Amount, req.Description,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Refund(c.Request().Context(), IndividualAccount(id),
		req.Amount, req.Reason, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Adjust(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Direction string          `json:"direction"`
		Reason    string          `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Adjust(c.Request().Context(), IndividualAccount(id),
		req.Amount, req.Direction, req.Reason,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Reverse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Reverse(c.Request().Context(), id,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func historyFilters(c echo.Context) (HistoryFilters, error) {
	var f HistoryFilters
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		f.To = &t
	}
	if v := c.QueryParam("min_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid min_amount")
		}
		f.MinAmount = &d
	}
	if v := c.QueryParam("max_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid max_amount")
		}
		f.MaxAmount = &d
	}
	if v := c.QueryParam("types"); v != "" {
		f.Types = strings.Split(v, ",")
	}
	f.Status = c.QueryParam("status")
	f.Search = c.QueryParam("search")
	return f, nil
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	filters, err := historyFilters(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), IndividualAccount(id), filters, pg.Limit, pg.Offset)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Totals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	totals, err := h.svc.Totals(c.Request().Context(), IndividualAccount(id))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, totals)
}

// -- Shared wallets --

func (h *Handler) CreateSharedWallet(c echo.Context) error {
	var req struct {
		Name      string  `json:"name"`
		Type      string  `json:"type"`
		RegNumber *string `json:"reg_number,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sw, err := h.svc.CreateSharedWallet(c.Request().Context(), req.Name, req.Type, req.RegNumber)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, sw)
}

func (h *Handler) GetSharedWallet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sw, err := h.svc.GetSharedWallet(c.Request().Context(), id)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, sw)
}

func (h *Handler) AddMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		PatientID uuid.UUID `json:"patient_id"`
		IsPrimary bool      `json:"is_primary,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.AddMember(c.Request().Context(), id, req.PatientID, req.IsPrimary)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := h.svc.RemoveMember(c.Request().Context(), id, patientID); err != nil {
		return mapWalletErr(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMembers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	members, err := h.svc.ListMembers(c.Request().Context(), id)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) SharedHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	filters, err := historyFilters(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), SharedAccount(id), filters, pg.Limit, pg.Offset)
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SharedTotals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	totals, err := h.svc.Totals(c.Request().Context(), SharedAccount(id))
	if err != nil {
		return mapWalletErr(err)
	}
	return c.JSON(http.StatusOK, totals)
}
