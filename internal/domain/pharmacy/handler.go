package pharmacy

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/platform/auth"
	"github.com/nazifia/hms/pkg/pagination"
)

// Handler exposes the medication catalog, dispensary inventory, and the
// inter-dispensary transfer workflow.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy", auth.RequireRole("admin", "pharmacist"))

	g.POST("/medications", h.CreateMedication)
	g.GET("/medications", h.ListMedications)
	g.GET("/medications/:id", h.GetMedication)

	g.POST("/dispensaries", h.CreateDispensary)
	g.GET("/dispensaries", h.ListDispensaries)
	g.GET("/dispensaries/:id/inventory", h.ListInventory)

	g.GET("/inventory", h.LookupInventory)
	g.PUT("/inventory", h.AdjustStock)

	g.POST("/transfers", h.RequestTransfer)
	g.POST("/transfers/bulk", h.BulkRequestTransfers)
	g.GET("/transfers", h.ListTransfers)
	g.GET("/transfers/statistics", h.TransferStatistics)
	g.GET("/transfers/feasibility", h.CheckFeasibility)
	g.GET("/transfers/:id", h.GetTransfer)
	g.POST("/transfers/:id/approve", h.ApproveTransfer)
	g.POST("/transfers/:id/reject", h.RejectTransfer)
	g.POST("/transfers/:id/execute", h.ExecuteTransfer)
	g.POST("/transfers/:id/cancel", h.CancelTransfer)
}

func mapTransferErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSameDispensary), errors.Is(err, ErrInvalidQuantity):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createMedicationRequest struct {
	Name         string          `json:"name"`
	GenericName  *string         `json:"generic_name,omitempty"`
	DosageForm   string          `json:"dosage_form"`
	Strength     string          `json:"strength"`
	Price        decimal.Decimal `json:"price"`
	ReorderLevel int             `json:"reorder_level"`
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var req createMedicationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m := &Medication{
		Name:         req.Name,
		GenericName:  req.GenericName,
		DosageForm:   req.DosageForm,
		Strength:     req.Strength,
		Price:        req.Price,
		ReorderLevel: req.ReorderLevel,
	}
	if err := h.svc.CreateMedication(c.Request().Context(), m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") != "false"
	items, total, err := h.svc.ListMedications(c.Request().Context(), c.QueryParam("search"), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) CreateDispensary(c echo.Context) error {
	var d Dispensary
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDispensary(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, &d)
}

func (h *Handler) ListDispensaries(c echo.Context) error {
	activeOnly := c.QueryParam("active") != "false"
	items, err := h.svc.ListDispensaries(c.Request().Context(), activeOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListInventory(c echo.Context) error {
	dispID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dispensary id")
	}
	pg := pagination.FromContext(c)
	lowOnly := c.QueryParam("low_stock") == "true"
	items, total, err := h.svc.ListInventory(c.Request().Context(), dispID, lowOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LookupInventory(c echo.Context) error {
	medID, err := uuid.Parse(c.QueryParam("medication_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
	}
	dispID, err := uuid.Parse(c.QueryParam("dispensary_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dispensary_id")
	}
	inv, err := h.svc.LookupInventory(c.Request().Context(), medID, dispID)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type adjustStockRequest struct {
	MedicationID uuid.UUID `json:"medication_id"`
	DispensaryID uuid.UUID `json:"dispensary_id"`
	Quantity     int       `json:"quantity"`
}

func (h *Handler) AdjustStock(c echo.Context) error {
	var req adjustStockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.AdjustStock(c.Request().Context(), req.MedicationID, req.DispensaryID, req.Quantity)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type transferRequest struct {
	MedicationID     uuid.UUID `json:"medication_id"`
	FromDispensaryID uuid.UUID `json:"from_dispensary_id"`
	ToDispensaryID   uuid.UUID `json:"to_dispensary_id"`
	Quantity         int       `json:"quantity"`
	Notes            string    `json:"notes,omitempty"`
}

func (h *Handler) RequestTransfer(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Request(c.Request().Context(), RequestParams{
		MedicationID:     req.MedicationID,
		FromDispensaryID: req.FromDispensaryID,
		ToDispensaryID:   req.ToDispensaryID,
		Quantity:         req.Quantity,
		RequestedBy:      auth.UserIDFromContext(c.Request().Context()),
		Notes:            req.Notes,
	})
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusCreated, t)
}

type bulkTransferRequest struct {
	FromDispensaryID uuid.UUID  `json:"from_dispensary_id"`
	ToDispensaryID   uuid.UUID  `json:"to_dispensary_id"`
	Items            []BulkItem `json:"items"`
	Notes            string     `json:"notes,omitempty"`
}

func (h *Handler) BulkRequestTransfers(c echo.Context) error {
	var req bulkTransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	transfers, err := h.svc.BulkRequest(c.Request().Context(),
		req.FromDispensaryID, req.ToDispensaryID, req.Items,
		auth.UserIDFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusCreated, transfers)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := TransferFilters{Status: c.QueryParam("status")}
	parse := func(param string, dst **uuid.UUID) error {
		if s := c.QueryParam(param); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
		return nil
	}
	if err := parse("medication_id", &filters.MedicationID); err != nil {
		return err
	}
	if err := parse("from_dispensary_id", &filters.FromDispensaryID); err != nil {
		return err
	}
	if err := parse("to_dispensary_id", &filters.ToDispensaryID); err != nil {
		return err
	}
	if err := parse("batch_id", &filters.BatchID); err != nil {
		return err
	}
	items, total, err := h.svc.ListTransfers(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) TransferStatistics(c echo.Context) error {
	stats, err := h.svc.TransferStatistics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CheckFeasibility(c echo.Context) error {
	medID, err := uuid.Parse(c.QueryParam("medication_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication_id")
	}
	fromID, err := uuid.Parse(c.QueryParam("from_dispensary_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from_dispensary_id")
	}
	qty, err := intQueryParam(c, "quantity")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	ok, reason, err := h.svc.CheckFeasibility(c.Request().Context(), medID, fromID, qty)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"feasible": ok,
		"reason":   reason,
	})
}

func intQueryParam(c echo.Context, name string) (int, error) {
	var n int
	if err := echo.QueryParamsBinder(c).Int(name, &n).BindError(); err != nil {
		return 0, err
	}
	return n, nil
}

func (h *Handler) GetTransfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTransfer(c.Request().Context(), id)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ApproveTransfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Notes string `json:"notes,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Approve(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()), body.Notes)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) RejectTransfer(c echo.Context) error {
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
	t, err := h.svc.Reject(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()), body.Reason)
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ExecuteTransfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Execute(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CancelTransfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Cancel(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return mapTransferErr(err)
	}
	return c.JSON(http.StatusOK, t)
}
