package pharmacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer statuses. pending→approved→in_transit→completed is the happy
// path; rejected and cancelled are terminal, and execution may collapse
// approved→completed in one step.
const (
	TransferPending   = "pending"
	TransferApproved  = "approved"
	TransferInTransit = "in_transit"
	TransferCompleted = "completed"
	TransferRejected  = "rejected"
	TransferCancelled = "cancelled"
)

// Medication is the catalog entry inventory rows hang off.
type Medication struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	GenericName  *string         `db:"generic_name" json:"generic_name,omitempty"`
	DosageForm   string          `db:"dosage_form" json:"dosage_form"`
	Strength     string          `db:"strength" json:"strength"`
	Price        decimal.Decimal `db:"price" json:"price"`
	ReorderLevel int             `db:"reorder_level" json:"reorder_level"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Dispensary is a named stocking location.
type Dispensary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Location  *string   `db:"location" json:"location,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Inventory is the stock of one medication at one dispensary, unique per
// pair and auto-created at zero on first reference.
type Inventory struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MedicationID uuid.UUID `db:"medication_id" json:"medication_id"`
	DispensaryID uuid.UUID `db:"dispensary_id" json:"dispensary_id"`
	StockQty     int       `db:"stock_quantity" json:"stock_quantity"`
	ReorderLevel int       `db:"reorder_level" json:"reorder_level"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsLowStock flags inventory at or below its reorder level.
func (i *Inventory) IsLowStock() bool {
	return i.StockQty <= i.ReorderLevel
}

// Transfer moves medication quantity between two dispensaries through an
// approval lifecycle. Stock only moves at execution.
type Transfer struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	MedicationID     uuid.UUID  `db:"medication_id" json:"medication_id"`
	FromDispensaryID uuid.UUID  `db:"from_dispensary_id" json:"from_dispensary_id"`
	ToDispensaryID   uuid.UUID  `db:"to_dispensary_id" json:"to_dispensary_id"`
	Quantity         int        `db:"quantity" json:"quantity"`
	Status           string     `db:"status" json:"status"`
	BatchID          *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	RequestedBy      string     `db:"requested_by" json:"requested_by"`
	ApprovedBy       *string    `db:"approved_by" json:"approved_by,omitempty"`
	TransferredBy    *string    `db:"transferred_by" json:"transferred_by,omitempty"`
	RequestedAt      time.Time  `db:"requested_at" json:"requested_at"`
	ApprovedAt       *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Notes            string     `db:"notes" json:"notes"`
	RejectionReason  *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
}

// Statistics summarizes transfer activity for the pharmacy dashboard.
type Statistics struct {
	ByStatus       map[string]int `json:"by_status"`
	TotalQuantity  int            `json:"total_quantity_moved"`
	TotalTransfers int            `json:"total_transfers"`
}
