package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice statuses.
const (
	StatusPending       = "pending"
	StatusPaid          = "paid"
	StatusPartiallyPaid = "partially_paid"
	StatusCancelled     = "cancelled"
)

// Invoice bills a patient for one source record (consultation, order,
// prescription). NHIA invoices carry the authorization code consumed at
// generation time.
type Invoice struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	InvoiceNumber       string          `db:"invoice_number" json:"invoice_number"`
	PatientID           uuid.UUID       `db:"patient_id" json:"patient_id"`
	SourceModule        string          `db:"source_module" json:"source_module"`
	SourceRecordID      uuid.UUID       `db:"source_record_id" json:"source_record_id"`
	Description         string          `db:"description" json:"description"`
	TotalAmount         decimal.Decimal `db:"total_amount" json:"total_amount"`
	AmountPaid          decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Status              string          `db:"status" json:"status"`
	AuthorizationCodeID *uuid.UUID      `db:"authorization_code_id" json:"authorization_code_id,omitempty"`
	CreatedBy           string          `db:"created_by" json:"created_by"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Outstanding is the unpaid remainder.
func (i *Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid)
}
