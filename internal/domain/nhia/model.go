package nhia

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Authorization code statuses. A code is issued active and moves exactly
// once to used, expired, or rejected; it is never re-activated.
const (
	CodeActive   = "active"
	CodeUsed     = "used"
	CodeExpired  = "expired"
	CodeRejected = "rejected"
)

// Code is a short-lived token issued by the desk office permitting a
// specific service for a specific patient.
type Code struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	Code          string           `db:"code" json:"code"`
	PatientID     uuid.UUID        `db:"patient_id" json:"patient_id"`
	ServiceType   string           `db:"service_type" json:"service_type"`
	Amount        *decimal.Decimal `db:"amount" json:"amount,omitempty"`
	Status        string           `db:"status" json:"status"`
	ExpiresAt     time.Time        `db:"expires_at" json:"expires_at"`
	UsedReference *string          `db:"used_reference" json:"used_reference,omitempty"`
	Notes         string           `db:"notes" json:"notes"`
	GeneratedBy   string           `db:"generated_by" json:"generated_by"`
	GeneratedAt   time.Time        `db:"generated_at" json:"generated_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// IsValid reports whether the code can still authorize a service.
func (c *Code) IsValid(now time.Time) bool {
	return c.Status == CodeActive && now.Before(c.ExpiresAt)
}

// Authorization request statuses.
const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
	RequestDismissed = "dismissed"
)

// Request modules — the record families a request may reference.
const (
	ModuleConsultation = "consultation"
	ModuleReferral     = "referral"
	ModuleLabOrder     = "lab_order"
	ModuleRadiology    = "radiology_order"
	ModuleInvoice      = "invoice"
)

// AuthorizationRequest tracks a pending ask for the desk office to issue
// a code for a specific record. At most one pending request exists per
// (module, record_id).
type AuthorizationRequest struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Module      string    `db:"module" json:"module"`
	RecordID    uuid.UUID `db:"record_id" json:"record_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Status      string    `db:"status" json:"status"`
	RequestedBy string    `db:"requested_by" json:"requested_by"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
