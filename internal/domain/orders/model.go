package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order kinds.
const (
	KindLab       = "lab"
	KindRadiology = "radiology"
)

// Order statuses. pending→awaiting_payment→payment_confirmed→scheduled→
// in_progress→completed; cancel from anything non-terminal.
const (
	StatusPending          = "pending"
	StatusAwaitingPayment  = "awaiting_payment"
	StatusPaymentConfirmed = "payment_confirmed"
	StatusScheduled        = "scheduled"
	StatusInProgress       = "in_progress"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
)

// Priorities.
const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityStat    = "stat"
)

// Order is a lab or radiology service request. NHIA patients need a
// valid authorization code before the order may start processing.
type Order struct {
	ID                  uuid.UUID        `db:"id" json:"id"`
	Kind                string           `db:"kind" json:"kind"`
	PatientID           uuid.UUID        `db:"patient_id" json:"patient_id"`
	ServiceName         string           `db:"service_name" json:"service_name"`
	Price               *decimal.Decimal `db:"price" json:"price,omitempty"`
	Priority            string           `db:"priority" json:"priority"`
	Status              string           `db:"status" json:"status"`
	OrderedBy           string           `db:"ordered_by" json:"ordered_by"`
	AuthorizationCodeID *uuid.UUID       `db:"authorization_code_id" json:"authorization_code_id,omitempty"`
	InvoiceID           *uuid.UUID       `db:"invoice_id" json:"invoice_id,omitempty"`
	ScheduledFor        *time.Time       `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CompletedAt         *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	Notes               string           `db:"notes" json:"notes"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// allowedTransitions is the order status workflow.
var allowedTransitions = map[string][]string{
	StatusPending:          {StatusAwaitingPayment, StatusScheduled, StatusCancelled},
	StatusAwaitingPayment:  {StatusPaymentConfirmed, StatusCancelled},
	StatusPaymentConfirmed: {StatusScheduled, StatusInProgress, StatusCancelled},
	StatusScheduled:        {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the workflow permits moving to next.
func (o *Order) CanTransition(next string) bool {
	for _, s := range allowedTransitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}
