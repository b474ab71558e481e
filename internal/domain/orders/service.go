package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/domain/nhia"
	"github.com/nazifia/hms/internal/domain/patients"
	"github.com/nazifia/hms/internal/platform/db"
)

var (
	ErrNotFound             = errors.New("orders: order not found")
	ErrInvalidState         = errors.New("orders: transition not permitted from current state")
	ErrInvalidKind          = errors.New("orders: kind must be lab or radiology")
	ErrMissingFields        = errors.New("orders: patient and service name are required")
	ErrAuthorizationBlocked = errors.New("orders: NHIA authorization blocks processing")
)

// AuthorizationGate is the slice of the NHIA gate order processing
// consults.
type AuthorizationGate interface {
	Evaluate(ctx context.Context, patient *patients.Patient, action string, subject nhia.Subject) (nhia.Decision, error)
}

type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

// Service runs the lab/radiology order workflow. Orders may always be
// created (so the desk office can attach a code later), but processing
// an NHIA patient's order requires the gate to pass.
type Service struct {
	repo     Repository
	gate     AuthorizationGate
	patients PatientDirectory
	tx       db.TxRunner
	nowFunc  func() time.Time
}

func NewService(repo Repository, gate AuthorizationGate, pd PatientDirectory, tx db.TxRunner) *Service {
	return &Service{repo: repo, gate: gate, patients: pd, tx: tx, nowFunc: time.Now}
}

type CreateParams struct {
	Kind        string
	PatientID   uuid.UUID
	ServiceName string
	Price       *decimal.Decimal
	Priority    string
	OrderedBy   string
	Notes       string
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Order, error) {
	if p.Kind != KindLab && p.Kind != KindRadiology {
		return nil, ErrInvalidKind
	}
	if p.PatientID == uuid.Nil || p.ServiceName == "" {
		return nil, ErrMissingFields
	}
	if _, err := s.patients.GetByID(ctx, p.PatientID); err != nil {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}
	if p.Priority == "" {
		p.Priority = PriorityRoutine
	}

	o := &Order{
		Kind:        p.Kind,
		PatientID:   p.PatientID,
		ServiceName: p.ServiceName,
		Price:       p.Price,
		Priority:    p.Priority,
		Status:      StatusPending,
		OrderedBy:   p.OrderedBy,
		Notes:       p.Notes,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Order, int, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

// AttachCode stores an issued authorization code on the order.
func (s *Service) AttachCode(ctx context.Context, id, codeID uuid.UUID) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		switch o.Status {
		case StatusCompleted, StatusCancelled:
			return fmt.Errorf("%w: cannot attach a code to a %s order", ErrInvalidState, o.Status)
		}
		o.AuthorizationCodeID = &codeID
		return nil
	})
}

// MarkAwaitingPayment moves a pending order into the billing flow.
func (s *Service) MarkAwaitingPayment(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusAwaitingPayment, nil)
}

// ConfirmPayment records the paid invoice and unblocks processing.
func (s *Service) ConfirmPayment(ctx context.Context, id, invoiceID uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusPaymentConfirmed, func(o *Order) {
		o.InvoiceID = &invoiceID
	})
}

// Schedule books the order, gated for NHIA patients.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, when time.Time) (*Order, error) {
	if err := s.checkGate(ctx, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusScheduled, func(o *Order) {
		o.ScheduledFor = &when
	})
}

// Start begins processing, gated for NHIA patients.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Order, error) {
	if err := s.checkGate(ctx, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusInProgress, nil)
}

// Complete finishes the order.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusCompleted, func(o *Order) {
		now := s.nowFunc()
		o.CompletedAt = &now
	})
}

// Cancel voids any non-terminal order.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusCancelled, nil)
}

// checkGate consults the authorization gate for treatment-side
// transitions; NHIA patients without a valid code are blocked.
func (s *Service) checkGate(ctx context.Context, id uuid.UUID) error {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	patient, err := s.patients.GetByID(ctx, o.PatientID)
	if err != nil {
		return fmt.Errorf("looking up patient: %w", err)
	}
	module := nhia.ModuleLabOrder
	if o.Kind == KindRadiology {
		module = nhia.ModuleRadiology
	}
	decision, err := s.gate.Evaluate(ctx, patient, nhia.ActionCreateOrder, nhia.Subject{
		Module:   module,
		RecordID: o.ID,
		CodeID:   o.AuthorizationCodeID,
	})
	if err != nil {
		return err
	}
	if !decision.Proceed() {
		return fmt.Errorf("%w: %s", ErrAuthorizationBlocked, decision.Message)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, next string, apply func(*Order)) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		if !o.CanTransition(next) {
			return fmt.Errorf("%w: cannot move a %s order to %s", ErrInvalidState, o.Status, next)
		}
		o.Status = next
		if apply != nil {
			apply(o)
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*Order) error) (*Order, error) {
	var result *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		result = o
		return s.repo.Update(ctx, o)
	})
	return result, err
}
