package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/domain/nhia"
	"github.com/nazifia/hms/internal/domain/patients"
	"github.com/nazifia/hms/internal/domain/wallet"
	"github.com/nazifia/hms/internal/platform/db"
)

var (
	ErrNotFound             = errors.New("billing: invoice not found")
	ErrInvalidAmount        = errors.New("billing: amount must be positive")
	ErrInvalidState         = errors.New("billing: transition not permitted from current state")
	ErrOverpayment          = errors.New("billing: payment exceeds the outstanding amount")
	ErrAuthorizationBlocked = errors.New("billing: NHIA authorization blocks invoice generation")
)

// AuthorizationGate is the slice of the NHIA gate invoice generation
// consults.
type AuthorizationGate interface {
	Evaluate(ctx context.Context, patient *patients.Patient, action string, subject nhia.Subject) (nhia.Decision, error)
}

// CodeRegistry consumes authorization codes atomically with invoice
// creation.
type CodeRegistry interface {
	MarkUsed(ctx context.Context, id uuid.UUID, reference string) error
	FulfillRequest(ctx context.Context, module string, recordID uuid.UUID) error
}

type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

// Ledger is the slice of the wallet service payments go through.
type Ledger interface {
	EnsureWallet(ctx context.Context, patientID uuid.UUID) (*wallet.Wallet, error)
	Debit(ctx context.Context, op wallet.Op) (*wallet.Transaction, error)
}

// Service generates invoices behind the NHIA authorization gate and
// records wallet payments against them.
type Service struct {
	repo     Repository
	gate     AuthorizationGate
	codes    CodeRegistry
	patients PatientDirectory
	ledger   Ledger
	tx       db.TxRunner
	nowFunc  func() time.Time
}

func NewService(repo Repository, gate AuthorizationGate, codes CodeRegistry, pd PatientDirectory, ledger Ledger, tx db.TxRunner) *Service {
	return &Service{
		repo:     repo,
		gate:     gate,
		codes:    codes,
		patients: pd,
		ledger:   ledger,
		tx:       tx,
		nowFunc:  time.Now,
	}
}

type GenerateParams struct {
	PatientID           uuid.UUID
	SourceModule        string
	SourceRecordID      uuid.UUID
	Description         string
	TotalAmount         decimal.Decimal
	AuthorizationCodeID *uuid.UUID
	CreatedBy           string
}

// Generate creates an invoice for a source record. For NHIA patients the
// gate must answer VALID or NOT_REQUIRED; a VALID answer consumes the
// authorization code in the same transaction as the invoice insert, so
// neither persists without the other.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*Invoice, error) {
	if !p.TotalAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	patient, err := s.patients.GetByID(ctx, p.PatientID)
	if err != nil {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}

	decision, err := s.gate.Evaluate(ctx, patient, nhia.ActionGenerateInvoice, nhia.Subject{
		Module:   p.SourceModule,
		RecordID: p.SourceRecordID,
		CodeID:   p.AuthorizationCodeID,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Proceed() {
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationBlocked, decision.Message)
	}

	var inv *Invoice
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		number, err := s.nextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv = &Invoice{
			InvoiceNumber:  number,
			PatientID:      p.PatientID,
			SourceModule:   p.SourceModule,
			SourceRecordID: p.SourceRecordID,
			Description:    p.Description,
			TotalAmount:    p.TotalAmount,
			AmountPaid:     decimal.Zero,
			Status:         StatusPending,
			CreatedBy:      p.CreatedBy,
		}
		if decision.Outcome == nhia.DecisionValid {
			inv.AuthorizationCodeID = decision.CodeID
		}
		if err := s.repo.Create(ctx, inv); err != nil {
			return err
		}
		if decision.Outcome == nhia.DecisionValid {
			if err := s.codes.MarkUsed(ctx, *decision.CodeID, "Invoice #"+number); err != nil {
				return err
			}
			if err := s.codes.FulfillRequest(ctx, p.SourceModule, p.SourceRecordID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// nextInvoiceNumber continues the day's serial: INV-YYYYMMDD-NNNN.
func (s *Service) nextInvoiceNumber(ctx context.Context) (string, error) {
	prefix := "INV-" + s.nowFunc().Format("20060102") + "-"
	n, err := s.repo.CountNumbersOn(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, n+1), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

// RecordWalletPayment debits the patient's wallet (or their shared wallet
// when flagged) and applies the amount to the invoice, all in one
// transaction.
func (s *Service) RecordWalletPayment(ctx context.Context, invoiceID uuid.UUID, amount decimal.Decimal, useShared bool, actor string) (*Invoice, *wallet.Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	var (
		inv *Invoice
		txn *wallet.Transaction
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusPending && inv.Status != StatusPartiallyPaid {
			return fmt.Errorf("%w: invoice is %s", ErrInvalidState, inv.Status)
		}
		if amount.GreaterThan(inv.Outstanding()) {
			return ErrOverpayment
		}

		w, err := s.ledger.EnsureWallet(ctx, inv.PatientID)
		if err != nil {
			return err
		}
		txn, err = s.ledger.Debit(ctx, wallet.Op{
			Account:     wallet.IndividualAccount(w.ID),
			Amount:      amount,
			Type:        wallet.TxPayment,
			Description: "Payment for Invoice #" + inv.InvoiceNumber,
			Actor:       actor,
			UseShared:   useShared,
		})
		if err != nil {
			return err
		}

		inv.AmountPaid = inv.AmountPaid.Add(amount)
		if inv.AmountPaid.GreaterThanOrEqual(inv.TotalAmount) {
			inv.Status = StatusPaid
		} else {
			inv.Status = StatusPartiallyPaid
		}
		return s.repo.Update(ctx, inv)
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, txn, nil
}

// Cancel voids an unpaid invoice.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusPending {
			return fmt.Errorf("%w: cannot cancel a %s invoice", ErrInvalidState, inv.Status)
		}
		inv.Status = StatusCancelled
		return s.repo.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}
