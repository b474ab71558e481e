package pharmacy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nazifia/hms/internal/platform/db"
)

var (
	ErrNotFound          = errors.New("pharmacy: record not found")
	ErrInvalidState      = errors.New("pharmacy: transition not permitted from current state")
	ErrInsufficientStock = errors.New("pharmacy: insufficient stock at source dispensary")
	ErrSameDispensary    = errors.New("pharmacy: source and destination are the same")
	ErrInvalidQuantity   = errors.New("pharmacy: quantity must be positive")
)

// Service runs the inter-dispensary transfer engine. Stock moves only at
// execution, inside one transaction with both inventory rows locked.
type Service struct {
	medications  MedicationRepository
	dispensaries DispensaryRepository
	inventory    InventoryRepository
	transfers    TransferRepository
	tx           db.TxRunner
	nowFunc      func() time.Time
}

func NewService(med MedicationRepository, disp DispensaryRepository, inv InventoryRepository, tr TransferRepository, tx db.TxRunner) *Service {
	return &Service{
		medications:  med,
		dispensaries: disp,
		inventory:    inv,
		transfers:    tr,
		tx:           tx,
		nowFunc:      time.Now,
	}
}

// CheckFeasibility reports whether a transfer of qty units could execute
// right now, with a human-readable reason when it could not.
func (s *Service) CheckFeasibility(ctx context.Context, medicationID, sourceID uuid.UUID, qty int) (bool, string, error) {
	if qty <= 0 {
		return false, "quantity must be positive", nil
	}
	inv, err := s.inventory.Get(ctx, medicationID, sourceID)
	if errors.Is(err, ErrNotFound) {
		return false, "no inventory for this medication at the source dispensary", nil
	}
	if err != nil {
		return false, "", err
	}
	if inv.StockQty < qty {
		return false, fmt.Sprintf("only %d units in stock", inv.StockQty), nil
	}
	return true, "", nil
}

// Request creates a pending transfer after validating feasibility.
type RequestParams struct {
	MedicationID     uuid.UUID
	FromDispensaryID uuid.UUID
	ToDispensaryID   uuid.UUID
	Quantity         int
	RequestedBy      string
	Notes            string
}

func (s *Service) Request(ctx context.Context, p RequestParams) (*Transfer, error) {
	if p.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if p.FromDispensaryID == p.ToDispensaryID {
		return nil, ErrSameDispensary
	}
	ok, reason, err := s.CheckFeasibility(ctx, p.MedicationID, p.FromDispensaryID, p.Quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, reason)
	}

	t := &Transfer{
		MedicationID:     p.MedicationID,
		FromDispensaryID: p.FromDispensaryID,
		ToDispensaryID:   p.ToDispensaryID,
		Quantity:         p.Quantity,
		Status:           TransferPending,
		RequestedBy:      p.RequestedBy,
		Notes:            p.Notes,
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// BulkRequest creates one pending transfer per item between two fixed
// dispensaries, all inside one transaction; any infeasible item rolls the
// whole batch back. The shared batch id groups them for listing.
type BulkItem struct {
	MedicationID uuid.UUID `json:"medication_id"`
	Quantity     int       `json:"quantity"`
}

func (s *Service) BulkRequest(ctx context.Context, fromID, toID uuid.UUID, items []BulkItem, requestedBy, notes string) ([]*Transfer, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("pharmacy: bulk request needs at least one item")
	}
	if fromID == toID {
		return nil, ErrSameDispensary
	}

	batchID := uuid.New()
	var created []*Transfer
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, item := range items {
			if item.Quantity <= 0 {
				return ErrInvalidQuantity
			}
			ok, reason, err := s.CheckFeasibility(ctx, item.MedicationID, fromID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: medication %s: %s", ErrInsufficientStock, item.MedicationID, reason)
			}
			t := &Transfer{
				MedicationID:     item.MedicationID,
				FromDispensaryID: fromID,
				ToDispensaryID:   toID,
				Quantity:         item.Quantity,
				Status:           TransferPending,
				BatchID:          &batchID,
				RequestedBy:      requestedBy,
				Notes:            notes,
			}
			if err := s.transfers.Create(ctx, t); err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Approve re-checks feasibility and moves pending→approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver, notes string) (*Transfer, error) {
	var result *Transfer
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != TransferPending {
			return fmt.Errorf("%w: cannot approve a %s transfer", ErrInvalidState, t.Status)
		}
		ok, reason, err := s.CheckFeasibility(ctx, t.MedicationID, t.FromDispensaryID, t.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrInsufficientStock, reason)
		}

		now := s.nowFunc()
		t.Status = TransferApproved
		t.ApprovedBy = &approver
		t.ApprovedAt = &now
		if notes != "" {
			t.Notes = appendNote(t.Notes, notes)
		}
		result = t
		return s.transfers.Update(ctx, t)
	})
	return result, err
}

// Reject moves pending→rejected, recording the reason. Terminal.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, approver, reason string) (*Transfer, error) {
	if reason == "" {
		return nil, fmt.Errorf("pharmacy: a rejection reason is required")
	}
	var result *Transfer
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != TransferPending {
			return fmt.Errorf("%w: cannot reject a %s transfer", ErrInvalidState, t.Status)
		}
		t.Status = TransferRejected
		t.ApprovedBy = &approver
		t.RejectionReason = &reason
		result = t
		return s.transfers.Update(ctx, t)
	})
	return result, err
}

// Execute atomically moves stock for an approved transfer: both inventory
// rows are locked in canonical id order, stock is re-checked, the source
// decremented and the destination incremented, and the transfer completed.
// On insufficient stock the transfer stays approved for retry.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, actor string) (*Transfer, error) {
	var result *Transfer
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != TransferApproved && t.Status != TransferInTransit {
			return fmt.Errorf("%w: cannot execute a %s transfer", ErrInvalidState, t.Status)
		}

		src, dst, err := s.lockInventoryPair(ctx, t)
		if err != nil {
			return err
		}
		if src.StockQty < t.Quantity {
			return fmt.Errorf("%w: only %d units in stock", ErrInsufficientStock, src.StockQty)
		}

		if err := s.inventory.UpdateStock(ctx, src.ID, src.StockQty-t.Quantity); err != nil {
			return err
		}
		if err := s.inventory.UpdateStock(ctx, dst.ID, dst.StockQty+t.Quantity); err != nil {
			return err
		}

		now := s.nowFunc()
		t.Status = TransferCompleted
		t.TransferredBy = &actor
		t.CompletedAt = &now
		result = t
		return s.transfers.Update(ctx, t)
	})
	return result, err
}

// lockInventoryPair locks the source and destination rows in ascending
// dispensary-id order so concurrent opposite transfers cannot deadlock.
// The destination row is auto-created at zero.
func (s *Service) lockInventoryPair(ctx context.Context, t *Transfer) (src, dst *Inventory, err error) {
	first, second := t.FromDispensaryID, t.ToDispensaryID
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	a, err := s.inventory.GetForUpdate(ctx, t.MedicationID, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.inventory.GetForUpdate(ctx, t.MedicationID, second)
	if err != nil {
		return nil, nil, err
	}
	if a.DispensaryID == t.FromDispensaryID {
		return a, b, nil
	}
	return b, a, nil
}

// Cancel moves any non-terminal transfer to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Transfer, error) {
	var result *Transfer
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch t.Status {
		case TransferCompleted, TransferRejected, TransferCancelled:
			return fmt.Errorf("%w: cannot cancel a %s transfer", ErrInvalidState, t.Status)
		}
		t.Status = TransferCancelled
		t.Notes = appendNote(t.Notes, "Cancelled by "+actor)
		result = t
		return s.transfers.Update(ctx, t)
	})
	return result, err
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

func (s *Service) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return s.transfers.GetByID(ctx, id)
}

func (s *Service) ListTransfers(ctx context.Context, filters TransferFilters, limit, offset int) ([]*Transfer, int, error) {
	return s.transfers.List(ctx, filters, limit, offset)
}

func (s *Service) TransferStatistics(ctx context.Context) (*Statistics, error) {
	return s.transfers.Statistics(ctx)
}

// LookupInventory returns stock for a (medication, dispensary) pair,
// creating the row at zero on first reference.
func (s *Service) LookupInventory(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error) {
	return s.inventory.GetOrCreate(ctx, medicationID, dispensaryID)
}

func (s *Service) ListInventory(ctx context.Context, dispensaryID uuid.UUID, lowStockOnly bool, limit, offset int) ([]*Inventory, int, error) {
	return s.inventory.ListByDispensary(ctx, dispensaryID, lowStockOnly, limit, offset)
}

// AdjustStock sets absolute stock for receiving and stocktake flows.
func (s *Service) AdjustStock(ctx context.Context, medicationID, dispensaryID uuid.UUID, qty int) (*Inventory, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	var inv *Inventory
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.inventory.GetForUpdate(ctx, medicationID, dispensaryID)
		if err != nil {
			return err
		}
		inv.StockQty = qty
		return s.inventory.UpdateStock(ctx, inv.ID, qty)
	})
	return inv, err
}

// -- Catalog --

func (s *Service) CreateMedication(ctx context.Context, m *Medication) error {
	if m.Name == "" {
		return fmt.Errorf("pharmacy: medication name is required")
	}
	m.IsActive = true
	return s.medications.Create(ctx, m)
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.medications.GetByID(ctx, id)
}

func (s *Service) ListMedications(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	return s.medications.List(ctx, search, activeOnly, limit, offset)
}

func (s *Service) CreateDispensary(ctx context.Context, d *Dispensary) error {
	if d.Name == "" {
		return fmt.Errorf("pharmacy: dispensary name is required")
	}
	d.IsActive = true
	return s.dispensaries.Create(ctx, d)
}

func (s *Service) ListDispensaries(ctx context.Context, activeOnly bool) ([]*Dispensary, error) {
	return s.dispensaries.List(ctx, activeOnly)
}
