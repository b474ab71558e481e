package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	List(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]*Medication, int, error)
	Update(ctx context.Context, m *Medication) error
}

type DispensaryRepository interface {
	Create(ctx context.Context, d *Dispensary) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispensary, error)
	List(ctx context.Context, activeOnly bool) ([]*Dispensary, error)
}

type InventoryRepository interface {
	// Get returns the inventory row for the pair, or ErrNotFound.
	Get(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error)
	// GetOrCreate returns the row, creating it at zero stock if missing.
	GetOrCreate(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error)
	// GetForUpdate row-locks the pair; creates at zero if missing.
	GetForUpdate(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error)
	UpdateStock(ctx context.Context, id uuid.UUID, stockQty int) error
	ListByDispensary(ctx context.Context, dispensaryID uuid.UUID, lowStockOnly bool, limit, offset int) ([]*Inventory, int, error)
}

type TransferRepository interface {
	Create(ctx context.Context, t *Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer) error
	List(ctx context.Context, filters TransferFilters, limit, offset int) ([]*Transfer, int, error)
	Statistics(ctx context.Context) (*Statistics, error)
}

// TransferFilters narrows transfer listing.
type TransferFilters struct {
	Status           string
	MedicationID     *uuid.UUID
	FromDispensaryID *uuid.UUID
	ToDispensaryID   *uuid.UUID
	BatchID          *uuid.UUID
}
