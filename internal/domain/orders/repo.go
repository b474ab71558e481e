package orders

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Order, int, error)
}

type ListFilters struct {
	Kind      string
	PatientID *uuid.UUID
	Status    string
	Priority  string
}
