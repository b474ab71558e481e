package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Invoice, int, error)
	// CountNumbersOn counts invoice numbers carrying the given day prefix,
	// for serial continuation.
	CountNumbersOn(ctx context.Context, prefix string) (int, error)
}

type ListFilters struct {
	PatientID    *uuid.UUID
	SourceModule string
	Status       string
}
