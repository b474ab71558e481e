package nhia

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CodeRepository interface {
	Create(ctx context.Context, c *Code) error
	GetByID(ctx context.Context, id uuid.UUID) (*Code, error)
	GetByCode(ctx context.Context, code string) (*Code, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// MarkUsed performs the active→used transition as a conditional
	// update; ok is false when the code was not active.
	MarkUsed(ctx context.Context, id uuid.UUID, reference string) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	List(ctx context.Context, filters CodeFilters, limit, offset int) ([]*Code, int, error)
}

// CodeFilters narrows code listing for the desk-office dashboard.
type CodeFilters struct {
	PatientID   *uuid.UUID
	Status      string
	ServiceType string
	Search      string // matches code string or notes
}

type RequestRepository interface {
	Create(ctx context.Context, r *AuthorizationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*AuthorizationRequest, error)
	GetPending(ctx context.Context, module string, recordID uuid.UUID) (*AuthorizationRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	ListPending(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error)
}
