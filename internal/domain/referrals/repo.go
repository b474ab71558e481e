package referrals

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Referral, int, error)
	// ListActiveByDepartment returns all non-terminal referrals for a
	// receiving department, for dashboard categorization.
	ListActiveByDepartment(ctx context.Context, department string) ([]*Referral, error)
}

type ListFilters struct {
	PatientID           *uuid.UUID
	Department          string
	Status              string
	AuthorizationStatus string
}
