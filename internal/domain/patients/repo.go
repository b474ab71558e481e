package patients

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Patient, int, error)
	PatientIDExists(ctx context.Context, patientID string) (bool, error)

	// Satellites
	AttachNHIA(ctx context.Context, info *NHIAInfo) error
	AttachRetainership(ctx context.Context, info *RetainershipInfo) error
	CountNHIARegistrationsOn(ctx context.Context, datePrefix string) (int, error)
}

// ListFilters narrows patient listing.
type ListFilters struct {
	Search      string // matches name parts, patient_id, phone
	PatientType string
	ActiveOnly  bool
}
