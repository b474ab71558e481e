package patients

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("patients: patient not found")
	ErrInvalidType     = errors.New("patients: invalid patient type")
	ErrAlreadyAttached = errors.New("patients: insurance info already attached")
)

const patientIDLength = 10

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a patient with a freshly generated patient_id. NHIA
// patients get identifiers starting with '4', everyone else '0'. Retries
// on the unlikely collision.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("patients: first and last name are required")
	}
	if p.PatientType == "" {
		p.PatientType = TypeRegular
	}
	if !ValidPatientTypes[p.PatientType] {
		return fmt.Errorf("%w: %s", ErrInvalidType, p.PatientType)
	}
	p.IsActive = true

	for attempt := 0; attempt < 10; attempt++ {
		pid, err := generatePatientID(p.PatientType)
		if err != nil {
			return err
		}
		exists, err := s.repo.PatientIDExists(ctx, pid)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		p.PatientID = pid
		return s.repo.Create(ctx, p)
	}
	return fmt.Errorf("patients: could not generate a unique patient id")
}

func generatePatientID(patientType string) (string, error) {
	prefix := "0"
	if patientType == TypeNHIA {
		prefix = "4"
	}
	id := prefix
	for len(id) < patientIDLength {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("patients: generate id: %w", err)
		}
		id += n.String()
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	return s.repo.GetByPatientID(ctx, patientID)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if p.PatientType != "" && !ValidPatientTypes[p.PatientType] {
		return fmt.Errorf("%w: %s", ErrInvalidType, p.PatientType)
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

// RegisterNHIA attaches NHIA coverage to a patient and flips their type.
// Registration numbers follow NHIA-YYYYMMDD-NNNN with a per-day serial.
func (s *Service) RegisterNHIA(ctx context.Context, patientID uuid.UUID) (*NHIAInfo, error) {
	p, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.NHIA != nil {
		return nil, ErrAlreadyAttached
	}

	datePart := time.Now().Format("20060102")
	prefix := "NHIA-" + datePart + "-"
	serial, err := s.repo.CountNHIARegistrationsOn(ctx, prefix)
	if err != nil {
		return nil, err
	}

	info := &NHIAInfo{
		PatientID: p.ID,
		RegNumber: fmt.Sprintf("%s%04d", prefix, serial+1),
		IsActive:  true,
	}
	if err := s.repo.AttachNHIA(ctx, info); err != nil {
		return nil, err
	}

	p.PatientType = TypeNHIA
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return info, nil
}

// RegisterRetainership attaches corporate coverage to a patient.
func (s *Service) RegisterRetainership(ctx context.Context, patientID uuid.UUID, regNumber string) (*RetainershipInfo, error) {
	p, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.Retainership != nil {
		return nil, ErrAlreadyAttached
	}
	if regNumber == "" {
		return nil, fmt.Errorf("patients: retainership registration number is required")
	}

	info := &RetainershipInfo{
		PatientID: p.ID,
		RegNumber: regNumber,
		IsActive:  true,
	}
	if err := s.repo.AttachRetainership(ctx, info); err != nil {
		return nil, err
	}

	p.PatientType = TypeRetainership
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return info, nil
}
