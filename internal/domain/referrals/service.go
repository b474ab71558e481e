package referrals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nazifia/hms/internal/domain/patients"
	"github.com/nazifia/hms/internal/platform/db"
)

var (
	ErrNotFound      = errors.New("referrals: referral not found")
	ErrInvalidState  = errors.New("referrals: transition not permitted from current state")
	ErrNotReady      = errors.New("referrals: referral is not ready to accept")
	ErrWrongDept     = errors.New("referrals: referral belongs to a different department")
	ErrAuthRejected  = errors.New("referrals: authorization was rejected for this referral")
	ErrMissingFields = errors.New("referrals: referring doctor, department and reason are required")
)

// PatientDirectory is the slice of the patient service the referral
// engine needs to classify insurance coverage.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

// Service runs the referral state machine: two orthogonal axes, the
// referral status and the authorization status.
type Service struct {
	repo     Repository
	patients PatientDirectory
	tx       db.TxRunner
	nowFunc  func() time.Time
}

func NewService(repo Repository, pd PatientDirectory, tx db.TxRunner) *Service {
	return &Service{repo: repo, patients: pd, tx: tx, nowFunc: time.Now}
}

type CreateParams struct {
	PatientID            uuid.UUID
	ReferringDoctor      string
	ReferredToDepartment string
	ReferralDate         time.Time
	Reason               string
	Notes                string
}

// Create opens a referral. The authorization requirement comes from the
// patient's insurance classification: NHIA patients start at required,
// everyone else at not_required.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Referral, error) {
	if p.ReferringDoctor == "" || p.ReferredToDepartment == "" || p.Reason == "" {
		return nil, ErrMissingFields
	}
	patient, err := s.patients.GetByID(ctx, p.PatientID)
	if err != nil {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}

	ref := &Referral{
		PatientID:            p.PatientID,
		ReferringDoctor:      p.ReferringDoctor,
		ReferredToDepartment: p.ReferredToDepartment,
		ReferralDate:         p.ReferralDate,
		Reason:               p.Reason,
		Notes:                p.Notes,
		Status:               StatusPending,
		AuthorizationStatus:  AuthNotRequired,
	}
	if ref.ReferralDate.IsZero() {
		ref.ReferralDate = s.nowFunc()
	}
	if patient.IsNHIA() {
		ref.RequiresAuthorization = true
		ref.AuthorizationStatus = AuthRequired
	}
	if err := s.repo.Create(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Referral, int, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

// Accept takes the patient under care. Only a referral in the
// ready_to_accept bucket may be accepted, and only by staff of the
// receiving department.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, doctor, department string) (*Referral, error) {
	var result *Referral
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if department != "" && ref.ReferredToDepartment != department {
			return ErrWrongDept
		}
		if ref.AuthorizationStatus == AuthRejected {
			return ErrAuthRejected
		}
		if !ref.ReadyToAccept() {
			return fmt.Errorf("%w: status=%s authorization=%s",
				ErrNotReady, ref.Status, ref.AuthorizationStatus)
		}
		ref.Status = StatusAccepted
		ref.AssignedDoctor = &doctor
		result = ref
		return s.repo.Update(ctx, ref)
	})
	return result, err
}

// Complete closes out an accepted referral.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Referral, error) {
	var result *Referral
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ref.Status != StatusAccepted {
			return fmt.Errorf("%w: cannot complete a %s referral", ErrInvalidState, ref.Status)
		}
		now := s.nowFunc()
		ref.Status = StatusCompleted
		ref.CompletedAt = &now
		result = ref
		return s.repo.Update(ctx, ref)
	})
	return result, err
}

// Cancel is permitted from pending or accepted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Referral, error) {
	var result *Referral
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ref.Status != StatusPending && ref.Status != StatusAccepted {
			return fmt.Errorf("%w: cannot cancel a %s referral", ErrInvalidState, ref.Status)
		}
		ref.Status = StatusCancelled
		result = ref
		return s.repo.Update(ctx, ref)
	})
	return result, err
}

// Authorize attaches an issued authorization code and moves the
// authorization axis to authorized.
func (s *Service) Authorize(ctx context.Context, id, codeID uuid.UUID) (*Referral, error) {
	return s.setAuthorization(ctx, id, AuthAuthorized, &codeID)
}

// MarkAuthorizationPending records that the desk office has been asked.
func (s *Service) MarkAuthorizationPending(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.setAuthorization(ctx, id, AuthPending, nil)
}

// MarkAuthorizationRejected blocks the referral until re-authorized.
func (s *Service) MarkAuthorizationRejected(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.setAuthorization(ctx, id, AuthRejected, nil)
}

func (s *Service) setAuthorization(ctx context.Context, id uuid.UUID, status string, codeID *uuid.UUID) (*Referral, error) {
	var result *Referral
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ref.Status != StatusPending {
			return fmt.Errorf("%w: authorization changes only apply to pending referrals", ErrInvalidState)
		}
		if !ref.RequiresAuthorization {
			return fmt.Errorf("%w: referral does not require authorization", ErrInvalidState)
		}
		ref.AuthorizationStatus = status
		if codeID != nil {
			ref.AuthorizationCodeID = codeID
		}
		result = ref
		return s.repo.Update(ctx, ref)
	})
	return result, err
}

// Categorize builds the four-bucket dashboard for one receiving
// department. Completed and cancelled referrals are excluded.
func (s *Service) Categorize(ctx context.Context, department string) (*Dashboard, error) {
	active, err := s.repo.ListActiveByDepartment(ctx, department)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		ReadyToAccept:         []*Referral{},
		AwaitingAuthorization: []*Referral{},
		RejectedAuthorization: []*Referral{},
		UnderCare:             []*Referral{},
	}
	for _, ref := range active {
		switch ref.Bucket() {
		case BucketReadyToAccept:
			d.ReadyToAccept = append(d.ReadyToAccept, ref)
		case BucketAwaitingAuthorization:
			d.AwaitingAuthorization = append(d.AwaitingAuthorization, ref)
		case BucketRejectedAuthorization:
			d.RejectedAuthorization = append(d.RejectedAuthorization, ref)
		case BucketUnderCare:
			d.UnderCare = append(d.UnderCare, ref)
		}
	}
	return d, nil
}
