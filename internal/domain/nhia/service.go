package nhia

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("nhia: authorization code not found")
	ErrInvalidState  = errors.New("nhia: transition not permitted from current state")
	ErrCodeExists    = errors.New("nhia: code string already in use")
	ErrDuplicateAsk  = errors.New("nhia: a pending request already exists for this record")
	ErrInvalidAmount = errors.New("nhia: amount must be positive")
)

const codeSuffixChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service is the authorization code registry plus the request queue the
// desk office works from.
type Service struct {
	codes     CodeRepository
	requests  RequestRepository
	validDays int
	nowFunc   func() time.Time
}

func NewService(codes CodeRepository, requests RequestRepository, validDays int) *Service {
	if validDays <= 0 {
		validDays = 30
	}
	return &Service{
		codes:     codes,
		requests:  requests,
		validDays: validDays,
		nowFunc:   time.Now,
	}
}

// IssueParams describes a code to issue. When ManualCode is set the desk
// office is keying in an externally issued code; otherwise one is
// generated as AUTH-YYYYMMDD-XXXXXX.
type IssueParams struct {
	PatientID   uuid.UUID
	ServiceType string
	Amount      *decimal.Decimal
	ValidDays   int // 0 means the configured default
	ManualCode  string
	Notes       string
	IssuedBy    string
}

// Issue creates a new active code, looping on the unlikely collision of
// generated suffixes.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*Code, error) {
	if p.PatientID == uuid.Nil {
		return nil, fmt.Errorf("nhia: patient_id is required")
	}
	if p.ServiceType == "" {
		return nil, fmt.Errorf("nhia: service_type is required")
	}
	if p.Amount != nil && !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	validDays := p.ValidDays
	if validDays <= 0 {
		validDays = s.validDays
	}
	now := s.nowFunc()

	code := &Code{
		PatientID:   p.PatientID,
		ServiceType: p.ServiceType,
		Amount:      p.Amount,
		Status:      CodeActive,
		ExpiresAt:   now.AddDate(0, 0, validDays),
		Notes:       p.Notes,
		GeneratedBy: p.IssuedBy,
		GeneratedAt: now,
	}

	if p.ManualCode != "" {
		exists, err := s.codes.CodeExists(ctx, p.ManualCode)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrCodeExists
		}
		code.Code = p.ManualCode
		if err := s.codes.Create(ctx, code); err != nil {
			return nil, err
		}
		return code, nil
	}

	for attempt := 0; attempt < 10; attempt++ {
		generated, err := generateCodeString(now)
		if err != nil {
			return nil, err
		}
		exists, err := s.codes.CodeExists(ctx, generated)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		code.Code = generated
		if err := s.codes.Create(ctx, code); err != nil {
			return nil, err
		}
		return code, nil
	}
	return nil, fmt.Errorf("nhia: could not generate a unique code")
}

func generateCodeString(now time.Time) (string, error) {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeSuffixChars))))
		if err != nil {
			return "", fmt.Errorf("nhia: generate code: %w", err)
		}
		suffix[i] = codeSuffixChars[n.Int64()]
	}
	return fmt.Sprintf("AUTH-%s-%s", now.Format("20060102"), suffix), nil
}

// Lookup resolves a code string.
func (s *Service) Lookup(ctx context.Context, codeStr string) (*Code, error) {
	return s.codes.GetByCode(ctx, codeStr)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Code, error) {
	return s.codes.GetByID(ctx, id)
}

// IsValid reports whether a code can authorize a service right now.
func (s *Service) IsValid(c *Code) bool {
	return c.IsValid(s.nowFunc())
}

// MarkUsed consumes a code, recording the consuming artifact. Exactly one
// of any set of concurrent callers succeeds; the rest get ErrInvalidState.
func (s *Service) MarkUsed(ctx context.Context, id uuid.UUID, reference string) error {
	ok, err := s.codes.MarkUsed(ctx, id, reference)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	return nil
}

// Reject retires an active code administratively; the reason lands in the
// code's notes.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		return fmt.Errorf("nhia: rejection reason is required")
	}
	ok, err := s.codes.Reject(ctx, id, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	return nil
}

// SweepExpired transitions all overdue active codes to expired. Run
// periodically from the CLI.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.codes.SweepExpired(ctx, s.nowFunc())
}

func (s *Service) ListCodes(ctx context.Context, filters CodeFilters, limit, offset int) ([]*Code, int, error) {
	return s.codes.List(ctx, filters, limit, offset)
}

// RequestAuthorization records that a record is waiting on the desk office.
// At most one pending request per (module, record_id).
func (s *Service) RequestAuthorization(ctx context.Context, module string, recordID, patientID uuid.UUID, requestedBy, notes string) (*AuthorizationRequest, error) {
	if existing, err := s.requests.GetPending(ctx, module, recordID); err == nil && existing != nil {
		return nil, ErrDuplicateAsk
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	req := &AuthorizationRequest{
		Module:      module,
		RecordID:    recordID,
		PatientID:   patientID,
		Status:      RequestPending,
		RequestedBy: requestedBy,
		Notes:       notes,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// HasPendingRequest reports whether a record is waiting on the desk office.
func (s *Service) HasPendingRequest(ctx context.Context, module string, recordID uuid.UUID) (bool, error) {
	_, err := s.requests.GetPending(ctx, module, recordID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FulfillRequest closes the pending request for a record after a code has
// been attached. Missing requests are not an error: codes may be issued
// without a prior ask.
func (s *Service) FulfillRequest(ctx context.Context, module string, recordID uuid.UUID) error {
	req, err := s.requests.GetPending(ctx, module, recordID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.requests.UpdateStatus(ctx, req.ID, RequestFulfilled)
}

// DismissRequest closes a request without issuing a code.
func (s *Service) DismissRequest(ctx context.Context, id uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return ErrInvalidState
	}
	return s.requests.UpdateStatus(ctx, id, RequestDismissed)
}

func (s *Service) ListPendingRequests(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error) {
	return s.requests.ListPending(ctx, limit, offset)
}
