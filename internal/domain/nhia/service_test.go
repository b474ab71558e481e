package nhia

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockCodeRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Code
}

func newMockCodeRepo() *mockCodeRepo {
	return &mockCodeRepo{items: make(map[uuid.UUID]*Code)}
}

func (m *mockCodeRepo) Create(_ context.Context, c *Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.UpdatedAt = time.Now()
	m.items[c.ID] = c
	return nil
}

func (m *mockCodeRepo) GetByID(_ context.Context, id uuid.UUID) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCodeRepo) GetByCode(_ context.Context, code string) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCodeRepo) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCodeRepo) MarkUsed(_ context.Context, id uuid.UUID, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != CodeActive || !time.Now().Before(c.ExpiresAt) {
		return false, nil
	}
	c.Status = CodeUsed
	c.UsedReference = &reference
	return true, nil
}

func (m *mockCodeRepo) Reject(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Status != CodeActive {
		return false, nil
	}
	c.Status = CodeRejected
	if c.Notes == "" {
		c.Notes = "Rejected: " + reason
	} else {
		c.Notes += "\nRejected: " + reason
	}
	return true, nil
}

func (m *mockCodeRepo) SweepExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.items {
		if c.Status == CodeActive && !now.Before(c.ExpiresAt) {
			c.Status = CodeExpired
			count++
		}
	}
	return count, nil
}

func (m *mockCodeRepo) List(_ context.Context, filters CodeFilters, limit, offset int) ([]*Code, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Code
	for _, c := range m.items {
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		result = append(result, c)
	}
	return result, len(result), nil
}

type mockRequestRepo struct {
	items map[uuid.UUID]*AuthorizationRequest
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{items: make(map[uuid.UUID]*AuthorizationRequest)}
}

func (m *mockRequestRepo) Create(_ context.Context, r *AuthorizationRequest) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.items[r.ID] = r
	return nil
}

func (m *mockRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*AuthorizationRequest, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRequestRepo) GetPending(_ context.Context, module string, recordID uuid.UUID) (*AuthorizationRequest, error) {
	for _, r := range m.items {
		if r.Module == module && r.RecordID == recordID && r.Status == RequestPending {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRequestRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	r, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *mockRequestRepo) ListPending(_ context.Context, limit, offset int) ([]*AuthorizationRequest, int, error) {
	var result []*AuthorizationRequest
	for _, r := range m.items {
		if r.Status == RequestPending {
			result = append(result, r)
		}
	}
	return result, len(result), nil
}

func newTestService() (*Service, *mockCodeRepo, *mockRequestRepo) {
	codes := newMockCodeRepo()
	requests := newMockRequestRepo()
	return NewService(codes, requests, 30), codes, requests
}

// -- Tests --

func TestIssue_GeneratesCodeFormat(t *testing.T) {
	svc, _, _ := newTestService()

	code, err := svc.Issue(context.Background(), IssueParams{
		PatientID:   uuid.New(),
		ServiceType: "radiology",
		IssuedBy:    "desk-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	wantPrefix := "AUTH-" + time.Now().Format("20060102") + "-"
	if !strings.HasPrefix(code.Code, wantPrefix) {
		t.Errorf("expected code prefix %q, got %q", wantPrefix, code.Code)
	}
	if len(code.Code) != len(wantPrefix)+6 {
		t.Errorf("expected 6-char suffix, got %q", code.Code)
	}
	if code.Status != CodeActive {
		t.Errorf("expected status active, got %q", code.Status)
	}
	wantExpiry := time.Now().AddDate(0, 0, 30)
	if code.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || code.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expected expiry ~30 days out, got %v", code.ExpiresAt)
	}
}

func TestIssue_ManualCode(t *testing.T) {
	svc, _, _ := newTestService()

	code, err := svc.Issue(context.Background(), IssueParams{
		PatientID:   uuid.New(),
		ServiceType: "lab",
		ManualCode:  "EXT-2026-000123",
		IssuedBy:    "desk-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code.Code != "EXT-2026-000123" {
		t.Errorf("expected manual code preserved, got %q", code.Code)
	}

	if _, err := svc.Issue(context.Background(), IssueParams{
		PatientID:   uuid.New(),
		ServiceType: "lab",
		ManualCode:  "EXT-2026-000123",
		IssuedBy:    "desk-1",
	}); !errors.Is(err, ErrCodeExists) {
		t.Errorf("expected ErrCodeExists for duplicate manual code, got %v", err)
	}
}

func TestMarkUsed_ExactlyOneWinner(t *testing.T) {
	svc, _, _ := newTestService()

	code, err := svc.Issue(context.Background(), IssueParams{
		PatientID:   uuid.New(),
		ServiceType: "radiology",
		IssuedBy:    "desk-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.MarkUsed(context.Background(), code.ID, "Radiology Order #1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrInvalidState) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}

	final, err := svc.Get(context.Background(), code.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != CodeUsed {
		t.Errorf("expected final status used, got %q", final.Status)
	}
	if final.UsedReference == nil || *final.UsedReference != "Radiology Order #1" {
		t.Error("expected winning reference recorded")
	}
}

func TestMarkUsed_NotActive(t *testing.T) {
	svc, _, _ := newTestService()

	code, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "u",
	})
	if err := svc.Reject(context.Background(), code.ID, "issued in error"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.MarkUsed(context.Background(), code.ID, "Invoice #1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on rejected code, got %v", err)
	}
}

func TestReject_RecordsReason(t *testing.T) {
	svc, codes, _ := newTestService()

	code, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "u",
	})
	if err := svc.Reject(context.Background(), code.ID, "duplicate issue"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored := codes.items[code.ID]
	if stored.Status != CodeRejected {
		t.Errorf("expected rejected, got %q", stored.Status)
	}
	if !strings.Contains(stored.Notes, "duplicate issue") {
		t.Errorf("expected reason in notes, got %q", stored.Notes)
	}

	if err := svc.Reject(context.Background(), code.ID, "again"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, codes, _ := newTestService()

	fresh, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "u",
	})
	stale, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "u",
	})
	codes.items[stale.ID].ExpiresAt = time.Now().Add(-time.Hour)

	count, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 swept, got %d", count)
	}
	if codes.items[stale.ID].Status != CodeExpired {
		t.Errorf("expected stale code expired, got %q", codes.items[stale.ID].Status)
	}
	if codes.items[fresh.ID].Status != CodeActive {
		t.Errorf("expected fresh code untouched, got %q", codes.items[fresh.ID].Status)
	}
}

func TestRequestAuthorization_DuplicatePendingBlocked(t *testing.T) {
	svc, _, _ := newTestService()
	recordID := uuid.New()
	patientID := uuid.New()

	if _, err := svc.RequestAuthorization(context.Background(),
		ModuleReferral, recordID, patientID, "dr-a", ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := svc.RequestAuthorization(context.Background(),
		ModuleReferral, recordID, patientID, "dr-b", ""); !errors.Is(err, ErrDuplicateAsk) {
		t.Errorf("expected ErrDuplicateAsk, got %v", err)
	}

	// A different module for the same record is a separate request.
	if _, err := svc.RequestAuthorization(context.Background(),
		ModuleLabOrder, recordID, patientID, "dr-a", ""); err != nil {
		t.Errorf("expected different module to be independent, got %v", err)
	}
}

func TestFulfillRequest(t *testing.T) {
	svc, _, requests := newTestService()
	recordID := uuid.New()

	req, err := svc.RequestAuthorization(context.Background(),
		ModuleConsultation, recordID, uuid.New(), "dr-a", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.FulfillRequest(context.Background(), ModuleConsultation, recordID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if requests.items[req.ID].Status != RequestFulfilled {
		t.Errorf("expected fulfilled, got %q", requests.items[req.ID].Status)
	}

	// Fulfilling a record with no pending request is a no-op.
	if err := svc.FulfillRequest(context.Background(), ModuleConsultation, uuid.New()); err != nil {
		t.Errorf("expected no-op fulfill, got %v", err)
	}
}

func TestDismissRequest(t *testing.T) {
	svc, _, requests := newTestService()

	req, err := svc.RequestAuthorization(context.Background(),
		ModuleInvoice, uuid.New(), uuid.New(), "dr-a", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := svc.DismissRequest(context.Background(), req.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if requests.items[req.ID].Status != RequestDismissed {
		t.Errorf("expected dismissed, got %q", requests.items[req.ID].Status)
	}
	if err := svc.DismissRequest(context.Background(), req.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second dismiss, got %v", err)
	}
}

func TestCodeIsValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		code Code
		want bool
	}{
		{"active unexpired", Code{Status: CodeActive, ExpiresAt: now.Add(time.Hour)}, true},
		{"active expired", Code{Status: CodeActive, ExpiresAt: now.Add(-time.Hour)}, false},
		{"used", Code{Status: CodeUsed, ExpiresAt: now.Add(time.Hour)}, false},
		{"rejected", Code{Status: CodeRejected, ExpiresAt: now.Add(time.Hour)}, false},
		{"expired status", Code{Status: CodeExpired, ExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.IsValid(now); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
