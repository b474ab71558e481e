package nhia

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nazifia/hms/internal/domain/patients"
)

func nhiaPatient() *patients.Patient {
	return &patients.Patient{
		ID:          uuid.New(),
		PatientType: patients.TypeNHIA,
		NHIA:        &patients.NHIAInfo{RegNumber: "NHIA-20260830-0001", IsActive: true},
	}
}

func regularPatient() *patients.Patient {
	return &patients.Patient{ID: uuid.New(), PatientType: patients.TypeRegular}
}

func TestGate_NonNHIANotRequired(t *testing.T) {
	svc, _, _ := newTestService()
	gate := NewGate(svc)

	d, err := gate.Evaluate(context.Background(), regularPatient(),
		ActionGenerateInvoice, Subject{Module: ModuleInvoice, RecordID: uuid.New()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionNotRequired {
		t.Errorf("expected not_required, got %q", d.Outcome)
	}
	if !d.Proceed() {
		t.Error("expected proceed")
	}
}

func TestGate_ValidCode(t *testing.T) {
	svc, _, _ := newTestService()
	gate := NewGate(svc)

	code, err := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "radiology", IssuedBy: "desk-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	d, err := gate.Evaluate(context.Background(), nhiaPatient(),
		ActionGenerateInvoice, Subject{Module: ModuleInvoice, RecordID: uuid.New(), CodeID: &code.ID})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionValid {
		t.Errorf("expected valid, got %q", d.Outcome)
	}
	if !d.Proceed() {
		t.Error("expected proceed")
	}

	// The gate is read-only: the code must remain active.
	after, _ := svc.Get(context.Background(), code.ID)
	if after.Status != CodeActive {
		t.Errorf("expected code untouched by gate, got %q", after.Status)
	}
}

func TestGate_InvalidCode(t *testing.T) {
	svc, codes, _ := newTestService()
	gate := NewGate(svc)

	code, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "desk-1",
	})
	codes.items[code.ID].Status = CodeRejected

	d, err := gate.Evaluate(context.Background(), nhiaPatient(),
		ActionCreateOrder, Subject{Module: ModuleLabOrder, RecordID: uuid.New(), CodeID: &code.ID})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionInvalid {
		t.Errorf("expected invalid, got %q", d.Outcome)
	}
	if d.Proceed() {
		t.Error("expected block")
	}
}

func TestGate_ExpiredCodeInvalid(t *testing.T) {
	svc, codes, _ := newTestService()
	gate := NewGate(svc)

	code, _ := svc.Issue(context.Background(), IssueParams{
		PatientID: uuid.New(), ServiceType: "lab", IssuedBy: "desk-1",
	})
	codes.items[code.ID].ExpiresAt = time.Now().Add(-time.Hour)

	d, err := gate.Evaluate(context.Background(), nhiaPatient(),
		ActionGenerateInvoice, Subject{Module: ModuleInvoice, RecordID: uuid.New(), CodeID: &code.ID})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionInvalid {
		t.Errorf("expected invalid for expired code, got %q", d.Outcome)
	}
}

func TestGate_RequiredMissing(t *testing.T) {
	svc, _, _ := newTestService()
	gate := NewGate(svc)

	d, err := gate.Evaluate(context.Background(), nhiaPatient(),
		ActionGenerateInvoice, Subject{Module: ModuleInvoice, RecordID: uuid.New()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionRequiredMissing {
		t.Errorf("expected required_missing, got %q", d.Outcome)
	}
	if d.Proceed() {
		t.Error("expected block")
	}
}

func TestGate_PendingRequest(t *testing.T) {
	svc, _, _ := newTestService()
	gate := NewGate(svc)

	recordID := uuid.New()
	patient := nhiaPatient()
	if _, err := svc.RequestAuthorization(context.Background(),
		ModuleReferral, recordID, patient.ID, "dr-a", ""); err != nil {
		t.Fatalf("request: %v", err)
	}

	d, err := gate.Evaluate(context.Background(), patient,
		ActionExecuteReferral, Subject{Module: ModuleReferral, RecordID: recordID})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionPendingRequest {
		t.Errorf("expected pending_request, got %q", d.Outcome)
	}
	if d.Proceed() {
		t.Error("expected block")
	}
}

func TestGate_NHIAWithoutActiveSatellite(t *testing.T) {
	svc, _, _ := newTestService()
	gate := NewGate(svc)

	// Typed nhia but no active registration classifies as regular.
	p := &patients.Patient{ID: uuid.New(), PatientType: patients.TypeNHIA}
	d, err := gate.Evaluate(context.Background(), p,
		ActionGenerateInvoice, Subject{Module: ModuleInvoice, RecordID: uuid.New()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != DecisionNotRequired {
		t.Errorf("expected not_required, got %q", d.Outcome)
	}
}

func TestRequiresAuthorization(t *testing.T) {
	nhiaP := nhiaPatient()
	if RequiresAuthorization(nhiaP, "nhia") {
		t.Error("nhia patient at the nhia point of care needs no code")
	}
	if !RequiresAuthorization(nhiaP, "cardiology") {
		t.Error("nhia patient outside the nhia point of care needs a code")
	}
	if RequiresAuthorization(regularPatient(), "cardiology") {
		t.Error("regular patient never needs a code")
	}
}
