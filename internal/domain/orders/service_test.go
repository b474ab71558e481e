package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nazifia/hms/internal/domain/nhia"
	"github.com/nazifia/hms/internal/domain/patients"
)

type noopTxRunner struct{}

func (noopTxRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	orders map[uuid.UUID]*Order
}

func newMockRepo() *mockRepo {
	return &mockRepo{orders: make(map[uuid.UUID]*Order)}
}

func (m *mockRepo) Create(_ context.Context, o *Order) error {
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, o *Order) error {
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilters, limit, offset int) ([]*Order, int, error) {
	var out []*Order
	for _, o := range m.orders {
		if f.Kind != "" && o.Kind != f.Kind {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

// stubGate mimics the real gate's decision table for tests: non-NHIA
// patients pass, NHIA patients pass only with a code.
type stubGate struct{}

func (stubGate) Evaluate(_ context.Context, patient *patients.Patient, _ string, subject nhia.Subject) (nhia.Decision, error) {
	if !patient.IsNHIA() {
		return nhia.Decision{Outcome: nhia.DecisionNotRequired}, nil
	}
	if subject.CodeID != nil {
		return nhia.Decision{Outcome: nhia.DecisionValid, CodeID: subject.CodeID}, nil
	}
	return nhia.Decision{
		Outcome: nhia.DecisionRequiredMissing,
		Message: "authorization code required",
	}, nil
}

type mockDirectory struct {
	patients map[uuid.UUID]*patients.Patient
}

func (m *mockDirectory) GetByID(_ context.Context, id uuid.UUID) (*patients.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, errors.New("patient not found")
	}
	return p, nil
}

func nhiaPatient() *patients.Patient {
	id := uuid.New()
	return &patients.Patient{
		ID:          id,
		PatientID:   "4000000001",
		PatientType: patients.TypeNHIA,
		IsActive:    true,
		NHIA:        &patients.NHIAInfo{PatientID: id, RegNumber: "NHIA-20260830-0001", IsActive: true},
	}
}

func regularPatient() *patients.Patient {
	return &patients.Patient{
		ID:          uuid.New(),
		PatientID:   "0000000001",
		PatientType: patients.TypeRegular,
		IsActive:    true,
	}
}

func newService(pts ...*patients.Patient) *Service {
	dir := &mockDirectory{patients: make(map[uuid.UUID]*patients.Patient)}
	for _, p := range pts {
		dir.patients[p.ID] = p
	}
	return NewService(newMockRepo(), stubGate{}, dir, noopTxRunner{})
}

func createOrder(t *testing.T, svc *Service, p *patients.Patient, kind string) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateParams{
		Kind:        kind,
		PatientID:   p.ID,
		ServiceName: "Full blood count",
		OrderedBy:   "dr-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return o
}

func TestCreate(t *testing.T) {
	p := regularPatient()
	svc := newService(p)

	o := createOrder(t, svc, p, KindLab)
	if o.Status != StatusPending {
		t.Errorf("status = %q, want pending", o.Status)
	}
	if o.Priority != PriorityRoutine {
		t.Errorf("priority = %q, want routine default", o.Priority)
	}

	if _, err := svc.Create(context.Background(), CreateParams{
		Kind: "surgery", PatientID: p.ID, ServiceName: "x",
	}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: got %v, want ErrInvalidKind", err)
	}
	if _, err := svc.Create(context.Background(), CreateParams{
		Kind: KindLab, PatientID: p.ID,
	}); !errors.Is(err, ErrMissingFields) {
		t.Errorf("missing service: got %v, want ErrMissingFields", err)
	}
}

func TestPaymentWorkflow(t *testing.T) {
	p := regularPatient()
	svc := newService(p)
	ctx := context.Background()
	o := createOrder(t, svc, p, KindLab)

	o, err := svc.MarkAwaitingPayment(ctx, o.ID)
	if err != nil {
		t.Fatalf("MarkAwaitingPayment: %v", err)
	}
	if o.Status != StatusAwaitingPayment {
		t.Errorf("status = %q, want awaiting_payment", o.Status)
	}

	// cannot start before payment confirmation
	if _, err := svc.Start(ctx, o.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("start unpaid: got %v, want ErrInvalidState", err)
	}

	invoiceID := uuid.New()
	o, err = svc.ConfirmPayment(ctx, o.ID, invoiceID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if o.Status != StatusPaymentConfirmed {
		t.Errorf("status = %q, want payment_confirmed", o.Status)
	}
	if o.InvoiceID == nil || *o.InvoiceID != invoiceID {
		t.Errorf("invoice not linked: %v", o.InvoiceID)
	}

	o, err = svc.Start(ctx, o.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	o, err = svc.Complete(ctx, o.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if o.Status != StatusCompleted || o.CompletedAt == nil {
		t.Errorf("completion not recorded: %+v", o)
	}

	if _, err := svc.Cancel(ctx, o.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel completed: got %v, want ErrInvalidState", err)
	}
}

func TestSchedule(t *testing.T) {
	p := regularPatient()
	svc := newService(p)
	ctx := context.Background()
	o := createOrder(t, svc, p, KindRadiology)

	when := time.Now().Add(48 * time.Hour)
	o, err := svc.Schedule(ctx, o.ID, when)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if o.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", o.Status)
	}
	if o.ScheduledFor == nil || !o.ScheduledFor.Equal(when) {
		t.Errorf("scheduled_for = %v", o.ScheduledFor)
	}
}

func TestNHIAOrderGating(t *testing.T) {
	p := nhiaPatient()
	svc := newService(p)
	ctx := context.Background()

	// NHIA orders may be created without a code
	o := createOrder(t, svc, p, KindLab)

	// but processing is blocked until one is attached
	_, err := svc.Schedule(ctx, o.ID, time.Now().Add(time.Hour))
	if !errors.Is(err, ErrAuthorizationBlocked) {
		t.Fatalf("schedule without code: got %v, want ErrAuthorizationBlocked", err)
	}

	codeID := uuid.New()
	if _, err := svc.AttachCode(ctx, o.ID, codeID); err != nil {
		t.Fatalf("AttachCode: %v", err)
	}
	o, err = svc.Schedule(ctx, o.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule with code: %v", err)
	}
	if o.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", o.Status)
	}
	if _, err := svc.Start(ctx, o.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestCancelFromEarlyStates(t *testing.T) {
	p := regularPatient()
	svc := newService(p)
	ctx := context.Background()

	for _, setup := range []func(o *Order){
		func(o *Order) {},
		func(o *Order) {
			if _, err := svc.MarkAwaitingPayment(ctx, o.ID); err != nil {
				t.Fatalf("MarkAwaitingPayment: %v", err)
			}
		},
	} {
		o := createOrder(t, svc, p, KindLab)
		setup(o)
		cancelled, err := svc.Cancel(ctx, o.ID)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if cancelled.Status != StatusCancelled {
			t.Errorf("status = %q, want cancelled", cancelled.Status)
		}
	}
}
