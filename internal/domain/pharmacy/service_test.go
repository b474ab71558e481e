package pharmacy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type noopTxRunner struct{}

func (noopTxRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type mockMedicationRepo struct {
	meds map[uuid.UUID]*Medication
}

func newMockMedicationRepo() *mockMedicationRepo {
	return &mockMedicationRepo{meds: make(map[uuid.UUID]*Medication)}
}

func (m *mockMedicationRepo) Create(_ context.Context, med *Medication) error {
	med.ID = uuid.New()
	med.CreatedAt = time.Now()
	m.meds[med.ID] = med
	return nil
}

func (m *mockMedicationRepo) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	med, ok := m.meds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return med, nil
}

func (m *mockMedicationRepo) List(_ context.Context, search string, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	var out []*Medication
	for _, med := range m.meds {
		if activeOnly && !med.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(med.Name), strings.ToLower(search)) {
			continue
		}
		out = append(out, med)
	}
	return out, len(out), nil
}

func (m *mockMedicationRepo) Update(_ context.Context, med *Medication) error {
	if _, ok := m.meds[med.ID]; !ok {
		return ErrNotFound
	}
	m.meds[med.ID] = med
	return nil
}

type mockDispensaryRepo struct {
	disps map[uuid.UUID]*Dispensary
}

func newMockDispensaryRepo() *mockDispensaryRepo {
	return &mockDispensaryRepo{disps: make(map[uuid.UUID]*Dispensary)}
}

func (m *mockDispensaryRepo) Create(_ context.Context, d *Dispensary) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.disps[d.ID] = d
	return nil
}

func (m *mockDispensaryRepo) GetByID(_ context.Context, id uuid.UUID) (*Dispensary, error) {
	d, ok := m.disps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDispensaryRepo) List(_ context.Context, activeOnly bool) ([]*Dispensary, error) {
	var out []*Dispensary
	for _, d := range m.disps {
		if activeOnly && !d.IsActive {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type invKey struct {
	med  uuid.UUID
	disp uuid.UUID
}

type mockInventoryRepo struct {
	rows map[invKey]*Inventory
}

func newMockInventoryRepo() *mockInventoryRepo {
	return &mockInventoryRepo{rows: make(map[invKey]*Inventory)}
}

func (m *mockInventoryRepo) Get(_ context.Context, medID, dispID uuid.UUID) (*Inventory, error) {
	inv, ok := m.rows[invKey{medID, dispID}]
	if !ok {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (m *mockInventoryRepo) GetOrCreate(_ context.Context, medID, dispID uuid.UUID) (*Inventory, error) {
	k := invKey{medID, dispID}
	if inv, ok := m.rows[k]; ok {
		return inv, nil
	}
	inv := &Inventory{ID: uuid.New(), MedicationID: medID, DispensaryID: dispID, ReorderLevel: 10}
	m.rows[k] = inv
	return inv, nil
}

func (m *mockInventoryRepo) GetForUpdate(ctx context.Context, medID, dispID uuid.UUID) (*Inventory, error) {
	return m.GetOrCreate(ctx, medID, dispID)
}

func (m *mockInventoryRepo) UpdateStock(_ context.Context, id uuid.UUID, qty int) error {
	for _, inv := range m.rows {
		if inv.ID == id {
			inv.StockQty = qty
			inv.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockInventoryRepo) ListByDispensary(_ context.Context, dispID uuid.UUID, lowOnly bool, limit, offset int) ([]*Inventory, int, error) {
	var out []*Inventory
	for _, inv := range m.rows {
		if inv.DispensaryID != dispID {
			continue
		}
		if lowOnly && !inv.IsLowStock() {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *mockInventoryRepo) seed(medID, dispID uuid.UUID, qty int) *Inventory {
	inv := &Inventory{ID: uuid.New(), MedicationID: medID, DispensaryID: dispID, StockQty: qty, ReorderLevel: 10}
	m.rows[invKey{medID, dispID}] = inv
	return inv
}

type mockTransferRepo struct {
	transfers map[uuid.UUID]*Transfer
}

func newMockTransferRepo() *mockTransferRepo {
	return &mockTransferRepo{transfers: make(map[uuid.UUID]*Transfer)}
}

func (m *mockTransferRepo) Create(_ context.Context, t *Transfer) error {
	t.ID = uuid.New()
	t.RequestedAt = time.Now()
	m.transfers[t.ID] = t
	return nil
}

func (m *mockTransferRepo) GetByID(_ context.Context, id uuid.UUID) (*Transfer, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTransferRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTransferRepo) Update(_ context.Context, t *Transfer) error {
	if _, ok := m.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *mockTransferRepo) List(_ context.Context, f TransferFilters, limit, offset int) ([]*Transfer, int, error) {
	var out []*Transfer
	for _, t := range m.transfers {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.BatchID != nil && (t.BatchID == nil || *t.BatchID != *f.BatchID) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTransferRepo) Statistics(_ context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[string]int)}
	for _, t := range m.transfers {
		stats.ByStatus[t.Status]++
		stats.TotalTransfers++
		if t.Status == TransferCompleted {
			stats.TotalQuantity += t.Quantity
		}
	}
	return stats, nil
}

type fixture struct {
	svc   *Service
	inv   *mockInventoryRepo
	tr    *mockTransferRepo
	medID uuid.UUID
	srcID uuid.UUID
	dstID uuid.UUID
}

func newFixture() *fixture {
	inv := newMockInventoryRepo()
	tr := newMockTransferRepo()
	svc := NewService(newMockMedicationRepo(), newMockDispensaryRepo(), inv, tr, noopTxRunner{})
	return &fixture{
		svc:   svc,
		inv:   inv,
		tr:    tr,
		medID: uuid.New(),
		srcID: uuid.New(),
		dstID: uuid.New(),
	}
}

func TestRequestTransfer(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 50)

	tr, err := f.svc.Request(context.Background(), RequestParams{
		MedicationID:     f.medID,
		FromDispensaryID: f.srcID,
		ToDispensaryID:   f.dstID,
		Quantity:         20,
		RequestedBy:      "pharm-1",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if tr.Status != TransferPending {
		t.Errorf("status = %q, want pending", tr.Status)
	}
	// requesting must not move stock
	src, _ := f.inv.Get(context.Background(), f.medID, f.srcID)
	if src.StockQty != 50 {
		t.Errorf("source stock moved at request time: %d", src.StockQty)
	}
}

func TestRequestTransfer_Validations(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 5)

	_, err := f.svc.Request(context.Background(), RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID, Quantity: 0,
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero quantity: got %v, want ErrInvalidQuantity", err)
	}

	_, err = f.svc.Request(context.Background(), RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.srcID, Quantity: 5,
	})
	if !errors.Is(err, ErrSameDispensary) {
		t.Errorf("same dispensary: got %v, want ErrSameDispensary", err)
	}

	_, err = f.svc.Request(context.Background(), RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID, Quantity: 6,
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("over stock: got %v, want ErrInsufficientStock", err)
	}
}

func TestApproveThenExecute(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 50)
	ctx := context.Background()

	tr, err := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 20, RequestedBy: "pharm-1",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	tr, err = f.svc.Approve(ctx, tr.ID, "manager-1", "")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if tr.Status != TransferApproved || tr.ApprovedBy == nil || *tr.ApprovedBy != "manager-1" {
		t.Errorf("after approve: status=%q approvedBy=%v", tr.Status, tr.ApprovedBy)
	}

	tr, err = f.svc.Execute(ctx, tr.ID, "pharm-2")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.Status != TransferCompleted {
		t.Errorf("status = %q, want completed", tr.Status)
	}
	if tr.CompletedAt == nil || tr.TransferredBy == nil || *tr.TransferredBy != "pharm-2" {
		t.Errorf("completion metadata missing: %+v", tr)
	}

	src, _ := f.inv.Get(ctx, f.medID, f.srcID)
	dst, _ := f.inv.Get(ctx, f.medID, f.dstID)
	if src.StockQty != 30 {
		t.Errorf("source stock = %d, want 30", src.StockQty)
	}
	if dst.StockQty != 20 {
		t.Errorf("destination stock = %d, want 20", dst.StockQty)
	}
}

func TestExecute_StockDroppedAfterApproval(t *testing.T) {
	f := newFixture()
	src := f.inv.seed(f.medID, f.srcID, 10)
	ctx := context.Background()

	tr, err := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 10, RequestedBy: "pharm-1",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := f.svc.Approve(ctx, tr.ID, "manager-1", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// dispensing between approval and execution leaves only 3 units
	src.StockQty = 3

	_, err = f.svc.Execute(ctx, tr.ID, "pharm-2")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("Execute: got %v, want ErrInsufficientStock", err)
	}

	got, _ := f.tr.GetByID(ctx, tr.ID)
	if got.Status != TransferApproved {
		t.Errorf("status after failed execute = %q, want approved (retryable)", got.Status)
	}
	srcAfter, _ := f.inv.Get(ctx, f.medID, f.srcID)
	if srcAfter.StockQty != 3 {
		t.Errorf("source stock changed on failed execute: %d", srcAfter.StockQty)
	}
	dstAfter, err := f.inv.Get(ctx, f.medID, f.dstID)
	if err == nil && dstAfter.StockQty != 0 {
		t.Errorf("destination received stock on failed execute: %d", dstAfter.StockQty)
	}
}

func TestExecute_RequiresApproval(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 50)
	ctx := context.Background()

	tr, err := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 5, RequestedBy: "pharm-1",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := f.svc.Execute(ctx, tr.ID, "pharm-2"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("execute pending: got %v, want ErrInvalidState", err)
	}
}

func TestReject(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 50)
	ctx := context.Background()

	tr, _ := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 5, RequestedBy: "pharm-1",
	})

	if _, err := f.svc.Reject(ctx, tr.ID, "manager-1", ""); err == nil {
		t.Error("reject without reason should fail")
	}

	rejected, err := f.svc.Reject(ctx, tr.ID, "manager-1", "not needed at destination")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != TransferRejected {
		t.Errorf("status = %q, want rejected", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "not needed at destination" {
		t.Errorf("rejection reason not recorded: %v", rejected.RejectionReason)
	}

	// terminal: cannot approve or cancel afterwards
	if _, err := f.svc.Approve(ctx, tr.ID, "manager-1", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("approve rejected: got %v, want ErrInvalidState", err)
	}
	if _, err := f.svc.Cancel(ctx, tr.ID, "pharm-1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel rejected: got %v, want ErrInvalidState", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 50)
	ctx := context.Background()

	tr, _ := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 5, RequestedBy: "pharm-1",
	})
	cancelled, err := f.svc.Cancel(ctx, tr.ID, "pharm-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != TransferCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}
}

func TestBulkRequest_AllOrNothing(t *testing.T) {
	f := newFixture()
	med2 := uuid.New()
	f.inv.seed(f.medID, f.srcID, 50)
	f.inv.seed(med2, f.srcID, 2)
	ctx := context.Background()

	// second item is infeasible, so nothing may be created
	_, err := f.svc.BulkRequest(ctx, f.srcID, f.dstID, []BulkItem{
		{MedicationID: f.medID, Quantity: 10},
		{MedicationID: med2, Quantity: 5},
	}, "pharm-1", "")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("BulkRequest: got %v, want ErrInsufficientStock", err)
	}

	created, err := f.svc.BulkRequest(ctx, f.srcID, f.dstID, []BulkItem{
		{MedicationID: f.medID, Quantity: 10},
		{MedicationID: med2, Quantity: 2},
	}, "pharm-1", "monthly restock")
	if err != nil {
		t.Fatalf("BulkRequest: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d transfers, want 2", len(created))
	}
	if created[0].BatchID == nil || created[1].BatchID == nil || *created[0].BatchID != *created[1].BatchID {
		t.Error("batch transfers must share a batch id")
	}
}

func TestCheckFeasibility(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 8)
	ctx := context.Background()

	ok, _, err := f.svc.CheckFeasibility(ctx, f.medID, f.srcID, 8)
	if err != nil || !ok {
		t.Errorf("exact stock should be feasible: ok=%v err=%v", ok, err)
	}
	ok, reason, err := f.svc.CheckFeasibility(ctx, f.medID, f.srcID, 9)
	if err != nil || ok {
		t.Errorf("over stock should be infeasible: ok=%v err=%v", ok, err)
	}
	if reason == "" {
		t.Error("infeasible check should carry a reason")
	}
	ok, reason, _ = f.svc.CheckFeasibility(ctx, f.medID, f.dstID, 1)
	if ok || reason == "" {
		t.Errorf("missing inventory should be infeasible with reason: ok=%v reason=%q", ok, reason)
	}
}

func TestLookupInventoryAutoCreates(t *testing.T) {
	f := newFixture()
	inv, err := f.svc.LookupInventory(context.Background(), f.medID, f.dstID)
	if err != nil {
		t.Fatalf("LookupInventory: %v", err)
	}
	if inv.StockQty != 0 {
		t.Errorf("new inventory stock = %d, want 0", inv.StockQty)
	}
	if !inv.IsLowStock() {
		t.Error("zero stock should be flagged low")
	}
}

func TestTransferStatistics(t *testing.T) {
	f := newFixture()
	f.inv.seed(f.medID, f.srcID, 100)
	ctx := context.Background()

	for _, qty := range []int{10, 15} {
		tr, err := f.svc.Request(ctx, RequestParams{
			MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
			Quantity: qty, RequestedBy: "pharm-1",
		})
		if err != nil {
			t.Fatalf("Request: %v", err)
		}
		if _, err := f.svc.Approve(ctx, tr.ID, "manager-1", ""); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		if _, err := f.svc.Execute(ctx, tr.ID, "pharm-2"); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if _, err := f.svc.Request(ctx, RequestParams{
		MedicationID: f.medID, FromDispensaryID: f.srcID, ToDispensaryID: f.dstID,
		Quantity: 5, RequestedBy: "pharm-1",
	}); err != nil {
		t.Fatalf("Request: %v", err)
	}

	stats, err := f.svc.TransferStatistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalTransfers != 3 {
		t.Errorf("total transfers = %d, want 3", stats.TotalTransfers)
	}
	if stats.ByStatus[TransferCompleted] != 2 || stats.ByStatus[TransferPending] != 1 {
		t.Errorf("by status = %v", stats.ByStatus)
	}
	if stats.TotalQuantity != 25 {
		t.Errorf("total quantity moved = %d, want 25", stats.TotalQuantity)
	}
}
