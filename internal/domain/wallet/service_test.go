package wallet

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -- Mock Repository --

type noopTxRunner struct{}

func (noopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	wallets     map[uuid.UUID]*Wallet
	shared      map[uuid.UUID]*SharedWallet
	memberships map[uuid.UUID]*Membership
	ledger      []*Transaction
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		wallets:     make(map[uuid.UUID]*Wallet),
		shared:      make(map[uuid.UUID]*SharedWallet),
		memberships: make(map[uuid.UUID]*Membership),
	}
}

func (m *mockRepo) CreateWallet(_ context.Context, w *Wallet) error {
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	m.wallets[w.ID] = w
	return nil
}

func (m *mockRepo) GetWallet(_ context.Context, id uuid.UUID) (*Wallet, error) {
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

func (m *mockRepo) GetWalletByPatient(_ context.Context, patientID uuid.UUID) (*Wallet, error) {
	for _, w := range m.wallets {
		if w.PatientID == patientID {
			return w, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (m *mockRepo) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return m.GetWallet(ctx, id)
}

func (m *mockRepo) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	w, ok := m.wallets[id]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = balance
	return nil
}

func (m *mockRepo) SetSharedWallet(_ context.Context, walletID uuid.UUID, sharedID *uuid.UUID) error {
	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.SharedWalletID = sharedID
	return nil
}

func (m *mockRepo) CreateSharedWallet(_ context.Context, sw *SharedWallet) error {
	sw.ID = uuid.New()
	sw.CreatedAt = time.Now()
	m.shared[sw.ID] = sw
	return nil
}

func (m *mockRepo) GetSharedWallet(_ context.Context, id uuid.UUID) (*SharedWallet, error) {
	sw, ok := m.shared[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return sw, nil
}

func (m *mockRepo) GetSharedWalletForUpdate(ctx context.Context, id uuid.UUID) (*SharedWallet, error) {
	return m.GetSharedWallet(ctx, id)
}

func (m *mockRepo) UpdateSharedWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	sw, ok := m.shared[id]
	if !ok {
		return ErrWalletNotFound
	}
	sw.Balance = balance
	return nil
}

func (m *mockRepo) AddMembership(_ context.Context, mb *Membership) error {
	mb.ID = uuid.New()
	mb.JoinedAt = time.Now()
	m.memberships[mb.ID] = mb
	return nil
}

func (m *mockRepo) RemoveMembership(_ context.Context, sharedID, patientID uuid.UUID) error {
	for id, mb := range m.memberships {
		if mb.SharedWalletID == sharedID && mb.PatientID == patientID {
			delete(m.memberships, id)
			return nil
		}
	}
	return ErrWalletNotFound
}

func (m *mockRepo) ListMemberships(_ context.Context, sharedID uuid.UUID) ([]*Membership, error) {
	var out []*Membership
	for _, mb := range m.memberships {
		if mb.SharedWalletID == sharedID {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (m *mockRepo) AppendTransaction(_ context.Context, t *Transaction) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.ledger = append(m.ledger, t)
	return nil
}

func (m *mockRepo) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	for _, t := range m.ledger {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *mockRepo) ReferenceExists(_ context.Context, reference string) (bool, error) {
	for _, t := range m.ledger {
		if t.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) History(_ context.Context, account Account, filters HistoryFilters, limit, offset int) ([]*Transaction, int, error) {
	var out []*Transaction
	for _, t := range m.ledger {
		if account.WalletID != nil && (t.WalletID == nil || *t.WalletID != *account.WalletID) {
			continue
		}
		if account.SharedWalletID != nil && (t.SharedWalletID == nil || *t.SharedWalletID != *account.SharedWalletID) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockRepo) Totals(ctx context.Context, account Account) (*Totals, error) {
	txs, _, err := m.History(ctx, account, HistoryFilters{}, 0, 0)
	if err != nil {
		return nil, err
	}
	totals := &Totals{Credits: decimal.Zero, Debits: decimal.Zero, Balance: decimal.Zero}
	for _, t := range txs {
		if t.Status != TxStatusCompleted {
			continue
		}
		signed := t.Signed()
		if t.Type == TxAdjustment || t.Type == TxReversal {
			signed = t.Amount
		}
		if signed.IsPositive() {
			totals.Credits = totals.Credits.Add(signed)
		} else {
			totals.Debits = totals.Debits.Add(signed.Abs())
		}
	}
	totals.Balance = totals.Credits.Sub(totals.Debits)
	return totals, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, noopTxRunner{}), repo
}

func mustWallet(t *testing.T, svc *Service, balance string) *Wallet {
	t.Helper()
	w, err := svc.EnsureWallet(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	if balance != "0" {
		if _, err := svc.Credit(context.Background(), Op{
			Account: IndividualAccount(w.ID),
			Amount:  decimal.RequireFromString(balance),
			Actor:   "setup",
		}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return w
}

// -- Tests --

func TestEnsureWallet_LazyCreation(t *testing.T) {
	svc, _ := newTestService()
	patientID := uuid.New()

	w, err := svc.EnsureWallet(context.Background(), patientID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", w.Balance)
	}
	if !w.IsActive {
		t.Error("expected active wallet")
	}

	again, err := svc.EnsureWallet(context.Background(), patientID)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.ID != w.ID {
		t.Error("expected same wallet on repeat ensure")
	}
}

func TestCredit(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "0")

	tx, err := svc.Credit(context.Background(), Op{
		Account:     IndividualAccount(w.ID),
		Amount:      decimal.RequireFromString("250.00"),
		Type:        TxDeposit,
		Description: "cash deposit",
		Actor:       "cashier-1",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !tx.BalanceAfter.Equal(decimal.RequireFromString("250.00")) {
		t.Errorf("expected balance_after 250.00, got %s", tx.BalanceAfter)
	}
	if !strings.HasPrefix(tx.Reference, "TXN") {
		t.Errorf("expected TXN reference, got %q", tx.Reference)
	}
	if tx.Status != TxStatusCompleted {
		t.Errorf("expected completed, got %q", tx.Status)
	}
}

func TestCredit_InvalidAmount(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "0")

	for _, amount := range []string{"0", "-5"} {
		if _, err := svc.Credit(context.Background(), Op{
			Account: IndividualAccount(w.ID),
			Amount:  decimal.RequireFromString(amount),
			Actor:   "u",
		}); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCredit_RejectsDebitType(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "0")

	if _, err := svc.Credit(context.Background(), Op{
		Account: IndividualAccount(w.ID),
		Amount:  decimal.RequireFromString("10"),
		Type:    TxWithdrawal,
		Actor:   "u",
	}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestDebit_NegativeBalanceAllowed(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "20.00")

	tx, err := svc.Debit(context.Background(), Op{
		Account:     IndividualAccount(w.ID),
		Amount:      decimal.RequireFromString("100.00"),
		Type:        TxWithdrawal,
		Description: "withdraw",
		Actor:       "u",
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !tx.BalanceAfter.Equal(decimal.RequireFromString("-80.00")) {
		t.Errorf("expected balance -80.00, got %s", tx.BalanceAfter)
	}
}

func TestTransfer_Conservation(t *testing.T) {
	svc, repo := newTestService()
	a := mustWallet(t, svc, "500.00")
	b := mustWallet(t, svc, "0")

	result, err := svc.Transfer(context.Background(), a.ID, b.ID,
		decimal.RequireFromString("150.00"), "test", "user-u")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if !repo.wallets[a.ID].Balance.Equal(decimal.RequireFromString("350.00")) {
		t.Errorf("expected A=350.00, got %s", repo.wallets[a.ID].Balance)
	}
	if !repo.wallets[b.ID].Balance.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("expected B=150.00, got %s", repo.wallets[b.ID].Balance)
	}
	if result.Out.Type != TxTransferOut || result.In.Type != TxTransferIn {
		t.Errorf("expected transfer_out/transfer_in, got %s/%s", result.Out.Type, result.In.Type)
	}
	if result.Out.CorrelationID == nil || result.In.CorrelationID == nil ||
		*result.Out.CorrelationID != *result.In.CorrelationID {
		t.Error("expected shared correlation id")
	}
	if result.Out.Reference == result.In.Reference {
		t.Error("expected distinct reference numbers")
	}

	// Conservation: total across both wallets unchanged.
	sum := repo.wallets[a.ID].Balance.Add(repo.wallets[b.ID].Balance)
	if !sum.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("expected conserved total 500.00, got %s", sum)
	}
}

func TestTransfer_SameWallet(t *testing.T) {
	svc, repo := newTestService()
	a := mustWallet(t, svc, "100.00")
	before := len(repo.ledger)

	if _, err := svc.Transfer(context.Background(), a.ID, a.ID,
		decimal.RequireFromString("10"), "", "u"); !errors.Is(err, ErrSameWallet) {
		t.Errorf("expected ErrSameWallet, got %v", err)
	}
	if len(repo.ledger) != before {
		t.Error("expected no transactions written")
	}
	if !repo.wallets[a.ID].Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Error("expected balance unchanged")
	}
}

func TestTransfer_InactiveRecipient(t *testing.T) {
	svc, repo := newTestService()
	a := mustWallet(t, svc, "100.00")
	b := mustWallet(t, svc, "0")
	repo.wallets[b.ID].IsActive = false

	if _, err := svc.Transfer(context.Background(), a.ID, b.ID,
		decimal.RequireFromString("10"), "", "u"); !errors.Is(err, ErrInactiveRecipient) {
		t.Errorf("expected ErrInactiveRecipient, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "0")

	tx, err := svc.Refund(context.Background(), IndividualAccount(w.ID),
		decimal.RequireFromString("30.00"), "cancelled order", "u")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if tx.Type != TxRefund {
		t.Errorf("expected refund type, got %q", tx.Type)
	}
	if !tx.BalanceAfter.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("expected balance 30.00, got %s", tx.BalanceAfter)
	}
}

func TestAdjust(t *testing.T) {
	svc, repo := newTestService()
	w := mustWallet(t, svc, "100.00")

	if _, err := svc.Adjust(context.Background(), IndividualAccount(w.ID),
		decimal.RequireFromString("25.00"), "debit", "", "u"); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("expected ErrReasonRequired, got %v", err)
	}

	tx, err := svc.Adjust(context.Background(), IndividualAccount(w.ID),
		decimal.RequireFromString("25.00"), "debit", "billing correction", "u")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if tx.Type != TxAdjustment {
		t.Errorf("expected adjustment, got %q", tx.Type)
	}
	if !repo.wallets[w.ID].Balance.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("expected balance 75.00, got %s", repo.wallets[w.ID].Balance)
	}

	if _, err := svc.Adjust(context.Background(), IndividualAccount(w.ID),
		decimal.RequireFromString("5.00"), "sideways", "r", "u"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType for bad direction, got %v", err)
	}
}

func TestReverse(t *testing.T) {
	svc, repo := newTestService()
	w := mustWallet(t, svc, "0")

	original, err := svc.Credit(context.Background(), Op{
		Account: IndividualAccount(w.ID),
		Amount:  decimal.RequireFromString("40.00"),
		Actor:   "u",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}

	rev, err := svc.Reverse(context.Background(), original.ID, "supervisor")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.Type != TxReversal {
		t.Errorf("expected reversal type, got %q", rev.Type)
	}
	if rev.ReversalOfID == nil || *rev.ReversalOfID != original.ID {
		t.Error("expected reversal linked to original")
	}
	if !repo.wallets[w.ID].Balance.IsZero() {
		t.Errorf("expected balance back to zero, got %s", repo.wallets[w.ID].Balance)
	}

	// Original entry is retained untouched.
	kept, err := repo.GetTransaction(context.Background(), original.ID)
	if err != nil || kept.Type != TxCredit {
		t.Error("expected original transaction retained")
	}
}

func TestUseSharedRouting(t *testing.T) {
	svc, repo := newTestService()
	patientID := uuid.New()

	sw, err := svc.CreateSharedWallet(context.Background(), "Bello family", SharedFamily, nil)
	if err != nil {
		t.Fatalf("create shared: %v", err)
	}
	if _, err := svc.AddMember(context.Background(), sw.ID, patientID, true); err != nil {
		t.Fatalf("add member: %v", err)
	}

	w, err := svc.GetByPatient(context.Background(), patientID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}

	tx, err := svc.Credit(context.Background(), Op{
		Account:   IndividualAccount(w.ID),
		Amount:    decimal.RequireFromString("60.00"),
		Actor:     "u",
		UseShared: true,
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if tx.SharedWalletID == nil || *tx.SharedWalletID != sw.ID {
		t.Error("expected entry routed to shared wallet")
	}
	if !repo.shared[sw.ID].Balance.Equal(decimal.RequireFromString("60.00")) {
		t.Errorf("expected shared balance 60.00, got %s", repo.shared[sw.ID].Balance)
	}
	if !repo.wallets[w.ID].Balance.IsZero() {
		t.Errorf("expected individual balance untouched, got %s", repo.wallets[w.ID].Balance)
	}

	// Without the flag, the individual wallet takes the entry.
	if _, err := svc.Credit(context.Background(), Op{
		Account: IndividualAccount(w.ID),
		Amount:  decimal.RequireFromString("5.00"),
		Actor:   "u",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !repo.wallets[w.ID].Balance.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("expected individual balance 5.00, got %s", repo.wallets[w.ID].Balance)
	}
}

func TestRemoveMember_UnlinksWallet(t *testing.T) {
	svc, repo := newTestService()
	patientID := uuid.New()

	sw, _ := svc.CreateSharedWallet(context.Background(), "Acme staff", SharedCorporate, nil)
	if _, err := svc.AddMember(context.Background(), sw.ID, patientID, false); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := svc.RemoveMember(context.Background(), sw.ID, patientID); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	w, _ := svc.GetByPatient(context.Background(), patientID)
	if w.SharedWalletID != nil {
		t.Error("expected wallet unlinked from shared wallet")
	}
	members, _ := repo.ListMemberships(context.Background(), sw.ID)
	if len(members) != 0 {
		t.Errorf("expected no memberships, got %d", len(members))
	}
}

func TestLedgerIntegrity(t *testing.T) {
	svc, repo := newTestService()
	w := mustWallet(t, svc, "0")
	account := IndividualAccount(w.ID)

	ops := []func() error{
		func() error {
			_, err := svc.Credit(context.Background(), Op{Account: account, Amount: decimal.RequireFromString("200"), Actor: "u"})
			return err
		},
		func() error {
			_, err := svc.Debit(context.Background(), Op{Account: account, Amount: decimal.RequireFromString("75.50"), Type: TxPharmacyPayment, Actor: "u"})
			return err
		},
		func() error {
			_, err := svc.Adjust(context.Background(), account, decimal.RequireFromString("10"), "credit", "correction", "u")
			return err
		},
		func() error {
			_, err := svc.Debit(context.Background(), Op{Account: account, Amount: decimal.RequireFromString("300"), Type: TxAdmissionFee, Actor: "u"})
			return err
		},
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	// balance = sum of signed completed entries
	sum := decimal.Zero
	for _, tx := range repo.ledger {
		if tx.WalletID == nil || *tx.WalletID != w.ID || tx.Status != TxStatusCompleted {
			continue
		}
		signed := tx.Signed()
		if tx.Type == TxAdjustment || tx.Type == TxReversal {
			signed = tx.Amount
		}
		sum = sum.Add(signed)
	}
	if !repo.wallets[w.ID].Balance.Equal(sum) {
		t.Errorf("ledger out of balance: wallet=%s sum=%s", repo.wallets[w.ID].Balance, sum)
	}
	if !repo.wallets[w.ID].Balance.Equal(decimal.RequireFromString("-165.50")) {
		t.Errorf("expected -165.50, got %s", repo.wallets[w.ID].Balance)
	}
}

func TestTotals(t *testing.T) {
	svc, _ := newTestService()
	w := mustWallet(t, svc, "0")
	account := IndividualAccount(w.ID)

	if _, err := svc.Credit(context.Background(), Op{Account: account, Amount: decimal.RequireFromString("100"), Actor: "u"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Debit(context.Background(), Op{Account: account, Amount: decimal.RequireFromString("40"), Actor: "u"}); err != nil {
		t.Fatal(err)
	}

	totals, err := svc.Totals(context.Background(), account)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if !totals.Credits.Equal(decimal.RequireFromString("100")) {
		t.Errorf("expected credits 100, got %s", totals.Credits)
	}
	if !totals.Debits.Equal(decimal.RequireFromString("40")) {
		t.Errorf("expected debits 40, got %s", totals.Debits)
	}
	if !totals.Balance.Equal(decimal.RequireFromString("60")) {
		t.Errorf("expected balance 60, got %s", totals.Balance)
	}
}
