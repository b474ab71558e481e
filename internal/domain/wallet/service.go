package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/platform/db"
)

var (
	ErrInvalidAmount       = errors.New("wallet: amount must be positive")
	ErrSameWallet          = errors.New("wallet: source and destination are the same")
	ErrInactiveRecipient   = errors.New("wallet: destination wallet is inactive")
	ErrWalletNotFound      = errors.New("wallet: wallet not found")
	ErrTransactionNotFound = errors.New("wallet: transaction not found")
	ErrInvalidType         = errors.New("wallet: invalid transaction type")
	ErrReasonRequired      = errors.New("wallet: a reason is required")
)

// Service owns transaction boundaries for the ledger. Every mutation runs
// in one database transaction; wallet rows are locked for the duration so
// concurrent operations serialize.
type Service struct {
	repo Repository
	tx   db.TxRunner
}

func NewService(repo Repository, tx db.TxRunner) *Service {
	return &Service{repo: repo, tx: tx}
}

// generateReference produces TXN<unix-nanos><8 hex chars>; unique per
// ledger constraint, retried by callers via ReferenceExists.
func generateReference() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("wallet: generate reference: %w", err)
	}
	return fmt.Sprintf("TXN%d%s", time.Now().UnixNano(), strings.ToUpper(hex.EncodeToString(b))), nil
}

func (s *Service) newReference(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		ref, err := generateReference()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.ReferenceExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("wallet: could not generate a unique reference")
}

// EnsureWallet returns the patient's wallet, creating it lazily at zero.
func (s *Service) EnsureWallet(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	w, err := s.repo.GetWalletByPatient(ctx, patientID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	w = &Wallet{
		PatientID: patientID,
		Balance:   decimal.Zero,
		IsActive:  true,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, id)
}

func (s *Service) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWalletByPatient(ctx, patientID)
}

// Op describes one ledger mutation.
type Op struct {
	Account     Account
	Amount      decimal.Decimal
	Type        string
	Description string
	Actor       string
	UseShared   bool // route through the linked shared wallet, if any
}

// resolveAccount applies use-shared routing: when the op targets an
// individual wallet linked to a shared wallet and UseShared is set, the
// shared wallet takes the entry instead.
func (s *Service) resolveAccount(ctx context.Context, op Op) (Account, error) {
	if !op.UseShared || op.Account.WalletID == nil {
		return op.Account, nil
	}
	w, err := s.repo.GetWallet(ctx, *op.Account.WalletID)
	if err != nil {
		return Account{}, err
	}
	if w.SharedWalletID == nil {
		return op.Account, nil
	}
	return SharedAccount(*w.SharedWalletID), nil
}

// lockedBalance locks the account row and returns its current balance.
func (s *Service) lockedBalance(ctx context.Context, account Account) (decimal.Decimal, bool, error) {
	if account.WalletID != nil {
		w, err := s.repo.GetWalletForUpdate(ctx, *account.WalletID)
		if err != nil {
			return decimal.Zero, false, err
		}
		return w.Balance, w.IsActive, nil
	}
	sw, err := s.repo.GetSharedWalletForUpdate(ctx, *account.SharedWalletID)
	if err != nil {
		return decimal.Zero, false, err
	}
	return sw.Balance, sw.IsActive, nil
}

func (s *Service) storeBalance(ctx context.Context, account Account, balance decimal.Decimal) error {
	if account.WalletID != nil {
		return s.repo.UpdateWalletBalance(ctx, *account.WalletID, balance)
	}
	return s.repo.UpdateSharedWalletBalance(ctx, *account.SharedWalletID, balance)
}

// apply appends one completed ledger entry inside the current
// transaction, adjusting the balance by the signed amount. signedAmount
// carries the direction; the stored Amount keeps its sign for adjustment
// and reversal types and is positive otherwise.
func (s *Service) apply(ctx context.Context, account Account, storedAmount, signedAmount decimal.Decimal, txType, description, actor string, correlationID, reversalOf *uuid.UUID) (*Transaction, error) {
	balance, _, err := s.lockedBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	newBalance := balance.Add(signedAmount)
	if err := s.storeBalance(ctx, account, newBalance); err != nil {
		return nil, err
	}

	ref, err := s.newReference(ctx)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		WalletID:       account.WalletID,
		SharedWalletID: account.SharedWalletID,
		Type:           txType,
		Amount:         storedAmount,
		BalanceAfter:   newBalance,
		Description:    description,
		Reference:      ref,
		CorrelationID:  correlationID,
		ReversalOfID:   reversalOf,
		Status:         TxStatusCompleted,
		CreatedBy:      actor,
	}
	if err := s.repo.AppendTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Credit adds funds. Type defaults to credit; any credit-kind type is
// accepted.
func (s *Service) Credit(ctx context.Context, op Op) (*Transaction, error) {
	if !op.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if op.Type == "" {
		op.Type = TxCredit
	}
	if !CreditTypes[op.Type] {
		return nil, fmt.Errorf("%w: %s is not a credit type", ErrInvalidType, op.Type)
	}

	var result *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		account, err := s.resolveAccount(ctx, op)
		if err != nil {
			return err
		}
		result, err = s.apply(ctx, account, op.Amount, op.Amount, op.Type, op.Description, op.Actor, nil, nil)
		return err
	})
	return result, err
}

// Debit removes funds. The balance is allowed to go negative: overdraft
// is hospital policy, collection happens elsewhere.
func (s *Service) Debit(ctx context.Context, op Op) (*Transaction, error) {
	if !op.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if op.Type == "" {
		op.Type = TxDebit
	}
	if !DebitTypes[op.Type] {
		return nil, fmt.Errorf("%w: %s is not a debit type", ErrInvalidType, op.Type)
	}

	var result *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		account, err := s.resolveAccount(ctx, op)
		if err != nil {
			return err
		}
		result, err = s.apply(ctx, account, op.Amount, op.Amount.Neg(), op.Type, op.Description, op.Actor, nil, nil)
		return err
	})
	return result, err
}

// TransferResult pairs the two ledger entries of a transfer.
type TransferResult struct {
	Out *Transaction `json:"out"`
	In  *Transaction `json:"in"`
}

// Transfer atomically moves funds between two individual wallets. Both
// rows are locked in ascending id order so concurrent opposite transfers
// cannot deadlock; both entries share a correlation id.
func (s *Service) Transfer(ctx context.Context, srcID, dstID uuid.UUID, amount decimal.Decimal, description, actor string) (*TransferResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if srcID == dstID {
		return nil, ErrSameWallet
	}

	var result TransferResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Lock in canonical order, then verify the destination.
		first, second := srcID, dstID
		if strings.Compare(dstID.String(), srcID.String()) < 0 {
			first, second = dstID, srcID
		}
		if _, err := s.repo.GetWalletForUpdate(ctx, first); err != nil {
			return err
		}
		dst, err := s.repo.GetWalletForUpdate(ctx, second)
		if err != nil {
			return err
		}
		if second != dstID {
			// second lock was the source; re-read destination state
			dst, err = s.repo.GetWallet(ctx, dstID)
			if err != nil {
				return err
			}
		}
		if !dst.IsActive {
			return ErrInactiveRecipient
		}

		correlation := uuid.New()
		out, err := s.apply(ctx, IndividualAccount(srcID), amount, amount.Neg(),
			TxTransferOut, description, actor, &correlation, nil)
		if err != nil {
			return err
		}
		in, err := s.apply(ctx, IndividualAccount(dstID), amount, amount,
			TxTransferIn, description, actor, &correlation, nil)
		if err != nil {
			return err
		}
		result.Out, result.In = out, in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Refund credits back with type refund.
func (s *Service) Refund(ctx context.Context, account Account, amount decimal.Decimal, reason, actor string) (*Transaction, error) {
	return s.Credit(ctx, Op{
		Account: account, Amount: amount, Type: TxRefund,
		Description: reason, Actor: actor,
	})
}

// Adjust applies a signed correction with a mandatory reason. Direction
// is "credit" or "debit"; the entry is stored with a signed amount so
// ledger sums stay exact.
func (s *Service) Adjust(ctx context.Context, account Account, amount decimal.Decimal, direction, reason, actor string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	signed := amount
	switch direction {
	case "credit":
	case "debit":
		signed = amount.Neg()
	default:
		return nil, fmt.Errorf("%w: adjustment direction must be credit or debit", ErrInvalidType)
	}

	var result *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.apply(ctx, account, signed, signed, TxAdjustment, reason, actor, nil, nil)
		return err
	})
	return result, err
}

// Reverse appends an opposite-signed entry linked to the original. The
// original record is retained untouched.
func (s *Service) Reverse(ctx context.Context, originalID uuid.UUID, actor string) (*Transaction, error) {
	var result *Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		original, err := s.repo.GetTransaction(ctx, originalID)
		if err != nil {
			return err
		}
		account := Account{WalletID: original.WalletID, SharedWalletID: original.SharedWalletID}
		signed := original.Signed().Neg()
		if original.Type == TxAdjustment || original.Type == TxReversal {
			signed = original.Amount.Neg()
		}
		result, err = s.apply(ctx, account, signed, signed, TxReversal,
			"Reversal of "+original.Reference, actor, original.CorrelationID, &original.ID)
		return err
	})
	return result, err
}

func (s *Service) History(ctx context.Context, account Account, filters HistoryFilters, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.History(ctx, account, filters, limit, offset)
}

func (s *Service) Totals(ctx context.Context, account Account) (*Totals, error) {
	return s.repo.Totals(ctx, account)
}

// -- Shared wallets --

func (s *Service) CreateSharedWallet(ctx context.Context, name, walletType string, regNumber *string) (*SharedWallet, error) {
	if name == "" {
		return nil, fmt.Errorf("wallet: shared wallet name is required")
	}
	if !ValidSharedTypes[walletType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, walletType)
	}
	sw := &SharedWallet{
		Name:      name,
		Type:      walletType,
		RegNumber: regNumber,
		Balance:   decimal.Zero,
		IsActive:  true,
	}
	if err := s.repo.CreateSharedWallet(ctx, sw); err != nil {
		return nil, err
	}
	return sw, nil
}

func (s *Service) GetSharedWallet(ctx context.Context, id uuid.UUID) (*SharedWallet, error) {
	return s.repo.GetSharedWallet(ctx, id)
}

// AddMember enrolls a patient, linking their individual wallet to the
// shared one so use-shared routing can find it.
func (s *Service) AddMember(ctx context.Context, sharedID, patientID uuid.UUID, isPrimary bool) (*Membership, error) {
	var m *Membership
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetSharedWallet(ctx, sharedID); err != nil {
			return err
		}
		w, err := s.EnsureWallet(ctx, patientID)
		if err != nil {
			return err
		}
		if err := s.repo.SetSharedWallet(ctx, w.ID, &sharedID); err != nil {
			return err
		}
		m = &Membership{
			SharedWalletID: sharedID,
			PatientID:      patientID,
			IsPrimary:      isPrimary,
		}
		return s.repo.AddMembership(ctx, m)
	})
	return m, err
}

func (s *Service) RemoveMember(ctx context.Context, sharedID, patientID uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RemoveMembership(ctx, sharedID, patientID); err != nil {
			return err
		}
		w, err := s.repo.GetWalletByPatient(ctx, patientID)
		if err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return nil
			}
			return err
		}
		return s.repo.SetSharedWallet(ctx, w.ID, nil)
	})
}

func (s *Service) ListMembers(ctx context.Context, sharedID uuid.UUID) ([]*Membership, error) {
	return s.repo.ListMemberships(ctx, sharedID)
}
