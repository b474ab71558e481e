package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists wallets, shared wallets, memberships, and the
// transaction ledger. Mutating calls are expected to run inside a
// transaction placed on the context by the service; GetForUpdate variants
// take a row lock.
type Repository interface {
	// Wallets
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error)
	GetWalletByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error)
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	SetSharedWallet(ctx context.Context, walletID uuid.UUID, sharedID *uuid.UUID) error

	// Shared wallets
	CreateSharedWallet(ctx context.Context, sw *SharedWallet) error
	GetSharedWallet(ctx context.Context, id uuid.UUID) (*SharedWallet, error)
	GetSharedWalletForUpdate(ctx context.Context, id uuid.UUID) (*SharedWallet, error)
	UpdateSharedWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	AddMembership(ctx context.Context, m *Membership) error
	RemoveMembership(ctx context.Context, sharedID, patientID uuid.UUID) error
	ListMemberships(ctx context.Context, sharedID uuid.UUID) ([]*Membership, error)

	// Ledger
	AppendTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	History(ctx context.Context, account Account, filters HistoryFilters, limit, offset int) ([]*Transaction, int, error)
	Totals(ctx context.Context, account Account) (*Totals, error)
}

// Account addresses either an individual or a shared wallet.
type Account struct {
	WalletID       *uuid.UUID
	SharedWalletID *uuid.UUID
}

func IndividualAccount(id uuid.UUID) Account { return Account{WalletID: &id} }
func SharedAccount(id uuid.UUID) Account     { return Account{SharedWalletID: &id} }

// HistoryFilters narrows ledger queries.
type HistoryFilters struct {
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Types     []string
	Status    string
	Search    string // matches description or reference
}

// MonthTotal is one month of ledger activity.
type MonthTotal struct {
	Month   string          `json:"month"` // YYYY-MM
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
}

// Totals summarizes an account's completed ledger.
type Totals struct {
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Balance decimal.Decimal `json:"balance"`
	Monthly []MonthTotal    `json:"monthly"`
}
