package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types. The sign of a ledger entry is derived from its type:
// credit kinds add to the balance, debit kinds subtract.
const (
	TxCredit               = "credit"
	TxDebit                = "debit"
	TxDeposit              = "deposit"
	TxWithdrawal           = "withdrawal"
	TxPayment              = "payment"
	TxRefund               = "refund"
	TxTransferIn           = "transfer_in"
	TxTransferOut          = "transfer_out"
	TxAdjustment           = "adjustment"
	TxAdmissionFee         = "admission_fee"
	TxDailyAdmissionCharge = "daily_admission_charge"
	TxLabTestPayment       = "lab_test_payment"
	TxPharmacyPayment      = "pharmacy_payment"
	TxConsultationFee      = "consultation_fee"
	TxProcedureFee         = "procedure_fee"
	TxInsuranceClaim       = "insurance_claim"
	TxDiscountApplied      = "discount_applied"
	TxPenaltyFee           = "penalty_fee"
	TxReversal             = "reversal"
	TxBonus                = "bonus"
	TxCashback             = "cashback"
)

// CreditTypes and DebitTypes partition the transaction types.
var CreditTypes = map[string]bool{
	TxCredit: true, TxDeposit: true, TxRefund: true, TxTransferIn: true,
	TxInsuranceClaim: true, TxDiscountApplied: true, TxBonus: true, TxCashback: true,
}

var DebitTypes = map[string]bool{
	TxDebit: true, TxWithdrawal: true, TxPayment: true, TxTransferOut: true,
	TxAdmissionFee: true, TxDailyAdmissionCharge: true, TxLabTestPayment: true,
	TxPharmacyPayment: true, TxConsultationFee: true, TxProcedureFee: true,
	TxPenaltyFee: true,
}

// SignedAmount returns the ledger contribution of a transaction of the
// given type. Adjustments and reversals carry their own direction and are
// handled by the service before storage.
func SignedAmount(txType string, amount decimal.Decimal) decimal.Decimal {
	if DebitTypes[txType] {
		return amount.Neg()
	}
	return amount
}

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// Shared wallet types.
const (
	SharedRetainership = "retainership"
	SharedFamily       = "family"
	SharedCorporate    = "corporate"
	SharedOther        = "other"
)

var ValidSharedTypes = map[string]bool{
	SharedRetainership: true, SharedFamily: true,
	SharedCorporate: true, SharedOther: true,
}

// Wallet is a per-patient monetary account. Balance may go negative; that
// is policy, not a bug. SharedWalletID links the patient to a group
// wallet for routed transactions.
type Wallet struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	SharedWalletID *uuid.UUID      `db:"shared_wallet_id" json:"shared_wallet_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// SharedWallet is a group account (family, retainership, corporate).
type SharedWallet struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Type      string          `db:"type" json:"type"`
	RegNumber *string         `db:"reg_number" json:"reg_number,omitempty"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Membership enrolls a patient in a shared wallet. IsPrimary marks the
// account holder for statements; it does not affect routing.
type Membership struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SharedWalletID uuid.UUID `db:"shared_wallet_id" json:"shared_wallet_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	IsPrimary      bool      `db:"is_primary" json:"is_primary"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// Transaction is one append-only ledger entry. Exactly one of WalletID or
// SharedWalletID is set. Amount is stored positive; the sign is derived
// from Type. BalanceAfter snapshots the account balance at commit time.
type Transaction struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	WalletID       *uuid.UUID      `db:"wallet_id" json:"wallet_id,omitempty"`
	SharedWalletID *uuid.UUID      `db:"shared_wallet_id" json:"shared_wallet_id,omitempty"`
	Type           string          `db:"type" json:"type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter   decimal.Decimal `db:"balance_after" json:"balance_after"`
	Description    string          `db:"description" json:"description"`
	Reference      string          `db:"reference" json:"reference"`
	CorrelationID  *uuid.UUID      `db:"correlation_id" json:"correlation_id,omitempty"`
	ReversalOfID   *uuid.UUID      `db:"reversal_of_id" json:"reversal_of_id,omitempty"`
	Status         string          `db:"status" json:"status"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Signed returns the transaction's signed ledger contribution.
func (t *Transaction) Signed() decimal.Decimal {
	return SignedAmount(t.Type, t.Amount)
}
