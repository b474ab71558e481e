package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazifia/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// -- Wallets --

const walletCols = `id, patient_id, balance, is_active, shared_wallet_id, created_at, updated_at`

func (r *repoPG) scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.PatientID, &w.Balance, &w.IsActive,
		&w.SharedWalletID, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	return &w, err
}

func (r *repoPG) CreateWallet(ctx context.Context, w *Wallet) error {
	w.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO wallets (id, patient_id, balance, is_active, shared_wallet_id)
		VALUES ($1,$2,$3,$4,$5)`,
		w.ID, w.PatientID, w.Balance, w.IsActive, w.SharedWalletID)
	return err
}

func (r *repoPG) GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return r.scanWallet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE id = $1`, id))
}

func (r *repoPG) GetWalletByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return r.scanWallet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE patient_id = $1`, patientID))
}

func (r *repoPG) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return r.scanWallet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
	return err
}

func (r *repoPG) SetSharedWallet(ctx context.Context, walletID uuid.UUID, sharedID *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE wallets SET shared_wallet_id = $2, updated_at = NOW() WHERE id = $1`,
		walletID, sharedID)
	return err
}

// -- Shared wallets --

const sharedCols = `id, name, type, reg_number, balance, is_active, created_at, updated_at`

func (r *repoPG) scanShared(row pgx.Row) (*SharedWallet, error) {
	var sw SharedWallet
	err := row.Scan(&sw.ID, &sw.Name, &sw.Type, &sw.RegNumber, &sw.Balance,
		&sw.IsActive, &sw.CreatedAt, &sw.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	return &sw, err
}

func (r *repoPG) CreateSharedWallet(ctx context.Context, sw *SharedWallet) error {
	sw.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared_wallets (id, name, type, reg_number, balance, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sw.ID, sw.Name, sw.Type, sw.RegNumber, sw.Balance, sw.IsActive)
	return err
}

func (r *repoPG) GetSharedWallet(ctx context.Context, id uuid.UUID) (*SharedWallet, error) {
	return r.scanShared(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sharedCols+` FROM shared_wallets WHERE id = $1`, id))
}

func (r *repoPG) GetSharedWalletForUpdate(ctx context.Context, id uuid.UUID) (*SharedWallet, error) {
	return r.scanShared(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sharedCols+` FROM shared_wallets WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) UpdateSharedWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared_wallets SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
	return err
}

func (r *repoPG) AddMembership(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO wallet_memberships (id, shared_wallet_id, patient_id, is_primary)
		VALUES ($1,$2,$3,$4)`,
		m.ID, m.SharedWalletID, m.PatientID, m.IsPrimary)
	return err
}

func (r *repoPG) RemoveMembership(ctx context.Context, sharedID, patientID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM wallet_memberships WHERE shared_wallet_id = $1 AND patient_id = $2`,
		sharedID, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (r *repoPG) ListMemberships(ctx context.Context, sharedID uuid.UUID) ([]*Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, shared_wallet_id, patient_id, is_primary, joined_at
		FROM wallet_memberships WHERE shared_wallet_id = $1 ORDER BY joined_at`, sharedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.SharedWalletID, &m.PatientID, &m.IsPrimary, &m.JoinedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

// -- Ledger --

const txCols = `id, wallet_id, shared_wallet_id, type, amount, balance_after,
	description, reference, correlation_id, reversal_of_id, status, created_by, created_at`

func (r *repoPG) scanTx(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.WalletID, &t.SharedWalletID, &t.Type, &t.Amount,
		&t.BalanceAfter, &t.Description, &t.Reference, &t.CorrelationID,
		&t.ReversalOfID, &t.Status, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return &t, err
}

func (r *repoPG) AppendTransaction(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, shared_wallet_id, type,
			amount, balance_after, description, reference, correlation_id,
			reversal_of_id, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.WalletID, t.SharedWalletID, t.Type,
		t.Amount, t.BalanceAfter, t.Description, t.Reference, t.CorrelationID,
		t.ReversalOfID, t.Status, t.CreatedBy)
	return err
}

func (r *repoPG) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.scanTx(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+` FROM wallet_transactions WHERE id = $1`, id))
}

func (r *repoPG) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

func accountClause(account Account, args *[]interface{}, i *int) string {
	if account.WalletID != nil {
		clause := fmt.Sprintf("wallet_id = $%d", *i)
		*args = append(*args, *account.WalletID)
		*i++
		return clause
	}
	clause := fmt.Sprintf("shared_wallet_id = $%d", *i)
	*args = append(*args, *account.SharedWalletID)
	*i++
	return clause
}

func (r *repoPG) History(ctx context.Context, account Account, filters HistoryFilters, limit, offset int) ([]*Transaction, int, error) {
	args := []interface{}{}
	i := 1
	where := []string{accountClause(account, &args, &i)}

	if filters.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", i))
		args = append(args, *filters.From)
		i++
	}
	if filters.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", i))
		args = append(args, *filters.To)
		i++
	}
	if filters.MinAmount != nil {
		where = append(where, fmt.Sprintf("amount >= $%d", i))
		args = append(args, *filters.MinAmount)
		i++
	}
	if filters.MaxAmount != nil {
		where = append(where, fmt.Sprintf("amount <= $%d", i))
		args = append(args, *filters.MaxAmount)
		i++
	}
	if len(filters.Types) > 0 {
		where = append(where, fmt.Sprintf("type = ANY($%d)", i))
		args = append(args, filters.Types)
		i++
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", i))
		args = append(args, filters.Status)
		i++
	}
	if filters.Search != "" {
		where = append(where, fmt.Sprintf("(description ILIKE $%d OR reference ILIKE $%d)", i, i))
		args = append(args, "%"+filters.Search+"%")
		i++
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM wallet_transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		txCols, clause, i, i+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Transaction
	for rows.Next() {
		t, err := r.scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// Totals aggregates completed transactions. Adjustments and reversals are
// stored with signed amounts, so a negative amount counts toward debits.
func (r *repoPG) Totals(ctx context.Context, account Account) (*Totals, error) {
	args := []interface{}{}
	i := 1
	clause := accountClause(account, &args, &i)

	totals := &Totals{
		Credits: decimal.Zero,
		Debits:  decimal.Zero,
		Balance: decimal.Zero,
	}

	creditTypes := typeSet(CreditTypes)
	debitTypes := typeSet(DebitTypes)
	args = append(args, creditTypes, debitTypes)

	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN type = ANY($%d) OR ((type = 'adjustment' OR type = 'reversal') AND amount > 0) THEN ABS(amount) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ANY($%d) OR ((type = 'adjustment' OR type = 'reversal') AND amount < 0) THEN ABS(amount) ELSE 0 END), 0)
		FROM wallet_transactions
		WHERE %s AND status = 'completed'`, i, i+1, clause), args...).
		Scan(&totals.Credits, &totals.Debits)
	if err != nil {
		return nil, err
	}
	totals.Balance = totals.Credits.Sub(totals.Debits)

	monthArgs := []interface{}{}
	j := 1
	monthClause := accountClause(account, &monthArgs, &j)
	monthArgs = append(monthArgs, creditTypes, debitTypes)

	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT to_char(created_at, 'YYYY-MM') AS month,
			COALESCE(SUM(CASE WHEN type = ANY($%d) OR ((type = 'adjustment' OR type = 'reversal') AND amount > 0) THEN ABS(amount) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ANY($%d) OR ((type = 'adjustment' OR type = 'reversal') AND amount < 0) THEN ABS(amount) ELSE 0 END), 0)
		FROM wallet_transactions
		WHERE %s AND status = 'completed'
		GROUP BY month ORDER BY month DESC LIMIT 12`, j, j+1, monthClause), monthArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m MonthTotal
		if err := rows.Scan(&m.Month, &m.Credits, &m.Debits); err != nil {
			return nil, err
		}
		totals.Monthly = append(totals.Monthly, m)
	}
	return totals, rows.Err()
}

func typeSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
