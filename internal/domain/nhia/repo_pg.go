package nhia

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazifia/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Code Repository ===========

type codeRepoPG struct{ pool *pgxpool.Pool }

func NewCodeRepoPG(pool *pgxpool.Pool) CodeRepository { return &codeRepoPG{pool: pool} }

func (r *codeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const codeCols = `id, code, patient_id, service_type, amount, status,
	expires_at, used_reference, notes, generated_by, generated_at, updated_at`

func (r *codeRepoPG) scanCode(row pgx.Row) (*Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.Code, &c.PatientID, &c.ServiceType, &c.Amount,
		&c.Status, &c.ExpiresAt, &c.UsedReference, &c.Notes, &c.GeneratedBy,
		&c.GeneratedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *codeRepoPG) Create(ctx context.Context, c *Code) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO authorization_codes (id, code, patient_id, service_type,
			amount, status, expires_at, notes, generated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Code, c.PatientID, c.ServiceType,
		c.Amount, c.Status, c.ExpiresAt, c.Notes, c.GeneratedBy)
	return err
}

func (r *codeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Code, error) {
	return r.scanCode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+codeCols+` FROM authorization_codes WHERE id = $1`, id))
}

func (r *codeRepoPG) GetByCode(ctx context.Context, code string) (*Code, error) {
	return r.scanCode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+codeCols+` FROM authorization_codes WHERE code = $1`, code))
}

func (r *codeRepoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM authorization_codes WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// MarkUsed is a compare-and-set on status: only a row still active (and
// unexpired) is updated, so concurrent consumers get exactly one winner.
func (r *codeRepoPG) MarkUsed(ctx context.Context, id uuid.UUID, reference string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_codes
		SET status = 'used', used_reference = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND expires_at > NOW()`,
		id, reference)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *codeRepoPG) Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_codes
		SET status = 'rejected',
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'`,
		id, "Rejected: "+reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *codeRepoPG) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_codes
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *codeRepoPG) List(ctx context.Context, filters CodeFilters, limit, offset int) ([]*Code, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	i := 1

	if filters.PatientID != nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", i))
		args = append(args, *filters.PatientID)
		i++
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", i))
		args = append(args, filters.Status)
		i++
	}
	if filters.ServiceType != "" {
		where = append(where, fmt.Sprintf("service_type = $%d", i))
		args = append(args, filters.ServiceType)
		i++
	}
	if filters.Search != "" {
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR notes ILIKE $%d)", i, i))
		args = append(args, "%"+filters.Search+"%")
		i++
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_codes WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM authorization_codes WHERE %s ORDER BY generated_at DESC LIMIT $%d OFFSET $%d`,
		codeCols, clause, i, i+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Code
	for rows.Next() {
		c, err := r.scanCode(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reqCols = `id, module, record_id, patient_id, status, requested_by,
	notes, created_at, updated_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*AuthorizationRequest, error) {
	var a AuthorizationRequest
	err := row.Scan(&a.ID, &a.Module, &a.RecordID, &a.PatientID, &a.Status,
		&a.RequestedBy, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *requestRepoPG) Create(ctx context.Context, a *AuthorizationRequest) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO authorization_requests (id, module, record_id, patient_id,
			status, requested_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.Module, a.RecordID, a.PatientID, a.Status, a.RequestedBy, a.Notes)
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AuthorizationRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM authorization_requests WHERE id = $1`, id))
}

func (r *requestRepoPG) GetPending(ctx context.Context, module string, recordID uuid.UUID) (*AuthorizationRequest, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reqCols+` FROM authorization_requests
		 WHERE module = $1 AND record_id = $2 AND status = 'pending'`,
		module, recordID))
}

func (r *requestRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE authorization_requests SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*AuthorizationRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_requests WHERE status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reqCols+` FROM authorization_requests WHERE status = 'pending'
		 ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AuthorizationRequest
	for rows.Next() {
		a, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
