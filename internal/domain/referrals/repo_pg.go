package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const referralCols = `id, patient_id, referring_doctor, referred_to_department,
	assigned_doctor, referral_date, reason, notes, status,
	requires_authorization, authorization_status, authorization_code_id,
	completed_at, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.PatientID, &ref.ReferringDoctor,
		&ref.ReferredToDepartment, &ref.AssignedDoctor, &ref.ReferralDate,
		&ref.Reason, &ref.Notes, &ref.Status, &ref.RequiresAuthorization,
		&ref.AuthorizationStatus, &ref.AuthorizationCodeID, &ref.CompletedAt,
		&ref.CreatedAt, &ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &ref, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referrals (id, patient_id, referring_doctor,
			referred_to_department, assigned_doctor, referral_date, reason,
			notes, status, requires_authorization, authorization_status,
			authorization_code_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		ref.ID, ref.PatientID, ref.ReferringDoctor, ref.ReferredToDepartment,
		ref.AssignedDoctor, ref.ReferralDate, ref.Reason, ref.Notes,
		ref.Status, ref.RequiresAuthorization, ref.AuthorizationStatus,
		ref.AuthorizationCodeID,
	).Scan(&ref.CreatedAt, &ref.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return scanReferral(r.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referrals WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return scanReferral(r.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referrals WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, ref *Referral) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE referrals SET
			assigned_doctor = $2, status = $3, authorization_status = $4,
			authorization_code_id = $5, notes = $6, completed_at = $7,
			updated_at = NOW()
		WHERE id = $1`,
		ref.ID, ref.AssignedDoctor, ref.Status, ref.AuthorizationStatus,
		ref.AuthorizationCodeID, ref.Notes, ref.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilters, limit, offset int) ([]*Referral, int, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.PatientID != nil {
		where = append(where, "patient_id = "+arg(*f.PatientID))
	}
	if f.Department != "" {
		where = append(where, "referred_to_department = "+arg(f.Department))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.AuthorizationStatus != "" {
		where = append(where, "authorization_status = "+arg(f.AuthorizationStatus))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referrals`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + referralCols + ` FROM referrals` + clause +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %s OFFSET %s`, arg(limit), arg(offset))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ref)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListActiveByDepartment(ctx context.Context, department string) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+referralCols+` FROM referrals
		WHERE referred_to_department = $1 AND status IN ('pending', 'accepted')
		ORDER BY referral_date ASC`, department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
