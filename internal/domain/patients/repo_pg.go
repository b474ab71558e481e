package patients

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

const patientCols = `id, patient_id, first_name, last_name, other_names,
	date_of_birth, gender, phone, email, address, patient_type, is_active,
	created_at, updated_at`

func (r *repoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientID, &p.FirstName, &p.LastName, &p.OtherNames,
		&p.DateOfBirth, &p.Gender, &p.Phone, &p.Email, &p.Address, &p.PatientType,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, patient_id, first_name, last_name, other_names,
			date_of_birth, gender, phone, email, address, patient_type, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.PatientID, p.FirstName, p.LastName, p.OtherNames,
		p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.PatientType, p.IsActive)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return p, r.loadSatellites(ctx, p)
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, patientID))
	if err != nil {
		return nil, err
	}
	return p, r.loadSatellites(ctx, p)
}

func (r *repoPG) loadSatellites(ctx context.Context, p *Patient) error {
	var n NHIAInfo
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_uuid, reg_number, is_active, created_at
		FROM nhia_info WHERE patient_uuid = $1`, p.ID).
		Scan(&n.ID, &n.PatientID, &n.RegNumber, &n.IsActive, &n.CreatedAt)
	if err == nil {
		p.NHIA = &n
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var rt RetainershipInfo
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_uuid, reg_number, is_active, created_at
		FROM retainership_info WHERE patient_uuid = $1`, p.ID).
		Scan(&rt.ID, &rt.PatientID, &rt.RegNumber, &rt.IsActive, &rt.CreatedAt)
	if err == nil {
		p.Retainership = &rt
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, other_names=$4,
			date_of_birth=$5, gender=$6, phone=$7, email=$8, address=$9,
			patient_type=$10, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.OtherNames,
		p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.PatientType)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filters ListFilters, limit, offset int) ([]*Patient, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	i := 1

	if filters.Search != "" {
		where = append(where, fmt.Sprintf(
			`(first_name ILIKE $%d OR last_name ILIKE $%d OR patient_id ILIKE $%d OR phone ILIKE $%d)`,
			i, i, i, i))
		args = append(args, "%"+filters.Search+"%")
		i++
	}
	if filters.PatientType != "" {
		where = append(where, fmt.Sprintf("patient_type = $%d", i))
		args = append(args, filters.PatientType)
		i++
	}
	if filters.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM patients WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		patientCols, clause, i, i+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) PatientIDExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM patients WHERE patient_id = $1)`, patientID).Scan(&exists)
	return exists, err
}

func (r *repoPG) AttachNHIA(ctx context.Context, info *NHIAInfo) error {
	info.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nhia_info (id, patient_uuid, reg_number, is_active)
		VALUES ($1,$2,$3,$4)`,
		info.ID, info.PatientID, info.RegNumber, info.IsActive)
	return err
}

func (r *repoPG) AttachRetainership(ctx context.Context, info *RetainershipInfo) error {
	info.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO retainership_info (id, patient_uuid, reg_number, is_active)
		VALUES ($1,$2,$3,$4)`,
		info.ID, info.PatientID, info.RegNumber, info.IsActive)
	return err
}

func (r *repoPG) CountNHIARegistrationsOn(ctx context.Context, datePrefix string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM nhia_info WHERE reg_number LIKE $1`, datePrefix+"%").Scan(&count)
	return count, err
}
