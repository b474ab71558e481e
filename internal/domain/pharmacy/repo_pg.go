package pharmacy

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medCols = `id, name, generic_name, dosage_form, strength, price,
	reorder_level, is_active, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.DosageForm, &m.Strength,
		&m.Price, &m.ReorderLevel, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medications (id, name, generic_name, dosage_form, strength,
			price, reorder_level, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.Name, m.GenericName, m.DosageForm, m.Strength,
		m.Price, m.ReorderLevel, m.IsActive)
	return err
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMedication(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+medCols+` FROM medications WHERE id = $1`, id))
}

func (r *medicationRepoPG) List(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	i := 1
	if search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR generic_name ILIKE $%d)", i, i))
		args = append(args, "%"+search+"%")
		i++
	}
	if activeOnly {
		where = append(where, "is_active = TRUE")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM medications WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn(ctx, r.pool).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM medications WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		medCols, clause, i, i+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *medicationRepoPG) Update(ctx context.Context, m *Medication) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE medications SET name=$2, generic_name=$3, dosage_form=$4,
			strength=$5, price=$6, reorder_level=$7, is_active=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Name, m.GenericName, m.DosageForm, m.Strength,
		m.Price, m.ReorderLevel, m.IsActive)
	return err
}

// =========== Dispensary Repository ===========

type dispensaryRepoPG struct{ pool *pgxpool.Pool }

func NewDispensaryRepoPG(pool *pgxpool.Pool) DispensaryRepository {
	return &dispensaryRepoPG{pool: pool}
}

func (r *dispensaryRepoPG) Create(ctx context.Context, d *Dispensary) error {
	d.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO dispensaries (id, name, location, is_active)
		VALUES ($1,$2,$3,$4)`,
		d.ID, d.Name, d.Location, d.IsActive)
	return err
}

func (r *dispensaryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dispensary, error) {
	var d Dispensary
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, location, is_active, created_at
		FROM dispensaries WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Location, &d.IsActive, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *dispensaryRepoPG) List(ctx context.Context, activeOnly bool) ([]*Dispensary, error) {
	q := `SELECT id, name, location, is_active, created_at FROM dispensaries`
	if activeOnly {
		q += ` WHERE is_active = TRUE`
	}
	q += ` ORDER BY name`

	rows, err := conn(ctx, r.pool).Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Dispensary
	for rows.Next() {
		var d Dispensary
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

// =========== Inventory Repository ===========

type inventoryRepoPG struct{ pool *pgxpool.Pool }

func NewInventoryRepoPG(pool *pgxpool.Pool) InventoryRepository {
	return &inventoryRepoPG{pool: pool}
}

const invCols = `id, medication_id, dispensary_id, stock_quantity, reorder_level, updated_at`

func scanInventory(row pgx.Row) (*Inventory, error) {
	var inv Inventory
	err := row.Scan(&inv.ID, &inv.MedicationID, &inv.DispensaryID,
		&inv.StockQty, &inv.ReorderLevel, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &inv, err
}

func (r *inventoryRepoPG) Get(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error) {
	return scanInventory(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invCols+` FROM medication_inventory
		 WHERE medication_id = $1 AND dispensary_id = $2`, medicationID, dispensaryID))
}

func (r *inventoryRepoPG) GetOrCreate(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error) {
	inv, err := r.Get(ctx, medicationID, dispensaryID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// ON CONFLICT handles the concurrent-create race on the unique pair.
	return scanInventory(conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_inventory (id, medication_id, dispensary_id, stock_quantity, reorder_level)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (medication_id, dispensary_id)
		DO UPDATE SET updated_at = medication_inventory.updated_at
		RETURNING `+invCols, uuid.New(), medicationID, dispensaryID))
}

func (r *inventoryRepoPG) GetForUpdate(ctx context.Context, medicationID, dispensaryID uuid.UUID) (*Inventory, error) {
	inv, err := scanInventory(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invCols+` FROM medication_inventory
		 WHERE medication_id = $1 AND dispensary_id = $2 FOR UPDATE`,
		medicationID, dispensaryID))
	if errors.Is(err, ErrNotFound) {
		if _, cerr := r.GetOrCreate(ctx, medicationID, dispensaryID); cerr != nil {
			return nil, cerr
		}
		return scanInventory(conn(ctx, r.pool).QueryRow(ctx,
			`SELECT `+invCols+` FROM medication_inventory
			 WHERE medication_id = $1 AND dispensary_id = $2 FOR UPDATE`,
			medicationID, dispensaryID))
	}
	return inv, err
}

func (r *inventoryRepoPG) UpdateStock(ctx context.Context, id uuid.UUID, stockQty int) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE medication_inventory SET stock_quantity = $2, updated_at = NOW() WHERE id = $1`,
		id, stockQty)
	return err
}

func (r *inventoryRepoPG) ListByDispensary(ctx context.Context, dispensaryID uuid.UUID, lowStockOnly bool, limit, offset int) ([]*Inventory, int, error) {
	clause := `dispensary_id = $1`
	if lowStockOnly {
		clause += ` AND stock_quantity <= reorder_level`
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_inventory WHERE `+clause, dispensaryID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+invCols+` FROM medication_inventory WHERE `+clause+
			` ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, dispensaryID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

// =========== Transfer Repository ===========

type transferRepoPG struct{ pool *pgxpool.Pool }

func NewTransferRepoPG(pool *pgxpool.Pool) TransferRepository {
	return &transferRepoPG{pool: pool}
}

const transferCols = `id, medication_id, from_dispensary_id, to_dispensary_id,
	quantity, status, batch_id, requested_by, approved_by, transferred_by,
	requested_at, approved_at, completed_at, notes, rejection_reason`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.MedicationID, &t.FromDispensaryID, &t.ToDispensaryID,
		&t.Quantity, &t.Status, &t.BatchID, &t.RequestedBy, &t.ApprovedBy,
		&t.TransferredBy, &t.RequestedAt, &t.ApprovedAt, &t.CompletedAt,
		&t.Notes, &t.RejectionReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *transferRepoPG) Create(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO inter_dispensary_transfers (id, medication_id,
			from_dispensary_id, to_dispensary_id, quantity, status, batch_id,
			requested_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.MedicationID, t.FromDispensaryID, t.ToDispensaryID,
		t.Quantity, t.Status, t.BatchID, t.RequestedBy, t.Notes)
	return err
}

func (r *transferRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return scanTransfer(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM inter_dispensary_transfers WHERE id = $1`, id))
}

func (r *transferRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return scanTransfer(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM inter_dispensary_transfers WHERE id = $1 FOR UPDATE`, id))
}

func (r *transferRepoPG) Update(ctx context.Context, t *Transfer) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE inter_dispensary_transfers SET status=$2, approved_by=$3,
			transferred_by=$4, approved_at=$5, completed_at=$6, notes=$7,
			rejection_reason=$8
		WHERE id = $1`,
		t.ID, t.Status, t.ApprovedBy, t.TransferredBy, t.ApprovedAt,
		t.CompletedAt, t.Notes, t.RejectionReason)
	return err
}

func (r *transferRepoPG) List(ctx context.Context, filters TransferFilters, limit, offset int) ([]*Transfer, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	i := 1

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", i))
		args = append(args, filters.Status)
		i++
	}
	if filters.MedicationID != nil {
		where = append(where, fmt.Sprintf("medication_id = $%d", i))
		args = append(args, *filters.MedicationID)
		i++
	}
	if filters.FromDispensaryID != nil {
		where = append(where, fmt.Sprintf("from_dispensary_id = $%d", i))
		args = append(args, *filters.FromDispensaryID)
		i++
	}
	if filters.ToDispensaryID != nil {
		where = append(where, fmt.Sprintf("to_dispensary_id = $%d", i))
		args = append(args, *filters.ToDispensaryID)
		i++
	}
	if filters.BatchID != nil {
		where = append(where, fmt.Sprintf("batch_id = $%d", i))
		args = append(args, *filters.BatchID)
		i++
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM inter_dispensary_transfers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn(ctx, r.pool).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM inter_dispensary_transfers WHERE %s ORDER BY requested_at DESC LIMIT $%d OFFSET $%d`,
		transferCols, clause, i, i+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *transferRepoPG) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[string]int)}

	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT status, COUNT(*) FROM inter_dispensary_transfers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalTransfers += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM inter_dispensary_transfers
		WHERE status = 'completed'`).Scan(&stats.TotalQuantity)
	return stats, err
}
