package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

// Columns lists the device columns in ScanDevice order.
const Columns = `id, owner_id, name, address, active, current_version_id, last_updated, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (id, owner_id, name, address, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, d.ID, d.OwnerID, d.Name, d.Address, d.Active, d.CreatedAt); err != nil {
		return dbx.WrapError(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT ` + Columns + ` FROM devices WHERE id = $1`

	d, err := ScanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Device, error) {
	query := `SELECT ` + Columns + ` FROM devices
		WHERE owner_id = $1 AND active
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return CollectDevices(rows)
}

func (r *PostgresRepository) Update(ctx context.Context, d *models.Device) error {
	query := `
		UPDATE devices SET name = $2, address = $3
		WHERE id = $1 AND active
	`
	res, err := r.db.ExecContext(ctx, query, d.ID, d.Name, d.Address)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

// Deactivate is idempotent: deactivating an inactive device succeeds.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET active = false WHERE id = $1`, id)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

const stateQuery = `
		SELECT owner_id, active, current_version_id, last_updated
		FROM devices
		WHERE id = $1`

func (r *PostgresRepository) State(ctx context.Context, id string) (*models.EntityState, error) {
	return r.readState(ctx, stateQuery, id)
}

func (r *PostgresRepository) LockState(ctx context.Context, id string) (*models.EntityState, error) {
	return r.readState(ctx, stateQuery+"\n\t\tFOR UPDATE", id)
}

func (r *PostgresRepository) readState(ctx context.Context, query, id string) (*models.EntityState, error) {
	st := &models.EntityState{Ref: models.DeviceRef(id)}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&st.OwnerID, &st.Active, &st.CurrentVersionID, &st.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, dbx.WrapError(err)
	}
	return st, nil
}

func (r *PostgresRepository) SetCurrent(ctx context.Context, id, versionID string, at time.Time) error {
	query := `
		UPDATE devices SET current_version_id = $2, last_updated = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, versionID, at)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

// ScanDevice reads one row selected with Columns.
func ScanDevice(s scanner) (*models.Device, error) {
	var d models.Device
	if err := s.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Address, &d.Active,
		&d.CurrentVersionID, &d.LastUpdated, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// CollectDevices drains and closes rows selected with Columns.
func CollectDevices(rows *sql.Rows) ([]*models.Device, error) {
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		d, err := ScanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
