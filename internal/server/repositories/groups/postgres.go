package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/devices"
)

const groupColumns = `id, owner_id, name, active, current_version_id, last_updated, created_at`

// memberColumns is devices.Columns qualified with the d alias.
const memberColumns = `d.id, d.owner_id, d.name, d.address, d.active, d.current_version_id, d.last_updated, d.created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, g *models.DeviceGroup) error {
	query := `
		INSERT INTO device_groups (id, owner_id, name, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.OwnerID, g.Name, g.Active, g.CreatedAt); err != nil {
		return dbx.WrapError(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.DeviceGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM device_groups WHERE id = $1`

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.DeviceGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM device_groups
		WHERE owner_id = $1 AND active
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.DeviceGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, g *models.DeviceGroup) error {
	res, err := r.db.ExecContext(ctx, `UPDATE device_groups SET name = $2 WHERE id = $1 AND active`, g.ID, g.Name)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE device_groups SET active = false WHERE id = $1`, id)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

const stateQuery = `
		SELECT owner_id, active, current_version_id, last_updated
		FROM device_groups
		WHERE id = $1`

func (r *PostgresRepository) State(ctx context.Context, id string) (*models.EntityState, error) {
	return r.readState(ctx, stateQuery, id)
}

func (r *PostgresRepository) LockState(ctx context.Context, id string) (*models.EntityState, error) {
	return r.readState(ctx, stateQuery+"\n\t\tFOR UPDATE", id)
}

func (r *PostgresRepository) readState(ctx context.Context, query, id string) (*models.EntityState, error) {
	st := &models.EntityState{Ref: models.GroupRef(id)}
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
		UPDATE device_groups SET current_version_id = $2, last_updated = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, versionID, at)
	if err != nil {
		return dbx.WrapError(err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) AddMember(ctx context.Context, groupID, deviceID string) (bool, error) {
	query := `
		INSERT INTO group_members (group_id, device_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, groupID, deviceID)
	if err != nil {
		return false, dbx.WrapError(err)
	}
	return affected(res)
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, groupID, deviceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND device_id = $2`, groupID, deviceID)
	if err != nil {
		return false, dbx.WrapError(err)
	}
	return affected(res)
}

func (r *PostgresRepository) Members(ctx context.Context, groupID string) ([]*models.Device, error) {
	query := `SELECT ` + memberColumns + `
		FROM devices d
		JOIN group_members m ON m.device_id = d.id
		WHERE m.group_id = $1 AND d.active
		ORDER BY d.created_at, d.id`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return devices.CollectDevices(rows)
}

func (r *PostgresRepository) LockActiveMembers(ctx context.Context, groupID string) ([]*models.Device, error) {
	query := `SELECT ` + memberColumns + `
		FROM devices d
		JOIN group_members m ON m.device_id = d.id
		WHERE m.group_id = $1 AND d.active
		ORDER BY d.id
		FOR UPDATE OF d`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, dbx.WrapError(err)
	}
	return devices.CollectDevices(rows)
}

func (r *PostgresRepository) AvailableDevices(ctx context.Context, groupID, ownerID string) ([]*models.Device, error) {
	query := `SELECT ` + memberColumns + `
		FROM devices d
		WHERE d.owner_id = $2 AND d.active
		  AND NOT EXISTS (
			SELECT 1 FROM group_members m
			WHERE m.group_id = $1 AND m.device_id = d.id
		  )
		ORDER BY d.created_at, d.id`

	rows, err := r.db.QueryContext(ctx, query, groupID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return devices.CollectDevices(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(s scanner) (*models.DeviceGroup, error) {
	var g models.DeviceGroup
	if err := s.Scan(&g.ID, &g.OwnerID, &g.Name, &g.Active,
		&g.CurrentVersionID, &g.LastUpdated, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func expectOne(res sql.Result) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}
