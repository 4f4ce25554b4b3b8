package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

const columns = `id, name, payload_id, digest, creator_id, entity_kind, entity_id, previous_id, next_id, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.Version) error {
	query := `
		INSERT INTO versions (id, name, payload_id, digest, creator_id, entity_kind, entity_id, previous_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.Name, v.PayloadID, v.Digest, v.CreatorID, string(v.Entity.Kind), v.Entity.ID, v.PreviousID, v.CreatedAt)
	if err != nil {
		return dbx.WrapError(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Version, error) {
	query := `SELECT ` + columns + ` FROM versions WHERE id = $1`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) LinkNext(ctx context.Context, prevID, nextID string) error {
	query := `
		UPDATE versions SET next_id = $2
		WHERE id = $1 AND next_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, prevID, nextID)
	if err != nil {
		return dbx.WrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: version %s already has a successor", common.ErrStorageIntegrity, prevID)
	}
	return nil
}

func (r *PostgresRepository) Head(ctx context.Context, ref models.EntityRef) (*models.Version, error) {
	query := `SELECT ` + columns + ` FROM versions
		WHERE entity_kind = $1 AND entity_id = $2 AND next_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, string(ref.Kind), ref.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) ListByEntity(ctx context.Context, ref models.EntityRef) ([]*models.Version, error) {
	query := `SELECT ` + columns + ` FROM versions
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(s scanner) (*models.Version, error) {
	var (
		v    models.Version
		kind string
	)
	if err := s.Scan(&v.ID, &v.Name, &v.PayloadID, &v.Digest, &v.CreatorID,
		&kind, &v.Entity.ID, &v.PreviousID, &v.NextID, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Entity.Kind = models.EntityKind(kind)
	return &v, nil
}
