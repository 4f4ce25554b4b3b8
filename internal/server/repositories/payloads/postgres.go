package payloads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

// PostgresRepository implements payload storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a payload row. The caller assigns ID and CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, p *models.Payload) error {
	query := `
		INSERT INTO payloads (id, storage_key, file_name, size, digest, uploader_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.StorageKey, p.FileName, p.Size, p.Digest, p.UploaderID, p.CreatedAt)
	if err != nil {
		return dbx.WrapError(err)
	}
	return nil
}

// Get returns the payload with the given id or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Payload, error) {
	query := `
		SELECT id, storage_key, file_name, size, digest, uploader_id, created_at
		FROM payloads
		WHERE id = $1
	`
	p := &models.Payload{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.StorageKey, &p.FileName, &p.Size, &p.Digest, &p.UploaderID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select payload: %w", err)
	}
	return p, nil
}
