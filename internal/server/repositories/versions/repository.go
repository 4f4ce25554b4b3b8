// Package versions persists version chain nodes.
package versions

import (
	"context"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.Version) error
	Get(ctx context.Context, id string) (*models.Version, error)

	// LinkNext sets prev.next = next when prev has no successor yet. A
	// version that already has a successor yields common.ErrStorageIntegrity.
	LinkNext(ctx context.Context, prevID, nextID string) error

	// Head returns the version of ref that has no successor, or
	// common.ErrorNotFound for an empty chain.
	Head(ctx context.Context, ref models.EntityRef) (*models.Version, error)

	// ListByEntity returns the chain of ref, newest first.
	ListByEntity(ctx context.Context, ref models.EntityRef) ([]*models.Version, error)
}
