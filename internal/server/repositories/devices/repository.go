// Package devices persists devices and their current-version pointers.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.Device) error
	// Get returns the device whether active or not.
	Get(ctx context.Context, id string) (*models.Device, error)
	// ListByOwner returns the owner's active devices, oldest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Device, error)
	// Update stores Name and Address of an active device.
	Update(ctx context.Context, d *models.Device) error
	Deactivate(ctx context.Context, id string) error

	// State reads the chain state without locking.
	State(ctx context.Context, id string) (*models.EntityState, error)
	// LockState row-locks the device until the transaction ends.
	LockState(ctx context.Context, id string) (*models.EntityState, error)
	SetCurrent(ctx context.Context, id, versionID string, at time.Time) error
}
