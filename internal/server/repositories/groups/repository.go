// Package groups persists device groups, their membership and their
// current-version pointers.
package groups

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, g *models.DeviceGroup) error
	Get(ctx context.Context, id string) (*models.DeviceGroup, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.DeviceGroup, error)
	Update(ctx context.Context, g *models.DeviceGroup) error
	Deactivate(ctx context.Context, id string) error

	// State reads the chain state without locking.
	State(ctx context.Context, id string) (*models.EntityState, error)
	LockState(ctx context.Context, id string) (*models.EntityState, error)
	SetCurrent(ctx context.Context, id, versionID string, at time.Time) error

	// AddMember reports false when the device already was a member.
	AddMember(ctx context.Context, groupID, deviceID string) (bool, error)
	// RemoveMember reports false when the device was not a member.
	RemoveMember(ctx context.Context, groupID, deviceID string) (bool, error)
	// Members returns the active member devices, oldest first.
	Members(ctx context.Context, groupID string) ([]*models.Device, error)
	// LockActiveMembers row-locks the active member devices in id order.
	LockActiveMembers(ctx context.Context, groupID string) ([]*models.Device, error)
	// AvailableDevices returns the owner's active devices outside the group.
	AvailableDevices(ctx context.Context, groupID, ownerID string) ([]*models.Device, error)
}
