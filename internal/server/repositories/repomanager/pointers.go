package repomanager

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/devices"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/groups"
)

type pointerTable interface {
	State(ctx context.Context, id string) (*models.EntityState, error)
	LockState(ctx context.Context, id string) (*models.EntityState, error)
	SetCurrent(ctx context.Context, id, versionID string, at time.Time) error
}

// EntityPointers routes current-version pointer access to the table that
// owns the referenced entity.
type EntityPointers struct {
	tables map[models.EntityKind]pointerTable
}

// NewEntityPointers builds EntityPointers over repositories bound to the
// same transaction.
func NewEntityPointers(d devices.Repository, g groups.Repository) *EntityPointers {
	return &EntityPointers{tables: map[models.EntityKind]pointerTable{
		models.KindDevice: d,
		models.KindGroup:  g,
	}}
}

func (p *EntityPointers) table(ref models.EntityRef) (pointerTable, error) {
	t, ok := p.tables[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", common.ErrValidation, ref.Kind)
	}
	return t, nil
}

// Current reads the entity's state without locking it.
func (p *EntityPointers) Current(ctx context.Context, ref models.EntityRef) (*models.EntityState, error) {
	t, err := p.table(ref)
	if err != nil {
		return nil, err
	}
	return t.State(ctx, ref.ID)
}

// LockCurrent row-locks the entity and returns its state.
func (p *EntityPointers) LockCurrent(ctx context.Context, ref models.EntityRef) (*models.EntityState, error) {
	t, err := p.table(ref)
	if err != nil {
		return nil, err
	}
	return t.LockState(ctx, ref.ID)
}

func (p *EntityPointers) SetCurrent(ctx context.Context, ref models.EntityRef, versionID string, at time.Time) error {
	t, err := p.table(ref)
	if err != nil {
		return err
	}
	return t.SetCurrent(ctx, ref.ID, versionID, at)
}
