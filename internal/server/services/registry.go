// Package services contains server-side business logic: user
// authentication, device and group management, version uploads and
// payload handling. Services own transaction boundaries; repositories
// never begin transactions themselves.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/repomanager"
)

type resolver func(ctx context.Context, db dbx.DBTX, id string) (*models.EntityState, error)

// Registry resolves entity references to their state and checks that a
// principal may act on them.
type Registry struct {
	resolvers map[models.EntityKind]resolver
}

func NewRegistry(m repomanager.RepositoryManager) *Registry {
	return &Registry{resolvers: map[models.EntityKind]resolver{
		models.KindDevice: func(ctx context.Context, db dbx.DBTX, id string) (*models.EntityState, error) {
			d, err := m.Devices(db).Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return &models.EntityState{
				Ref:              d.Ref(),
				OwnerID:          d.OwnerID,
				Active:           d.Active,
				CurrentVersionID: d.CurrentVersionID,
				LastUpdated:      d.LastUpdated,
			}, nil
		},
		models.KindGroup: func(ctx context.Context, db dbx.DBTX, id string) (*models.EntityState, error) {
			g, err := m.Groups(db).Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return &models.EntityState{
				Ref:              g.Ref(),
				OwnerID:          g.OwnerID,
				Active:           g.Active,
				CurrentVersionID: g.CurrentVersionID,
				LastUpdated:      g.LastUpdated,
			}, nil
		},
	}}
}

// ValidateOwner fails with ErrPermission unless principalID owns the entity.
func (r *Registry) ValidateOwner(principalID string, st *models.EntityState) error {
	if st.OwnerID != principalID {
		return fmt.Errorf("%w: %s", common.ErrPermission, st.Ref)
	}
	return nil
}

// Resolve returns the entity state regardless of its lifecycle flag.
func (r *Registry) Resolve(ctx context.Context, db dbx.DBTX, ref models.EntityRef) (*models.EntityState, error) {
	res, ok := r.resolvers[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", common.ErrValidation, ref.Kind)
	}
	st, err := res(ctx, db, ref.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, ref)
		}
		return nil, err
	}
	return st, nil
}

// ValidateExistsActive resolves ref and treats an inactive entity as absent.
func (r *Registry) ValidateExistsActive(ctx context.Context, db dbx.DBTX, ref models.EntityRef) (*models.EntityState, error) {
	st, err := r.Resolve(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, fmt.Errorf("%w: %s is inactive", common.ErrorNotFound, ref)
	}
	return st, nil
}

// Authorize combines ValidateExistsActive and ValidateOwner.
func (r *Registry) Authorize(ctx context.Context, db dbx.DBTX, principalID string, ref models.EntityRef) (*models.EntityState, error) {
	st, err := r.ValidateExistsActive(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	if err := r.ValidateOwner(principalID, st); err != nil {
		return nil, err
	}
	return st, nil
}
