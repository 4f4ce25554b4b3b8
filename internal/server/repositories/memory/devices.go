package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type deviceRepo struct{ s *Store }

func copyDevice(d *models.Device) *models.Device {
	cp := *d
	return &cp
}

func sortDevices(list []*models.Device) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (r deviceRepo) Create(ctx context.Context, d *models.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("devices.Create", d.ID); err != nil {
		return err
	}
	if _, ok := r.s.devices[d.ID]; ok {
		return fmt.Errorf("%w: device %s exists", common.ErrStorageIntegrity, d.ID)
	}
	r.s.devices[d.ID] = copyDevice(d)
	r.s.undo(ctx, func() { delete(r.s.devices, d.ID) })
	return nil
}

func (r deviceRepo) Get(_ context.Context, id string) (*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyDevice(d), nil
}

func (r deviceRepo) ListByOwner(_ context.Context, ownerID string) ([]*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*models.Device
	for _, d := range r.s.devices {
		if d.OwnerID == ownerID && d.Active {
			result = append(result, copyDevice(d))
		}
	}
	sortDevices(result)
	return result, nil
}

func (r deviceRepo) Update(ctx context.Context, d *models.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.devices[d.ID]
	if !ok || !cur.Active {
		return common.ErrorNotFound
	}
	name, address := cur.Name, cur.Address
	cur.Name = d.Name
	cur.Address = d.Address
	r.s.undo(ctx, func() { cur.Name, cur.Address = name, address })
	return nil
}

func (r deviceRepo) Deactivate(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	active := d.Active
	d.Active = false
	r.s.undo(ctx, func() { d.Active = active })
	return nil
}

func (r deviceRepo) State(_ context.Context, id string) (*models.EntityState, error) {
	return r.state("devices.State", id)
}

// LockState reads like State; the store mutex already serializes writers.
func (r deviceRepo) LockState(_ context.Context, id string) (*models.EntityState, error) {
	return r.state("devices.LockState", id)
}

func (r deviceRepo) state(op, id string) (*models.EntityState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail(op, id); err != nil {
		return nil, err
	}
	d, ok := r.s.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.EntityState{
		Ref:              d.Ref(),
		OwnerID:          d.OwnerID,
		Active:           d.Active,
		CurrentVersionID: d.CurrentVersionID,
		LastUpdated:      d.LastUpdated,
	}, nil
}

func (r deviceRepo) SetCurrent(ctx context.Context, id, versionID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("devices.SetCurrent", id); err != nil {
		return err
	}
	d, ok := r.s.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	prev, prevAt := d.CurrentVersionID, d.LastUpdated
	d.CurrentVersionID = &versionID
	d.LastUpdated = &at
	r.s.undo(ctx, func() { d.CurrentVersionID, d.LastUpdated = prev, prevAt })
	return nil
}
