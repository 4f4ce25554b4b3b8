package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type groupRepo struct{ s *Store }

func (r groupRepo) Create(ctx context.Context, g *models.DeviceGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[g.ID]; ok {
		return fmt.Errorf("%w: group %s exists", common.ErrStorageIntegrity, g.ID)
	}
	cp := *g
	r.s.groups[g.ID] = &cp
	r.s.undo(ctx, func() { delete(r.s.groups, g.ID) })
	return nil
}

func (r groupRepo) Get(_ context.Context, id string) (*models.DeviceGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.groups[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *g
	return &cp, nil
}

func (r groupRepo) ListByOwner(_ context.Context, ownerID string) ([]*models.DeviceGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*models.DeviceGroup
	for _, g := range r.s.groups {
		if g.OwnerID == ownerID && g.Active {
			cp := *g
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r groupRepo) Update(ctx context.Context, g *models.DeviceGroup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.groups[g.ID]
	if !ok || !cur.Active {
		return common.ErrorNotFound
	}
	name := cur.Name
	cur.Name = g.Name
	r.s.undo(ctx, func() { cur.Name = name })
	return nil
}

func (r groupRepo) Deactivate(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.groups[id]
	if !ok {
		return common.ErrorNotFound
	}
	active := g.Active
	g.Active = false
	r.s.undo(ctx, func() { g.Active = active })
	return nil
}

func (r groupRepo) State(_ context.Context, id string) (*models.EntityState, error) {
	return r.state("groups.State", id)
}

func (r groupRepo) LockState(_ context.Context, id string) (*models.EntityState, error) {
	return r.state("groups.LockState", id)
}

func (r groupRepo) state(op, id string) (*models.EntityState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail(op, id); err != nil {
		return nil, err
	}
	g, ok := r.s.groups[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.EntityState{
		Ref:              g.Ref(),
		OwnerID:          g.OwnerID,
		Active:           g.Active,
		CurrentVersionID: g.CurrentVersionID,
		LastUpdated:      g.LastUpdated,
	}, nil
}

func (r groupRepo) SetCurrent(ctx context.Context, id, versionID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("groups.SetCurrent", id); err != nil {
		return err
	}
	g, ok := r.s.groups[id]
	if !ok {
		return common.ErrorNotFound
	}
	prev, prevAt := g.CurrentVersionID, g.LastUpdated
	g.CurrentVersionID = &versionID
	g.LastUpdated = &at
	r.s.undo(ctx, func() { g.CurrentVersionID, g.LastUpdated = prev, prevAt })
	return nil
}

func (r groupRepo) AddMember(ctx context.Context, groupID, deviceID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[groupID]; !ok {
		return false, fmt.Errorf("%w: group %s", common.ErrStorageIntegrity, groupID)
	}
	if _, ok := r.s.devices[deviceID]; !ok {
		return false, fmt.Errorf("%w: device %s", common.ErrStorageIntegrity, deviceID)
	}
	set, ok := r.s.members[groupID]
	if !ok {
		set = map[string]struct{}{}
		r.s.members[groupID] = set
	}
	if _, ok := set[deviceID]; ok {
		return false, nil
	}
	set[deviceID] = struct{}{}
	r.s.undo(ctx, func() { delete(set, deviceID) })
	return true, nil
}

func (r groupRepo) RemoveMember(ctx context.Context, groupID, deviceID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	set := r.s.members[groupID]
	if _, ok := set[deviceID]; !ok {
		return false, nil
	}
	delete(set, deviceID)
	r.s.undo(ctx, func() { set[deviceID] = struct{}{} })
	return true, nil
}

// activeMembers must be called with r.s.mu held.
func (r groupRepo) activeMembers(groupID string) []*models.Device {
	var result []*models.Device
	for id := range r.s.members[groupID] {
		if d, ok := r.s.devices[id]; ok && d.Active {
			result = append(result, copyDevice(d))
		}
	}
	return result
}

func (r groupRepo) Members(_ context.Context, groupID string) ([]*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := r.activeMembers(groupID)
	sortDevices(result)
	return result, nil
}

func (r groupRepo) LockActiveMembers(_ context.Context, groupID string) ([]*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	result := r.activeMembers(groupID)
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r groupRepo) AvailableDevices(_ context.Context, groupID, ownerID string) ([]*models.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*models.Device
	for id, d := range r.s.devices {
		if d.OwnerID != ownerID || !d.Active {
			continue
		}
		if _, member := r.s.members[groupID][id]; member {
			continue
		}
		result = append(result, copyDevice(d))
	}
	sortDevices(result)
	return result, nil
}
