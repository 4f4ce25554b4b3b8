package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type versionRepo struct{ s *Store }

func copyVersion(v *models.Version) *models.Version {
	cp := *v
	return &cp
}

func (r versionRepo) Create(ctx context.Context, v *models.Version) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("versions.Create", v.Entity.ID); err != nil {
		return err
	}
	if _, ok := r.s.versions[v.ID]; ok {
		return fmt.Errorf("%w: version %s exists", common.ErrStorageIntegrity, v.ID)
	}
	if v.PreviousID != nil {
		for _, other := range r.s.versions {
			if other.PreviousID != nil && *other.PreviousID == *v.PreviousID {
				return fmt.Errorf("%w: %s already has a successor", common.ErrStorageIntegrity, *v.PreviousID)
			}
		}
	}
	r.s.versions[v.ID] = copyVersion(v)
	r.s.undo(ctx, func() { delete(r.s.versions, v.ID) })
	return nil
}

func (r versionRepo) Get(_ context.Context, id string) (*models.Version, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.versions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyVersion(v), nil
}

func (r versionRepo) LinkNext(ctx context.Context, prevID, nextID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("versions.LinkNext", prevID); err != nil {
		return err
	}
	v, ok := r.s.versions[prevID]
	if !ok || v.NextID != nil {
		return fmt.Errorf("%w: version %s already has a successor", common.ErrStorageIntegrity, prevID)
	}
	v.NextID = &nextID
	r.s.undo(ctx, func() { v.NextID = nil })
	return nil
}

func (r versionRepo) Head(_ context.Context, ref models.EntityRef) (*models.Version, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("versions.Head", ref.ID); err != nil {
		return nil, err
	}
	var head *models.Version
	for _, v := range r.s.versions {
		if v.Entity != ref || v.NextID != nil {
			continue
		}
		if head == nil || v.CreatedAt.After(head.CreatedAt) || (v.CreatedAt.Equal(head.CreatedAt) && v.ID > head.ID) {
			head = v
		}
	}
	if head == nil {
		return nil, common.ErrorNotFound
	}
	return copyVersion(head), nil
}

func (r versionRepo) ListByEntity(_ context.Context, ref models.EntityRef) ([]*models.Version, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*models.Version
	for _, v := range r.s.versions {
		if v.Entity == ref {
			result = append(result, copyVersion(v))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// ForceNext overwrites the successor link of a version. It exists to build
// corrupted chains.
func (s *Store) ForceNext(versionID, nextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[versionID]; ok {
		v.NextID = &nextID
	}
}

// VersionCount returns the number of stored versions.
func (s *Store) VersionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}
