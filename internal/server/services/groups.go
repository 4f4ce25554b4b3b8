package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/chain"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/google/uuid"
)

type GroupService struct {
	entityService
}

func NewGroupService(d Deps) *GroupService {
	return &GroupService{entityService: newEntityService(d, models.KindGroup)}
}

func (s *GroupService) Create(ctx context.Context, ownerID, name string) (*models.DeviceGroup, error) {
	name, err := common.ValidateName("name", name, common.MaxNameLength)
	if err != nil {
		return nil, err
	}
	g := &models.DeviceGroup{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repomanager.Groups(s.DB).Create(ctx, g); err != nil {
		return nil, fmt.Errorf("error creating group: %w", err)
	}
	s.log.Info(ctx, "group created", "group_id", g.ID, "owner_id", ownerID)
	return g, nil
}

func (s *GroupService) Get(ctx context.Context, principalID, id string) (*models.DeviceGroup, error) {
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, s.ref(id)); err != nil {
		return nil, err
	}
	return s.Repomanager.Groups(s.DB).Get(ctx, id)
}

func (s *GroupService) List(ctx context.Context, ownerID string) ([]*models.DeviceGroup, error) {
	return s.Repomanager.Groups(s.DB).ListByOwner(ctx, ownerID)
}

func (s *GroupService) Rename(ctx context.Context, principalID, id, name string) (*models.DeviceGroup, error) {
	name, err := common.ValidateName("name", name, common.MaxNameLength)
	if err != nil {
		return nil, err
	}
	return dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (*models.DeviceGroup, error) {
		if _, err := s.Registry.Authorize(ctx, tx, principalID, s.ref(id)); err != nil {
			return nil, err
		}
		repo := s.Repomanager.Groups(tx)
		g, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		g.Name = name
		if err := repo.Update(ctx, g); err != nil {
			return nil, err
		}
		return g, nil
	})
}

// Deactivate marks the group inactive; membership rows are kept.
func (s *GroupService) Deactivate(ctx context.Context, principalID, id string) error {
	st, err := s.Registry.Resolve(ctx, s.DB, s.ref(id))
	if err != nil {
		return err
	}
	if err := s.Registry.ValidateOwner(principalID, st); err != nil {
		return err
	}
	if !st.Active {
		return nil
	}
	if err := s.Repomanager.Groups(s.DB).Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "group deactivated", "group_id", id)
	return nil
}

// membership authorizes principalID on the group and resolves the active
// device, which must share the group's owner.
func (s *GroupService) membership(ctx context.Context, tx dbx.DBTX, principalID, groupID, deviceID string) error {
	g, err := s.Registry.Authorize(ctx, tx, principalID, s.ref(groupID))
	if err != nil {
		return err
	}
	d, err := s.Registry.ValidateExistsActive(ctx, tx, models.DeviceRef(deviceID))
	if err != nil {
		return err
	}
	if d.OwnerID != g.OwnerID {
		return fmt.Errorf("%w: device %s and group %s", common.ErrOwnership, deviceID, groupID)
	}
	return nil
}

// AddMember adds the device to the group. It reports false when the device
// already was a member. Earlier group versions are not copied to the new
// member.
func (s *GroupService) AddMember(ctx context.Context, principalID, groupID, deviceID string) (bool, error) {
	return dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (bool, error) {
		if err := s.membership(ctx, tx, principalID, groupID, deviceID); err != nil {
			return false, err
		}
		return s.Repomanager.Groups(tx).AddMember(ctx, groupID, deviceID)
	})
}

// RemoveMember reports false when the device was not a member.
func (s *GroupService) RemoveMember(ctx context.Context, principalID, groupID, deviceID string) (bool, error) {
	return dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (bool, error) {
		if _, err := s.Registry.Authorize(ctx, tx, principalID, s.ref(groupID)); err != nil {
			return false, err
		}
		return s.Repomanager.Groups(tx).RemoveMember(ctx, groupID, deviceID)
	})
}

func (s *GroupService) Members(ctx context.Context, principalID, groupID string) ([]*models.Device, error) {
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, s.ref(groupID)); err != nil {
		return nil, err
	}
	return s.Repomanager.Groups(s.DB).Members(ctx, groupID)
}

// AvailableDevices lists the owner's active devices that could join the
// group.
func (s *GroupService) AvailableDevices(ctx context.Context, principalID, groupID string) ([]*models.Device, error) {
	g, err := s.Registry.Authorize(ctx, s.DB, principalID, s.ref(groupID))
	if err != nil {
		return nil, err
	}
	return s.Repomanager.Groups(s.DB).AvailableDevices(ctx, groupID, g.OwnerID)
}

// UploadVersion appends a version to the group and an independent copy to
// every active member, all in one transaction. Members are locked in id
// order after the group.
func (s *GroupService) UploadVersion(ctx context.Context, principalID, id, name string, upload models.Upload) (*models.FanOutResult, error) {
	var deviceVersions []*models.Version
	fanOut := func(ctx context.Context, tx dbx.DBTX, c *chain.Chain, draft models.VersionDraft) error {
		deviceVersions = nil
		members, err := s.Repomanager.Groups(tx).LockActiveMembers(ctx, id)
		if err != nil {
			return fmt.Errorf("locking members of group %s: %w", id, err)
		}
		for _, d := range members {
			v, err := c.Append(ctx, d.Ref(), draft)
			if err != nil {
				return fmt.Errorf("fan-out to device %s: %w", d.ID, err)
			}
			deviceVersions = append(deviceVersions, v)
		}
		return nil
	}

	gv, err := s.upload(ctx, principalID, id, name, upload, fanOut)
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveFanOut(len(deviceVersions))
	s.log.Info(ctx, "group version fanned out", "group_id", id, "devices", len(deviceVersions))
	return &models.FanOutResult{GroupVersion: gv, DeviceVersions: deviceVersions}, nil
}

func (s *GroupService) IsUpToDate(ctx context.Context, principalID, id string) (bool, error) {
	return s.isUpToDate(ctx, principalID, id)
}

// AdvanceToLatest moves only the group's own pointer; members keep theirs.
func (s *GroupService) AdvanceToLatest(ctx context.Context, principalID, id string) (*models.DeviceGroup, int, error) {
	steps, err := s.advanceToLatest(ctx, principalID, id)
	if err != nil {
		return nil, 0, err
	}
	g, err := s.Repomanager.Groups(s.DB).Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return g, steps, nil
}

func (s *GroupService) ListVersions(ctx context.Context, principalID, id string) ([]*models.Version, error) {
	return s.listVersions(ctx, principalID, id)
}
