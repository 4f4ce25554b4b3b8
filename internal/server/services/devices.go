package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/google/uuid"
)

// DevicePatch lists the fields to change. A nil field is left as is; an
// empty Address clears it.
type DevicePatch struct {
	Name    *string
	Address *string
}

type DeviceService struct {
	entityService
}

func NewDeviceService(d Deps) *DeviceService {
	return &DeviceService{entityService: newEntityService(d, models.KindDevice)}
}

func validateAddress(address *string) (*string, error) {
	if address == nil {
		return nil, nil
	}
	a := strings.TrimSpace(*address)
	if a == "" {
		return nil, nil
	}
	if len(a) > common.MaxAddressLength {
		return nil, common.NewValidationError("address", fmt.Sprintf("must be at most %d characters", common.MaxAddressLength))
	}
	if err := common.ValidateAddress("address", a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *DeviceService) Create(ctx context.Context, ownerID, name string, address *string) (*models.Device, error) {
	name, err := common.ValidateName("name", name, common.MaxNameLength)
	if err != nil {
		return nil, err
	}
	address, err = validateAddress(address)
	if err != nil {
		return nil, err
	}

	d := &models.Device{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Address:   address,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repomanager.Devices(s.DB).Create(ctx, d); err != nil {
		return nil, fmt.Errorf("error creating device: %w", err)
	}
	s.log.Info(ctx, "device created", "device_id", d.ID, "owner_id", ownerID)
	return d, nil
}

func (s *DeviceService) status(ctx context.Context, d *models.Device) (*models.DeviceStatus, error) {
	upToDate, err := s.chainFor(s.DB).IsUpToDate(ctx, d.Ref())
	if err != nil {
		return nil, err
	}
	return &models.DeviceStatus{Device: d, UpToDate: upToDate}, nil
}

// Get returns an active device owned by principalID with its up-to-date
// flag.
func (s *DeviceService) Get(ctx context.Context, principalID, id string) (*models.DeviceStatus, error) {
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, s.ref(id)); err != nil {
		return nil, err
	}
	d, err := s.Repomanager.Devices(s.DB).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, d)
}

// List returns the owner's active devices, oldest first.
func (s *DeviceService) List(ctx context.Context, ownerID string) ([]*models.DeviceStatus, error) {
	list, err := s.Repomanager.Devices(s.DB).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	result := make([]*models.DeviceStatus, 0, len(list))
	for _, d := range list {
		st, err := s.status(ctx, d)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

// Update applies patch to an active device.
func (s *DeviceService) Update(ctx context.Context, principalID, id string, patch DevicePatch) (*models.Device, error) {
	var name string
	if patch.Name != nil {
		var err error
		if name, err = common.ValidateName("name", *patch.Name, common.MaxNameLength); err != nil {
			return nil, err
		}
	}
	address, err := validateAddress(patch.Address)
	if err != nil {
		return nil, err
	}

	return dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Device, error) {
		if _, err := s.Registry.Authorize(ctx, tx, principalID, s.ref(id)); err != nil {
			return nil, err
		}
		repo := s.Repomanager.Devices(tx)
		d, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if patch.Name != nil {
			d.Name = name
		}
		if patch.Address != nil {
			d.Address = address
		}
		if err := repo.Update(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	})
}

func (s *DeviceService) Rename(ctx context.Context, principalID, id, name string) (*models.Device, error) {
	return s.Update(ctx, principalID, id, DevicePatch{Name: &name})
}

func (s *DeviceService) SetAddress(ctx context.Context, principalID, id string, address *string) (*models.Device, error) {
	if address == nil {
		empty := ""
		address = &empty
	}
	return s.Update(ctx, principalID, id, DevicePatch{Address: address})
}

// Deactivate marks the device inactive. Deactivating an inactive device
// succeeds.
func (s *DeviceService) Deactivate(ctx context.Context, principalID, id string) error {
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
	if err := s.Repomanager.Devices(s.DB).Deactivate(ctx, id); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	s.log.Info(ctx, "device deactivated", "device_id", id)
	return nil
}

// UploadVersion stores the payload and appends a version to the device.
func (s *DeviceService) UploadVersion(ctx context.Context, principalID, id, name string, upload models.Upload) (*models.Version, error) {
	return s.upload(ctx, principalID, id, name, upload, nil)
}

func (s *DeviceService) IsUpToDate(ctx context.Context, principalID, id string) (bool, error) {
	return s.isUpToDate(ctx, principalID, id)
}

// AdvanceToLatest moves the device to the head of its chain and returns
// the refreshed device and the number of steps taken.
func (s *DeviceService) AdvanceToLatest(ctx context.Context, principalID, id string) (*models.Device, int, error) {
	steps, err := s.advanceToLatest(ctx, principalID, id)
	if err != nil {
		return nil, 0, err
	}
	d, err := s.Repomanager.Devices(s.DB).Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return d, steps, nil
}

// Rollback points the device at an earlier version of its chain.
func (s *DeviceService) Rollback(ctx context.Context, principalID, id, versionID string) (*models.Version, error) {
	return s.rollback(ctx, principalID, id, versionID)
}

func (s *DeviceService) ListVersions(ctx context.Context, principalID, id string) ([]*models.Version, error) {
	return s.listVersions(ctx, principalID, id)
}
