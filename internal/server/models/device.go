package models

import "time"

// Device is a versioned entity with a single current-version pointer.
type Device struct {
	ID               string
	OwnerID          string
	Name             string
	Address          *string
	Active           bool
	CurrentVersionID *string
	LastUpdated      *time.Time
	CreatedAt        time.Time
}

// Ref returns the chain reference of the device.
func (d *Device) Ref() EntityRef { return DeviceRef(d.ID) }

// DeviceStatus is a device together with its up-to-date flag.
type DeviceStatus struct {
	Device   *Device
	UpToDate bool
}
