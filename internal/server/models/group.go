package models

import "time"

// DeviceGroup is a versioned entity whose uploads fan out to its members.
type DeviceGroup struct {
	ID               string
	OwnerID          string
	Name             string
	Active           bool
	CurrentVersionID *string
	LastUpdated      *time.Time
	CreatedAt        time.Time
}

// Ref returns the chain reference of the group.
func (g *DeviceGroup) Ref() EntityRef { return GroupRef(g.ID) }

// FanOutResult reports what a group upload produced.
type FanOutResult struct {
	GroupVersion   *Version
	DeviceVersions []*Version
}
