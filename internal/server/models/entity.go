// Package models defines server-side data models persisted in the database.
package models

import (
	"fmt"
	"time"
)

// EntityKind names a kind of versioned entity.
type EntityKind string

const (
	KindDevice EntityKind = "device"
	KindGroup  EntityKind = "group"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	return k == KindDevice || k == KindGroup
}

// EntityRef is a typed reference to the Device or DeviceGroup that owns a
// version chain.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func DeviceRef(id string) EntityRef { return EntityRef{Kind: KindDevice, ID: id} }
func GroupRef(id string) EntityRef  { return EntityRef{Kind: KindGroup, ID: id} }

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// EntityState is the chain-relevant part of a versioned entity: its owner,
// lifecycle flag and current version pointer.
type EntityState struct {
	Ref              EntityRef
	OwnerID          string
	Active           bool
	CurrentVersionID *string
	LastUpdated      *time.Time
}
