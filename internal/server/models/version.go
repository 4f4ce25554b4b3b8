package models

import "time"

// Version is one immutable record in an entity's version chain. Only NextID
// is ever written after creation, and only once.
type Version struct {
	ID        string
	Name      string
	PayloadID *string
	Digest    []byte
	CreatorID string
	Entity    EntityRef

	PreviousID *string
	NextID     *string

	CreatedAt time.Time
}

// IsHead reports whether v has no successor.
func (v *Version) IsHead() bool {
	return v.NextID == nil
}

// VersionDraft carries the caller-supplied fields of a version that is about
// to be appended.
type VersionDraft struct {
	Name      string
	PayloadID *string
	Digest    []byte
	CreatorID string
}
