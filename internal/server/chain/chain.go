// Package chain maintains per-entity version chains: a doubly linked list of
// immutable versions plus the entity's current-version pointer.
//
// A Chain is bound to the stores of a single transaction. Every operation
// that writes begins by row-locking the entity through PointerStore, so
// writers of one entity are serialized while different entities proceed in
// parallel.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/google/uuid"
)

// MaxChainHops bounds AdvanceToLatest. A well-formed chain never gets
// close; reaching it means the links form a cycle.
const MaxChainHops = 10000

type VersionStore interface {
	Get(ctx context.Context, id string) (*models.Version, error)
	Create(ctx context.Context, v *models.Version) error
	LinkNext(ctx context.Context, prevID, nextID string) error
	Head(ctx context.Context, ref models.EntityRef) (*models.Version, error)
}

type PointerStore interface {
	Current(ctx context.Context, ref models.EntityRef) (*models.EntityState, error)
	LockCurrent(ctx context.Context, ref models.EntityRef) (*models.EntityState, error)
	SetCurrent(ctx context.Context, ref models.EntityRef, versionID string, at time.Time) error
}

type Chain struct {
	versions VersionStore
	pointers PointerStore
	log      logging.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Chain)

// WithClock replaces the time source used for created_at and last_updated.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithIDGenerator replaces the version id source.
func WithIDGenerator(newID func() string) Option {
	return func(c *Chain) { c.newID = newID }
}

func New(versions VersionStore, pointers PointerStore, log logging.Logger, opts ...Option) *Chain {
	c := &Chain{
		versions: versions,
		pointers: pointers,
		log:      log.With("module", "chain"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Chain) lockActive(ctx context.Context, ref models.EntityRef) (*models.EntityState, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", common.ErrValidation, ref.Kind)
	}
	st, err := c.pointers.LockCurrent(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", ref, err)
	}
	if !st.Active {
		return nil, fmt.Errorf("%w: %s is inactive", common.ErrorNotFound, ref)
	}
	return st, nil
}

// head returns the id of the last version in the entity's chain, or nil
// for an empty chain. It differs from the current version after a rollback.
func (c *Chain) head(ctx context.Context, st *models.EntityState) (*string, error) {
	if st.CurrentVersionID == nil {
		return nil, nil
	}
	h, err := c.versions.Head(ctx, st.Ref)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			c.log.Error(ctx, "chain has no head", "entity", st.Ref.String(), "current", *st.CurrentVersionID)
			return nil, fmt.Errorf("%w: %s has versions but no head", common.ErrChainCorrupted, st.Ref)
		}
		return nil, fmt.Errorf("reading head of %s: %w", st.Ref, err)
	}
	return &h.ID, nil
}

// Append links a new version after the head of the entity's chain and makes
// it current. An entity that was rolled back jumps straight to the new
// version.
func (c *Chain) Append(ctx context.Context, ref models.EntityRef, draft models.VersionDraft) (*models.Version, error) {
	st, err := c.lockActive(ctx, ref)
	if err != nil {
		return nil, err
	}
	previous, err := c.head(ctx, st)
	if err != nil {
		return nil, err
	}

	now := c.now()
	v := &models.Version{
		ID:         c.newID(),
		Name:       draft.Name,
		PayloadID:  draft.PayloadID,
		Digest:     draft.Digest,
		CreatorID:  draft.CreatorID,
		Entity:     ref,
		PreviousID: previous,
		CreatedAt:  now,
	}

	if err := c.versions.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("creating version for %s: %w", ref, err)
	}
	if v.PreviousID != nil {
		if err := c.versions.LinkNext(ctx, *v.PreviousID, v.ID); err != nil {
			return nil, fmt.Errorf("linking version %s after %s: %w", v.ID, *v.PreviousID, err)
		}
	}
	if err := c.pointers.SetCurrent(ctx, ref, v.ID, now); err != nil {
		return nil, fmt.Errorf("updating current version of %s: %w", ref, err)
	}

	c.log.Debug(ctx, "version appended", "entity", ref.String(), "version_id", v.ID)
	return v, nil
}

// IsUpToDate reports whether the entity's current version has no successor.
// It takes no row lock.
func (c *Chain) IsUpToDate(ctx context.Context, ref models.EntityRef) (bool, error) {
	st, err := c.pointers.Current(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", ref, err)
	}
	_, upToDate, err := c.successor(ctx, st)
	return upToDate, err
}

// successor returns the next version of the current one, or upToDate=true
// when there is nothing to advance to.
func (c *Chain) successor(ctx context.Context, st *models.EntityState) (next string, upToDate bool, err error) {
	if st.CurrentVersionID == nil {
		return "", true, nil
	}
	cur, err := c.versions.Get(ctx, *st.CurrentVersionID)
	if err != nil {
		return "", false, fmt.Errorf("reading current version of %s: %w", st.Ref, err)
	}
	if cur.NextID == nil {
		return "", true, nil
	}
	if *cur.NextID == cur.ID {
		c.log.Warn(ctx, "version links to itself", "entity", st.Ref.String(), "version_id", cur.ID)
		return "", true, nil
	}
	return *cur.NextID, false, nil
}

// AdvanceOne moves the current pointer one step towards the head. It
// returns false when there is nothing to advance to.
func (c *Chain) AdvanceOne(ctx context.Context, ref models.EntityRef) (bool, error) {
	st, err := c.lockActive(ctx, ref)
	if err != nil {
		return false, err
	}
	return c.advance(ctx, st)
}

func (c *Chain) advance(ctx context.Context, st *models.EntityState) (bool, error) {
	next, upToDate, err := c.successor(ctx, st)
	if err != nil || upToDate {
		return false, err
	}

	now := c.now()
	if err := c.pointers.SetCurrent(ctx, st.Ref, next, now); err != nil {
		return false, fmt.Errorf("advancing %s: %w", st.Ref, err)
	}
	st.CurrentVersionID = &next
	st.LastUpdated = &now
	return true, nil
}

// AdvanceToLatest advances until the entity is up to date and returns the
// number of steps taken.
func (c *Chain) AdvanceToLatest(ctx context.Context, ref models.EntityRef) (int, error) {
	st, err := c.lockActive(ctx, ref)
	if err != nil {
		return 0, err
	}

	steps := 0
	for {
		moved, err := c.advance(ctx, st)
		if err != nil {
			return steps, err
		}
		if !moved {
			return steps, nil
		}
		steps++
		if steps >= MaxChainHops {
			c.log.Error(ctx, "chain hop limit reached", "entity", ref.String(), "hops", steps)
			return steps, fmt.Errorf("%w: %s exceeds %d hops", common.ErrChainCorrupted, ref, MaxChainHops)
		}
	}
}

// Rollback points the entity at an earlier version of its own chain. The
// entity is then behind its head until advanced again.
func (c *Chain) Rollback(ctx context.Context, ref models.EntityRef, versionID string) (*models.Version, error) {
	st, err := c.lockActive(ctx, ref)
	if err != nil {
		return nil, err
	}

	v, err := c.versions.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewValidationError("version_id", "unknown version")
		}
		return nil, err
	}
	if v.Entity != ref {
		return nil, common.NewValidationError("version_id", "version belongs to another entity")
	}
	if st.CurrentVersionID != nil && *st.CurrentVersionID == v.ID {
		return v, nil
	}

	if err := c.pointers.SetCurrent(ctx, ref, v.ID, c.now()); err != nil {
		return nil, fmt.Errorf("rolling back %s: %w", ref, err)
	}
	return v, nil
}
