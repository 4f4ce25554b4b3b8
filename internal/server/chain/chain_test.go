package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	m     *memory.Manager
	chain *Chain
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{m: memory.NewManager(), clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	seq := 0
	pointers := repomanager.NewEntityPointers(f.m.Devices(nil), f.m.Groups(nil))
	f.chain = New(f.m.Versions(nil), pointers, logging.Nop(),
		WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("v-%d", seq)
		}),
	)
	return f
}

func (f *fixture) device(t *testing.T, id string, active bool) models.EntityRef {
	t.Helper()
	require.NoError(t, f.m.Devices(nil).Create(context.Background(), &models.Device{
		ID: id, OwnerID: "u-1", Name: id, Active: active, CreatedAt: f.clock,
	}))
	return models.DeviceRef(id)
}

func (f *fixture) current(t *testing.T, ref models.EntityRef) *string {
	t.Helper()
	d, err := f.m.Devices(nil).Get(context.Background(), ref.ID)
	require.NoError(t, err)
	return d.CurrentVersionID
}

func (f *fixture) version(t *testing.T, id string) *models.Version {
	t.Helper()
	v, err := f.m.Versions(nil).Get(context.Background(), id)
	require.NoError(t, err)
	return v
}

func draft(name string) models.VersionDraft {
	return models.VersionDraft{Name: name, CreatorID: "u-1"}
}

func TestIsUpToDate_NoCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	ok, err := f.chain.IsUpToDate(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppend_LinksBothWays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	assert.Nil(t, v1.PreviousID)

	v2, err := f.chain.Append(ctx, ref, draft("v2"))
	require.NoError(t, err)

	stored1 := f.version(t, v1.ID)
	require.NotNil(t, stored1.NextID)
	assert.Equal(t, v2.ID, *stored1.NextID)
	require.NotNil(t, v2.PreviousID)
	assert.Equal(t, v1.ID, *v2.PreviousID)
	assert.True(t, f.version(t, v2.ID).IsHead())
	assert.Equal(t, ref, v2.Entity)

	cur := f.current(t, ref)
	require.NotNil(t, cur)
	assert.Equal(t, v2.ID, *cur)

	ok, err := f.chain.IsUpToDate(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := f.m.Devices(nil).Get(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, d.LastUpdated)
	assert.Equal(t, v2.CreatedAt, *d.LastUpdated)
}

func TestAdvanceOne_FromOlderVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	v2, err := f.chain.Append(ctx, ref, draft("v2"))
	require.NoError(t, err)

	_, err = f.chain.Rollback(ctx, ref, v1.ID)
	require.NoError(t, err)

	ok, err := f.chain.IsUpToDate(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	moved, err := f.chain.AdvanceOne(ctx, ref)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, v2.ID, *f.current(t, ref))

	moved, err = f.chain.AdvanceOne(ctx, ref)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAdvanceOne_NoVersions(t *testing.T) {
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	moved, err := f.chain.AdvanceOne(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Nil(t, f.current(t, ref))
}

func TestAdvanceToLatest_CountsSteps(t *testing.T) {
	ctx := context.Background()

	for _, behind := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("%d behind", behind), func(t *testing.T) {
			f := newFixture(t)
			ref := f.device(t, "d-1", true)

			var all []*models.Version
			for i := 0; i <= behind; i++ {
				v, err := f.chain.Append(ctx, ref, draft(fmt.Sprintf("fw-%d", i)))
				require.NoError(t, err)
				all = append(all, v)
			}
			_, err := f.chain.Rollback(ctx, ref, all[0].ID)
			require.NoError(t, err)

			steps, err := f.chain.AdvanceToLatest(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, behind, steps)
			assert.Equal(t, all[len(all)-1].ID, *f.current(t, ref))

			steps, err = f.chain.AdvanceToLatest(ctx, ref)
			require.NoError(t, err)
			assert.Zero(t, steps)
		})
	}
}

func TestSelfReferenceCountsAsUpToDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	f.m.Store.ForceNext(v1.ID, v1.ID)

	ok, err := f.chain.IsUpToDate(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	moved, err := f.chain.AdvanceOne(ctx, ref)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAdvanceToLatest_CycleFailsLoudly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	v2, err := f.chain.Append(ctx, ref, draft("v2"))
	require.NoError(t, err)
	f.m.Store.ForceNext(v2.ID, v1.ID)

	steps, err := f.chain.AdvanceToLatest(ctx, ref)
	require.ErrorIs(t, err, common.ErrChainCorrupted)
	assert.Equal(t, MaxChainHops, steps)
}

func TestAppend_InactiveEntity(t *testing.T) {
	f := newFixture(t)
	ref := f.device(t, "d-1", false)

	_, err := f.chain.Append(context.Background(), ref, draft("v1"))
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Zero(t, f.m.Store.VersionCount())
}

func TestAppend_UnknownEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.chain.Append(context.Background(), models.DeviceRef("ghost"), draft("v1"))
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.chain.Append(context.Background(), models.EntityRef{Kind: "toaster", ID: "x"}, draft("v1"))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestAppend_LinkConflictIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	f.m.Store.FailOn("versions.LinkNext", v1.ID, fmt.Errorf("%w: lost race", common.ErrStorageIntegrity))

	_, err = f.chain.Append(ctx, ref, draft("v2"))
	require.ErrorIs(t, err, common.ErrStorageIntegrity)
}

func TestRollback_ThenAdvanceAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, d, draft("1.0"))
	require.NoError(t, err)
	v2, err := f.chain.Append(ctx, d, draft("1.1"))
	require.NoError(t, err)

	got, err := f.chain.Rollback(ctx, d, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)
	assert.Equal(t, v1.ID, *f.current(t, d))
	assert.Equal(t, v2.ID, *f.version(t, v1.ID).NextID, "rollback must not touch the chain")

	got, err = f.chain.Rollback(ctx, d, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)

	upToDate, err := f.chain.IsUpToDate(ctx, d)
	require.NoError(t, err)
	assert.False(t, upToDate)

	steps, err := f.chain.AdvanceToLatest(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
	assert.Equal(t, v2.ID, *f.current(t, d))
}

func TestAppend_AfterRollbackLinksAfterHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("1.0"))
	require.NoError(t, err)
	v2, err := f.chain.Append(ctx, ref, draft("1.1"))
	require.NoError(t, err)
	_, err = f.chain.Rollback(ctx, ref, v1.ID)
	require.NoError(t, err)

	v3, err := f.chain.Append(ctx, ref, draft("1.2"))
	require.NoError(t, err)
	require.NotNil(t, v3.PreviousID)
	assert.Equal(t, v2.ID, *v3.PreviousID)
	assert.Equal(t, v3.ID, *f.version(t, v2.ID).NextID)
	assert.Equal(t, v2.ID, *f.version(t, v1.ID).NextID)
	assert.Equal(t, v3.ID, *f.current(t, ref))

	ok, err := f.chain.IsUpToDate(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppend_ChainWithoutHeadIsCorrupted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	v1, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	f.m.Store.ForceNext(v1.ID, v1.ID)

	_, err = f.chain.Append(ctx, ref, draft("v2"))
	require.ErrorIs(t, err, common.ErrChainCorrupted)
	assert.Equal(t, 1, f.m.Store.VersionCount())
}

func TestIsUpToDate_TakesNoLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.device(t, "d-1", true)

	_, err := f.chain.Append(ctx, ref, draft("v1"))
	require.NoError(t, err)
	f.m.Store.FailOn("devices.LockState", ref.ID, errors.New("row is locked"))

	ok, err := f.chain.IsUpToDate(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRollback_ForeignVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.device(t, "d-1", true)
	d2 := f.device(t, "d-2", true)

	foreign, err := f.chain.Append(ctx, d2, draft("other"))
	require.NoError(t, err)
	_, err = f.chain.Append(ctx, d1, draft("mine"))
	require.NoError(t, err)

	_, err = f.chain.Rollback(ctx, d1, foreign.ID)
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = f.chain.Rollback(ctx, d1, "missing")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestChainsAreIndependentPerEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d1 := f.device(t, "d-1", true)
	d2 := f.device(t, "d-2", true)

	a, err := f.chain.Append(ctx, d1, draft("a"))
	require.NoError(t, err)
	b, err := f.chain.Append(ctx, d2, draft("b"))
	require.NoError(t, err)

	assert.Nil(t, b.PreviousID)
	assert.True(t, f.version(t, a.ID).IsHead())
}
