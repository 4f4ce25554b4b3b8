package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/fleetkeeper/internal/checksum"
	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceService_Create_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.devices.Create(ctx, "u1", "   ", nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.Create(ctx, "u1", strings.Repeat("n", common.MaxNameLength+1), nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	long := strings.Repeat("a", common.MaxAddressLength+1)
	_, err = f.devices.Create(ctx, "u1", "sensor", &long)
	assert.ErrorIs(t, err, common.ErrValidation)

	for _, bad := range []string{"not an address", "10.0.0.7:99999", "http://10.0.0.7"} {
		_, err = f.devices.Create(ctx, "u1", "sensor", &bad)
		assert.ErrorIs(t, err, common.ErrValidation, bad)
	}

	addr := " 10.0.0.7 "
	d, err := f.devices.Create(ctx, "u1", " sensor ", &addr)
	require.NoError(t, err)
	assert.Equal(t, "sensor", d.Name)
	require.NotNil(t, d.Address)
	assert.Equal(t, "10.0.0.7", *d.Address)
	assert.True(t, d.Active)
	assert.Nil(t, d.CurrentVersionID)
}

func TestDeviceService_UploadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	v1, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "content"))
	require.NoError(t, err)

	want, err := checksum.Compute(bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	assert.Equal(t, want, v1.Digest)
	assert.Equal(t, models.DeviceRef(d.ID), v1.Entity)
	assert.Nil(t, v1.PreviousID)
	assert.Equal(t, "u1", v1.CreatorID)

	upToDate, err := f.devices.IsUpToDate(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.True(t, upToDate)

	v2, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v2", upload("fw.bin", "content2"))
	require.NoError(t, err)
	require.NotNil(t, v2.PreviousID)
	assert.Equal(t, v1.ID, *v2.PreviousID)
	assert.Equal(t, &v2.ID, f.current(t, d.ID))

	_, err = f.devices.Rollback(ctx, "u1", d.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, &v1.ID, f.current(t, d.ID))

	upToDate, err = f.devices.IsUpToDate(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.False(t, upToDate)

	st, err := f.devices.Get(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.False(t, st.UpToDate)

	updated, steps, err := f.devices.AdvanceToLatest(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
	require.NotNil(t, updated.CurrentVersionID)
	assert.Equal(t, v2.ID, *updated.CurrentVersionID)

	_, steps, err = f.devices.AdvanceToLatest(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, steps)

	list, err := f.devices.ListVersions(ctx, "u1", d.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, v2.ID, list[0].ID)
	assert.Equal(t, v1.ID, list[1].ID)

	keys := f.blobs.keys()
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, d.ID+"/"), k)
		assert.True(t, strings.HasSuffix(k, "_fw.bin"), k)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.UploadsTotal.WithLabelValues("device", "success")))
	assert.Equal(t, float64(len("content")+len("content2")), testutil.ToFloat64(f.metrics.UploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AdvanceSteps))
}

func TestDeviceService_Rollback_ForeignVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.device(t, "u1", "D1")
	d2 := f.device(t, "u1", "D2")

	v, err := f.devices.UploadVersion(ctx, "u1", d2.ID, "v1", upload("fw.bin", "x"))
	require.NoError(t, err)

	_, err = f.devices.Rollback(ctx, "u1", d1.ID, v.ID)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.Rollback(ctx, "u1", d1.ID, "missing")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestDeviceService_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	_, err := f.devices.Get(ctx, "u2", d.ID)
	assert.ErrorIs(t, err, common.ErrPermission)

	_, err = f.devices.UploadVersion(ctx, "u2", d.ID, "v1", upload("fw.bin", "x"))
	assert.ErrorIs(t, err, common.ErrPermission)
	assert.Empty(t, f.blobs.keys())

	_, err = f.devices.Rename(ctx, "u2", d.ID, "mine")
	assert.ErrorIs(t, err, common.ErrPermission)

	_, _, err = f.devices.AdvanceToLatest(ctx, "u2", d.ID)
	assert.ErrorIs(t, err, common.ErrPermission)

	assert.ErrorIs(t, f.devices.Deactivate(ctx, "u2", d.ID), common.ErrPermission)

	list, err := f.devices.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeviceService_Deactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	require.NoError(t, f.devices.Deactivate(ctx, "u1", d.ID))
	require.NoError(t, f.devices.Deactivate(ctx, "u1", d.ID))

	_, err := f.devices.Get(ctx, "u1", d.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "x"))
	assert.ErrorIs(t, err, common.ErrorNotFound)

	list, err := f.devices.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.devices.Deactivate(ctx, "u1", "missing"), common.ErrorNotFound)
}

func TestDeviceService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := "10.0.0.1"
	d, err := f.devices.Create(ctx, "u1", "D1", &addr)
	require.NoError(t, err)

	renamed, err := f.devices.Rename(ctx, "u1", d.ID, "D1-renamed")
	require.NoError(t, err)
	assert.Equal(t, "D1-renamed", renamed.Name)
	require.NotNil(t, renamed.Address)

	cleared, err := f.devices.SetAddress(ctx, "u1", d.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.Address)
	assert.Equal(t, "D1-renamed", cleared.Name)

	_, err = f.devices.Rename(ctx, "u1", d.ID, "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestDeviceService_List_UpToDateFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.device(t, "u1", "D1")
	d2 := f.device(t, "u1", "D2")

	v1, err := f.devices.UploadVersion(ctx, "u1", d1.ID, "v1", upload("a", "1"))
	require.NoError(t, err)
	_, err = f.devices.UploadVersion(ctx, "u1", d1.ID, "v2", upload("a", "2"))
	require.NoError(t, err)
	_, err = f.devices.Rollback(ctx, "u1", d1.ID, v1.ID)
	require.NoError(t, err)

	list, err := f.devices.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	flags := map[string]bool{}
	for _, st := range list {
		flags[st.Device.ID] = st.UpToDate
	}
	assert.False(t, flags[d1.ID])
	assert.True(t, flags[d2.ID])
}

func TestDeviceService_UploadVersion_BadPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	_, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", ""))
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v1", models.Upload{FileName: "fw.bin"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("", "x"))
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "", upload("fw.bin", "x"))
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v1", models.Upload{FileName: "fw.bin", Body: failingReader{}})
	assert.ErrorIs(t, err, common.ErrIO)

	f.payloads.maxSize = 4
	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "12345"))
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.Empty(t, f.blobs.keys())
	assert.Equal(t, 0, f.m.Store.VersionCount())
	assert.Nil(t, f.current(t, d.ID))
}

func TestDeviceService_UploadVersion_StorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")
	f.blobs.putErr = common.ErrIO

	_, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "x"))
	assert.ErrorIs(t, err, common.ErrIO)
	assert.Equal(t, 0, f.m.Store.VersionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UploadsTotal.WithLabelValues("device", "error")))
}

func TestDeviceService_UploadVersion_TxFailureDiscardsBlob(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	f := newFixtureWithDB(t, db)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	mock.ExpectBegin()
	mock.ExpectRollback()
	f.m.Store.FailOn("versions.Create", d.ID, common.ErrStorageIntegrity)

	_, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "x"))
	require.ErrorIs(t, err, common.ErrStorageIntegrity)

	assert.Empty(t, f.blobs.keys())
	assert.Len(t, f.blobs.deleted, 1)
	assert.Nil(t, f.current(t, d.ID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceService_UploadVersion_FailureKeepsChainIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	v1, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "1"))
	require.NoError(t, err)

	f.m.Store.FailOn("devices.SetCurrent", d.ID, errBoom{})
	_, err = f.devices.UploadVersion(ctx, "u1", d.ID, "v2", upload("fw.bin", "2"))
	require.ErrorIs(t, err, errBoom{})

	assert.Equal(t, &v1.ID, f.current(t, d.ID))
	assert.Equal(t, 1, f.m.Store.VersionCount())
	assert.Equal(t, 1, f.m.Store.PayloadCount())
	stored, err := f.m.Versions(nil).Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsHead())
	assert.Len(t, f.blobs.keys(), 1)

	f.m.Store.FailOn("devices.SetCurrent", d.ID, nil)
	v3, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v3", upload("fw.bin", "3"))
	require.NoError(t, err)
	assert.Equal(t, v1.ID, *v3.PreviousID)
}

func TestDeviceService_UploadAfterRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	v1, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "1"))
	require.NoError(t, err)
	v2, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v2", upload("fw.bin", "2"))
	require.NoError(t, err)
	_, err = f.devices.Rollback(ctx, "u1", d.ID, v1.ID)
	require.NoError(t, err)

	v3, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v3", upload("fw.bin", "3"))
	require.NoError(t, err)
	assert.Equal(t, v2.ID, *v3.PreviousID)
	assert.Equal(t, &v3.ID, f.current(t, d.ID))

	upToDate, err := f.devices.IsUpToDate(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.True(t, upToDate)

	list, err := f.devices.ListVersions(ctx, "u1", d.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	heads := 0
	for _, v := range list {
		if v.IsHead() {
			heads++
			assert.Equal(t, v3.ID, v.ID)
		}
	}
	assert.Equal(t, 1, heads)
}

func TestDeviceService_DeleteFailureIsLoggedOnly(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	f := newFixtureWithDB(t, db)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	mock.ExpectBegin()
	mock.ExpectRollback()
	f.m.Store.FailOn("devices.SetCurrent", d.ID, errBoom{})
	f.blobs.deleteErr = common.ErrIO

	_, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "x"))
	require.ErrorIs(t, err, errBoom{})
	assert.Len(t, f.blobs.deleted, 1)
}

func TestPayloadService_DownloadURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "u1", "D1")

	v, err := f.devices.UploadVersion(ctx, "u1", d.ID, "v1", upload("fw.bin", "x"))
	require.NoError(t, err)

	url, err := f.payloads.DownloadURL(ctx, "u1", v.ID)
	require.NoError(t, err)
	assert.Contains(t, url, d.ID+"/")
	assert.Contains(t, url, "name=fw.bin")

	_, err = f.payloads.DownloadURL(ctx, "u2", v.ID)
	assert.ErrorIs(t, err, common.ErrPermission)

	_, err = f.payloads.DownloadURL(ctx, "u1", "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "fw.bin", want: "fw.bin"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\firmware\fw.bin`, want: "fw.bin"},
		{in: "  ", wantErr: true},
		{in: "dir/", want: "dir"},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanFileName(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
