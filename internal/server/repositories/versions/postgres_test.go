package versions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var versionColumns = []string{"id", "name", "payload_id", "digest", "creator_id", "entity_kind", "entity_id", "previous_id", "next_id", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func strPtr(s string) *string { return &s }

func TestCreate_PassesAllColumns(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := &models.Version{
		ID:         "v-2",
		Name:       "fw 1.1",
		PayloadID:  strPtr("p-1"),
		Digest:     []byte{1, 2, 3},
		CreatorID:  "u-1",
		Entity:     models.DeviceRef("d-1"),
		PreviousID: strPtr("v-1"),
		CreatedAt:  at,
	}

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+versions\s*\(id,\s*name,\s*payload_id,\s*digest,\s*creator_id,\s*entity_kind,\s*entity_id,\s*previous_id,\s*created_at\)`).
		WithArgs("v-2", "fw 1.1", "p-1", []byte{1, 2, 3}, "u-1", "device", "d-1", "v-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_FirstVersionHasNullPrevious(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`INSERT\s+INTO\s+versions`).
		WithArgs("v-1", "fw", nil, []byte(nil), "u-1", "group", "g-1", nil, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Version{
		ID: "v-1", Name: "fw", CreatorID: "u-1", Entity: models.GroupRef("g-1"), CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestCreate_UniquePreviousViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+versions`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "versions_previous_id_key"})

	err := repo.Create(context.Background(), &models.Version{ID: "v-3", Entity: models.DeviceRef("d-1")})
	assert.ErrorIs(t, err, common.ErrStorageIntegrity)
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	rows := sqlmock.NewRows(versionColumns).
		AddRow("v-1", "fw", "p-1", []byte{9}, "u-1", "device", "d-1", nil, "v-2", at)
	mock.ExpectQuery(`SELECT\s+id,.*FROM\s+versions\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("v-1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", got.ID)
	assert.Equal(t, models.DeviceRef("d-1"), got.Entity)
	require.NotNil(t, got.PayloadID)
	assert.Equal(t, "p-1", *got.PayloadID)
	assert.Nil(t, got.PreviousID)
	require.NotNil(t, got.NextID)
	assert.Equal(t, "v-2", *got.NextID)
	assert.False(t, got.IsHead())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+versions`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestHead(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectQuery(`(?s)FROM\s+versions\s+WHERE\s+entity_kind\s*=\s*\$1\s+AND\s+entity_id\s*=\s*\$2\s+AND\s+next_id\s+IS\s+NULL`).
		WithArgs("device", "d-1").
		WillReturnRows(sqlmock.NewRows(versionColumns).
			AddRow("v-3", "fw 3", nil, nil, "u-1", "device", "d-1", "v-2", nil, at))

	got, err := repo.Head(context.Background(), models.DeviceRef("d-1"))
	require.NoError(t, err)
	assert.Equal(t, "v-3", got.ID)
	assert.True(t, got.IsHead())

	mock.ExpectQuery(`FROM\s+versions`).
		WithArgs("group", "g-1").
		WillReturnRows(sqlmock.NewRows(versionColumns))

	_, err = repo.Head(context.Background(), models.GroupRef("g-1"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkNext(t *testing.T) {
	const q = `(?s)UPDATE\s+versions\s+SET\s+next_id\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s+AND\s+next_id\s+IS\s+NULL`

	t.Run("links head", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs("v-1", "v-2").WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.LinkNext(context.Background(), "v-1", "v-2"))
	})

	t.Run("already linked", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs("v-1", "v-3").WillReturnResult(sqlmock.NewResult(0, 0))
		err := repo.LinkNext(context.Background(), "v-1", "v-3")
		assert.ErrorIs(t, err, common.ErrStorageIntegrity)
	})

	t.Run("driver error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs("v-1", "v-3").WillReturnError(errors.New("conn reset"))
		err := repo.LinkNext(context.Background(), "v-1", "v-3")
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrStorageIntegrity)
	})
}

func TestListByEntity_NewestFirst(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)
	rows := sqlmock.NewRows(versionColumns).
		AddRow("v-2", "fw 2", nil, nil, "u-1", "group", "g-1", "v-1", nil, t2).
		AddRow("v-1", "fw 1", nil, nil, "u-1", "group", "g-1", nil, "v-2", t1)
	mock.ExpectQuery(`(?s)FROM\s+versions\s+WHERE\s+entity_kind\s*=\s*\$1\s+AND\s+entity_id\s*=\s*\$2\s+ORDER\s+BY\s+created_at\s+DESC`).
		WithArgs("group", "g-1").
		WillReturnRows(rows)

	got, err := repo.ListByEntity(context.Background(), models.GroupRef("g-1"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v-2", got[0].ID)
	assert.True(t, got[0].IsHead())
	assert.Equal(t, "v-1", got[1].ID)
	assert.Equal(t, models.KindGroup, got[1].Entity.Kind)
}

func TestListByEntity_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+versions`).WillReturnError(errors.New("boom"))

	_, err := repo.ListByEntity(context.Background(), models.DeviceRef("d-1"))
	assert.ErrorContains(t, err, "db error")
}
