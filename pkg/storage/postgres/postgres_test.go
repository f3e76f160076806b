package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/registry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db), mock
}

func TestStore_GetPackage(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT name, dist_tags, created_at, updated_at FROM package").
		WithArgs("widgets").
		WillReturnRows(sqlmock.NewRows([]string{"name", "dist_tags", "created_at", "updated_at"}).
			AddRow("widgets", []byte(`{"latest":"1.0.0"}`), int64(1000), int64(2000)))

	mock.ExpectQuery("SELECT package, version, tag, manifest, created_at FROM package_release").
		WithArgs("widgets").
		WillReturnRows(sqlmock.NewRows([]string{"package", "version", "tag", "manifest", "created_at"}).
			AddRow("widgets", "1.0.0", "latest", []byte(`{"name":"widgets"}`), int64(1000)))

	pkg, releases, err := store.GetPackage(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", pkg.Name)
	assert.Equal(t, map[string]string{"latest": "1.0.0"}, pkg.DistTags)
	require.Len(t, releases, 1)
	assert.Equal(t, "1.0.0", releases[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetPackage_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT name, dist_tags, created_at, updated_at FROM package").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "dist_tags", "created_at", "updated_at"}))

	_, _, err := store.GetPackage(context.Background(), "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertPackage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO package").
		WithArgs("widgets", []byte(`{"latest":"1.0.0"}`), int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertPackage(context.Background(), "widgets", map[string]string{"latest": "1.0.0"}, 1000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRelease_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	release := &registry.Release{
		Package:   "widgets",
		Version:   "1.0.0",
		Tag:       "latest",
		Manifest:  json.RawMessage(`{}`),
		CreatedAt: 1000,
	}

	mock.ExpectExec("INSERT INTO package_release").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateRelease(context.Background(), release)
	assert.ErrorIs(t, err, registry.ErrVersionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRelease_OtherError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO package_release").
		WillReturnError(errors.New("connection reset"))

	err := store.CreateRelease(context.Background(), &registry.Release{Manifest: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, registry.ErrVersionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetToken(t *testing.T) {
	store, mock := newMockStore(t)

	scopes := []byte(`[{"type":"package:read","values":["widgets"]}]`)
	mock.ExpectQuery("SELECT token, name, scopes, created_at, updated_at FROM token").
		WithArgs("satchel_abc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "name", "scopes", "created_at", "updated_at"}).
			AddRow("satchel_abc", "ci", scopes, int64(1000), int64(1000)))

	token, err := store.GetToken(context.Background(), "satchel_abc")
	require.NoError(t, err)
	assert.Equal(t, "ci", token.Name)
	require.Len(t, token.Scopes, 1)
	assert.Equal(t, auth.ScopePackageRead, token.Scopes[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetToken_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT token, name, scopes, created_at, updated_at FROM token").
		WithArgs("satchel_missing").
		WillReturnRows(sqlmock.NewRows([]string{"token", "name", "scopes", "created_at", "updated_at"}))

	_, err := store.GetToken(context.Background(), "satchel_missing")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateToken(t *testing.T) {
	store, mock := newMockStore(t)

	token := &auth.Token{
		Secret:    "satchel_abc",
		Name:      "ci",
		Scopes:    []auth.Grant{{Type: auth.ScopeTokenRead, Values: []string{"*"}}},
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}

	mock.ExpectExec("INSERT INTO token").
		WithArgs("satchel_abc", "ci", []byte(`[{"type":"token:read","values":["*"]}]`), int64(1000), int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateToken(context.Background(), token))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM token").
		WithArgs("satchel_abc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Zero rows affected is still success
	assert.NoError(t, store.DeleteToken(context.Background(), "satchel_abc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListTokens(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT token, name, scopes, created_at, updated_at FROM token").
		WillReturnRows(sqlmock.NewRows([]string{"token", "name", "scopes", "created_at", "updated_at"}).
			AddRow("satchel_a", "one", []byte(`[]`), int64(1), int64(1)).
			AddRow("satchel_b", "two", []byte(`[]`), int64(2), int64(2)))

	tokens, err := store.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
