package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore wires a Store's sqlx handle to a go-sqlmock-backed
// database/sql.DB so GetTarget/ListTargets can be driven without a live
// Postgres instance. The pgx pool is left nil: these two read paths are the
// ones this package routes through sqlx rather than pgx (store.go's Open
// doc comment explains why both handles exist).
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestGetTargetScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	scopeJSON := []byte(`{"entries":[{"kind":"dns_suffix","value":"example.com"}]}`)

	rows := sqlmock.NewRows([]string{"id", "display_name", "root_domain", "scope", "created_at", "updated_at"}).
		AddRow("tgt-1", "Example Co", "example.com", scopeJSON, now, now)
	mock.ExpectQuery("SELECT id, display_name, root_domain, scope, created_at, updated_at FROM targets WHERE id=\\$1").
		WithArgs("tgt-1").
		WillReturnRows(rows)

	got, err := s.GetTarget(context.Background(), "tgt-1")
	require.NoError(t, err)
	assert.Equal(t, "tgt-1", got.ID)
	assert.Equal(t, "Example Co", got.DisplayName)
	assert.Equal(t, "example.com", got.RootDomain)
	require.Len(t, got.Scope.Entries, 1)
	assert.Equal(t, "example.com", got.Scope.Entries[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, display_name, root_domain, scope, created_at, updated_at FROM targets WHERE id=\\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "root_domain", "scope", "created_at", "updated_at"}))

	_, err := s.GetTarget(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTargetsOrdersByCreatedAt(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "display_name", "root_domain", "scope", "created_at", "updated_at"}).
		AddRow("tgt-1", "A", "a.example.com", []byte(`{"entries":[]}`), now, now).
		AddRow("tgt-2", "B", "b.example.com", []byte(`{"entries":[]}`), now.Add(time.Minute), now.Add(time.Minute))
	mock.ExpectQuery("SELECT id, display_name, root_domain, scope, created_at, updated_at FROM targets ORDER BY created_at").
		WillReturnRows(rows)

	got, err := s.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tgt-1", got[0].ID)
	assert.Equal(t, "tgt-2", got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
