package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct {
	db      *sql.DB
	err     error
	profile models.ConnectionProfile
}

func (d *fakeDialer) Dial(ctx context.Context, p models.ConnectionProfile) (*sql.DB, error) {
	d.profile = p
	if d.err != nil {
		return nil, d.err
	}
	return d.db, nil
}

func newMetadataHandler(t *testing.T) (*MetadataHandler, sqlmock.Sqlmock, *fakeDialer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	d := &fakeDialer{db: db}
	return NewMetadataHandler(d, time.Second, zerolog.Nop()), mock, d
}

const profileBody = `{"host": "db.internal", "database": "sales", "user": "etl", "password": "pw"}`

func TestMetadataHandler_ListSchemas(t *testing.T) {
	h, mock, dialer := newMetadataHandler(t)
	mock.ExpectQuery("FROM pg_catalog.pg_namespace").
		WillReturnRows(sqlmock.NewRows([]string{"nspname", "description"}).AddRow("public", nil))

	rec, out := serve(t, h.ListSchemas, http.MethodPost, "/database/schemas", profileBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{map[string]any{"schema_name": "public"}}, out["schemas"])
	assert.Equal(t, 5432, dialer.profile.Port)
	assert.Equal(t, models.SSLModePrefer, dialer.profile.SSLMode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataHandler_ListTablesDefaultsToPublic(t *testing.T) {
	h, mock, _ := newMetadataHandler(t)
	mock.ExpectQuery("FROM pg_catalog.pg_class").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "kind", "reltuples", "ncols"}).
			AddRow("orders", "table", int64(10), int64(3)))

	rec, out := serve(t, h.ListTables, http.MethodPost, "/database/tables", profileBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	tables := out["tables"].([]any)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].(map[string]any)["table_name"])
	assert.Equal(t, "table", tables[0].(map[string]any)["table_type"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataHandler_TableInfoNotFound(t *testing.T) {
	h, mock, _ := newMetadataHandler(t)
	mock.ExpectQuery("FROM pg_catalog.pg_class").
		WithArgs("sales", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "kind", "reltuples", "ncols"}))

	rec, out := serve(t, h.TableInfo, http.MethodPost, "/database/table-info?schema_name=sales&table_name=ghost", profileBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["detail"], "sales.ghost")
}

func TestMetadataHandler_TableInfoRequiresName(t *testing.T) {
	h, _, _ := newMetadataHandler(t)
	rec, out := serve(t, h.TableInfo, http.MethodPost, "/database/table-info", profileBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "table_name is required", out["detail"])
}

func TestMetadataHandler_InvalidProfile(t *testing.T) {
	h, _, dialer := newMetadataHandler(t)
	rec, out := serve(t, h.ListSchemas, http.MethodPost, "/database/schemas", `{"host": "db", "database": "sales"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user is required", out["detail"])
	assert.Empty(t, dialer.profile.Host, "no dial on invalid input")
}

func TestMetadataHandler_Unreachable(t *testing.T) {
	h, _, dialer := newMetadataHandler(t)
	dialer.err = &database.ConnectionError{Target: "etl@db.internal:5432/sales", Err: errors.New("i/o timeout")}

	rec, out := serve(t, h.ListSchemas, http.MethodPost, "/database/schemas", profileBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["detail"], "Database connection failed")
	assert.Contains(t, out["detail"], "i/o timeout")
	assert.NotContains(t, out["detail"], "pw")
}

func TestHealthCheck(t *testing.T) {
	rec, out := serve(t, HealthCheck, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
	_, err := time.Parse(time.RFC3339, out["timestamp"].(string))
	assert.NoError(t, err)
}

func TestRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(""))
	rec := httptest.NewRecorder()
	Root(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "message")
}
