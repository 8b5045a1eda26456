package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
)

// MetadataHandler introspects whatever database the request body points at.
// Nothing is cached, each call dials afresh.
type MetadataHandler struct {
	dialer       database.Dialer
	queryTimeout time.Duration
	logger       zerolog.Logger
}

func NewMetadataHandler(dialer database.Dialer, queryTimeout time.Duration, logger zerolog.Logger) *MetadataHandler {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &MetadataHandler{
		dialer:       dialer,
		queryTimeout: queryTimeout,
		logger:       logger.With().Str("component", "metadata_handler").Logger(),
	}
}

func (h *MetadataHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	h.withCatalog(w, r, func(ctx context.Context, catalog repository.CatalogRepository) {
		schemas, err := catalog.ListSchemas(ctx)
		if err != nil {
			h.fail(w, err, "Failed to list schemas")
			return
		}
		writeJSON(w, http.StatusOK, models.SchemasResponse{Schemas: schemas})
	})
}

func (h *MetadataHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	schema := queryOr(r, "schema_name", models.DefaultSchema)
	h.withCatalog(w, r, func(ctx context.Context, catalog repository.CatalogRepository) {
		tables, err := catalog.ListTables(ctx, schema)
		if err != nil {
			h.fail(w, err, "Failed to list tables")
			return
		}
		writeJSON(w, http.StatusOK, models.TablesResponse{Tables: tables})
	})
}

func (h *MetadataHandler) TableInfo(w http.ResponseWriter, r *http.Request) {
	schema := queryOr(r, "schema_name", models.DefaultSchema)
	table := strings.TrimSpace(r.URL.Query().Get("table_name"))
	if table == "" {
		writeError(w, http.StatusBadRequest, "table_name is required")
		return
	}
	h.withCatalog(w, r, func(ctx context.Context, catalog repository.CatalogRepository) {
		detail, err := catalog.DescribeTable(ctx, schema, table)
		if err != nil {
			h.fail(w, err, "Failed to get table info")
			return
		}
		writeJSON(w, http.StatusOK, detail)
	})
}

// withCatalog decodes the profile, dials it and runs fn under the query timeout.
func (h *MetadataHandler) withCatalog(w http.ResponseWriter, r *http.Request, fn func(context.Context, repository.CatalogRepository)) {
	var profile models.ConnectionProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	profile.Normalize("")
	if err := profile.Validate(""); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	db, err := h.dialer.Dial(ctx, profile)
	if err != nil {
		h.fail(w, err, "Database connection failed")
		return
	}
	defer db.Close()

	fn(ctx, repository.NewCatalogRepository(db))
}

func (h *MetadataHandler) fail(w http.ResponseWriter, err error, prefix string) {
	switch {
	case errors.Is(err, repository.ErrTableNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		if !errors.Is(err, database.ErrConnection) {
			h.logger.Error().Err(err).Msg(prefix)
		}
		writeError(w, http.StatusInternalServerError, prefix+": "+err.Error())
	}
}

func queryOr(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return v
	}
	return fallback
}
