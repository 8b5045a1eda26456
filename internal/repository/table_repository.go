package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/models"
)

// stageTable is the temp table incremental batches are staged in before the upsert.
const stageTable = "pgtransfer_stage"

type BatchQuery struct {
	Table   TableRef
	Columns []string
	// ColumnTypes holds the udt_name of each column, parallel to Columns.
	ColumnTypes []string
	// KeyColumns enables keyset pagination; After holds the last key of the previous page.
	KeyColumns []string
	After      []any
	// Offset is used when there is no key. OrderByCTID breaks ties on plain tables.
	Offset      int64
	OrderByCTID bool
	Limit       int
	Filter      *Filter
}

type Batch struct {
	Rows    [][]any
	LastKey []any
}

type BatchWrite struct {
	Table   TableRef
	Columns []string
	Rows    [][]any
	// UpsertKeys switches from COPY-append to staged INSERT ... ON CONFLICT.
	UpsertKeys []string
}

// TableRepository is what a transfer needs from either side of the copy.
type TableRepository interface {
	Ping(ctx context.Context) error
	TableExists(ctx context.Context, t TableRef) (bool, error)
	Columns(ctx context.Context, t TableRef) ([]models.ColumnInfo, error)
	PrimaryKey(ctx context.Context, t TableRef) ([]string, error)
	Kind(ctx context.Context, t TableRef) (models.TableKind, error)
	CountRows(ctx context.Context, t TableRef, f *Filter) (int64, error)
	EnsureSchema(ctx context.Context, schema string) error
	CreateTable(ctx context.Context, t TableRef, columns []models.ColumnInfo, pk []string) error
	Truncate(ctx context.Context, t TableRef) error
	FetchBatch(ctx context.Context, q BatchQuery) (Batch, error)
	WriteBatch(ctx context.Context, w BatchWrite) (int64, error)
	Close() error
}

type tableRepository struct {
	db *sql.DB
}

func NewTableRepository(db *sql.DB) TableRepository {
	return &tableRepository{db: db}
}

func (r *tableRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *tableRepository) Close() error {
	return r.db.Close()
}

func (r *tableRepository) TableExists(ctx context.Context, t TableRef) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, t.Schema, t.Name).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check table %s", t)
	}
	return exists, nil
}

func (r *tableRepository) Columns(ctx context.Context, t TableRef) ([]models.ColumnInfo, error) {
	return listColumns(ctx, r.db, t)
}

func (r *tableRepository) PrimaryKey(ctx context.Context, t TableRef) ([]string, error) {
	return primaryKey(ctx, r.db, t)
}

func (r *tableRepository) Kind(ctx context.Context, t TableRef) (models.TableKind, error) {
	const query = `
		SELECT table_type FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	`
	var tableType string
	err := r.db.QueryRowContext(ctx, query, t.Schema, t.Name).Scan(&tableType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.Wrapf(ErrTableNotFound, "%s", t)
		}
		return "", errors.Wrapf(err, "look up %s", t)
	}
	if tableType == "VIEW" {
		return models.TableKindView, nil
	}
	return models.TableKindTable, nil
}

func (r *tableRepository) CountRows(ctx context.Context, t TableRef, f *Filter) (int64, error) {
	query, args := countQuery(t, f)
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count rows of %s", t)
	}
	return n, nil
}

func (r *tableRepository) EnsureSchema(ctx context.Context, schema string) error {
	if _, err := r.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return errors.Wrapf(err, "create schema %s", schema)
	}
	return nil
}

func (r *tableRepository) CreateTable(ctx context.Context, t TableRef, columns []models.ColumnInfo, pk []string) error {
	if _, err := r.db.ExecContext(ctx, CreateTableDDL(t, columns, pk)); err != nil {
		return errors.Wrapf(err, "create table %s", t)
	}
	return nil
}

func (r *tableRepository) Truncate(ctx context.Context, t TableRef) error {
	if _, err := r.db.ExecContext(ctx, "TRUNCATE TABLE "+t.quoted()); err != nil {
		return errors.Wrapf(err, "truncate %s", t)
	}
	return nil
}

func (r *tableRepository) FetchBatch(ctx context.Context, q BatchQuery) (Batch, error) {
	if len(q.Columns) == 0 {
		return Batch{}, errors.Errorf("fetch from %s: no columns", q.Table)
	}
	query, args := batchQuery(q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Batch{}, errors.Wrapf(err, "read batch from %s", q.Table)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return Batch{}, errors.Wrap(err, "column types")
	}
	binary := make([]bool, len(types))
	for i, ct := range types {
		binary[i] = strings.EqualFold(ct.DatabaseTypeName(), "BYTEA")
	}

	keyIdx := make([]int, 0, len(q.KeyColumns))
	for _, k := range q.KeyColumns {
		for i, c := range q.Columns {
			if c == k {
				keyIdx = append(keyIdx, i)
				break
			}
		}
	}

	batch := Batch{Rows: make([][]any, 0, q.Limit)}
	for rows.Next() {
		vals := make([]any, len(q.Columns))
		ptrs := make([]any, len(q.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Batch{}, errors.Wrapf(err, "scan row from %s", q.Table)
		}
		// lib/pq hands text-like values back as []byte; COPY would encode those as bytea.
		for i, v := range vals {
			if b, ok := v.([]byte); ok && !binary[i] {
				vals[i] = string(b)
			}
		}
		batch.Rows = append(batch.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, errors.Wrapf(err, "read batch from %s", q.Table)
	}

	if n := len(batch.Rows); n > 0 && len(keyIdx) > 0 {
		last := batch.Rows[n-1]
		batch.LastKey = make([]any, len(keyIdx))
		for i, idx := range keyIdx {
			batch.LastKey[i] = last[idx]
		}
	}
	return batch, nil
}

// WriteBatch applies one batch in a single transaction.
func (r *tableRepository) WriteBatch(ctx context.Context, w BatchWrite) (int64, error) {
	if len(w.Rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin batch transaction")
	}
	defer tx.Rollback()

	if len(w.UpsertKeys) > 0 {
		stage := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pq.QuoteIdentifier(stageTable), w.Table.quoted())
		if _, err := tx.ExecContext(ctx, stage); err != nil {
			return 0, errors.Wrap(err, "create staging table")
		}
		if err := copyRows(ctx, tx, pq.CopyIn(stageTable, w.Columns...), w.Rows); err != nil {
			return 0, errors.Wrap(err, "copy into staging table")
		}
		if _, err := tx.ExecContext(ctx, upsertQuery(w.Table, stageTable, w.Columns, w.UpsertKeys)); err != nil {
			return 0, errors.Wrapf(err, "upsert into %s", w.Table)
		}
	} else {
		if err := copyRows(ctx, tx, pq.CopyInSchema(w.Table.Schema, w.Table.Name, w.Columns...), w.Rows); err != nil {
			return 0, errors.Wrapf(err, "copy into %s", w.Table)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit batch")
	}
	return int64(len(w.Rows)), nil
}

func copyRows(ctx context.Context, tx *sql.Tx, copyStmt string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, copyStmt)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	return stmt.Close()
}
