package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/models"
)

var ErrTableNotFound = stderrors.New("table not found")

type CatalogRepository interface {
	ListSchemas(ctx context.Context) ([]models.SchemaInfo, error)
	ListTables(ctx context.Context, schema string) ([]models.TableInfo, error)
	DescribeTable(ctx context.Context, schema, table string) (models.TableDetail, error)
}

type catalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) ListSchemas(ctx context.Context) ([]models.SchemaInfo, error) {
	const query = `
		SELECT n.nspname, obj_description(n.oid, 'pg_namespace')
		FROM pg_catalog.pg_namespace n
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND n.nspname NOT LIKE 'pg_temp_%'
		  AND n.nspname NOT LIKE 'pg_toast_temp_%'
		ORDER BY n.nspname
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list schemas")
	}
	defer rows.Close()

	schemas := make([]models.SchemaInfo, 0)
	for rows.Next() {
		var (
			s    models.SchemaInfo
			desc sql.NullString
		)
		if err := rows.Scan(&s.Name, &desc); err != nil {
			return nil, errors.Wrap(err, "scan schema")
		}
		if desc.Valid {
			s.Description = &desc.String
		}
		schemas = append(schemas, s)
	}
	return schemas, errors.Wrap(rows.Err(), "list schemas")
}

const tablesQuery = `
	SELECT c.relname,
	       CASE WHEN c.relkind IN ('v', 'm') THEN 'view' ELSE 'table' END,
	       CASE WHEN c.relkind = 'v' OR c.reltuples < 0 THEN NULL ELSE c.reltuples::bigint END,
	       (SELECT count(*) FROM pg_catalog.pg_attribute a
	         WHERE a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped)
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1
	  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
`

func (r *catalogRepository) ListTables(ctx context.Context, schema string) ([]models.TableInfo, error) {
	rows, err := r.db.QueryContext(ctx, tablesQuery+" ORDER BY c.relname", schema)
	if err != nil {
		return nil, errors.Wrapf(err, "list tables in %s", schema)
	}
	defer rows.Close()

	tables := make([]models.TableInfo, 0)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, errors.Wrapf(rows.Err(), "list tables in %s", schema)
}

func (r *catalogRepository) DescribeTable(ctx context.Context, schema, table string) (models.TableDetail, error) {
	rows, err := r.db.QueryContext(ctx, tablesQuery+" AND c.relname = $2", schema, table)
	if err != nil {
		return models.TableDetail{}, errors.Wrapf(err, "describe %s.%s", schema, table)
	}
	var (
		info  models.TableInfo
		found bool
	)
	for rows.Next() {
		if info, err = scanTable(rows); err != nil {
			rows.Close()
			return models.TableDetail{}, err
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.TableDetail{}, errors.Wrapf(err, "describe %s.%s", schema, table)
	}
	if !found {
		return models.TableDetail{}, errors.Wrapf(ErrTableNotFound, "%s.%s", schema, table)
	}

	ref := TableRef{Schema: schema, Name: table}
	cols, err := listColumns(ctx, r.db, ref)
	if err != nil {
		return models.TableDetail{}, err
	}
	pk, err := primaryKey(ctx, r.db, ref)
	if err != nil {
		return models.TableDetail{}, err
	}
	return models.TableDetail{
		Schema:    schema,
		Name:      table,
		Kind:      info.Kind,
		RowCount:  info.RowCount,
		Columns:   cols,
		PKColumns: pk,
	}, nil
}

func scanTable(rows *sql.Rows) (models.TableInfo, error) {
	var (
		t     models.TableInfo
		kind  string
		est   sql.NullInt64
		ncols int
	)
	if err := rows.Scan(&t.Name, &kind, &est, &ncols); err != nil {
		return models.TableInfo{}, errors.Wrap(err, "scan table")
	}
	t.Kind = models.TableKind(kind)
	if est.Valid {
		t.RowCount = &est.Int64
	}
	t.ColumnCount = &ncols
	return t, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listColumns(ctx context.Context, db queryer, t TableRef) ([]models.ColumnInfo, error) {
	const query = `
		SELECT column_name, data_type, udt_name, is_nullable = 'YES', column_default,
		       character_maximum_length, numeric_precision, numeric_scale, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := db.QueryContext(ctx, query, t.Schema, t.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "list columns of %s", t)
	}
	defer rows.Close()

	cols := make([]models.ColumnInfo, 0)
	for rows.Next() {
		var (
			c                   models.ColumnInfo
			def                 sql.NullString
			maxLen, prec, scale sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.UDTName, &c.Nullable, &def, &maxLen, &prec, &scale, &c.Ordinal); err != nil {
			return nil, errors.Wrapf(err, "scan column of %s", t)
		}
		if def.Valid {
			c.Default = &def.String
		}
		c.MaxLength = nullInt(maxLen)
		c.Precision = nullInt(prec)
		c.Scale = nullInt(scale)
		cols = append(cols, c)
	}
	return cols, errors.Wrapf(rows.Err(), "list columns of %s", t)
}

func primaryKey(ctx context.Context, db queryer, t TableRef) ([]string, error) {
	const query = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = tc.constraint_schema
		 AND kcu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`
	rows, err := db.QueryContext(ctx, query, t.Schema, t.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "primary key of %s", t)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, errors.Wrapf(err, "scan primary key of %s", t)
		}
		pk = append(pk, col)
	}
	return pk, errors.Wrapf(rows.Err(), "primary key of %s", t)
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
