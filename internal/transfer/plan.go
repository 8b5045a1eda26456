package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
)

// plan is everything the copier and verifier derive from the source once.
type plan struct {
	source  repository.TableRef
	dest    repository.TableRef
	kind    models.TableKind
	columns []models.ColumnInfo
	names   []string
	types   []string
	// keys is the source primary key used for keyset pagination.
	keys   []string
	filter *repository.Filter
	// upsertKeys is set by prepareDestination when incremental batches can merge.
	upsertKeys []string
}

func newPlan(ctx context.Context, src repository.TableRepository, spec models.TransferSpec, now time.Time) (*plan, error) {
	p := &plan{
		source: repository.TableRef{Schema: spec.SourceSchema, Name: spec.SourceTable},
		dest:   repository.TableRef{Schema: spec.DestSchema, Name: spec.DestTable},
	}

	kind, err := src.Kind(ctx, p.source)
	if err != nil {
		return nil, err
	}
	p.kind = kind

	columns, err := src.Columns(ctx, p.source)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errors.Errorf("source %s has no columns", p.source)
	}
	p.columns = columns
	p.names = make([]string, len(columns))
	p.types = make([]string, len(columns))
	for i, c := range columns {
		p.names[i] = c.Name
		p.types[i] = c.UDTName
	}

	if kind == models.TableKindTable {
		if p.keys, err = src.PrimaryKey(ctx, p.source); err != nil {
			return nil, err
		}
	}

	var rng *models.DateRange
	switch spec.Mode {
	case models.TransferModeDaily:
		day := models.DayRange(now)
		rng = &day
	case models.TransferModeCustom:
		rng = spec.Range
	}
	if rng != nil {
		if !subset([]string{spec.DateColumn}, p.names) {
			return nil, errors.Errorf("date column %q not found in %s", spec.DateColumn, p.source)
		}
		upper, exclusive := rng.Upper()
		p.filter = &repository.Filter{Column: spec.DateColumn, From: rng.From, To: upper, ToExclusive: exclusive}
	}
	return p, nil
}

func (p *plan) batchQuery(limit int, after []any, offset int64) repository.BatchQuery {
	return repository.BatchQuery{
		Table:       p.source,
		Columns:     p.names,
		ColumnTypes: p.types,
		KeyColumns:  p.keys,
		After:       after,
		Offset:      offset,
		OrderByCTID: len(p.keys) == 0 && p.kind == models.TableKindTable,
		Limit:       limit,
		Filter:      p.filter,
	}
}

func estimate(ctx context.Context, src repository.TableRepository, p *plan) (int64, error) {
	n, err := src.CountRows(ctx, p.source, p.filter)
	if err != nil {
		return 0, errors.Wrap(err, "estimate rows")
	}
	return n, nil
}

// prepareDestination makes sure the destination table exists and can take the
// source projection. Full mode starts from an empty table.
func prepareDestination(ctx context.Context, dst repository.TableRepository, p *plan, spec models.TransferSpec, logf func(string)) error {
	if err := dst.EnsureSchema(ctx, p.dest.Schema); err != nil {
		return err
	}
	exists, err := dst.TableExists(ctx, p.dest)
	if err != nil {
		return err
	}

	if !exists {
		if err := dst.CreateTable(ctx, p.dest, p.columns, p.keys); err != nil {
			return err
		}
		logf("Created table " + p.dest.String())
	} else {
		existing, err := dst.Columns(ctx, p.dest)
		if err != nil {
			return err
		}
		have := make(map[string]struct{}, len(existing))
		for _, c := range existing {
			have[c.Name] = struct{}{}
		}
		var missing []string
		for _, n := range p.names {
			if _, ok := have[n]; !ok {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return errors.Wrapf(ErrSchemaMismatch, "%s is missing columns %s", p.dest, strings.Join(missing, ", "))
		}
		logf("Table " + p.dest.String() + " already exists")
	}

	if spec.Mode == models.TransferModeFull {
		if err := dst.Truncate(ctx, p.dest); err != nil {
			return err
		}
		logf("Cleared existing rows in " + p.dest.String())
		return nil
	}

	pk, err := dst.PrimaryKey(ctx, p.dest)
	if err != nil {
		return err
	}
	if len(pk) > 0 && subset(pk, p.names) {
		p.upsertKeys = pk
		logf("Merging rows on " + strings.Join(pk, ", "))
	} else {
		logf("Destination has no usable primary key, rows will be appended")
	}
	return nil
}

func describeFilter(f *repository.Filter) string {
	closing := "]"
	if f.ToExclusive {
		closing = ")"
	}
	return "[" + f.From.Format(time.RFC3339) + ", " + f.To.Format(time.RFC3339) + closing
}

func subset(keys, names []string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
