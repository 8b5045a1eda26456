package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// TableRef names a schema-qualified relation.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string { return t.Schema + "." + t.Name }

func (t TableRef) quoted() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// Filter restricts rows to Column in [From, To] (or [From, To) when ToExclusive).
type Filter struct {
	Column      string
	From        time.Time
	To          time.Time
	ToExclusive bool
}

// clause renders the predicate with placeholders starting at $next.
func (f *Filter) clause(next int) (string, []any) {
	if f == nil {
		return "", nil
	}
	op := "<="
	if f.ToExclusive {
		op = "<"
	}
	col := pq.QuoteIdentifier(f.Column)
	return fmt.Sprintf("%s >= $%d AND %s %s $%d", col, next, col, op, next+1), []any{f.From, f.To}
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

// countQuery builds SELECT COUNT(*) with the optional filter.
func countQuery(t TableRef, f *Filter) (string, []any) {
	q := "SELECT COUNT(*) FROM " + t.quoted()
	where, args := f.clause(1)
	if where != "" {
		q += " WHERE " + where
	}
	return q, args
}

// batchQuery renders one page of a stable scan. Keyset pagination is used
// when KeyColumns is set, LIMIT/OFFSET otherwise.
func batchQuery(q BatchQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if where, fargs := q.Filter.clause(1); where != "" {
		conds = append(conds, where)
		args = append(args, fargs...)
	}
	if len(q.KeyColumns) > 0 && len(q.After) > 0 {
		conds = append(conds, fmt.Sprintf("(%s) > (%s)", quoteAll(q.KeyColumns), placeholders(len(args)+1, len(q.After))))
		args = append(args, q.After...)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(quoteAll(q.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(q.Table.quoted())
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	switch {
	case len(q.KeyColumns) > 0:
		sb.WriteString(quoteAll(q.KeyColumns))
	case q.OrderByCTID:
		if q.orderable(0) {
			sb.WriteString(pq.QuoteIdentifier(q.Columns[0]))
			sb.WriteString(", ")
		}
		sb.WriteString("ctid")
	default:
		ords := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			if q.orderable(i) {
				ords[i] = fmt.Sprintf("%d", i+1)
			} else {
				ords[i] = pq.QuoteIdentifier(c) + "::text"
			}
		}
		sb.WriteString(strings.Join(ords, ", "))
	}
	args = append(args, q.Limit)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	if len(q.KeyColumns) == 0 && q.Offset > 0 {
		args = append(args, q.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}
	return sb.String(), args
}

// unorderedTypes have no btree ordering operator, so ORDER BY rejects them.
var unorderedTypes = map[string]struct{}{
	"json": {}, "xml": {}, "point": {}, "line": {}, "lseg": {},
	"box": {}, "path": {}, "polygon": {}, "circle": {},
}

// orderable reports whether column i can appear in ORDER BY as is. Columns
// without a known type are assumed orderable.
func (q BatchQuery) orderable(i int) bool {
	if i >= len(q.ColumnTypes) {
		return true
	}
	_, bad := unorderedTypes[strings.TrimPrefix(q.ColumnTypes[i], "_")]
	return !bad
}

func upsertQuery(target TableRef, stage string, columns, keys []string) string {
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	var sets []string
	for _, c := range columns {
		if _, ok := keySet[c]; ok {
			continue
		}
		qc := pq.QuoteIdentifier(c)
		sets = append(sets, qc+" = EXCLUDED."+qc)
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	cols := quoteAll(columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		target.quoted(), cols, cols, pq.QuoteIdentifier(stage), quoteAll(keys), action)
}
