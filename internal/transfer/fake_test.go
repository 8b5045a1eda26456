package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
)

// fakeTable keeps rows ordered by the first column, which doubles as the key.
type fakeTable struct {
	columns []models.ColumnInfo
	pk      []string
	kind    models.TableKind
	rows    [][]any
}

func (t *fakeTable) index(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *fakeTable) matches(row []any, f *repository.Filter) bool {
	if f == nil {
		return true
	}
	v, ok := row[t.index(f.Column)].(time.Time)
	if !ok || v.Before(f.From) {
		return false
	}
	if f.ToExclusive {
		return v.Before(f.To)
	}
	return !v.After(f.To)
}

// fakeDB is an in-memory TableRepository.
type fakeDB struct {
	mu     sync.Mutex
	tables map[repository.TableRef]*fakeTable

	// countBias is added to every CountRows result.
	countBias int64
	// gate, when set, blocks Kind until it is closed.
	gate chan struct{}
	// onCount runs before every CountRows.
	onCount func()
	// onWrite runs after each successful WriteBatch with its row count.
	onWrite    func(n int)
	writeErr   error
	panicFetch bool

	writes   []int
	upserts  int
	truncate int
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[repository.TableRef]*fakeTable)}
}

func (f *fakeDB) table(t repository.TableRef) (*fakeTable, error) {
	tbl, ok := f.tables[t]
	if !ok {
		return nil, errors.Wrapf(repository.ErrTableNotFound, "%s", t)
	}
	return tbl, nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func (f *fakeDB) TableExists(ctx context.Context, t repository.TableRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[t]
	return ok, nil
}

func (f *fakeDB) Columns(ctx context.Context, t repository.TableRef) ([]models.ColumnInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(t)
	if err != nil {
		return nil, err
	}
	return append([]models.ColumnInfo(nil), tbl.columns...), nil
}

func (f *fakeDB) PrimaryKey(ctx context.Context, t repository.TableRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(t)
	if err != nil {
		return nil, err
	}
	return tbl.pk, nil
}

func (f *fakeDB) Kind(ctx context.Context, t repository.TableRef) (models.TableKind, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(t)
	if err != nil {
		return "", err
	}
	return tbl.kind, nil
}

func (f *fakeDB) CountRows(ctx context.Context, t repository.TableRef, filter *repository.Filter) (int64, error) {
	if f.onCount != nil {
		f.onCount()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(t)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range tbl.rows {
		if tbl.matches(r, filter) {
			n++
		}
	}
	return n + f.countBias, nil
}

func (f *fakeDB) EnsureSchema(ctx context.Context, schema string) error { return nil }

func (f *fakeDB) CreateTable(ctx context.Context, t repository.TableRef, columns []models.ColumnInfo, pk []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[t]; !ok {
		f.tables[t] = &fakeTable{columns: columns, pk: pk, kind: models.TableKindTable}
	}
	return nil
}

func (f *fakeDB) Truncate(ctx context.Context, t repository.TableRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(t)
	if err != nil {
		return err
	}
	tbl.rows = nil
	f.truncate++
	return nil
}

func (f *fakeDB) FetchBatch(ctx context.Context, q repository.BatchQuery) (repository.Batch, error) {
	if f.panicFetch {
		panic("fetch exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, err := f.table(q.Table)
	if err != nil {
		return repository.Batch{}, err
	}

	var matched [][]any
	for _, r := range tbl.rows {
		if !tbl.matches(r, q.Filter) {
			continue
		}
		if len(q.KeyColumns) > 0 && len(q.After) > 0 && r[0].(int64) <= q.After[0].(int64) {
			continue
		}
		matched = append(matched, r)
	}
	if len(q.KeyColumns) == 0 {
		if q.Offset >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	b := repository.Batch{Rows: make([][]any, len(matched))}
	for i, r := range matched {
		b.Rows[i] = append([]any(nil), r...)
	}
	if len(b.Rows) > 0 && len(q.KeyColumns) > 0 {
		b.LastKey = []any{b.Rows[len(b.Rows)-1][0]}
	}
	return b, nil
}

func (f *fakeDB) WriteBatch(ctx context.Context, w repository.BatchWrite) (int64, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return 0, f.writeErr
	}
	tbl, err := f.table(w.Table)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	for _, r := range w.Rows {
		if len(w.UpsertKeys) > 0 {
			replaced := false
			for i, existing := range tbl.rows {
				if existing[0] == r[0] {
					tbl.rows[i] = r
					replaced = true
					break
				}
			}
			if replaced {
				f.upserts++
				continue
			}
		}
		tbl.rows = append(tbl.rows, r)
	}
	f.writes = append(f.writes, len(w.Rows))
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(len(w.Rows))
	}
	return int64(len(w.Rows)), nil
}

func (f *fakeDB) rowCount(t repository.TableRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl, ok := f.tables[t]
	if !ok {
		return 0
	}
	return len(tbl.rows)
}

func (f *fakeDB) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.writes...)
}

// fakeConnector resolves profiles by host.
type fakeConnector struct {
	dbs   map[string]*fakeDB
	calls atomic.Int32
}

func (c *fakeConnector) Connect(ctx context.Context, p models.ConnectionProfile) (repository.TableRepository, error) {
	c.calls.Add(1)
	db, ok := c.dbs[p.Host]
	if !ok {
		return nil, &database.ConnectionError{Target: p.Redacted(), Err: errors.New("connection refused")}
	}
	return db, nil
}

var ordersColumns = []models.ColumnInfo{
	{Name: "id", Type: "bigint", Ordinal: 1},
	{Name: "amount", Type: "numeric", Nullable: true, Ordinal: 2},
	{Name: "created_at", Type: "timestamp with time zone", Ordinal: 3},
}

// seedOrders fills public.orders with n rows, created one minute apart from start.
func seedOrders(db *fakeDB, n int, start time.Time) {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), "10.00", start.Add(time.Duration(i) * time.Minute)}
	}
	db.tables[repository.TableRef{Schema: "public", Name: "orders"}] = &fakeTable{
		columns: ordersColumns,
		pk:      []string{"id"},
		kind:    models.TableKindTable,
		rows:    rows,
	}
}
