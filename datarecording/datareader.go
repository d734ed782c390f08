package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DataReader reads recorded tables back into structs.
type DataReader interface {
	// MapTable binds a table to the struct type of sampleEntry. A table must
	// be mapped before it is queried, and queries may only name the fields
	// of that struct.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables, sorted.
	ListTables() []string

	// Query returns pointers to structs of the mapped type, and the number
	// of rows matching the filters regardless of paging.
	Query(ctx context.Context, q *Query) (results []any, totalCount int, err error)

	// Close closes the reader.
	Close() error
}

// Query selects rows from one mapped table. Build it with NewQuery and the
// chained filter methods.
type Query struct {
	table   string
	filters []filter
	orders  []order
	limit   int
	offset  int
}

type filter struct {
	column string
	op     string
	value  any
}

type order struct {
	column string
	desc   bool
}

// NewQuery starts a query on table that matches every row.
func NewQuery(table string) *Query {
	return &Query{table: table}
}

// Table returns the queried table.
func (q *Query) Table() string {
	return q.table
}

// Eq keeps rows whose column equals value.
func (q *Query) Eq(column string, value any) *Query {
	q.filters = append(q.filters, filter{column, "=", value})
	return q
}

// AtLeast keeps rows whose column is >= value.
func (q *Query) AtLeast(column string, value any) *Query {
	q.filters = append(q.filters, filter{column, ">=", value})
	return q
}

// AtMost keeps rows whose column is <= value.
func (q *Query) AtMost(column string, value any) *Query {
	q.filters = append(q.filters, filter{column, "<=", value})
	return q
}

// Overlaps keeps rows whose [startColumn, endColumn] interval intersects
// [from, to].
func (q *Query) Overlaps(startColumn, endColumn string, from, to any) *Query {
	return q.AtLeast(endColumn, from).AtMost(startColumn, to)
}

// OrderBy sorts ascending on column. Later calls break ties of earlier ones.
func (q *Query) OrderBy(column string) *Query {
	q.orders = append(q.orders, order{column: column})
	return q
}

// OrderByDesc sorts descending on column.
func (q *Query) OrderByDesc(column string) *Query {
	q.orders = append(q.orders, order{column: column, desc: true})
	return q
}

// Page skips offset rows and returns at most limit rows. A limit <= 0 means
// no limit.
func (q *Query) Page(limit, offset int) *Query {
	q.limit = limit
	q.offset = offset
	return q
}

func (q *Query) where(columns map[string]int) (string, []any, error) {
	if len(q.filters) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(q.filters))
	args := make([]any, 0, len(q.filters))
	for _, f := range q.filters {
		if _, ok := columns[f.column]; !ok {
			return "", nil, errors.Errorf(
				"table %s has no column %s", q.table, f.column)
		}

		conds = append(conds, f.column+" "+f.op+" ?")
		args = append(args, f.value)
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (q *Query) tail(columns map[string]int) (string, error) {
	var b strings.Builder

	for i, o := range q.orders {
		if _, ok := columns[o.column]; !ok {
			return "", errors.Errorf(
				"table %s has no column %s", q.table, o.column)
		}

		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}

		b.WriteString(o.column)
		if o.desc {
			b.WriteString(" DESC")
		}
	}

	switch {
	case q.limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
		if q.offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", q.offset)
		}
	case q.offset > 0:
		fmt.Fprintf(&b, " LIMIT -1 OFFSET %d", q.offset)
	}

	return b.String(), nil
}

// Select runs q and returns the rows as *T. T must be the type the table
// was mapped to.
func Select[T any](ctx context.Context, r DataReader, q *Query) ([]*T, int, error) {
	rows, total, err := r.Query(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	results := make([]*T, 0, len(rows))
	for _, row := range rows {
		v, ok := row.(*T)
		if !ok {
			return nil, 0, errors.Errorf(
				"table %s is mapped to %T, not %T", q.table, row, v)
		}

		results = append(results, v)
	}

	return results, total, nil
}

type mappedTable struct {
	structType reflect.Type
	columns    map[string]int
}

type sqliteReader struct {
	*sql.DB

	tables map[string]mappedTable
}

// NewReader opens an existing recorded database file.
func NewReader(dbFilename string) (DataReader, error) {
	if _, err := os.Stat(dbFilename); err != nil {
		return nil, errors.Wrap(err, "cannot open recording")
	}

	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open recording %s", dbFilename)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader over an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:     db,
		tables: make(map[string]mappedTable),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	t := reflect.TypeOf(sampleEntry)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	columns := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		columns[t.Field(i).Name] = i
	}

	r.tables[tableName] = mappedTable{structType: t, columns: columns}
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.tables))
	for table := range r.tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) Query(ctx context.Context, q *Query) ([]any, int, error) {
	table, ok := r.tables[q.table]
	if !ok {
		return nil, 0, errors.Errorf("no mapping found for table: %s", q.table)
	}

	where, args, err := q.where(table.columns)
	if err != nil {
		return nil, 0, err
	}

	tail, err := q.tail(table.columns)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table+where, args...).
		Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "count on %s failed", q.table)
	}

	rows, err := r.QueryContext(ctx, "SELECT * FROM "+q.table+where+tail, args...)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "query on %s failed", q.table)
	}
	defer rows.Close()

	results, err := table.scan(rows)
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

func (t mappedTable) scan(rows *sql.Rows) ([]any, error) {
	var results []any

	names, err := rows.Columns()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for rows.Next() {
		structPtr := reflect.New(t.structType)
		structVal := structPtr.Elem()
		targets := make([]any, len(names))

		for i, name := range names {
			if idx, ok := t.columns[name]; ok {
				targets[i] = structVal.Field(idx).Addr().Interface()
			} else {
				var discard any
				targets[i] = &discard
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, errors.WithStack(err)
		}

		results = append(results, structPtr.Interface())
	}

	return results, errors.WithStack(rows.Err())
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}
