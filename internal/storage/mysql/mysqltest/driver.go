// Package mysqltest provides a scripted database/sql driver for store tests.
// Each Op must be consumed in order; SQL is compared after whitespace
// normalisation.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[t]
}

// Op is one scripted driver interaction.
type Op struct {
	typ          opType
	query        string
	rowsAffected int64
	columns      []string
	values       [][]driver.Value
	err          error
}

// Exec expects an Exec of query; an empty query matches anything.
func Exec(query string, rowsAffected int64) Op {
	return Op{typ: opExec, query: query, rowsAffected: rowsAffected}
}

// ExecErr expects an Exec of query and fails it with err.
func ExecErr(query string, err error) Op {
	return Op{typ: opExec, query: query, err: err}
}

// Query expects a Query of query returning the given rows.
func Query(query string, columns []string, rows ...[]driver.Value) Op {
	return Op{typ: opQuery, query: query, columns: columns, values: rows}
}

// Begin expects a transaction start.
func Begin() Op { return Op{typ: opBegin} }

// Commit expects a transaction commit.
func Commit() Op { return Op{typ: opCommit} }

// Rollback expects a transaction rollback.
func Rollback() Op { return Op{typ: opRollback} }

// Call records the arguments of an executed statement.
type Call struct {
	Query string
	Args  []driver.Value
}

// Driver replays scripted operations.
type Driver struct {
	name  string
	ops   []Op
	idx   int32
	mu    sync.Mutex
	calls []Call
}

var seq atomic.Int32

// Open registers a fresh driver scripted with ops and opens a single
// connection pool on it.
func Open(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()
	drv := &Driver{name: fmt.Sprintf("mysqltest-%d", seq.Add(1)), ops: ops}
	sql.Register(drv.name, drv)
	db, err := sql.Open(drv.name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// Name returns the registered driver name.
func (d *Driver) Name() string { return d.name }

// AssertConsumed fails the test when scripted operations remain.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Calls returns executed statements with their arguments.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string, args []driver.NamedValue) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, Normalize(query))
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected %s, got %s", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && Normalize(op.query) != Normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", Normalize(op.query), Normalize(query))
	}
	if expected == opExec || expected == opQuery {
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		d.mu.Lock()
		d.calls = append(d.calls, Call{Query: Normalize(query), Args: values})
		d.mu.Unlock()
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return result(op.rowsAffected), nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.columns, values: op.values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type result int64

func (r result) LastInsertId() (int64, error) { return 0, nil }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize collapses whitespace so scripted SQL can be formatted freely.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
