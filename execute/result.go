package execute

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

var ErrColumnIndex = errors.New("shardroute: column index out of range")

// QueryResult is a forward-only cursor over the rows of one unit.
type QueryResult interface {
	Next() (bool, error)
	// Value returns column i of the current row.
	Value(i int) (any, error)
	Columns() []string
	Close() error
}

// StreamQueryResult reads rows from the database as they are requested and owns the connection
// they arrive on.
type StreamQueryResult struct {
	rows    *sql.Rows
	conn    *sql.Conn
	columns []string
	current []any
	release func()
	closed  bool
}

func newStreamQueryResult(rows *sql.Rows, conn *sql.Conn, release func()) (*StreamQueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return &StreamQueryResult{rows: rows, conn: conn, columns: columns, release: release}, nil
}

func (r *StreamQueryResult) Columns() []string {
	return r.columns
}

func (r *StreamQueryResult) Next() (bool, error) {
	if r.closed {
		return false, nil
	}
	if !r.rows.Next() {
		r.current = nil
		return false, r.rows.Err()
	}
	row, err := scanRow(r.rows, len(r.columns))
	if err != nil {
		return false, err
	}
	r.current = row
	return true, nil
}

func (r *StreamQueryResult) Value(i int) (any, error) {
	return value(r.current, i)
}

func (r *StreamQueryResult) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	if r.conn != nil {
		err = multierr.Append(err, r.conn.Close())
	}
	if r.release != nil {
		r.release()
	}
	return err
}

// MemoryQueryResult holds all rows of a unit.
type MemoryQueryResult struct {
	columns []string
	rows    [][]any
	pos     int
}

func NewMemoryQueryResult(columns []string, rows [][]any) *MemoryQueryResult {
	return &MemoryQueryResult{columns: columns, rows: rows, pos: -1}
}

func (r *MemoryQueryResult) Columns() []string {
	return r.columns
}

func (r *MemoryQueryResult) Next() (bool, error) {
	if r.pos < len(r.rows) {
		r.pos++
	}
	return r.pos < len(r.rows), nil
}

func (r *MemoryQueryResult) Value(i int) (any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return value(nil, i)
	}
	return value(r.rows[r.pos], i)
}

func (r *MemoryQueryResult) Close() error {
	r.pos = len(r.rows)
	return nil
}

// loadMemory drains rows into a MemoryQueryResult and closes them.
func loadMemory(rows *sql.Rows) (*MemoryQueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, multierr.Append(err, rows.Close())
	}
	var all [][]any
	for rows.Next() {
		row, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, multierr.Append(err, rows.Close())
		}
		all = append(all, row)
	}
	if err := rows.Err(); err != nil {
		return nil, multierr.Append(err, rows.Close())
	}
	return NewMemoryQueryResult(columns, all), rows.Close()
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	row := make([]any, n)
	dest := make([]any, n)
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return row, nil
}

func value(row []any, i int) (any, error) {
	if row == nil {
		return nil, fmt.Errorf("%w: no current row", ErrColumnIndex)
	}
	if i < 0 || i >= len(row) {
		return nil, fmt.Errorf("%w: %d of %d", ErrColumnIndex, i, len(row))
	}
	return row[i], nil
}

// lease cancels the statement context once the executor is done and every streaming result
// holding the context is closed.
type lease struct {
	mu     sync.Mutex
	refs   int
	sealed bool
	cancel func()
}

func (l *lease) acquire() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

func (l *lease) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs--
	if l.refs == 0 && l.sealed {
		l.cancel()
	}
}

func (l *lease) seal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	if l.refs == 0 {
		l.cancel()
	}
}
