package merge

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"gorm/shardroute/execute"
	"gorm/shardroute/util/sqlval"
)

// Kind selects the Go type Cursor.Value converts a column to.
type Kind int

const (
	Any Kind = iota
	Int64
	Float64
	String
	Bool
	Time
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Bytes:
		return "bytes"
	}
	return "any"
}

type cursorState int

const (
	created cursorState = iota
	active
	exhausted
	closed
)

// Cursor is the single logical result of a sharded query. It moves forward only.
type Cursor struct {
	result   mergedResult
	results  []execute.QueryResult
	columns  []string
	state    cursorState
	closeErr error
}

func newCursor(result mergedResult, results []execute.QueryResult, columns []string) *Cursor {
	return &Cursor{result: result, results: results, columns: columns}
}

// Next advances to the next row.
func (c *Cursor) Next() (bool, error) {
	switch c.state {
	case closed:
		return false, ErrCursorClosed
	case exhausted:
		return false, nil
	}
	ok, err := c.result.Next()
	if err != nil {
		c.state = exhausted
		return false, err
	}
	if !ok {
		c.state = exhausted
		return false, nil
	}
	c.state = active
	return true, nil
}

// Value returns column i of the current row converted to kind. NULL is returned as nil for every kind.
func (c *Cursor) Value(i int, kind Kind) (any, error) {
	if c.state != active {
		return nil, ErrNoCurrentRow
	}
	if i < 0 || i >= len(c.columns) {
		return nil, fmt.Errorf("%w: index %d out of %d columns", ErrColumnValue, i, len(c.columns))
	}
	v, err := c.result.Value(i)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrColumnValue, i, err)
	}
	if v == nil {
		return nil, nil
	}
	out, err := convert(v, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d as %s: %v", ErrColumnValue, i, kind, err)
	}
	return out, nil
}

func convert(v any, kind Kind) (any, error) {
	switch kind {
	case Int64:
		if n, ok := sqlval.AsInt64(v); ok {
			return n, nil
		}
		return cast.ToInt64E(sqlval.Normalize(v))
	case Float64:
		return cast.ToFloat64E(sqlval.Normalize(v))
	case String:
		return cast.ToStringE(sqlval.Normalize(v))
	case Bool:
		return cast.ToBoolE(sqlval.Normalize(v))
	case Time:
		return cast.ToTimeE(sqlval.Normalize(v))
	case Bytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return v, nil
}

// Columns returns the labels visible to the caller. Derived columns are not included.
func (c *Cursor) Columns() []string {
	return c.columns
}

func (c *Cursor) ColumnCount() int {
	return len(c.columns)
}

// ColumnIndex finds a column label ignoring case, -1 if absent.
func (c *Cursor) ColumnIndex(label string) int {
	return indexOf(c.columns, label)
}

// Close releases every per-unit result. Closing twice returns the first outcome.
func (c *Cursor) Close() error {
	if c.state == closed {
		return c.closeErr
	}
	c.state = closed
	var err error
	for _, r := range c.results {
		if r != nil {
			err = multierr.Append(err, r.Close())
		}
	}
	c.closeErr = err
	return err
}

func indexOf(columns []string, label string) int {
	for i, c := range columns {
		if strings.EqualFold(c, label) {
			return i
		}
	}
	return -1
}
