// Package statement holds the statement context a parser hands to the sharding pipeline:
// referenced tables with their text offsets, extracted predicates, pagination, insert values
// and select projections.
package statement

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrParamIndex          = errors.New("shardroute: placeholder index out of range")
	ErrColumnCountMismatch = errors.New("shardroute: insert column count does not match value count")
)

type Kind int

const (
	Other Kind = iota
	Select
	Insert
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "SELECT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return "OTHER"
}

// Value is either a literal taken from the SQL text or a reference to a positional parameter.
type Value struct {
	Literal any
	// Param is the 0-based placeholder index, -1 for literals.
	Param int
}

func LiteralValue(v any) Value {
	return Value{Literal: v, Param: -1}
}

func ParamValue(index int) Value {
	return Value{Param: index}
}

func (v Value) IsParam() bool {
	return v.Param >= 0
}

// Resolve returns the concrete value, looking placeholders up in params.
func (v Value) Resolve(params []any) (any, error) {
	if !v.IsParam() {
		return v.Literal, nil
	}
	if v.Param >= len(params) {
		return nil, fmt.Errorf("%w: ?%d with %d parameters", ErrParamIndex, v.Param+1, len(params))
	}
	return params[v.Param], nil
}

// Raw is the text of a value expression that is not a constant, such as NOW().
type Raw string

type Operator string

const (
	Equal        Operator = "="
	In           Operator = "IN"
	Between      Operator = "BETWEEN"
	LessThan     Operator = "<"
	LessEqual    Operator = "<="
	GreaterThan  Operator = ">"
	GreaterEqual Operator = ">="
)

// IsRange reports whether the operator selects a range instead of a list of values.
func (o Operator) IsRange() bool {
	switch o {
	case Between, LessThan, LessEqual, GreaterThan, GreaterEqual:
		return true
	}
	return false
}

// Predicate is a (column, operator, values) condition joined by AND to the rest of the WHERE clause.
type Predicate struct {
	// Table is the owner written in SQL (table name or alias), empty when unqualified.
	Table    string
	Column   string
	Operator Operator
	Values   []Value
}

// TableSegment is one occurrence of a logic table name in the SQL text, [Start, Stop).
type TableSegment struct {
	Name  string
	Start int
	Stop  int
}

type PaginationValue struct {
	Value Value
	Start int
	Stop  int
}

type Pagination struct {
	Offset   *PaginationValue
	RowCount *PaginationValue
}

// ResolvedOffset returns the offset, 0 when absent.
func (p *Pagination) ResolvedOffset(params []any) (int64, error) {
	if p == nil || p.Offset == nil {
		return 0, nil
	}
	return resolveInt(p.Offset.Value, params)
}

// ResolvedRowCount returns the row count and whether one was given.
func (p *Pagination) ResolvedRowCount(params []any) (int64, bool, error) {
	if p == nil || p.RowCount == nil {
		return 0, false, nil
	}
	n, err := resolveInt(p.RowCount.Value, params)
	return n, true, err
}

func resolveInt(v Value, params []any) (int64, error) {
	raw, err := v.Resolve(params)
	if err != nil {
		return 0, err
	}
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("shardroute: pagination value %v is not an integer", raw)
}

// InsertTuple is one parenthesized VALUES row, [Start, Stop) including the parentheses.
type InsertTuple struct {
	Start  int
	Stop   int
	Values []Value
	// ParamStart is the index of the first placeholder inside the tuple, ParamCount how many it owns.
	ParamStart int
	ParamCount int
}

type InsertSegment struct {
	Columns []string
	// ColumnsStop is the offset of the ')' closing the column list, -1 without a column list.
	ColumnsStop int
	ValuesStart int
	ValuesStop  int
	Tuples      []InsertTuple
}

// ColumnIndex returns the position of column in the column list, -1 if absent.
func (s *InsertSegment) ColumnIndex(column string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c, column) {
			return i
		}
	}
	return -1
}

// Validate checks every tuple carries one value per declared column.
func (s *InsertSegment) Validate() error {
	if len(s.Columns) == 0 {
		return nil
	}
	for i, t := range s.Tuples {
		if len(t.Values) != len(s.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrColumnCountMismatch, i+1, len(t.Values), len(s.Columns))
		}
	}
	return nil
}

type Aggregation string

const (
	AggNone  Aggregation = ""
	AggCount Aggregation = "COUNT"
	AggSum   Aggregation = "SUM"
	AggMax   Aggregation = "MAX"
	AggMin   Aggregation = "MIN"
	AggAvg   Aggregation = "AVG"
)

// Projection is one item of the select list.
type Projection struct {
	Expression  string
	Alias       string
	Aggregation Aggregation
	// Argument is the aggregated expression text, e.g. "price" for SUM(price).
	Argument string
	Distinct bool
	Star     bool
	Index    int
}

// Label is the column label a database reports for the projection.
func (p Projection) Label() string {
	if p.Alias != "" {
		return p.Alias
	}
	if i := strings.LastIndexByte(p.Expression, '.'); i >= 0 && p.Aggregation == AggNone {
		return p.Expression[i+1:]
	}
	return p.Expression
}

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type OrderItem struct {
	// Owner is the table or alias qualifying the column, may be empty.
	Owner     string
	Column    string
	Direction Direction
}

// Context is everything the pipeline needs to know about one SQL statement.
type Context struct {
	SQL    string
	Kind   Kind
	Tables []string
	// Aliases maps lowercase alias to logic table name.
	Aliases       map[string]string
	TableSegments []TableSegment
	Predicates    []Predicate
	// HasOr is set when the WHERE clause contains OR, whose branches are not used for routing.
	HasOr           bool
	Projections     []Projection
	SelectItemsStop int
	Distinct        bool
	OrderBy         []OrderItem
	GroupBy         []OrderItem
	Lock            bool
	Pagination      *Pagination
	Insert          *InsertSegment
	ParamCount      int
}

func (c *Context) IsQuery() bool {
	return c.Kind == Select
}

func (c *Context) IsWrite() bool {
	return c.Kind != Select
}

// ResolveTable maps a table name or alias to a logic table name.
func (c *Context) ResolveTable(owner string) string {
	if owner == "" {
		return ""
	}
	if t, ok := c.Aliases[strings.ToLower(owner)]; ok {
		return t
	}
	return owner
}

func (c *Context) ContainsAggregation() bool {
	for _, p := range c.Projections {
		if p.Aggregation != AggNone {
			return true
		}
	}
	return false
}

func (c *Context) ContainsStar() bool {
	for _, p := range c.Projections {
		if p.Star {
			return true
		}
	}
	return false
}

// FindProjection returns the projection whose label or expression matches column.
func (c *Context) FindProjection(owner, column string) (Projection, bool) {
	for _, p := range c.Projections {
		if p.Star || p.Aggregation != AggNone && p.Alias == "" {
			continue
		}
		if strings.EqualFold(p.Alias, column) && owner == "" {
			return p, true
		}
		expr := p.Expression
		if owner != "" {
			if strings.EqualFold(expr, owner+"."+column) {
				return p, true
			}
			continue
		}
		if strings.EqualFold(expr, column) || strings.EqualFold(p.Label(), column) && p.Alias == "" {
			return p, true
		}
	}
	return Projection{}, false
}

// SameGroupAndOrder reports whether ORDER BY lists exactly the GROUP BY items.
func (c *Context) SameGroupAndOrder() bool {
	if len(c.OrderBy) == 0 {
		return false
	}
	if len(c.OrderBy) != len(c.GroupBy) {
		return false
	}
	for i := range c.OrderBy {
		if !strings.EqualFold(c.OrderBy[i].Column, c.GroupBy[i].Column) {
			return false
		}
	}
	return true
}

// NeedsMemoryGroupBy reports whether grouping must be merged in memory: rows grouped, or made
// distinct, in an order other than the grouping key.
func (c *Context) NeedsMemoryGroupBy() bool {
	return (len(c.GroupBy) > 0 || c.Distinct) && !c.SameGroupAndOrder()
}
