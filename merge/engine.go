// Package merge combines the per-unit results of a sharded statement into one logical result.
package merge

import (
	"errors"
	"fmt"
	"strconv"

	"gorm/shardroute/execute"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

var (
	ErrMerge        = errors.New("shardroute: merge failed")
	ErrNoCurrentRow = errors.New("shardroute: cursor has no current row")
	ErrColumnValue  = errors.New("shardroute: column value unavailable")
	ErrCursorClosed = errors.New("shardroute: cursor closed")
)

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Merge builds the cursor for a routed query. results are indexed like rc.Units; nil entries are
// units dropped under the best-effort policy.
func (e *Engine) Merge(rc *route.RouteContext, results []execute.QueryResult) (*Cursor, error) {
	available := make([]execute.QueryResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			available = append(available, r)
		}
	}
	if len(available) == 0 {
		return newCursor(newIteratorResult(nil), nil, nil), nil
	}
	columns := available[0].Columns()
	visible := visibleColumns(columns)
	if rc.IsSingleRouting() && len(available) == 1 {
		return newCursor(newIteratorResult(available), available, visible), nil
	}
	m := &merger{ctx: rc.Statement, columns: columns}
	result, err := m.build(available)
	if err != nil {
		return nil, err
	}
	if p := rc.Statement.Pagination; p != nil {
		offset, err := p.ResolvedOffset(rc.Params)
		if err != nil {
			return nil, err
		}
		rowCount, limited, err := p.ResolvedRowCount(rc.Params)
		if err != nil {
			return nil, err
		}
		result = newPaginationResult(result, offset, rowCount, limited)
	}
	return newCursor(result, available, visible), nil
}

// visibleColumns drops the derived columns appended during rewrite.
func visibleColumns(columns []string) []string {
	for i, c := range columns {
		if rewrite.IsDerivedLabel(c) {
			return columns[:i]
		}
	}
	return columns
}

type merger struct {
	ctx     *statement.Context
	columns []string
}

func (m *merger) build(results []execute.QueryResult) (mergedResult, error) {
	ctx := m.ctx
	switch {
	case len(ctx.GroupBy) > 0 || ctx.Distinct || ctx.ContainsAggregation():
		aggs, err := m.aggregations()
		if err != nil {
			return nil, err
		}
		groupIdx, err := m.groupIndexes()
		if err != nil {
			return nil, err
		}
		if ctx.SameGroupAndOrder() {
			order, err := m.orderKeys()
			if err != nil {
				return nil, err
			}
			return newGroupByStreamResult(newOrderByStreamResult(results, order), len(m.columns), groupIdx, aggs), nil
		}
		order, err := m.orderKeys()
		if err != nil {
			return nil, err
		}
		if len(order) == 0 {
			for _, i := range groupIdx {
				order = append(order, sortKey{index: i})
			}
		}
		return newGroupByMemoryResult(newIteratorResult(results), len(m.columns), groupIdx, aggs, order)
	case len(ctx.OrderBy) > 0:
		order, err := m.orderKeys()
		if err != nil {
			return nil, err
		}
		return newOrderByStreamResult(results, order), nil
	}
	return newIteratorResult(results), nil
}

func (m *merger) orderKeys() ([]sortKey, error) {
	indexes := make([]int, len(m.ctx.OrderBy))
	for i, item := range m.ctx.OrderBy {
		idx, err := m.columnIndex(item, rewrite.OrderByLabel(i))
		if err != nil {
			return nil, err
		}
		indexes[i] = idx
	}
	return sortKeys(m.ctx.OrderBy, indexes), nil
}

// groupIndexes returns the grouping columns; DISTINCT groups by every visible column.
func (m *merger) groupIndexes() ([]int, error) {
	if len(m.ctx.GroupBy) == 0 {
		if !m.ctx.Distinct {
			return nil, nil
		}
		visible := visibleColumns(m.columns)
		indexes := make([]int, len(visible))
		for i := range visible {
			indexes[i] = i
		}
		return indexes, nil
	}
	indexes := make([]int, len(m.ctx.GroupBy))
	for i, item := range m.ctx.GroupBy {
		idx, err := m.columnIndex(item, rewrite.GroupByLabel(i))
		if err != nil {
			return nil, err
		}
		indexes[i] = idx
	}
	return indexes, nil
}

func (m *merger) aggregations() ([]aggregation, error) {
	var aggs []aggregation
	star := m.ctx.ContainsStar()
	for _, p := range m.ctx.Projections {
		if p.Aggregation == statement.AggNone {
			continue
		}
		agg := aggregation{kind: p.Aggregation, index: p.Index}
		if star || p.Alias != "" {
			if i := indexOf(m.columns, p.Label()); i >= 0 {
				agg.index = i
			}
		}
		if agg.index < 0 || agg.index >= len(m.columns) {
			return nil, fmt.Errorf("%w: no column for %s", ErrMerge, p.Expression)
		}
		if p.Aggregation == statement.AggAvg {
			agg.count = indexOf(m.columns, rewrite.AvgCountLabel(p.Index))
			agg.sum = indexOf(m.columns, rewrite.AvgSumLabel(p.Index))
			if agg.count < 0 || agg.sum < 0 {
				return nil, fmt.Errorf("%w: derived COUNT and SUM missing for %s", ErrMerge, p.Expression)
			}
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

// columnIndex resolves an ORDER BY or GROUP BY item to a result column: a position, a select
// list label, the derived label added during rewrite, then the bare column name.
func (m *merger) columnIndex(item statement.OrderItem, derived string) (int, error) {
	if n, err := strconv.Atoi(item.Column); err == nil && item.Owner == "" {
		if n >= 1 && n <= len(m.columns) {
			return n - 1, nil
		}
		return 0, fmt.Errorf("%w: position %d out of range", ErrMerge, n)
	}
	if p, ok := m.ctx.FindProjection(item.Owner, item.Column); ok {
		if i := indexOf(m.columns, p.Label()); i >= 0 {
			return i, nil
		}
	}
	if i := indexOf(m.columns, derived); i >= 0 {
		return i, nil
	}
	if i := indexOf(m.columns, item.Column); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("%w: cannot resolve %s", ErrMerge, item.Column)
}
