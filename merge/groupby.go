package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"gorm/shardroute/statement"
	"gorm/shardroute/util/sqlval"
)

// aggregation is one aggregate projection resolved to column indexes. count and sum point at the
// derived COUNT and SUM columns added for AVG.
type aggregation struct {
	kind  statement.Aggregation
	index int
	count int
	sum   int
}

// accumulator folds the rows of one group.
type accumulator struct {
	row []any
}

func newAccumulator(row []any) *accumulator {
	return &accumulator{row: append([]any(nil), row...)}
}

func (a *accumulator) merge(row []any, aggs []aggregation) error {
	var err error
	for _, agg := range aggs {
		switch agg.kind {
		case statement.AggCount, statement.AggSum:
			a.row[agg.index], err = add(a.row[agg.index], row[agg.index])
		case statement.AggMax:
			a.row[agg.index] = pick(a.row[agg.index], row[agg.index], 1)
		case statement.AggMin:
			a.row[agg.index] = pick(a.row[agg.index], row[agg.index], -1)
		case statement.AggAvg:
			if a.row[agg.count], err = add(a.row[agg.count], row[agg.count]); err == nil {
				a.row[agg.sum], err = add(a.row[agg.sum], row[agg.sum])
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// finish recomputes AVG from the summed derived columns.
func (a *accumulator) finish(aggs []aggregation) ([]any, error) {
	for _, agg := range aggs {
		if agg.kind != statement.AggAvg {
			continue
		}
		count, sum := a.row[agg.count], a.row[agg.sum]
		if count == nil || sum == nil {
			a.row[agg.index] = nil
			continue
		}
		c, ok := sqlval.AsFloat64(count)
		if !ok {
			return nil, fmt.Errorf("%w: AVG count %v is not numeric", ErrMerge, count)
		}
		s, ok := sqlval.AsFloat64(sum)
		if !ok {
			return nil, fmt.Errorf("%w: AVG sum %v is not numeric", ErrMerge, sum)
		}
		if c == 0 {
			a.row[agg.index] = nil
			continue
		}
		a.row[agg.index] = s / c
	}
	return a.row, nil
}

// add sums two partial aggregates, keeping integers exact. NULL is the identity.
func add(a, b any) (any, error) {
	switch {
	case a == nil:
		return sqlval.Normalize(b), nil
	case b == nil:
		return a, nil
	}
	if x, ok := sqlval.AsInt64(a); ok {
		if y, ok := sqlval.AsInt64(b); ok {
			return x + y, nil
		}
	}
	x, okx := sqlval.AsFloat64(a)
	y, oky := sqlval.AsFloat64(b)
	if !okx || !oky {
		return nil, fmt.Errorf("%w: cannot sum %v and %v", ErrMerge, a, b)
	}
	return x + y, nil
}

// pick keeps b over a when it compares in the wanted direction. NULL is ignored.
func pick(a, b any, direction int) any {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if sqlval.Compare(b, a)*direction > 0 {
		return b
	}
	return a
}

func readRow(src mergedResult, width int) ([]any, error) {
	row := make([]any, width)
	for i := range row {
		v, err := src.Value(i)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func groupKey(row []any, keys []int) string {
	var b strings.Builder
	for _, i := range keys {
		v := sqlval.Normalize(row[i])
		if v == nil {
			b.WriteString("\x00")
		} else if s, err := cast.ToStringE(v); err == nil {
			b.WriteString(s)
		} else {
			b.WriteString(fmt.Sprint(v))
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// groupByStreamResult folds consecutive rows with the same group key. Its source must already be
// ordered by the grouping columns.
type groupByStreamResult struct {
	src     mergedResult
	width   int
	keys    []int
	aggs    []aggregation
	started bool
	pending bool
	current []any
}

func newGroupByStreamResult(src mergedResult, width int, keys []int, aggs []aggregation) *groupByStreamResult {
	return &groupByStreamResult{src: src, width: width, keys: keys, aggs: aggs}
}

func (r *groupByStreamResult) Next() (bool, error) {
	if !r.started {
		r.started = true
		ok, err := r.src.Next()
		if err != nil {
			return false, err
		}
		r.pending = ok
	}
	if !r.pending {
		r.current = nil
		return false, nil
	}
	first, err := readRow(r.src, r.width)
	if err != nil {
		return false, err
	}
	key := groupKey(first, r.keys)
	acc := newAccumulator(first)
	for {
		ok, err := r.src.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			r.pending = false
			break
		}
		row, err := readRow(r.src, r.width)
		if err != nil {
			return false, err
		}
		if groupKey(row, r.keys) != key {
			break
		}
		if err := acc.merge(row, r.aggs); err != nil {
			return false, err
		}
	}
	if r.current, err = acc.finish(r.aggs); err != nil {
		return false, err
	}
	return true, nil
}

func (r *groupByStreamResult) Value(i int) (any, error) {
	if r.current == nil {
		return nil, ErrNoCurrentRow
	}
	return r.current[i], nil
}

// groupByMemoryResult reads every row, folds them by group key and sorts the groups.
type groupByMemoryResult struct {
	rows [][]any
	pos  int
}

func newGroupByMemoryResult(src mergedResult, width int, keys []int, aggs []aggregation, order []sortKey) (*groupByMemoryResult, error) {
	groups := make(map[string]*accumulator)
	var seen []*accumulator
	for {
		ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := readRow(src, width)
		if err != nil {
			return nil, err
		}
		key := groupKey(row, keys)
		if acc, ok := groups[key]; ok {
			if err := acc.merge(row, aggs); err != nil {
				return nil, err
			}
			continue
		}
		acc := newAccumulator(row)
		groups[key] = acc
		seen = append(seen, acc)
	}
	rows := make([][]any, 0, len(seen))
	for _, acc := range seen {
		row, err := acc.finish(aggs)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j], order) < 0
	})
	return &groupByMemoryResult{rows: rows, pos: -1}, nil
}

func (r *groupByMemoryResult) Next() (bool, error) {
	if r.pos < len(r.rows) {
		r.pos++
	}
	return r.pos < len(r.rows), nil
}

func (r *groupByMemoryResult) Value(i int) (any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, ErrNoCurrentRow
	}
	return r.rows[r.pos][i], nil
}
