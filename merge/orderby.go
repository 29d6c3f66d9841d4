package merge

import (
	"container/heap"

	"gorm/shardroute/execute"
	"gorm/shardroute/statement"
	"gorm/shardroute/util/sqlval"
)

// sortKey is one ORDER BY item resolved to a column index.
type sortKey struct {
	index int
	desc  bool
}

// compareRows orders two rows by keys, left to right.
func compareRows(a, b []any, keys []sortKey) int {
	for _, k := range keys {
		c := sqlval.Compare(a[k.index], b[k.index])
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

type orderByValue struct {
	result execute.QueryResult
	unit   int
	row    []any
}

// load reads the sort values of the current row.
func (v *orderByValue) load(keys []sortKey, width int) error {
	row := make([]any, width)
	for _, k := range keys {
		val, err := v.result.Value(k.index)
		if err != nil {
			return err
		}
		row[k.index] = val
	}
	v.row = row
	return nil
}

type orderByHeap struct {
	values []*orderByValue
	keys   []sortKey
}

func (h *orderByHeap) Len() int { return len(h.values) }

func (h *orderByHeap) Less(i, j int) bool {
	if c := compareRows(h.values[i].row, h.values[j].row, h.keys); c != 0 {
		return c < 0
	}
	return h.values[i].unit < h.values[j].unit
}

func (h *orderByHeap) Swap(i, j int) { h.values[i], h.values[j] = h.values[j], h.values[i] }

func (h *orderByHeap) Push(x any) { h.values = append(h.values, x.(*orderByValue)) }

func (h *orderByHeap) Pop() any {
	old := h.values
	v := old[len(old)-1]
	h.values = old[:len(old)-1]
	return v
}

// orderByStreamResult merges unit results already sorted by the same keys, holding one row per
// unit in a heap. Equal keys come out in unit order.
type orderByStreamResult struct {
	heap    *orderByHeap
	width   int
	started bool
	current *orderByValue
}

func newOrderByStreamResult(results []execute.QueryResult, keys []sortKey) *orderByStreamResult {
	width := 0
	for _, k := range keys {
		if k.index >= width {
			width = k.index + 1
		}
	}
	h := &orderByHeap{keys: keys}
	for i, r := range results {
		h.values = append(h.values, &orderByValue{result: r, unit: i})
	}
	return &orderByStreamResult{heap: h, width: width}
}

func (r *orderByStreamResult) Next() (bool, error) {
	if !r.started {
		r.started = true
		pending := r.heap.values
		r.heap.values = nil
		for _, v := range pending {
			ok, err := r.advance(v)
			if err != nil {
				return false, err
			}
			if ok {
				r.heap.values = append(r.heap.values, v)
			}
		}
		heap.Init(r.heap)
	} else if r.current != nil {
		ok, err := r.advance(r.current)
		if err != nil {
			return false, err
		}
		if ok {
			heap.Fix(r.heap, 0)
		} else {
			heap.Pop(r.heap)
		}
	}
	if r.heap.Len() == 0 {
		r.current = nil
		return false, nil
	}
	r.current = r.heap.values[0]
	return true, nil
}

func (r *orderByStreamResult) advance(v *orderByValue) (bool, error) {
	ok, err := v.result.Next()
	if err != nil || !ok {
		return false, err
	}
	return true, v.load(r.heap.keys, r.width)
}

func (r *orderByStreamResult) Value(i int) (any, error) {
	if r.current == nil {
		return nil, ErrNoCurrentRow
	}
	return r.current.result.Value(i)
}

func sortKeys(items []statement.OrderItem, indexes []int) []sortKey {
	keys := make([]sortKey, len(items))
	for i, item := range items {
		keys[i] = sortKey{index: indexes[i], desc: item.Direction == statement.Desc}
	}
	return keys
}
