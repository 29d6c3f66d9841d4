package merge

import "gorm/shardroute/execute"

// mergedResult is the row source behind a Cursor.
type mergedResult interface {
	Next() (bool, error)
	Value(i int) (any, error)
}

// iteratorResult concatenates unit results in unit order, skipping exhausted ones.
type iteratorResult struct {
	results []execute.QueryResult
	at      int
}

func newIteratorResult(results []execute.QueryResult) *iteratorResult {
	return &iteratorResult{results: results}
}

func (r *iteratorResult) Next() (bool, error) {
	for r.at < len(r.results) {
		ok, err := r.results[r.at].Next()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		r.at++
	}
	return false, nil
}

func (r *iteratorResult) Value(i int) (any, error) {
	if r.at >= len(r.results) {
		return nil, ErrNoCurrentRow
	}
	return r.results[r.at].Value(i)
}
