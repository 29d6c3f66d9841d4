package merge

// paginationResult applies the original LIMIT to the merged rows after the shards were asked
// for offset 0 and offset+rowCount rows.
type paginationResult struct {
	src      mergedResult
	offset   int64
	rowCount int64
	limited  bool
	skipped  bool
	returned int64
}

func newPaginationResult(src mergedResult, offset, rowCount int64, limited bool) *paginationResult {
	return &paginationResult{src: src, offset: offset, rowCount: rowCount, limited: limited}
}

func (r *paginationResult) Next() (bool, error) {
	if !r.skipped {
		r.skipped = true
		for i := int64(0); i < r.offset; i++ {
			ok, err := r.src.Next()
			if err != nil || !ok {
				return false, err
			}
		}
	}
	if r.limited && r.returned >= r.rowCount {
		return false, nil
	}
	ok, err := r.src.Next()
	if ok {
		r.returned++
	}
	return ok, err
}

func (r *paginationResult) Value(i int) (any, error) {
	return r.src.Value(i)
}
