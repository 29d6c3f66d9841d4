package merge

import (
	"gorm/shardroute/execute"
	"gorm/shardroute/keygen"
)

// UpdateResult is the merged outcome of a write statement.
type UpdateResult struct {
	RowsAffected int64
	LastInsertID int64
	// GeneratedKeys holds the keys generated for an INSERT, in row order.
	GeneratedKeys []any
}

// MergeUpdate sums rows affected over every unit. LastInsertID is the first generated key when
// keys were generated, otherwise the id reported by the last unit that returned one.
func (e *Engine) MergeUpdate(results []execute.ExecResult, key *keygen.GeneratedKey) *UpdateResult {
	out := &UpdateResult{}
	for _, r := range results {
		out.RowsAffected += r.RowsAffected
		if r.LastInsertID != 0 {
			out.LastInsertID = r.LastInsertID
		}
	}
	if key != nil && key.Generated && len(key.Values) > 0 {
		out.GeneratedKeys = append(out.GeneratedKeys, key.Values...)
		if id, ok := key.Values[0].(int64); ok {
			out.LastInsertID = id
		}
	}
	return out
}
