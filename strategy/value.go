package strategy

import (
	"math"

	"gorm/shardroute/util/sqlval"
)

// Value is a sharding value extracted for one column of one logic table.
type Value interface {
	LogicTable() string
	ColumnName() string
}

// ListValue carries the values of '=' and 'IN' conditions, insert rows and hints.
type ListValue struct {
	Table  string
	Column string
	Values []any
}

func (v ListValue) LogicTable() string { return v.Table }
func (v ListValue) ColumnName() string { return v.Column }

// RangeValue carries BETWEEN and comparison conditions.
type RangeValue struct {
	Table  string
	Column string
	Range  Range
}

func (v RangeValue) LogicTable() string { return v.Table }
func (v RangeValue) ColumnName() string { return v.Column }

// PreciseValue is the single value handed to a precise algorithm.
type PreciseValue struct {
	Table  string
	Column string
	Value  any
}

// Range is an interval with optional, possibly exclusive, bounds.
type Range struct {
	Lower          any
	Upper          any
	HasLower       bool
	HasUpper       bool
	LowerExclusive bool
	UpperExclusive bool
}

func AtLeast(v any) Range { return Range{Lower: v, HasLower: true} }
func GreaterThan(v any) Range { return Range{Lower: v, HasLower: true, LowerExclusive: true} }
func AtMost(v any) Range { return Range{Upper: v, HasUpper: true} }
func LessThan(v any) Range { return Range{Upper: v, HasUpper: true, UpperExclusive: true} }
func Closed(lower, upper any) Range {
	return Range{Lower: lower, Upper: upper, HasLower: true, HasUpper: true}
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v any) bool {
	if r.HasLower {
		c := sqlval.Compare(v, r.Lower)
		if c < 0 || c == 0 && r.LowerExclusive {
			return false
		}
	}
	if r.HasUpper {
		c := sqlval.Compare(v, r.Upper)
		if c > 0 || c == 0 && r.UpperExclusive {
			return false
		}
	}
	return true
}

// Intersect narrows r by o.
func (r Range) Intersect(o Range) Range {
	out := r
	if o.HasLower {
		if !out.HasLower {
			out.Lower, out.HasLower, out.LowerExclusive = o.Lower, true, o.LowerExclusive
		} else if c := sqlval.Compare(o.Lower, out.Lower); c > 0 || c == 0 && o.LowerExclusive {
			out.Lower, out.LowerExclusive = o.Lower, o.LowerExclusive
		}
	}
	if o.HasUpper {
		if !out.HasUpper {
			out.Upper, out.HasUpper, out.UpperExclusive = o.Upper, true, o.UpperExclusive
		} else if c := sqlval.Compare(o.Upper, out.Upper); c < 0 || c == 0 && o.UpperExclusive {
			out.Upper, out.UpperExclusive = o.Upper, o.UpperExclusive
		}
	}
	return out
}

// IntBounds returns the inclusive integer bounds of the range, when both exist and are integers.
func (r Range) IntBounds() (lower, upper int64, ok bool) {
	if !r.HasLower || !r.HasUpper {
		return 0, 0, false
	}
	lower, okL := sqlval.AsInt64(r.Lower)
	upper, okU := sqlval.AsInt64(r.Upper)
	if !okL || !okU {
		return 0, 0, false
	}
	// an exclusive bound at the end of int64 leaves nothing to select
	if r.LowerExclusive {
		if lower == math.MaxInt64 {
			return 0, -1, true
		}
		lower++
	}
	if r.UpperExclusive {
		if upper == math.MinInt64 {
			return 0, -1, true
		}
		upper--
	}
	return lower, upper, true
}
