// Package strategy resolves sharding values to actual data source or table names.
//
// Strategies are built once from configuration and are pure functions afterwards: they never
// mutate shared state, so a single instance serves concurrent statements.
package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAlgorithm = errors.New("shardroute: unknown sharding algorithm")
	ErrInvalidProperty  = errors.New("shardroute: invalid sharding algorithm property")
	ErrInvalidStrategy  = errors.New("shardroute: invalid sharding strategy")
	ErrShardingValue    = errors.New("shardroute: cannot shard on value")
)

// Strategy maps sharding values to a subset of candidate names.
type Strategy interface {
	// Columns returns the sharding columns, nil for strategies that ignore predicates.
	Columns() []string
	DoSharding(targets []string, values []Value) ([]string, error)
}

// PreciseAlgorithm shards a single '=' value.
type PreciseAlgorithm interface {
	DoPrecise(targets []string, value PreciseValue) (string, error)
}

// RangeAlgorithm shards BETWEEN and comparison values.
type RangeAlgorithm interface {
	DoRange(targets []string, value RangeValue) ([]string, error)
}

// ComplexAlgorithm shards several columns jointly.
type ComplexAlgorithm interface {
	DoComplex(targets []string, values []Value) ([]string, error)
}

// HintAlgorithm shards on values supplied out of band instead of predicates.
type HintAlgorithm interface {
	DoHint(targets []string, value ListValue) ([]string, error)
}

// None routes to every target.
type None struct{}

func (None) Columns() []string { return nil }

func (None) DoSharding(targets []string, _ []Value) ([]string, error) {
	return targets, nil
}

// Standard shards on one column with a precise and an optional range algorithm.
type Standard struct {
	column  string
	precise PreciseAlgorithm
	rng     RangeAlgorithm
}

func NewStandard(column string, precise PreciseAlgorithm, rng RangeAlgorithm) (*Standard, error) {
	if column == "" || precise == nil {
		return nil, fmt.Errorf("%w: standard strategy needs a column and a precise algorithm", ErrInvalidStrategy)
	}
	return &Standard{column: column, precise: precise, rng: rng}, nil
}

func (s *Standard) Columns() []string { return []string{s.column} }

func (s *Standard) DoSharding(targets []string, values []Value) ([]string, error) {
	if len(values) == 0 {
		return targets, nil
	}
	switch v := values[0].(type) {
	case ListValue:
		picked := make(map[string]struct{}, len(v.Values))
		var order []string
		for _, each := range v.Values {
			name, err := s.precise.DoPrecise(targets, PreciseValue{Table: v.Table, Column: v.Column, Value: each})
			if err != nil {
				return nil, err
			}
			if _, ok := picked[name]; !ok {
				picked[name] = struct{}{}
				order = append(order, name)
			}
		}
		return keepTargetOrder(targets, order), nil
	case RangeValue:
		if s.rng == nil {
			return targets, nil
		}
		return s.rng.DoRange(targets, v)
	}
	return nil, fmt.Errorf("%w: unsupported value %T", ErrShardingValue, values[0])
}

// Complex hands all matched columns to one algorithm.
type Complex struct {
	columns   []string
	algorithm ComplexAlgorithm
}

func NewComplex(columns []string, algorithm ComplexAlgorithm) (*Complex, error) {
	if len(columns) == 0 || algorithm == nil {
		return nil, fmt.Errorf("%w: complex strategy needs columns and an algorithm", ErrInvalidStrategy)
	}
	return &Complex{columns: columns, algorithm: algorithm}, nil
}

func (s *Complex) Columns() []string { return s.columns }

func (s *Complex) DoSharding(targets []string, values []Value) ([]string, error) {
	if len(values) == 0 {
		return targets, nil
	}
	return s.algorithm.DoComplex(targets, values)
}

// Hint ignores predicates; the router supplies the session's hint values.
type Hint struct {
	algorithm HintAlgorithm
}

func NewHint(algorithm HintAlgorithm) (*Hint, error) {
	if algorithm == nil {
		return nil, fmt.Errorf("%w: hint strategy needs an algorithm", ErrInvalidStrategy)
	}
	return &Hint{algorithm: algorithm}, nil
}

func (s *Hint) Columns() []string { return nil }

func (s *Hint) DoSharding(targets []string, values []Value) ([]string, error) {
	if len(values) == 0 {
		return targets, nil
	}
	lv, ok := values[0].(ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: hint values must be a list", ErrShardingValue)
	}
	if len(lv.Values) == 0 {
		return targets, nil
	}
	return s.algorithm.DoHint(targets, lv)
}

// IsHint reports whether s takes its values from hints.
func IsHint(s Strategy) bool {
	_, ok := s.(*Hint)
	return ok
}

// keepTargetOrder returns names ordered as they appear in targets; names outside targets follow
// so the caller can report them.
func keepTargetOrder(targets, names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for _, t := range targets {
		if _, ok := set[t]; ok {
			out = append(out, t)
			delete(set, t)
		}
	}
	for _, n := range names {
		if _, ok := set[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
