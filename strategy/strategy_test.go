package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderTables = []string{"t_order_0", "t_order_1"}

func newStrategy(t *testing.T, cfg *Config) Strategy {
	t.Helper()
	s, err := NewRegistry().NewStrategy(cfg)
	require.NoError(t, err)
	return s
}

func TestNoneStrategy(t *testing.T) {
	s := newStrategy(t, nil)
	got, err := s.DoSharding(orderTables, []Value{ListValue{Column: "user_id", Values: []any{1}}})
	require.NoError(t, err)
	assert.Equal(t, orderTables, got)
}

func TestStandardMod(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "standard",
		Columns:   []string{"user_id"},
		Algorithm: AlgorithmConfig{Type: "MOD", Props: Props{"sharding-count": "2"}},
	})
	tests := []struct {
		name  string
		value Value
		want  []string
	}{
		{name: "equal", value: ListValue{Table: "t_order", Column: "user_id", Values: []any{int64(3)}}, want: []string{"t_order_1"}},
		{name: "in keeps target order", value: ListValue{Column: "user_id", Values: []any{3, 2}}, want: orderTables},
		{name: "numeric string", value: ListValue{Column: "user_id", Values: []any{"4"}}, want: []string{"t_order_0"}},
		{name: "narrow range", value: RangeValue{Column: "user_id", Range: Closed(3, 3)}, want: []string{"t_order_1"}},
		{name: "wide range", value: RangeValue{Column: "user_id", Range: Closed(1, 10)}, want: orderTables},
		{name: "open range", value: RangeValue{Column: "user_id", Range: AtLeast(5)}, want: orderTables},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DoSharding(orderTables, []Value{tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModImpliesUndeclaredTarget(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "standard",
		Columns:   []string{"user_id"},
		Algorithm: AlgorithmConfig{Type: "MOD", Props: Props{"sharding-count": "4"}},
	})
	got, err := s.DoSharding(orderTables, []Value{ListValue{Column: "user_id", Values: []any{3}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_3"}, got)
}

func TestModRejectsNonNumeric(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "standard",
		Columns:   []string{"user_id"},
		Algorithm: AlgorithmConfig{Type: "MOD", Props: Props{"sharding-count": "2"}},
	})
	_, err := s.DoSharding(orderTables, []Value{ListValue{Column: "user_id", Values: []any{"abc"}}})
	assert.ErrorIs(t, err, ErrShardingValue)
}

func TestInlineAlgorithm(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		value      any
		want       string
	}{
		{name: "template", expression: "t_order_${user_id % 2}", value: int64(3), want: "t_order_1"},
		{name: "template uppercase column", expression: "ds_${user_id % 2}", value: 4, want: "ds_0"},
		{name: "parse and mod functions", expression: "parse('t_order_', mod(user_id, 2))", value: 5, want: "t_order_1"},
		{name: "hashcode", expression: "t_order_${mod(hashcode(user_id), 2)}", value: "abc", want: "t_order_0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStrategy(t, &Config{
				Type:      "standard",
				Columns:   []string{"user_id"},
				Algorithm: AlgorithmConfig{Type: "INLINE", Props: Props{"algorithm-expression": tt.expression}},
			})
			got, err := s.DoSharding([]string{"ds_0", "ds_1", "t_order_0", "t_order_1"},
				[]Value{ListValue{Column: "user_id", Values: []any{tt.value}}})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, got)
		})
	}
}

func TestInlineRangeRoutesEverywhere(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "standard",
		Columns:   []string{"user_id"},
		Algorithm: AlgorithmConfig{Type: "INLINE", Props: Props{"algorithm-expression": "t_order_${user_id % 2}"}},
	})
	got, err := s.DoSharding(orderTables, []Value{RangeValue{Column: "user_id", Range: Closed(1, 2)}})
	require.NoError(t, err)
	assert.Equal(t, orderTables, got)
}

func TestComplexInline(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "complex",
		Columns:   []string{"user_id", "order_id"},
		Algorithm: AlgorithmConfig{Type: "COMPLEX_INLINE", Props: Props{"algorithm-expression": "t_order_${(user_id + order_id) % 2}"}},
	})
	got, err := s.DoSharding(orderTables, []Value{
		ListValue{Column: "user_id", Values: []any{1}},
		ListValue{Column: "order_id", Values: []any{2}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_1"}, got)

	got, err = s.DoSharding(orderTables, []Value{ListValue{Column: "user_id", Values: []any{1}}})
	require.NoError(t, err)
	assert.Equal(t, orderTables, got, "a missing column routes everywhere")
}

func TestHintInline(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "hint",
		Algorithm: AlgorithmConfig{Type: "HINT_INLINE", Props: Props{"algorithm-expression": "t_order_${value % 2}"}},
	})
	assert.True(t, IsHint(s))
	got, err := s.DoSharding(orderTables, []Value{ListValue{Values: []any{10}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_0"}, got)

	got, err = s.DoSharding(orderTables, nil)
	require.NoError(t, err)
	assert.Equal(t, orderTables, got)
}

func TestBoundaryRange(t *testing.T) {
	s := newStrategy(t, &Config{
		Type:      "standard",
		Columns:   []string{"id"},
		Algorithm: AlgorithmConfig{Type: "BOUNDARY_RANGE", Props: Props{"sharding-ranges": "10,20"}},
	})
	targets := []string{"t_0", "t_1", "t_2"}

	got, err := s.DoSharding(targets, []Value{ListValue{Column: "id", Values: []any{15}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_1"}, got)

	got, err = s.DoSharding(targets, []Value{RangeValue{Column: "id", Range: LessThan(10)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_0"}, got)

	got, err = s.DoSharding(targets, []Value{RangeValue{Column: "id", Range: Closed(12, 25)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_1", "t_2"}, got)
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.NewStrategy(&Config{Type: "standard", Columns: []string{"id"}, Algorithm: AlgorithmConfig{Type: "NOPE"}})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = r.NewStrategy(&Config{Type: "standard", Columns: []string{"id"}, Algorithm: AlgorithmConfig{Type: "MOD"}})
	assert.ErrorIs(t, err, ErrInvalidProperty)

	_, err = r.NewStrategy(&Config{Type: "hint", Algorithm: AlgorithmConfig{Type: "MOD", Props: Props{"sharding-count": "2"}}})
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = r.NewStrategy(&Config{Type: "standard", Columns: []string{"id"}, Algorithm: AlgorithmConfig{Type: "INLINE", Props: Props{"algorithm-expression": "t_${id % "}}})
	assert.ErrorIs(t, err, ErrInvalidProperty)
}

func TestRangeIntersect(t *testing.T) {
	r := AtLeast(3).Intersect(LessThan(7)).Intersect(GreaterThan(4))
	lower, upper, ok := r.IntBounds()
	require.True(t, ok)
	assert.Equal(t, int64(5), lower)
	assert.Equal(t, int64(6), upper)
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(4))
	assert.False(t, r.Contains(7))
}

func TestRangeAtInt64Limits(t *testing.T) {
	mod := &ModAlgorithm{count: 2}
	tests := []struct {
		name  string
		value Range
		want  []string
	}{
		{name: "widest closed", value: Closed(int64(math.MinInt64+10), int64(math.MaxInt64-10)), want: orderTables},
		{name: "whole int64", value: Closed(int64(math.MinInt64), int64(math.MaxInt64)), want: orderTables},
		{name: "ends at max", value: Closed(int64(math.MaxInt64), int64(math.MaxInt64)), want: []string{"t_order_1"}},
		{name: "starts at min", value: Closed(int64(math.MinInt64), int64(math.MinInt64)), want: []string{"t_order_0"}},
		{name: "above max", value: GreaterThan(int64(math.MaxInt64)).Intersect(AtMost(int64(math.MaxInt64))), want: nil},
		{name: "below min", value: LessThan(int64(math.MinInt64)).Intersect(AtLeast(int64(math.MinInt64))), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mod.DoRange(orderTables, RangeValue{Column: "user_id", Range: tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	boundary := &BoundaryRangeAlgorithm{boundaries: []int64{10, 20}}
	targets := []string{"t_0", "t_1", "t_2"}
	got, err := boundary.DoRange(targets, RangeValue{Column: "id", Range: GreaterThan(int64(math.MaxInt64))})
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = boundary.DoRange(targets, RangeValue{Column: "id", Range: LessThan(int64(math.MinInt64))})
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = boundary.DoRange(targets, RangeValue{Column: "id", Range: Closed(int64(math.MinInt64), int64(math.MaxInt64))})
	require.NoError(t, err)
	assert.Equal(t, targets, got)
}
