package strategy

import (
	"fmt"

	"github.com/spf13/cast"
	"gorm/shardroute/util/sqlval"
	"gorm/shardroute/util/str"
)

const shardingCountKey = "sharding-count"

var numericSuffix = str.NumericSuffix

// ModAlgorithm picks the target whose suffix equals value mod sharding-count.
type ModAlgorithm struct {
	count int64
}

func newModAlgorithm(props Props) (any, error) {
	n, err := props.Int(shardingCountKey)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidProperty, shardingCountKey)
	}
	return &ModAlgorithm{count: n}, nil
}

func (a *ModAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	n, err := cast.ToInt64E(sqlval.Normalize(value.Value))
	if err != nil {
		return "", fmt.Errorf("%w: %s.%s=%v: %v", ErrShardingValue, value.Table, value.Column, value.Value, err)
	}
	return suffixTarget(targets, a.mod(n)), nil
}

func (a *ModAlgorithm) DoRange(targets []string, value RangeValue) ([]string, error) {
	lower, upper, ok := value.Range.IntBounds()
	if !ok {
		return targets, nil
	}
	if upper < lower {
		return nil, nil
	}
	// span is upper-lower computed without int64 overflow
	span := uint64(upper) - uint64(lower)
	if span >= uint64(a.count-1) {
		return targets, nil
	}
	var names []string
	for d := uint64(0); d <= span; d++ {
		names = append(names, suffixTarget(targets, a.mod(lower+int64(d))))
	}
	return keepTargetOrder(targets, names), nil
}

func (a *ModAlgorithm) mod(n int64) int64 {
	m := n % a.count
	if m < 0 {
		m = -m
	}
	return m
}

// HashModAlgorithm shards on the java-compatible hashcode of the value's text.
type HashModAlgorithm struct {
	count int64
}

func newHashModAlgorithm(props Props) (any, error) {
	n, err := props.Int(shardingCountKey)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > 1<<31-1 {
		return nil, fmt.Errorf("%w: %s out of range", ErrInvalidProperty, shardingCountKey)
	}
	return &HashModAlgorithm{count: n}, nil
}

func (a *HashModAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	s, err := cast.ToStringE(sqlval.Normalize(value.Value))
	if err != nil {
		return "", fmt.Errorf("%w: %s.%s=%v: %v", ErrShardingValue, value.Table, value.Column, value.Value, err)
	}
	return suffixTarget(targets, int64(str.HashMode(s, int32(a.count)))), nil
}
