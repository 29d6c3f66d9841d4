package strategy

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gorm/shardroute/util/sqlval"
)

// BoundaryRangeAlgorithm splits the key space at ascending boundaries: with "10,20" values below
// 10 go to suffix 0, [10,20) to suffix 1 and the rest to suffix 2.
type BoundaryRangeAlgorithm struct {
	boundaries []int64
}

func newBoundaryRangeAlgorithm(props Props) (any, error) {
	raw, err := props.String("sharding-ranges")
	if err != nil {
		return nil, err
	}
	var bounds []int64
	for _, each := range strings.Split(raw, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(each), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sharding-ranges: %v", ErrInvalidProperty, err)
		}
		if len(bounds) > 0 && n <= bounds[len(bounds)-1] {
			return nil, fmt.Errorf("%w: sharding-ranges must ascend", ErrInvalidProperty)
		}
		bounds = append(bounds, n)
	}
	return &BoundaryRangeAlgorithm{boundaries: bounds}, nil
}

func (a *BoundaryRangeAlgorithm) partition(n int64) int64 {
	return int64(sort.Search(len(a.boundaries), func(i int) bool { return a.boundaries[i] > n }))
}

func (a *BoundaryRangeAlgorithm) DoPrecise(targets []string, value PreciseValue) (string, error) {
	n, err := cast.ToInt64E(sqlval.Normalize(value.Value))
	if err != nil {
		return "", fmt.Errorf("%w: %s.%s=%v: %v", ErrShardingValue, value.Table, value.Column, value.Value, err)
	}
	return suffixTarget(targets, a.partition(n)), nil
}

func (a *BoundaryRangeAlgorithm) DoRange(targets []string, value RangeValue) ([]string, error) {
	r := value.Range
	first, last := int64(0), int64(len(a.boundaries))
	if r.HasLower {
		n, err := cast.ToInt64E(sqlval.Normalize(r.Lower))
		if err != nil {
			return targets, nil
		}
		if r.LowerExclusive {
			if n == math.MaxInt64 {
				return nil, nil
			}
			n++
		}
		first = a.partition(n)
	}
	if r.HasUpper {
		n, err := cast.ToInt64E(sqlval.Normalize(r.Upper))
		if err != nil {
			return targets, nil
		}
		if r.UpperExclusive {
			if n == math.MinInt64 {
				return nil, nil
			}
			n--
		}
		last = a.partition(n)
	}
	var names []string
	for i := first; i <= last; i++ {
		names = append(names, suffixTarget(targets, i))
	}
	return keepTargetOrder(targets, names), nil
}
