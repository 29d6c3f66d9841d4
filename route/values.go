package route

import (
	"fmt"
	"strings"

	"gorm/shardroute/statement"
	"gorm/shardroute/strategy"
	"gorm/shardroute/util/sqlval"
)

// condition accumulates the AND-ed predicates on one column.
type condition struct {
	list    []any
	hasList bool
	rng     strategy.Range
	hasRng  bool
}

func (c *condition) addList(values []any) {
	if !c.hasList {
		c.list, c.hasList = values, true
		return
	}
	var kept []any
	for _, v := range c.list {
		for _, o := range values {
			if sqlval.Equal(v, o) {
				kept = append(kept, v)
				break
			}
		}
	}
	c.list = kept
}

func (c *condition) addRange(r strategy.Range) {
	if !c.hasRng {
		c.rng, c.hasRng = r, true
		return
	}
	c.rng = c.rng.Intersect(r)
}

func (c *condition) value(table, column string) strategy.Value {
	if c.hasList {
		values := c.list
		if c.hasRng {
			values = nil
			for _, v := range c.list {
				if c.rng.Contains(v) {
					values = append(values, v)
				}
			}
		}
		return strategy.ListValue{Table: table, Column: column, Values: values}
	}
	return strategy.RangeValue{Table: table, Column: column, Range: c.rng}
}

// predicateValues collects the sharding values of columns for logic from the statement's
// predicates. owners lists the logic tables whose predicates count; unqualified predicates
// always count.
func predicateValues(ctx *statement.Context, params []any, logic string, owners []string, columns []string) ([]strategy.Value, error) {
	var out []strategy.Value
	for _, column := range columns {
		c := &condition{}
		found := false
		for _, p := range ctx.Predicates {
			if !strings.EqualFold(p.Column, column) || !ownedBy(ctx, p.Table, owners) {
				continue
			}
			resolved := make([]any, 0, len(p.Values))
			for _, v := range p.Values {
				raw, err := v.Resolve(params)
				if err != nil {
					return nil, err
				}
				resolved = append(resolved, sqlval.Normalize(raw))
			}
			if err := apply(c, p.Operator, resolved); err != nil {
				return nil, err
			}
			found = true
		}
		if found {
			out = append(out, c.value(logic, column))
		}
	}
	return out, nil
}

func ownedBy(ctx *statement.Context, owner string, tables []string) bool {
	if owner == "" {
		return true
	}
	resolved := ctx.ResolveTable(owner)
	for _, t := range tables {
		if strings.EqualFold(resolved, t) {
			return true
		}
	}
	return false
}

func apply(c *condition, op statement.Operator, values []any) error {
	switch op {
	case statement.Equal, statement.In:
		c.addList(values)
	case statement.Between:
		if len(values) != 2 {
			return fmt.Errorf("%w: BETWEEN with %d values", ErrRouting, len(values))
		}
		c.addRange(strategy.Closed(values[0], values[1]))
	case statement.LessThan:
		c.addRange(strategy.LessThan(values[0]))
	case statement.LessEqual:
		c.addRange(strategy.AtMost(values[0]))
	case statement.GreaterThan:
		c.addRange(strategy.GreaterThan(values[0]))
	case statement.GreaterEqual:
		c.addRange(strategy.AtLeast(values[0]))
	}
	return nil
}
