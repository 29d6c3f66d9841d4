package rewrite

import (
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// ParameterBuilder produces the parameter list of one unit's SQL.
type ParameterBuilder interface {
	Parameters(unit route.RoutingUnit) []any
}

// StandardParameterBuilder serves non-batched statements: every unit gets the same flat list,
// with replacements applied by index.
type StandardParameterBuilder struct {
	params   []any
	replaced map[int]any
	added    []any
}

func NewStandardParameterBuilder(params []any) *StandardParameterBuilder {
	return &StandardParameterBuilder{params: params, replaced: map[int]any{}}
}

func (b *StandardParameterBuilder) Replace(index int, value any) {
	b.replaced[index] = value
}

func (b *StandardParameterBuilder) Add(values ...any) {
	b.added = append(b.added, values...)
}

func (b *StandardParameterBuilder) Parameters(route.RoutingUnit) []any {
	out := make([]any, 0, len(b.params)+len(b.added))
	for i, p := range b.params {
		if v, ok := b.replaced[i]; ok {
			p = v
		}
		out = append(out, p)
	}
	return append(out, b.added...)
}

// GroupedParameterBuilder serves multi-row INSERTs: parameters are grouped per row so a unit
// receives only the groups of the rows routed to it, between the generic parameters before and
// after the VALUES clause.
type GroupedParameterBuilder struct {
	logic    string
	leading  []any
	groups   [][]any
	nodes    []rule.DataNode
	trailing []any
}

func NewGroupedParameterBuilder(logic string, params []any, seg *statement.InsertSegment, nodes []rule.DataNode) *GroupedParameterBuilder {
	b := &GroupedParameterBuilder{logic: logic, nodes: nodes}
	if len(seg.Tuples) == 0 {
		b.leading = params
		return b
	}
	first, last := seg.Tuples[0], seg.Tuples[len(seg.Tuples)-1]
	b.leading = clip(params, 0, first.ParamStart)
	for _, t := range seg.Tuples {
		b.groups = append(b.groups, append([]any(nil), clip(params, t.ParamStart, t.ParamStart+t.ParamCount)...))
	}
	b.trailing = clip(params, last.ParamStart+last.ParamCount, len(params))
	return b
}

func clip(params []any, from, to int) []any {
	if from > len(params) {
		from = len(params)
	}
	if to > len(params) {
		to = len(params)
	}
	return params[from:to]
}

// AddToGroup appends value to the parameters of row i.
func (b *GroupedParameterBuilder) AddToGroup(i int, value any) {
	b.groups[i] = append(b.groups[i], value)
}

func (b *GroupedParameterBuilder) Groups() [][]any {
	return b.groups
}

func (b *GroupedParameterBuilder) Parameters(unit route.RoutingUnit) []any {
	out := append([]any(nil), b.leading...)
	for i, g := range b.groups {
		if i < len(b.nodes) && routedTo(b.nodes[i], b.logic, unit) {
			out = append(out, g...)
		}
	}
	return append(out, b.trailing...)
}
