// Package rewrite turns a routed logic statement into one SQL text and parameter list per
// routing unit.
package rewrite

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

var (
	ErrOverlappingTokens = errors.New("shardroute: overlapping rewrite tokens")
	ErrRewrite           = errors.New("shardroute: rewrite failed")
)

const (
	avgCountPrefix = "AVG_DERIVED_COUNT_"
	avgSumPrefix   = "AVG_DERIVED_SUM_"
	orderByPrefix  = "ORDER_BY_DERIVED_"
	groupByPrefix  = "GROUP_BY_DERIVED_"
)

// AvgCountLabel and the other label functions name the derived columns added for projection
// index or order/group item i.
func AvgCountLabel(i int) string { return avgCountPrefix + strconv.Itoa(i) }
func AvgSumLabel(i int) string   { return avgSumPrefix + strconv.Itoa(i) }
func OrderByLabel(i int) string  { return orderByPrefix + strconv.Itoa(i) }
func GroupByLabel(i int) string  { return groupByPrefix + strconv.Itoa(i) }

// IsDerivedLabel reports whether a result column was added by the rewrite.
func IsDerivedLabel(label string) bool {
	upper := strings.ToUpper(label)
	for _, p := range []string{avgCountPrefix, avgSumPrefix, orderByPrefix, groupByPrefix} {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// SQLUnit is the SQL one routing unit executes.
type SQLUnit struct {
	Unit   route.RoutingUnit
	SQL    string
	Params []any
}

// Engine is stateless and safe for concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Rewrite produces one SQLUnit per routing unit, in unit order. Nothing is returned when any
// token fails to validate.
func (e *Engine) Rewrite(rc *route.RouteContext) ([]SQLUnit, error) {
	ctx := rc.Statement
	tokens := newTableTokens(ctx)
	var params ParameterBuilder
	if ctx.Kind == statement.Insert && len(rc.InsertNodes) > 0 {
		insertTokens, grouped, err := rewriteInsert(rc)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, insertTokens...)
		params = grouped
	} else {
		standard := NewStandardParameterBuilder(rc.Params)
		if ctx.IsQuery() && !rc.IsSingleRouting() {
			pagination, err := rewritePagination(ctx, rc.Params, standard)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, pagination...)
			if derived := derivedProjectionToken(ctx); derived != nil {
				tokens = append(tokens, derived)
			}
		}
		params = standard
	}
	if err := validate(ctx.SQL, tokens); err != nil {
		return nil, err
	}
	units := make([]SQLUnit, 0, len(rc.Units))
	for _, u := range rc.Units {
		sql, err := build(ctx.SQL, tokens, u)
		if err != nil {
			return nil, err
		}
		units = append(units, SQLUnit{Unit: u, SQL: sql, Params: params.Parameters(u)})
	}
	return units, nil
}

// rewritePagination fetches rows [0, offset+count) from every unit so the merge can apply the
// original window, or everything when groups must be merged in memory first.
func rewritePagination(ctx *statement.Context, params []any, b *StandardParameterBuilder) ([]Token, error) {
	p := ctx.Pagination
	if p == nil || p.RowCount == nil {
		return nil, nil
	}
	offset, err := p.ResolvedOffset(params)
	if err != nil {
		return nil, err
	}
	count, _, err := p.ResolvedRowCount(params)
	if err != nil {
		return nil, err
	}
	rowCount := offset + count
	if ctx.NeedsMemoryGroupBy() {
		rowCount = math.MaxInt64
	}
	var tokens []Token
	if p.Offset != nil {
		if p.Offset.Value.IsParam() {
			b.Replace(p.Offset.Value.Param, int64(0))
		} else {
			tokens = append(tokens, OffsetToken{span: span{p.Offset.Start, p.Offset.Stop}, Offset: 0})
		}
	}
	if p.RowCount.Value.IsParam() {
		b.Replace(p.RowCount.Value.Param, rowCount)
	} else {
		tokens = append(tokens, RowCountToken{span: span{p.RowCount.Start, p.RowCount.Stop}, RowCount: rowCount})
	}
	return tokens, nil
}

// derivedProjectionToken adds AVG helpers and ORDER BY / GROUP BY items missing from the
// select list.
func derivedProjectionToken(ctx *statement.Context) Token {
	if ctx.SelectItemsStop < 0 {
		return nil
	}
	var items []string
	for _, p := range ctx.Projections {
		if p.Aggregation == statement.AggAvg {
			arg := p.Argument
			if p.Distinct {
				arg = "DISTINCT " + arg
			}
			items = append(items,
				fmt.Sprintf("COUNT(%s) AS %s", arg, AvgCountLabel(p.Index)),
				fmt.Sprintf("SUM(%s) AS %s", arg, AvgSumLabel(p.Index)))
		}
	}
	if !ctx.ContainsStar() {
		for i, o := range ctx.OrderBy {
			if _, ok := ctx.FindProjection(o.Owner, o.Column); !ok {
				items = append(items, fmt.Sprintf("%s AS %s", itemText(o), OrderByLabel(i)))
			}
		}
		for i, g := range ctx.GroupBy {
			if _, ok := ctx.FindProjection(g.Owner, g.Column); !ok {
				items = append(items, fmt.Sprintf("%s AS %s", itemText(g), GroupByLabel(i)))
			}
		}
	}
	if len(items) == 0 {
		return nil
	}
	return DerivedProjectionToken{span: span{ctx.SelectItemsStop, ctx.SelectItemsStop}, Items: items}
}

func itemText(o statement.OrderItem) string {
	if o.Owner != "" {
		return o.Owner + "." + o.Column
	}
	return o.Column
}

// rewriteInsert splits the VALUES rows per unit and appends generated keys.
func rewriteInsert(rc *route.RouteContext) ([]Token, *GroupedParameterBuilder, error) {
	ctx := rc.Statement
	seg := ctx.Insert
	if err := seg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(rc.InsertNodes) != len(seg.Tuples) {
		return nil, nil, fmt.Errorf("%w: %d rows but %d routed", ErrRewrite, len(seg.Tuples), len(rc.InsertNodes))
	}
	logic := ctx.Tables[0]
	builder := NewGroupedParameterBuilder(logic, rc.Params, seg, rc.InsertNodes)
	var tokens []Token
	key := rc.GeneratedKey
	generated := key != nil && key.Generated
	if generated {
		if seg.ColumnsStop < 0 {
			return nil, nil, fmt.Errorf("%w: INSERT into %s needs a column list to add %s", ErrRewrite, logic, key.Column)
		}
		tokens = append(tokens, GeneratedKeyColumnToken{span: span{seg.ColumnsStop, seg.ColumnsStop}, Column: key.Column})
	}
	values := InsertValuesToken{span: span{seg.ValuesStart, seg.ValuesStop}, Logic: logic}
	for i, t := range seg.Tuples {
		text := ctx.SQL[t.Start:t.Stop]
		if generated {
			var keyText string
			if t.ParamCount > 0 {
				keyText = "?"
				builder.AddToGroup(i, key.Values[i])
			} else {
				lit, err := literal(key.Values[i])
				if err != nil {
					return nil, nil, err
				}
				keyText = lit
			}
			text = text[:len(text)-1] + ", " + keyText + ")"
		}
		values.Rows = append(values.Rows, InsertRow{Text: text, Node: rc.InsertNodes[i]})
	}
	return append(tokens, values), builder, nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(x) + "'", nil
	case nil:
		return "NULL", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: key %v: %v", ErrRewrite, v, err)
	}
	return s, nil
}
