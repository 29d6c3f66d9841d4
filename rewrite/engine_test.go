package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm/shardroute/keygen"
	"gorm/shardroute/parser"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
	"gorm/shardroute/strategy"
)

func mod(column string) *strategy.Config {
	return &strategy.Config{
		Type:      "standard",
		Columns:   []string{column},
		Algorithm: strategy.AlgorithmConfig{Type: "MOD", Props: strategy.Props{"sharding-count": "2"}},
	}
}

func routeSQL(t *testing.T, sql string, params ...any) *route.RouteContext {
	t.Helper()
	r, err := rule.NewShardingRule(rule.Config{
		Tables: []rule.TableRuleConfig{{
			LogicTable:       "t_order",
			ActualDataNodes:  "ds_${0..1}.t_order_${0..1}",
			DatabaseStrategy: mod("user_id"),
			TableStrategy:    mod("order_id"),
			KeyGenerator:     &keygen.Config{Column: "order_id", Type: "INCREMENT"},
		}},
	}, nil, nil)
	require.NoError(t, err)
	e, err := route.NewEngine(r)
	require.NoError(t, err)
	ctx, err := parser.Parse(sql)
	require.NoError(t, err)
	rc, err := e.Route(route.NewSession(), ctx, params)
	require.NoError(t, err)
	return rc
}

func sqls(units []SQLUnit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.SQL)
	}
	return out
}

func TestRewritePaginationOnMultipleUnits(t *testing.T) {
	rc := routeSQL(t, "SELECT * FROM t_order WHERE user_id IN (1, 2) AND order_id = 4 ORDER BY user_id LIMIT 10 OFFSET 5")
	require.Len(t, rc.Units, 2)

	units, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SELECT * FROM t_order_0 WHERE user_id IN (1, 2) AND order_id = 4 ORDER BY user_id LIMIT 15 OFFSET 0",
		"SELECT * FROM t_order_0 WHERE user_id IN (1, 2) AND order_id = 4 ORDER BY user_id LIMIT 15 OFFSET 0",
	}, sqls(units))
	assert.Equal(t, "ds_0", units[0].Unit.DataSourceName)
	assert.Equal(t, "ds_1", units[1].Unit.DataSourceName)

	again, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	assert.Equal(t, units, again)
}

func TestRewritePaginationPlaceholders(t *testing.T) {
	rc := routeSQL(t, "SELECT * FROM t_order LIMIT ?, ?", 5, 10)
	units, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	require.Len(t, units, 4)
	for _, u := range units {
		assert.Equal(t, []any{int64(0), int64(15)}, u.Params)
	}
	assert.Equal(t, "SELECT * FROM t_order_1 LIMIT ?, ?", units[1].SQL)
	assert.Equal(t, []any{5, 10}, rc.Params)
}

func TestRewriteSingleUnitPassesPaginationThrough(t *testing.T) {
	rc := routeSQL(t, "SELECT * FROM t_order WHERE user_id = 1 AND order_id = 1 LIMIT 10 OFFSET 5")
	units, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT * FROM t_order_1 WHERE user_id = 1 AND order_id = 1 LIMIT 10 OFFSET 5"}, sqls(units))
}

func TestRewritePaginationForMemoryGroupBy(t *testing.T) {
	rc := routeSQL(t, "SELECT user_id, COUNT(*) FROM t_order GROUP BY user_id LIMIT 10")
	units, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	assert.Equal(t, "SELECT user_id, COUNT(*) FROM t_order_0 GROUP BY user_id LIMIT 9223372036854775807", units[0].SQL)
}

func TestRewriteDerivedProjections(t *testing.T) {
	units, err := NewEngine().Rewrite(routeSQL(t, "SELECT AVG(price) FROM t_order"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT AVG(price), COUNT(price) AS AVG_DERIVED_COUNT_0, SUM(price) AS AVG_DERIVED_SUM_0 FROM t_order_0", units[0].SQL)

	units, err = NewEngine().Rewrite(routeSQL(t, "SELECT order_id FROM t_order ORDER BY user_id DESC"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT order_id, user_id AS ORDER_BY_DERIVED_0 FROM t_order_0 ORDER BY user_id DESC", units[0].SQL)

	units, err = NewEngine().Rewrite(routeSQL(t, "SELECT * FROM t_order ORDER BY user_id"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t_order_0 ORDER BY user_id", units[0].SQL)

	assert.True(t, IsDerivedLabel("order_by_derived_0"))
	assert.False(t, IsDerivedLabel("order_id"))
}

func TestRewriteInsertSplitsRowsAndAddsKeys(t *testing.T) {
	rc := routeSQL(t, "INSERT INTO t_order (user_id, remark) VALUES (?, ?), (2, 'b')", 1, "a")
	units, err := NewEngine().Rewrite(rc)
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "INSERT INTO t_order_0 (user_id, remark, order_id) VALUES (2, 'b', 2)", units[0].SQL)
	assert.Empty(t, units[0].Params)
	assert.Equal(t, "INSERT INTO t_order_1 (user_id, remark, order_id) VALUES (?, ?, ?)", units[1].SQL)
	assert.Equal(t, []any{1, "a", int64(1)}, units[1].Params)
}

func TestRewriteIsRepeatable(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		params []any
	}{
		{name: "pagination and derived columns", sql: "SELECT user_id, AVG(price) FROM t_order ORDER BY order_id LIMIT ?, ?", params: []any{5, 10}},
		{name: "memory group by", sql: "SELECT user_id, COUNT(*) FROM t_order GROUP BY user_id LIMIT 10"},
		{name: "grouped insert", sql: "INSERT INTO t_order (user_id, remark) VALUES (?, ?), (?, ?)", params: []any{1, "a", 2, "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := routeSQL(t, tt.sql, tt.params...)
			params := append([]any(nil), rc.Params...)

			first, err := NewEngine().Rewrite(rc)
			require.NoError(t, err)
			second, err := NewEngine().Rewrite(rc)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Equal(t, params, rc.Params)
		})
	}
}

func TestRewriteInsertColumnCountMismatch(t *testing.T) {
	rc := &route.RouteContext{
		Statement: &statement.Context{
			SQL:    "INSERT INTO t (a, b) VALUES (1)",
			Kind:   statement.Insert,
			Tables: []string{"t"},
			Insert: &statement.InsertSegment{
				Columns: []string{"a", "b"},
				Tuples:  []statement.InsertTuple{{Values: []statement.Value{statement.LiteralValue(int64(1))}}},
			},
		},
		Units:       []route.RoutingUnit{{DataSourceName: "ds", LogicDataSourceName: "ds", TableUnits: []route.TableUnit{{Logic: "t", Actual: "t"}}}},
		InsertNodes: []rule.DataNode{{DataSource: "ds", Table: "t"}},
	}
	_, err := NewEngine().Rewrite(rc)
	assert.ErrorIs(t, err, statement.ErrColumnCountMismatch)
}

func TestRewriteMissingActualTable(t *testing.T) {
	sql := "SELECT * FROM t_order"
	rc := &route.RouteContext{
		Statement: &statement.Context{
			SQL:           sql,
			Kind:          statement.Select,
			Tables:        []string{"t_order"},
			TableSegments: []statement.TableSegment{{Name: "t_order", Start: 14, Stop: 21}},
		},
		Units: []route.RoutingUnit{{DataSourceName: "ds_0", LogicDataSourceName: "ds_0"}},
	}
	_, err := NewEngine().Rewrite(rc)
	assert.ErrorIs(t, err, ErrRewrite)
}

func TestValidateTokens(t *testing.T) {
	sql := "SELECT * FROM t_order LIMIT 10"
	tests := []struct {
		name   string
		tokens []Token
		want   error
	}{
		{name: "overlap", tokens: []Token{TableToken{span: span{14, 21}}, OffsetToken{span: span{20, 22}}}, want: ErrOverlappingTokens},
		{name: "same start", tokens: []Token{DerivedProjectionToken{span: span{8, 8}}, OffsetToken{span: span{8, 9}}}, want: ErrOverlappingTokens},
		{name: "outside", tokens: []Token{RowCountToken{span: span{28, 40}}}, want: ErrRewrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, validate(sql, tt.tokens), tt.want)
		})
	}
	ordered := []Token{RowCountToken{span: span{28, 30}}, TableToken{span: span{14, 21}}}
	require.NoError(t, validate(sql, ordered))
	assert.Equal(t, 14, ordered[0].Start())
}

func TestGroupedParameterBuilder(t *testing.T) {
	seg := &statement.InsertSegment{Tuples: []statement.InsertTuple{
		{ParamStart: 0, ParamCount: 2},
		{ParamStart: 2, ParamCount: 2},
		{ParamStart: 4, ParamCount: 2},
	}}
	nodes := []rule.DataNode{{DataSource: "ds_0", Table: "t_0"}, {DataSource: "ds_1", Table: "t_1"}, {DataSource: "ds_0", Table: "t_0"}}
	b := NewGroupedParameterBuilder("t", []any{1, "a", 2, "b", 3, "c", "dup"}, seg, nodes)
	b.AddToGroup(1, 42)

	unit := func(ds, table string) route.RoutingUnit {
		return route.RoutingUnit{DataSourceName: ds, LogicDataSourceName: ds, TableUnits: []route.TableUnit{{Logic: "t", Actual: table}}}
	}
	assert.Equal(t, []any{1, "a", 3, "c", "dup"}, b.Parameters(unit("ds_0", "t_0")))
	assert.Equal(t, []any{2, "b", 42, "dup"}, b.Parameters(unit("ds_1", "t_1")))
	assert.Len(t, b.Groups(), 3)
}

func TestStandardParameterBuilder(t *testing.T) {
	b := NewStandardParameterBuilder([]any{1, 2, 3})
	b.Replace(1, 20)
	b.Add(4)
	assert.Equal(t, []any{1, 20, 3, 4}, b.Parameters(route.RoutingUnit{}))
}
