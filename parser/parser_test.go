package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm/shardroute/statement"
)

func TestParseSelect(t *testing.T) {
	sql := "SELECT o.order_id, SUM(o.price) AS total FROM t_order o WHERE o.user_id = ? AND order_id IN (1, 2) ORDER BY o.order_id DESC LIMIT 10 OFFSET 5"
	ctx, err := Parse(sql)
	require.NoError(t, err)

	assert.Equal(t, statement.Select, ctx.Kind)
	assert.Equal(t, []string{"t_order"}, ctx.Tables)
	assert.Equal(t, "t_order", ctx.ResolveTable("O"))
	assert.Equal(t, 1, ctx.ParamCount)
	assert.False(t, ctx.HasOr)

	require.Len(t, ctx.Predicates, 2)
	assert.Equal(t, statement.Predicate{Table: "o", Column: "user_id", Operator: statement.Equal,
		Values: []statement.Value{statement.ParamValue(0)}}, ctx.Predicates[0])
	assert.Equal(t, statement.Predicate{Column: "order_id", Operator: statement.In,
		Values: []statement.Value{statement.LiteralValue(int64(1)), statement.LiteralValue(int64(2))}}, ctx.Predicates[1])

	require.Len(t, ctx.Projections, 2)
	assert.Equal(t, "o.order_id", ctx.Projections[0].Expression)
	assert.Equal(t, "order_id", ctx.Projections[0].Label())
	assert.Equal(t, statement.AggSum, ctx.Projections[1].Aggregation)
	assert.Equal(t, "o.price", ctx.Projections[1].Argument)
	assert.Equal(t, "total", ctx.Projections[1].Label())
	assert.Equal(t, strings.Index(sql, " FROM"), ctx.SelectItemsStop)

	assert.Equal(t, []statement.OrderItem{{Owner: "o", Column: "order_id", Direction: statement.Desc}}, ctx.OrderBy)

	require.Len(t, ctx.TableSegments, 1)
	start := strings.Index(sql, "t_order")
	assert.Equal(t, statement.TableSegment{Name: "t_order", Start: start, Stop: start + len("t_order")}, ctx.TableSegments[0])

	require.NotNil(t, ctx.Pagination)
	rc := ctx.Pagination.RowCount
	assert.Equal(t, "10", sql[rc.Start:rc.Stop])
	assert.Equal(t, "5", sql[ctx.Pagination.Offset.Start:ctx.Pagination.Offset.Stop])
	offset, err := ctx.Pagination.ResolvedOffset(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), offset)
}

func TestParseMySQLLimitWithPlaceholders(t *testing.T) {
	sql := "SELECT * FROM t_order WHERE user_id BETWEEN 1 AND 3 OR remark = 'x' LIMIT ?, ?"
	ctx, err := Parse(sql)
	require.NoError(t, err)

	assert.True(t, ctx.HasOr)
	assert.Empty(t, ctx.Predicates)
	assert.True(t, ctx.ContainsStar())
	assert.Equal(t, 2, ctx.ParamCount)
	assert.Equal(t, statement.ParamValue(0), ctx.Pagination.Offset.Value)
	assert.Equal(t, statement.ParamValue(1), ctx.Pagination.RowCount.Value)
	assert.Equal(t, "?", sql[ctx.Pagination.RowCount.Start:ctx.Pagination.RowCount.Stop])
	n, ok, err := ctx.Pagination.ResolvedRowCount([]any{0, 20})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(20), n)
}

func TestParseRangePredicates(t *testing.T) {
	ctx, err := Parse("SELECT * FROM t_order WHERE 3 < user_id AND (user_id BETWEEN 1 AND 5)")
	require.NoError(t, err)
	require.Len(t, ctx.Predicates, 2)
	assert.Equal(t, statement.GreaterThan, ctx.Predicates[0].Operator)
	assert.Equal(t, []statement.Value{statement.LiteralValue(int64(3))}, ctx.Predicates[0].Values)
	assert.Equal(t, statement.Between, ctx.Predicates[1].Operator)
	assert.Len(t, ctx.Predicates[1].Values, 2)
}

func TestParseInsert(t *testing.T) {
	sql := "INSERT INTO t_order (user_id, remark) VALUES (?, 'a'), (2, ?)"
	ctx, err := Parse(sql)
	require.NoError(t, err)

	assert.Equal(t, statement.Insert, ctx.Kind)
	seg := ctx.Insert
	require.NotNil(t, seg)
	assert.Equal(t, []string{"user_id", "remark"}, seg.Columns)
	assert.Equal(t, strings.Index(sql, ") VALUES"), seg.ColumnsStop)
	require.Len(t, seg.Tuples, 2)

	first, second := seg.Tuples[0], seg.Tuples[1]
	assert.Equal(t, "(?, 'a')", sql[first.Start:first.Stop])
	assert.Equal(t, "(2, ?)", sql[second.Start:second.Stop])
	assert.Equal(t, first.Start, seg.ValuesStart)
	assert.Equal(t, len(sql), seg.ValuesStop)
	assert.Equal(t, 0, first.ParamStart)
	assert.Equal(t, 1, first.ParamCount)
	assert.Equal(t, 1, second.ParamStart)
	assert.Equal(t, 1, second.ParamCount)
	assert.Equal(t, []statement.Value{statement.ParamValue(0), statement.LiteralValue("a")}, first.Values)
	assert.Equal(t, []statement.Value{statement.LiteralValue(int64(2)), statement.ParamValue(1)}, second.Values)
}

func TestParseInsertColumnCountMismatch(t *testing.T) {
	_, err := Parse("INSERT INTO t_order (user_id, remark) VALUES (1)")
	assert.ErrorIs(t, err, statement.ErrColumnCountMismatch)
}

func TestParseJoinAndQuotedTables(t *testing.T) {
	sql := "SELECT * FROM `t_order` o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.user_id = 1"
	ctx, err := Parse(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order", "t_order_item"}, ctx.Tables)
	require.Len(t, ctx.TableSegments, 2)
	for _, seg := range ctx.TableSegments {
		assert.Equal(t, seg.Name, sql[seg.Start:seg.Stop])
	}
	assert.Equal(t, "`", sql[ctx.TableSegments[0].Start-1:ctx.TableSegments[0].Start])
}

func TestParseWrites(t *testing.T) {
	ctx, err := Parse("UPDATE t_order SET remark = ? WHERE order_id = ?")
	require.NoError(t, err)
	assert.Equal(t, statement.Update, ctx.Kind)
	assert.True(t, ctx.IsWrite())
	require.Len(t, ctx.Predicates, 1)
	assert.Equal(t, statement.ParamValue(1), ctx.Predicates[0].Values[0])

	ctx, err = Parse("DELETE FROM t_order WHERE user_id = 7")
	require.NoError(t, err)
	assert.Equal(t, statement.Delete, ctx.Kind)
	assert.Equal(t, []string{"t_order"}, ctx.Tables)
}

func TestParseSelectFlags(t *testing.T) {
	ctx, err := Parse("SELECT * FROM t_order WHERE user_id = 1 FOR UPDATE")
	require.NoError(t, err)
	assert.True(t, ctx.Lock)

	ctx, err = Parse("SELECT DISTINCT user_id FROM t_order")
	require.NoError(t, err)
	assert.True(t, ctx.Distinct)

	ctx, err = Parse("SELECT user_id, COUNT(*) FROM t_order GROUP BY user_id ORDER BY user_id")
	require.NoError(t, err)
	assert.Equal(t, statement.AggCount, ctx.Projections[1].Aggregation)
	assert.Equal(t, "*", ctx.Projections[1].Argument)
	assert.True(t, ctx.SameGroupAndOrder())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("SELECT FROM WHERE")
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = Parse("SELECT id FROM a UNION SELECT id FROM b")
	assert.ErrorIs(t, err, ErrUnsupportedSQL)

	_, err = Parse("INSERT INTO t_order (user_id) SELECT user_id FROM t_user")
	assert.ErrorIs(t, err, ErrUnsupportedSQL)
}
