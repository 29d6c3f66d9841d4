// Package parser binds SQL text to a statement.Context. Structure comes from the
// xwb1989/sqlparser AST, text offsets from a second pass over its tokenizer.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
	"gorm/shardroute/statement"
)

var (
	ErrSyntax         = errors.New("shardroute: sql syntax error")
	ErrUnsupportedSQL = errors.New("shardroute: unsupported sql")
)

// Parser is the default binder.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(sql string) (*statement.Context, error) {
	return Parse(sql)
}

// Parse parses sql and extracts what routing, rewriting and merging need.
func Parse(sql string) (*statement.Context, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	b := &binder{
		ctx: &statement.Context{
			SQL:             sql,
			Aliases:         map[string]string{},
			SelectItemsStop: -1,
		},
		tokens: tokens,
	}
	for _, t := range tokens {
		if t.typ == sqlparser.VALUE_ARG {
			b.ctx.ParamCount++
		}
	}
	switch node := stmt.(type) {
	case *sqlparser.Select:
		err = b.bindSelect(node)
	case *sqlparser.Insert:
		err = b.bindInsert(node)
	case *sqlparser.Update:
		b.ctx.Kind = statement.Update
		b.collectTables(node)
		err = b.bindWhere(node.Where)
	case *sqlparser.Delete:
		b.ctx.Kind = statement.Delete
		b.collectTables(node)
		err = b.bindWhere(node.Where)
	case *sqlparser.DDL:
		b.ctx.Kind = statement.Other
		switch {
		case !node.Table.IsEmpty():
			b.addTable(node.Table.Name.String(), "")
		case !node.NewName.IsEmpty():
			b.addTable(node.NewName.Name.String(), "")
		}
	case *sqlparser.Union, *sqlparser.ParenSelect:
		return nil, fmt.Errorf("%w: UNION", ErrUnsupportedSQL)
	default:
		b.ctx.Kind = statement.Other
	}
	if err != nil {
		return nil, err
	}
	b.tableSegments()
	return b.ctx, nil
}

type binder struct {
	ctx    *statement.Context
	tokens []token
}

func (b *binder) addTable(name, alias string) {
	if name == "" || strings.EqualFold(name, "dual") {
		return
	}
	found := false
	for _, t := range b.ctx.Tables {
		if strings.EqualFold(t, name) {
			name, found = t, true
			break
		}
	}
	if !found {
		b.ctx.Tables = append(b.ctx.Tables, name)
	}
	if alias != "" {
		b.ctx.Aliases[strings.ToLower(alias)] = name
	}
}

// collectTables records every table reference, subqueries included, in order of appearance.
func (b *binder) collectTables(node sqlparser.SQLNode) {
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		if t, ok := n.(*sqlparser.AliasedTableExpr); ok {
			if name, ok := t.Expr.(sqlparser.TableName); ok {
				b.addTable(name.Name.String(), t.As.String())
			}
		}
		return true, nil
	}, node)
}

func (b *binder) bindSelect(node *sqlparser.Select) error {
	b.ctx.Kind = statement.Select
	b.collectTables(node)
	b.ctx.Distinct = node.Distinct != ""
	b.ctx.Lock = strings.Contains(strings.ToLower(node.Lock), "update")
	for i, expr := range node.SelectExprs {
		b.ctx.Projections = append(b.ctx.Projections, projection(i, expr))
	}
	for _, o := range node.OrderBy {
		item := orderItem(o.Expr)
		if o.Direction == sqlparser.DescScr {
			item.Direction = statement.Desc
		}
		b.ctx.OrderBy = append(b.ctx.OrderBy, item)
	}
	for _, g := range node.GroupBy {
		b.ctx.GroupBy = append(b.ctx.GroupBy, orderItem(g))
	}
	if err := b.bindWhere(node.Where); err != nil {
		return err
	}
	b.ctx.SelectItemsStop = b.selectItemsStop()
	if node.Limit != nil {
		p, err := b.pagination()
		if err != nil {
			return err
		}
		b.ctx.Pagination = p
	}
	return nil
}

func projection(i int, expr sqlparser.SelectExpr) statement.Projection {
	p := statement.Projection{Index: i}
	switch e := expr.(type) {
	case *sqlparser.StarExpr:
		p.Star = true
		p.Expression = sqlparser.String(e)
	case *sqlparser.AliasedExpr:
		p.Alias = e.As.String()
		p.Expression = sqlparser.String(e.Expr)
		if col, ok := e.Expr.(*sqlparser.ColName); ok && p.Alias == "" {
			p.Expression = columnText(col)
		}
		if fn, ok := e.Expr.(*sqlparser.FuncExpr); ok {
			switch agg := statement.Aggregation(strings.ToUpper(fn.Name.String())); agg {
			case statement.AggCount, statement.AggSum, statement.AggMax, statement.AggMin, statement.AggAvg:
				p.Aggregation = agg
				p.Argument = sqlparser.String(fn.Exprs)
				p.Distinct = fn.Distinct
			}
		}
	default:
		p.Expression = sqlparser.String(expr)
	}
	return p
}

func columnText(col *sqlparser.ColName) string {
	if col.Qualifier.IsEmpty() {
		return col.Name.String()
	}
	return col.Qualifier.Name.String() + "." + col.Name.String()
}

func orderItem(expr sqlparser.Expr) statement.OrderItem {
	item := statement.OrderItem{Direction: statement.Asc}
	if col, ok := expr.(*sqlparser.ColName); ok {
		item.Owner = col.Qualifier.Name.String()
		item.Column = col.Name.String()
		return item
	}
	item.Column = sqlparser.String(expr)
	return item
}

func (b *binder) bindWhere(where *sqlparser.Where) error {
	if where == nil {
		return nil
	}
	return b.bindCondition(where.Expr)
}

// bindCondition keeps the conditions joined by AND; OR branches are not used for routing.
func (b *binder) bindCondition(expr sqlparser.Expr) error {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		if err := b.bindCondition(e.Left); err != nil {
			return err
		}
		return b.bindCondition(e.Right)
	case *sqlparser.ParenExpr:
		return b.bindCondition(e.Expr)
	case *sqlparser.OrExpr:
		b.ctx.HasOr = true
	case *sqlparser.ComparisonExpr:
		return b.bindComparison(e)
	case *sqlparser.RangeCond:
		if e.Operator != sqlparser.BetweenStr {
			return nil
		}
		col, ok := e.Left.(*sqlparser.ColName)
		if !ok {
			return nil
		}
		from, okFrom, err := toValue(e.From)
		if err != nil {
			return err
		}
		to, okTo, err := toValue(e.To)
		if err != nil || !okFrom || !okTo {
			return err
		}
		b.addPredicate(col, statement.Between, from, to)
	}
	return nil
}

var flipped = map[string]string{
	sqlparser.LessThanStr:     sqlparser.GreaterThanStr,
	sqlparser.LessEqualStr:    sqlparser.GreaterEqualStr,
	sqlparser.GreaterThanStr:  sqlparser.LessThanStr,
	sqlparser.GreaterEqualStr: sqlparser.LessEqualStr,
	sqlparser.EqualStr:        sqlparser.EqualStr,
}

func (b *binder) bindComparison(e *sqlparser.ComparisonExpr) error {
	op := e.Operator
	left, right := e.Left, e.Right
	col, ok := left.(*sqlparser.ColName)
	if !ok {
		if col, ok = right.(*sqlparser.ColName); !ok {
			return nil
		}
		if op, ok = flipped[op]; !ok {
			return nil
		}
		right = left
	}
	if op == sqlparser.InStr {
		tuple, ok := right.(sqlparser.ValTuple)
		if !ok {
			return nil
		}
		values := make([]statement.Value, 0, len(tuple))
		for _, each := range tuple {
			v, ok, err := toValue(each)
			if err != nil || !ok {
				return err
			}
			values = append(values, v)
		}
		b.addPredicate(col, statement.In, values...)
		return nil
	}
	var operator statement.Operator
	switch op {
	case sqlparser.EqualStr:
		operator = statement.Equal
	case sqlparser.LessThanStr:
		operator = statement.LessThan
	case sqlparser.LessEqualStr:
		operator = statement.LessEqual
	case sqlparser.GreaterThanStr:
		operator = statement.GreaterThan
	case sqlparser.GreaterEqualStr:
		operator = statement.GreaterEqual
	default:
		return nil
	}
	v, ok, err := toValue(right)
	if err != nil || !ok {
		return err
	}
	b.addPredicate(col, operator, v)
	return nil
}

func (b *binder) addPredicate(col *sqlparser.ColName, op statement.Operator, values ...statement.Value) {
	b.ctx.Predicates = append(b.ctx.Predicates, statement.Predicate{
		Table:    col.Qualifier.Name.String(),
		Column:   col.Name.String(),
		Operator: op,
		Values:   values,
	})
}

// toValue converts a constant or placeholder; ok is false for any other expression.
func toValue(expr sqlparser.Expr) (statement.Value, bool, error) {
	switch e := expr.(type) {
	case *sqlparser.NullVal:
		return statement.LiteralValue(nil), true, nil
	case sqlparser.BoolVal:
		return statement.LiteralValue(bool(e)), true, nil
	case *sqlparser.SQLVal:
		raw := string(e.Val)
		switch e.Type {
		case sqlparser.StrVal:
			return statement.LiteralValue(raw), true, nil
		case sqlparser.IntVal:
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return statement.LiteralValue(n), true, nil
			}
			if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
				return statement.LiteralValue(n), true, nil
			}
			return statement.LiteralValue(raw), true, nil
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return statement.Value{}, false, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			return statement.LiteralValue(f), true, nil
		case sqlparser.ValArg:
			idx, err := paramIndex(raw)
			if err != nil {
				return statement.Value{}, false, err
			}
			return statement.ParamValue(idx), true, nil
		}
	}
	return statement.Value{}, false, nil
}

// paramIndex maps the tokenizer's ":vN" placeholder name to a 0-based index.
func paramIndex(name string) (int, error) {
	if !strings.HasPrefix(name, ":v") {
		return 0, fmt.Errorf("%w: named parameter %s", ErrUnsupportedSQL, name)
	}
	n, err := strconv.Atoi(name[2:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: named parameter %s", ErrUnsupportedSQL, name)
	}
	return n - 1, nil
}

func (b *binder) bindInsert(node *sqlparser.Insert) error {
	b.ctx.Kind = statement.Insert
	b.addTable(node.Table.Name.String(), "")
	rows, ok := node.Rows.(sqlparser.Values)
	if !ok {
		return fmt.Errorf("%w: INSERT ... SELECT", ErrUnsupportedSQL)
	}
	seg, err := b.insertOffsets()
	if err != nil {
		return err
	}
	for _, c := range node.Columns {
		seg.Columns = append(seg.Columns, c.String())
	}
	if len(seg.Tuples) != len(rows) {
		return fmt.Errorf("%w: cannot locate VALUES rows", ErrUnsupportedSQL)
	}
	for i, row := range rows {
		for _, expr := range row {
			v, ok, err := toValue(expr)
			if err != nil {
				return err
			}
			if !ok {
				v = statement.LiteralValue(statement.Raw(sqlparser.String(expr)))
			}
			seg.Tuples[i].Values = append(seg.Tuples[i].Values, v)
		}
	}
	if err := seg.Validate(); err != nil {
		return err
	}
	b.ctx.Insert = seg
	return nil
}
