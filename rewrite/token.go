package rewrite

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// Token replaces [Start, Stop) of the logic SQL with per-unit text. Start == Stop inserts.
type Token interface {
	Start() int
	Stop() int
	Text(unit route.RoutingUnit) (string, error)
}

type span struct {
	start int
	stop  int
}

func (s span) Start() int { return s.start }
func (s span) Stop() int  { return s.stop }

// TableToken is a logic table name, replaced by the unit's actual table.
type TableToken struct {
	span
	Logic string
}

func (t TableToken) Text(unit route.RoutingUnit) (string, error) {
	actual, ok := unit.ActualTable(t.Logic)
	if !ok {
		return "", fmt.Errorf("%w: %s has no actual table on %s", ErrRewrite, t.Logic, unit.DataSourceName)
	}
	return actual, nil
}

type OffsetToken struct {
	span
	Offset int64
}

func (t OffsetToken) Text(route.RoutingUnit) (string, error) {
	return strconv.FormatInt(t.Offset, 10), nil
}

type RowCountToken struct {
	span
	RowCount int64
}

func (t RowCountToken) Text(route.RoutingUnit) (string, error) {
	return strconv.FormatInt(t.RowCount, 10), nil
}

// GeneratedKeyColumnToken appends the generated key column to the INSERT column list.
type GeneratedKeyColumnToken struct {
	span
	Column string
}

func (t GeneratedKeyColumnToken) Text(route.RoutingUnit) (string, error) {
	return ", " + t.Column, nil
}

// InsertValuesToken replaces the VALUES rows by the rows routed to the unit.
type InsertValuesToken struct {
	span
	Logic string
	Rows  []InsertRow
}

type InsertRow struct {
	Text string
	Node rule.DataNode
}

func (t InsertValuesToken) Text(unit route.RoutingUnit) (string, error) {
	var rows []string
	for _, r := range t.Rows {
		if routedTo(r.Node, t.Logic, unit) {
			rows = append(rows, r.Text)
		}
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no %s rows for %s", ErrRewrite, t.Logic, unit.DataSourceName)
	}
	return strings.Join(rows, ", "), nil
}

func routedTo(node rule.DataNode, logic string, unit route.RoutingUnit) bool {
	actual, ok := unit.ActualTable(logic)
	return ok && node.DataSource == unit.LogicDataSourceName && node.Table == actual
}

// DerivedProjectionToken appends select items the merge needs.
type DerivedProjectionToken struct {
	span
	Items []string
}

func (t DerivedProjectionToken) Text(route.RoutingUnit) (string, error) {
	return ", " + strings.Join(t.Items, ", "), nil
}

// validate sorts tokens by start and rejects overlapping ones, including two at the same start.
func validate(sql string, tokens []Token) error {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Start() < tokens[j].Start()
	})
	for i, t := range tokens {
		if t.Start() < 0 || t.Stop() > len(sql) || t.Start() > t.Stop() {
			return fmt.Errorf("%w: token [%d,%d) outside statement of length %d", ErrRewrite, t.Start(), t.Stop(), len(sql))
		}
		if i == 0 {
			continue
		}
		prev := tokens[i-1]
		if t.Start() < prev.Stop() || t.Start() == prev.Start() {
			return fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlappingTokens, prev.Start(), prev.Stop(), t.Start(), t.Stop())
		}
	}
	return nil
}

// build copies sql once from left to right, substituting token text.
func build(sql string, tokens []Token, unit route.RoutingUnit) (string, error) {
	var sb strings.Builder
	sb.Grow(len(sql) + 16*len(tokens))
	pos := 0
	for _, t := range tokens {
		sb.WriteString(sql[pos:t.Start()])
		text, err := t.Text(unit)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		pos = t.Stop()
	}
	sb.WriteString(sql[pos:])
	return sb.String(), nil
}

func newTableTokens(ctx *statement.Context) []Token {
	tokens := make([]Token, 0, len(ctx.TableSegments))
	for _, seg := range ctx.TableSegments {
		tokens = append(tokens, TableToken{span: span{seg.Start, seg.Stop}, Logic: seg.Name})
	}
	return tokens
}
