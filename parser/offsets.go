package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
	"gorm/shardroute/statement"
)

type token struct {
	typ   int
	val   []byte
	start int
	stop  int
	depth int
}

// tokenize scans sql once, recording offsets and parenthesis depth. Comments are dropped.
// After Scan the tokenizer sits one character past the token, so Position-1 is its end.
func tokenize(sql string) ([]token, error) {
	tkn := sqlparser.NewStringTokenizer(sql)
	var (
		out   []token
		depth int
	)
	for {
		typ, val := tkn.Scan()
		if typ == 0 {
			return out, nil
		}
		if typ == sqlparser.LEX_ERROR {
			return nil, fmt.Errorf("%w: near offset %d", ErrSyntax, tkn.Position)
		}
		if typ == sqlparser.COMMENT {
			continue
		}
		stop := tkn.Position - 1
		t := token{typ: typ, val: val, stop: stop, start: stop - width(sql, typ, val, stop)}
		if typ == ')' {
			depth--
		}
		t.depth = depth
		if typ == '(' {
			depth++
		}
		out = append(out, t)
	}
}

func width(sql string, typ int, val []byte, stop int) int {
	switch typ {
	case '(', ')', ',':
		return 1
	case sqlparser.VALUE_ARG:
		if stop > 0 && sql[stop-1] == '?' {
			return 1
		}
	case sqlparser.ID:
		if stop > 0 && sql[stop-1] == '`' {
			return len(val) + 2
		}
	}
	return len(val)
}

func (t token) is(keyword int) bool {
	return t.typ == keyword && t.depth == 0
}

// tableSegments marks every identifier naming a referenced table. Backquotes stay outside the segment.
func (b *binder) tableSegments() {
	if len(b.ctx.Tables) == 0 {
		return
	}
	for _, t := range b.tokens {
		if t.typ != sqlparser.ID {
			continue
		}
		for _, name := range b.ctx.Tables {
			if !strings.EqualFold(string(t.val), name) {
				continue
			}
			start, stop := t.start, t.stop
			if b.ctx.SQL[stop-1] == '`' {
				start, stop = start+1, stop-1
			}
			b.ctx.TableSegments = append(b.ctx.TableSegments, statement.TableSegment{Name: name, Start: start, Stop: stop})
			break
		}
	}
}

// selectItemsStop is the end of the last select item, just before the outer FROM.
func (b *binder) selectItemsStop() int {
	for i, t := range b.tokens {
		if t.is(sqlparser.FROM) && i > 0 {
			return b.tokens[i-1].stop
		}
	}
	return -1
}

// pagination reads the outer LIMIT clause: "LIMIT n", "LIMIT o, n" or "LIMIT n OFFSET o".
func (b *binder) pagination() (*statement.Pagination, error) {
	at := -1
	for i, t := range b.tokens {
		if t.is(sqlparser.LIMIT) {
			at = i
		}
	}
	if at < 0 {
		return nil, fmt.Errorf("%w: cannot locate LIMIT", ErrUnsupportedSQL)
	}
	first, err := b.paginationValue(at + 1)
	if err != nil {
		return nil, err
	}
	p := &statement.Pagination{RowCount: first}
	next := at + 2
	if next < len(b.tokens) {
		switch t := b.tokens[next]; {
		case t.typ == ',':
			second, err := b.paginationValue(next + 1)
			if err != nil {
				return nil, err
			}
			p.Offset, p.RowCount = first, second
		case t.typ == sqlparser.OFFSET:
			second, err := b.paginationValue(next + 1)
			if err != nil {
				return nil, err
			}
			p.Offset = second
		}
	}
	return p, nil
}

func (b *binder) paginationValue(i int) (*statement.PaginationValue, error) {
	if i >= len(b.tokens) {
		return nil, fmt.Errorf("%w: LIMIT without value", ErrSyntax)
	}
	t := b.tokens[i]
	pv := &statement.PaginationValue{Start: t.start, Stop: t.stop}
	switch t.typ {
	case sqlparser.INTEGRAL:
		n, err := strconv.ParseInt(string(t.val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: LIMIT %s", ErrSyntax, t.val)
		}
		pv.Value = statement.LiteralValue(n)
	case sqlparser.VALUE_ARG:
		idx, err := paramIndex(string(t.val))
		if err != nil {
			return nil, err
		}
		pv.Value = statement.ParamValue(idx)
	default:
		return nil, fmt.Errorf("%w: LIMIT %s", ErrUnsupportedSQL, t.val)
	}
	return pv, nil
}

// insertOffsets locates the column list and each VALUES tuple, and counts the placeholders every
// tuple owns.
func (b *binder) insertOffsets() (*statement.InsertSegment, error) {
	seg := &statement.InsertSegment{ColumnsStop: -1, ValuesStart: -1}
	params := 0
	i := 0
	for ; i < len(b.tokens); i++ {
		t := b.tokens[i]
		if t.is(sqlparser.VALUES) {
			break
		}
		if t.typ == ')' && t.depth == 0 {
			seg.ColumnsStop = t.start
		}
		if t.typ == sqlparser.VALUE_ARG {
			params++
		}
	}
	if i == len(b.tokens) {
		return nil, fmt.Errorf("%w: INSERT without VALUES", ErrUnsupportedSQL)
	}
	var current *statement.InsertTuple
	for i++; i < len(b.tokens); i++ {
		t := b.tokens[i]
		if t.typ == sqlparser.VALUE_ARG {
			params++
			if current != nil {
				current.ParamCount++
			}
		}
		if t.depth != 0 {
			continue
		}
		switch {
		case t.typ == '(' && current == nil:
			current = &statement.InsertTuple{Start: t.start, ParamStart: params}
			if seg.ValuesStart < 0 {
				seg.ValuesStart = t.start
			}
		case t.typ == ')' && current != nil:
			current.Stop = t.stop
			seg.ValuesStop = t.stop
			seg.Tuples = append(seg.Tuples, *current)
			current = nil
		case t.typ == ',':
		default:
			return seg, nil
		}
	}
	return seg, nil
}
