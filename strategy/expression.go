package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"gorm/shardroute/util/sqlval"
	"gorm/shardroute/util/str"
)

const expressionKey = "algorithm-expression"

// expressionFunctions 分片表达式可用的函数
var expressionFunctions = map[string]govaluate.ExpressionFunction{
	"parse": func(args ...interface{}) (interface{}, error) {
		s := ""
		for _, arg := range args {
			s += formatResult(arg)
		}
		return s, nil
	},
	"hashcode": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("hashcode takes 1 argument, got %d", len(args))
		}
		return float64(str.Hashcode(formatResult(args[0]))), nil
	},
	"mod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("mod takes 2 arguments, got %d", len(args))
		}
		a, err := strconv.ParseInt(formatResult(args[0]), 10, 64)
		if err != nil {
			return nil, err
		}
		b, err := strconv.ParseInt(formatResult(args[1]), 10, 64)
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return nil, fmt.Errorf("mod by zero")
		}
		return float64(a % b), nil
	},
}

// expression is either an inline template such as "t_order_${user_id % 2}" or a plain govaluate
// expression such as "parse('t_order_', mod(user_id, 2))".
type expression struct {
	literals []string
	parts    []*govaluate.EvaluableExpression
}

func compileExpression(text string) (*expression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: %q is required", ErrInvalidProperty, expressionKey)
	}
	e := &expression{}
	if !strings.Contains(text, "${") {
		compiled, err := govaluate.NewEvaluableExpressionWithFunctions(text, expressionFunctions)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidProperty, text, err)
		}
		e.literals = []string{"", ""}
		e.parts = []*govaluate.EvaluableExpression{compiled}
		return e, nil
	}
	rest := text
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			e.literals = append(e.literals, rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed ${ in %q", ErrInvalidProperty, text)
		}
		end += start
		compiled, err := govaluate.NewEvaluableExpressionWithFunctions(rest[start+2:end], expressionFunctions)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidProperty, text, err)
		}
		e.literals = append(e.literals, rest[:start])
		e.parts = append(e.parts, compiled)
		rest = rest[end+1:]
	}
	return e, nil
}

// vars returns the lowercase variables the expression reads.
func (e *expression) vars() []string {
	var out []string
	for _, p := range e.parts {
		for _, v := range p.Vars() {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}

func (e *expression) evaluate(params map[string]interface{}) (string, error) {
	var b strings.Builder
	for i, p := range e.parts {
		b.WriteString(e.literals[i])
		result, err := p.Evaluate(params)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrShardingValue, err)
		}
		b.WriteString(formatResult(result))
	}
	b.WriteString(e.literals[len(e.literals)-1])
	return b.String(), nil
}

// expressionParam converts a sharding value to what govaluate works with: numbers as float64.
func expressionParam(v any) any {
	v = sqlval.Normalize(v)
	if _, isString := v.(string); isString {
		return v
	}
	if f, ok := sqlval.AsFloat64(v); ok {
		return f
	}
	return v
}

func formatResult(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	}
	return fmt.Sprintf("%v", v)
}

// InlineAlgorithm evaluates an expression over the sharding column to get the target name.
type InlineAlgorithm struct {
	expr *expression
}

func newInlineAlgorithm(props Props) (any, error) {
	e, err := compileExpression(props[expressionKey])
	if err != nil {
		return nil, err
	}
	return &InlineAlgorithm{expr: e}, nil
}

func (a *InlineAlgorithm) DoPrecise(_ []string, value PreciseValue) (string, error) {
	v := expressionParam(value.Value)
	return a.expr.evaluate(map[string]interface{}{
		value.Column:                  v,
		strings.ToLower(value.Column): v,
	})
}

// ComplexInlineAlgorithm evaluates an expression over several columns, once per combination of
// their values.
type ComplexInlineAlgorithm struct {
	expr *expression
}

func newComplexInlineAlgorithm(props Props) (any, error) {
	e, err := compileExpression(props[expressionKey])
	if err != nil {
		return nil, err
	}
	return &ComplexInlineAlgorithm{expr: e}, nil
}

func (a *ComplexInlineAlgorithm) DoComplex(targets []string, values []Value) ([]string, error) {
	columnValues := map[string][]any{}
	for _, each := range values {
		lv, ok := each.(ListValue)
		if !ok {
			// ranges cannot be enumerated through an expression
			return targets, nil
		}
		key := strings.ToLower(lv.Column)
		columnValues[key] = append(columnValues[key], lv.Values...)
	}
	vars := a.expr.vars()
	for _, v := range vars {
		if len(columnValues[v]) == 0 {
			return targets, nil
		}
	}
	var names []string
	combos := []map[string]interface{}{{}}
	for _, v := range dedupe(vars) {
		var next []map[string]interface{}
		for _, combo := range combos {
			for _, value := range columnValues[v] {
				c := make(map[string]interface{}, len(combo)+1)
				for k, x := range combo {
					c[k] = x
				}
				c[v] = expressionParam(value)
				next = append(next, c)
			}
		}
		combos = next
	}
	for _, combo := range combos {
		name, err := a.expr.evaluate(combo)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return keepTargetOrder(targets, dedupe(names)), nil
}

// HintInlineAlgorithm evaluates an expression over the hint variable "value".
type HintInlineAlgorithm struct {
	expr *expression
}

func newHintInlineAlgorithm(props Props) (any, error) {
	e, err := compileExpression(props[expressionKey])
	if err != nil {
		return nil, err
	}
	return &HintInlineAlgorithm{expr: e}, nil
}

func (a *HintInlineAlgorithm) DoHint(targets []string, value ListValue) ([]string, error) {
	var names []string
	for _, each := range value.Values {
		name, err := a.expr.evaluate(map[string]interface{}{"value": expressionParam(each)})
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return keepTargetOrder(targets, dedupe(names)), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
