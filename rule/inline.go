package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandInline expands an inline expression into its values, left to right:
//
//	ds_${0..1}.t_order_${0..1}      -> ds_0.t_order_0, ds_0.t_order_1, ds_1.t_order_0, ds_1.t_order_1
//	ds_${['a','b']}                  -> ds_a, ds_b
//	ds_0.t_${0..1},ds_1.t_${2..3}    -> groups separated by commas outside ${}
func ExpandInline(expr string) ([]string, error) {
	groups, err := splitGroups(expr)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, g := range groups {
		expanded, err := expandGroup(g)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func splitGroups(expr string) ([]string, error) {
	var (
		groups []string
		depth  int
		start  int
	)
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced '}' in %q", ErrInvalidExpression, expr)
			}
		case ',':
			if depth == 0 {
				groups = append(groups, strings.TrimSpace(expr[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unclosed '${' in %q", ErrInvalidExpression, expr)
	}
	groups = append(groups, strings.TrimSpace(expr[start:]))
	for _, g := range groups {
		if g == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidExpression, expr)
		}
	}
	return groups, nil
}

func expandGroup(group string) ([]string, error) {
	results := []string{""}
	rest := group
	for rest != "" {
		start := strings.Index(rest, "${")
		if start < 0 {
			for i := range results {
				results[i] += rest
			}
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed '${' in %q", ErrInvalidExpression, group)
		}
		end += start
		values, err := expandPlaceholder(rest[start+2 : end])
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, group)
		}
		next := make([]string, 0, len(results)*len(values))
		for _, r := range results {
			for _, v := range values {
				next = append(next, r+rest[:start]+v)
			}
		}
		results = next
		rest = rest[end+1:]
	}
	return results, nil
}

// expandPlaceholder handles "a..b" integer ranges and "[x, 'y']" lists.
func expandPlaceholder(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "[") && strings.HasSuffix(body, "]") {
		var values []string
		for _, each := range strings.Split(body[1:len(body)-1], ",") {
			v := strings.Trim(strings.TrimSpace(each), `'"`)
			if v == "" {
				return nil, fmt.Errorf("%w: empty list element", ErrInvalidExpression)
			}
			values = append(values, v)
		}
		return values, nil
	}
	lo, hi, ok := strings.Cut(body, "..")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported placeholder %q", ErrInvalidExpression, body)
	}
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return nil, fmt.Errorf("%w: range start %q", ErrInvalidExpression, lo)
	}
	to, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return nil, fmt.Errorf("%w: range end %q", ErrInvalidExpression, hi)
	}
	if to < from {
		return nil, fmt.Errorf("%w: descending range %d..%d", ErrInvalidExpression, from, to)
	}
	values := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		values = append(values, strconv.Itoa(i))
	}
	return values, nil
}
