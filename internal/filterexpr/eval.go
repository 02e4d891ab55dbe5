package filterexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Match implements Expr.
func (l *Logical) Match(get Getter) bool {
	if l.Op == "&&" {
		return l.Left.Match(get) && l.Right.Match(get)
	}
	return l.Left.Match(get) || l.Right.Match(get)
}

// Match implements Expr.
func (c *Comparison) Match(get Getter) bool {
	left := c.Left.resolve(get)
	right := c.Right.resolve(get)

	switch c.Op {
	case "=":
		return equal(left, right)
	case "!=":
		return !equal(left, right)
	case "~":
		return like(left, right)
	case "!~":
		return !like(left, right)
	case ">", ">=", "<", "<=":
		cmp, ok := compare(left, right)
		if !ok {
			return false
		}
		switch c.Op {
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		case "<":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func (o Operand) resolve(get Getter) any {
	switch o.Kind {
	case OperandString:
		return o.Text
	case OperandNumber:
		return o.Number
	case OperandBool:
		return o.Bool
	case OperandNull:
		return nil
	}
	if get == nil {
		return nil
	}
	v, ok := get(o.Text)
	if !ok {
		return nil
	}
	return normalize(v)
}

// normalize folds the many numeric and time types a record may carry into
// float64 and string so comparisons only deal with a handful of shapes.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format("2006-01-02 15:04:05.000Z")
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func equal(a, b any) bool {
	if isBlank(a) && isBlank(b) {
		return true
	}
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return text(a) == text(b)
}

func compare(a, b any) (int, bool) {
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// like is a case-insensitive "contains". A pattern carrying '%' is treated as
// an explicit wildcard pattern instead.
func like(a, b any) bool {
	haystack := strings.ToLower(text(a))
	pattern := strings.ToLower(text(b))
	if !strings.Contains(pattern, "%") {
		return strings.Contains(haystack, pattern)
	}
	return wildcard(haystack, strings.Split(pattern, "%"))
}

// wildcard matches s against the literal parts that surround each '%'.
func wildcard(s string, parts []string) bool {
	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
