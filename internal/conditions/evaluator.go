package conditions

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"voice-platform/pkg/logger"
)

// Evaluate runs a single binary comparison expression against variable bindings.
//
// Grammar: exactly `left OP right` with OP in {==, !=, >, <, >=, <=}.
// Boolean connectives do NOT exist at this level; rules combine conditions
// one level up (see CombineRuleConditions).
//
// Operand resolution, in order:
//  1. quoted ('...' or "...") -> literal string
//  2. bound variable name     -> bound value
//  3. true/false (any case)   -> bool
//  4. numeric-looking token   -> int, then float
//  5. anything else           -> string
//
// Comparison: bool vs bool as bools, number vs number numerically,
// everything else as strings. The string fallback is load-bearing:
// stored rule conditions rely on loose typing.
//
// Evaluate never panics and never returns an error. A malformed expression
// must not take down call handling, so it logs a warning and yields false.
func Evaluate(ctx context.Context, expr string, bindings map[string]any) bool {
	log := logger.From(ctx)

	left, op, right, ok := splitComparison(expr)
	if !ok {
		log.Warn("condition parse failed", "expr", expr)
		return false
	}

	lv := resolveOperand(left, bindings)
	rv := resolveOperand(right, bindings)

	res, ok := compare(lv, op, rv)
	if !ok {
		log.Warn("condition compare failed", "expr", expr, "op", op)
		return false
	}
	return res
}

// Operator is a comparison operator inside a rule condition.
type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="
)

// Logic combines one condition's result with the running result.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is one entry in a rule's ordered condition list.
// Logic applies between this condition's result and the running result
// computed from the conditions before it (left-to-right fold). The first
// condition's Logic is ignored.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
	Logic    Logic    `json:"logic,omitempty"`
}

// CombineRuleConditions evaluates an ordered condition list with the
// left-fold AND/OR semantics stored rule definitions encode.
//
// An empty list always matches. This is deliberately NOT conventional
// boolean-algebra grouping; do not "fix" it.
func CombineRuleConditions(ctx context.Context, conds []Condition, bindings map[string]any) bool {
	if len(conds) == 0 {
		return true
	}

	result := evalOne(ctx, conds[0], bindings)
	for _, c := range conds[1:] {
		next := evalOne(ctx, c, bindings)
		if c.Logic == LogicOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func evalOne(ctx context.Context, c Condition, bindings map[string]any) bool {
	expr := c.Field + " " + string(c.Operator) + " " + quoteIfNeeded(c.Value)
	return Evaluate(ctx, expr, bindings)
}

// quoteIfNeeded keeps stored values that contain spaces intact as a single
// right-hand operand.
func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \t") && !isQuoted(v) {
		return "'" + v + "'"
	}
	return v
}

// operators ordered so two-char forms are tried before their one-char prefix.
var operators = []Operator{OpGte, OpLte, OpEq, OpNeq, OpGt, OpLt}

func splitComparison(expr string) (left string, op Operator, right string, ok bool) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return "", "", "", false
	}

	for _, candidate := range operators {
		idx := indexOutsideQuotes(s, string(candidate))
		if idx <= 0 {
			continue
		}
		l := strings.TrimSpace(s[:idx])
		r := strings.TrimSpace(s[idx+len(candidate):])
		if l == "" || r == "" {
			return "", "", "", false
		}
		return l, candidate, r, true
	}
	return "", "", "", false
}

// indexOutsideQuotes finds op outside single/double quoted regions.
func indexOutsideQuotes(s, op string) int {
	var quote byte
	for i := 0; i+len(op) <= len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if s[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}

var (
	intPattern   = regexp.MustCompile(`^-?\d+$`)
	floatPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
)

func resolveOperand(tok string, bindings map[string]any) any {
	if isQuoted(tok) {
		return tok[1 : len(tok)-1]
	}
	if v, ok := bindings[tok]; ok {
		return v
	}
	switch strings.ToLower(tok) {
	case "true":
		return true
	case "false":
		return false
	}
	if intPattern.MatchString(tok) {
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return n
		}
	}
	if floatPattern.MatchString(tok) {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return f
		}
	}
	return tok
}

func isQuoted(tok string) bool {
	if len(tok) < 2 {
		return false
	}
	return (tok[0] == '\'' && tok[len(tok)-1] == '\'') ||
		(tok[0] == '"' && tok[len(tok)-1] == '"')
}

func compare(left any, op Operator, right any) (bool, bool) {
	lb, lIsBool := left.(bool)
	rb, rIsBool := right.(bool)
	if lIsBool && rIsBool {
		switch op {
		case OpEq:
			return lb == rb, true
		case OpNeq:
			return lb != rb, true
		default:
			// Ordering booleans is meaningless; treat as malformed.
			return false, false
		}
	}

	lf, lIsNum := asFloat(left)
	rf, rIsNum := asFloat(right)
	if lIsNum && rIsNum {
		return compareOrdered(lf, op, rf)
	}

	return compareOrdered(asString(left), op, asString(right))
}

func compareOrdered[T float64 | string](l T, op Operator, r T) (bool, bool) {
	switch op {
	case OpEq:
		return l == r, true
	case OpNeq:
		return l != r, true
	case OpGt:
		return l > r, true
	case OpLt:
		return l < r, true
	case OpGte:
		return l >= r, true
	case OpLte:
		return l <= r, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
