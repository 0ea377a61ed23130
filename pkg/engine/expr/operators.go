package expr

import "strings"

// comparisonOps lists the binary operators ParseComparison recognizes,
// longest first so ">=" wins over ">".
var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// complements maps each operator to the operator that negates it over the
// same operands: "x > 5" and "x <= 5" partition the number line, as do
// "x == a" and "x != a".
var complements = map[string]string{
	"==": "!=",
	"!=": "==",
	">":  "<=",
	"<=": ">",
	"<":  ">=",
	">=": "<",
}

// Comparison is one parsed binary predicate of the form
// "variable OP literal". It is the analyzable subset of the expression
// language: the graph validator uses it to reason about whether a node's
// predicated edges partition the state space or leave a routing gap.
type Comparison struct {
	Variable string
	Op       string
	Literal  any
}

// ParseComparison extracts the structured form of a simple binary
// predicate. It reports false for anything richer (and/or/not chains,
// contains, truthiness checks, literal-vs-literal comparisons): those
// still evaluate at runtime, they just aren't statically analyzable.
func ParseComparison(expression string) (*Comparison, bool) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, false
	}
	// Compound and negated expressions are out of scope for analysis.
	for _, marker := range []string{" and ", " or ", " contains "} {
		if strings.Contains(expression, marker) {
			return nil, false
		}
	}
	if strings.HasPrefix(expression, "not ") || strings.HasPrefix(expression, "!") {
		return nil, false
	}

	for _, op := range comparisonOps {
		parts := strings.SplitN(expression, op, 2)
		if len(parts) != 2 {
			continue
		}
		left := strings.TrimSpace(parts[0])
		right := strings.TrimSpace(parts[1])
		if !isIdentifier(left) {
			return nil, false
		}
		// The right side must be a literal; an identifier there means
		// the predicate compares two variables, which analysis can't
		// bound.
		if !isLiteral(right) {
			return nil, false
		}
		return &Comparison{
			Variable: left,
			Op:       op,
			Literal:  Resolve(right, nil),
		}, true
	}
	return nil, false
}

// Complements reports whether c and o partition the space of values for
// the same variable: equal variable, equal literal, and operators that
// negate each other. A predicate pair like "score >= 50" / "score < 50"
// is exhaustive, so a node whose only two edges carry them has no
// routing gap.
func (c *Comparison) Complements(o *Comparison) bool {
	if c == nil || o == nil {
		return false
	}
	if c.Variable != o.Variable {
		return false
	}
	if complements[c.Op] != o.Op {
		return false
	}
	return literalEqual(c.Literal, o.Literal)
}

// ExhaustivePredicates reports whether the given predicate expressions
// contain at least one complementary pair, meaning every state matches
// one of them. Best-effort: only simple binary comparisons participate;
// anything unparseable makes the set non-provable and the result false.
func ExhaustivePredicates(expressions []string) bool {
	parsed := make([]*Comparison, 0, len(expressions))
	for _, e := range expressions {
		c, ok := ParseComparison(e)
		if !ok {
			return false
		}
		parsed = append(parsed, c)
	}
	for i := 0; i < len(parsed); i++ {
		for j := i + 1; j < len(parsed); j++ {
			if parsed[i].Complements(parsed[j]) {
				return true
			}
		}
	}
	return false
}

// isIdentifier reports whether s looks like a variable reference: a bare
// word that is not a quoted string, number, or keyword literal.
func isIdentifier(s string) bool {
	if s == "" || isLiteral(s) {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// isLiteral reports whether s is a self-evaluating token: quoted string,
// number, boolean, or null.
func isLiteral(s string) bool {
	if s == "" {
		return false
	}
	if (strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) ||
		(strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"")) {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "nil":
		return true
	}
	first := s[0]
	return first == '-' || (first >= '0' && first <= '9')
}

// literalEqual compares two resolved literals, letting ints and floats
// that denote the same number match.
func literalEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)
	return aNum && bNum && af == bf
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
