// Package condition evaluates task guard expressions.
//
// The grammar is limited to literal comparison and boolean composition:
//
//	expr    := or
//	or      := and ( ("or" | "||") and )*
//	and     := not ( ("and" | "&&") not )*
//	not     := ("not" | "!") not | cmp
//	cmp     := primary ( ("==" | "!=") primary )?
//	primary := STRING | NUMBER | BOOL | "(" expr ")"
//
// Strings are single or double quoted. Booleans are true/false (True/False
// are accepted). Variable references are expanded before parsing, so an
// expression never reaches anything but literals.
package condition

import (
	"fmt"
	"strings"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

// Kind classifies condition errors.
type Kind string

const (
	KindSyntax     Kind = "syntax"
	KindEvaluation Kind = "evaluation"
)

// Error is returned for malformed or unevaluable expressions.
type Error struct {
	Kind    Kind
	Expr    string
	Pos     int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("condition %s error at offset %d in %q: %s", e.Kind, e.Pos, e.Expr, e.Message)
}

func syntaxError(expr string, pos int, format string, args ...any) *Error {
	return &Error{Kind: KindSyntax, Expr: expr, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Expression is a parsed condition.
type Expression struct {
	src  string
	root node
}

// Parse compiles src into an Expression.
func Parse(src string) (*Expression, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxError(src, tok.pos, "unexpected %s", tok.kind)
	}
	return &Expression{src: src, root: root}, nil
}

// String returns the source of the expression.
func (e *Expression) String() string {
	return e.src
}

// Eval evaluates the expression and returns its truthiness.
func (e *Expression) Eval() (bool, error) {
	v, err := e.root.eval()
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

// Evaluate parses and evaluates src. A blank expression is true.
func Evaluate(src string) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval()
}

// Evaluator evaluates task conditions against a variable pool.
type Evaluator struct {
	pool *variables.Pool
}

// NewEvaluator returns an evaluator reading from pool.
func NewEvaluator(pool *variables.Pool) *Evaluator {
	return &Evaluator{pool: pool}
}

// EvaluateFor interpolates cond against the capability's scoped view and
// evaluates it. A nil condition is always true.
//
// Values substituted inside a quoted literal are escaped so they stay part
// of that literal. Outside quotes a value must be a single boolean or
// number.
func (ev *Evaluator) EvaluateFor(capability string, cond *string) (bool, error) {
	if cond == nil {
		return true, nil
	}
	expanded, err := expand(*cond, ev.pool.ScopedView(capability))
	if err != nil {
		return false, err
	}
	return Evaluate(expanded)
}

// expand substitutes ${{ name }} references in src. Unknown names become "".
func expand(src string, scope variables.Scope) (string, error) {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(src); {
		c := src[i]
		if quote != 0 && c == '\\' && i+1 < len(src) {
			b.WriteString(src[i : i+2])
			i += 2
			continue
		}
		if strings.HasPrefix(src[i:], "${{") {
			if end := strings.Index(src[i:], "}}"); end >= 0 {
				name := strings.TrimSpace(src[i+3 : i+end])
				value := ""
				if v, ok := scope[name]; ok {
					value = v.String()
				}
				if quote != 0 {
					b.WriteString(escapeLiteral(value))
				} else {
					if !isScalarLiteral(value) {
						return "", &Error{Kind: KindEvaluation, Expr: src, Pos: i,
							Message: fmt.Sprintf("value of %s is not a boolean or number, quote the reference", name)}
					}
					b.WriteString(value)
				}
				i += end + 2
				continue
			}
		}
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case c == quote:
			quote = 0
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// escapeLiteral backslash-escapes quotes and backslashes.
func escapeLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '\'' || c == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// isScalarLiteral reports whether s lexes as exactly one boolean or number.
func isScalarLiteral(s string) bool {
	tokens, err := lex(strings.TrimSpace(s))
	if err != nil || len(tokens) != 2 {
		return false
	}
	return tokens[0].kind == tokBool || tokens[0].kind == tokNumber
}

// Check reports syntax errors in cond without variable context. Each
// reference is replaced by the literal 0 first.
func Check(cond string) error {
	if strings.TrimSpace(cond) == "" {
		return nil
	}
	_, err := Parse(stubReferences(cond))
	return err
}

func stubReferences(s string) string {
	for {
		start := strings.Index(s, "${{")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return s
		}
		s = s[:start] + "0" + s[start+end+2:]
	}
}
