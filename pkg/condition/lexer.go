package condition

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokBool:
		return "boolean"
	case tokAnd:
		return "'and'"
	case tokOr:
		return "'or'"
	case tokNot:
		return "'not'"
	case tokEq:
		return "'=='"
	case tokNeq:
		return "'!='"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokEq, text: "==", pos: i})
				i += 2
				continue
			}
			return nil, syntaxError(src, i, "unexpected '=', did you mean '=='")
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokNeq, text: "!=", pos: i})
				i += 2
				continue
			}
			tokens = append(tokens, token{kind: tokNot, text: "!", pos: i})
			i++
		case c == '&':
			if i+1 < len(src) && src[i+1] == '&' {
				tokens = append(tokens, token{kind: tokAnd, text: "&&", pos: i})
				i += 2
				continue
			}
			return nil, syntaxError(src, i, "unexpected '&'")
		case c == '|':
			if i+1 < len(src) && src[i+1] == '|' {
				tokens = append(tokens, token{kind: tokOr, text: "||", pos: i})
				i += 2
				continue
			}
			return nil, syntaxError(src, i, "unexpected '|'")
		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next
		case c == '-' || c == '+' || c == '.' || isDigit(c):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == 'e' || src[i] == 'E' ||
				((src[i] == '-' || src[i] == '+') && (src[i-1] == 'e' || src[i-1] == 'E'))) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case c >= utf8.RuneSelf || isIdentStart(rune(c)):
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if i == start && !isIdentStart(r) {
					return nil, syntaxError(src, i, "unexpected character %q", r)
				}
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			word := src[start:i]
			switch word {
			case "and":
				tokens = append(tokens, token{kind: tokAnd, text: word, pos: start})
			case "or":
				tokens = append(tokens, token{kind: tokOr, text: word, pos: start})
			case "not":
				tokens = append(tokens, token{kind: tokNot, text: word, pos: start})
			case "true", "True", "false", "False":
				tokens = append(tokens, token{kind: tokBool, text: strings.ToLower(word), pos: start})
			default:
				return nil, syntaxError(src, start, "unknown identifier %q, quote string literals", word)
			}
		default:
			return nil, syntaxError(src, i, "unexpected character %q", c)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

// lexString reads a quoted literal starting at src[start]. Backslash
// escapes the quote character and itself.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			next := src[i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, syntaxError(src, start, "unterminated string literal")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
