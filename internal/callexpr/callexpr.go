// Package callexpr parses the call expressions a language model emits when it
// selects a skill, e.g. `move(x=10, y=0, z=90)` or `[open_map(), dance()]`.
//
// The grammar is deliberately tiny. Argument values are literals only
// (numbers, quoted strings, booleans, null and lists of those) and are decoded
// without evaluating anything, so model output never reaches an interpreter
// through this package. Only keyword arguments are accepted.
package callexpr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrParse is matched by every error returned from this package.
var ErrParse = errors.New("callexpr: parse error")

// ParseError describes a malformed expression.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("callexpr: %s at offset %d in %q", e.Msg, e.Pos, e.Expr)
}

func (e *ParseError) Unwrap() error { return ErrParse }

func newParseError(expr string, pos int, format string, args ...any) *ParseError {
	return &ParseError{Expr: expr, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Call is one parsed skill invocation.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`

	order []string
}

// Keywords returns the argument names in the order they were written.
func (c Call) Keywords() []string {
	if len(c.order) == len(c.Args) {
		return append([]string(nil), c.order...)
	}
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the call back into expression form.
func (c Call) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('(')
	for i, k := range c.Keywords() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(c.Args[k]))
	}
	b.WriteByte(')')
	return b.String()
}

// FormatValue renders a literal value in expression syntax.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}

// Parse parses either a single call or a bracketed list of calls. A bare name
// without parentheses is a call with no arguments.
func Parse(expr string) ([]Call, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}

	var calls []Call
	if p.tok.kind == tokLBrack {
		calls, err = p.parseCallList()
	} else {
		var c Call
		c, err = p.parseCall()
		calls = []Call{c}
	}
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s after expression", p.tok.kind)
	}
	return calls, nil
}

// ParseCall parses exactly one call expression.
func ParseCall(expr string) (Call, error) {
	p, err := newParser(expr)
	if err != nil {
		return Call{}, err
	}
	c, err := p.parseCall()
	if err != nil {
		return Call{}, err
	}
	if p.tok.kind != tokEOF {
		return Call{}, p.errorf("unexpected %s after call", p.tok.kind)
	}
	return c, nil
}

// Name extracts the skill name from a call expression, or returns the trimmed
// input when it is not a well-formed call.
func Name(expr string) string {
	if c, err := ParseCall(expr); err == nil {
		return c.Name
	}
	return strings.TrimSpace(expr)
}

type parser struct {
	lex *lexer
	tok token
}

func newParser(expr string) (*parser, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, newParseError(expr, 0, "empty expression")
	}
	if err := checkBalance(expr); err != nil {
		return nil, err
	}
	p := &parser{lex: &lexer{src: expr}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, newParseError(expr, 0, "empty expression")
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(kind tokenKind) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s, found %s", kind, p.tok.kind)
	}
	return p.advance()
}

func (p *parser) errorf(format string, args ...any) error {
	return newParseError(p.lex.src, p.tok.pos, format, args...)
}

func (p *parser) parseCallList() ([]Call, error) {
	if err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	calls := []Call{}
	for p.tok.kind != tokRBrack {
		if p.tok.kind != tokIdent {
			return nil, p.errorf("list contains non-call item")
		}
		c, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind != tokRBrack {
			return nil, p.errorf("expected ',' or ']' in call list, found %s", p.tok.kind)
		}
	}
	return calls, p.advance()
}

func (p *parser) parseCall() (Call, error) {
	if p.tok.kind != tokIdent {
		return Call{}, p.errorf("expected skill name, found %s", p.tok.kind)
	}
	c := Call{Name: p.tok.text, Args: map[string]any{}}
	if err := p.advance(); err != nil {
		return Call{}, err
	}
	if p.tok.kind != tokLParen {
		return c, nil
	}

	open := p.tok.pos
	if err := p.advance(); err != nil {
		return Call{}, err
	}
	for p.tok.kind != tokRParen {
		if err := p.parseKeyword(&c); err != nil {
			return Call{}, err
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return Call{}, err
			}
			continue
		}
		if p.tok.kind != tokRParen {
			return Call{}, p.errorf("expected ',' or ')', found %s", p.tok.kind)
		}
	}
	closing := p.tok.pos
	if err := p.advance(); err != nil {
		return Call{}, err
	}

	// Argument text that looks like something but produced no keywords is
	// garbled output, not an empty call.
	if raw := strings.TrimSpace(p.lex.src[open+1 : closing]); raw != "" && len(c.Args) == 0 {
		return Call{}, newParseError(p.lex.src, open+1, "call arguments not properly parsed")
	}
	return c, nil
}

func (p *parser) parseKeyword(c *Call) error {
	if p.tok.kind != tokIdent {
		return p.errorf("positional arguments are not supported")
	}
	name, pos := p.tok.text, p.tok.pos
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokAssign {
		return newParseError(p.lex.src, pos, "positional arguments are not supported")
	}
	if err := p.advance(); err != nil {
		return err
	}
	if _, dup := c.Args[name]; dup {
		return newParseError(p.lex.src, pos, "duplicate keyword argument %q", name)
	}
	v, err := p.parseValue()
	if err != nil {
		return err
	}
	c.Args[name] = v
	c.order = append(c.order, name)
	return nil
}

func (p *parser) parseValue() (any, error) {
	t := p.tok
	switch t.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return parseNumber(p.lex.src, t)
	case tokString:
		return t.text, p.advance()
	case tokIdent:
		v, ok := literalIdent(t.text)
		if !ok {
			return nil, p.errorf("value %q is not a literal", t.text)
		}
		return v, p.advance()
	case tokLBrack:
		return p.parseList()
	}
	return nil, p.errorf("expected literal value, found %s", t.kind)
}

func (p *parser) parseList() (any, error) {
	if err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	items := []any{}
	for p.tok.kind != tokRBrack {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind != tokRBrack {
			return nil, p.errorf("expected ',' or ']' in list, found %s", p.tok.kind)
		}
	}
	return items, p.advance()
}

// literalIdent maps boolean and null spellings to values. Booleans are
// matched case-insensitively since models emit both `true` and `True`.
func literalIdent(s string) (any, bool) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	case s == "None" || s == "null" || s == "nil":
		return nil, true
	}
	return nil, false
}

func parseNumber(src string, t token) (any, error) {
	if !strings.ContainsAny(t.text, ".eE") {
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, newParseError(src, t.pos, "integer %s out of range", t.text)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return nil, newParseError(src, t.pos, "malformed number %s", t.text)
	}
	return f, nil
}
