package sandbox

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Declaration is the global function a chunk of skill code defines.
type Declaration struct {
	Name   string
	Params []string
	Line   int
}

// Declare parses code without running it and returns the last top-level
// global function it declares, either `function name(...)` or
// `name = function(...)`.
func Declare(code string) (Declaration, error) {
	stmts, err := parse.Parse(strings.NewReader(code), "<skill>")
	if err != nil {
		return Declaration{}, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return declaration(stmts)
}

func declaration(stmts []ast.Stmt) (Declaration, error) {
	var decl Declaration
	for _, st := range stmts {
		switch s := st.(type) {
		case *ast.FuncDefStmt:
			id, ok := s.Name.Func.(*ast.IdentExpr)
			if !ok || s.Name.Receiver != nil {
				continue
			}
			decl = Declaration{Name: id.Value, Params: s.Func.ParList.Names, Line: s.Line()}
		case *ast.AssignStmt:
			if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
				continue
			}
			id, ok := s.Lhs[0].(*ast.IdentExpr)
			fn, isFn := s.Rhs[0].(*ast.FunctionExpr)
			if ok && isFn {
				decl = Declaration{Name: id.Value, Params: fn.ParList.Names, Line: s.Line()}
			}
		}
	}
	if decl.Name == "" {
		return Declaration{}, fmt.Errorf("%w: no global function declared", ErrCompile)
	}
	return decl, nil
}

// Rename replaces the identifier from with to wherever code uses it as a
// name. Comments, string literals and field names after `.` or `:` are left
// as they are. Code that does not scan is returned unchanged.
func Rename(code, from, to string) string {
	if from == to || from == "" {
		return code
	}
	starts := lineStarts(code)
	sc := parse.NewScanner(strings.NewReader(code), "<skill>")
	lx := &parse.Lexer{}
	var offsets []int
	for {
		tok, err := sc.Scan(lx)
		if err != nil {
			return code
		}
		if tok.Type == parse.EOF {
			break
		}
		prev := lx.PrevTokenType
		lx.PrevTokenType = tok.Type
		if tok.Type != parse.TIdent || tok.Str != from || prev == '.' || prev == ':' {
			continue
		}
		if tok.Pos.Line < 1 || tok.Pos.Line > len(starts) {
			continue
		}
		off := starts[tok.Pos.Line-1] + tok.Pos.Column - 1
		if off >= 0 && strings.HasPrefix(code[off:], from) {
			offsets = append(offsets, off)
		}
	}

	var b strings.Builder
	b.Grow(len(code) + len(offsets)*(len(to)-len(from)))
	last := 0
	for _, off := range offsets {
		b.WriteString(code[last:off])
		b.WriteString(to)
		last = off + len(from)
	}
	b.WriteString(code[last:])
	return b.String()
}

// lineStarts returns the byte offset of each line in code.
func lineStarts(code string) []int {
	starts := []int{0}
	for i := 0; i < len(code); i++ {
		if code[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// docComment returns the `--` comment block directly above line, or failing
// that, the one directly below it at the start of the function body.
func docComment(code string, line int) string {
	lines := strings.Split(code, "\n")
	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return ""
	}

	var above []string
	for i := idx - 1; i >= 0; i-- {
		text, ok := commentText(lines[i])
		if !ok {
			break
		}
		above = append([]string{text}, above...)
	}
	if len(above) > 0 {
		return strings.TrimSpace(strings.Join(above, "\n"))
	}

	var below []string
	for i := idx + 1; i < len(lines); i++ {
		text, ok := commentText(lines[i])
		if !ok {
			break
		}
		below = append(below, text)
	}
	return strings.TrimSpace(strings.Join(below, "\n"))
}

func commentText(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "--") || strings.HasPrefix(t, "--[[") {
		return "", false
	}
	t = strings.TrimPrefix(t, "--")
	return strings.TrimPrefix(t, " "), true
}
