// Package sandbox runs model-authored skill code in a restricted Lua
// interpreter. Chunks see only the base, table, string and math libraries
// plus one global per catalog skill; there is no file, OS or module access.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/skill"
)

var (
	// ErrCompile is returned when skill code fails to parse or execute.
	ErrCompile = errors.New("sandbox: compile failed")
	// ErrContract is returned when a skill's documentation does not
	// describe each parameter exactly once.
	ErrContract = errors.New("sandbox: contract violation")
)

// Host is what sandboxed code can call back into.
type Host interface {
	Names() []string
	Params(name string) ([]skill.Param, bool)
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// Options bounds each interpreter state.
type Options struct {
	CallStackSize int `json:"call_stack_size" yaml:"call_stack_size"`
	RegistrySize  int `json:"registry_size" yaml:"registry_size"`
}

// Sandbox compiles skill code into Programs bound to a Host.
type Sandbox struct {
	host   Host
	opts   Options
	logger *zap.Logger
}

// New creates a Sandbox. Zero option values fall back to small defaults.
func New(host Host, opts Options, logger *zap.Logger) *Sandbox {
	if opts.CallStackSize <= 0 {
		opts.CallStackSize = 256
	}
	if opts.RegistrySize <= 0 {
		opts.RegistrySize = 1024 * 16
	}
	return &Sandbox{host: host, opts: opts, logger: logger}
}

var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage", "setfenv", "getfenv"}

// newState returns a fresh interpreter. When live is false, host skills are
// bound to stubs that refuse to run, so loading a chunk has no side effects.
func (s *Sandbox) newState(ctx context.Context, live bool, hostErr *error) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: s.opts.CallStackSize,
		RegistrySize:  s.opts.RegistrySize,
	})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, g := range removedGlobals {
		L.SetGlobal(g, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		s.logger.Info("skill print", zap.String("text", strings.Join(parts, "\t")))
		return 0
	}))

	if s.host != nil {
		for _, name := range s.host.Names() {
			if L.GetGlobal(name) != lua.LNil {
				continue
			}
			if live {
				L.SetGlobal(name, L.NewFunction(s.binding(ctx, name, hostErr)))
			} else {
				n := name
				L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
					L.RaiseError("skill %s cannot be called while loading", n)
					return 0
				}))
			}
		}
	}
	L.SetContext(ctx)
	return L
}

// binding exposes a host skill as a Lua function. It accepts either one
// table of keyword arguments, `move{x=1, y=2}`, or positional arguments in
// declared parameter order.
func (s *Sandbox) binding(ctx context.Context, name string, hostErr *error) lua.LGFunction {
	return func(L *lua.LState) int {
		args, err := s.callArgs(L, name)
		if err != nil {
			L.RaiseError("%s: %v", name, err)
			return 0
		}
		res, err := s.host.Invoke(ctx, name, args)
		if err != nil {
			if hostErr != nil && *hostErr == nil {
				*hostErr = err
			}
			L.RaiseError("%s: %v", name, err)
			return 0
		}
		L.Push(toLua(L, res))
		return 1
	}
}

func (s *Sandbox) callArgs(L *lua.LState, name string) (map[string]any, error) {
	top := L.GetTop()
	if top == 0 {
		return map[string]any{}, nil
	}
	if top == 1 {
		if tbl, ok := L.Get(1).(*lua.LTable); ok && tbl.MaxN() == 0 {
			return keywords(tbl)
		}
	}
	params, _ := s.host.Params(name)
	if top > len(params) {
		return nil, fmt.Errorf("takes %d arguments, got %d", len(params), top)
	}
	args := make(map[string]any, top)
	for i := 1; i <= top; i++ {
		args[params[i-1].Name] = fromLua(L.Get(i))
	}
	return args, nil
}

// Compile parses code, runs it once in an isolated state with host calls
// disabled and checks the declared function and its documentation contract.
func (s *Sandbox) Compile(ctx context.Context, code string) (*Program, error) {
	stmts, err := parse.Parse(strings.NewReader(code), "<skill>")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	decl, err := declaration(stmts)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(stmts, decl.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	L := s.newState(ctx, false, nil)
	defer L.Close()
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	if L.GetGlobal(decl.Name).Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s is not a function after loading", ErrCompile, decl.Name)
	}

	doc := docComment(code, decl.Line)
	params, err := Contract(decl.Params, doc)
	if err != nil {
		return nil, err
	}

	return &Program{
		Name:          decl.Name,
		Params:        params,
		Documentation: doc,
		Code:          code,
		proto:         proto,
		sb:            s,
	}, nil
}

type depthKey struct{}

const maxDepth = 16

// Program is a compiled skill. Each invocation runs in a fresh state.
type Program struct {
	Name          string
	Params        []skill.Param
	Documentation string
	Code          string

	proto *lua.FunctionProto
	sb    *Sandbox
}

// Definition wraps p as a capability definition.
func (p *Program) Definition(origin skill.Origin) skill.Definition {
	return skill.Definition{
		Name:          p.Name,
		Documentation: p.Documentation,
		Params:        p.Params,
		Source:        p.Code,
		Origin:        origin,
		Capability:    p,
	}
}

// Invoke runs the program's function with keyword arguments mapped onto its
// declared parameters.
func (p *Program) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := skill.CheckArgs(p.Name, p.Params, args); err != nil {
		return nil, err
	}
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= maxDepth {
		return nil, fmt.Errorf("skill %s: nested skill calls exceed depth %d", p.Name, maxDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	var hostErr error
	L := p.sb.newState(ctx, true, &hostErr)
	defer L.Close()

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, p.wrap(ctx, err, hostErr)
	}
	fn := L.GetGlobal(p.Name)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("skill %s: function not defined", p.Name)
	}

	L.Push(fn)
	for _, param := range p.Params {
		L.Push(toLua(L, args[param.Name]))
	}
	if err := L.PCall(len(p.Params), 1, nil); err != nil {
		return nil, p.wrap(ctx, err, hostErr)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

func (p *Program) wrap(ctx context.Context, err, hostErr error) error {
	if hostErr != nil {
		return fmt.Errorf("skill %s: %w", p.Name, hostErr)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("skill %s: %w", p.Name, ctx.Err())
	}
	return fmt.Errorf("skill %s: %w", p.Name, err)
}
