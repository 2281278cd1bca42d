// Package skill defines the skill record, the capabilities behind it and the
// insertion-ordered catalog the registry keeps them in.
package skill

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Origin tells where a skill's capability came from.
type Origin string

const (
	OriginBuiltin   Origin = "builtin"
	OriginScript    Origin = "script"
	OriginGenerated Origin = "generated"
)

// Static reports whether the capability ships with the agent rather than
// being authored at runtime.
func (o Origin) Static() bool {
	return o == OriginBuiltin || o == OriginScript
}

// Mode selects which library a registry runs with.
type Mode string

const (
	ModeFull  Mode = "Full"
	ModeBasic Mode = "Basic"
)

// Capability is the invokable behind a skill. Args are keyword arguments as
// produced by the call expression parser.
type Capability interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, args map[string]any) (any, error)

func (f CapabilityFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Param is one declared parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
}

// Definition is what a capability provider hands the registry at start.
type Definition struct {
	Name          string
	Documentation string
	Params        []Param
	// Source is the code text for script and generated skills. Builtins
	// leave it empty and get a rendered contract instead.
	Source     string
	Origin     Origin
	Capability Capability
}

// CanonicalSource returns the text the content hash is computed over.
func (d Definition) CanonicalSource() string {
	if d.Source != "" {
		return d.Source
	}
	return RenderContract(d.Name, d.Params, d.Documentation)
}

// Skill is one catalog entry. Records are built completely before they are
// inserted and are not mutated afterwards except for Embedding during load.
type Skill struct {
	Name          string
	Capability    Capability
	Documentation string
	Params        []Param
	Source        string
	Hash          string
	Embedding     []float32
	Origin        Origin
}

// New builds a Skill from a definition with an empty embedding.
func New(d Definition) *Skill {
	src := d.CanonicalSource()
	return &Skill{
		Name:          d.Name,
		Capability:    d.Capability,
		Documentation: d.Documentation,
		Params:        d.Params,
		Source:        src,
		Hash:          Hash(src),
		Origin:        d.Origin,
	}
}

// Hash returns the 16 hex digit content hash of src.
func Hash(src string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(src))
}

// RenderContract renders "name(p1, p2)" followed by the documentation.
func RenderContract(name string, params []Param, doc string) string {
	sig := Signature(name, params)
	if doc == "" {
		return sig
	}
	return sig + "\n" + doc
}

// Signature renders the call form "name(p1, p2)".
func Signature(name string, params []Param) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return name + "(" + strings.Join(names, ", ") + ")"
}

// Signature renders the skill's call form.
func (s *Skill) Signature() string { return Signature(s.Name, s.Params) }

// Stale reports whether the stored hash no longer matches the source.
func (s *Skill) Stale() bool { return s.Hash != Hash(s.Source) }

// EmbeddingInput is the text embedded for retrieval.
func (s *Skill) EmbeddingInput() string {
	return s.Name + ": " + s.Documentation
}

func (s *Skill) CurrentEmbedding() []float32 { return s.Embedding }

// Contract is the model-facing description of a skill.
type Contract struct {
	Expression  string            `json:"function_expression"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
	Code        string            `json:"code,omitempty"`
}

// Contract describes the skill. withCode also includes the source text.
func (s *Skill) Contract(withCode bool) Contract {
	c := Contract{
		Expression:  s.Signature(),
		Description: s.Documentation,
		Parameters:  make(map[string]string, len(s.Params)),
	}
	for _, p := range s.Params {
		c.Parameters[p.Name] = p.Description
	}
	if withCode {
		c.Code = s.Source
	}
	return c
}

// FormatContracts renders contracts as a markdown block for a prompt.
func FormatContracts(contracts []Contract) string {
	if len(contracts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Available Skills\n")
	for _, c := range contracts {
		fmt.Fprintf(&b, "\n### %s\n%s\n", c.Expression, c.Description)
	}
	return b.String()
}
