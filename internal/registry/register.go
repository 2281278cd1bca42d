package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/events"
	"github.com/nidhogg/palskill/internal/sandbox"
	"github.com/nidhogg/palskill/internal/skill"
)

// Result reports the outcome of Register. OK is false only when the code
// itself must be regenerated; conflicts and duplicates are OK with an
// explanatory Message.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	// Created is set when the skill was added to the catalog.
	Created bool `json:"created"`
}

// Register compiles skill code proposed at runtime and adds it to the
// catalog. Errors returned alongside a failed Result wrap sandbox.ErrCompile,
// sandbox.ErrContract or the embedding provider's error.
func (r *Registry) Register(ctx context.Context, code string, overwrite bool) (Result, error) {
	if strings.Count(code, "(") < 2 {
		msg := "Skill code contains no functionality."
		r.logger.Error(msg)
		return Result{OK: true, Message: msg}, nil
	}

	decl, err := sandbox.Declare(code)
	if err != nil {
		r.logger.Error("invalid skill code", zap.Error(err))
		return Result{OK: false, Message: "The skill code is invalid."}, err
	}
	name := strings.ToLower(decl.Name)
	if r.isStatic(name) {
		name += "_generated"
	}
	code = sandbox.Rename(code, decl.Name, name)

	if r.protectionConflict(name) {
		msg := fmt.Sprintf("Skill '%s' conflicts with protected skills.", name)
		r.pushProtected(name)
		r.notify(ctx, events.TypeConflict, name, msg)
		r.logger.Info(msg)
		return Result{OK: true, Message: msg, Name: name}, nil
	}

	if overwrite {
		if err := r.Delete(ctx, name); err == nil {
			r.logger.Info("skill will be overwritten", zap.String("skill", name))
		}
	}
	if r.has(name) {
		msg := fmt.Sprintf("Skill '%s' already exists.", name)
		r.logger.Info(msg)
		return Result{OK: true, Message: msg, Name: name}, nil
	}

	prog, err := r.sandbox.Compile(ctx, code)
	if err != nil {
		msg := "The skill code is invalid."
		if errors.Is(err, sandbox.ErrContract) {
			msg = "The format of parameter description is wrong."
		}
		r.logger.Error(msg, zap.String("skill", name), zap.Error(err))
		return Result{OK: false, Message: msg, Name: name}, err
	}

	s := skill.New(prog.Definition(skill.OriginGenerated))
	vec, _, err := r.cache.Resolve(ctx, s, true)
	if err != nil {
		return Result{OK: false, Message: "The skill could not be embedded.", Name: name}, err
	}
	s.Embedding = vec

	r.mu.Lock()
	if r.catalog.Has(name) && !overwrite {
		r.mu.Unlock()
		msg := fmt.Sprintf("Skill '%s' already exists.", name)
		return Result{OK: true, Message: msg, Name: name}, nil
	}
	r.catalog.Add(s)
	r.recent = append(r.recent, name)
	r.mu.Unlock()

	r.mirror(ctx, s)
	msg := fmt.Sprintf("Skill '%s' has been registered.", name)
	r.notify(ctx, events.TypeRegistered, name, msg)
	r.logger.Info(msg)
	return Result{OK: true, Message: msg, Name: name, Created: true}, nil
}

func (r *Registry) isStatic(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.static[name]
	return ok && d.Origin.Static()
}

func (r *Registry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.Has(name)
}

// protectionConflict reports whether name contains a deny word and no allow
// word.
func (r *Registry) protectionConflict(name string) bool {
	for _, w := range r.cfg.Allow {
		if w != "" && strings.Contains(name, w) {
			return false
		}
	}
	for _, w := range r.cfg.Deny {
		if w != "" && strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// pushProtected offers the basic skills that share a deny word with name
// on the next retrieval instead. A skill already pending or missing from the
// catalog is not pushed.
func (r *Registry) pushProtected(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.cfg.Deny {
		if w == "" || !strings.Contains(name, w) {
			continue
		}
		for _, b := range r.cfg.Basic {
			if !strings.Contains(b, w) || slices.Contains(r.recent, b) || !r.catalog.Has(b) {
				continue
			}
			r.recent = append(r.recent, b)
		}
	}
}
