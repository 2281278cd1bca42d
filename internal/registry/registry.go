// Package registry is the skill registry an agent consults to find, add and
// run skills. It owns the catalog, the recency list and the embeddings, and
// persists them through a library.Store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/callexpr"
	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/events"
	"github.com/nidhogg/palskill/internal/library"
	"github.com/nidhogg/palskill/internal/retrieval"
	"github.com/nidhogg/palskill/internal/sandbox"
	"github.com/nidhogg/palskill/internal/skill"
	"github.com/nidhogg/palskill/internal/vectorstore"
)

// ErrNotFound is returned for names that are not in the catalog.
var ErrNotFound = errors.New("registry: skill not found")

// Notifier receives registry events.
type Notifier interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// Index mirrors skill embeddings into an external vector store.
type Index interface {
	Upsert(ctx context.Context, name string, vector []float32, meta map[string]string) error
	Delete(ctx context.Context, name string) error
	Search(ctx context.Context, vector []float32, topK uint64) ([]vectorstore.Hit, error)
}

// Config controls catalog selection and retrieval.
type Config struct {
	Mode skill.Mode
	// FromDefault loads the persisted library; otherwise the catalog is
	// rebuilt from the supplied definitions alone.
	FromDefault bool
	MaxCount    int
	Basic       []string
	Allow       []string
	Deny        []string
	Groups      retrieval.Groups
	// PostActionWait is slept after each executed action, NopWait when an
	// empty action list is executed.
	PostActionWait time.Duration
	NopWait        time.Duration
	Sandbox        sandbox.Options
}

// Registry holds the catalog. It is safe for concurrent use; capabilities
// are always invoked without holding the lock.
type Registry struct {
	mu      sync.RWMutex
	catalog *skill.Catalog
	recent  []string
	static  map[string]skill.Definition

	cfg      Config
	cache    *embedding.Cache
	ranker   *retrieval.Ranker
	sandbox  *sandbox.Sandbox
	store    library.Store
	notifier Notifier
	index    Index
	logger   *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Registry)

// WithStore persists the library through s.
func WithStore(s library.Store) Option { return func(r *Registry) { r.store = s } }

// WithNotifier publishes registry events to n.
func WithNotifier(n Notifier) Option { return func(r *Registry) { r.notifier = n } }

// WithIndex mirrors embeddings into ix.
func WithIndex(ix Index) Option { return func(r *Registry) { r.index = ix } }

// New creates an empty Registry. Call Load before use.
func New(cfg Config, cache *embedding.Cache, logger *zap.Logger, opts ...Option) *Registry {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 20
	}
	r := &Registry{
		catalog: skill.NewCatalog(),
		static:  make(map[string]skill.Definition),
		cfg:     cfg,
		cache:   cache,
		ranker:  retrieval.NewRanker(cache, cfg.Groups, logger),
		logger:  logger,
	}
	r.sandbox = sandbox.New(r, cfg.Sandbox, logger)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sandbox returns the interpreter generated skills run in.
func (r *Registry) Sandbox() *sandbox.Sandbox { return r.sandbox }

// Load builds the catalog from the persisted library and the static
// definitions, filters it for the configured mode and persists the result.
func (r *Registry) Load(ctx context.Context, defs []skill.Definition) error {
	static := make(map[string]skill.Definition, len(defs))
	for i := range defs {
		if defs[i].Origin == "" {
			defs[i].Origin = skill.OriginBuiltin
		}
		static[defs[i].Name] = defs[i]
	}
	r.mu.Lock()
	r.static = static
	r.mu.Unlock()

	var records []library.Record
	if r.cfg.FromDefault && r.store != nil {
		var err error
		records, err = r.store.Load(ctx)
		switch {
		case errors.Is(err, library.ErrDecode):
			r.logger.Warn("skill library unreadable, rebuilding from definitions", zap.Error(err))
			records = nil
		case err != nil:
			return fmt.Errorf("load skill library: %w", err)
		}
	}

	cat, err := r.reconcile(ctx, records, defs)
	if err != nil {
		return err
	}
	if err := r.persist(ctx, cat.Skills()); err != nil {
		return err
	}

	filtered := cat.Filter(r.cfg.Mode, r.cfg.Basic)
	hidden := cat.Names()
	for _, rec := range records {
		hidden = append(hidden, rec.Name)
	}
	hidden = absent(filtered, hidden)
	exposed := filtered.Skills()
	r.mu.Lock()
	r.catalog = filtered
	r.recent = nil
	r.mu.Unlock()

	for _, s := range exposed {
		r.mirror(ctx, s)
	}
	r.unindex(ctx, hidden)
	r.logger.Info("skill registry loaded",
		zap.String("mode", string(r.cfg.Mode)),
		zap.Int("records", len(records)),
		zap.Int("skills", filtered.Len()))
	return nil
}

// reconcile turns persisted records plus static definitions into a catalog.
// Records come first in their stored order; definitions not yet present are
// appended in the order given.
func (r *Registry) reconcile(ctx context.Context, records []library.Record, defs []skill.Definition) (*skill.Catalog, error) {
	cat := skill.NewCatalog()
	for _, rec := range records {
		s, fresh := r.restore(ctx, rec)
		if s == nil {
			continue
		}
		vec, recomputed, err := r.cache.Resolve(ctx, s, fresh)
		if err != nil {
			return nil, fmt.Errorf("embed skill %s: %w", s.Name, err)
		}
		if recomputed {
			r.logger.Info("regenerated skill embedding", zap.String("skill", s.Name))
		}
		s.Embedding = vec
		cat.Add(s)
	}

	for _, d := range defs {
		if cat.Has(d.Name) {
			continue
		}
		s := skill.New(d)
		vec, _, err := r.cache.Resolve(ctx, s, true)
		if err != nil {
			return nil, fmt.Errorf("embed skill %s: %w", s.Name, err)
		}
		s.Embedding = vec
		cat.Add(s)
	}
	return cat, nil
}

// restore resolves a record's capability. It returns nil when the capability
// cannot be resolved, and whether the stored embedding must be recomputed.
func (r *Registry) restore(ctx context.Context, rec library.Record) (*skill.Skill, bool) {
	edited := rec.CodeHash != skill.Hash(rec.Code)

	r.mu.RLock()
	def, ok := r.static[rec.Name]
	r.mu.RUnlock()
	if ok {
		s := skill.New(def)
		s.Embedding = rec.Embedding
		return s, edited || rec.Code != s.Source
	}

	decl, err := sandbox.Declare(rec.Code)
	if err != nil || decl.Name != rec.Name {
		r.logger.Warn("capability missing, dropping skill", zap.String("skill", rec.Name))
		return nil, false
	}
	prog, err := r.sandbox.Compile(ctx, rec.Code)
	if err != nil {
		r.logger.Warn("capability missing, dropping skill",
			zap.String("skill", rec.Name), zap.Error(err))
		return nil, false
	}
	s := skill.New(prog.Definition(skill.OriginGenerated))
	s.Embedding = rec.Embedding
	return s, edited
}

// Save persists the current catalog.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.RLock()
	skills := r.catalog.Skills()
	r.mu.RUnlock()
	return r.persist(ctx, skills)
}

func (r *Registry) persist(ctx context.Context, skills []*skill.Skill) error {
	if r.store == nil {
		return nil
	}
	records := make([]library.Record, len(skills))
	for i, s := range skills {
		records[i] = library.FromSkill(s)
	}
	if err := r.store.Save(ctx, records); err != nil {
		return fmt.Errorf("save skill library: %w", err)
	}
	return nil
}

// Get returns the named skill.
func (r *Registry) Get(name string) (*skill.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.catalog.Get(name)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// Names returns every skill name in catalog order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.Names()
}

// Params returns the named skill's parameters.
func (r *Registry) Params(name string) ([]skill.Param, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.catalog.Get(name)
	if s == nil {
		return nil, false
	}
	return s.Params, true
}

// Recent returns the recency list.
func (r *Registry) Recent() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.recent...)
}

// Delete removes a skill given by name or call expression, and drops it from
// the recency list.
func (r *Registry) Delete(ctx context.Context, nameOrExpr string) error {
	name := callexpr.Name(nameOrExpr)
	r.mu.Lock()
	found := r.catalog.Delete(name)
	r.dropRecent(name)
	r.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if r.index != nil {
		if err := r.index.Delete(ctx, name); err != nil {
			r.logger.Warn("index delete failed", zap.String("skill", name), zap.Error(err))
		}
	}
	r.notify(ctx, events.TypeDeleted, name, "")
	r.logger.Info("skill deleted", zap.String("skill", name))
	return nil
}

// dropRecent must be called with mu held.
func (r *Registry) dropRecent(name string) {
	out := r.recent[:0]
	for _, n := range r.recent {
		if n != name {
			out = append(out, n)
		}
	}
	r.recent = out
}

// RestrictTo keeps only the candidate skills and returns the candidates that
// do not exist. Dropped skills are removed from the vector index.
func (r *Registry) RestrictTo(ctx context.Context, candidates []string) []string {
	r.mu.Lock()
	before := r.catalog.Names()
	missing := r.catalog.RestrictTo(candidates)
	dropped := absent(r.catalog, before)
	r.mu.Unlock()
	for _, n := range missing {
		r.logger.Error("skill does not exist", zap.String("skill", n))
	}
	r.unindex(ctx, dropped)
	return missing
}

// Contract returns the model-facing description of a skill.
func (r *Registry) Contract(name string, withCode bool) (skill.Contract, error) {
	s, err := r.Get(name)
	if err != nil {
		return skill.Contract{}, err
	}
	return s.Contract(withCode), nil
}

// Contracts describes the named skills, skipping unknown names.
func (r *Registry) Contracts(names []string) []skill.Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]skill.Contract, 0, len(names))
	for _, n := range names {
		if s := r.catalog.Get(n); s != nil {
			out = append(out, s.Contract(false))
		}
	}
	return out
}

// SkillCode returns the source of a skill given by name or call expression.
func (r *Registry) SkillCode(nameOrExpr string) (string, error) {
	name := callexpr.Name(nameOrExpr)
	s, err := r.Get(name)
	if err != nil {
		return "", fmt.Errorf("skill %q not found in the registry: %w", name, ErrNotFound)
	}
	return s.Source, nil
}

// Invoke runs the named skill with keyword arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	s := r.catalog.Get(name)
	r.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.Capability.Invoke(ctx, args)
	if err != nil {
		r.logger.Error("skill failed", zap.String("skill", name), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (r *Registry) mirror(ctx context.Context, s *skill.Skill) {
	if r.index == nil || len(s.Embedding) == 0 {
		return
	}
	meta := map[string]string{
		"signature": s.Signature(),
		"origin":    string(s.Origin),
		"hash":      s.Hash,
	}
	if err := r.index.Upsert(ctx, s.Name, s.Embedding, meta); err != nil {
		r.logger.Warn("index upsert failed", zap.String("skill", s.Name), zap.Error(err))
	}
}

// absent returns the distinct names that cat does not hold.
func absent(cat *skill.Catalog, names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		if _, ok := seen[n]; ok || cat.Has(n) {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// unindex removes names from the vector index.
func (r *Registry) unindex(ctx context.Context, names []string) {
	if r.index == nil {
		return
	}
	for _, n := range names {
		if err := r.index.Delete(ctx, n); err != nil {
			r.logger.Warn("index delete failed", zap.String("skill", n), zap.Error(err))
		}
	}
}

func (r *Registry) notify(ctx context.Context, typ, name, msg string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, events.NewEvent(typ, name, msg)); err != nil {
		r.logger.Warn("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}
