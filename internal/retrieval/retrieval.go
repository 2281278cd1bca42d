// Package retrieval ranks catalog skills against a task description.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/skill"
)

// Context tags describing which game screen the agent is looking at.
const (
	GeneralGameInterface = "general game interface without any menu"
	TradeInterface       = "trade interface"
	SatchelInterface     = "satchel interface"
	MapInterface         = "map interface"
)

// Groups are the skills that must always be offered on a given screen.
type Groups struct {
	Movement []string `json:"movement" yaml:"movement"`
	Trade    []string `json:"trade" yaml:"trade"`
	Map      []string `json:"map" yaml:"map"`
}

// For returns the mandatory group for a context tag, or nil.
func (g Groups) For(tag string) []string {
	switch tag {
	case GeneralGameInterface:
		return g.Movement
	case TradeInterface, SatchelInterface:
		return g.Trade
	case MapInterface:
		return g.Map
	}
	return nil
}

// Scored is a skill name with its similarity to the query.
type Scored struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Ranker orders skills by the dot product of their embeddings with the
// embedded query.
type Ranker struct {
	embedder *embedding.Cache
	groups   Groups
	logger   *zap.Logger
}

// NewRanker creates a Ranker.
func NewRanker(embedder *embedding.Cache, groups Groups, logger *zap.Logger) *Ranker {
	return &Ranker{embedder: embedder, groups: groups, logger: logger}
}

// mismatchScore ranks an embedding whose dimension differs from the query's
// below every comparable one.
const mismatchScore = -2

// Score embeds query and scores every skill, highest first. Ties keep
// catalog order.
func (r *Ranker) Score(ctx context.Context, query string, skills []*skill.Skill) ([]Scored, error) {
	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored := make([]Scored, len(skills))
	for i, s := range skills {
		if len(s.Embedding) != len(qvec) {
			r.logger.Warn("skill embedding dimension differs from query",
				zap.String("skill", s.Name),
				zap.Int("dim", len(s.Embedding)),
				zap.Int("query_dim", len(qvec)))
			scored[i] = Scored{Name: s.Name, Score: mismatchScore}
			continue
		}
		scored[i] = Scored{Name: s.Name, Score: embedding.Dot(s.Embedding, qvec)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// Rank builds the list of skill names to offer for query. recent names come
// first and are kept even beyond topK. Ranked skills fill the list up to
// min(topK, len(skills)) and the mandatory group for tag is appended last.
func (r *Ranker) Rank(ctx context.Context, query string, skills []*skill.Skill, recent []string, topK int, tag string) ([]string, error) {
	limit := topK
	if limit > len(skills) {
		limit = len(skills)
	}

	out := make([]string, 0, len(recent))
	present := make(map[string]struct{}, len(recent))
	for _, n := range recent {
		if _, ok := present[n]; ok {
			continue
		}
		present[n] = struct{}{}
		out = append(out, n)
	}

	scored, err := r.Score(ctx, query, skills)
	if err != nil {
		return nil, err
	}
	for _, s := range scored {
		if len(out) >= limit {
			break
		}
		if _, ok := present[s.Name]; ok {
			continue
		}
		present[s.Name] = struct{}{}
		out = append(out, s.Name)
	}

	mandatory := r.groups.For(tag)
	out = append(out, mandatory...)
	r.logger.Debug("skills retrieved",
		zap.String("query", query),
		zap.Int("recent", len(recent)),
		zap.Int("mandatory", len(mandatory)),
		zap.Strings("skills", out))
	return out, nil
}
