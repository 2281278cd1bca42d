package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/retrieval"
)

// Retrieve returns the skill names to offer for a task. Recently added or
// protected skills come first, then the best matches up to topK, then the
// mandatory group for contextTag. The recency list is consumed. topK <= 0
// uses the configured maximum.
func (r *Registry) Retrieve(ctx context.Context, query string, topK int, contextTag string) ([]string, error) {
	if topK <= 0 {
		topK = r.cfg.MaxCount
	}

	r.mu.RLock()
	skills := r.catalog.Skills()
	recent := append([]string(nil), r.recent...)
	r.mu.RUnlock()

	names, err := r.ranker.Rank(ctx, query, skills, recent, topK, contextTag)
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]struct{}, len(recent))
	for _, n := range recent {
		consumed[n] = struct{}{}
	}
	r.mu.Lock()
	kept := r.recent[:0]
	for _, n := range r.recent {
		if _, ok := consumed[n]; !ok {
			kept = append(kept, n)
		}
	}
	r.recent = kept
	r.mu.Unlock()
	return names, nil
}

// searchRounds bounds how often Similar widens an index search that keeps
// returning skills outside the catalog.
const searchRounds = 4

// Similar scores skills against query without touching the recency list. It
// asks the vector index when one is attached and falls back to the catalog
// when the index fails or cannot fill the result with catalog skills.
func (r *Registry) Similar(ctx context.Context, query string, topK int) ([]retrieval.Scored, error) {
	if topK <= 0 {
		topK = r.cfg.MaxCount
	}
	if r.index != nil {
		qvec, err := r.cache.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		out, err := r.searchIndex(ctx, qvec, topK)
		if err == nil {
			return out, nil
		}
		r.logger.Warn("index search unusable, scoring locally", zap.Error(err))
	}

	r.mu.RLock()
	skills := r.catalog.Skills()
	r.mu.RUnlock()
	scored, err := r.ranker.Score(ctx, query, skills)
	if err != nil {
		return nil, err
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

var errIndexShort = errors.New("index holds fewer catalog skills than requested")

// searchIndex returns up to topK index hits that name catalog skills. Points
// for skills outside the catalog are skipped and the search is widened until
// enough remain or the index runs out.
func (r *Registry) searchIndex(ctx context.Context, qvec []float32, topK int) ([]retrieval.Scored, error) {
	r.mu.RLock()
	want := min(topK, r.catalog.Len())
	r.mu.RUnlock()

	limit := uint64(topK)
	for round := 0; round < searchRounds; round++ {
		hits, err := r.index.Search(ctx, qvec, limit)
		if err != nil {
			return nil, err
		}
		out := make([]retrieval.Scored, 0, want)
		r.mu.RLock()
		for _, h := range hits {
			if len(out) == want {
				break
			}
			if !r.catalog.Has(h.Name) {
				continue
			}
			out = append(out, retrieval.Scored{Name: h.Name, Score: float64(h.Score)})
		}
		r.mu.RUnlock()
		if len(out) == want {
			return out, nil
		}
		if uint64(len(hits)) < limit {
			break
		}
		r.logger.Debug("index returned skills outside the catalog",
			zap.Int("hits", len(hits)), zap.Int("kept", len(out)))
		limit *= 2
	}
	return nil, errIndexShort
}
