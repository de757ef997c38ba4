package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchVector  SearchMode = "vector"
	SearchKeyword SearchMode = "keyword"
	SearchHybrid  SearchMode = "hybrid"
)

// Hybrid combination weights; both component scores are normalized to [0, 1].
const (
	hybridVectorWeight  = 0.6
	hybridKeywordWeight = 0.4
)

// Scored is one search result. Score is in [0, 1]. Distance is the raw cosine
// distance for vector results (0 for pure keyword hits).
type Scored struct {
	Record   Record
	Score    float64
	Distance float64
}

// Search runs a vector, keyword, or hybrid query over a table. Results honor
// the filter language of List and are sorted by descending score with an id
// tie-break for determinism.
func (e *Engine) Search(ctx context.Context, tableName, query string, filters map[string]any, mode SearchMode, limit int) ([]Scored, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	if err := validateFilters(t, filters); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	switch mode {
	case SearchVector:
		return e.vectorSearch(ctx, t, query, filters, limit)
	case SearchKeyword:
		return e.keywordSearch(t, query, filters, limit), nil
	case SearchHybrid, "":
		return e.hybridSearch(ctx, t, query, filters, limit)
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", ErrInvalidFilter, mode)
	}
}

func (e *Engine) vectorSearch(ctx context.Context, t *table, query string, filters map[string]any, limit int) ([]Scored, error) {
	select {
	case e.searchSem <- struct{}{}:
		defer func() { <-e.searchSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return []Scored{}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Over-fetch so post-filter still fills the page.
	hits := t.index.search(vec, limit*4)
	out := make([]Scored, 0, limit)
	for _, h := range hits {
		rec, ok := t.records[h.id]
		if !ok || !matchesFilters(rec, filters) {
			continue
		}
		out = append(out, Scored{
			Record:   cloneRecord(rec),
			Score:    1 / (1 + h.distance),
			Distance: h.distance,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) keywordSearch(t *table, query string, filters map[string]any, limit int) []Scored {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []Scored{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Scored, 0, limit)
	for _, rec := range t.records {
		if !matchesFilters(rec, filters) {
			continue
		}
		score := keywordScore(strings.ToLower(embedText(t.schema, rec)), tokens)
		if score == 0 {
			continue
		}
		out = append(out, Scored{Record: cloneRecord(rec), Score: score})
	}
	sortScored(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) hybridSearch(ctx context.Context, t *table, query string, filters map[string]any, limit int) ([]Scored, error) {
	vecResults, err := e.vectorSearch(ctx, t, query, filters, limit*2)
	if err != nil {
		return nil, err
	}
	kwResults := e.keywordSearch(t, query, filters, limit*2)

	// Union by id with a weighted sum of normalized scores.
	combined := make(map[string]*Scored)
	for i := range vecResults {
		r := vecResults[i]
		id, _ := r.Record["id"].(string)
		combined[id] = &Scored{Record: r.Record, Score: hybridVectorWeight * r.Score, Distance: r.Distance}
	}
	for i := range kwResults {
		r := kwResults[i]
		id, _ := r.Record["id"].(string)
		if existing, ok := combined[id]; ok {
			existing.Score += hybridKeywordWeight * r.Score
		} else {
			combined[id] = &Scored{Record: r.Record, Score: hybridKeywordWeight * r.Score}
		}
	}

	out := make([]Scored, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sortScored(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// keywordScore is the fraction of query tokens found as substrings of the
// record text (case-insensitive). Zero when no token matches.
func keywordScore(text string, tokens []string) float64 {
	if text == "" {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func sortScored(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		idI, _ := results[i].Record["id"].(string)
		idJ, _ := results[j].Record["id"].(string)
		return idI < idJ
	})
}
