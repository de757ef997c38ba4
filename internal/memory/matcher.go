package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/mcp-jive/jive/internal/storage"
)

// MatchingContext tunes problem→solution matching.
type MatchingContext struct {
	MaxResults         int     `json:"max_results"`
	MinRelevanceScore  float64 `json:"min_relevance_score"`
	BoostBySuccessRate bool    `json:"boost_by_success_rate"`
}

// SolutionMatch is one matched troubleshoot item.
type SolutionMatch struct {
	Item            *TroubleshootItem `json:"item"`
	Relevance       float64           `json:"relevance"`
	MatchedUseCases []string          `json:"matched_use_cases,omitempty"`
	Preview         string            `json:"preview"`
}

const (
	defaultMaxResults   = 5
	successBoostFactor  = 0.2
	useCaseTokenOverlap = 2
	previewMaxChars     = 200
)

// MatchSolutions runs semantic search over troubleshoot items for a problem
// description, filters by minimum relevance, optionally boosts by success
// rate, and extracts the use cases overlapping the problem statement.
// Matching is side-effect-free; usage counters move only through
// GetDetailedSolution.
func (s *Store) MatchSolutions(ctx context.Context, problem string, mc MatchingContext) ([]SolutionMatch, error) {
	if mc.MaxResults <= 0 {
		mc.MaxResults = defaultMaxResults
	}

	results, err := s.store.Search(ctx, NamespaceTroubleshoot.Table(), problem, nil, storage.SearchVector, mc.MaxResults*4)
	if err != nil {
		return nil, err
	}

	problemTokens := tokenSet(problem)
	matches := make([]SolutionMatch, 0, len(results))
	for _, r := range results {
		relevance := 1 / (1 + r.Distance)
		if relevance < mc.MinRelevanceScore {
			continue
		}
		item := &TroubleshootItem{}
		if err := recordInto(r.Record, item); err != nil {
			return nil, err
		}
		if mc.BoostBySuccessRate {
			relevance *= 1 + successBoostFactor*item.SuccessRate()
			if relevance > 1 {
				relevance = 1
			}
		}
		matches = append(matches, SolutionMatch{
			Item:            item,
			Relevance:       relevance,
			MatchedUseCases: matchedUseCases(item.AIUseCase, problemTokens),
			Preview:         solutionPreview(item.AISolutions),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Relevance != matches[j].Relevance {
			return matches[i].Relevance > matches[j].Relevance
		}
		return matches[i].Item.ID < matches[j].Item.ID
	})
	if len(matches) > mc.MaxResults {
		matches = matches[:mc.MaxResults]
	}
	return matches, nil
}

// GetDetailedSolution returns the full item for a slug. With markAsUsed the
// usage counter is incremented by exactly one before returning.
func (s *Store) GetDetailedSolution(ctx context.Context, slug string, markAsUsed bool) (*TroubleshootItem, error) {
	if markAsUsed {
		return s.IncrementUsage(ctx, slug, false)
	}
	return s.GetTroubleshoot(ctx, slug)
}

// matchedUseCases keeps the use cases sharing at least two whitespace tokens
// with the problem (case-insensitive), falling back to the first two declared
// use cases when nothing overlaps.
func matchedUseCases(useCases []string, problemTokens map[string]struct{}) []string {
	var matched []string
	for _, uc := range useCases {
		overlap := 0
		for tok := range tokenSet(uc) {
			if _, ok := problemTokens[tok]; ok {
				overlap++
			}
		}
		if overlap >= useCaseTokenOverlap {
			matched = append(matched, uc)
		}
	}
	if len(matched) == 0 {
		if len(useCases) > 2 {
			return append([]string(nil), useCases[:2]...)
		}
		return append([]string(nil), useCases...)
	}
	return matched
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		out[tok] = struct{}{}
	}
	return out
}

// solutionPreview is a sentence-boundary-aware cut of the solution body.
func solutionPreview(solutions string) string {
	solutions = strings.TrimSpace(solutions)
	if len(solutions) <= previewMaxChars {
		return solutions
	}
	window := solutions[:previewMaxChars]
	if cut := lastSentenceBoundary(window); cut >= 0 && cut >= (previewMaxChars*7)/10 {
		return strings.TrimSpace(window[:cut+1])
	}
	return strings.TrimSpace(window) + truncationMarker
}
