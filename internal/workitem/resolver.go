package workitem

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Resolution is the outcome of resolving a free-form identifier. An empty ID
// means no match; Candidates then carries up to three nearby titles for error
// messages.
type Resolution struct {
	ID         string   `json:"id,omitempty"`
	MatchedBy  string   `json:"matched_by,omitempty"` // uuid, title, keyword
	Candidates []string `json:"candidates,omitempty"`
}

const maxCandidates = 3

// Resolve maps an input string to a canonical work-item id. Resolution order:
// well-formed UUID that exists, exact case-insensitive title (unique hit),
// then first item whose title+description contains every whitespace token.
func (s *Service) Resolve(ctx context.Context, input string) (*Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return &Resolution{}, nil
	}

	if _, err := uuid.Parse(input); err == nil {
		if _, err := s.Get(ctx, input); err == nil {
			return &Resolution{ID: input, MatchedBy: "uuid"}, nil
		}
	}

	all, err := s.List(ctx, nil, 0, 0, "created_at", "asc")
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(input)
	var titleHits []*WorkItem
	for _, w := range all {
		if strings.ToLower(w.Title) == lower {
			titleHits = append(titleHits, w)
		}
	}
	if len(titleHits) == 1 {
		return &Resolution{ID: titleHits[0].ID, MatchedBy: "title"}, nil
	}

	tokens := strings.Fields(lower)
	for _, w := range all {
		text := strings.ToLower(w.Title + " " + w.Description)
		if containsAll(text, tokens) {
			return &Resolution{ID: w.ID, MatchedBy: "keyword"}, nil
		}
	}

	return &Resolution{Candidates: s.candidates(all, lower, tokens)}, nil
}

func containsAll(text string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return len(tokens) > 0
}

// candidates ranks titles by prefix match, then token overlap, and returns up
// to three.
func (s *Service) candidates(all []*WorkItem, lower string, tokens []string) []string {
	type scored struct {
		title string
		score int
	}
	ranked := make([]scored, 0, len(all))
	for _, w := range all {
		titleLower := strings.ToLower(w.Title)
		score := 0
		if strings.HasPrefix(titleLower, lower) || strings.HasPrefix(lower, titleLower) {
			score += 10
		}
		for _, tok := range tokens {
			if strings.Contains(titleLower, tok) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{title: w.Title, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].title < ranked[j].title
	})
	out := make([]string, 0, maxCandidates)
	for _, r := range ranked {
		out = append(out, r.title)
		if len(out) == maxCandidates {
			break
		}
	}
	return out
}
