package memory

import (
	"context"
	"fmt"
	"strings"
)

// Token accounting approximates tokens as chars / 4.
const charsPerToken = 4

// Retrieval sizing (in tokens).
const (
	DefaultTokenBudget = 4000
	childSummaryTokens = 150
	relatedPreviewTokens = 100
)

// ContextSection is one rendered piece of assembled context.
type ContextSection struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated"`
}

// ContextResult is the token-budgeted architecture context for one primary
// slug: the full primary requirements, summarized children, and related
// previews, plus a deterministic markdown rendering.
type ContextResult struct {
	Primary           ContextSection   `json:"primary"`
	Children          []ContextSection `json:"children,omitempty"`
	Related           []ContextSection `json:"related,omitempty"`
	TokenBudget       int              `json:"token_budget"`
	TokensUsed        int              `json:"tokens_used"`
	TruncationApplied bool             `json:"truncation_applied"`
	Markdown          string           `json:"markdown"`
}

func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// AssembleContext builds architecture context for slug under a token budget.
// The primary item renders verbatim; half the remainder goes to children
// (summarized, in declaration order, until spent); the rest to related items
// as short previews.
func (s *Store) AssembleContext(ctx context.Context, slug string, tokenBudget int) (*ContextResult, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	primary, err := s.GetArchitecture(ctx, slug)
	if err != nil {
		return nil, err
	}

	result := &ContextResult{TokenBudget: tokenBudget}
	primaryTokens := estimateTokens(primary.AIRequirements)
	result.Primary = ContextSection{
		Slug:    primary.UniqueSlug,
		Title:   primary.Title,
		Content: primary.AIRequirements,
		Tokens:  primaryTokens,
	}
	result.TokensUsed = primaryTokens

	remainder := tokenBudget - primaryTokens
	if remainder < 0 {
		remainder = 0
	}
	childBudget := remainder / 2
	relatedBudget := remainder - childBudget

	for _, childSlug := range primary.ChildrenSlugs {
		if childBudget < childSummaryTokens {
			if len(result.Children) < len(primary.ChildrenSlugs) {
				result.TruncationApplied = true
			}
			break
		}
		child, err := s.GetArchitecture(ctx, childSlug)
		if err != nil {
			s.logger.Warn("skipping unresolvable child slug: " + childSlug)
			continue
		}
		content, truncated := truncateToTokens(child.AIRequirements, childSummaryTokens)
		section := ContextSection{
			Slug:      child.UniqueSlug,
			Title:     child.Title,
			Content:   content,
			Tokens:    estimateTokens(content),
			Truncated: truncated,
		}
		result.Children = append(result.Children, section)
		result.TokensUsed += section.Tokens
		childBudget -= section.Tokens
		if truncated {
			result.TruncationApplied = true
		}
	}

	for _, relSlug := range primary.RelatedSlugs {
		if relatedBudget < relatedPreviewTokens {
			if len(result.Related) < len(primary.RelatedSlugs) {
				result.TruncationApplied = true
			}
			break
		}
		rel, err := s.GetArchitecture(ctx, relSlug)
		if err != nil {
			s.logger.Warn("skipping unresolvable related slug: " + relSlug)
			continue
		}
		content, truncated := truncateToTokens(rel.AIRequirements, relatedPreviewTokens)
		section := ContextSection{
			Slug:      rel.UniqueSlug,
			Title:     rel.Title,
			Content:   content,
			Tokens:    estimateTokens(content),
			Truncated: truncated,
		}
		result.Related = append(result.Related, section)
		result.TokensUsed += section.Tokens
		relatedBudget -= section.Tokens
		if truncated {
			result.TruncationApplied = true
		}
	}

	result.Markdown = renderContextMarkdown(result)
	return result, nil
}

// truncationMarker terminates any hard-cut preview.
const truncationMarker = " […]"

// truncateToTokens cuts text down to maxTokens. The cut prefers a sentence
// boundary when one falls in the last 30% of the window; otherwise it cuts
// hard and appends a marker.
func truncateToTokens(text string, maxTokens int) (string, bool) {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text, false
	}
	window := text[:maxChars]
	if cut := lastSentenceBoundary(window); cut >= 0 && cut >= (maxChars*7)/10 {
		return strings.TrimSpace(window[:cut+1]), true
	}
	return strings.TrimSpace(window) + truncationMarker, true
}

func lastSentenceBoundary(text string) int {
	best := -1
	for _, end := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(text, end); i > best {
			best = i
		}
	}
	for _, end := range []string{".", "!", "?"} {
		if strings.HasSuffix(text, end) && len(text)-1 > best {
			best = len(text) - 1
		}
	}
	return best
}

func renderContextMarkdown(result *ContextResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", result.Primary.Title, result.Primary.Content)
	if len(result.Children) > 0 {
		b.WriteString("\n## Components\n")
		for _, child := range result.Children {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", child.Title, child.Content)
		}
	}
	if len(result.Related) > 0 {
		b.WriteString("\n## Related\n")
		for _, rel := range result.Related {
			fmt.Fprintf(&b, "\n- **%s**: %s\n", rel.Title, rel.Content)
		}
	}
	if result.TruncationApplied {
		b.WriteString("\n_Context truncated to fit the token budget._\n")
	}
	return b.String()
}
