package mcpserver

import (
	"context"
	"fmt"

	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/workitem"
)

func (s *Server) handleMemory(ctx context.Context, in memoryInput) (any, error) {
	ns := memory.Namespace(in.Namespace)
	if !ns.Valid() {
		return nil, &workitem.ValidationError{Field: "namespace", Provided: in.Namespace, Expected: "architecture|troubleshoot"}
	}

	switch in.Action {
	case "create", "update":
		return s.memoryWrite(ctx, ns, in)

	case "get":
		if ns == memory.NamespaceArchitecture {
			return s.memory.GetArchitecture(ctx, in.Slug)
		}
		return s.memory.GetTroubleshoot(ctx, in.Slug)

	case "delete":
		var err error
		if ns == memory.NamespaceArchitecture {
			err = s.memory.DeleteArchitecture(ctx, in.Slug)
		} else {
			err = s.memory.DeleteTroubleshoot(ctx, in.Slug)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": in.Slug}, nil

	case "list":
		if ns == memory.NamespaceArchitecture {
			items, err := s.memory.ListArchitecture(ctx, in.Limit, in.Offset)
			if err != nil {
				return nil, err
			}
			return map[string]any{"items": items, "count": len(items)}, nil
		}
		items, err := s.memory.ListTroubleshoot(ctx, in.Limit, in.Offset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items, "count": len(items)}, nil

	case "search":
		if ns != memory.NamespaceArchitecture {
			return nil, fmt.Errorf("search is architecture-only; use match for troubleshoot")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = 10
		}
		results, err := s.memory.SearchArchitecture(ctx, in.Query, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results, "count": len(results)}, nil

	case "match":
		if ns != memory.NamespaceTroubleshoot {
			return nil, fmt.Errorf("match is troubleshoot-only; use search for architecture")
		}
		matches, err := s.memory.MatchSolutions(ctx, in.Problem, memory.MatchingContext{
			MaxResults:         in.MaxResults,
			MinRelevanceScore:  in.MinRelevanceScore,
			BoostBySuccessRate: in.BoostBySuccess,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"matches": matches, "count": len(matches)}, nil

	case "get_solution":
		if ns != memory.NamespaceTroubleshoot {
			return nil, fmt.Errorf("get_solution is troubleshoot-only")
		}
		return s.memory.GetDetailedSolution(ctx, in.Slug, in.MarkAsUsed)

	case "context":
		if ns != memory.NamespaceArchitecture {
			return nil, fmt.Errorf("context assembly is architecture-only")
		}
		return s.memory.AssembleContext(ctx, in.Slug, in.TokenBudget)

	default:
		return nil, &workitem.ValidationError{
			Field: "action", Provided: in.Action,
			Expected: "create|update|delete|get|list|search|match|get_solution|context",
		}
	}
}

func (s *Server) memoryWrite(ctx context.Context, ns memory.Namespace, in memoryInput) (any, error) {
	if ns == memory.NamespaceArchitecture {
		item := &memory.ArchitectureItem{
			UniqueSlug:     in.Slug,
			Title:          in.Title,
			AIRequirements: in.Requirements,
			AIWhenToUse:    in.WhenToUse,
			Keywords:       in.Keywords,
			ChildrenSlugs:  in.ChildrenSlugs,
			RelatedSlugs:   in.RelatedSlugs,
			LinkedEpicIDs:  in.LinkedEpicIDs,
			Tags:           in.Tags,
			Metadata:       in.Metadata,
		}
		if in.Action == "create" {
			return s.memory.CreateArchitecture(ctx, item)
		}
		return s.memory.UpdateArchitecture(ctx, item)
	}

	item := &memory.TroubleshootItem{
		UniqueSlug:  in.Slug,
		Title:       in.Title,
		AIUseCase:   in.UseCases,
		AISolutions: in.Solutions,
		Keywords:    in.Keywords,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
	}
	if in.Action == "create" {
		return s.memory.CreateTroubleshoot(ctx, item)
	}
	return s.memory.UpdateTroubleshoot(ctx, item)
}
