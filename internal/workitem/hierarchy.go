package workitem

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// allowedParents maps each child type to the parent types it may attach to.
// An empty set means the type must be a root.
var allowedParents = map[Type][]Type{
	TypeInitiative: {},
	TypeEpic:       {TypeInitiative},
	TypeFeature:    {TypeEpic},
	TypeStory:      {TypeFeature},
	TypeTask:       {TypeStory},
}

// maxHierarchyDepth caps subtree and ancestor walks. A parent_id cycle is
// storage corruption; the cap keeps traversals terminating regardless.
const maxHierarchyDepth = 32

// ValidateHierarchy checks the parent/child type rule for attaching an item
// of childType under parentID. An empty parentID is always valid (roots).
func (s *Service) ValidateHierarchy(ctx context.Context, childType Type, parentID string) error {
	if parentID == "" {
		return nil
	}
	allowed := allowedParents[childType]
	if len(allowed) == 0 {
		return fmt.Errorf("%w: %s must be a root item", ErrInvalidHierarchy, childType)
	}
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return fmt.Errorf("%w: parent %s: %v", ErrInvalidHierarchy, parentID, err)
	}
	for _, t := range allowed {
		if parent.Type == t {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot be a child of %s (allowed: %v)",
		ErrInvalidHierarchy, childType, parent.Type, allowed)
}

// Children returns the direct children of id, or the whole subtree in
// breadth-first order when recursive is set.
func (s *Service) Children(ctx context.Context, id string, recursive bool) ([]*WorkItem, error) {
	direct, err := s.List(ctx, map[string]any{"parent_id": id}, 0, 0, "created_at", "asc")
	if err != nil {
		return nil, err
	}
	if !recursive {
		return direct, nil
	}

	// Explicit work queue with a visited set; depth-capped against corrupt
	// parent links.
	out := make([]*WorkItem, 0, len(direct))
	visited := map[string]struct{}{id: {}}
	queue := direct
	depth := 0
	for len(queue) > 0 && depth < maxHierarchyDepth {
		next := make([]*WorkItem, 0)
		for _, w := range queue {
			if _, seen := visited[w.ID]; seen {
				continue
			}
			visited[w.ID] = struct{}{}
			out = append(out, w)
			kids, err := s.List(ctx, map[string]any{"parent_id": w.ID}, 0, 0, "created_at", "asc")
			if err != nil {
				return nil, err
			}
			next = append(next, kids...)
		}
		queue = next
		depth++
	}
	return out, nil
}

// Ancestors walks parent links from id up to the root, nearest first.
func (s *Service) Ancestors(ctx context.Context, id string) ([]*WorkItem, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkItem, 0, 4)
	visited := map[string]struct{}{id: {}}
	for depth := 0; w.ParentID != "" && depth < maxHierarchyDepth; depth++ {
		if _, seen := visited[w.ParentID]; seen {
			s.logger.Warn("parent cycle detected", zap.String("parent_id", w.ParentID))
			break
		}
		parent, err := s.Get(ctx, w.ParentID)
		if err != nil {
			return nil, err
		}
		visited[parent.ID] = struct{}{}
		out = append(out, parent)
		w = parent
	}
	return out, nil
}

// Roots returns all items with no parent.
func (s *Service) Roots(ctx context.Context) ([]*WorkItem, error) {
	all, err := s.List(ctx, nil, 0, 0, "created_at", "asc")
	if err != nil {
		return nil, err
	}
	out := make([]*WorkItem, 0, len(all))
	for _, w := range all {
		if w.ParentID == "" {
			out = append(out, w)
		}
	}
	return out, nil
}

// checkNoHierarchyCycle rejects a reparent that would make id its own
// ancestor.
func (s *Service) checkNoHierarchyCycle(ctx context.Context, id, newParentID string) error {
	current := newParentID
	for depth := 0; current != "" && depth < maxHierarchyDepth; depth++ {
		if current == id {
			return fmt.Errorf("%w: reparenting %s under %s creates a cycle", ErrInvalidHierarchy, id, newParentID)
		}
		parent, err := s.Get(ctx, current)
		if err != nil {
			// Dangling parent link; existence is validated elsewhere.
			break
		}
		current = parent.ParentID
	}
	return nil
}
