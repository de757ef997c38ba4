package mcpserver

import (
	"context"
)

// Legacy tool names predate the consolidated surface. Each alias rewrites its
// arguments into the consolidated shape, runs the same handler, and surfaces a
// deprecation note in the envelope metadata.

func deprecationNote(legacy, target string) string {
	return legacy + " is deprecated; use " + target
}

func (s *Server) registerLegacyTools() {
	registerTool(s, "jive_create_work_item",
		"Create a work item (legacy alias)",
		deprecationNote("jive_create_work_item", "jive_manage_work_item with action=create"),
		func(ctx context.Context, in manageWorkItemInput) (any, error) {
			in.Action = "create"
			return s.handleManageWorkItem(ctx, in)
		})

	registerTool(s, "jive_update_work_item",
		"Update a work item (legacy alias)",
		deprecationNote("jive_update_work_item", "jive_manage_work_item with action=update"),
		func(ctx context.Context, in manageWorkItemInput) (any, error) {
			in.Action = "update"
			return s.handleManageWorkItem(ctx, in)
		})

	registerTool(s, "jive_delete_task",
		"Delete a work item (legacy alias)",
		deprecationNote("jive_delete_task", "jive_manage_work_item with action=delete"),
		func(ctx context.Context, in manageWorkItemInput) (any, error) {
			in.Action = "delete"
			return s.handleManageWorkItem(ctx, in)
		})

	registerTool(s, "jive_get_task",
		"Fetch a work item (legacy alias)",
		deprecationNote("jive_get_task", "jive_get_work_item"),
		s.handleGetWorkItem)

	registerTool(s, "jive_list_work_items",
		"List work items (legacy alias)",
		deprecationNote("jive_list_work_items", "jive_get_work_item"),
		s.handleGetWorkItem)

	registerTool(s, "jive_search_work_items",
		"Search work items (legacy alias)",
		deprecationNote("jive_search_work_items", "jive_search_content"),
		s.handleSearchContent)

	registerTool(s, "jive_get_work_item_children",
		"List direct children of a work item (legacy alias)",
		deprecationNote("jive_get_work_item_children", "jive_get_hierarchy with relationship=children"),
		func(ctx context.Context, in getHierarchyInput) (any, error) {
			in.Relationship = "children"
			return s.handleGetHierarchy(ctx, in)
		})

	registerTool(s, "jive_get_work_item_dependencies",
		"List dependencies of a work item (legacy alias)",
		deprecationNote("jive_get_work_item_dependencies", "jive_get_hierarchy with relationship=dependencies"),
		func(ctx context.Context, in getHierarchyInput) (any, error) {
			in.Relationship = "dependencies"
			return s.handleGetHierarchy(ctx, in)
		})

	registerTool(s, "jive_validate_dependencies",
		"Validate the dependency graph (legacy alias)",
		deprecationNote("jive_validate_dependencies", "jive_get_hierarchy with relationship=validate"),
		func(ctx context.Context, in getHierarchyInput) (any, error) {
			in.Relationship = "validate"
			return s.handleGetHierarchy(ctx, in)
		})

	registerTool(s, "jive_get_progress_report",
		"Fetch a progress report (legacy alias)",
		deprecationNote("jive_get_progress_report", "jive_track_progress with action=get_report"),
		func(ctx context.Context, in trackProgressInput) (any, error) {
			in.Action = "get_report"
			return s.handleTrackProgress(ctx, in)
		})
}
