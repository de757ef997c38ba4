package mcpserver

import (
	"encoding/json"
	"fmt"
)

// Shaping limits. Responses under the threshold pass through untouched;
// larger ones are reduced in stages until they fit the budget.
const (
	defaultResponseBudget = 50000
	shapeThresholdBytes   = 45000
	maxFieldChars         = 1000
	maxArrayItems         = 10
)

// truncatableFields are the free-text fields the shaper may cut.
var truncatableFields = map[string]bool{
	"description": true,
	"notes":       true,
	"details":     true,
}

// droppableFields are removed wholesale when the response still exceeds the
// budget after truncation.
var droppableFields = map[string]bool{
	"metadata":      true,
	"debug_info":    true,
	"raw_data":      true,
	"logs":          true,
	"history":       true,
	"extended_info": true,
}

// preservedFields survive every shaping stage.
var preservedFields = map[string]bool{
	"id":      true,
	"title":   true,
	"status":  true,
	"type":    true,
	"success": true,
	"error":   true,
	"message": true,
}

// shapeResponse serializes v and reduces it until it fits the budget.
// Returns the serialized bytes and whether any reduction was applied.
func shapeResponse(v any, budget int) ([]byte, bool, error) {
	if budget <= 0 {
		budget = defaultResponseBudget
	}
	threshold := shapeThresholdBytes
	if threshold > budget {
		threshold = budget
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if len(data) <= threshold {
		return data, false, nil
	}

	// Work on the generic JSON tree from here on.
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, false, err
	}

	tree = truncateTree(tree)
	data, err = json.Marshal(tree)
	if err != nil {
		return nil, false, err
	}
	if len(data) <= budget {
		return data, true, nil
	}

	tree = dropNonEssential(tree)
	data, err = json.Marshal(tree)
	if err != nil {
		return nil, false, err
	}
	if len(data) <= budget {
		return data, true, nil
	}

	// The budget is a hard cap. Cut every remaining long string, then fall
	// back to the essential scalars alone.
	tree = truncateAllStrings(tree)
	data, err = json.Marshal(tree)
	if err != nil {
		return nil, false, err
	}
	if len(data) <= budget {
		return data, true, nil
	}
	data, err = json.Marshal(essentialOnly(tree))
	if err != nil {
		return nil, false, err
	}
	if len(data) <= budget {
		return data, true, nil
	}
	data, err = json.Marshal(map[string]any{
		"_truncated": "response exceeded the size budget",
	})
	return data, true, err
}

// truncateTree cuts long text fields and over-long arrays everywhere in the
// tree.
func truncateTree(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && truncatableFields[k] && len(s) > maxFieldChars {
				node[k] = s[:maxFieldChars] + fmt.Sprintf("... [TRUNCATED - Original length: %d chars]", len(s))
				continue
			}
			node[k] = truncateTree(child)
		}
		return node
	case []any:
		if len(node) > maxArrayItems {
			rest := len(node) - maxArrayItems
			node = node[:maxArrayItems]
			node = append(node, map[string]any{
				"_truncated": fmt.Sprintf("... and %d more items", rest),
			})
		}
		for i, child := range node {
			node[i] = truncateTree(child)
		}
		return node
	default:
		return v
	}
}

// truncateAllStrings cuts every long string value regardless of its key.
func truncateAllStrings(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && len(s) > maxFieldChars {
				node[k] = s[:maxFieldChars] + fmt.Sprintf("... [TRUNCATED - Original length: %d chars]", len(s))
				continue
			}
			node[k] = truncateAllStrings(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = truncateAllStrings(child)
		}
		return node
	default:
		return v
	}
}

// essentialFields is the keep set for the last-resort reduction: the shaping
// allowlist plus the envelope's own bookkeeping.
var essentialFields = map[string]bool{
	"error_code": true,
	"timestamp":  true,
}

// essentialOnly reduces the tree to allowlisted scalar fields plus a note
// that the rest was cut.
func essentialOnly(v any) any {
	out := map[string]any{
		"_truncated": "response exceeded the size budget",
	}
	node, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, child := range node {
		if !preservedFields[k] && !essentialFields[k] {
			continue
		}
		switch child.(type) {
		case string, bool, float64, nil:
			out[k] = child
		}
	}
	return out
}

// dropNonEssential removes denylisted fields, keeping the preserved set.
func dropNonEssential(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if droppableFields[k] && !preservedFields[k] {
				delete(node, k)
				continue
			}
			node[k] = dropNonEssential(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = dropNonEssential(child)
		}
		return node
	default:
		return v
	}
}
