package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestShapeResponsePassthrough(t *testing.T) {
	small := map[string]any{"id": "w-1", "title": "short"}
	data, truncated, err := shapeResponse(small, 0)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if truncated {
		t.Fatal("small payload must pass through untouched")
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["title"] != "short" {
		t.Fatalf("payload drifted: %v", got)
	}
}

func TestShapeResponseTruncatesLongFields(t *testing.T) {
	long := strings.Repeat("x", 60000)
	payload := map[string]any{
		"id":          "w-1",
		"description": long,
	}
	data, truncated, err := shapeResponse(payload, defaultResponseBudget)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if !truncated {
		t.Fatal("oversized payload must be shaped")
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	desc, _ := got["description"].(string)
	if !strings.Contains(desc, "[TRUNCATED - Original length: 60000 chars]") {
		t.Fatalf("missing truncation marker: %q", desc[len(desc)-80:])
	}
	if len(desc) > maxFieldChars+100 {
		t.Fatalf("description not cut to the field cap: %d chars", len(desc))
	}
	if got["id"] != "w-1" {
		t.Fatal("preserved field lost")
	}
}

func TestShapeResponseCapsArrays(t *testing.T) {
	items := make([]any, 40)
	for i := range items {
		items[i] = map[string]any{"description": strings.Repeat("y", 2000)}
	}
	payload := map[string]any{"items": items}

	data, truncated, err := shapeResponse(payload, defaultResponseBudget)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if !truncated {
		t.Fatal("expected shaping")
	}
	var got struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Cap plus one marker entry.
	if len(got.Items) != maxArrayItems+1 {
		t.Fatalf("expected %d entries, got %d", maxArrayItems+1, len(got.Items))
	}
	marker, _ := got.Items[maxArrayItems]["_truncated"].(string)
	if !strings.Contains(marker, "30 more items") {
		t.Fatalf("unexpected marker: %q", marker)
	}
}

func TestShapeResponseDropsNonEssential(t *testing.T) {
	// Truncation alone cannot save this: the bulk sits in a droppable field
	// made of many sub-cap strings.
	junk := make(map[string]any)
	for i := 0; i < 200; i++ {
		junk[strings.Repeat("k", 3)+string(rune('a'+i%26))+string(rune('a'+i/26))] = strings.Repeat("z", 500)
	}
	payload := map[string]any{
		"id":       "w-1",
		"status":   "in_progress",
		"metadata": junk,
	}

	data, truncated, err := shapeResponse(payload, defaultResponseBudget)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if !truncated {
		t.Fatal("expected shaping")
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["metadata"]; ok {
		t.Fatal("metadata should be dropped when over budget")
	}
	if got["id"] != "w-1" || got["status"] != "in_progress" {
		t.Fatalf("essential fields lost: %v", got)
	}
}

func TestShapeResponseEnforcesBudget(t *testing.T) {
	// Bulk in fields that are neither truncatable nor droppable must still
	// come back under the budget.
	payloads := []map[string]any{
		{"id": "w-1", "content": strings.Repeat("x", 60000)},
		{"id": "w-2", "markdown": strings.Repeat("y", 120000)},
	}
	// Thousands of small map entries: the per-key overhead survives both the
	// field truncation and the array cap.
	burst := make(map[string]any, 4000)
	for i := 0; i < 4000; i++ {
		burst[fmt.Sprintf("node-%04d", i)] = strings.Repeat("z", 20)
	}
	payloads = append(payloads, map[string]any{"id": "w-3", "tree": burst})

	for _, payload := range payloads {
		data, truncated, err := shapeResponse(payload, defaultResponseBudget)
		if err != nil {
			t.Fatalf("shape %v: %v", payload["id"], err)
		}
		if !truncated {
			t.Fatalf("shape %v: oversized payload must be marked truncated", payload["id"])
		}
		if len(data) > defaultResponseBudget {
			t.Fatalf("shape %v: budget exceeded: %d > %d", payload["id"], len(data), defaultResponseBudget)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("shape %v: result is not valid JSON: %v", payload["id"], err)
		}
		if got["id"] != payload["id"] {
			t.Fatalf("shape %v: allowlisted id lost: %v", payload["id"], got)
		}
	}
}

func TestEssentialOnlyKeepsScalarAllowlist(t *testing.T) {
	tree := map[string]any{
		"success":    false,
		"error":      "boom",
		"error_code": "INTERNAL_ERROR",
		"data":       map[string]any{"big": "tree"},
		"history":    []any{"a", "b"},
	}
	out, ok := essentialOnly(tree).(map[string]any)
	if !ok {
		t.Fatal("expected a map")
	}
	if out["success"] != false || out["error"] != "boom" || out["error_code"] != "INTERNAL_ERROR" {
		t.Fatalf("essential scalars lost: %v", out)
	}
	if _, kept := out["data"]; kept {
		t.Fatal("non-essential subtree must be cut")
	}
	if out["_truncated"] == "" {
		t.Fatal("expected the truncation note")
	}
}

func TestShapeResponseSmallBudgetLowersThreshold(t *testing.T) {
	payload := map[string]any{"description": strings.Repeat("x", 5000)}
	_, truncated, err := shapeResponse(payload, 2000)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if !truncated {
		t.Fatal("a budget below the default threshold must still trigger shaping")
	}
}
