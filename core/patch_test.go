package core

import "testing"

func TestApplyLeafPatchesMaterializesAncestors(t *testing.T) {
	state := map[string]any{}
	ops := []PatchOp{
		{Op: OpAdd, Path: "/metrics/closed_loops_total", Value: float64(1)},
	}
	materialized, err := ApplyLeafPatches(state, ops)
	if err != nil {
		t.Fatalf("ApplyLeafPatches: %v", err)
	}
	if materialized != 1 {
		t.Fatalf("expected 1 materialized ancestor, got %d", materialized)
	}
	metrics, ok := state["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("expected /metrics to be materialized as an object, got %T", state["metrics"])
	}
	if metrics["closed_loops_total"] != float64(1) {
		t.Fatalf("leaf value not applied: %v", metrics["closed_loops_total"])
	}
}

func TestApplyLeafPatchesRejectsRootTarget(t *testing.T) {
	state := map[string]any{}
	_, err := ApplyLeafPatches(state, []PatchOp{{Op: OpReplace, Path: "", Value: 1}})
	if err == nil {
		t.Fatalf("expected an error patching the document root")
	}
}

func TestApplyLeafPatchesArrayAppendAndIndex(t *testing.T) {
	state := map[string]any{"log": []any{}}
	ops := []PatchOp{
		{Op: OpAdd, Path: "/log/-", Value: "first"},
		{Op: OpAdd, Path: "/log/-", Value: "second"},
		{Op: OpReplace, Path: "/log/0", Value: "replaced"},
	}
	if _, err := ApplyLeafPatches(state, ops); err != nil {
		t.Fatalf("ApplyLeafPatches: %v", err)
	}
	log := state["log"].([]any)
	if len(log) != 2 || log[0] != "replaced" || log[1] != "second" {
		t.Fatalf("unexpected array state: %#v", log)
	}
}

func TestApplyLeafPatchesRemoveMissingIsNoop(t *testing.T) {
	state := map[string]any{"items": []any{"a"}}
	_, err := ApplyLeafPatches(state, []PatchOp{{Op: OpRemove, Path: "/items/5"}})
	if err != nil {
		t.Fatalf("remove of a non-existent array index must be a no-op, got error: %v", err)
	}
	items := state["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected items untouched, got %#v", items)
	}
}

func TestApplyLeafPatchesRejectsNonContainerAncestor(t *testing.T) {
	state := map[string]any{"leaf": "scalar"}
	_, err := ApplyLeafPatches(state, []PatchOp{{Op: OpAdd, Path: "/leaf/child", Value: 1}})
	if err == nil {
		t.Fatalf("expected an error when an ancestor path segment is a scalar")
	}
}

func TestIsArrayIndex(t *testing.T) {
	cases := []struct {
		token   string
		wantIdx int
		wantOk  bool
	}{
		{"-", -1, true},
		{"0", 0, true},
		{"12", 12, true},
		{"01", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"-1", 0, false},
	}
	for _, c := range cases {
		idx, ok := isArrayIndex(c.token)
		if idx != c.wantIdx || ok != c.wantOk {
			t.Errorf("isArrayIndex(%q) = (%d, %v), want (%d, %v)", c.token, idx, ok, c.wantIdx, c.wantOk)
		}
	}
}

func TestSplitPointerUnescapes(t *testing.T) {
	tokens, err := splitPointer("/a~1b/c~0d")
	if err != nil {
		t.Fatalf("splitPointer: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "a/b" || tokens[1] != "c~d" {
		t.Fatalf("unexpected tokens: %#v", tokens)
	}
}

func TestSplitPointerRequiresLeadingSlash(t *testing.T) {
	if _, err := splitPointer("no-leading-slash"); err == nil {
		t.Fatalf("expected an error for a path missing the leading slash")
	}
}
