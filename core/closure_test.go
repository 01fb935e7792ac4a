package core

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*ClosureEngine, *Store, *FileClosureRegistry) {
	t.Helper()
	store, err := OpenStore(StoreConfig{Dir: filepath.Join(t.TempDir(), "store")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	registry, err := OpenClosureRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("OpenClosureRegistry: %v", err)
	}
	clock := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	engine := NewClosureEngine(store, registry, func() time.Time { return clock })
	return engine, store, registry
}

func TestClosureEngineGenesisFirstClosureRatioIsOne(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	entity, state, delta, err := engine.Close(ClosureRequest{Title: "ship v1", Outcome: OutcomeClosed, Source: AuthorUser})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if entity.Version != 1 {
		t.Fatalf("expected genesis version 1, got %d", entity.Version)
	}
	ratio, _ := numberAt(state, "/metrics/closure_ratio")
	if ratio != 1.0 {
		t.Fatalf("expected closure_ratio 1.0 on the very first closure, got %v", ratio)
	}
	if delta.EntityID != systemStateEntityID {
		t.Fatalf("expected delta against the singleton system_state entity, got %s", delta.EntityID)
	}
}

func TestClosureEngineIdempotentOnRepeatedLoopID(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	req := ClosureRequest{LoopID: "loop-1", Title: "ship v1", Outcome: OutcomeClosed, Source: AuthorUser}
	if _, _, _, err := engine.Close(req); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if _, _, _, err := engine.Close(req); err == nil {
		t.Fatalf("expected the second Close with the same loop_id to be rejected")
	} else if !IsKind(err, KindConflict) {
		t.Fatalf("expected a conflict error, got %v", err)
	}
}

func TestClosureEngineIncrementalAccumulatesCounters(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, _, _, err := engine.Close(ClosureRequest{LoopID: "loop-1", Outcome: OutcomeClosed, Source: AuthorUser}); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	_, state, _, err := engine.Close(ClosureRequest{LoopID: "loop-2", Outcome: OutcomeClosed, Source: AuthorUser})
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	total, _ := numberAt(state, "/metrics/closed_loops_total")
	if total != 2 {
		t.Fatalf("expected closed_loops_total to accumulate to 2, got %v", total)
	}
}

func TestClosureEngineRemovesLoopFromRegistryOnClose(t *testing.T) {
	engine, _, registry := newTestEngine(t)
	if err := registry.OpenLoop("loop-9", "track the launch"); err != nil {
		t.Fatalf("OpenLoop: %v", err)
	}
	if _, _, _, err := engine.Close(ClosureRequest{LoopID: "loop-9", Outcome: OutcomeClosed, Source: AuthorUser}); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, open, err := registry.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if open != 0 {
		t.Fatalf("expected the closed loop to be removed from the live set, open=%d", open)
	}
}

func TestClosureRatioZeroDenominatorIsOne(t *testing.T) {
	if got := closureRatio(0, 0); got != 1.0 {
		t.Fatalf("expected closureRatio(0,0) == 1.0, got %v", got)
	}
	if got := closureRatio(3, 1); got != 0.75 {
		t.Fatalf("expected closureRatio(3,1) == 0.75, got %v", got)
	}
}
