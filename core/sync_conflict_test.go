package core

import "testing"

func TestDetectConflictNilWhenOneBranchEmpty(t *testing.T) {
	a := ConflictBranch{PeerID: "a", Deltas: nil, HeadHash: "h1"}
	b := ConflictBranch{PeerID: "b", Deltas: []*Delta{{DeltaID: "d1"}}, HeadHash: "h2"}
	if c := DetectConflict("e1", "base", a, b); c != nil {
		t.Fatalf("expected nil conflict when one branch is empty, got %+v", c)
	}
}

func TestDetectConflictNilWhenBranchesConverged(t *testing.T) {
	a := ConflictBranch{PeerID: "a", Deltas: []*Delta{{DeltaID: "d1"}}, HeadHash: "same"}
	b := ConflictBranch{PeerID: "b", Deltas: []*Delta{{DeltaID: "d2"}}, HeadHash: "same"}
	if c := DetectConflict("e1", "base", a, b); c != nil {
		t.Fatalf("expected nil conflict when both branches reach the same head, got %+v", c)
	}
}

func TestDetectConflictBuildsConflictOnDivergence(t *testing.T) {
	a := ConflictBranch{PeerID: "a", Deltas: []*Delta{{DeltaID: "d1"}}, HeadHash: "hash-a"}
	b := ConflictBranch{PeerID: "b", Deltas: []*Delta{{DeltaID: "d2"}}, HeadHash: "hash-b"}
	c := DetectConflict("e1", "base", a, b)
	if c == nil {
		t.Fatalf("expected a non-nil conflict for diverging heads")
	}
	if c.Status != ConflictDetected {
		t.Fatalf("expected status DETECTED, got %s", c.Status)
	}
	if c.EntityID != "e1" || c.BaseHash != "base" {
		t.Fatalf("expected the entity id and base hash to be preserved, got %+v", c)
	}
}

func TestConflictResolverRegistryDefaultResolveIsLexicographicAndDeterministic(t *testing.T) {
	registry := NewConflictResolverRegistry()
	entity := &Entity{EntityID: "e1", Type: EntityNote}

	a := ConflictBranch{PeerID: "a", Deltas: []*Delta{{DeltaID: "d1", Patches: []PatchOp{{Op: OpReplace, Path: "/x", Value: "a"}}}}, HeadHash: "zzz"}
	b := ConflictBranch{PeerID: "b", Deltas: []*Delta{{DeltaID: "d2", Patches: []PatchOp{{Op: OpReplace, Path: "/x", Value: "b"}}}}, HeadHash: "aaa"}
	conflict := DetectConflict("e1", "base", a, b)

	winner1, patches1, err := registry.Resolve(EntityNote, entity, State{}, conflict)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winner1.HeadHash != "aaa" {
		t.Fatalf("expected the lexicographically smaller head hash to win, got %s", winner1.HeadHash)
	}
	if len(patches1) != 1 || patches1[0].Value != "a" {
		t.Fatalf("expected the loser's (branch a) patches replayed as the compensating delta, got %+v", patches1)
	}

	// Resolving again with the branches swapped must converge on the same
	// winner: the tie-break is a property of the head hashes, not argument
	// order.
	swapped := DetectConflict("e1", "base", b, a)
	winner2, patches2, err := registry.Resolve(EntityNote, entity, State{}, swapped)
	if err != nil {
		t.Fatalf("Resolve (swapped): %v", err)
	}
	if winner2.HeadHash != winner1.HeadHash {
		t.Fatalf("expected resolution to be independent of branch argument order, got %s vs %s", winner2.HeadHash, winner1.HeadHash)
	}
	if len(patches2) != len(patches1) || patches2[0].Value != patches1[0].Value {
		t.Fatalf("expected identical compensating patches regardless of argument order, got %+v vs %+v", patches2, patches1)
	}
}

func TestConflictResolverRegistryUsesRegisteredMergeFunc(t *testing.T) {
	registry := NewConflictResolverRegistry()
	called := false
	registry.RegisterMerge(EntityTask, func(entity *Entity, baseState State, a, b ConflictBranch) ([]PatchOp, error) {
		called = true
		return []PatchOp{{Op: OpAdd, Path: "/merged", Value: true}}, nil
	})

	entity := &Entity{EntityID: "e1", Type: EntityTask}
	a := ConflictBranch{PeerID: "a", Deltas: []*Delta{{DeltaID: "d1"}}, HeadHash: "h1"}
	b := ConflictBranch{PeerID: "b", Deltas: []*Delta{{DeltaID: "d2"}}, HeadHash: "h2"}
	conflict := DetectConflict("e1", "base", a, b)

	_, patches, err := registry.Resolve(EntityTask, entity, State{}, conflict)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !called {
		t.Fatalf("expected the registered MergeFunc to be invoked instead of the default tie-break")
	}
	if len(patches) != 1 || patches[0].Path != "/merged" {
		t.Fatalf("expected the MergeFunc's patches to be returned verbatim, got %+v", patches)
	}
}
