package core

import (
	"path/filepath"
	"testing"
)

func TestStoreAppendAndLoadRoundTrip(t *testing.T) {
	store, err := OpenStore(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	entity, state, delta, err := CreateEntity(EntityTask, State{"title": "a"}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := store.AppendDelta(delta); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	if err := store.SaveEntity(entity, state); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}

	got, gotState, ok := store.LoadEntity(entity.EntityID)
	if !ok {
		t.Fatalf("expected to load the saved entity")
	}
	if got.Version != 1 || gotState["title"] != "a" {
		t.Fatalf("unexpected loaded entity/state: %+v %+v", got, gotState)
	}
}

func TestStoreRebuildsSnapshotFromWALAfterSimulatedCrash(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	entity, state, delta, err := CreateEntity(EntityTask, State{"count": float64(0)}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	// Append the WAL record but deliberately skip SaveEntity, simulating a
	// crash between the two writes.
	if err := store.AppendDelta(delta); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = state

	reopened, err := OpenStore(StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("reopen OpenStore: %v", err)
	}
	got, _, ok := reopened.LoadEntity(entity.EntityID)
	if !ok {
		t.Fatalf("expected the snapshot to be rebuilt from the WAL after reopen")
	}
	if got.StateHash != delta.NewHash {
		t.Fatalf("rebuilt entity head mismatch: got %s want %s", got.StateHash, delta.NewHash)
	}
}

func TestStoreLoadEntitiesByTypeSortedByID(t *testing.T) {
	store, err := OpenStore(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		entity, state, delta, err := CreateEntity(EntityTask, State{"i": float64(i)}, AuthorUser)
		if err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
		if err := store.AppendDelta(delta); err != nil {
			t.Fatalf("AppendDelta: %v", err)
		}
		if err := store.SaveEntity(entity, state); err != nil {
			t.Fatalf("SaveEntity: %v", err)
		}
	}
	tasks := store.LoadEntitiesByType(EntityTask)
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i-1].EntityID >= tasks[i].EntityID {
			t.Fatalf("expected entities sorted by id, got %s before %s", tasks[i-1].EntityID, tasks[i].EntityID)
		}
	}
}

func TestStoreLoadDeltasForEntitySinceHash(t *testing.T) {
	store, err := OpenStore(StoreConfig{Dir: filepath.Join(t.TempDir(), "d")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	entity, state, d1, err := CreateEntity(EntityTask, State{"n": float64(0)}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := store.AppendDelta(d1); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	if err := store.SaveEntity(entity, state); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	entity2, state2, d2, err := CreateDelta(entity, state, []PatchOp{{Op: OpReplace, Path: "/n", Value: float64(1)}}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateDelta: %v", err)
	}
	if err := store.AppendDelta(d2); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	if err := store.SaveEntity(entity2, state2); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}

	full := store.LoadDeltasForEntity(entity.EntityID, ZeroHash)
	if len(full) != 2 {
		t.Fatalf("expected full history of 2 deltas from genesis, got %d", len(full))
	}
	since := store.LoadDeltasForEntity(entity.EntityID, d1.NewHash)
	if len(since) != 1 || since[0].DeltaID != d2.DeltaID {
		t.Fatalf("expected only the delta after d1's head, got %#v", since)
	}
}
