package core

// sync_conflict.go – C10 conflict detection and deterministic resolution.
//
// When both sides have deltas after a common base_hash, the two branches
// that emerged from it conflict. Resolution must be deterministic given
// identical inputs: default is lexicographic order over the branch head
// hash; a type may instead register a commutative merge function.

import "sort"

// ConflictStatus is an EntityConflict's lifecycle stage.
type ConflictStatus string

const (
	ConflictDetected ConflictStatus = "DETECTED"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// ConflictBranch is one side of a detected conflict: the deltas committed
// after the common base, in commit order.
type ConflictBranch struct {
	PeerID   string
	Deltas   []*Delta
	HeadHash string
}

// EntityConflict records two diverging branches for one entity found to
// share a common ancestor state hash.
type EntityConflict struct {
	EntityID string
	BaseHash string
	BranchA  ConflictBranch
	BranchB  ConflictBranch
	Status   ConflictStatus
}

// MergeFunc commutatively merges two diverging branches into a single
// compensating resolution delta's patch set, given the entity's state as
// of the common base.
type MergeFunc func(entity *Entity, baseState State, a, b ConflictBranch) ([]PatchOp, error)

// ConflictResolverRegistry maps entity types to their merge strategy.
// Types with no registered MergeFunc fall back to the lexicographic
// head-hash tie-break.
type ConflictResolverRegistry struct {
	merges map[EntityType]MergeFunc
}

// NewConflictResolverRegistry returns an empty registry (default resolver
// for every type until RegisterMerge is called).
func NewConflictResolverRegistry() *ConflictResolverRegistry {
	return &ConflictResolverRegistry{merges: map[EntityType]MergeFunc{}}
}

// RegisterMerge installs a commutative merge function for entity type t.
func (r *ConflictResolverRegistry) RegisterMerge(t EntityType, fn MergeFunc) {
	r.merges[t] = fn
}

// DetectConflict builds an EntityConflict for two branches sharing baseHash,
// or nil if one branch is empty (no real divergence) or they're identical.
func DetectConflict(entityID, baseHash string, a, b ConflictBranch) *EntityConflict {
	if len(a.Deltas) == 0 || len(b.Deltas) == 0 {
		return nil
	}
	if a.HeadHash == b.HeadHash {
		return nil
	}
	return &EntityConflict{EntityID: entityID, BaseHash: baseHash, BranchA: a, BranchB: b, Status: ConflictDetected}
}

// winningBranch is the default deterministic tie-break: lexicographically
// smaller head_hash wins (i.e. becomes the surviving canonical branch; the
// other branch's effect is rebased into a compensating delta).
func winningBranch(c *EntityConflict) (winner, loser ConflictBranch) {
	branches := []ConflictBranch{c.BranchA, c.BranchB}
	sort.SliceStable(branches, func(i, j int) bool { return branches[i].HeadHash < branches[j].HeadHash })
	return branches[0], branches[1]
}

// Resolve determines the compensating patch set that reconciles the
// losing branch into the winning one. If t has a registered MergeFunc it
// is used instead of the lexicographic tie-break; its result still takes
// the form of a single compensating delta's patches so both nodes
// converge by applying the same delta.
func (r *ConflictResolverRegistry) Resolve(t EntityType, entity *Entity, baseState State, c *EntityConflict) (ConflictBranch, []PatchOp, error) {
	if fn, ok := r.merges[t]; ok {
		patches, err := fn(entity, baseState, c.BranchA, c.BranchB)
		if err != nil {
			return ConflictBranch{}, nil, err
		}
		winner, _ := winningBranch(c)
		return winner, patches, nil
	}
	winner, loser := winningBranch(c)
	// The loser's patches replay on top of the winner's resulting state as
	// the compensating delta; callers apply these through CreateDelta.
	var patches []PatchOp
	for _, d := range loser.Deltas {
		patches = append(patches, d.Patches...)
	}
	return winner, patches, nil
}
