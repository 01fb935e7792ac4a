package core

// delta.go – C2 Entity & Delta Model: the operations that create, mutate
// and verify entities through hash-linked, leaf-patch deltas.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Delta is an immutable, hash-linked, leaf-patch record against an entity.
type Delta struct {
	DeltaID   string     `json:"delta_id"`
	EntityID  string     `json:"entity_id"`
	Version   uint64     `json:"version"`
	Author    string     `json:"author"`
	Ts        time.Time  `json:"ts"`
	Patches   []PatchOp  `json:"patches"`
	PrevHash  string     `json:"prev_hash"`
	NewHash   string     `json:"new_hash"`
	Signature string     `json:"signature,omitempty"`
	EntityTyp EntityType `json:"entity_type"`
}

// Recognized author sources (not a closed enum on the wire, but these are
// the values the rest of the fabric emits).
const (
	AuthorUser             = "user"
	AuthorCognitiveSensor  = "cognitive-sensor"
	AuthorClosureEngine    = "closure_engine"
	AuthorEnforcementSystem = "enforcement_system"
	AuthorDaemon           = "daemon"
)

// CreateEntity materializes a brand-new entity from an initial state,
// producing its genesis delta. The entity is returned at version 1; the
// genesis delta's patches add each top-level key of the initial state (in
// sorted key order), so applying it to an empty state reproduces that state.
func CreateEntity(typ EntityType, initialState State, author string) (*Entity, State, *Delta, error) {
	if !typ.IsValid() {
		return nil, nil, nil, errValidation("unknown entity_type", map[string]any{"entity_type": string(typ)})
	}
	if initialState == nil {
		initialState = State{}
	}
	state := cloneState(initialState).(map[string]any)

	newHash, err := HashState(state)
	if err != nil {
		return nil, nil, nil, errValidation("state not canonicalizable", map[string]any{"err": err.Error()})
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	patches := make([]PatchOp, 0, len(keys))
	for _, k := range keys {
		path := "/" + strings.ReplaceAll(strings.ReplaceAll(k, "~", "~0"), "/", "~1")
		patches = append(patches, PatchOp{Op: OpAdd, Path: path, Value: cloneState(state[k])})
	}

	now := time.Now().UTC()
	e := &Entity{
		EntityID:  NewEntityID(),
		Type:      typ,
		CreatedAt: now,
		Version:   1,
		StateHash: newHash,
	}
	d := &Delta{
		DeltaID:   NewDeltaID(),
		EntityID:  e.EntityID,
		Version:   1,
		Author:    author,
		Ts:        now,
		Patches:   patches,
		PrevHash:  ZeroHash,
		NewHash:   newHash,
		EntityTyp: typ,
	}
	return e, state, d, nil
}

// CreateDelta validates patches are leaf-targeted, applies them to a deep
// copy of currentState (materializing missing ancestors via Law Genesis),
// computes the new hash, and bumps version. On any validation failure it
// returns nil entity, state and delta with the error; entity and
// currentState are never modified.
func CreateDelta(entity *Entity, currentState State, patches []PatchOp, author string) (*Entity, State, *Delta, error) {
	if entity == nil {
		return nil, nil, nil, errValidation("entity is nil", nil)
	}
	if len(patches) == 0 {
		return nil, nil, nil, errValidation("delta must carry at least one patch", nil)
	}

	next := cloneState(currentState).(map[string]any)
	if _, err := ApplyLeafPatches(next, patches); err != nil {
		return nil, nil, nil, errValidation(err.Error(), nil)
	}

	newHash, err := HashState(next)
	if err != nil {
		return nil, nil, nil, errValidation("state not canonicalizable", map[string]any{"err": err.Error()})
	}

	now := time.Now().UTC()
	newEntity := &Entity{
		EntityID:  entity.EntityID,
		Type:      entity.Type,
		CreatedAt: entity.CreatedAt,
		Version:   entity.Version + 1,
		StateHash: newHash,
	}
	d := &Delta{
		DeltaID:   NewDeltaID(),
		EntityID:  entity.EntityID,
		Version:   newEntity.Version,
		Author:    author,
		Ts:        now,
		Patches:   patches,
		PrevHash:  entity.StateHash,
		NewHash:   newHash,
		EntityTyp: entity.Type,
	}
	return newEntity, next, d, nil
}

// ApplyDelta re-applies a delta received from a peer (already validated by
// VerifyHashChain) to the local entity/state pair.
func ApplyDelta(entity *Entity, currentState State, delta *Delta) (*Entity, State, error) {
	next := cloneState(currentState).(map[string]any)
	if _, err := ApplyLeafPatches(next, delta.Patches); err != nil {
		return nil, nil, errValidation(err.Error(), nil)
	}
	newHash, err := HashState(next)
	if err != nil {
		return nil, nil, errValidation("state not canonicalizable", nil)
	}
	if newHash != delta.NewHash {
		return nil, nil, errHashChain(ReasonHashChainBroken)
	}
	newEntity := &Entity{
		EntityID:  entity.EntityID,
		Type:      entity.Type,
		CreatedAt: entity.CreatedAt,
		Version:   delta.Version,
		StateHash: newHash,
	}
	return newEntity, next, nil
}

// VerifyHashChain checks that delta legally follows entity/state's current
// head: Ok, or HASH_CHAIN_BROKEN, or SCHEMA_INVALID. A non-genesis delta
// for a nil entity returns a not-found ENTITY_UNKNOWN error, and one whose
// version is not exactly the entity's version plus one returns a conflict
// error.
func VerifyHashChain(entity *Entity, state State, delta *Delta) error {
	isGenesis := delta.PrevHash == ZeroHash && delta.Version == 1
	if !isGenesis {
		if entity == nil {
			return errNotFound(ReasonEntityUnknown)
		}
		if delta.PrevHash != entity.StateHash {
			return errHashChain(ReasonHashChainBroken)
		}
		if delta.Version != entity.Version+1 {
			return errConflict("version must increase by exactly one", map[string]any{
				"expected": entity.Version + 1, "got": delta.Version,
			})
		}
	}

	base := State{}
	if !isGenesis {
		base = cloneState(state).(map[string]any)
	}
	if _, err := ApplyLeafPatches(base, delta.Patches); err != nil {
		return errValidation(fmt.Sprintf("%s: %s", ReasonSchemaInvalid, err.Error()), nil)
	}
	newHash, err := HashState(base)
	if err != nil {
		return errValidation(ReasonSchemaInvalid, nil)
	}
	if newHash != delta.NewHash {
		return errHashChain(ReasonHashChainBroken)
	}
	return nil
}
