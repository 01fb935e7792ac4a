package core

// genesis_materialize.go – Law Genesis (C3): the rule that a leaf patch
// whose path traverses missing ancestor containers materializes those
// ancestors as part of the same delta, never as a separate one.
//
// The actual container creation happens inline during patch.go's
// resolveLeafParent (it needs the walk to know whether each missing
// ancestor should be an object or an array). This file is the component's
// public seam: ApplyLeafPatches is what C2's createDelta/applyDelta call,
// and it is the only place that may mutate a state tree.

import "fmt"

// ApplyLeafPatches applies ops to state in order, materializing any missing
// ancestor containers along the way. It returns the number of ops whose
// application required materializing at least one ancestor, purely for
// observability: Law Genesis always succeeds in exactly one delta, never a
// separate materialization step.
func ApplyLeafPatches(state map[string]any, ops []PatchOp) (materializedCount int, err error) {
	for i, op := range ops {
		if err := validateLeafOp(op); err != nil {
			return materializedCount, fmt.Errorf("patch %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	for i, op := range ops {
		created, err := applyOne(state, op)
		if err != nil {
			return materializedCount, fmt.Errorf("patch %d (%s %s): %w", i, op.Op, op.Path, err)
		}
		if created {
			materializedCount++
		}
	}
	return materializedCount, nil
}

// validateLeafOp rejects patches that are structurally invalid before any
// mutation is attempted, so a delta either applies in full or not at all.
func validateLeafOp(op PatchOp) error {
	if err := validateOpName(op.Op); err != nil {
		return err
	}
	tokens, err := splitPointer(op.Path)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("path %q targets the document root, not a leaf", op.Path)
	}
	return nil
}
