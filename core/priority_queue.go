package core

// priority_queue.go – the entity-type priority table and ordering rule
// used when multiple deltas are pending delivery to a peer.

import "sort"

// entityTypePriority assigns each entity type to a priority bucket, 1
// highest. Within a bucket, deltas order by ts then version
// (entityPriorityLess).
var entityTypePriority = map[EntityType]int{
	EntitySystemState: 1,

	EntityPendingAction: 2,

	EntityActuationIntent: 3,

	EntityActuator:         4,
	EntityActuatorState:    4,
	EntityActuationReceipt: 4,

	EntityCameraSurface: 5,
	EntitySceneTile:     5,
	EntitySceneObject:   5,
	EntitySceneLight:    5,
	EntityCameraTick:    5,

	EntityUISurface:      6,
	EntityUIComponent:    6,
	EntityUIRenderTick:   6,
	EntityUISurfaceLink:  6,
	EntityControlSurface: 6,
	EntityControlWidget:  6,

	EntityMessage: 7,
	EntityThread:  7,

	EntityTask:    8,
	EntityProject: 8,

	EntityDraft:     9,
	EntityNote:      9,
	EntityInboxItem: 9,

	EntityToken:             10,
	EntityPattern:           10,
	EntityMotif:             10,
	EntityDiscoveryProposal: 10,
	EntityDesignProposal:    10,
}

// priorityOf returns t's bucket, defaulting to the lowest-priority bucket
// for any type the table doesn't (yet) enumerate.
func priorityOf(t EntityType) int {
	if p, ok := entityTypePriority[t]; ok {
		return p
	}
	return 10
}

// entityPriorityLess orders two pending deltas: lower bucket first, then
// earlier ts, then lower version.
func entityPriorityLess(a, b *Delta) bool {
	pa, pb := priorityOf(a.EntityTyp), priorityOf(b.EntityTyp)
	if pa != pb {
		return pa < pb
	}
	if !a.Ts.Equal(b.Ts) {
		return a.Ts.Before(b.Ts)
	}
	return a.Version < b.Version
}

// SortByPriority orders deltas in place by entity-type priority bucket.
func SortByPriority(deltas []*Delta) {
	sort.SliceStable(deltas, func(i, j int) bool { return entityPriorityLess(deltas[i], deltas[j]) })
}
