package core

// entity.go – the typed, identified, versioned entity at the center of the
// Delta Fabric. Struct catalog kept in one file, following this codebase's
// common_structs.go convention of centralizing the types shared across the
// package to avoid import cycles between store, sync and the API facade.

import (
	"time"

	"github.com/google/uuid"
)

// EntityType is the closed set of entity kinds the fabric knows how to
// validate and replicate.
type EntityType string

const (
	EntitySystemState       EntityType = "system_state"
	EntityTask              EntityType = "task"
	EntityProject           EntityType = "project"
	EntityDraft             EntityType = "draft"
	EntityNote              EntityType = "note"
	EntityInboxItem         EntityType = "inbox_item"
	EntityMessage           EntityType = "message"
	EntityThread            EntityType = "thread"
	EntityPendingAction     EntityType = "pending_action"
	EntityActuationIntent   EntityType = "actuation_intent"
	EntityActuator          EntityType = "actuator"
	EntityActuatorState     EntityType = "actuator_state"
	EntityActuationReceipt  EntityType = "actuation_receipt"
	EntityCameraSurface     EntityType = "camera_surface"
	EntitySceneTile         EntityType = "scene_tile"
	EntitySceneObject       EntityType = "scene_object"
	EntitySceneLight        EntityType = "scene_light"
	EntityCameraTick        EntityType = "camera_tick"
	EntityUISurface         EntityType = "ui_surface"
	EntityUIComponent       EntityType = "ui_component"
	EntityUIRenderTick      EntityType = "ui_render_tick"
	EntityUISurfaceLink     EntityType = "ui_surface_link"
	EntityControlSurface    EntityType = "control_surface"
	EntityControlWidget     EntityType = "control_widget"
	EntityToken             EntityType = "token"
	EntityPattern           EntityType = "pattern"
	EntityMotif             EntityType = "motif"
	EntityDiscoveryProposal EntityType = "discovery_proposal"
	EntityDesignProposal    EntityType = "design_proposal"
)

// knownEntityTypes backs IsValid; a map keeps membership checks O(1) as the
// closed set grows.
var knownEntityTypes = map[EntityType]struct{}{
	EntitySystemState: {}, EntityTask: {}, EntityProject: {}, EntityDraft: {},
	EntityNote: {}, EntityInboxItem: {}, EntityMessage: {}, EntityThread: {},
	EntityPendingAction: {}, EntityActuationIntent: {}, EntityActuator: {},
	EntityActuatorState: {}, EntityActuationReceipt: {}, EntityCameraSurface: {},
	EntitySceneTile: {}, EntitySceneObject: {}, EntitySceneLight: {},
	EntityCameraTick: {}, EntityUISurface: {}, EntityUIComponent: {},
	EntityUIRenderTick: {}, EntityUISurfaceLink: {}, EntityControlSurface: {},
	EntityControlWidget: {}, EntityToken: {}, EntityPattern: {}, EntityMotif: {},
	EntityDiscoveryProposal: {}, EntityDesignProposal: {},
}

// IsValid reports whether t is one of the closed entity types.
func (t EntityType) IsValid() bool {
	_, ok := knownEntityTypes[t]
	return ok
}

// Entity is the identified, versioned wrapper around a typed state. State
// itself lives separately (as a map[string]any tree) so the Store can hold
// entity metadata and state snapshots independently.
type Entity struct {
	EntityID  string     `json:"entity_id"`
	Type      EntityType `json:"entity_type"`
	CreatedAt time.Time  `json:"created_at"`
	Version   uint64     `json:"version"`
	StateHash string     `json:"state_hash"`
}

// State is the canonical-JSON-compatible tree backing an entity's current
// value: map[string]any | []any | string | float64/json.Number | bool | nil.
type State = map[string]any

// NewEntityID mints an opaque entity id.
func NewEntityID() string { return uuid.NewString() }

// NewDeltaID mints an opaque delta id.
func NewDeltaID() string { return uuid.NewString() }

// cloneState deep-copies a State tree so commits never mutate a shared
// in-memory snapshot in place; readers keep their own immutable view.
func cloneState(s any) any {
	switch v := s.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = cloneState(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = cloneState(val)
		}
		return out
	default:
		return v
	}
}
