package core

// closure.go – C6 Closure Engine: the single place that turns a closure
// event into one atomic system_state delta, a durable registry row, and a
// best-effort physical loop removal, in that order.
//
// Grounded on the prior implementation's consensus.go commit-then-side-effect
// ordering:
// the ledger write (here, the delta) is authoritative and committed first;
// anything that can fail afterward (registry append, loop removal) never
// rolls the commit back.

import (
	"fmt"
	"time"
)

// ClosureOutcome is the outcome a closure event reports.
type ClosureOutcome string

const (
	OutcomeClosed   ClosureOutcome = "closed"
	OutcomeArchived ClosureOutcome = "archived"
)

// ClosureRequest is C6's sole input.
type ClosureRequest struct {
	LoopID  string // optional; idempotency key when present
	Title   string
	Outcome ClosureOutcome
	Source  string // author tag propagated onto the delta and registry row
}

// ClosureRegistryRow is one durable, append-only record of a closure event.
type ClosureRegistryRow struct {
	Ts      time.Time      `json:"ts"`
	LoopID  string         `json:"loop_id,omitempty"`
	Title   string         `json:"title,omitempty"`
	Outcome ClosureOutcome `json:"outcome"`
	Source  string         `json:"source"`
}

// ClosureRegistry is the durable idempotency ledger and aggregate-stats
// holder for closure events; implementations persist rows plus
// cumulative closed/open counters.
type ClosureRegistry interface {
	// HasLoop reports whether loopID already has a successful closure row
	// (the idempotency gate). Ignored when loopID == "".
	HasLoop(loopID string) (bool, error)
	// Append durably records row and updates aggregate stats.
	Append(row ClosureRegistryRow) error
	// Counts returns the registry's cumulative closed-loop count and the
	// engine's current open-loop signal, used to compute closure_ratio.
	Counts() (closed int, open int, err error)
	// RemoveLoop best-effort removes loopID from the live loop set and
	// records it as closed; failures here must not affect the delta commit.
	RemoveLoop(loopID string) error
}

// ClosureEngine ties a Store, a ClosureRegistry and the clock together.
type ClosureEngine struct {
	store    *Store
	registry ClosureRegistry
	now      func() time.Time

	// Signer, when set, signs every delta this engine commits; nil leaves
	// deltas unsigned.
	Signer Signer
}

// NewClosureEngine constructs a closure engine; now defaults to time.Now
// when nil, overridable for deterministic tests.
func NewClosureEngine(store *Store, registry ClosureRegistry, now func() time.Time) *ClosureEngine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ClosureEngine{store: store, registry: registry, now: now}
}

// systemStateEntityID is the well-known id of the singleton system_state
// entity every closure reduces into.
const systemStateEntityID = "system_state"

// Close runs the full closure protocol: idempotency check, ratio/mode/streak
// computation, one atomic delta, registry append, best-effort loop removal.
func (ce *ClosureEngine) Close(req ClosureRequest) (*Entity, State, *Delta, error) {
	if req.LoopID != "" {
		exists, err := ce.registry.HasLoop(req.LoopID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("closure: registry check: %w", err)
		}
		if exists {
			return nil, nil, nil, errConflict(ReasonAlreadyClosed, map[string]any{"loop_id": req.LoopID})
		}
	}

	entity, state, exists := ce.store.LoadEntity(systemStateEntityID)

	closedBefore, openLoops, err := ce.registry.Counts()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("closure: registry counts: %w", err)
	}
	closedAfter := closedBefore + 1
	ratio := closureRatio(closedAfter, openLoops)
	modeResult := ClosureRatioForMode(ratio)

	now := ce.now()
	var newEntity *Entity
	var newState State
	var delta *Delta

	if !exists {
		newEntity, newState, delta, err = ce.genesisClosureDelta(ratio, modeResult, req, now)
	} else {
		newEntity, newState, delta, err = ce.incrementalClosureDelta(entity, state, ratio, modeResult, req, now)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if err := SignDelta(delta, ce.Signer); err != nil {
		return nil, nil, nil, fmt.Errorf("closure: sign delta: %w", err)
	}
	if err := ce.store.AppendDelta(delta); err != nil {
		return nil, nil, nil, fmt.Errorf("closure: append delta: %w", err)
	}
	if err := ce.store.SaveEntity(newEntity, newState); err != nil {
		return nil, nil, nil, fmt.Errorf("closure: save entity: %w", err)
	}

	// From here on, the delta is authoritative and already committed;
	// registry/removal failures are reported but never unwind the commit.
	if err := ce.registry.Append(ClosureRegistryRow{
		Ts: now, LoopID: req.LoopID, Title: req.Title, Outcome: req.Outcome, Source: req.Source,
	}); err != nil {
		return newEntity, newState, delta, fmt.Errorf("closure: committed, registry append failed: %w", err)
	}
	if req.LoopID != "" {
		if err := ce.registry.RemoveLoop(req.LoopID); err != nil {
			return newEntity, newState, delta, fmt.Errorf("closure: committed, loop removal failed: %w", err)
		}
	}
	return newEntity, newState, delta, nil
}

// closureRatio computes closed / (open + closed); an all-zero denominator
// (fresh system with nothing ever open or closed) resolves to 1.0, matching
// scenario S1's "open=0 on first closure ⇒ ratio 1.0".
func closureRatio(closed, open int) float64 {
	denom := closed + open
	if denom <= 0 {
		return 1.0
	}
	return float64(closed) / float64(denom)
}

// genesisClosureDelta materializes a fully populated system_state skeleton
// when no system_state entity exists yet.
func (ce *ClosureEngine) genesisClosureDelta(ratio float64, mr ModeResult, req ClosureRequest, now time.Time) (*Entity, State, *Delta, error) {
	streak := 0
	bestStreak := 0
	if mr.Mode == ModeBuild || mr.Mode == ModeScale {
		streak = 1
		bestStreak = 1
	}

	initial := State{
		"mode":          string(mr.Mode),
		"build_allowed": mr.BuildAllowed,
		"metrics": map[string]any{
			"closed_loops_total": float64(1),
			"last_closure_at":    now.Format(time.RFC3339),
			"closure_ratio":      ratio,
			"open_loops":         float64(0),
			"closures_today":     float64(1),
		},
		"enforcement": map[string]any{
			"violations_count": float64(0),
			"closure_log":      []any{closureLogEntry(req, now)},
		},
		"streak": map[string]any{
			"streak_days": float64(streak),
			"best_streak": float64(bestStreak),
		},
		"last_mode_transition_at":     now.Format(time.RFC3339),
		"last_mode_transition_reason": "genesis_closure",
	}

	entity, state, delta, err := CreateEntity(EntitySystemState, initial, AuthorClosureEngine)
	if err != nil {
		return nil, nil, nil, err
	}
	entity.EntityID = systemStateEntityID
	delta.EntityID = systemStateEntityID
	return entity, state, delta, nil
}

// incrementalClosureDelta builds the leaf-patch set against an existing
// system_state.
func (ce *ClosureEngine) incrementalClosureDelta(entity *Entity, state State, ratio float64, mr ModeResult, req ClosureRequest, now time.Time) (*Entity, State, *Delta, error) {
	prevMode, _ := state["mode"].(string)
	modeChanged := prevMode != string(mr.Mode)

	closedTotal, _ := numberAt(state, "/metrics/closed_loops_total")
	closuresToday, _ := numberAt(state, "/metrics/closures_today")
	streakDays, _ := numberAt(state, "/streak/streak_days")
	bestStreak, _ := numberAt(state, "/streak/best_streak")

	firstClosureToday := isFirstClosureToday(state, now)
	streakEligible := mr.Mode == ModeBuild || mr.Mode == ModeScale
	if firstClosureToday && streakEligible {
		streakDays++
	}
	if streakDays > bestStreak {
		bestStreak = streakDays
	}

	ops := []PatchOp{
		{Op: OpReplace, Path: "/enforcement/violations_count", Value: float64(0)},
		{Op: OpAdd, Path: "/enforcement/closure_log/-", Value: closureLogEntry(req, now)},
		{Op: OpReplace, Path: "/metrics/closed_loops_total", Value: closedTotal + 1},
		{Op: OpReplace, Path: "/metrics/last_closure_at", Value: now.Format(time.RFC3339)},
		{Op: OpReplace, Path: "/metrics/closure_ratio", Value: ratio},
		{Op: OpReplace, Path: "/metrics/closures_today", Value: closuresToday + 1},
		{Op: OpReplace, Path: "/build_allowed", Value: mr.BuildAllowed},
		{Op: OpReplace, Path: "/streak/streak_days", Value: streakDays},
		{Op: OpReplace, Path: "/streak/best_streak", Value: bestStreak},
	}
	if modeChanged {
		ops = append(ops,
			PatchOp{Op: OpReplace, Path: "/mode", Value: string(mr.Mode)},
			PatchOp{Op: OpReplace, Path: "/last_mode_transition_at", Value: now.Format(time.RFC3339)},
			PatchOp{Op: OpReplace, Path: "/last_mode_transition_reason", Value: "closure"},
		)
	}

	return CreateDelta(entity, state, ops, AuthorClosureEngine)
}

// isFirstClosureToday reports whether the most recent closure_at recorded
// in state falls on a UTC calendar day before now's: UTC calendar day is
// the canonical streak boundary.
func isFirstClosureToday(state State, now time.Time) bool {
	raw, ok := traverseGet(state, "/metrics/last_closure_at")
	if !ok {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return true
	}
	last, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return true
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return !(ly == ny && lm == nm && ld == nd)
}

func closureLogEntry(req ClosureRequest, now time.Time) map[string]any {
	entry := map[string]any{
		"ts":      now.Format(time.RFC3339),
		"outcome": string(req.Outcome),
		"source":  req.Source,
	}
	if req.LoopID != "" {
		entry["loop_id"] = req.LoopID
	}
	if req.Title != "" {
		entry["title"] = req.Title
	}
	return entry
}

// numberAt reads a numeric leaf at path, defaulting to 0 when absent.
func numberAt(state State, path string) (float64, bool) {
	v, ok := traverseGet(state, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// traverseGet reads a leaf value at an RFC 6901 pointer without mutating
// state, returning ok=false for any missing ancestor or leaf.
func traverseGet(state State, path string) (any, bool) {
	tokens, err := splitPointer(path)
	if err != nil || len(tokens) == 0 {
		return nil, false
	}
	var cur any = state
	for _, tok := range tokens {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := isArrayIndex(tok)
			if !ok || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
