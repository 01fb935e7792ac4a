package core

// api.go – C12 Public API surface: a transport-agnostic facade over every
// other component. cmd/cli wraps each method as a cobra command; a thin
// HTTP shell may wrap the same methods as routes. KernelContext itself
// never reaches for ambient authority ("no global mutable state"): every
// dependency is a field set at construction.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// KernelContext is the one object an embedder constructs and threads
// through every operation; it owns no goroutines of its own beyond what
// Daemon.Start/SyncEngine.Start spin up explicitly and the one StreamState
// starts per subscription to close that subscription's channel.
type KernelContext struct {
	Store     *Store
	Registry  *FileClosureRegistry
	Closure   *ClosureEngine
	Admission *Admission
	Ledger    *WorkLedger
	Daemon    *Daemon
	Timeline  *Timeline
	Sync      *SyncEngine // nil when running without a peer transport
	Metrics   *Collector  // nil when metrics are not mounted

	Log *logrus.Logger

	RefreshHook func() error // invokes the upstream cognitive-refresh collaborator; nil is a no-op

	// Signer, when set, signs every delta this kernel creates; nil leaves
	// deltas unsigned, the default for a single-writer deployment.
	Signer Signer

	subMu sync.Mutex
	subs  map[int]chan StreamEvent
	subID int
}

// NewKernelContext wires the components together; callers still invoke
// Daemon.Start()/Sync.Start() themselves once the context is built, since
// those are long-running and the caller owns the process lifecycle.
func NewKernelContext(store *Store, registry *FileClosureRegistry, timeline *Timeline, admissionCfg AdmissionConfig, log *logrus.Logger) *KernelContext {
	if log == nil {
		log = logrus.StandardLogger()
	}
	closure := NewClosureEngine(store, registry, nil)
	ledger := NewWorkLedger()
	admission := NewAdmission(admissionCfg, ledger, closure, nil)
	kc := &KernelContext{
		Store: store, Registry: registry, Closure: closure, Admission: admission,
		Ledger: ledger, Timeline: timeline, Log: log, subs: map[int]chan StreamEvent{},
	}
	kc.Daemon = NewDaemon(kc.daemonHooks(), log, nil, nil)
	return kc
}

// SetSigner installs signer on both the kernel's own delta-creating paths
// and the closure engine's, so law.close_loop deltas are signed the same
// way tasks.* and state.* deltas are.
func (kc *KernelContext) SetSigner(signer Signer) {
	kc.Signer = signer
	if kc.Closure != nil {
		kc.Closure.Signer = signer
	}
}

// --- state.* --------------------------------------------------------------

// UnifiedState is state.get_unified's output.
type UnifiedState struct {
	Mode            Mode     `json:"mode"`
	Risk            string   `json:"risk"`
	OpenLoops       int      `json:"open_loops"`
	ClosureRatio    float64  `json:"closure_ratio"`
	PrimaryOrder    string   `json:"primary_order,omitempty"`
	BuildAllowed    bool     `json:"build_allowed"`
	EnforcementLevel string  `json:"enforcement_level"`
	ClosuresToday   int      `json:"closures_today"`
	TotalClosures   int      `json:"total_closures"`
	StreakDays      int      `json:"streak_days"`
	BestStreak      int      `json:"best_streak"`
	Errors          []string `json:"errors,omitempty"`
}

// GetUnifiedState implements state.get_unified. Missing durable artifacts
// are reported in Errors without failing the call.
func (kc *KernelContext) GetUnifiedState() (UnifiedState, error) {
	var errs []string
	entity, state, exists := kc.Store.LoadEntity(systemStateEntityID)
	var out UnifiedState
	if !exists {
		errs = append(errs, "system_state not yet materialized")
		out = UnifiedState{Mode: ModeRecover, Risk: "unknown", EnforcementLevel: enforcementLevel(0)}
		out.Errors = errs
		return out, nil
	}
	_ = entity

	mode, _ := state["mode"].(string)
	buildAllowed, _ := state["build_allowed"].(bool)
	openLoops, _ := numberAt(state, "/open_loops")
	ratio, _ := numberAt(state, "/metrics/closure_ratio")
	closuresToday, _ := numberAt(state, "/metrics/closures_today")
	totalClosures, _ := numberAt(state, "/metrics/closed_loops_total")
	streakDays, _ := numberAt(state, "/streak/streak_days")
	bestStreak, _ := numberAt(state, "/streak/best_streak")
	violations, _ := numberAt(state, "/enforcement/violations_count")

	out = UnifiedState{
		Mode: Mode(mode), Risk: riskFromMode(Mode(mode)), OpenLoops: int(openLoops),
		ClosureRatio: ratio, BuildAllowed: buildAllowed, EnforcementLevel: enforcementLevel(int(violations)),
		ClosuresToday: int(closuresToday), TotalClosures: int(totalClosures),
		StreakDays: int(streakDays), BestStreak: int(bestStreak), Errors: errs,
	}
	return out, nil
}

func riskFromMode(m Mode) string {
	switch m {
	case ModeRecover, ModeClosure:
		return "high"
	case ModeCloseLoops, ModeMaintenance:
		return "medium"
	default:
		return "low"
	}
}

// enforcementLevel derives a coarse label from the violation counter; the
// closed set and thresholds are this implementation's own reasonable
// default, recorded in DESIGN.md as an Open Question decision.
func enforcementLevel(violations int) string {
	switch {
	case violations <= 0:
		return "none"
	case violations < 5:
		return "warning"
	default:
		return "strict"
	}
}

// StatePutRequest is state.put's input.
type StatePutRequest struct {
	Mode            string
	SleepHours      float64
	OpenLoops       int
	LeverageBalance float64
	StreakDays      int
}

// PutState implements state.put: writes the five leaf signals directly
// (the embedder supplies mode explicitly here rather than it being
// recomputed; the daemon's mode_recalc job is what recomputes mode from
// signals on its own cadence).
func (kc *KernelContext) PutState(req StatePutRequest) error {
	if req.Mode != "" && !isValidMode(Mode(req.Mode)) {
		return errValidation("unknown mode", map[string]any{"mode": req.Mode})
	}
	ops := []PatchOp{
		{Op: OpReplace, Path: "/sleep_hours", Value: req.SleepHours},
		{Op: OpReplace, Path: "/open_loops", Value: float64(req.OpenLoops)},
		{Op: OpReplace, Path: "/leverage_balance", Value: req.LeverageBalance},
		{Op: OpReplace, Path: "/streak/streak_days", Value: float64(req.StreakDays)},
	}
	if req.Mode != "" {
		ops = append(ops, PatchOp{Op: OpReplace, Path: "/mode", Value: req.Mode})
	}
	_, _, delta, err := kc.mutateSystemState(ops, AuthorUser)
	if err != nil {
		return err
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("state.put", AuthorUser, "", nil)
	return nil
}

func isValidMode(m Mode) bool {
	switch m {
	case ModeRecover, ModeCloseLoops, ModeBuild, ModeCompound, ModeScale, ModeMaintenance, ModeClosure:
		return true
	default:
		return false
	}
}

// EventKind distinguishes the state.stream event shapes. Only
// EventDeltaCreated is ever published (one event per committed delta);
// EventUnifiedState is declared, but no code path sends it.
type EventKind string

const (
	EventUnifiedState EventKind = "unified_state"
	EventDeltaCreated EventKind = "delta_created"
)

// StreamEvent is one item on the state.stream channel.
type StreamEvent struct {
	Kind  EventKind     `json:"kind"`
	State *UnifiedState `json:"state,omitempty"`
	Delta *Delta        `json:"delta,omitempty"`
}

// StreamState implements state.stream: returns a channel of StreamEvent
// that closes cleanly when ctx is canceled, matching a disconnecting
// client.
func (kc *KernelContext) StreamState(ctx context.Context) <-chan StreamEvent {
	kc.subMu.Lock()
	id := kc.subID
	kc.subID++
	ch := make(chan StreamEvent, 16)
	kc.subs[id] = ch
	kc.subMu.Unlock()

	go func() {
		<-ctx.Done()
		kc.subMu.Lock()
		delete(kc.subs, id)
		close(ch)
		kc.subMu.Unlock()
	}()
	return ch
}

func (kc *KernelContext) publish(ev StreamEvent) {
	kc.subMu.Lock()
	defer kc.subMu.Unlock()
	for _, ch := range kc.subs {
		select {
		case ch <- ev:
		default: // slow subscriber: drop rather than block the commit lane
		}
	}
}

// mutateSystemState is the shared path every law.* and state.put operation
// uses: materialize system_state if absent, then apply leaf patches
// through CreateDelta/CreateEntity and persist.
func (kc *KernelContext) mutateSystemState(ops []PatchOp, author string) (*Entity, State, *Delta, error) {
	entity, state, exists := kc.Store.LoadEntity(systemStateEntityID)
	var newEntity *Entity
	var newState State
	var delta *Delta
	var err error
	if !exists {
		newEntity, newState, delta, err = CreateEntity(EntitySystemState, State{}, author)
		if err != nil {
			return nil, nil, nil, err
		}
		newEntity.EntityID = systemStateEntityID
		delta.EntityID = systemStateEntityID
		if err := SignDelta(delta, kc.Signer); err != nil {
			return nil, nil, nil, err
		}
		if err := kc.Store.AppendDelta(delta); err != nil {
			return nil, nil, nil, err
		}
		if err := kc.Store.SaveEntity(newEntity, newState); err != nil {
			return nil, nil, nil, err
		}
		entity, state = newEntity, newState
	}
	newEntity, newState, delta, err = CreateDelta(entity, state, ops, author)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := SignDelta(delta, kc.Signer); err != nil {
		return nil, nil, nil, err
	}
	if err := kc.Store.AppendDelta(delta); err != nil {
		return nil, nil, nil, err
	}
	if err := kc.Store.SaveEntity(newEntity, newState); err != nil {
		return nil, nil, nil, err
	}
	return newEntity, newState, delta, nil
}

func (kc *KernelContext) logTimeline(typ, source, subject string, payload map[string]any) {
	if kc.Timeline == nil {
		return
	}
	_ = kc.Timeline.Log(TimelineEvent{Type: typ, Source: source, Subject: subject, Payload: payload})
}

// --- tasks.* ----------------------------------------------------------------

// TaskView is the shape tasks.* operations hand back.
type TaskView struct {
	EntityID string `json:"entity_id"`
	Version  uint64 `json:"version"`
	State    State  `json:"state"`
}

// CreateTask implements tasks.create.
func (kc *KernelContext) CreateTask(initial State, author string) (TaskView, error) {
	entity, state, delta, err := CreateEntity(EntityTask, initial, author)
	if err != nil {
		return TaskView{}, err
	}
	if err := SignDelta(delta, kc.Signer); err != nil {
		return TaskView{}, err
	}
	if err := kc.Store.AppendDelta(delta); err != nil {
		return TaskView{}, err
	}
	if err := kc.Store.SaveEntity(entity, state); err != nil {
		return TaskView{}, err
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("task.created", author, entity.EntityID, nil)
	return TaskView{EntityID: entity.EntityID, Version: entity.Version, State: state}, nil
}

// GetTask implements tasks.get.
func (kc *KernelContext) GetTask(entityID string) (TaskView, error) {
	entity, state, ok := kc.Store.LoadEntity(entityID)
	if !ok || entity.Type != EntityTask {
		return TaskView{}, errNotFound(ReasonNotFound)
	}
	return TaskView{EntityID: entity.EntityID, Version: entity.Version, State: state}, nil
}

// ListTasks implements tasks.list.
func (kc *KernelContext) ListTasks() []TaskView {
	entities := kc.Store.LoadEntitiesByType(EntityTask)
	out := make([]TaskView, 0, len(entities))
	for _, e := range entities {
		_, state, _ := kc.Store.LoadEntity(e.EntityID)
		out = append(out, TaskView{EntityID: e.EntityID, Version: e.Version, State: state})
	}
	return out
}

// UpdateTask implements tasks.update: applies patches against an existing
// task entity.
func (kc *KernelContext) UpdateTask(entityID string, patches []PatchOp, author string) (TaskView, error) {
	entity, state, ok := kc.Store.LoadEntity(entityID)
	if !ok || entity.Type != EntityTask {
		return TaskView{}, errNotFound(ReasonNotFound)
	}
	newEntity, newState, delta, err := CreateDelta(entity, state, patches, author)
	if err != nil {
		return TaskView{}, err
	}
	if err := SignDelta(delta, kc.Signer); err != nil {
		return TaskView{}, err
	}
	if err := kc.Store.AppendDelta(delta); err != nil {
		return TaskView{}, err
	}
	if err := kc.Store.SaveEntity(newEntity, newState); err != nil {
		return TaskView{}, err
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	return TaskView{EntityID: newEntity.EntityID, Version: newEntity.Version, State: newState}, nil
}

// ArchiveTask implements tasks.archive: logical archival via a status
// field, never physical deletion.
func (kc *KernelContext) ArchiveTask(entityID, author string) (TaskView, error) {
	return kc.UpdateTask(entityID, []PatchOp{{Op: OpReplace, Path: "/status", Value: "ARCHIVED"}}, author)
}

// --- law.* ------------------------------------------------------------------

// CloseLoopResult is law.close_loop's output.
type CloseLoopResult struct {
	Closure          ClosureRegistryRow `json:"closure"`
	Metrics          map[string]any     `json:"metrics"`
	Mode             Mode               `json:"mode"`
	ModeChanged      bool               `json:"mode_changed"`
	BuildAllowed     bool               `json:"build_allowed"`
	ViolationsReset  bool               `json:"violations_reset"`
	Streak           int                `json:"streak"`
	PhysicalClosure  bool               `json:"physical_closure"`
}

// CloseLoop implements law.close_loop.
func (kc *KernelContext) CloseLoop(loopID, title string, outcome ClosureOutcome, source string) (CloseLoopResult, error) {
	prevMode := ModeRecover
	if e, s, ok := kc.Store.LoadEntity(systemStateEntityID); ok {
		_ = e
		if m, ok := s["mode"].(string); ok {
			prevMode = Mode(m)
		}
	}

	entity, state, delta, err := kc.Closure.Close(ClosureRequest{LoopID: loopID, Title: title, Outcome: outcome, Source: source})
	if err != nil {
		return CloseLoopResult{}, err
	}

	streakDays, _ := numberAt(state, "/streak/streak_days")
	bestStreak, _ := numberAt(state, "/streak/best_streak")
	newMode, _ := state["mode"].(string)
	if m := Mode(newMode); m == ModeBuild || m == ModeScale {
		_ = kc.Registry.RecordStreak(int(streakDays), int(bestStreak), time.Now().UTC())
	}

	buildAllowed, _ := state["build_allowed"].(bool)
	physical := false
	if loopID != "" {
		if _, stillThere := kc.Registry.Lookup(loopID); !stillThere {
			physical = true
		}
	}

	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("loop.closed", source, loopID, map[string]any{"outcome": string(outcome)})

	rows := kc.Registry.Rows()
	var row ClosureRegistryRow
	if len(rows) > 0 {
		row = rows[0]
	}

	metrics, _ := state["metrics"].(map[string]any)
	_ = entity
	return CloseLoopResult{
		Closure: row, Metrics: metrics, Mode: Mode(newMode), ModeChanged: Mode(newMode) != prevMode,
		BuildAllowed: buildAllowed, ViolationsReset: true, Streak: int(streakDays), PhysicalClosure: physical,
	}, nil
}

// Acknowledge implements law.acknowledge.
func (kc *KernelContext) Acknowledge(order string) (time.Time, error) {
	now := time.Now().UTC()
	_, _, delta, err := kc.mutateSystemState([]PatchOp{
		{Op: OpAdd, Path: "/acknowledgements/-", Value: map[string]any{"order": order, "acknowledged_at": now.Format(time.RFC3339)}},
	}, AuthorUser)
	if err != nil {
		return time.Time{}, err
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("law.acknowledged", AuthorUser, order, nil)
	return now, nil
}

// Archive implements law.archive: retires a loop by id or title without
// recording a closure event.
func (kc *KernelContext) Archive(loopID, loopTitle, reason string) (bool, error) {
	if loopID == "" && loopTitle == "" {
		return false, errValidation(ReasonMissingIdentifier, nil)
	}
	id := loopID
	if id == "" {
		id, _ = kc.Registry.FindByTitle(loopTitle)
	}
	if id == "" {
		return false, errNotFound(ReasonNotFound)
	}
	if err := kc.Registry.Archive(id, reason); err != nil {
		return false, err
	}
	kc.logTimeline("loop.archived", AuthorUser, id, map[string]any{"reason": reason})
	return true, nil
}

// Refresh implements law.refresh: invokes the upstream cognitive-refresh
// collaborator (out of scope to reimplement) through RefreshHook.
func (kc *KernelContext) Refresh() (time.Time, error) {
	now := time.Now().UTC()
	if kc.RefreshHook != nil {
		if err := kc.RefreshHook(); err != nil {
			kc.Log.WithError(err).Warn("law.refresh: upstream refresh hook failed")
		}
	}
	kc.logTimeline("law.refresh_requested", AuthorUser, "", nil)
	return now, nil
}

// Violation implements law.violation.
func (kc *KernelContext) Violation(action, context string) (violations int, level string, err error) {
	if action == "" {
		return 0, "", errValidation(ReasonActionRequired, nil)
	}
	_, state, delta, err := kc.mutateSystemStateIncrement("/enforcement/violations_count", 1, AuthorEnforcementSystem)
	if err != nil {
		return 0, "", err
	}
	v, _ := numberAt(state, "/enforcement/violations_count")
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("enforcement.violation", AuthorEnforcementSystem, action, map[string]any{"context": context})
	return int(v), enforcementLevel(int(v)), nil
}

// Override implements law.override.
func (kc *KernelContext) Override(reason string) (overrides int, logged bool, err error) {
	if reason == "" {
		return 0, false, errValidation(ReasonReasonRequired, nil)
	}
	_, state, delta, err := kc.mutateSystemStateIncrement("/enforcement/overrides_count", 1, AuthorUser)
	if err != nil {
		return 0, false, err
	}
	o, _ := numberAt(state, "/enforcement/overrides_count")
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("enforcement.override", AuthorUser, "", map[string]any{"reason": reason})
	return int(o), true, nil
}

func (kc *KernelContext) mutateSystemStateIncrement(path string, by int, author string) (*Entity, State, *Delta, error) {
	_, state, exists := kc.Store.LoadEntity(systemStateEntityID)
	cur := 0.0
	if exists {
		cur, _ = numberAt(state, path)
	}
	return kc.mutateSystemState([]PatchOp{{Op: OpReplace, Path: path, Value: cur + float64(by)}}, author)
}

// --- work.* -----------------------------------------------------------------

func (kc *KernelContext) currentModeSignals() (Mode, bool, float64) {
	mode := ModeRecover
	buildAllowed := false
	ratio := 0.0
	if _, state, ok := kc.Store.LoadEntity(systemStateEntityID); ok {
		if m, ok := state["mode"].(string); ok {
			mode = Mode(m)
		}
		buildAllowed, _ = state["build_allowed"].(bool)
		ratio, _ = numberAt(state, "/metrics/closure_ratio")
	}
	return mode, buildAllowed, ratio
}

// WorkRequest implements work.request.
func (kc *KernelContext) WorkRequest(req JobRequest) AdmissionResult {
	mode, buildAllowed, _ := kc.currentModeSignals()
	res := kc.Admission.Request(req, mode, buildAllowed)
	kc.logTimeline("work.request", string(req.Type), req.JobID, map[string]any{"decision": string(res.Decision)})
	return res
}

// WorkCompleteResult is work.complete's output.
type WorkCompleteResult struct {
	Job              *Job `json:"-"`
	FreedSlot        bool `json:"freed_slot"`
	QueueAdvanced    bool `json:"queue_advanced"`
	NextJobStarted   string `json:"next_job_started,omitempty"`
	ClosureCount     *int `json:"closure_count,omitempty"`
	StreakDays       *int `json:"streak_days,omitempty"`
}

func activeJobIDs(jobs []*Job) map[string]bool {
	out := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		out[j.JobID] = true
	}
	return out
}

// WorkComplete implements work.complete.
func (kc *KernelContext) WorkComplete(req CompleteRequest) (WorkCompleteResult, error) {
	mode, buildAllowed, _ := kc.currentModeSignals()
	beforeQueueLen := kc.Ledger.QueueLen()
	beforeActive := activeJobIDs(kc.Ledger.Active())

	job, err := kc.Admission.Complete(req, mode, buildAllowed)
	if err != nil {
		return WorkCompleteResult{}, err
	}
	kc.logTimeline("work.complete", string(job.Type), job.JobID, map[string]any{"outcome": string(req.Outcome)})

	afterQueueLen := kc.Ledger.QueueLen()
	result := WorkCompleteResult{Job: job, FreedSlot: true, QueueAdvanced: afterQueueLen < beforeQueueLen}
	for _, j := range kc.Ledger.Active() {
		if !beforeActive[j.JobID] {
			result.NextJobStarted = j.JobID
			break
		}
	}

	if req.Outcome == OutcomeCompleted {
		if _, state, ok := kc.Store.LoadEntity(systemStateEntityID); ok {
			if n, ok := numberAt(state, "/metrics/closed_loops_total"); ok {
				c := int(n)
				result.ClosureCount = &c
			}
			if n, ok := numberAt(state, "/streak/streak_days"); ok {
				s := int(n)
				result.StreakDays = &s
			}
		}
	}
	return result, nil
}

// WorkStatus implements work.status.
func (kc *KernelContext) WorkStatus() StatusSnapshot {
	mode, buildAllowed, ratio := kc.currentModeSignals()
	return kc.Admission.Status(mode, buildAllowed, ratio)
}

// WorkCancelResult is work.cancel's output.
type WorkCancelResult struct {
	Job           *Job `json:"-"`
	WasActive     bool `json:"was_active"`
	FreedSlot     bool `json:"freed_slot"`
	QueueAdvanced bool `json:"queue_advanced"`
}

// WorkCancel implements work.cancel.
func (kc *KernelContext) WorkCancel(jobID, reason string) (WorkCancelResult, error) {
	mode, buildAllowed, _ := kc.currentModeSignals()
	_, wasActive := kc.Ledger.GetActive(jobID)
	beforeQueueLen := kc.Ledger.QueueLen()

	job, err := kc.Admission.Cancel(jobID, mode, buildAllowed)
	if err != nil {
		return WorkCancelResult{}, err
	}
	kc.logTimeline("work.cancel", string(job.Type), jobID, map[string]any{"reason": reason})

	afterQueueLen := kc.Ledger.QueueLen()
	return WorkCancelResult{
		Job: job, WasActive: wasActive, FreedSlot: wasActive,
		QueueAdvanced: wasActive && afterQueueLen < beforeQueueLen,
	}, nil
}

// WorkHistory implements work.history.
func (kc *KernelContext) WorkHistory() ([]*Job, WorkStats) {
	return kc.Ledger.Completed(), kc.Ledger.Stats()
}

// --- timeline.* ---------------------------------------------------------

// TimelineQueryOp implements timeline.query.
func (kc *KernelContext) TimelineQueryOp(q TimelineQuery) []TimelineEvent {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 100
	}
	return kc.Timeline.Query(q)
}

// TimelineStatsOp implements timeline.stats.
func (kc *KernelContext) TimelineStatsOp() TimelineStats { return kc.Timeline.Stats() }

// TimelineDayOp implements timeline.day.
func (kc *KernelContext) TimelineDayOp(date time.Time) []TimelineEvent { return kc.Timeline.Day(date) }

// --- daemon.* ---------------------------------------------------------------

// DaemonStatusOp implements daemon.status.
func (kc *KernelContext) DaemonStatusOp() map[DaemonJobName][]JobRunResult { return kc.Daemon.Status() }

// DaemonRunOp implements daemon.run; only the four ad-hoc jobs (heartbeat,
// refresh, day_start, day_end) are runnable on demand — mode_recalc and
// work_queue_sweep are purely scheduled.
func (kc *KernelContext) DaemonRunOp(job string) error {
	switch DaemonJobName(job) {
	case JobHeartbeat, JobRefresh, JobDayStart, JobDayEnd:
		return kc.Daemon.RunNow(DaemonJobName(job))
	default:
		return errValidation("invalid job", map[string]any{"job": job})
	}
}

// --- health -------------------------------------------------------------

// HealthResult is health's output.
type HealthResult struct {
	Ok      bool      `json:"ok"`
	Ts      time.Time `json:"ts"`
	Version string    `json:"version"`
}

// Health implements the health op.
func (kc *KernelContext) Health(version string) HealthResult {
	return HealthResult{Ok: true, Ts: time.Now().UTC(), Version: version}
}

// --- ingest.cognitive ---------------------------------------------------

// IngestCognitiveResult is ingest.cognitive's output.
type IngestCognitiveResult struct {
	Mode      Mode `json:"mode"`
	OpenLoops int  `json:"open_loops"`
}

// IngestCognitive implements ingest.cognitive: an opaque upstream
// cognitive/conversation snapshot (the conversation store itself stays
// out of scope, treated only as an upstream signal source) feeds numeric
// signals in; this recomputes mode and persists it.
func (kc *KernelContext) IngestCognitive(cognitive, directive map[string]any) (IngestCognitiveResult, error) {
	_, state, _ := kc.Store.LoadEntity(systemStateEntityID)
	signals := Signals{}
	if state != nil {
		signals.SleepHours, _ = numberAt(state, "/sleep_hours")
		signals.OpenLoops = int(mustNumber(numberAt(state, "/open_loops")))
		signals.LeverageBalance, _ = numberAt(state, "/leverage_balance")
		signals.StreakDays = int(mustNumber(numberAt(state, "/streak/streak_days")))
		signals.ClosureRatio, _ = numberAt(state, "/metrics/closure_ratio")
	}
	currentMode := ModeRecover
	if state != nil {
		if m, ok := state["mode"].(string); ok {
			currentMode = Mode(m)
		}
	}

	if v, ok := directive["open_loops"]; ok {
		if n, ok := v.(float64); ok {
			signals.OpenLoops = int(n)
		}
	}
	if v, ok := cognitive["sleep_hours"]; ok {
		if n, ok := v.(float64); ok {
			signals.SleepHours = n
		}
	}

	result := ComputeMode(signals, currentMode)

	_, _, delta, err := kc.mutateSystemState([]PatchOp{
		{Op: OpReplace, Path: "/open_loops", Value: float64(signals.OpenLoops)},
		{Op: OpReplace, Path: "/mode", Value: string(result.Mode)},
		{Op: OpReplace, Path: "/build_allowed", Value: result.BuildAllowed},
	}, AuthorCognitiveSensor)
	if err != nil {
		return IngestCognitiveResult{}, fmt.Errorf("ingest.cognitive: %w", err)
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	kc.logTimeline("ingest.cognitive", AuthorCognitiveSensor, "", nil)
	return IngestCognitiveResult{Mode: result.Mode, OpenLoops: signals.OpenLoops}, nil
}

func mustNumber(n float64, ok bool) float64 {
	if !ok {
		return 0
	}
	return n
}

// --- sync.* ---------------------------------------------------------------

// errSyncNotMounted is returned by every sync.* operation when the kernel
// was constructed without a peer transport (Sync == nil).
func errSyncNotMounted() error {
	return errValidation("sync transport not mounted", nil)
}

// SyncPeers implements sync.peers: the peer IDs currently known to the
// transport.
func (kc *KernelContext) SyncPeers() ([]string, error) {
	if kc.Sync == nil {
		return nil, errSyncNotMounted()
	}
	return kc.Sync.SamplePeers(0), nil
}

// SyncBegin implements sync.begin: starts a HELLO/HEADS round with one
// peer on demand, outside the daemon's own sweep cadence.
func (kc *KernelContext) SyncBegin(peerID string) error {
	if kc.Sync == nil {
		return errSyncNotMounted()
	}
	if peerID == "" {
		return errValidation(ReasonMissingIdentifier, nil)
	}
	if err := kc.Sync.BeginSync(peerID); err != nil {
		return err
	}
	kc.logTimeline("sync.begin", AuthorUser, peerID, nil)
	return nil
}

// SyncStatusOp implements sync.status.
func (kc *KernelContext) SyncStatusOp() (SyncStatus, error) {
	if kc.Sync == nil {
		return SyncStatus{}, errSyncNotMounted()
	}
	return kc.Sync.Status(), nil
}

// --- daemon wiring -------------------------------------------------------

// daemonHooks binds the seven scheduled jobs to this context's components.
func (kc *KernelContext) daemonHooks() DaemonHooks {
	return DaemonHooks{
		Heartbeat: func() error {
			kc.logTimeline("daemon.heartbeat", "daemon", "", nil)
			return nil
		},
		Refresh: func() error {
			if kc.RefreshHook != nil {
				return kc.RefreshHook()
			}
			return nil
		},
		DayStart: func() error {
			_, _, _, err := kc.mutateSystemState([]PatchOp{
				{Op: OpReplace, Path: "/metrics/closures_today", Value: float64(0)},
			}, AuthorDaemon)
			if err != nil {
				return err
			}
			return kc.recalcMode()
		},
		DayEnd: func() error {
			if err := kc.Registry.ResetStreakIfNoBuildClosureToday(time.Now().UTC()); err != nil {
				return err
			}
			return kc.recalcMode()
		},
		ModeRecalc: kc.recalcMode,
		WorkQueueSweep: func() error {
			mode, buildAllowed, _ := kc.currentModeSignals()
			kc.Admission.TimeoutSweep(mode, buildAllowed)
			kc.Admission.Advance(mode, buildAllowed)
			return nil
		},
		Sync: func() error {
			if kc.Sync == nil {
				return nil
			}
			return kc.Sync.SweepPeers(syncSweepPeerCount)
		},
	}
}

// syncSweepPeerCount bounds how many peers the daemon's sync job fans a
// round out to per tick; a full mesh broadcast every two minutes isn't
// necessary for convergence and would waste bandwidth on a large mesh.
const syncSweepPeerCount = 5

// recalcMode implements the mode_recalc job: recompute mode from current
// signals, emitting a leaf-patch delta only when the mode actually changes.
func (kc *KernelContext) recalcMode() error {
	_, state, exists := kc.Store.LoadEntity(systemStateEntityID)
	if !exists {
		return nil
	}
	signals := Signals{}
	signals.SleepHours, _ = numberAt(state, "/sleep_hours")
	signals.OpenLoops = int(mustNumber(numberAt(state, "/open_loops")))
	signals.LeverageBalance, _ = numberAt(state, "/leverage_balance")
	signals.StreakDays = int(mustNumber(numberAt(state, "/streak/streak_days")))
	signals.ClosureRatio, _ = numberAt(state, "/metrics/closure_ratio")
	currentMode, _ := state["mode"].(string)

	result := ComputeMode(signals, Mode(currentMode))
	if string(result.Mode) == currentMode {
		return nil
	}
	_, _, delta, err := kc.mutateSystemState([]PatchOp{
		{Op: OpReplace, Path: "/mode", Value: string(result.Mode)},
		{Op: OpReplace, Path: "/build_allowed", Value: result.BuildAllowed},
		{Op: OpReplace, Path: "/last_mode_transition_at", Value: time.Now().UTC().Format(time.RFC3339)},
		{Op: OpReplace, Path: "/last_mode_transition_reason", Value: "mode_recalc"},
	}, AuthorDaemon)
	if err != nil {
		return err
	}
	kc.publish(StreamEvent{Kind: EventDeltaCreated, Delta: delta})
	return nil
}
