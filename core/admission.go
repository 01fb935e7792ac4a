package core

// admission.go – C7 Admission Controller: the mode-gated, capacity-bounded,
// dependency-ordered law that decides request/complete/cancel/status for
// every unit of state-mutating work.
//
// Grounded on the prior implementation's connection_pool.go bounded-slot acquisition
// pattern, generalized from "acquire a connection" to "admit a job" with
// two extra gates (mode, dependencies) ahead of the capacity check.

import (
	"time"
)

// AdmissionConfig bounds the controller's capacity.
type AdmissionConfig struct {
	MaxConcurrent           int // Σ weight(active) ceiling
	MaxQueueDepth           int
	DefaultTimeoutMs        int64
	AllowAIInClosureMode    bool
}

// DefaultAdmissionConfig mirrors the spec's stated defaults.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{MaxConcurrent: 10, MaxQueueDepth: 50, DefaultTimeoutMs: 600_000}
}

// AdmissionDecision is request's outcome.
type AdmissionDecision string

const (
	DecisionApproved AdmissionDecision = "approved"
	DecisionQueued   AdmissionDecision = "queued"
	DecisionDenied   AdmissionDecision = "denied"
)

// AdmissionResult is what Request returns.
type AdmissionResult struct {
	Decision AdmissionDecision
	Job      *Job
	Reason   string
	// Err carries the structured taxonomy (capacity_error/mode_error) for a
	// DecisionDenied result; nil for approved/queued outcomes.
	Err *Error
}

// Admission is the controller: it reads mode/build_allowed from a signal
// source, gates against the work ledger, and emits closure events through
// the closure engine on successful completion.
type Admission struct {
	cfg     AdmissionConfig
	ledger  *WorkLedger
	closure *ClosureEngine
	now     func() time.Time
}

// NewAdmission constructs a controller; now defaults to time.Now when nil.
func NewAdmission(cfg AdmissionConfig, ledger *WorkLedger, closure *ClosureEngine, now func() time.Time) *Admission {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Admission{cfg: cfg, ledger: ledger, closure: closure, now: now}
}

// JobRequest is the Request operation's input.
type JobRequest struct {
	JobID     string
	Type      JobType
	Title     string
	Agent     string
	Weight    int
	DependsOn []string
	TimeoutMs int64
	Metadata  map[string]any
}

// isClosureWork reports whether a job is exempt from mode-gating as
// "closure-work" — jobs whose explicit type/metadata marks them as part of
// the closure machinery itself rather than ordinary build work.
func isClosureWork(req JobRequest) bool {
	if req.Metadata == nil {
		return false
	}
	v, _ := req.Metadata["closure_work"].(bool)
	return v
}

// Request runs the three admission gates in order (mode, dependency,
// capacity) and returns APPROVE, QUEUE or DENY.
func (a *Admission) Request(req JobRequest, mode Mode, buildAllowed bool) AdmissionResult {
	if req.JobID == "" {
		req.JobID = NewEntityID()
	}
	if req.Weight <= 0 {
		req.Weight = 1
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = a.cfg.DefaultTimeoutMs
	}

	closureWork := isClosureWork(req)

	// 1. Mode gate.
	if mode == ModeClosure && !closureWork {
		if !(req.Type == JobAI && a.cfg.AllowAIInClosureMode) {
			a.ledger.MarkDenied()
			err := errMode(ReasonModeDeniesWork, map[string]any{"mode": string(mode)})
			return AdmissionResult{Decision: DecisionDenied, Reason: ReasonModeDeniesWork, Err: err}
		}
	}
	if !buildAllowed && !closureWork {
		a.ledger.MarkDenied()
		err := errMode(ReasonBuildNotAllowed, map[string]any{"mode": string(mode)})
		return AdmissionResult{Decision: DecisionDenied, Reason: ReasonBuildNotAllowed, Err: err}
	}

	job := &Job{
		JobID: req.JobID, Type: req.Type, Title: req.Title, Agent: req.Agent,
		Weight: req.Weight, DependsOn: req.DependsOn, TimeoutMs: req.TimeoutMs,
		Metadata: req.Metadata, QueuedAt: a.now(),
	}

	// 2. Dependency gate.
	completed := a.ledger.CompletedIDs()
	var blockedBy []string
	for _, dep := range req.DependsOn {
		if !completed[dep] {
			blockedBy = append(blockedBy, dep)
		}
	}
	if len(blockedBy) > 0 {
		job.BlockedBy = blockedBy
		a.ledger.Enqueue(job)
		return AdmissionResult{Decision: DecisionQueued, Job: job, Reason: "blocked_by_dependency"}
	}

	// 3. Capacity gate.
	used := a.ledger.ActiveWeight()
	if used+job.Weight > a.cfg.MaxConcurrent {
		if a.ledger.QueueLen() < a.cfg.MaxQueueDepth {
			a.ledger.Enqueue(job)
			return AdmissionResult{Decision: DecisionQueued, Job: job, Reason: "capacity"}
		}
		a.ledger.MarkDenied()
		err := errCapacity(ReasonSystemAtCapacity, map[string]any{"max_concurrent": a.cfg.MaxConcurrent, "requested_weight": job.Weight})
		return AdmissionResult{Decision: DecisionDenied, Reason: ReasonSystemAtCapacity, Err: err}
	}

	a.ledger.Activate(job, a.now())
	return AdmissionResult{Decision: DecisionApproved, Job: job}
}

// CompleteRequest is the Complete operation's input.
type CompleteRequest struct {
	JobID   string
	Outcome JobOutcome
	Result  any
	Error   string
	Metrics map[string]any
}

// Complete moves a job to completed, emits a closure event on success, frees
// its slot, and advances the queue.
func (a *Admission) Complete(req CompleteRequest, mode Mode, buildAllowed bool) (*Job, error) {
	job, ok := a.ledger.Complete(req.JobID, req.Outcome, req.Result, req.Error, req.Metrics, a.now())
	if !ok {
		return nil, errNotFound(ReasonNotFound)
	}
	if req.Outcome == OutcomeCompleted && a.closure != nil {
		_, _, _, err := a.closure.Close(ClosureRequest{
			Title: job.Title, Outcome: OutcomeClosed, Source: string(job.Type),
		})
		if err != nil && !IsKind(err, KindConflict) {
			return job, err
		}
	}
	a.Advance(mode, buildAllowed)
	return job, nil
}

// Cancel removes a job from active or queued, recording it abandoned.
func (a *Admission) Cancel(jobID string, mode Mode, buildAllowed bool) (*Job, error) {
	if j, ok := a.ledger.GetActive(jobID); ok {
		j, _ = a.ledger.Complete(jobID, OutcomeAbandoned, nil, "cancelled", nil, a.now())
		a.Advance(mode, buildAllowed)
		return j, nil
	}
	if j, ok := a.ledger.RemoveFromQueue(jobID); ok {
		a.ledger.AbandonQueued(j, a.now())
		return j, nil
	}
	return nil, errNotFound(ReasonNotFound)
}

// Advance drains the queue head while admission rules accept it,
// re-evaluating mode, capacity and dependencies for each candidate.
func (a *Admission) Advance(mode Mode, buildAllowed bool) {
	for {
		queue := a.ledger.PeekQueue()
		if len(queue) == 0 {
			return
		}
		head := queue[0]

		closureWork := isClosureWork(JobRequest{Metadata: head.Metadata})
		if mode == ModeClosure && !closureWork {
			if !(head.Type == JobAI && a.cfg.AllowAIInClosureMode) {
				return
			}
		}
		if !buildAllowed && !closureWork {
			return
		}

		completed := a.ledger.CompletedIDs()
		var blockedBy []string
		for _, dep := range head.DependsOn {
			if !completed[dep] {
				blockedBy = append(blockedBy, dep)
			}
		}
		if len(blockedBy) > 0 {
			head.BlockedBy = blockedBy
			return // head still blocked; FIFO means nothing behind it can jump ahead
		}

		used := a.ledger.ActiveWeight()
		if used+head.Weight > a.cfg.MaxConcurrent {
			return
		}

		if _, ok := a.ledger.RemoveFromQueue(head.JobID); ok {
			head.BlockedBy = nil
			a.ledger.Activate(head, a.now())
		}
	}
}

// TimeoutSweep scans active jobs for now > timeout_at, marks them failed
// with error "timeout", frees their slots, and advances the queue.
func (a *Admission) TimeoutSweep(mode Mode, buildAllowed bool) int {
	now := a.now()
	swept := 0
	for _, j := range a.ledger.Active() {
		if j.TimeoutAt != nil && now.After(*j.TimeoutAt) {
			a.ledger.Complete(j.JobID, OutcomeFailed, nil, ReasonTimeout, nil, now)
			a.ledger.MarkTimedOut()
			swept++
		}
	}
	if swept > 0 {
		a.Advance(mode, buildAllowed)
	}
	return swept
}

// StatusSnapshot is what the Status operation returns.
type StatusSnapshot struct {
	Mode         Mode
	BuildAllowed bool
	ClosureRatio float64
	Active       []*Job
	Queued       []*Job
	Stats        WorkStats
}

// Status returns a point-in-time snapshot of the controller's state.
func (a *Admission) Status(mode Mode, buildAllowed bool, closureRatio float64) StatusSnapshot {
	return StatusSnapshot{
		Mode: mode, BuildAllowed: buildAllowed, ClosureRatio: closureRatio,
		Active: a.ledger.Active(), Queued: a.ledger.PeekQueue(), Stats: a.ledger.Stats(),
	}
}
