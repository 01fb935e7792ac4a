package core

import (
	"testing"
	"time"
)

func newTestAdmission(cfg AdmissionConfig, clock func() time.Time) (*Admission, *WorkLedger) {
	ledger := NewWorkLedger()
	return NewAdmission(cfg, ledger, nil, clock), ledger
}

func TestAdmissionRequestApprovesUnderCapacity(t *testing.T) {
	a, _ := newTestAdmission(AdmissionConfig{MaxConcurrent: 5, MaxQueueDepth: 5}, nil)
	res := a.Request(JobRequest{Type: JobHuman, Title: "a"}, ModeBuild, true)
	if res.Decision != DecisionApproved {
		t.Fatalf("expected approval under capacity, got %s (%s)", res.Decision, res.Reason)
	}
	if res.Job == nil || res.Job.JobID == "" {
		t.Fatalf("expected a job with a generated id")
	}
}

func TestAdmissionRequestDeniesWhenModeForbidsWork(t *testing.T) {
	a, _ := newTestAdmission(DefaultAdmissionConfig(), nil)
	res := a.Request(JobRequest{Type: JobHuman, Title: "a"}, ModeClosure, true)
	if res.Decision != DecisionDenied {
		t.Fatalf("expected denial in closure mode, got %s", res.Decision)
	}
	if res.Err == nil || res.Err.Kind != KindMode {
		t.Fatalf("expected a structured mode_error, got %+v", res.Err)
	}
}

func TestAdmissionRequestAllowsClosureWorkInClosureMode(t *testing.T) {
	a, _ := newTestAdmission(DefaultAdmissionConfig(), nil)
	res := a.Request(JobRequest{Type: JobSystem, Title: "close it", Metadata: map[string]any{"closure_work": true}}, ModeClosure, true)
	if res.Decision != DecisionApproved {
		t.Fatalf("expected closure-work to bypass the mode gate, got %s (%s)", res.Decision, res.Reason)
	}
}

func TestAdmissionRequestQueuesThenDeniesAtCapacity(t *testing.T) {
	a, _ := newTestAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueueDepth: 1}, nil)
	first := a.Request(JobRequest{Type: JobHuman, Title: "a", Weight: 1}, ModeBuild, true)
	if first.Decision != DecisionApproved {
		t.Fatalf("expected the first job to be approved, got %s", first.Decision)
	}
	second := a.Request(JobRequest{Type: JobHuman, Title: "b", Weight: 1}, ModeBuild, true)
	if second.Decision != DecisionQueued {
		t.Fatalf("expected the second job to queue at capacity, got %s", second.Decision)
	}
	third := a.Request(JobRequest{Type: JobHuman, Title: "c", Weight: 1}, ModeBuild, true)
	if third.Decision != DecisionDenied {
		t.Fatalf("expected the third job to be denied once the queue is also full, got %s", third.Decision)
	}
	if third.Err == nil || third.Err.Kind != KindCapacity {
		t.Fatalf("expected a structured capacity_error, got %+v", third.Err)
	}
}

func TestAdmissionRequestQueuesOnUnmetDependency(t *testing.T) {
	a, _ := newTestAdmission(DefaultAdmissionConfig(), nil)
	res := a.Request(JobRequest{Type: JobHuman, Title: "b", DependsOn: []string{"missing-job"}}, ModeBuild, true)
	if res.Decision != DecisionQueued {
		t.Fatalf("expected a job depending on an uncompleted job to queue, got %s", res.Decision)
	}
	if len(res.Job.BlockedBy) != 1 || res.Job.BlockedBy[0] != "missing-job" {
		t.Fatalf("expected blocked_by to name the missing dependency, got %+v", res.Job.BlockedBy)
	}
}

func TestAdmissionCompleteAdvancesQueue(t *testing.T) {
	a, _ := newTestAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueueDepth: 5}, nil)
	first := a.Request(JobRequest{JobID: "job-1", Type: JobHuman, Title: "a", Weight: 1}, ModeBuild, true)
	second := a.Request(JobRequest{JobID: "job-2", Type: JobHuman, Title: "b", Weight: 1}, ModeBuild, true)
	if first.Decision != DecisionApproved || second.Decision != DecisionQueued {
		t.Fatalf("unexpected initial decisions: %s / %s", first.Decision, second.Decision)
	}

	if _, err := a.Complete(CompleteRequest{JobID: "job-1", Outcome: OutcomeCompleted}, ModeBuild, true); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, ok := a.ledger.GetActive("job-2"); !ok {
		t.Fatalf("expected job-2 to have been promoted from the queue after job-1 completed")
	}
	if a.ledger.QueueLen() != 0 {
		t.Fatalf("expected the queue to be empty after advancing, got depth %d", a.ledger.QueueLen())
	}
}

func TestAdmissionTimeoutSweepFailsExpiredJobsAndAdvancesQueue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a, ledger := newTestAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueueDepth: 5}, clock)

	first := a.Request(JobRequest{JobID: "job-1", Type: JobHuman, Title: "a", Weight: 1, TimeoutMs: 1000}, ModeBuild, true)
	second := a.Request(JobRequest{JobID: "job-2", Type: JobHuman, Title: "b", Weight: 1}, ModeBuild, true)
	if first.Decision != DecisionApproved || second.Decision != DecisionQueued {
		t.Fatalf("unexpected initial decisions: %s / %s", first.Decision, second.Decision)
	}

	now = now.Add(2 * time.Second) // past job-1's 1000ms timeout
	swept := a.TimeoutSweep(ModeBuild, true)
	if swept != 1 {
		t.Fatalf("expected exactly one job swept for timeout, got %d", swept)
	}
	completed := ledger.Completed()
	if len(completed) != 1 || completed[0].Outcome != OutcomeFailed {
		t.Fatalf("expected job-1 completed with outcome failed, got %+v", completed)
	}
	if completed[0].Error == "" {
		t.Fatalf("expected a structured timeout error string recorded on the job")
	}
	if _, ok := ledger.GetActive("job-2"); !ok {
		t.Fatalf("expected job-2 to be promoted once job-1's slot freed on timeout")
	}
}

func TestAdmissionCancelRemovesQueuedJob(t *testing.T) {
	a, _ := newTestAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueueDepth: 5}, nil)
	a.Request(JobRequest{JobID: "job-1", Type: JobHuman, Title: "a", Weight: 1}, ModeBuild, true)
	queued := a.Request(JobRequest{JobID: "job-2", Type: JobHuman, Title: "b", Weight: 1}, ModeBuild, true)
	if queued.Decision != DecisionQueued {
		t.Fatalf("expected job-2 to queue, got %s", queued.Decision)
	}
	job, err := a.Cancel("job-2", ModeBuild, true)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Outcome != OutcomeAbandoned {
		t.Fatalf("expected the cancelled queued job marked abandoned, got %s", job.Outcome)
	}
}
