package core

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDaemonRunNowInvokesNamedHookAndRecordsHistory(t *testing.T) {
	var calls int32
	hooks := DaemonHooks{
		Heartbeat: func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}
	d := NewDaemon(hooks, nil, nil, nil)
	if err := d.RunNow(JobHeartbeat); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected the heartbeat hook to run exactly once, got %d", calls)
	}
	history := d.Status()[JobHeartbeat]
	if len(history) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(history))
	}
	if history[0].Error != "" {
		t.Fatalf("expected a clean run to record no error, got %q", history[0].Error)
	}
}

func TestDaemonRunNowRejectsUnknownJob(t *testing.T) {
	d := NewDaemon(DaemonHooks{}, nil, nil, nil)
	if err := d.RunNow(DaemonJobName("not_a_job")); err == nil {
		t.Fatalf("expected an error for an unknown job name")
	}
}

func TestDaemonRunNowRecordsHookError(t *testing.T) {
	hooks := DaemonHooks{
		Heartbeat: func() error { return errValidation("boom", nil) },
	}
	d := NewDaemon(hooks, nil, nil, nil)
	if err := d.RunNow(JobHeartbeat); err != nil {
		t.Fatalf("RunNow itself must not fail just because the hook failed: %v", err)
	}
	history := d.Status()[JobHeartbeat]
	if len(history) != 1 || history[0].Error == "" {
		t.Fatalf("expected the hook's error recorded in history, got %+v", history)
	}
}

func TestDaemonOverrunSkipsConcurrentInvocation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	hooks := DaemonHooks{
		Heartbeat: func() error {
			close(started)
			<-release
			return nil
		},
	}
	d := NewDaemon(hooks, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		_ = d.RunNow(JobHeartbeat)
		close(done)
	}()
	<-started

	// A second invocation while the first is still in flight must skip
	// rather than run concurrently or block.
	if err := d.RunNow(JobHeartbeat); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	close(release)
	<-done

	history := d.Status()[JobHeartbeat]
	if len(history) != 1 {
		t.Fatalf("expected the overrun invocation to be skipped entirely, got %d recorded runs", len(history))
	}
}

func TestDaemonSyncJobIsRecognizedByHookFor(t *testing.T) {
	var swept int32
	hooks := DaemonHooks{
		Sync: func() error {
			atomic.AddInt32(&swept, 1)
			return nil
		},
	}
	d := NewDaemon(hooks, nil, nil, nil)
	if err := d.RunNow(JobSync); err != nil {
		t.Fatalf("expected RunNow to resolve the sync job through hookFor, got %v", err)
	}
	if atomic.LoadInt32(&swept) != 1 {
		t.Fatalf("expected the sync hook to run once via RunNow, got %d", swept)
	}
}

func TestDaemonStatusHistoryIsBoundedAndNewestLast(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDaemon(DaemonHooks{Heartbeat: func() error { return nil }}, nil, nil, func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	for i := 0; i < daemonHistoryCap+5; i++ {
		if err := d.RunNow(JobHeartbeat); err != nil {
			t.Fatalf("RunNow: %v", err)
		}
	}
	history := d.Status()[JobHeartbeat]
	if len(history) != daemonHistoryCap {
		t.Fatalf("expected history capped at %d, got %d", daemonHistoryCap, len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Ts.Before(history[i-1].Ts) {
			t.Fatalf("expected history ordered oldest-to-newest")
		}
	}
}
