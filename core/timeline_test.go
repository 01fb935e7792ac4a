package core

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTimelineLogAndQueryRoundTrip(t *testing.T) {
	tl, err := OpenTimeline(filepath.Join(t.TempDir(), "timeline.json"))
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	defer tl.Close()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := tl.Log(TimelineEvent{Ts: base, Type: "task.created", Source: "user", Subject: "t1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := tl.Log(TimelineEvent{Ts: base.Add(time.Minute), Type: "task.updated", Source: "user", Subject: "t1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := tl.Log(TimelineEvent{Ts: base.Add(2 * time.Minute), Type: "task.created", Source: "daemon", Subject: "t2"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	byType := tl.Query(TimelineQuery{Type: "task.created"})
	if len(byType) != 2 {
		t.Fatalf("expected 2 task.created events, got %d", len(byType))
	}
	if !byType[0].Ts.After(byType[1].Ts) {
		t.Fatalf("expected Query to return newest-first")
	}

	bySource := tl.Query(TimelineQuery{Source: "daemon"})
	if len(bySource) != 1 || bySource[0].Subject != "t2" {
		t.Fatalf("expected exactly one daemon-sourced event, got %+v", bySource)
	}

	limited := tl.Query(TimelineQuery{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected Limit to cap the result set, got %d", len(limited))
	}
}

func TestTimelineQueryFromToWindow(t *testing.T) {
	tl, err := OpenTimeline(filepath.Join(t.TempDir(), "timeline.json"))
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	defer tl.Close()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = tl.Log(TimelineEvent{Ts: base.Add(time.Duration(i) * time.Hour), Type: "tick", Source: "daemon"})
	}

	window := tl.Query(TimelineQuery{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	if len(window) != 3 {
		t.Fatalf("expected 3 events in [1h,3h], got %d", len(window))
	}
}

func TestTimelineDayFiltersToCalendarDate(t *testing.T) {
	tl, err := OpenTimeline(filepath.Join(t.TempDir(), "timeline.json"))
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	defer tl.Close()

	day1 := time.Date(2026, 5, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 5, 2, 0, 30, 0, 0, time.UTC)
	_ = tl.Log(TimelineEvent{Ts: day1, Type: "tick", Source: "daemon"})
	_ = tl.Log(TimelineEvent{Ts: day2, Type: "tick", Source: "daemon"})

	events := tl.Day(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	if len(events) != 1 || !events[0].Ts.Equal(day1) {
		t.Fatalf("expected Day to isolate the May 1st event only, got %+v", events)
	}
}

func TestTimelineStatsAggregatesByTypeAndSource(t *testing.T) {
	tl, err := OpenTimeline(filepath.Join(t.TempDir(), "timeline.json"))
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	defer tl.Close()

	_ = tl.Log(TimelineEvent{Type: "a", Source: "user"})
	_ = tl.Log(TimelineEvent{Type: "a", Source: "daemon"})
	_ = tl.Log(TimelineEvent{Type: "b", Source: "user"})

	stats := tl.Stats()
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.ByType["a"] != 2 || stats.ByType["b"] != 1 {
		t.Fatalf("unexpected by_type breakdown: %+v", stats.ByType)
	}
	if stats.BySource["user"] != 2 || stats.BySource["daemon"] != 1 {
		t.Fatalf("unexpected by_source breakdown: %+v", stats.BySource)
	}
	if stats.OldestTs == nil || stats.NewestTs == nil {
		t.Fatalf("expected oldest/newest timestamps to be populated")
	}
}

func TestTimelineReopenReloadsExistingEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeline.json")

	tl, err := OpenTimeline(path)
	if err != nil {
		t.Fatalf("OpenTimeline: %v", err)
	}
	if err := tl.Log(TimelineEvent{Type: "task.created", Source: "user"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenTimeline(path)
	if err != nil {
		t.Fatalf("reopen OpenTimeline: %v", err)
	}
	defer reopened.Close()
	if reopened.Stats().Total != 1 {
		t.Fatalf("expected the reopened timeline to reload its one prior event")
	}
}
