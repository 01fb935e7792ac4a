package core

// closure_registry.go – the durable ClosureRegistry implementation: the
// closures.json idempotency ledger plus loops_latest.json/loops_closed.json
// Grounded on store.go's own snapshot-write-then-rename
// discipline, reused here for a second, independent durable artifact.
//
// Cyclic-reference resolution : loop records carry only an
// opaque loop_id/title pair, never a reference back into task/project
// entities, so no object-graph cycle crosses the persistence boundary. The
// registry is the sole authority a query dereferences against.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LoopRecord is one open-or-closed loop's opaque identity, independent of
// whatever entity (if any) an embedder associates with it.
type LoopRecord struct {
	LoopID   string    `json:"loop_id"`
	Title    string    `json:"title,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// ClosureStats is closures.json's aggregate-stats half.
type ClosureStats struct {
	TotalClosures  int       `json:"total_closures"`
	ClosuresToday  int       `json:"closures_today"`
	LastClosureAt  time.Time `json:"last_closure_at,omitempty"`
	StreakDays     int       `json:"streak_days"`
	LastStreakDate string    `json:"last_streak_date,omitempty"`
	BestStreak     int       `json:"best_streak"`
}

type closuresFile struct {
	Closures []ClosureRegistryRow `json:"closures"`
	Stats    ClosureStats         `json:"stats"`
}

// FileClosureRegistry is the on-disk ClosureRegistry: closures.json (rows +
// stats) and loops_latest.json/loops_closed.json (opaque loop records).
type FileClosureRegistry struct {
	mu sync.Mutex

	closuresPath    string
	loopsLatestPath string
	loopsClosedPath string

	rows        []ClosureRegistryRow
	stats       ClosureStats
	loopsLatest map[string]LoopRecord
	loopsClosed []LoopRecord

	now func() time.Time
}

// OpenClosureRegistry opens (or creates) the three durable artifacts under
// dir.
func OpenClosureRegistry(dir string) (*FileClosureRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("closure_registry: mkdir: %w", err)
	}
	r := &FileClosureRegistry{
		closuresPath:    filepath.Join(dir, "closures.json"),
		loopsLatestPath: filepath.Join(dir, "loops_latest.json"),
		loopsClosedPath: filepath.Join(dir, "loops_closed.json"),
		loopsLatest:     map[string]LoopRecord{},
		now:             func() time.Time { return time.Now().UTC() },
	}

	var cf closuresFile
	if err := readJSONFile(r.closuresPath, &cf); err != nil {
		return nil, fmt.Errorf("closure_registry: load closures: %w", err)
	}
	r.rows = cf.Closures
	r.stats = cf.Stats

	var latest []LoopRecord
	if err := readJSONFile(r.loopsLatestPath, &latest); err != nil {
		return nil, fmt.Errorf("closure_registry: load loops_latest: %w", err)
	}
	for _, l := range latest {
		r.loopsLatest[l.LoopID] = l
	}

	var closed []LoopRecord
	if err := readJSONFile(r.loopsClosedPath, &closed); err != nil {
		return nil, fmt.Errorf("closure_registry: load loops_closed: %w", err)
	}
	r.loopsClosed = closed

	return r, nil
}

// HasLoop implements ClosureRegistry.
func (r *FileClosureRegistry) HasLoop(loopID string) (bool, error) {
	if loopID == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.LoopID == loopID {
			return true, nil
		}
	}
	return false, nil
}

// Append implements ClosureRegistry: records row and rolls the aggregate
// stats forward (streak fields are the closure engine's own computed
// values, fed back through row's associated delta — this registry only
// mirrors totals/today/last_closure_at; streak_days/best_streak are kept
// in lockstep via RecordStreak, called right after Append by the engine's
// caller in api.go so both durable artifacts agree).
func (r *FileClosureRegistry) Append(row ClosureRegistryRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	r.stats.TotalClosures++
	if isSameUTCDay(r.stats.LastClosureAt, row.Ts) {
		r.stats.ClosuresToday++
	} else {
		r.stats.ClosuresToday = 1
	}
	r.stats.LastClosureAt = row.Ts
	return r.persistClosures()
}

// RecordStreak lets the caller (api.go, right after a successful Close whose
// resulting mode is BUILD or SCALE) reconcile the registry's durable streak fields with the closure engine's
// freshly computed streak/best_streak.
func (r *FileClosureRegistry) RecordStreak(streakDays, bestStreak int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.StreakDays = streakDays
	if bestStreak > r.stats.BestStreak {
		r.stats.BestStreak = bestStreak
	}
	r.stats.LastStreakDate = at.UTC().Format("2006-01-02")
	return r.persistClosures()
}

// ResetStreakIfNoBuildClosureToday implements the day_end daemon job's
// streak-reset rule : if today's date differs from
// last_streak_date, no BUILD closure happened today, so streak resets.
func (r *FileClosureRegistry) ResetStreakIfNoBuildClosureToday(today time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	todayStr := today.UTC().Format("2006-01-02")
	if r.stats.LastStreakDate != todayStr {
		r.stats.StreakDays = 0
		return r.persistClosures()
	}
	return nil
}

// Counts implements ClosureRegistry: cumulative closed rows over the
// current size of the live loop set (this module's documented monotonic
// drift — cumulative closed is never rebased to a window).
func (r *FileClosureRegistry) Counts() (closed int, open int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.TotalClosures, len(r.loopsLatest), nil
}

// RemoveLoop implements ClosureRegistry: best-effort physical removal from
// the live loop set into loops_closed.
func (r *FileClosureRegistry) RemoveLoop(loopID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.loopsLatest[loopID]
	if !ok {
		return nil // nothing to remove; a loop never registered is not an error
	}
	delete(r.loopsLatest, loopID)
	rec.ClosedAt = r.now()
	r.loopsClosed = append(r.loopsClosed, rec)
	if err := r.persistLoopsLatest(); err != nil {
		return err
	}
	return r.persistLoopsClosed()
}

// OpenLoop registers a new opaque loop record in the live set, the
// prerequisite an embedder's task/project pipeline performs before a loop
// can later be closed by loop_id. Idempotent on loopID.
func (r *FileClosureRegistry) OpenLoop(loopID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loopsLatest[loopID]; ok {
		return nil
	}
	r.loopsLatest[loopID] = LoopRecord{LoopID: loopID, Title: title, OpenedAt: r.now()}
	return r.persistLoopsLatest()
}

// Archive removes loopID from the live set without appending a closures.json
// row (law.archive is not a closure event; it just retires the loop
// record).
func (r *FileClosureRegistry) Archive(loopID, reason string) error {
	return r.RemoveLoop(loopID)
}

// Lookup returns the live loop record for loopID, if any.
func (r *FileClosureRegistry) Lookup(loopID string) (LoopRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.loopsLatest[loopID]
	return rec, ok
}

// FindByTitle returns the loop_id of the first live loop record whose title
// matches, if any — law.archive's by-title lookup path.
func (r *FileClosureRegistry) FindByTitle(title string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.loopsLatest))
	for id := range r.loopsLatest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r.loopsLatest[id].Title == title {
			return id, true
		}
	}
	return "", false
}

// Stats returns a copy of the aggregate stats.
func (r *FileClosureRegistry) Stats() ClosureStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Rows returns a copy of the closures log, newest first.
func (r *FileClosureRegistry) Rows() []ClosureRegistryRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClosureRegistryRow, len(r.rows))
	copy(out, r.rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts.After(out[j].Ts) })
	return out
}

func isSameUTCDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (r *FileClosureRegistry) persistClosures() error {
	return writeJSONFile(r.closuresPath, closuresFile{Closures: r.rows, Stats: r.stats})
}

func (r *FileClosureRegistry) persistLoopsLatest() error {
	out := make([]LoopRecord, 0, len(r.loopsLatest))
	for _, l := range r.loopsLatest {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoopID < out[j].LoopID })
	return writeJSONFile(r.loopsLatestPath, out)
}

func (r *FileClosureRegistry) persistLoopsClosed() error {
	return writeJSONFile(r.loopsClosedPath, r.loopsClosed)
}

// readJSONFile decodes path into v, leaving v at its zero value if the
// file does not yet exist.
func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return nil // corrupt file: start fresh rather than fail startup
	}
	return nil
}

// writeJSONFile atomically writes v to path via a temp-file rename, the
// same discipline store.go's writeEntitySnapshot uses.
func writeJSONFile(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
