package core

// store.go – C4 Store: a durable append-only delta log plus a latest-state
// snapshot per entity, WAL-then-snapshot for crash atomicity.
//
// Grounded on the prior implementation's NewLedger/OpenLedger: the WAL is opened
// append-only first, a delta is written there before the in-memory snapshot
// is updated, and on startup the snapshot is rebuilt by replaying the WAL
// whenever it is absent or its heads disagree with the log.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// StoreConfig points at the two durable artifacts for one namespace.
type StoreConfig struct {
	Dir string // DELTA_DATA_DIR-relative or absolute directory
}

func (c StoreConfig) deltasPath() string   { return filepath.Join(c.Dir, "deltas.log") }
func (c StoreConfig) entitiesPath() string { return filepath.Join(c.Dir, "entities.snapshot") }

type entitySnapshot struct {
	Entity *Entity `json:"entity"`
	State  State   `json:"state"`
}

// Store is the single writer of persisted bytes for a namespace. Reads may
// proceed concurrently against the in-memory snapshot; writes serialize
// through mu, which doubles as the commit lane.
type Store struct {
	mu  sync.RWMutex
	cfg StoreConfig

	entities map[string]*entitySnapshot
	deltas   []*Delta // append-only, in commit order

	walFile *os.File
}

// OpenStore opens (or creates) the durable artifacts under cfg.Dir,
// replaying the delta log to rebuild the entity snapshot when it is absent
// or stale relative to the log.
func OpenStore(cfg StoreConfig) (s *Store, err error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	deltas, err := loadDeltaLog(cfg.deltasPath())
	if err != nil {
		return nil, fmt.Errorf("store: load deltas: %w", err)
	}

	entities, err := loadEntitySnapshot(cfg.entitiesPath())
	if err != nil {
		return nil, fmt.Errorf("store: load entities: %w", err)
	}

	s = &Store{cfg: cfg, entities: entities, deltas: deltas}

	if s.snapshotIsStale() {
		if err := s.rebuildFromLog(); err != nil {
			return nil, fmt.Errorf("store: rebuild: %w", err)
		}
	}

	wal, err := os.OpenFile(cfg.deltasPath(), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s.walFile = wal
	return s, nil
}

// Close releases the WAL file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walFile != nil {
		return s.walFile.Close()
	}
	return nil
}

// snapshotIsStale reports whether the in-memory entity snapshot's heads
// disagree with the delta log's per-entity heads, which can happen after a
// crash between WAL-append and snapshot-write.
func (s *Store) snapshotIsStale() bool {
	heads := map[string]string{}
	for _, d := range s.deltas {
		heads[d.EntityID] = d.NewHash
	}
	if len(heads) != len(s.entities) {
		return true
	}
	for id, hash := range heads {
		snap, ok := s.entities[id]
		if !ok || snap.Entity.StateHash != hash {
			return true
		}
	}
	return false
}

// rebuildFromLog replays the full delta log in order, reconstructing every
// entity's latest (entity, state) pair from scratch.
func (s *Store) rebuildFromLog() error {
	entities := map[string]*entitySnapshot{}
	for _, d := range s.deltas {
		snap, ok := entities[d.EntityID]
		var entity *Entity
		var state State
		if !ok {
			entity = &Entity{EntityID: d.EntityID, Type: d.EntityTyp, CreatedAt: d.Ts, Version: 0, StateHash: ZeroHash}
			state = State{}
		} else {
			entity = snap.Entity
			state = snap.State
		}
		newEntity, newState, err := ApplyDelta(entity, state, d)
		if err != nil {
			return fmt.Errorf("replay delta %s for entity %s: %w", d.DeltaID, d.EntityID, err)
		}
		entities[d.EntityID] = &entitySnapshot{Entity: newEntity, State: newState}
	}
	s.entities = entities
	return s.writeEntitySnapshot()
}

// SaveEntity persists (or updates) the in-memory latest snapshot for one
// entity and writes it through to disk.
func (s *Store) SaveEntity(e *Entity, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.EntityID] = &entitySnapshot{Entity: e, State: state}
	return s.writeEntitySnapshot()
}

// LoadEntity returns the latest (entity, state) pair for id, if any.
func (s *Store) LoadEntity(id string) (*Entity, State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entities[id]
	if !ok {
		return nil, nil, false
	}
	return snap.Entity, cloneState(snap.State).(map[string]any), true
}

// LoadEntitiesByType returns every entity of the given type, ordered by id.
func (s *Store) LoadEntitiesByType(t EntityType) []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0)
	for _, snap := range s.entities {
		if snap.Entity.Type == t {
			out = append(out, snap.Entity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// AllEntities returns every tracked entity, ordered by id — the basis for
// building a HEADS packet.
func (s *Store) AllEntities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0, len(s.entities))
	for _, snap := range s.entities {
		out = append(out, snap.Entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// AppendDelta writes d to the WAL ahead of the entity snapshot update and
// records it in the in-memory log.
func (s *Store) AppendDelta(d *Delta) error {
	return s.AppendDeltas([]*Delta{d})
}

// AppendDeltas writes multiple deltas to the WAL, one write per delta, in
// order; callers update entity snapshots afterward via SaveEntity.
func (s *Store) AppendDeltas(ds []*Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("store: marshal delta: %w", err)
		}
		if _, err := s.walFile.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("store: append wal: %w", err)
		}
	}
	if err := s.walFile.Sync(); err != nil {
		return fmt.Errorf("store: sync wal: %w", err)
	}
	s.deltas = append(s.deltas, ds...)
	return nil
}

// LoadDeltas returns the full append-only log in commit order.
func (s *Store) LoadDeltas() []*Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Delta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

// LoadDeltasForEntity returns the log restricted to one entity, in commit
// order, starting strictly after sinceHash (ZeroHash to request the full
// history from genesis).
func (s *Store) LoadDeltasForEntity(entityID string, sinceHash string) []*Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Delta, 0)
	collecting := sinceHash == ZeroHash
	for _, d := range s.deltas {
		if d.EntityID != entityID {
			continue
		}
		if collecting {
			out = append(out, d)
			continue
		}
		if d.PrevHash == sinceHash {
			collecting = true
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) writeEntitySnapshot() error {
	tmp := s.cfg.entitiesPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pairs := make([][2]any, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, [2]any{id, s.entities[id]})
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(pairs); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.cfg.entitiesPath())
}

func loadEntitySnapshot(path string) (map[string]*entitySnapshot, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]*entitySnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs [][2]json.RawMessage
	if err := json.NewDecoder(f).Decode(&pairs); err != nil {
		return map[string]*entitySnapshot{}, nil // corrupt snapshot: rebuild from WAL
	}
	out := make(map[string]*entitySnapshot, len(pairs))
	for _, p := range pairs {
		var id string
		if err := json.Unmarshal(p[0], &id); err != nil {
			continue
		}
		var snap entitySnapshot
		if err := json.Unmarshal(p[1], &snap); err != nil {
			continue
		}
		out[id] = &snap
	}
	return out, nil
}

// loadDeltaLog reads the append-only WAL, stopping at the first record that
// fails to parse so a torn final write from a crash does not fail the whole
// open.
func loadDeltaLog(path string) ([]*Delta, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Delta
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var d Delta
		if err := json.Unmarshal(line, &d); err != nil {
			break
		}
		out = append(out, &d)
	}
	return out, nil
}
