package core

// watermark.go – C11 Watermarks: per-peer last-known entity heads, so the
// next HEADS exchange with a peer can be a delta of heads rather than a
// full resend.
//
// Grounded on the prior implementation's AccessController: a bounded, mutex-guarded
// in-memory cache in front of durable state, generalized from
// role-membership sets to per-peer head maps and bounded via an LRU
// (golang-lru/v2) instead of an unbounded map, since peer count is
// attacker-influenced over a long-lived node's lifetime.

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PeerWatermark is one peer's last-known sync position.
type PeerWatermark struct {
	LastSyncAt  time.Time
	EntityHeads map[string]string // entity_id -> last known state_hash
}

// WatermarkStore is a bounded, concurrency-safe cache of PeerWatermark
// keyed by peer id.
type WatermarkStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *PeerWatermark]
}

// NewWatermarkStore builds a store bounded to capacity peers; evicted
// peers simply re-bootstrap their next HEADS exchange from scratch, which
// is correct, just less bandwidth-efficient.
func NewWatermarkStore(capacity int) (*WatermarkStore, error) {
	if capacity <= 0 {
		capacity = 256
	}
	c, err := lru.New[string, *PeerWatermark](capacity)
	if err != nil {
		return nil, err
	}
	return &WatermarkStore{cache: c}, nil
}

// Get returns peerID's watermark, or a fresh zero-value one if unseen.
func (w *WatermarkStore) Get(peerID string) PeerWatermark {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wm, ok := w.cache.Get(peerID); ok {
		return cloneWatermark(*wm)
	}
	return PeerWatermark{EntityHeads: map[string]string{}}
}

// Update records the latest known hash for entityID under peerID, bumping
// last_sync_at.
func (w *WatermarkStore) Update(peerID, entityID, stateHash string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wm, ok := w.cache.Get(peerID)
	if !ok {
		wm = &PeerWatermark{EntityHeads: map[string]string{}}
	}
	wm.LastSyncAt = at
	wm.EntityHeads[entityID] = stateHash
	w.cache.Add(peerID, wm)
}

// Changed reports the subset of heads whose hash differs from (or is
// absent from) peerID's last-known watermark — the set worth sending in
// the next HEADS packet.
func (w *WatermarkStore) Changed(peerID string, currentHeads map[string]string) map[string]string {
	known := w.Get(peerID)
	out := map[string]string{}
	for id, hash := range currentHeads {
		if known.EntityHeads[id] != hash {
			out[id] = hash
		}
	}
	return out
}

// Peers returns every peer ID currently held in the cache, in no
// particular order; callers (sync.status) use this to enumerate what the
// node has ever exchanged watermarks with.
func (w *WatermarkStore) Peers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache.Keys()
}

func cloneWatermark(wm PeerWatermark) PeerWatermark {
	out := PeerWatermark{LastSyncAt: wm.LastSyncAt, EntityHeads: make(map[string]string, len(wm.EntityHeads))}
	for k, v := range wm.EntityHeads {
		out.EntityHeads[k] = v
	}
	return out
}
