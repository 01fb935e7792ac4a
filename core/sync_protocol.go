package core

// sync_protocol.go – C10 Sync Protocol: handshake, head diffing, want
// generation, chunked delivery over small datagrams, and deterministic
// conflict detection/resolution.
//
// Grounded on the prior implementation's replication.go: the msgType/readLoop/
// handleMsg dispatch shape and the PeerManager.Sample/SendAsync/Subscribe
// transport seam are kept verbatim in spirit; the wire vocabulary is
// regrounded from inv/getdata/block (propagating whole blocks) to
// HELLO/HEADS/WANT/DELTAS/ACK/REJECT (propagating per-entity delta
// ranges), since Delta Fabric entities, not a single chain, are the unit
// of replication.

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PacketType is one of the seven wire packet kinds.
type PacketType byte

const (
	PacketHello PacketType = iota + 1
	PacketHeads
	PacketWant
	PacketDeltas
	PacketDeltasChunk
	PacketAck
	PacketReject
)

const syncProtocolID = "delta-fabric-sync/1"

// InboundMsg is one message arriving from a peer, in the shape the
// teacher's PeerManager.Subscribe channel delivers.
type InboundMsg struct {
	PeerID  string
	Code    byte
	Payload []byte
}

// PeerManager is the transport seam sync_protocol.go depends on; the
// libp2p-backed implementation lives in peer_manager.go.
type PeerManager interface {
	Sample(n int) []string
	SendAsync(peerID, protocol string, code byte, payload []byte) error
	Subscribe(protocol string) <-chan InboundMsg
	Unsubscribe(protocol string)
}

// HelloPacket advertises protocol capabilities.
type HelloPacket struct {
	NodeID             string `json:"node_id"`
	Nonce              string `json:"nonce,omitempty"`
	Signature          string `json:"signature,omitempty"`
	ProtocolVersion    string `json:"protocol_version"`
	MaxPacketBytes     int    `json:"max_packet_bytes"`
	SupportsCBOR       bool   `json:"supports_cbor"`
	SupportsEncryption bool   `json:"supports_encryption"`
}

// HeadEntry summarizes one entity's tip.
type HeadEntry struct {
	EntityID  string `json:"entity_id"`
	Version   uint64 `json:"version"`
	StateHash string `json:"state_hash"`
}

// HeadsPacket lists the sender's current tips (or a delta of tips, per
// the watermark-driven optimization).
type HeadsPacket struct {
	NodeID    string      `json:"node_id"`
	Nonce     string      `json:"nonce,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Heads     []HeadEntry `json:"heads"`
}

// WantPacket requests one entity's delta history since a given hash.
type WantPacket struct {
	NodeID    string `json:"node_id"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
	EntityID  string `json:"entity_id"`
	SinceHash string `json:"since_hash"`
}

// DeltasPacket carries a batch of deltas satisfying a WANT.
type DeltasPacket struct {
	NodeID    string   `json:"node_id"`
	Nonce     string   `json:"nonce,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Deltas    []*Delta `json:"deltas"`
}

// AckPacket acknowledges successfully applied deltas.
type AckPacket struct {
	NodeID    string   `json:"node_id"`
	Nonce     string   `json:"nonce,omitempty"`
	Signature string   `json:"signature,omitempty"`
	DeltaIDs  []string `json:"delta_ids"`
}

// RejectPacket reports a validation failure for one delta.
type RejectPacket struct {
	NodeID    string `json:"node_id"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
	DeltaID   string `json:"delta_id,omitempty"`
	Reason    string `json:"reason"`
}

// DeltasChunkPacket is declared in sync_chunk.go; it carries node_id,
// delta_id and the original packet type plus chunk_index/chunk_total/
// chunk_payload, with no nonce or signature of its own.

// DiffResult classifies every entity mentioned in either head set.
type DiffResult struct {
	LocalOnly  []string
	RemoteOnly []string
	Diverged   []string
	Synced     []string
}

// DiffHeads compares local and remote head sets.
func DiffHeads(local, remote []HeadEntry) DiffResult {
	localByID := map[string]HeadEntry{}
	for _, h := range local {
		localByID[h.EntityID] = h
	}
	remoteByID := map[string]HeadEntry{}
	for _, h := range remote {
		remoteByID[h.EntityID] = h
	}

	var out DiffResult
	for id, lh := range localByID {
		rh, ok := remoteByID[id]
		if !ok {
			out.LocalOnly = append(out.LocalOnly, id)
			continue
		}
		if lh.StateHash == rh.StateHash {
			out.Synced = append(out.Synced, id)
		} else {
			out.Diverged = append(out.Diverged, id)
		}
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			out.RemoteOnly = append(out.RemoteOnly, id)
		}
	}
	return out
}

// SyncEngine is the node-local driver of the sync protocol: it builds and
// answers HELLO/HEADS/WANT/DELTAS/ACK/REJECT traffic over a PeerManager.
type SyncEngine struct {
	nodeID         string
	store          *Store
	pm             PeerManager
	watermarks     *WatermarkStore
	conflicts      *ConflictResolverRegistry
	sessions       *SessionRegistry
	reassembler    *ChunkReassembler
	maxPacketBytes int
	log            *logrus.Logger

	// Verifier, when set, rejects any inbound delta whose Signature doesn't
	// check out; nil accepts unsigned traffic, the default for a
	// single-writer or fully-trusted peer set.
	Verifier Verifier

	wg      sync.WaitGroup
	closing chan struct{}
}

// NewSyncEngine wires a sync engine together.
func NewSyncEngine(nodeID string, store *Store, pm PeerManager, watermarks *WatermarkStore, conflicts *ConflictResolverRegistry, log *logrus.Logger, maxPacketBytes int) *SyncEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxPacketBytes <= 0 {
		maxPacketBytes = DefaultMaxPacketBytes
	}
	return &SyncEngine{
		nodeID: nodeID, store: store, pm: pm, watermarks: watermarks, conflicts: conflicts,
		sessions: NewSessionRegistry(), reassembler: NewChunkReassembler(30*time.Second, nil),
		maxPacketBytes: maxPacketBytes, log: log, closing: make(chan struct{}),
	}
}

// Start subscribes to the sync protocol topic and begins dispatching
// inbound messages.
func (e *SyncEngine) Start() {
	sub := e.pm.Subscribe(syncProtocolID)
	e.wg.Add(1)
	go e.readLoop(sub)
}

// Stop unsubscribes and waits for the read loop to exit.
func (e *SyncEngine) Stop() {
	close(e.closing)
	e.pm.Unsubscribe(syncProtocolID)
	e.wg.Wait()
}

func (e *SyncEngine) readLoop(sub <-chan InboundMsg) {
	defer e.wg.Done()
	for {
		select {
		case <-e.closing:
			return
		case m := <-sub:
			go e.handleMsg(m)
		}
	}
}

func (e *SyncEngine) handleMsg(m InboundMsg) {
	switch PacketType(m.Code) {
	case PacketHello:
		e.handleHello(m.PeerID, m.Payload)
	case PacketHeads:
		e.handleHeads(m.PeerID, m.Payload)
	case PacketWant:
		e.handleWant(m.PeerID, m.Payload)
	case PacketDeltas:
		e.handleDeltas(m.PeerID, m.Payload)
	case PacketDeltasChunk:
		e.handleDeltasChunk(m.PeerID, m.Payload)
	case PacketAck:
		e.handleAck(m.PeerID, m.Payload)
	case PacketReject:
		e.handleReject(m.PeerID, m.Payload)
	default:
		e.log.WithFields(logrus.Fields{"peer": m.PeerID, "code": m.Code}).Warn("sync: unknown packet code")
	}
}

// localHeads builds this node's current HEADS list from the store.
func (e *SyncEngine) localHeads() []HeadEntry {
	entities := e.store.AllEntities()
	out := make([]HeadEntry, 0, len(entities))
	for _, ent := range entities {
		out = append(out, HeadEntry{EntityID: ent.EntityID, Version: ent.Version, StateHash: ent.StateHash})
	}
	return out
}

// BeginSync initiates a sync round with peerID: HELLO, then (once the
// peer's HELLO_RECEIVED/HEADS arrive via handleHello/handleHeads) the rest
// of the state machine advances from inbound traffic.
func (e *SyncEngine) BeginSync(peerID string) error {
	e.sessions.Start(peerID, 30*time.Second, func(p string) {
		e.log.WithField("peer", p).Warn("sync: session watchdog expired")
	})
	hello := HelloPacket{NodeID: e.nodeID, ProtocolVersion: "1", MaxPacketBytes: e.maxPacketBytes}
	return e.send(peerID, PacketHello, hello)
}

// SamplePeers returns up to n peers known to the transport, for callers
// (the governance daemon's sync job) that want to pick a subset of the
// mesh to sync with rather than every known peer.
func (e *SyncEngine) SamplePeers(n int) []string {
	return e.pm.Sample(n)
}

// SweepPeers samples up to n peers and begins a sync round with each; the
// daemon's sync job calls this on a fixed cadence so replication
// progresses without an operator driving every round by hand.
func (e *SyncEngine) SweepPeers(n int) error {
	var firstErr error
	for _, peerID := range e.pm.Sample(n) {
		if err := e.BeginSync(peerID); err != nil {
			e.log.WithError(err).WithField("peer", peerID).Warn("sync: sweep failed to begin session")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncPeerView summarizes one peer's sync position for sync.status.
type SyncPeerView struct {
	PeerID     string    `json:"peer_id"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	Session    string    `json:"session,omitempty"`
}

// SyncStatus is the sync.status operation's output.
type SyncStatus struct {
	NodeID    string         `json:"node_id"`
	PeerCount int            `json:"peer_count"`
	Peers     []SyncPeerView `json:"peers"`
}

// Status reports what this node currently knows about its peers: every
// peer it has ever exchanged a watermark with, plus that peer's live
// session state if one is in flight.
func (e *SyncEngine) Status() SyncStatus {
	peerIDs := e.watermarks.Peers()
	peers := make([]SyncPeerView, 0, len(peerIDs))
	for _, id := range peerIDs {
		view := SyncPeerView{PeerID: id, LastSyncAt: e.watermarks.Get(id).LastSyncAt}
		if sess, ok := e.sessions.Get(id); ok {
			view.Session = string(sess.Current())
		}
		peers = append(peers, view)
	}
	return SyncStatus{NodeID: e.nodeID, PeerCount: len(peers), Peers: peers}
}

func (e *SyncEngine) handleHello(peerID string, data []byte) {
	var hello HelloPacket
	if err := json.Unmarshal(data, &hello); err != nil {
		e.log.WithError(err).Warn("sync: malformed HELLO")
		return
	}
	sess, ok := e.sessions.Get(peerID)
	if !ok {
		sess = e.sessions.Start(peerID, 30*time.Second, nil)
	}
	_ = sess.Transition(SessionHelloReceived)

	heads := e.localHeads()
	changed := e.watermarks.Changed(peerID, headsToMap(heads))
	filtered := make([]HeadEntry, 0, len(changed))
	for _, h := range heads {
		if _, ok := changed[h.EntityID]; ok {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) == 0 {
		filtered = heads // bootstrap: peer unseen, send full heads
	}
	_ = e.send(peerID, PacketHeads, HeadsPacket{NodeID: e.nodeID, Heads: filtered})
}

func headsToMap(heads []HeadEntry) map[string]string {
	out := make(map[string]string, len(heads))
	for _, h := range heads {
		out[h.EntityID] = h.StateHash
	}
	return out
}

func (e *SyncEngine) handleHeads(peerID string, data []byte) {
	var pkt HeadsPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		e.log.WithError(err).Warn("sync: malformed HEADS")
		return
	}
	if sess, ok := e.sessions.Get(peerID); ok {
		_ = sess.Transition(SessionHeadsExchanged)
		_ = sess.Transition(SessionSyncing)
	}

	diff := DiffHeads(e.localHeads(), pkt.Heads)
	for _, id := range diff.RemoteOnly {
		_ = e.send(peerID, PacketWant, WantPacket{NodeID: e.nodeID, EntityID: id, SinceHash: ZeroHash})
	}
	for _, id := range diff.Diverged {
		entity, _, ok := e.store.LoadEntity(id)
		since := ZeroHash
		if ok {
			since = entity.StateHash
		}
		_ = e.send(peerID, PacketWant, WantPacket{NodeID: e.nodeID, EntityID: id, SinceHash: since})
	}
	if len(diff.RemoteOnly) == 0 && len(diff.Diverged) == 0 {
		if sess, ok := e.sessions.Get(peerID); ok {
			_ = sess.Transition(SessionComplete)
		}
	}
}

func (e *SyncEngine) handleWant(peerID string, data []byte) {
	var pkt WantPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		e.log.WithError(err).Warn("sync: malformed WANT")
		return
	}
	deltas := e.store.LoadDeltasForEntity(pkt.EntityID, pkt.SinceHash)
	SortByPriority(deltas)
	_ = e.send(peerID, PacketDeltas, DeltasPacket{NodeID: e.nodeID, Deltas: deltas})
}

// validateAndApply runs the wire-level validation rules against one inbound
// delta and, on success, persists it; returns a reject reason on failure.
func (e *SyncEngine) validateAndApply(d *Delta) (rejectReason string, err error) {
	entity, state, exists := e.store.LoadEntity(d.EntityID)
	isGenesis := d.PrevHash == ZeroHash && d.Version == 1

	if !exists && !isGenesis {
		return ReasonEntityUnknown, errNotFound(ReasonEntityUnknown)
	}

	if exists && !isGenesis && d.PrevHash != entity.StateHash {
		resolved, rerr := e.tryResolveConflict(entity, state, d)
		if rerr == nil && resolved {
			return "", nil
		}
		return ReasonHashChainBroken, errHashChain(ReasonHashChainBroken)
	}

	if err := VerifyHashChain(entity, state, d); err != nil {
		if IsKind(err, KindHashChain) {
			return ReasonHashChainBroken, err
		}
		return ReasonSchemaInvalid, err
	}

	if ok, verr := VerifyDeltaSignature(d, e.Verifier); verr != nil {
		return ReasonSchemaInvalid, verr
	} else if !ok {
		return ReasonUnauthorized, errSignature(ReasonUnauthorized)
	}

	var newEntity *Entity
	var newState State
	if isGenesis && !exists {
		newEntity = &Entity{EntityID: d.EntityID, Type: d.EntityTyp, CreatedAt: d.Ts, Version: 0, StateHash: ZeroHash}
		newState = State{}
		newEntity, newState, err = ApplyDelta(newEntity, newState, d)
	} else {
		newEntity, newState, err = ApplyDelta(entity, state, d)
	}
	if err != nil {
		return ReasonSchemaInvalid, err
	}
	if err := e.store.AppendDelta(d); err != nil {
		return "", fmt.Errorf("sync: persist delta: %w", err)
	}
	if err := e.store.SaveEntity(newEntity, newState); err != nil {
		return "", fmt.Errorf("sync: persist entity: %w", err)
	}
	return "", nil
}

// tryResolveConflict handles the case where the incoming delta's
// prev_hash doesn't match our local head: if our local log actually
// contains d.PrevHash as a prior state (a genuine common ancestor), this
// is a fork, not corruption — resolve it deterministically and commit a
// compensating delta. Returns resolved=false if d.PrevHash is not found
// in local history at all (truly broken chain, not a fork).
func (e *SyncEngine) tryResolveConflict(entity *Entity, state State, d *Delta) (resolved bool, err error) {
	localSinceBase := e.store.LoadDeltasForEntity(d.EntityID, d.PrevHash)
	if len(localSinceBase) == 0 {
		return false, nil
	}
	branchA := ConflictBranch{PeerID: e.nodeID, Deltas: localSinceBase, HeadHash: entity.StateHash}
	branchB := ConflictBranch{PeerID: d.Author, Deltas: []*Delta{d}, HeadHash: d.NewHash}
	conflict := DetectConflict(d.EntityID, d.PrevHash, branchA, branchB)
	if conflict == nil {
		return false, nil
	}

	// baseState is approximated as the pre-divergence state: walk back is
	// not materialized separately, so the winning branch's current state
	// is used as the foundation the compensating delta is built from.
	winner, patches, rerr := e.conflicts.Resolve(entity.Type, entity, state, conflict)
	if rerr != nil {
		return false, rerr
	}
	if len(patches) == 0 {
		return true, nil // winner already reflects the converged state
	}

	base := entity
	baseState := state
	if winner.HeadHash != entity.StateHash {
		// our branch lost; our local state must first be rolled forward
		// to the winner's head before the compensating delta applies —
		// unsupported without a full replay log, so surface as unresolved.
		return false, fmt.Errorf("sync: conflict resolution requires replay to winning head, entity %s", d.EntityID)
	}

	newEntity, newState, delta, cerr := CreateDelta(base, baseState, patches, AuthorEnforcementSystem)
	if cerr != nil {
		return false, cerr
	}
	if err := e.store.AppendDelta(delta); err != nil {
		return false, err
	}
	if err := e.store.SaveEntity(newEntity, newState); err != nil {
		return false, err
	}
	return true, nil
}

func (e *SyncEngine) handleDeltas(peerID string, data []byte) {
	var pkt DeltasPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		e.log.WithError(err).Warn("sync: malformed DELTAS")
		return
	}
	e.applyBatch(peerID, pkt.Deltas)
}

func (e *SyncEngine) applyBatch(peerID string, deltas []*Delta) {
	var acked []string
	for _, d := range deltas {
		reason, err := e.validateAndApply(d)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"peer": peerID, "delta": d.DeltaID}).Warn("sync: rejected delta")
			_ = e.send(peerID, PacketReject, RejectPacket{NodeID: e.nodeID, DeltaID: d.DeltaID, Reason: reason})
			if reason == ReasonEntityUnknown {
				_ = e.send(peerID, PacketWant, WantPacket{NodeID: e.nodeID, EntityID: d.EntityID, SinceHash: ZeroHash})
			}
			continue
		}
		acked = append(acked, d.DeltaID)
		e.watermarks.Update(peerID, d.EntityID, d.NewHash, time.Now().UTC())
	}
	if len(acked) > 0 {
		_ = e.send(peerID, PacketAck, AckPacket{NodeID: e.nodeID, DeltaIDs: acked})
	}
	if sess, ok := e.sessions.Get(peerID); ok {
		_ = sess.Transition(SessionComplete)
	}
}

func (e *SyncEngine) handleDeltasChunk(peerID string, data []byte) {
	var pkt DeltasChunkPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		e.log.WithError(err).Warn("sync: malformed DELTAS_CHUNK")
		return
	}
	full, ready, err := e.reassembler.Accept(pkt)
	if err != nil {
		e.log.WithError(err).Warn("sync: chunk reassembly failed")
		return
	}
	if !ready {
		return
	}
	switch pkt.OrigType {
	case PacketDeltas:
		var batch DeltasPacket
		if err := json.Unmarshal(full, &batch); err != nil {
			e.log.WithError(err).Warn("sync: reassembled DELTAS malformed")
			return
		}
		e.applyBatch(peerID, batch.Deltas)
	default:
		var d Delta
		if err := json.Unmarshal(full, &d); err != nil {
			e.log.WithError(err).Warn("sync: reassembled delta malformed")
			return
		}
		e.applyBatch(peerID, []*Delta{&d})
	}
}

func (e *SyncEngine) handleAck(peerID string, data []byte) {
	var pkt AckPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		return
	}
	e.log.WithFields(logrus.Fields{"peer": peerID, "count": len(pkt.DeltaIDs)}).Debug("sync: peer acked")
}

func (e *SyncEngine) handleReject(peerID string, data []byte) {
	var pkt RejectPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		return
	}
	e.log.WithFields(logrus.Fields{"peer": peerID, "delta": pkt.DeltaID, "reason": pkt.Reason}).Warn("sync: peer rejected delta")
}

// send marshals v with encoding/json and transmits it, chunking automatically if
// it exceeds maxPacketBytes.
func (e *SyncEngine) send(peerID string, code PacketType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(payload) <= e.maxPacketBytes || code == PacketDeltasChunk {
		return e.pm.SendAsync(peerID, syncProtocolID, byte(code), payload)
	}
	// Any packet can in principle exceed the budget; re-frame it as
	// DELTAS_CHUNK frames carrying the same JSON payload, tagged with the
	// packet type so the receiver reassembles into the right shape. A
	// single DeltasPacket carrying exactly one delta uses that delta's own
	// delta_id as the reassembly key; anything else gets a synthetic one.
	groupID := fmt.Sprintf("batch-%d", time.Now().UnixNano())
	if dp, ok := v.(DeltasPacket); ok && len(dp.Deltas) == 1 {
		groupID = dp.Deltas[0].DeltaID
	}
	for _, chunk := range SplitIntoChunks(groupID, code, payload, e.maxPacketBytes) {
		cb, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := e.pm.SendAsync(peerID, syncProtocolID, byte(PacketDeltasChunk), cb); err != nil {
			return err
		}
	}
	return nil
}
