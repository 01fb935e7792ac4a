package core

import (
	"testing"
	"time"
)

func TestDiffHeadsClassifiesEveryEntity(t *testing.T) {
	local := []HeadEntry{
		{EntityID: "local-only", StateHash: "h1"},
		{EntityID: "synced", StateHash: "same"},
		{EntityID: "diverged", StateHash: "local-hash"},
	}
	remote := []HeadEntry{
		{EntityID: "remote-only", StateHash: "h2"},
		{EntityID: "synced", StateHash: "same"},
		{EntityID: "diverged", StateHash: "remote-hash"},
	}

	diff := DiffHeads(local, remote)

	if len(diff.LocalOnly) != 1 || diff.LocalOnly[0] != "local-only" {
		t.Fatalf("expected local-only to contain exactly local-only, got %+v", diff.LocalOnly)
	}
	if len(diff.RemoteOnly) != 1 || diff.RemoteOnly[0] != "remote-only" {
		t.Fatalf("expected remote-only to contain exactly remote-only, got %+v", diff.RemoteOnly)
	}
	if len(diff.Synced) != 1 || diff.Synced[0] != "synced" {
		t.Fatalf("expected synced to contain exactly synced, got %+v", diff.Synced)
	}
	if len(diff.Diverged) != 1 || diff.Diverged[0] != "diverged" {
		t.Fatalf("expected diverged to contain exactly diverged, got %+v", diff.Diverged)
	}
}

func TestDiffHeadsEmptyInputsProduceEmptyResult(t *testing.T) {
	diff := DiffHeads(nil, nil)
	if len(diff.LocalOnly)+len(diff.RemoteOnly)+len(diff.Synced)+len(diff.Diverged) != 0 {
		t.Fatalf("expected an empty diff for empty inputs, got %+v", diff)
	}
}

func TestSplitIntoChunksAndReassemblerRoundTrip(t *testing.T) {
	payload := make([]byte, 900)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	chunks := SplitIntoChunks("group-1", PacketDeltas, payload, DefaultMaxPacketBytes)
	if len(chunks) < 2 {
		t.Fatalf("expected an oversized payload to split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("expected chunk index %d, got %d", i, c.ChunkIndex)
		}
		if c.ChunkTotal != len(chunks) {
			t.Fatalf("expected every chunk to carry the same chunk_total %d, got %d", len(chunks), c.ChunkTotal)
		}
		if c.DeltaID != "group-1" {
			t.Fatalf("expected the reassembly key to be preserved, got %q", c.DeltaID)
		}
	}

	reassembler := NewChunkReassembler(time.Second, nil)
	var out []byte
	var ready bool
	var err error
	// Feed the chunks out of order to prove reassembly doesn't depend on
	// arrival order, only on chunk_index.
	order := []int{len(chunks) - 1}
	for i := 0; i < len(chunks)-1; i++ {
		order = append(order, i)
	}
	for _, idx := range order {
		out, ready, err = reassembler.Accept(chunks[idx])
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
	if !ready {
		t.Fatalf("expected the reassembler to report ready once every chunk arrived")
	}
	if string(out) != string(payload) {
		t.Fatalf("expected reassembled payload to match the original exactly")
	}
}

func TestSplitIntoChunksSmallPayloadStaysSingleChunk(t *testing.T) {
	payload := []byte(`{"tiny":true}`)
	chunks := SplitIntoChunks("g", PacketHeads, payload, DefaultMaxPacketBytes)
	if len(chunks) != 1 || chunks[0].ChunkTotal != 1 {
		t.Fatalf("expected a small payload to produce exactly one chunk, got %d", len(chunks))
	}
}

func TestChunkReassemblerRejectsMismatchedTotal(t *testing.T) {
	reassembler := NewChunkReassembler(time.Second, nil)
	_, _, err := reassembler.Accept(DeltasChunkPacket{DeltaID: "x", ChunkIndex: 0, ChunkTotal: 2, ChunkPayload: "AA=="})
	if err != nil {
		t.Fatalf("first chunk should seed the buffer without error: %v", err)
	}
	_, _, err = reassembler.Accept(DeltasChunkPacket{DeltaID: "x", ChunkIndex: 1, ChunkTotal: 3, ChunkPayload: "AA=="})
	if err == nil {
		t.Fatalf("expected a chunk_total mismatch to be rejected")
	}
}

func TestChunkReassemblerSweepExpiresPartialBuffers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reassembler := NewChunkReassembler(time.Second, clock)
	_, _, _ = reassembler.Accept(DeltasChunkPacket{DeltaID: "x", ChunkIndex: 0, ChunkTotal: 2, ChunkPayload: "AA=="})

	now = now.Add(2 * time.Second)
	if n := reassembler.Sweep(); n != 1 {
		t.Fatalf("expected Sweep to expire the one stale partial buffer, got %d", n)
	}
	if n := reassembler.Sweep(); n != 0 {
		t.Fatalf("expected a second Sweep to find nothing left, got %d", n)
	}
}

func TestSortByPriorityOrdersByBucketThenTsThenVersion(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := &Delta{DeltaID: "low", EntityTyp: EntityNote, Ts: base, Version: 1}
	highLater := &Delta{DeltaID: "high-later", EntityTyp: EntitySystemState, Ts: base.Add(time.Minute), Version: 1}
	highEarlier := &Delta{DeltaID: "high-earlier", EntityTyp: EntitySystemState, Ts: base, Version: 2}
	highEarliest := &Delta{DeltaID: "high-earliest", EntityTyp: EntitySystemState, Ts: base, Version: 1}

	deltas := []*Delta{low, highLater, highEarlier, highEarliest}
	SortByPriority(deltas)

	if deltas[0].DeltaID != "high-earliest" {
		t.Fatalf("expected high-earliest first, got %q", deltas[0].DeltaID)
	}
	if deltas[1].DeltaID != "high-earlier" {
		t.Fatalf("expected high-earlier second (same ts, higher version), got %q", deltas[1].DeltaID)
	}
	if deltas[2].DeltaID != "high-later" {
		t.Fatalf("expected high-later third (later ts, same bucket), got %q", deltas[2].DeltaID)
	}
	if deltas[3].DeltaID != "low" {
		t.Fatalf("expected the lower-priority-bucket delta last, got %q", deltas[3].DeltaID)
	}
}

func TestSortByPriorityDefaultsUnknownTypesToLowestBucket(t *testing.T) {
	unknown := &Delta{DeltaID: "unknown", EntityTyp: EntityType("not_in_table")}
	known := &Delta{DeltaID: "known", EntityTyp: EntitySystemState}
	deltas := []*Delta{unknown, known}
	SortByPriority(deltas)
	if deltas[0].DeltaID != "known" {
		t.Fatalf("expected the recognized high-priority type to sort first, got %q", deltas[0].DeltaID)
	}
}
