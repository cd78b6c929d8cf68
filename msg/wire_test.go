package msg

import (
	"bytes"
	"testing"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/xfer"
)

func TestXferDesCreateRoundTrip(t *testing.T) {
	want := &XferDesCreate{
		LaunchNode:  3,
		Guid:        xfer.MakeXferDesID(3, 7),
		PreXDGuid:   xfer.NoXferDesID,
		NextXDGuid:  xfer.MakeXferDesID(3, 8),
		SrcMem:      xfer.MakeMemoryID(3, 1),
		DstMem:      xfer.MakeMemoryID(4, 2),
		MaxReqSize:  1 << 20,
		Priority:    5,
		Kind:        xfer.KindMemcpy,
		SrcIterBlob: bytes.Repeat([]byte("abcxyz"), 200), // compressible
		DstIterBlob: []byte{0x01, 0x02, 0x03},            // too short to compress
	}
	raw, err := Encode(MsgXferDesCreate, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	kind, env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kind != MsgXferDesCreate {
		t.Fatalf("expected MsgXferDesCreate, got %d", kind)
	}
	got := env.(*XferDesCreate)
	if got.Guid != want.Guid || got.NextXDGuid != want.NextXDGuid || got.SrcMem != want.SrcMem {
		t.Fatalf("id fields mismatch: got %+v want %+v", got, want)
	}
	if !bytes.Equal(got.SrcIterBlob, want.SrcIterBlob) {
		t.Fatal("src iterator blob did not survive lz4 round trip")
	}
	if !bytes.Equal(got.DstIterBlob, want.DstIterBlob) {
		t.Fatal("dst iterator blob did not survive round trip")
	}
	if got.Kind != want.Kind || got.MaxReqSize != want.MaxReqSize || got.Priority != want.Priority {
		t.Fatalf("scalar fields mismatch: got %+v want %+v", got, want)
	}
}

func TestUpdatePreBytesWriteRoundTrip(t *testing.T) {
	want := &UpdatePreBytesWrite{
		Guid:      xfer.MakeXferDesID(1, 2),
		SpanStart: 1024,
		SpanSize:  256,
		PreTotal:  unknownTotalWire,
	}
	raw, err := Encode(MsgUpdatePreBytesWrite, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := env.(*UpdatePreBytesWrite)
	if *got != *want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestReplicateLaunchMsgRoundTrip(t *testing.T) {
	want := &ReplicateLaunchMsg{
		ReplID:            core.ReplicationID(42),
		TotalShards:       3,
		ControlReplicated: true,
		TopLevel:          true,
		AddressSpaceMapping: map[core.ShardID]uint16{
			0: 1, 1: 2, 2: 2,
		},
		ShardMapping: map[core.ShardID]uint32{0: 0, 1: 0, 2: 0},
		ShardBlobs: map[core.ShardID][]byte{
			0: {1, 2, 3},
			1: {4, 5, 6},
		},
	}
	raw, err := Encode(MsgReplicateLaunch, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := env.(*ReplicateLaunchMsg)
	if got.ReplID != want.ReplID || got.TotalShards != want.TotalShards {
		t.Fatalf("scalar mismatch: got %+v want %+v", got, want)
	}
	for shard, node := range want.AddressSpaceMapping {
		if got.AddressSpaceMapping[shard] != node {
			t.Fatalf("address space mismatch for shard %d", shard)
		}
	}
	for shard, blob := range want.ShardBlobs {
		if !bytes.Equal(got.ShardBlobs[shard], blob) {
			t.Fatalf("shard blob mismatch for shard %d", shard)
		}
	}
}

func TestReplLifecycleRoundTrip(t *testing.T) {
	for _, kind := range []MsgType{MsgReplicateDelete, MsgPostMapped, MsgTriggerComplete, MsgTriggerCommit} {
		want := &ReplLifecycle{ReplID: core.ReplicationID(99)}
		raw, err := Encode(kind, want)
		if err != nil {
			t.Fatalf("encode %d: %v", kind, err)
		}
		gotKind, env, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %d: %v", kind, err)
		}
		if gotKind != kind {
			t.Fatalf("kind mismatch: got %d want %d", gotKind, kind)
		}
		if env.(*ReplLifecycle).ReplID != want.ReplID {
			t.Fatalf("repl id mismatch")
		}
	}
}
