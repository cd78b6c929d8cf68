package msg

import (
	"testing"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/repl"
	"github.com/taskmesh/taskmesh/xfer"
)

func TestNodeTableResolvesRegisteredAddress(t *testing.T) {
	nt := NewNodeTable()
	nt.Set(7, "10.0.0.7:9000")
	addr, err := nt.AddressFor(7)
	if err != nil {
		t.Fatalf("AddressFor: %v", err)
	}
	if addr != "10.0.0.7:9000" {
		t.Fatalf("got %q", addr)
	}
	if _, err := nt.AddressFor(8); err == nil {
		t.Fatal("expected an error for an unregistered node")
	}
}

func TestReplTokenSignAndVerify(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := signReplToken(secret, 42)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	replID, err := verifyReplToken(secret, tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if replID != 42 {
		t.Fatalf("got repl id %d, want 42", replID)
	}
	if _, err := verifyReplToken([]byte("wrong-secret"), tok); err == nil {
		t.Fatal("expected verification to fail under the wrong secret")
	}
}

func TestDispatcherAppliesPreBytesWriteToLocallyRegisteredXferDes(t *testing.T) {
	d := NewDispatcher([]byte("secret"))

	succ := xfer.NewXferDes(xfer.MakeXferDesID(0, 2), xfer.KindMemcpy,
		xfer.NewLinearIterator(0, 1024), xfer.NewLinearIterator(0, 1024), 256)
	d.RegisterXferDes(succ)

	d.UpdatePreBytesWrite(succ.Guid, 0, 512, xfer.UnknownTotal)

	if got := succ.SeqPreWrite.ContigAmount(); got != 512 {
		t.Fatalf("expected predecessor span applied locally, got contig=%d", got)
	}

	d.UnregisterXferDes(succ.Guid)
	if _, ok := d.lookupXD(succ.Guid); ok {
		t.Fatal("expected XferDes to be unregistered")
	}
}

func TestDispatcherAppliesRemoteLaunchToLocallyRegisteredManager(t *testing.T) {
	d := NewDispatcher([]byte("secret"))
	mgr := repl.NewShardManager(core.ReplicationID(5), 3)
	d.RegisterShardManager(mgr)

	rl := &repl.ReplicateLaunch{
		ReplID:              5,
		TotalShards:         3,
		AddressSpaceMapping: map[core.ShardID]uint16{0: 1, 1: 2, 2: 2},
		ShardMapping:        map[core.ShardID]uint32{0: 0, 1: 0, 2: 0},
	}
	mgr.ApplyRemoteLaunch(rl)

	if mgr.AddressSpaces[2] != 2 {
		t.Fatalf("expected address space to be merged, got %+v", mgr.AddressSpaces)
	}
	// ApplyRemoteLaunch already arrived once; a second arrival still
	// leaves the 3-shard startup barrier short of quorum.
	if mgr.StartupBarrier.Arrive().HasTriggered() {
		t.Fatal("startup barrier should not satisfy quorum after only two of three arrivals")
	}
}
