package repl

import (
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/taskmesh/taskmesh/cmn/atomic"
	"github.com/taskmesh/taskmesh/cmn/debug"
	"github.com/taskmesh/taskmesh/cmn/nlog"
	"github.com/taskmesh/taskmesh/core"
)

// ShardTask is one shard's local participation in a replicated operation
// (§3 "Shard / ShardManager"): a ShardID, the node that owns it, and the
// context it executes under.
type ShardTask struct {
	ID   core.ShardID
	Node uint16
	Ctx  core.Context
}

// LaunchDispatcher sends the wire messages a ShardManager needs to reach
// remote shards (§6: ReplicateLaunch, ReplicateDelete/PostMapped/
// TriggerComplete/TriggerCommit); implemented by the msg package and
// injected to avoid a repl<->msg import cycle.
type LaunchDispatcher interface {
	SendReplicateLaunch(node uint16, m *ReplicateLaunch)
	SendPostMapped(node uint16, replID core.ReplicationID)
	SendTriggerComplete(node uint16, replID core.ReplicationID)
	SendTriggerCommit(node uint16, replID core.ReplicationID)
}

// ReplicateLaunch is the payload of the §6 ReplicateLaunch message.
type ReplicateLaunch struct {
	ReplID              core.ReplicationID
	TotalShards         int
	ControlReplicated   bool
	TopLevel            bool
	AddressSpaceMapping map[core.ShardID]uint16
	ShardMapping        map[core.ShardID]uint32
	ShardBlobs          map[core.ShardID][]byte
}

// ShardManager owns the shards of one replicated operation launch and
// the per-site barriers/quorum counters described in §3 "Shard /
// ShardManager" and §4.7.
type ShardManager struct {
	mu sync.Mutex

	ReplID      core.ReplicationID
	TotalShards int
	Origin      core.ShardID // shard 0 by convention, or the chosen origin

	AddressSpaces map[core.ShardID]uint16
	ShardMapping  map[core.ShardID]uint32

	StartupBarrier          *core.Barrier
	PendingPartitionBarrier *core.Barrier
	FutureMapBarrier        *core.Barrier
	CreationBarrier         *core.Barrier
	DeletionBarrier         *core.Barrier

	shardingCache *Registry

	localShards []*ShardTask

	mappedCount   int
	completeCount int
	commitCount   int
	remoteMapped   int
	remoteComplete int
	remoteCommit   int

	mappedDone   core.UserEvent
	completeDone core.UserEvent
	commitDone   core.UserEvent

	nextCollective atomic.Uint64

	Dispatcher LaunchDispatcher
}

func NewShardManager(replID core.ReplicationID, totalShards int) *ShardManager {
	return &ShardManager{
		ReplID:                  replID,
		TotalShards:             totalShards,
		AddressSpaces:           make(map[core.ShardID]uint16),
		ShardMapping:            make(map[core.ShardID]uint32),
		StartupBarrier:          core.NewBarrier(totalShards),
		PendingPartitionBarrier: core.NewBarrier(totalShards),
		FutureMapBarrier:        core.NewBarrier(totalShards),
		CreationBarrier:         core.NewBarrier(totalShards),
		DeletionBarrier:         core.NewBarrier(totalShards),
		shardingCache:           NewRegistry(),
		mappedDone:              core.NewUserEvent(),
		completeDone:            core.NewUserEvent(),
		commitDone:              core.NewUserEvent(),
	}
}

// NextCollectiveID allocates the next CollectiveID from this manager's
// per-context sequence (§1 Identifiers: "CollectiveID, per collective
// site in a replicated context, allocated from a sequence").
func (m *ShardManager) NextCollectiveID() core.CollectiveID {
	return core.CollectiveID(m.nextCollective.Inc())
}

func (m *ShardManager) ShardingFunction(id uint32) (ShardingFunction, bool) {
	return m.shardingCache.Lookup(id)
}

// AddLocalShard registers a shard this node hosts directly.
func (m *ShardManager) AddLocalShard(s *ShardTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localShards = append(m.localShards, s)
	m.AddressSpaces[s.ID] = s.Node
}

// ApplyRemoteLaunch merges an inbound ReplicateLaunch envelope (received
// on a node that was not the launch origin) into this manager's
// address-space and shard-mapping tables, then arrives at the startup
// barrier so locally-started shards can proceed (§4.7 "launch()",
// receiving side).
func (m *ShardManager) ApplyRemoteLaunch(rl *ReplicateLaunch) {
	m.mu.Lock()
	for shard, node := range rl.AddressSpaceMapping {
		m.AddressSpaces[shard] = node
	}
	for shard, fn := range rl.ShardMapping {
		m.ShardMapping[shard] = fn
	}
	m.mu.Unlock()
	m.StartupBarrier.Arrive()
}

func (m *ShardManager) remoteShardCount() int {
	nodes := make(map[uint16]struct{})
	for id, node := range m.AddressSpaces {
		local := false
		for _, ls := range m.localShards {
			if ls.ID == id {
				local = true
				break
			}
		}
		if !local {
			nodes[node] = struct{}{}
		}
	}
	return len(nodes)
}

// Launch sends one ReplicateLaunch to every node that hosts a non-local
// shard, carrying the full address-space map, the shard mapping, and the
// shard blobs, then starts local shards (§4.7 "launch()"). The message
// carries no barriers. startLocal is the caller-supplied per-shard entry
// point.
func (m *ShardManager) Launch(blobs map[core.ShardID][]byte, startLocal func(*ShardTask)) {
	m.mu.Lock()
	remoteNodes := make(map[uint16]struct{})
	for id, node := range m.AddressSpaces {
		isLocal := false
		for _, ls := range m.localShards {
			if ls.ID == id {
				isLocal = true
				break
			}
		}
		if !isLocal {
			remoteNodes[node] = struct{}{}
		}
	}
	addrCopy := make(map[core.ShardID]uint16, len(m.AddressSpaces))
	for k, v := range m.AddressSpaces {
		addrCopy[k] = v
	}
	shardMapCopy := make(map[core.ShardID]uint32, len(m.ShardMapping))
	for k, v := range m.ShardMapping {
		shardMapCopy[k] = v
	}
	local := append([]*ShardTask(nil), m.localShards...)
	dispatcher := m.Dispatcher
	m.mu.Unlock()

	if dispatcher != nil {
		for node := range remoteNodes {
			dispatcher.SendReplicateLaunch(node, &ReplicateLaunch{
				ReplID:              m.ReplID,
				TotalShards:         m.TotalShards,
				ControlReplicated:  true,
				AddressSpaceMapping: addrCopy,
				ShardMapping:        shardMapCopy,
				ShardBlobs:          blobs,
			})
		}
	}
	for _, s := range local {
		startLocal(s)
	}
}

// HandlePostMapped aggregates the mapping quorum: once every local shard
// has mapped and every remote constituent has reported in, the manager's
// mappedDone event triggers exactly once (§4.7).
func (m *ShardManager) HandlePostMapped(remote bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remote {
		m.remoteMapped++
	} else {
		m.mappedCount++
	}
	if m.mappedCount >= len(m.localShards) && m.remoteMapped >= m.remoteShardCount() {
		m.mappedDone.Trigger()
		if debug.Enabled {
			nlog.Infof("shard manager %d: mapping quorum reached", m.ReplID)
		}
	}
}

func (m *ShardManager) TriggerComplete(remote bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remote {
		m.remoteComplete++
	} else {
		m.completeCount++
	}
	if m.completeCount >= len(m.localShards) && m.remoteComplete >= m.remoteShardCount() {
		m.completeDone.Trigger()
	}
}

func (m *ShardManager) TriggerCommit(remote bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remote {
		m.remoteCommit++
	} else {
		m.commitCount++
	}
	if m.commitCount >= len(m.localShards) && m.remoteCommit >= m.remoteShardCount() {
		m.commitDone.Trigger()
	}
}

func (m *ShardManager) MappedEvent() core.Event   { return m.mappedDone.Event }
func (m *ShardManager) CompleteEvent() core.Event { return m.completeDone.Event }
func (m *ShardManager) CommitEvent() core.Event   { return m.commitDone.Event }

// CreateInstanceTopView picks which local shard answers a
// physical-instance top-view request by hashing (replication id,
// distributedID) over this manager's local shards (§4.7
// "create_instance_top_view"). It does not forward the request to
// another node.
func (m *ShardManager) CreateInstanceTopView(distributedID uint64) (*ShardTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.localShards) == 0 {
		return nil, fmt.Errorf("repl: shard manager %d has no local shards to route a top-view request to", m.ReplID)
	}
	idx := xxhash.ChecksumString64(fmt.Sprintf("%d:%d", m.ReplID, distributedID)) % uint64(len(m.localShards))
	return m.localShards[idx], nil
}
