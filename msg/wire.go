// Package msg implements the node-to-node messaging facade (§6): wire
// envelopes for XferDes lifecycle/progress messages and control-replication
// lifecycle messages, a MessagePack-based codec, and a fasthttp transport
// that carries them between nodes.
package msg

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v3"
	"github.com/tinylib/msgp/msgp"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/repl"
	"github.com/taskmesh/taskmesh/xfer"
)

// MsgType tags the envelope kind on the wire, ahead of its msgp-encoded
// body (§6 "Messaging envelopes").
type MsgType byte

const (
	MsgXferDesCreate MsgType = iota
	MsgXferDesDestroy
	MsgUpdatePreBytesWrite
	MsgUpdateNextBytesRead
	MsgXferDesRemoteWrite
	MsgXferDesRemoteWriteAck
	MsgReplicateLaunch
	MsgReplicateDelete
	MsgPostMapped
	MsgTriggerComplete
	MsgTriggerCommit
	MsgControlReplicateCollective
)

// unknownTotalWire mirrors xfer.UnknownTotal on the wire without importing a
// cycle-prone sentinel type; encoded as -1.
const unknownTotalWire = int64(-1)

// XferDesCreate is §6's XferDesCreate envelope, trimmed to the fields
// this implementation actually needs to stand a remote XferDes up (the
// dma_request_ptr/fence_ptr/inst fields name opaque collaborators this
// repo doesn't model).
type XferDesCreate struct {
	LaunchNode  uint16
	Guid        xfer.XferDesID
	PreXDGuid   xfer.XferDesID
	NextXDGuid  xfer.XferDesID
	SrcMem      xfer.MemoryID
	DstMem      xfer.MemoryID
	MaxReqSize  int64
	Priority    int
	Kind        xfer.Kind
	SrcIterBlob []byte // lz4-compressed on the wire
	DstIterBlob []byte // lz4-compressed on the wire
}

func (m *XferDesCreate) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(10); err != nil {
		return err
	}
	fields := []struct {
		key string
		wr  func() error
	}{
		{"launch_node", func() error { return w.WriteUint32(uint32(m.LaunchNode)) }},
		{"guid", func() error { return w.WriteUint64(uint64(m.Guid)) }},
		{"pre_xd_guid", func() error { return w.WriteUint64(uint64(m.PreXDGuid)) }},
		{"next_xd_guid", func() error { return w.WriteUint64(uint64(m.NextXDGuid)) }},
		{"src_mem", func() error { return w.WriteUint64(uint64(m.SrcMem)) }},
		{"dst_mem", func() error { return w.WriteUint64(uint64(m.DstMem)) }},
		{"max_req_size", func() error { return w.WriteInt64(m.MaxReqSize) }},
		{"priority", func() error { return w.WriteInt(m.Priority) }},
		{"kind", func() error { return w.WriteInt(int(m.Kind)) }},
		{"src_iter_blob", func() error { return writeCompressed(w, m.SrcIterBlob) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return err
		}
		if err := f.wr(); err != nil {
			return fmt.Errorf("msg: encode XferDesCreate.%s: %w", f.key, err)
		}
	}
	return writeCompressed(w, m.DstIterBlob)
}

func (m *XferDesCreate) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "launch_node":
			v, err := r.ReadUint32()
			if err != nil {
				return err
			}
			m.LaunchNode = uint16(v)
		case "guid":
			v, err := r.ReadUint64()
			if err != nil {
				return err
			}
			m.Guid = xfer.XferDesID(v)
		case "pre_xd_guid":
			v, err := r.ReadUint64()
			if err != nil {
				return err
			}
			m.PreXDGuid = xfer.XferDesID(v)
		case "next_xd_guid":
			v, err := r.ReadUint64()
			if err != nil {
				return err
			}
			m.NextXDGuid = xfer.XferDesID(v)
		case "src_mem":
			v, err := r.ReadUint64()
			if err != nil {
				return err
			}
			m.SrcMem = xfer.MemoryID(v)
		case "dst_mem":
			v, err := r.ReadUint64()
			if err != nil {
				return err
			}
			m.DstMem = xfer.MemoryID(v)
		case "max_req_size":
			v, err := r.ReadInt64()
			if err != nil {
				return err
			}
			m.MaxReqSize = v
		case "priority":
			v, err := r.ReadInt()
			if err != nil {
				return err
			}
			m.Priority = v
		case "kind":
			v, err := r.ReadInt()
			if err != nil {
				return err
			}
			m.Kind = xfer.Kind(v)
		case "src_iter_blob":
			v, err := readCompressed(r)
			if err != nil {
				return err
			}
			m.SrcIterBlob = v
		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
	v, err := readCompressed(r)
	if err != nil {
		return err
	}
	m.DstIterBlob = v
	return nil
}

// writeCompressed lz4-compresses a blob before writing it, matching the
// teacher's stream compression usage for bundle payloads.
func writeCompressed(w *msgp.Writer, blob []byte) error {
	if len(blob) == 0 {
		return w.WriteBytes(nil)
	}
	dst := make([]byte, lz4.CompressBlockBound(len(blob)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(blob, dst, ht[:])
	if err != nil {
		return fmt.Errorf("msg: lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input per lz4's "output would be larger"
		// convention: fall back to storing it raw, prefixed so the
		// reader knows not to decompress.
		return w.WriteBytes(append([]byte{0}, blob...))
	}
	framed := make([]byte, 0, n+9)
	framed = append(framed, 1)
	framed = appendUvarint(framed, uint64(len(blob)))
	framed = append(framed, dst[:n]...)
	return w.WriteBytes(framed)
}

func readCompressed(r *msgp.Reader) ([]byte, error) {
	raw, err := r.ReadBytes(nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 0 {
		return raw[1:], nil
	}
	origLen, n := readUvarint(raw[1:])
	dst := make([]byte, origLen)
	if _, err := lz4.UncompressBlock(raw[1+n:], dst); err != nil {
		return nil, fmt.Errorf("msg: lz4 uncompress: %w", err)
	}
	return dst, nil
}

func appendUvarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func readUvarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	return v, len(b)
}

// XferDesDestroy, UpdatePreBytesWrite, UpdateNextBytesRead carry only a
// guid plus (for the byte-count updates) a span.
type XferDesDestroy struct{ Guid xfer.XferDesID }

func (m *XferDesDestroy) EncodeMsg(w *msgp.Writer) error { return w.WriteUint64(uint64(m.Guid)) }
func (m *XferDesDestroy) DecodeMsg(r *msgp.Reader) error {
	v, err := r.ReadUint64()
	m.Guid = xfer.XferDesID(v)
	return err
}

type UpdatePreBytesWrite struct {
	Guid      xfer.XferDesID
	SpanStart int64
	SpanSize  int64
	PreTotal  int64 // unknownTotalWire if not yet finalized
}

func (m *UpdatePreBytesWrite) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(uint64(m.Guid)); err != nil {
		return err
	}
	if err := w.WriteInt64(m.SpanStart); err != nil {
		return err
	}
	if err := w.WriteInt64(m.SpanSize); err != nil {
		return err
	}
	return w.WriteInt64(m.PreTotal)
}

func (m *UpdatePreBytesWrite) DecodeMsg(r *msgp.Reader) (err error) {
	if g, err := r.ReadUint64(); err != nil {
		return err
	} else {
		m.Guid = xfer.XferDesID(g)
	}
	if m.SpanStart, err = r.ReadInt64(); err != nil {
		return err
	}
	if m.SpanSize, err = r.ReadInt64(); err != nil {
		return err
	}
	m.PreTotal, err = r.ReadInt64()
	return err
}

type UpdateNextBytesRead struct {
	Guid      xfer.XferDesID
	SpanStart int64
	SpanSize  int64
}

func (m *UpdateNextBytesRead) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(uint64(m.Guid)); err != nil {
		return err
	}
	if err := w.WriteInt64(m.SpanStart); err != nil {
		return err
	}
	return w.WriteInt64(m.SpanSize)
}

func (m *UpdateNextBytesRead) DecodeMsg(r *msgp.Reader) (err error) {
	if g, err := r.ReadUint64(); err != nil {
		return err
	} else {
		m.Guid = xfer.XferDesID(g)
	}
	if m.SpanStart, err = r.ReadInt64(); err != nil {
		return err
	}
	m.SpanSize, err = r.ReadInt64()
	return err
}

// ReplLifecycle carries the four single-field replication lifecycle
// messages (ReplicateDelete/PostMapped/TriggerComplete/TriggerCommit):
// all of them are just `repl_id` on the wire (§6).
type ReplLifecycle struct {
	ReplID core.ReplicationID
}

func (m *ReplLifecycle) EncodeMsg(w *msgp.Writer) error { return w.WriteUint64(uint64(m.ReplID)) }
func (m *ReplLifecycle) DecodeMsg(r *msgp.Reader) error {
	v, err := r.ReadUint64()
	m.ReplID = core.ReplicationID(v)
	return err
}

// ReplicateLaunchMsg mirrors repl.ReplicateLaunch on the wire.
type ReplicateLaunchMsg struct {
	ReplID              core.ReplicationID
	TotalShards         int
	ControlReplicated   bool
	TopLevel            bool
	AddressSpaceMapping map[core.ShardID]uint16
	ShardMapping        map[core.ShardID]uint32
	ShardBlobs          map[core.ShardID][]byte
}

// FromReplicateLaunch converts a repl.ReplicateLaunch into its wire form.
func FromReplicateLaunch(rl *repl.ReplicateLaunch) *ReplicateLaunchMsg {
	return &ReplicateLaunchMsg{
		ReplID:              rl.ReplID,
		TotalShards:         rl.TotalShards,
		ControlReplicated:   rl.ControlReplicated,
		TopLevel:            rl.TopLevel,
		AddressSpaceMapping: rl.AddressSpaceMapping,
		ShardMapping:        rl.ShardMapping,
		ShardBlobs:          rl.ShardBlobs,
	}
}

// ToReplicateLaunch converts a decoded wire envelope back into a
// repl.ReplicateLaunch for ShardManager consumption.
func (m *ReplicateLaunchMsg) ToReplicateLaunch() *repl.ReplicateLaunch {
	return &repl.ReplicateLaunch{
		ReplID:              m.ReplID,
		TotalShards:         m.TotalShards,
		ControlReplicated:   m.ControlReplicated,
		TopLevel:            m.TopLevel,
		AddressSpaceMapping: m.AddressSpaceMapping,
		ShardMapping:        m.ShardMapping,
		ShardBlobs:          m.ShardBlobs,
	}
}

func (m *ReplicateLaunchMsg) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(uint64(m.ReplID)); err != nil {
		return err
	}
	if err := w.WriteInt(m.TotalShards); err != nil {
		return err
	}
	if err := w.WriteBool(m.ControlReplicated); err != nil {
		return err
	}
	if err := w.WriteBool(m.TopLevel); err != nil {
		return err
	}
	if err := w.WriteMapHeader(uint32(len(m.AddressSpaceMapping))); err != nil {
		return err
	}
	for shard, node := range m.AddressSpaceMapping {
		if err := w.WriteUint32(uint32(shard)); err != nil {
			return err
		}
		if err := w.WriteUint32(uint32(node)); err != nil {
			return err
		}
	}
	if err := w.WriteMapHeader(uint32(len(m.ShardMapping))); err != nil {
		return err
	}
	for shard, fn := range m.ShardMapping {
		if err := w.WriteUint32(uint32(shard)); err != nil {
			return err
		}
		if err := w.WriteUint32(fn); err != nil {
			return err
		}
	}
	if err := w.WriteMapHeader(uint32(len(m.ShardBlobs))); err != nil {
		return err
	}
	for shard, blob := range m.ShardBlobs {
		if err := w.WriteUint32(uint32(shard)); err != nil {
			return err
		}
		if err := w.WriteBytes(blob); err != nil {
			return err
		}
	}
	return nil
}

func (m *ReplicateLaunchMsg) DecodeMsg(r *msgp.Reader) (err error) {
	if v, err := r.ReadUint64(); err != nil {
		return err
	} else {
		m.ReplID = core.ReplicationID(v)
	}
	if m.TotalShards, err = r.ReadInt(); err != nil {
		return err
	}
	if m.ControlReplicated, err = r.ReadBool(); err != nil {
		return err
	}
	if m.TopLevel, err = r.ReadBool(); err != nil {
		return err
	}
	n, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	m.AddressSpaceMapping = make(map[core.ShardID]uint16, n)
	for i := uint32(0); i < n; i++ {
		shard, err := r.ReadUint32()
		if err != nil {
			return err
		}
		node, err := r.ReadUint32()
		if err != nil {
			return err
		}
		m.AddressSpaceMapping[core.ShardID(shard)] = uint16(node)
	}
	n, err = r.ReadMapHeader()
	if err != nil {
		return err
	}
	m.ShardMapping = make(map[core.ShardID]uint32, n)
	for i := uint32(0); i < n; i++ {
		shard, err := r.ReadUint32()
		if err != nil {
			return err
		}
		fn, err := r.ReadUint32()
		if err != nil {
			return err
		}
		m.ShardMapping[core.ShardID(shard)] = fn
	}
	n, err = r.ReadMapHeader()
	if err != nil {
		return err
	}
	m.ShardBlobs = make(map[core.ShardID][]byte, n)
	for i := uint32(0); i < n; i++ {
		shard, err := r.ReadUint32()
		if err != nil {
			return err
		}
		blob, err := r.ReadBytes(nil)
		if err != nil {
			return err
		}
		m.ShardBlobs[core.ShardID(shard)] = blob
	}
	return nil
}

// ControlReplicateCollective carries the payload of a
// ControlReplicate{CollectiveMessage,...} envelope (§6): `(repl_id,
// target_shard, collective_id, payload)`.
type ControlReplicateCollective struct {
	ReplID       core.ReplicationID
	TargetShard  uint32
	CollectiveID core.CollectiveID
	SrcShard     uint32
	Payload      []byte
}

func (m *ControlReplicateCollective) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(uint64(m.ReplID)); err != nil {
		return err
	}
	if err := w.WriteUint32(m.TargetShard); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.CollectiveID)); err != nil {
		return err
	}
	if err := w.WriteUint32(m.SrcShard); err != nil {
		return err
	}
	return w.WriteBytes(m.Payload)
}

func (m *ControlReplicateCollective) DecodeMsg(r *msgp.Reader) (err error) {
	if v, err := r.ReadUint64(); err != nil {
		return err
	} else {
		m.ReplID = core.ReplicationID(v)
	}
	if m.TargetShard, err = r.ReadUint32(); err != nil {
		return err
	}
	if v, err := r.ReadUint64(); err != nil {
		return err
	} else {
		m.CollectiveID = core.CollectiveID(v)
	}
	if m.SrcShard, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Payload, err = r.ReadBytes(nil)
	return err
}

// Envelope is anything this package can put on the wire.
type Envelope interface {
	EncodeMsg(w *msgp.Writer) error
	DecodeMsg(r *msgp.Reader) error
}

// Encode writes a type tag byte followed by env's msgp encoding.
func Encode(kind MsgType, env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	w := msgp.NewWriter(&buf)
	if err := env.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads the type tag and decodes the remaining bytes into a
// freshly allocated envelope of the matching type.
func Decode(data []byte) (MsgType, Envelope, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("msg: empty message")
	}
	kind := MsgType(data[0])
	r := msgp.NewReader(bytes.NewReader(data[1:]))
	var env Envelope
	switch kind {
	case MsgXferDesCreate:
		env = &XferDesCreate{}
	case MsgXferDesDestroy:
		env = &XferDesDestroy{}
	case MsgUpdatePreBytesWrite:
		env = &UpdatePreBytesWrite{}
	case MsgUpdateNextBytesRead:
		env = &UpdateNextBytesRead{}
	case MsgReplicateLaunch:
		env = &ReplicateLaunchMsg{}
	case MsgReplicateDelete, MsgPostMapped, MsgTriggerComplete, MsgTriggerCommit:
		env = &ReplLifecycle{}
	case MsgControlReplicateCollective:
		env = &ControlReplicateCollective{}
	default:
		return 0, nil, fmt.Errorf("msg: unknown message type %d", kind)
	}
	if err := env.DecodeMsg(r); err != nil {
		return 0, nil, err
	}
	return kind, env, nil
}
