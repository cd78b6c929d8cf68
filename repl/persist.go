package repl

import (
	"fmt"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/taskmesh/taskmesh/cmn/nlog"
	"github.com/taskmesh/taskmesh/core"
)

// Store persists a ShardManager's CollectiveID allocation counter and
// address-space map to an embedded buntdb database, so a shard that
// restarts mid-replicated-launch can resume without re-deriving them
// from scratch (the same role aistore uses buntdb for: small, frequently
// read, rarely written local bookkeeping).
type Store struct {
	db *buntdb.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("repl: open store %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func collectiveCounterKey(replID core.ReplicationID) string {
	return fmt.Sprintf("repl:%d:collective_counter", replID)
}

func addressSpaceKey(replID core.ReplicationID, shard core.ShardID) string {
	return fmt.Sprintf("repl:%d:address_space:%d", replID, shard)
}

// SaveCollectiveCounter persists the next CollectiveID a ShardManager
// would allocate, so a resumed process continues the sequence instead of
// reusing ids already in flight on other shards.
func (s *Store) SaveCollectiveCounter(replID core.ReplicationID, next uint64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(collectiveCounterKey(replID), strconv.FormatUint(next, 10), nil)
		return err
	})
}

func (s *Store) LoadCollectiveCounter(replID core.ReplicationID) (uint64, bool) {
	var val uint64
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(collectiveCounterKey(replID))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		val, found = n, true
		return nil
	})
	if err != nil {
		nlog.Warningf("repl store: load collective counter for %d: %v", replID, err)
		return 0, false
	}
	return val, found
}

func (s *Store) SaveAddressSpace(replID core.ReplicationID, shard core.ShardID, node uint16) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(addressSpaceKey(replID, shard), strconv.FormatUint(uint64(node), 10), nil)
		return err
	})
}

// LoadAddressSpaces reconstructs a ShardManager's full address_spaces
// map for a replication id by scanning its key prefix.
func (s *Store) LoadAddressSpaces(replID core.ReplicationID) (map[core.ShardID]uint16, error) {
	out := make(map[core.ShardID]uint16)
	prefix := fmt.Sprintf("repl:%d:address_space:", replID)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var shard uint64
			_, err := fmt.Sscanf(key, prefix+"%d", &shard)
			if err != nil {
				return true
			}
			node, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return true
			}
			out[core.ShardID(shard)] = uint16(node)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repl: load address spaces for %d: %w", replID, err)
	}
	return out, nil
}
