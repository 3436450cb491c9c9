package transport

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/flowrpc/flowrpc/internal/debug"
)

const connManagerShards = 128

type connShard struct {
	mu    sync.RWMutex
	conns map[connID]*Connection
}

// connManager maps connID -> *Connection, sharded to reduce contention
// under concurrent accept/lookup/evict traffic. At most maxConnNum live
// connections are admitted per connManager (enforced before construction,
// via reserve/release on its atomic counter). Each bind adapter owns its
// own connManager, so a Server with N adapters admits up to N*maxConnNum
// connections in total; the cap is not shared across adapters.
type connManager struct {
	shards     [connManagerShards]*connShard
	maxConnNum int64
	live       atomic.Int64
}

func newConnManager(maxConnNum int64) *connManager {
	m := &connManager{maxConnNum: maxConnNum}
	for i := range m.shards {
		m.shards[i] = &connShard{conns: make(map[connID]*Connection)}
	}
	return m
}

func (m *connManager) shardIdx(id connID) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return int(xxhash.Sum64(b[:]) % connManagerShards)
}

// reserve atomically claims one live-connection slot, returning false
// (no side effect) if maxConnNum would be exceeded.
func (m *connManager) reserve() bool {
	for {
		cur := m.live.Load()
		if m.maxConnNum > 0 && cur >= m.maxConnNum {
			return false
		}
		if m.live.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (m *connManager) release() { m.live.Add(-1) }

// insert registers c under its ID. Duplicate insertion of an already
// live connID is an internal-invariant breach, not a recoverable error.
func (m *connManager) insert(c *Connection) {
	s := m.shards[m.shardIdx(c.id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, dup := s.conns[c.id]
	debug.Assert(!dup, "duplicate conn_id", c.id)
	s.conns[c.id] = c
}

func (m *connManager) remove(id connID) {
	s := m.shards[m.shardIdx(id)]
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (m *connManager) get(id connID) (*Connection, bool) {
	s := m.shards[m.shardIdx(id)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// forEach snapshots every live connection; used by the idle sweep and by
// StopListen(cleanConn=true)/Stop to iterate without holding any shard
// lock while calling back into connection lifecycle methods.
func (m *connManager) forEach(f func(*Connection)) {
	for _, s := range m.shards {
		s.mu.RLock()
		snapshot := make([]*Connection, 0, len(s.conns))
		for _, c := range s.conns {
			snapshot = append(snapshot, c)
		}
		s.mu.RUnlock()
		for _, c := range snapshot {
			f(c)
		}
	}
}

func (m *connManager) count() int64 { return m.live.Load() }
