package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("storage")

// Config holds the storage parameters of one node.
type Config struct {
	// DataDir is the root of all on-disk state.
	DataDir string
	// KVMaxEntries bounds the in-memory kvstore per shard before a flush is
	// forced. Zero means unbounded.
	KVMaxEntries int
}

// Store is the per-shard storage engine instance. All mutation happens on
// the owning shard, so the write index needs no compare-and-swap loop and
// the kv map is only read concurrently.
type Store struct {
	shardID  uint32
	cfg      Config
	kv       *xsync.MapOf[string, []byte]
	writeIdx atomic.Uint64
	started  bool
}

// NewStore allocates the engine for one shard. Construction does no I/O;
// directories are created by Start.
func NewStore(cfg Config, shardID uint32) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data directory not configured")
	}
	return &Store{
		shardID: shardID,
		cfg:     cfg,
		kv:      xsync.NewMapOf[string, []byte](),
	}, nil
}

// kvDir returns this shard's kvstore directory.
func (s *Store) kvDir() string {
	return filepath.Join(s.cfg.DataDir, "dmq", "kvstore", strconv.FormatUint(uint64(s.shardID), 10))
}

// LogDir returns the log directory for a partition hosted on this shard.
func (s *Store) LogDir(ntp model.NTP) string {
	return filepath.Join(s.cfg.DataDir, ntp.Namespace, ntp.Topic, strconv.FormatInt(int64(ntp.Partition), 10))
}

// Start creates the shard's on-disk directories.
func (s *Store) Start() error {
	if s.started {
		return nil
	}
	if err := os.MkdirAll(s.kvDir(), 0o755); err != nil {
		return fmt.Errorf("storage: creating kvstore dir: %w", err)
	}
	s.started = true
	log.Debugf("shard %d storage started at %s", s.shardID, s.kvDir())
	return nil
}

// Stop releases the engine. Pending state is only in memory here, so stop is
// cheap; it exists to hold the engine's place in the teardown order.
func (s *Store) Stop() error {
	s.started = false
	return nil
}

// --------------------------------------------------------------------------
// Key-Value Operations
// --------------------------------------------------------------------------

// Set inserts or updates an entry. The writeIndex is a logical timestamp;
// the store keeps the highest one it has seen.
func (s *Store) Set(key string, value []byte, writeIndex uint64) {
	s.kv.Store(key, value)
	s.bumpWriteIdx(writeIndex)
}

// Get retrieves the value for a key. The boolean reports whether the key was
// found.
func (s *Store) Get(key string) ([]byte, bool) {
	return s.kv.Load(key)
}

// Has reports whether a key exists.
func (s *Store) Has(key string) bool {
	_, ok := s.kv.Load(key)
	return ok
}

// Delete removes an entry.
func (s *Store) Delete(key string, writeIndex uint64) {
	s.kv.Delete(key)
	s.bumpWriteIdx(writeIndex)
}

// WriteIdx returns the highest logical timestamp applied to this store.
func (s *Store) WriteIdx() uint64 {
	return s.writeIdx.Load()
}

func (s *Store) bumpWriteIdx(idx uint64) {
	if idx > s.writeIdx.Load() {
		s.writeIdx.Store(idx)
	}
}
