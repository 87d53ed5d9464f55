package chain

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// KVStore is the namespaced key/value interface every chain component
// persists through. It generalizes the teacher's bridge-local KVStore
// (core/cross_chain.go) with an atomic write batch and an epoch-indexed
// Rewind, neither of which the teacher's in-memory version needed.
type KVStore interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// WriteBatch applies fn's operations atomically: either all of its
	// Set/Delete calls land, or (on fn returning an error, or a crash
	// mid-apply) none of them do.
	WriteBatch(epoch uint32, fn func(Batch) error) error
	// Iterator walks keys in [start, end) order. A nil end means "to the
	// end of the keyspace"; this is how prefix scans are expressed.
	Iterator(start, end []byte) Iterator
	// Namespace returns a view of the store whose keys are transparently
	// prefixed, so components never have to hand-construct prefixed keys.
	Namespace(prefix string) KVStore
	Close() error
}

// Batch accumulates writes for WriteBatch.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
}

// Iterator walks a key range in ascending order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

type op struct {
	Epoch  uint32 `json:"epoch"`
	Delete bool   `json:"delete,omitempty"`
	Key    []byte `json:"key"`
	Value  []byte `json:"value,omitempty"`
}

type batchOp struct {
	ops []op
}

func (b *batchOp) Set(key, value []byte) {
	b.ops = append(b.ops, op{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
}

func (b *batchOp) Delete(key []byte) {
	b.ops = append(b.ops, op{Delete: true, Key: append([]byte(nil), key...)})
}

// Store is the node's durable KVStore: an in-memory map backed by a
// write-ahead log of JSON-encoded batches plus periodic gzip snapshots,
// the same durability shape as the teacher's ledger (core/ledger.go's
// NewLedger/OpenLedger: WAL replay on open, gzip/JSON snapshot at rest).
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	dir        string
	wal        *os.File
	walWriter  *bufio.Writer
	log        *logrus.Entry
	checkpoint map[uint32]map[string][]byte // epoch -> snapshot at that epoch's close
}

const (
	walFileName        = "wal.jsonl"
	snapshotFileName   = "snapshot.json.gz"
	checkpointInterval = 1000 // epochs between retained rewind checkpoints
)

// OpenStore opens (creating if absent) a durable store rooted at dir,
// replaying its WAL over the last snapshot.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chain: storage mkdir: %w", err)
	}
	s := &Store{
		data:       make(map[string][]byte),
		dir:        dir,
		log:        logrus.WithField("component", "storage"),
		checkpoint: make(map[uint32]map[string][]byte),
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := s.replayWAL(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, walFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chain: open wal: %w", err)
	}
	s.wal = f
	s.walWriter = bufio.NewWriter(f)
	s.log.Info("storage opened")
	return s, nil
}

func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dir, snapshotFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("chain: open snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("chain: snapshot gzip: %w", err)
	}
	defer gz.Close()

	var encoded map[string]string
	if err := json.NewDecoder(gz).Decode(&encoded); err != nil {
		return fmt.Errorf("chain: snapshot decode: %w", err)
	}
	for k, v := range encoded {
		s.data[k] = []byte(v)
	}
	return nil
}

func (s *Store) replayWAL() error {
	path := filepath.Join(s.dir, walFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("chain: open wal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var o op
		if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
			s.log.Warnf("skipping malformed wal line: %v", err)
			continue
		}
		s.apply(o)
	}
	return scanner.Err()
}

func (s *Store) apply(o op) {
	if o.Delete {
		delete(s.data, string(o.Key))
	} else {
		s.data[string(o.Key)] = o.Value
	}
	if o.Epoch%checkpointInterval == 0 {
		s.snapshotCheckpoint(o.Epoch)
	}
}

func (s *Store) snapshotCheckpoint(epoch uint32) {
	snap := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		snap[k] = append([]byte(nil), v...)
	}
	s.checkpoint[epoch] = snap
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(key, value []byte) error {
	return s.WriteBatch(0, func(b Batch) error {
		b.Set(key, value)
		return nil
	})
}

func (s *Store) Delete(key []byte) error {
	return s.WriteBatch(0, func(b Batch) error {
		b.Delete(key)
		return nil
	})
}

// WriteBatch applies fn's writes atomically: they are staged, fsynced to
// the WAL, then applied to the in-memory map together under the store's
// lock. epoch tags the batch for Rewind and periodic checkpointing.
func (s *Store) WriteBatch(epoch uint32, fn func(Batch) error) error {
	b := &batchOp{}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal == nil {
		return ErrClosed
	}
	for i := range b.ops {
		b.ops[i].Epoch = epoch
		line, err := json.Marshal(b.ops[i])
		if err != nil {
			return fmt.Errorf("chain: wal encode: %w", err)
		}
		if _, err := s.walWriter.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("chain: wal write: %w", err)
		}
	}
	if err := s.walWriter.Flush(); err != nil {
		return fmt.Errorf("chain: wal flush: %w", err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("chain: wal sync: %w", err)
	}
	for _, o := range b.ops {
		s.apply(o)
	}
	return nil
}

// Rewind discards all state applied at an epoch later than target,
// restoring the store to the nearest retained checkpoint at or before
// target and replaying the WAL up to (and including) target from there.
// This backs the chain manager's reorg-past-a-point and test harnesses
// that need to reset to a prior epoch.
func (s *Store) Rewind(target uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := uint32(0)
	haveCheckpoint := false
	for e := range s.checkpoint {
		if e <= target && (!haveCheckpoint || e > best) {
			best = e
			haveCheckpoint = true
		}
	}
	newData := make(map[string][]byte)
	if haveCheckpoint {
		for k, v := range s.checkpoint[best] {
			newData[k] = append([]byte(nil), v...)
		}
	}

	path := filepath.Join(s.dir, walFileName)
	f, err := os.Open(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chain: rewind open wal: %w", err)
	}
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var o op
			if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
				continue
			}
			if o.Epoch <= best || o.Epoch > target {
				continue
			}
			if o.Delete {
				delete(newData, string(o.Key))
			} else {
				newData[string(o.Key)] = o.Value
			}
		}
	}

	s.data = newData
	for e := range s.checkpoint {
		if e > target {
			delete(s.checkpoint, e)
		}
	}
	s.log.WithField("epoch", target).Info("storage rewound")
	return nil
}

// Snapshot writes the current state to disk as a gzip/JSON snapshot and
// truncates the WAL, the teacher's compaction step (core/ledger.go keeps
// both a live WAL and an at-rest snapshot for fast restart).
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := make(map[string]string, len(s.data))
	for k, v := range s.data {
		encoded[k] = string(v)
	}

	tmp := filepath.Join(s.dir, snapshotFileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("chain: snapshot create: %w", err)
	}
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(encoded); err != nil {
		gz.Close()
		f.Close()
		return fmt.Errorf("chain: snapshot encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, snapshotFileName)); err != nil {
		return fmt.Errorf("chain: snapshot rename: %w", err)
	}

	if err := s.wal.Close(); err != nil {
		return err
	}
	walPath := filepath.Join(s.dir, walFileName)
	if err := os.Truncate(walPath, 0); err != nil {
		return fmt.Errorf("chain: wal truncate: %w", err)
	}
	f2, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.wal = f2
	s.walWriter = bufio.NewWriter(f2)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	err := s.wal.Close()
	s.wal = nil
	return err
}

// Iterator returns a sorted-key walk over [start, end). A nil end walks
// every key with start as a prefix-or-greater bound to end of keyspace.
func (s *Store) Iterator(start, end []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), s.data[k]...)
	}
	return &sliceIterator{keys: keys, values: values, pos: -1}
}

// Namespace returns a prefixed view of the store. Prefix scans within a
// namespace (e.g. all UTXOs, or all reputation entries) pass prefix as
// both start and the iterator's implicit bound.
func (s *Store) Namespace(prefix string) KVStore {
	return &namespacedStore{prefix: prefix, parent: s}
}

type sliceIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}
func (it *sliceIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *sliceIterator) Value() []byte { return it.values[it.pos] }
func (it *sliceIterator) Error() error  { return nil }
func (it *sliceIterator) Close() error  { return nil }

// namespacedStore transparently prefixes keys, following the bridge
// KVStore's prefix-scan convention (core/cross_chain.go's InMemoryStore),
// generalized so any component can claim its own keyspace without
// colliding with another's.
type namespacedStore struct {
	prefix string
	parent KVStore
}

func (n *namespacedStore) key(k []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(k))
	out = append(out, n.prefix...)
	out = append(out, k...)
	return out
}

func (n *namespacedStore) Get(key []byte) ([]byte, bool, error) { return n.parent.Get(n.key(key)) }
func (n *namespacedStore) Set(key, value []byte) error          { return n.parent.Set(n.key(key), value) }
func (n *namespacedStore) Delete(key []byte) error              { return n.parent.Delete(n.key(key)) }

func (n *namespacedStore) WriteBatch(epoch uint32, fn func(Batch) error) error {
	return n.parent.WriteBatch(epoch, func(b Batch) error {
		return fn(&prefixBatch{prefix: n.prefix, inner: b})
	})
}

func (n *namespacedStore) Iterator(start, end []byte) Iterator {
	s := n.key(start)
	var e []byte
	if end != nil {
		e = n.key(end)
	} else {
		e = prefixUpperBound([]byte(n.prefix))
	}
	return &stripPrefixIterator{Iterator: n.parent.Iterator(s, e), prefixLen: len(n.prefix)}
}

func (n *namespacedStore) Namespace(prefix string) KVStore {
	return &namespacedStore{prefix: n.prefix + prefix, parent: n.parent}
}

func (n *namespacedStore) Close() error { return n.parent.Close() }

type prefixBatch struct {
	prefix string
	inner  Batch
}

func (b *prefixBatch) Set(key, value []byte) {
	b.inner.Set(append([]byte(b.prefix), key...), value)
}
func (b *prefixBatch) Delete(key []byte) {
	b.inner.Delete(append([]byte(b.prefix), key...))
}

type stripPrefixIterator struct {
	Iterator
	prefixLen int
}

func (it *stripPrefixIterator) Key() []byte {
	return it.Iterator.Key()[it.prefixLen:]
}

// prefixUpperBound returns the smallest byte string greater than every
// string sharing prefix, giving an exclusive end bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // prefix is all 0xff: unbounded above
}
