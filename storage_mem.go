package docstore

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
)

const memBucketSep = "\x00"

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// NewMemStorage returns a transient in-memory Storage. Committed buckets are
// immutable; a write transaction clones a bucket the first time it touches it,
// so readers keep a consistent snapshot without copying the whole store.
//
// The clone is a full copy of that bucket, so the first write to a bucket in
// each transaction costs O(n) in its size. Meant for tests and small stores;
// batch writes into one transaction when loading many documents.
func NewMemStorage() Storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (StorageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
		owned:    make(map[*memBucket]bool),
	}, nil
}

func (s *memStorage) Compact() error { return nil }

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[*memBucket]bool // buckets cloned (or created) by this tx
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) StorageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(name, sub string) (StorageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}

	// Ensure the root exists for nested buckets (Bolt compatibility).
	rootKey := memBucketKey(name, "")
	if tx.buckets[rootKey] == nil {
		tx.buckets[rootKey] = tx.newBucket()
	}

	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		tx.buckets[key] = tx.newBucket()
	}
	return memBucketHandle{tx: tx, key: key}, nil
}

func (tx *memTx) newBucket() *memBucket {
	b := &memBucket{tree: redblacktree.NewWith(compareBytes)}
	tx.owned[b] = true
	return b
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if sub == "" {
		return ErrBucketNotFound
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	return nil
}

// mutable returns a bucket this tx may modify, cloning the committed one on
// first write. Later writes to the same bucket in this tx reuse the clone.
func (tx *memTx) mutable(key string) *memBucket {
	b := tx.buckets[key]
	if tx.owned[b] {
		return b
	}
	c := b.clone()
	tx.owned[c] = true
	tx.buckets[key] = c
	return c
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

func compareBytes(a, b interface{}) int {
	return bytes.Compare(a.([]byte), b.([]byte))
}

type memBucket struct {
	tree *redblacktree.Tree // []byte => []byte
}

func (b *memBucket) clone() *memBucket {
	out := &memBucket{tree: redblacktree.NewWith(compareBytes)}
	it := b.tree.Iterator()
	for it.Next() {
		// keys and values are never mutated in place, so sharing them is safe
		out.tree.Put(it.Key(), it.Value())
	}
	return out
}

type memBucketHandle struct {
	tx  *memTx
	key string
}

func (b memBucketHandle) bucket() *memBucket {
	return b.tx.buckets[b.key]
}

func (b memBucketHandle) Get(key []byte) ([]byte, error) {
	v, found := b.bucket().tree.Get(key)
	if !found {
		return nil, nil
	}
	return v.([]byte), nil
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if len(key) == 0 {
		return fmt.Errorf("key required")
	}
	b.tx.mutable(b.key).tree.Put(bytes.Clone(key), bytes.Clone(value))
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if _, found := b.bucket().tree.Get(key); !found {
		return nil
	}
	b.tx.mutable(b.key).tree.Remove(key)
	return nil
}

func (b memBucketHandle) Cursor() StorageCursor {
	return &memCursor{h: b}
}

func (b memBucketHandle) Stats() BucketStats {
	var inuse int64
	it := b.bucket().tree.Iterator()
	for it.Next() {
		inuse += int64(len(it.Key().([]byte)) + len(it.Value().([]byte)))
	}
	return BucketStats{
		KeyN:      b.bucket().tree.Size(),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

func (b memBucketHandle) KeyCount() int { return b.bucket().tree.Size() }

// memCursor remembers the current key rather than a tree node, so it stays
// valid when the bucket is modified (or cloned) under it.
type memCursor struct {
	h   memBucketHandle
	cur []byte
}

func (c *memCursor) tree() *redblacktree.Tree {
	return c.h.bucket().tree
}

func (c *memCursor) at(n *redblacktree.Node) ([]byte, []byte) {
	if n == nil {
		c.cur = nil
		return nil, nil
	}
	c.cur = n.Key.([]byte)
	return c.cur, n.Value.([]byte)
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(c.tree().Left()) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(c.tree().Right()) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	n, _ := c.tree().Ceiling(seek)
	return c.at(n)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := bytes.Clone(prefix)
	if !inc(limit) {
		return c.Last()
	}
	return c.at(c.before(limit))
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return c.First()
	}
	// smallest key strictly greater than cur
	n, _ := c.tree().Ceiling(append(bytes.Clone(c.cur), 0))
	return c.at(n)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.at(c.before(c.cur))
}

// before returns the node with the largest key strictly less than key.
func (c *memCursor) before(key []byte) *redblacktree.Node {
	n, _ := c.tree().Floor(key)
	if n != nil && bytes.Equal(n.Key.([]byte), key) {
		return predecessor(n)
	}
	return n
}

func (c *memCursor) Delete() error {
	if c.cur == nil {
		return nil
	}
	return c.h.Delete(c.cur)
}

func (c *memCursor) Err() error { return nil }

func predecessor(n *redblacktree.Node) *redblacktree.Node {
	if n.Left != nil {
		n = n.Left
		for n.Right != nil {
			n = n.Right
		}
		return n
	}
	p := n.Parent
	for p != nil && n == p.Left {
		n, p = p, p.Parent
	}
	return p
}
