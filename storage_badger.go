package docstore

import (
	"bytes"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Badger has a flat keyspace, so buckets are emulated with key prefixes:
//
//	data:   name 0x00 sub 0x00 key
//	marker: 0x01 name 0x00 sub
//
// Bucket names are printable, so data keys never collide with markers.
const badgerMarkerPrefix = 0x01

type badgerStorage struct {
	bdb *badger.DB
}

// OpenBadgerStorage opens a Badger database in dir. An empty dir opens
// a purely in-memory instance.
func OpenBadgerStorage(dir string, opt Options) (Storage, error) {
	bopt := badger.DefaultOptions(dir)
	if dir == "" {
		bopt = bopt.WithInMemory(true)
	}
	if opt.Logger != nil {
		bopt = bopt.WithLogger(badgerLogger{opt.Logger.Sugar()})
	} else {
		bopt = bopt.WithLogger(nil)
	}
	bopt = bopt.WithSyncWrites(!opt.IsTesting).WithReadOnly(opt.ReadOnly)

	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, wrapStorageErr(err, "open %s", dir)
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (s *badgerStorage) BeginTx(writable bool) (StorageTx, error) {
	return &badgerStorageTx{txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

// Compact runs value log garbage collection until there is nothing left to rewrite.
func (s *badgerStorage) Compact() error {
	for {
		err := s.bdb.RunValueLogGC(0.5)
		if err == badger.ErrNoRewrite || err == badger.ErrRejected || err == badger.ErrGCInMemoryMode {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerStorageTx struct {
	txn      *badger.Txn
	writable bool
	closed   bool
}

func (tx *badgerStorageTx) Writable() bool { return tx.writable }

func badgerPrefix(name, sub string) []byte {
	p := make([]byte, 0, len(name)+len(sub)+2)
	p = append(p, name...)
	p = append(p, 0)
	p = append(p, sub...)
	return append(p, 0)
}

func badgerMarker(name, sub string) []byte {
	p := make([]byte, 0, len(name)+len(sub)+2)
	p = append(p, badgerMarkerPrefix)
	p = append(p, name...)
	p = append(p, 0)
	return append(p, sub...)
}

func (tx *badgerStorageTx) Bucket(name, sub string) StorageBucket {
	_, err := tx.txn.Get(badgerMarker(name, sub))
	if err != nil {
		return nil
	}
	return &badgerBucket{tx: tx, prefix: badgerPrefix(name, sub)}
}

func (tx *badgerStorageTx) CreateBucket(name, sub string) (StorageBucket, error) {
	if !tx.writable {
		return nil, badger.ErrReadOnlyTxn
	}
	if sub != "" {
		if err := tx.txn.Set(badgerMarker(name, ""), []byte{}); err != nil {
			return nil, err
		}
	}
	if err := tx.txn.Set(badgerMarker(name, sub), []byte{}); err != nil {
		return nil, err
	}
	return &badgerBucket{tx: tx, prefix: badgerPrefix(name, sub)}, nil
}

func (tx *badgerStorageTx) DeleteBucket(name, sub string) error {
	if sub == "" {
		return ErrBucketNotFound
	}
	b, ok := tx.Bucket(name, sub).(*badgerBucket)
	if !ok {
		return ErrBucketNotFound
	}
	var keys [][]byte
	it := tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: b.prefix})
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return err
		}
	}
	return tx.txn.Delete(badgerMarker(name, sub))
}

func (tx *badgerStorageTx) Commit() error {
	if tx.closed {
		return badger.ErrDiscardedTxn
	}
	tx.closed = true
	return tx.txn.Commit()
}

func (tx *badgerStorageTx) Rollback() error {
	tx.closed = true
	tx.txn.Discard()
	return nil
}

func (tx *badgerStorageTx) Size() int64 { return 0 }

type badgerBucket struct {
	tx     *badgerStorageTx
	prefix []byte
}

func (b *badgerBucket) fullKey(key []byte) []byte {
	k := make([]byte, 0, len(b.prefix)+len(key))
	k = append(k, b.prefix...)
	return append(k, key...)
}

func (b *badgerBucket) Get(key []byte) ([]byte, error) {
	item, err := b.tx.txn.Get(b.fullKey(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *badgerBucket) Put(key, value []byte) error {
	if len(key) == 0 {
		return badger.ErrEmptyKey
	}
	return b.tx.txn.Set(b.fullKey(key), bytes.Clone(value))
}

func (b *badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.fullKey(key))
}

func (b *badgerBucket) Cursor() StorageCursor {
	return &badgerCursor{b: b}
}

func (b *badgerBucket) Stats() BucketStats {
	var s BucketStats
	it := b.tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: b.prefix})
	defer it.Close()
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		item := it.Item()
		s.KeyN++
		s.LeafInuse += int64(len(item.Key())-len(b.prefix)) + item.ValueSize()
	}
	s.LeafAlloc = s.LeafInuse
	return s
}

func (b *badgerBucket) KeyCount() int {
	var n int
	it := b.tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: b.prefix})
	defer it.Close()
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		n++
	}
	return n
}

// badgerCursor opens a short-lived iterator for every move: a read-write
// Badger transaction allows only one live iterator, and callers interleave
// cursors with Get/Put on other buckets.
type badgerCursor struct {
	b   *badgerBucket
	cur []byte // user key, without the bucket prefix
	err error
}

// seek positions an iterator at target and returns the first item with the
// bucket prefix, stepping once if the item equals skip.
func (c *badgerCursor) seek(target []byte, reverse bool, skip []byte) ([]byte, []byte) {
	if c.err != nil {
		return nil, nil
	}
	it := c.b.tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Reverse: reverse})
	defer it.Close()

	it.Seek(target)
	if it.Valid() && skip != nil && bytes.Equal(it.Item().Key(), skip) {
		it.Next()
	}
	if !it.ValidForPrefix(c.b.prefix) {
		c.cur = nil
		return nil, nil
	}
	item := it.Item()
	v, err := item.ValueCopy(nil)
	if err != nil {
		c.err = err
		c.cur = nil
		return nil, nil
	}
	c.cur = item.KeyCopy(nil)[len(c.b.prefix):]
	return c.cur, v
}

func (c *badgerCursor) First() ([]byte, []byte) {
	return c.seek(c.b.prefix, false, nil)
}

func (c *badgerCursor) Last() ([]byte, []byte) {
	limit := bytes.Clone(c.b.prefix)
	inc(limit)
	return c.seek(limit, true, limit)
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.seek(c.b.fullKey(seek), false, nil)
}

func (c *badgerCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := bytes.Clone(prefix)
	if !inc(limit) {
		return c.Last()
	}
	full := c.b.fullKey(limit)
	return c.seek(full, true, full)
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return c.First()
	}
	return c.seek(c.b.fullKey(append(bytes.Clone(c.cur), 0)), false, nil)
}

func (c *badgerCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	full := c.b.fullKey(c.cur)
	return c.seek(full, true, full)
}

func (c *badgerCursor) Delete() error {
	if c.cur == nil {
		return nil
	}
	return c.b.Delete(c.cur)
}

func (c *badgerCursor) Err() error { return c.err }

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

var badgerErrors = []error{
	1:  badger.ErrKeyNotFound,
	2:  badger.ErrTxnTooBig,
	3:  badger.ErrConflict,
	4:  badger.ErrReadOnlyTxn,
	5:  badger.ErrDiscardedTxn,
	6:  badger.ErrEmptyKey,
	7:  badger.ErrInvalidKey,
	8:  badger.ErrDBClosed,
	9:  badger.ErrNoRewrite,
	10: badger.ErrRejected,
	11: badger.ErrInvalidRequest,
}

func badgerErrorCode(err error) (ErrorCode, bool) {
	for i, e := range badgerErrors {
		if e != nil && errors.Is(err, e) {
			return ErrorCode(i), true
		}
	}
	return 0, false
}
