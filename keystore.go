package docstore

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// KeyStore is a keyed record store with per-record metadata, sequence
// ordering and an expiration index. Every call runs inside the given
// storage transaction; writes need a writable one.
type KeyStore interface {
	Name() string

	// Read returns the record stored under key, or nil if there is none.
	Read(stx StorageTx, key string, content ContentOption) (*Record, error)

	// GetBySequence returns the record whose current sequence is seq, or nil.
	GetBySequence(stx StorageTx, seq Sequence, content ContentOption) (*Record, error)

	// Set writes a record if cond holds, returning the record's sequence,
	// or 0 without writing anything if cond doesn't hold. With newSequence
	// false an existing record keeps its sequence.
	Set(stx StorageTx, rec RecordUpdate, cond SeqCondition, newSequence bool) (Sequence, error)

	// Delete removes the record if cond holds and reports whether it did.
	Delete(stx StorageTx, key string, cond SeqCondition) (bool, error)

	// SetDocumentFlag ORs flags into the record if its sequence is seq,
	// without assigning a new sequence.
	SetDocumentFlag(stx StorageTx, key string, seq Sequence, flags DocumentFlags) (bool, error)

	RecordCount(stx StorageTx) (int, error)
	LastSequence(stx StorageTx) (Sequence, error)

	// NewEnumerator starts an ordered scan; since applies to BySequence and
	// excludes records with sequence <= since.
	NewEnumerator(stx StorageTx, order EnumOrder, since Sequence, opts RecordEnumeratorOptions) (RecordEnumerator, error)

	// SetExpiration sets or (with NoExpiration) clears the record's deadline.
	// Returns false if the record doesn't exist.
	SetExpiration(stx StorageTx, key string, exp Expiration) (bool, error)
	GetExpiration(stx StorageTx, key string) (Expiration, error)

	// NextExpiration returns the earliest tracked deadline, or NoExpiration.
	NextExpiration(stx StorageTx) (Expiration, error)

	// ExpireRecords deletes every record whose deadline is <= now.
	ExpireRecords(stx StorageTx, now Expiration, callback func(key string)) (int, error)

	// TransactionWillEnd is called as the storage transaction ends; commit
	// reports whether its writes were committed.
	TransactionWillEnd(commit bool)

	// Compact drops index entries that no longer point at a live record.
	Compact(stx StorageTx) (int, error)
}

const (
	recordsBucket = "records"
	bySeqBucket   = "seq"
	byExpBucket   = "exp"
	metaBucket    = "meta"
)

var lastSeqKey = []byte("lastSeq")

// recordStore is a KeyStore holding one partition in four buckets:
//
//	records: docID => encoded value (see encvalue.go)
//	seq:     8-byte sequence => docID
//	exp:     8-byte deadline + docID => docID
//	meta:    lastSeq => 8-byte sequence counter
//
// Stores that share a sequence counter keep it in the owner's meta bucket.
type recordStore struct {
	name     string
	seqOwner *recordStore
	logger   *zap.Logger

	mu               sync.Mutex
	committedLastSeq Sequence
	pendingLastSeq   Sequence
	hasPending       bool
}

func newRecordStore(name string, logger *zap.Logger) *recordStore {
	s := &recordStore{name: name, logger: logger}
	s.seqOwner = s
	return s
}

// shareSequencesWith makes s draw sequences from other's counter, so that
// sequence order across both stores is total.
func (s *recordStore) shareSequencesWith(other *recordStore) {
	s.seqOwner = other.seqOwner
}

func (s *recordStore) Name() string { return s.name }

func (s *recordStore) prepare(stx StorageTx) error {
	for _, sub := range []string{recordsBucket, bySeqBucket, byExpBucket, metaBucket} {
		if _, err := ensureBucket(stx, s.name, sub); err != nil {
			return err
		}
	}
	if stx.Bucket(s.seqOwner.name, metaBucket) == nil {
		return nil // read-only view of an empty file
	}
	seq, err := s.LastSequence(stx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.committedLastSeq = seq
	s.mu.Unlock()
	return nil
}

func (s *recordStore) bucket(stx StorageTx, sub string) (StorageBucket, error) {
	b := stx.Bucket(s.name, sub)
	if b == nil {
		return nil, errf(CodeCorruptData, "%s: missing bucket %q", s.name, sub)
	}
	return b, nil
}

func seqKey(seq Sequence) []byte {
	return putUint64Key(make([]byte, 0, 8), uint64(seq))
}

func expKey(exp Expiration, key string) []byte {
	k := putUint64Key(make([]byte, 0, 8+len(key)), uint64(exp))
	return append(k, key...)
}

func (s *recordStore) readIn(records StorageBucket, key string, content ContentOption) (*Record, error) {
	data, err := records.Get([]byte(key))
	if err != nil {
		return nil, wrapStorageErr(err, "%s: read %q", s.name, key)
	} else if data == nil {
		return nil, nil
	}
	rec, err := decodeRecord(key, data, content)
	if err != nil {
		return nil, wrapStorageErr(err, "%s: decode %q", s.name, key)
	}
	return rec, nil
}

func (s *recordStore) Read(stx StorageTx, key string, content ContentOption) (*Record, error) {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return nil, err
	}
	return s.readIn(records, key, content)
}

func (s *recordStore) GetBySequence(stx StorageTx, seq Sequence, content ContentOption) (*Record, error) {
	seqB, err := s.bucket(stx, bySeqBucket)
	if err != nil {
		return nil, err
	}
	docID, err := seqB.Get(seqKey(seq))
	if err != nil {
		return nil, wrapStorageErr(err, "%s: read seq %d", s.name, seq)
	} else if docID == nil {
		return nil, nil
	}
	rec, err := s.Read(stx, string(docID), content)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Sequence != seq {
		return nil, nil // stale index entry
	}
	return rec, nil
}

func (s *recordStore) nextSequence(stx StorageTx) (Sequence, error) {
	o := s.seqOwner
	meta, err := o.bucket(stx, metaBucket)
	if err != nil {
		return 0, err
	}
	last, err := o.LastSequence(stx)
	if err != nil {
		return 0, err
	}
	seq := last + 1
	if err := meta.Put(lastSeqKey, seqKey(seq)); err != nil {
		return 0, wrapStorageErr(err, "%s: bump sequence", o.name)
	}
	o.mu.Lock()
	o.pendingLastSeq, o.hasPending = seq, true
	o.mu.Unlock()
	return seq, nil
}

func (s *recordStore) LastSequence(stx StorageTx) (Sequence, error) {
	o := s.seqOwner
	meta, err := o.bucket(stx, metaBucket)
	if err != nil {
		return 0, err
	}
	raw, err := meta.Get(lastSeqKey)
	if err != nil {
		return 0, wrapStorageErr(err, "%s: read sequence", o.name)
	}
	if raw == nil {
		return 0, nil
	}
	v, ok := uint64FromKey(raw)
	if !ok {
		return 0, wrapStorageErr(dataErrf(raw, 0, nil, "invalid sequence counter"), "%s", o.name)
	}
	return Sequence(v), nil
}

// committedLastSequence is the counter as of the last commit, readable
// without a transaction.
func (s *recordStore) committedLastSequence() Sequence {
	o := s.seqOwner
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committedLastSeq
}

func (s *recordStore) TransactionWillEnd(commit bool) {
	if s.seqOwner != s {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if commit && s.hasPending {
		s.committedLastSeq = s.pendingLastSeq
	}
	s.hasPending = false
}

func (s *recordStore) RecordCount(stx StorageTx) (int, error) {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return 0, err
	}
	return records.KeyCount(), nil
}

func (s *recordStore) Set(stx StorageTx, upd RecordUpdate, cond SeqCondition, newSequence bool) (Sequence, error) {
	if upd.Key == "" {
		return 0, errf(CodeInvalidParameter, "%s: empty key", s.name)
	}
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return 0, err
	}
	seqB, err := s.bucket(stx, bySeqBucket)
	if err != nil {
		return 0, err
	}
	existing, err := s.readIn(records, upd.Key, MetaOnly)
	if err != nil {
		return 0, err
	}
	if !cond.matches(existing) {
		return 0, nil
	}

	vle := value{
		DocFlags: upd.Flags,
		Version:  upd.Version,
		Body:     upd.Body,
	}
	if existing != nil {
		vle.Expiration = existing.Expiration
	}
	if newSequence || existing == nil {
		vle.Sequence, err = s.nextSequence(stx)
		if err != nil {
			return 0, err
		}
	} else {
		vle.Sequence = existing.Sequence
	}

	if err := records.Put([]byte(upd.Key), vle.encode(nil)); err != nil {
		return 0, wrapStorageErr(err, "%s: put %q", s.name, upd.Key)
	}
	if existing != nil && existing.Sequence != vle.Sequence {
		if err := seqB.Delete(seqKey(existing.Sequence)); err != nil {
			return 0, wrapStorageErr(err, "%s: unindex seq %d", s.name, existing.Sequence)
		}
	}
	if err := seqB.Put(seqKey(vle.Sequence), []byte(upd.Key)); err != nil {
		return 0, wrapStorageErr(err, "%s: index seq %d", s.name, vle.Sequence)
	}
	return vle.Sequence, nil
}

func (s *recordStore) Delete(stx StorageTx, key string, cond SeqCondition) (bool, error) {
	existing, err := s.Read(stx, key, MetaOnly)
	if err != nil || existing == nil {
		return false, err
	}
	if cond.Check && existing.Sequence != cond.Seq {
		return false, nil
	}
	if err := s.deleteRecord(stx, existing); err != nil {
		return false, err
	}
	return true, nil
}

func (s *recordStore) deleteRecord(stx StorageTx, rec *Record) error {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return err
	}
	if err := records.Delete([]byte(rec.Key)); err != nil {
		return wrapStorageErr(err, "%s: delete %q", s.name, rec.Key)
	}
	seqB, err := s.bucket(stx, bySeqBucket)
	if err != nil {
		return err
	}
	if err := seqB.Delete(seqKey(rec.Sequence)); err != nil {
		return wrapStorageErr(err, "%s: unindex seq %d", s.name, rec.Sequence)
	}
	if rec.Expiration != NoExpiration {
		expB, err := s.bucket(stx, byExpBucket)
		if err != nil {
			return err
		}
		if err := expB.Delete(expKey(rec.Expiration, rec.Key)); err != nil {
			return wrapStorageErr(err, "%s: unindex expiration of %q", s.name, rec.Key)
		}
	}
	return nil
}

// rewrite re-encodes a record in place; the sequence doesn't change.
func (s *recordStore) rewrite(stx StorageTx, rec *Record) error {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return err
	}
	vle := value{
		DocFlags:   rec.Flags,
		Sequence:   rec.Sequence,
		Expiration: rec.Expiration,
		Version:    rec.Version,
		Body:       rec.Body,
	}
	if err := records.Put([]byte(rec.Key), vle.encode(nil)); err != nil {
		return wrapStorageErr(err, "%s: put %q", s.name, rec.Key)
	}
	return nil
}

func (s *recordStore) SetDocumentFlag(stx StorageTx, key string, seq Sequence, flags DocumentFlags) (bool, error) {
	rec, err := s.Read(stx, key, EntireBody)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.Sequence != seq {
		return false, nil
	}
	if rec.Flags.Contains(flags) {
		return true, nil
	}
	rec.Flags |= flags & storedFlagsMask
	return true, s.rewrite(stx, rec)
}

func (s *recordStore) SetExpiration(stx StorageTx, key string, exp Expiration) (bool, error) {
	if exp < 0 {
		return false, errf(CodeInvalidParameter, "%s: negative expiration for %q", s.name, key)
	}
	rec, err := s.Read(stx, key, EntireBody)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.Expiration == exp {
		return true, nil
	}
	expB, err := s.bucket(stx, byExpBucket)
	if err != nil {
		return false, err
	}
	if rec.Expiration != NoExpiration {
		if err := expB.Delete(expKey(rec.Expiration, key)); err != nil {
			return false, wrapStorageErr(err, "%s: unindex expiration of %q", s.name, key)
		}
	}
	if exp != NoExpiration {
		if err := expB.Put(expKey(exp, key), []byte(key)); err != nil {
			return false, wrapStorageErr(err, "%s: index expiration of %q", s.name, key)
		}
	}
	rec.Expiration = exp
	return true, s.rewrite(stx, rec)
}

func (s *recordStore) GetExpiration(stx StorageTx, key string) (Expiration, error) {
	rec, err := s.Read(stx, key, MetaOnly)
	if err != nil || rec == nil {
		return NoExpiration, err
	}
	return rec.Expiration, nil
}

func (s *recordStore) NextExpiration(stx StorageTx) (Expiration, error) {
	expB, err := s.bucket(stx, byExpBucket)
	if err != nil {
		return NoExpiration, err
	}
	c := expB.Cursor()
	k, _ := c.First()
	if err := c.Err(); err != nil {
		return NoExpiration, wrapStorageErr(err, "%s: scan expirations", s.name)
	}
	if k == nil {
		return NoExpiration, nil
	}
	v, _ := uint64FromKey(k)
	return Expiration(v), nil
}

func (s *recordStore) ExpireRecords(stx StorageTx, now Expiration, callback func(key string)) (int, error) {
	e, err := s.NewEnumerator(stx, ByExpiration, 0, RecordEnumeratorOptions{ExpiresBy: now})
	if err != nil {
		return 0, err
	}
	var expired []*Record
	for e.Next() {
		expired = append(expired, e.Record())
	}
	e.Close()
	if err := e.Err(); err != nil {
		return 0, err
	}

	for _, rec := range expired {
		if err := s.deleteRecord(stx, rec); err != nil {
			return 0, err
		}
		if callback != nil {
			callback(rec.Key)
		}
	}
	if len(expired) > 0 {
		s.logger.Debug("expired records", zap.String("store", s.name), zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (s *recordStore) NewEnumerator(stx StorageTx, order EnumOrder, since Sequence, opts RecordEnumeratorOptions) (RecordEnumerator, error) {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return nil, err
	}
	var rang RawRange
	var idx StorageBucket
	switch order {
	case ByKey:
		idx = records
		if opts.StartKey != "" {
			rang.Lower, rang.LowerInc = []byte(opts.StartKey), !opts.ExclusiveStart
		}
		if opts.EndKey != "" {
			rang.Upper, rang.UpperInc = []byte(opts.EndKey), !opts.ExclusiveEnd
		}
	case BySequence:
		idx, err = s.bucket(stx, bySeqBucket)
		rang = RawIO(seqKey(since + 1))
	case ByExpiration:
		idx, err = s.bucket(stx, byExpBucket)
		rang = RawIO(seqKey(1))
		if opts.ExpiresBy != NoExpiration {
			rang.Upper, rang.UpperInc = seqKey(Sequence(opts.ExpiresBy)+1), false
		}
	default:
		return nil, errf(CodeInvalidParameter, "%s: invalid enumeration order %d", s.name, order)
	}
	if err != nil {
		return nil, err
	}
	rang.Reverse = opts.Descending
	return &storeEnumerator{
		store:   s,
		order:   order,
		content: opts.Content,
		records: records,
		cur:     rang.newCursor(idx.Cursor(), s.logger),
	}, nil
}

func (s *recordStore) Compact(stx StorageTx) (int, error) {
	records, err := s.bucket(stx, recordsBucket)
	if err != nil {
		return 0, err
	}
	var n int
	for _, sub := range []string{bySeqBucket, byExpBucket} {
		idx, err := s.bucket(stx, sub)
		if err != nil {
			return n, err
		}
		var orphans [][]byte
		c := idx.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := s.readIn(records, string(v), MetaOnly)
			if err != nil {
				return n, err
			}
			num, _ := uint64FromKey(k)
			switch {
			case rec == nil:
			case sub == bySeqBucket && rec.Sequence == Sequence(num):
				continue
			case sub == byExpBucket && rec.Expiration == Expiration(num) && bytes.Equal(k[8:], v):
				continue
			}
			orphans = append(orphans, bytes.Clone(k))
		}
		if err := c.Err(); err != nil {
			return n, wrapStorageErr(err, "%s: scan %s", s.name, sub)
		}
		for _, k := range orphans {
			if err := idx.Delete(k); err != nil {
				return n, wrapStorageErr(err, "%s: delete orphan from %s", s.name, sub)
			}
			n++
		}
	}
	if n > 0 {
		s.logger.Info("dropped orphaned index entries", zap.String("store", s.name), zap.Int("count", n))
	}
	return n, nil
}

func (s *recordStore) stats(stx StorageTx) (PartitionStats, error) {
	var ps PartitionStats
	for _, sub := range []string{recordsBucket, bySeqBucket, byExpBucket} {
		b, err := s.bucket(stx, sub)
		if err != nil {
			return ps, err
		}
		bs := b.Stats()
		switch sub {
		case recordsBucket:
			ps.Records = bs.KeyN
			ps.DataSize = bs.LeafInuse
			ps.DataAlloc = bs.TotalAlloc()
		case bySeqBucket:
			ps.SequenceEntries = bs.KeyN
		case byExpBucket:
			ps.ExpirationEntries = bs.KeyN
		}
		ps.IndexSize += bs.LeafInuse
	}
	ps.IndexSize -= ps.DataSize
	return ps, nil
}
