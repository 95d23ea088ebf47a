package docstore

import (
	"github.com/andreyvit/docstore/revtree"
)

type EnumeratorOptions struct {
	Skip           int
	Descending     bool
	ExclusiveStart bool
	ExclusiveEnd   bool
	IncludeDeleted bool
	OnlyConflicts  bool

	// IncludeBodies reads revision trees up front; otherwise Document
	// loads them lazily.
	IncludeBodies bool
}

var DefaultEnumeratorOptions = EnumeratorOptions{IncludeBodies: true}

// DocumentInfo is the metadata of a document, available without decoding
// its revision tree.
type DocumentInfo struct {
	DocID      string
	RevID      revtree.RevID
	Flags      DocumentFlags
	Sequence   Sequence
	Expiration Expiration
	BodySize   int
}

// DocEnumerator iterates over documents. Outside a transaction it holds a
// read transaction until closed.
//
// With the bolt backend, close enumerators before writing from the same
// goroutine.
type DocEnumerator struct {
	db     *DB
	opts   EnumeratorOptions
	tx     *Tx // owned read transaction, nil inside a write transaction
	shared sharedTx

	recs RecordEnumerator // nil when walking ids
	ids  []string
	stx  StorageTx

	rec     *Record
	skipped int
	err     error
	closed  bool
}

func (opts *EnumeratorOptions) orDefault() EnumeratorOptions {
	if opts == nil {
		return DefaultEnumeratorOptions
	}
	return *opts
}

func (o EnumeratorOptions) content() ContentOption {
	if o.IncludeBodies {
		return EntireBody
	}
	return MetaOnly
}

func (db *DB) newDocEnumerator(opts *EnumeratorOptions) (*DocEnumerator, error) {
	e := &DocEnumerator{db: db, opts: opts.orDefault()}
	if e.opts.Skip < 0 {
		return nil, errf(CodeInvalidParameter, "negative skip")
	}
	e.shared.db = db
	if tx := db.acquireTx(); tx != nil {
		e.shared.tx, e.stx = tx, tx.stx
		db.useMu.Unlock()
	} else {
		tx, err := db.beginTx(false)
		if err != nil {
			return nil, err
		}
		e.tx, e.stx = tx, tx.stx
	}
	return e, nil
}

func (e *DocEnumerator) start(order EnumOrder, since Sequence, startKey, endKey string) error {
	if err := e.shared.lock(); err != nil {
		e.Close()
		return err
	}
	defer e.shared.unlock()
	recs, err := e.db.docs.NewEnumerator(e.stx, order, since, RecordEnumeratorOptions{
		Content:        e.opts.content(),
		IncludeDeleted: e.opts.IncludeDeleted,
		Descending:     e.opts.Descending,
		StartKey:       startKey,
		EndKey:         endKey,
		ExclusiveStart: e.opts.ExclusiveStart,
		ExclusiveEnd:   e.opts.ExclusiveEnd,
	})
	if err != nil {
		e.Close()
		return err
	}
	e.recs = recs
	return nil
}

// EnumerateAllDocs iterates over documents by ID between startKey and
// endKey, either of which may be empty for an open end. In descending order
// startKey is the upper bound.
func (db *DB) EnumerateAllDocs(startKey, endKey string, opts *EnumeratorOptions) (*DocEnumerator, error) {
	e, err := db.newDocEnumerator(opts)
	if err != nil {
		return nil, err
	}
	lo, hi := startKey, endKey
	if e.opts.Descending {
		lo, hi = endKey, startKey
		e.opts.ExclusiveStart, e.opts.ExclusiveEnd = e.opts.ExclusiveEnd, e.opts.ExclusiveStart
	}
	if err := e.start(ByKey, 0, lo, hi); err != nil {
		return nil, err
	}
	return e, nil
}

// EnumerateChanges iterates over documents saved after since, in sequence
// order. Each document appears once, at its latest sequence.
func (db *DB) EnumerateChanges(since Sequence, opts *EnumeratorOptions) (*DocEnumerator, error) {
	e, err := db.newDocEnumerator(opts)
	if err != nil {
		return nil, err
	}
	if err := e.start(BySequence, since, "", ""); err != nil {
		return nil, err
	}
	return e, nil
}

// EnumerateSomeDocs iterates over the given IDs in order. Deleted documents
// are always included; a missing one yields a placeholder with sequence 0.
func (db *DB) EnumerateSomeDocs(docIDs []string, opts *EnumeratorOptions) (*DocEnumerator, error) {
	e, err := db.newDocEnumerator(opts)
	if err != nil {
		return nil, err
	}
	e.ids = docIDs
	return e, nil
}

func (e *DocEnumerator) Next() bool {
	if e.closed || e.err != nil {
		return false
	}
	if err := e.shared.lock(); err != nil {
		e.err = err
		return false
	}
	defer e.shared.unlock()
	for {
		e.rec = nil
		if !e.advance() {
			return false
		}
		if e.opts.OnlyConflicts && !e.rec.Flags.Contains(DocConflicted) {
			continue
		}
		if e.skipped < e.opts.Skip {
			e.skipped++
			continue
		}
		return true
	}
}

func (e *DocEnumerator) advance() bool {
	if e.recs != nil {
		if !e.recs.Next() {
			e.err = e.recs.Err()
			return false
		}
		e.rec = e.recs.Record()
		return true
	}
	if len(e.ids) == 0 {
		return false
	}
	id := e.ids[0]
	e.ids = e.ids[1:]
	rec, err := e.db.docs.Read(e.stx, id, e.opts.content())
	if err != nil {
		e.err = err
		return false
	}
	if rec == nil {
		rec = &Record{Key: id}
	}
	e.rec = rec
	return true
}

// Info describes the current document.
func (e *DocEnumerator) Info() DocumentInfo {
	rec := e.rec
	if rec == nil {
		return DocumentInfo{}
	}
	info := DocumentInfo{
		DocID:      rec.Key,
		RevID:      revtree.RevID(rec.Version),
		Flags:      rec.Flags,
		Sequence:   rec.Sequence,
		Expiration: rec.Expiration,
		BodySize:   rec.BodySize,
	}
	if rec.Sequence > 0 {
		info.Flags |= DocExists
	}
	return info
}

// Document returns the current document. Placeholders for missing IDs come
// back as empty Documents.
func (e *DocEnumerator) Document() (*Document, error) {
	rec := e.rec
	if rec == nil {
		return nil, errf(CodeNotFound, "enumerator has no current document")
	}
	if rec.Sequence == 0 {
		return newDocument(e.db, rec.Key), nil
	}
	return e.db.documentFromRecord(rec, e.opts.content())
}

func (e *DocEnumerator) Err() error { return e.err }

func (e *DocEnumerator) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.rec = nil
	if e.recs != nil {
		e.recs.Close()
	}
	if e.tx != nil {
		e.tx.rollback()
	}
}
