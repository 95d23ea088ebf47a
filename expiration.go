package docstore

import (
	"time"

	"go.uber.org/zap"
)

// SetExpiration sets the time after which the document is purged, or with a
// zero t cancels it. Fails with ErrNotFound for a missing document.
func (db *DB) SetExpiration(docID string, t time.Time) error {
	exp := ExpirationFromTime(t)
	return db.update(func(tx *Tx) error {
		ok, err := db.docs.SetExpiration(tx.stx, docID, exp)
		if err != nil {
			return err
		}
		if !ok {
			if db.verbose {
				db.logf("db: EXPIRE.NOTFOUND %s", docID)
			}
			return errf(CodeNotFound, "%s", docID)
		}
		if db.verbose {
			db.logf("db: EXPIRE %s at %v", docID, exp)
		}
		return nil
	})
}

// GetExpiration returns the document's deadline, or NoExpiration.
func (db *DB) GetExpiration(docID string) (Expiration, error) {
	var exp Expiration
	err := db.view(func(stx StorageTx) (err error) {
		exp, err = db.docs.GetExpiration(stx, docID)
		return
	})
	return exp, err
}

// NextDocExpiration returns the earliest deadline of any document, or
// NoExpiration.
func (db *DB) NextDocExpiration() (Expiration, error) {
	var exp Expiration
	err := db.view(func(stx StorageTx) (err error) {
		exp, err = db.docs.NextExpiration(stx)
		return
	})
	return exp, err
}

// ExpiryEnumerator walks documents whose deadline has passed, earliest
// first, and can then purge the ones it has walked.
type ExpiryEnumerator struct {
	db     *DB
	now    Expiration
	tx     *Tx
	shared sharedTx
	recs   RecordEnumerator

	seen   []string
	cur    *Record
	err    error
	closed bool
}

// EnumerateExpired starts walking documents that expire at or before now.
// A zero now means the current time.
func (db *DB) EnumerateExpired(now time.Time) (*ExpiryEnumerator, error) {
	e := &ExpiryEnumerator{db: db, now: db.now(), shared: sharedTx{db: db}}
	if !now.IsZero() {
		e.now = ExpirationFromTime(now)
	}
	var stx StorageTx
	if tx := db.acquireTx(); tx != nil {
		e.shared.tx, stx = tx, tx.stx
		defer db.useMu.Unlock()
	} else {
		tx, err := db.beginTx(false)
		if err != nil {
			return nil, err
		}
		e.tx, stx = tx, tx.stx
	}
	recs, err := db.docs.NewEnumerator(stx, ByExpiration, 0, RecordEnumeratorOptions{ExpiresBy: e.now})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.recs = recs
	return e, nil
}

func (e *ExpiryEnumerator) Next() bool {
	e.cur = nil
	if e.closed || e.err != nil {
		return false
	}
	if err := e.shared.lock(); err != nil {
		e.err = err
		return false
	}
	defer e.shared.unlock()
	if !e.recs.Next() {
		e.err = e.recs.Err()
		return false
	}
	e.cur = e.recs.Record()
	e.seen = append(e.seen, e.cur.Key)
	return true
}

func (e *ExpiryEnumerator) DocID() string {
	if e.cur == nil {
		return ""
	}
	return e.cur.Key
}

func (e *ExpiryEnumerator) Expiration() Expiration {
	if e.cur == nil {
		return NoExpiration
	}
	return e.cur.Expiration
}

func (e *ExpiryEnumerator) Err() error { return e.err }

// PurgeExpired deletes every document walked so far whose deadline is still
// due, in one transaction, and closes the enumerator. It returns the number
// of documents purged.
func (e *ExpiryEnumerator) PurgeExpired() (int, error) {
	seen := e.seen
	e.seen = nil
	e.Close()
	if len(seen) == 0 {
		return 0, nil
	}
	db := e.db
	var n int
	err := db.update(func(tx *Tx) error {
		for _, docID := range seen {
			exp, err := db.docs.GetExpiration(tx.stx, docID)
			if err != nil {
				return err
			}
			if exp == NoExpiration || exp > e.now {
				continue
			}
			ok, err := db.docs.Delete(tx.stx, docID, Unconditional)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := db.expired(tx, docID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (e *ExpiryEnumerator) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.cur = nil
	if e.recs != nil {
		e.recs.Close()
	}
	if e.tx != nil {
		e.tx.rollback()
	}
}

// PurgeExpiredDocs deletes every document whose deadline is at or before
// now (a zero now means the current time) and returns how many there were.
func (db *DB) PurgeExpiredDocs(now time.Time) (int, error) {
	exp := db.now()
	if !now.IsZero() {
		exp = ExpirationFromTime(now)
	}
	var n int
	err := db.update(func(tx *Tx) error {
		var purged []string
		var err error
		n, err = db.docs.ExpireRecords(tx.stx, exp, func(docID string) {
			purged = append(purged, docID)
		})
		if err != nil {
			return err
		}
		for _, docID := range purged {
			if err := db.expired(tx, docID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		db.logger.Info("purged expired documents", zap.Int("count", n), zap.Stringer("now", exp))
	}
	return n, nil
}

// expired cleans up after a document removed by expiration.
func (db *DB) expired(tx *Tx, docID string) error {
	if err := db.dropArchivedBodies(tx.stx, docID); err != nil {
		return err
	}
	if err := db.forgetRemoteRevisions(tx.stx, docID); err != nil {
		return err
	}
	if db.verbose {
		db.logf("db: EXPIRED %s", docID)
	}
	tx.addChange(Change{DocID: docID, Op: OpExpire})
	return nil
}
