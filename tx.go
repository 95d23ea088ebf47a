package docstore

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Tx is one storage transaction. Write transactions collect the changes
// they make, which are announced to OnChange handlers after commit.
type Tx struct {
	db        *DB
	stx       StorageTx
	startTime time.Time
	stack     string
	changes   []Change
	closed    bool
	failed    bool // a write was left half done; the tx can only roll back
}

func (db *DB) beginTx(writable bool) (*Tx, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	stx, err := db.storage.BeginTx(writable)
	if err != nil {
		return nil, wrapStorageErr(err, "begin")
	}
	tx := &Tx{
		db:        db,
		stx:       stx,
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
		db.addTx(tx)
	}
	if writable {
		db.WriteCount.Add(1)
	} else {
		db.ReadCount.Add(1)
	}
	return tx, nil
}

func (tx *Tx) Writable() bool { return tx.stx.Writable() }

func (tx *Tx) addChange(chg Change) {
	tx.changes = append(tx.changes, chg)
}

func (tx *Tx) commit() ([]Change, error) {
	if tx.closed {
		return nil, nil
	}
	tx.closed = true
	defer tx.db.removeTx(tx)
	err := tx.stx.Commit()
	tx.db.docs.TransactionWillEnd(err == nil)
	if err != nil {
		tx.stx.Rollback()
		return nil, wrapErrf(CodeCommitFailed, wrapStorageErr(err, ""), "commit")
	}
	return tx.changes, nil
}

// rollback discards the transaction; calling it after commit does nothing.
func (tx *Tx) rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	defer tx.db.removeTx(tx)
	if tx.stx.Writable() {
		tx.db.docs.TransactionWillEnd(false)
	}
	if err := tx.stx.Rollback(); err != nil {
		tx.db.logger.Warn("rollback failed", zap.Error(err))
	}
}

// BeginTransaction opens a write transaction, or joins the one already open.
// Every BeginTransaction must be balanced by EndTransaction; only the
// outermost EndTransaction commits, and it rolls back instead if any level
// ended with commit=false.
func (db *DB) BeginTransaction() error {
	if db.readOnly {
		return errf(CodeNotWriteable, "begin transaction")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.txDepth == 0 {
		tx, err := db.beginTx(true)
		if err != nil {
			return err
		}
		db.tx = tx
		db.txAborted = false
	}
	db.txDepth++
	return nil
}

// EndTransaction closes one level of transaction nesting.
func (db *DB) EndTransaction(commit bool) error {
	db.mu.Lock()
	if db.txDepth == 0 {
		db.mu.Unlock()
		return errf(CodeNotInTransaction, "end transaction")
	}
	if !commit {
		db.txAborted = true
	}
	db.txDepth--
	if db.txDepth > 0 {
		db.mu.Unlock()
		return nil
	}
	tx, aborted := db.tx, db.txAborted
	db.tx = nil
	db.mu.Unlock()

	// Wait for calls still running on tx.
	db.useMu.Lock()
	changes, err := db.finishTx(tx, !aborted)
	db.useMu.Unlock()
	if err != nil {
		return err
	}
	db.announce(changes)
	return nil
}

// finishTx commits or rolls back tx. A commit of a failed tx rolls back and
// reports ErrCommitFailed.
func (db *DB) finishTx(tx *Tx, commit bool) ([]Change, error) {
	if !commit || tx.failed {
		if db.verbose {
			db.logger.Debug("db: ROLLBACK", zap.Int("changes", len(tx.changes)))
		}
		tx.rollback()
		if commit {
			return nil, errf(CodeCommitFailed, "rolled back after a failed write")
		}
		return nil, nil
	}
	changes, err := tx.commit()
	if err != nil {
		return nil, err
	}
	if db.verbose {
		db.logger.Debug("db: COMMIT", zap.Int("changes", len(changes)))
	}
	return changes, nil
}

// announce journals committed changes and passes them to OnChange handlers.
func (db *DB) announce(changes []Change) {
	db.logChanges(changes)
	db.notify(changes)
}

func (db *DB) IsInTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.txDepth > 0
}

// InTransaction runs f inside a transaction level, committing it if f
// returns nil. A panic in f is returned as an error.
func (db *DB) InTransaction(f func() error) error {
	if err := db.BeginTransaction(); err != nil {
		return err
	}
	err := safelyCall(f)
	if endErr := db.EndTransaction(err == nil); err == nil {
		err = endErr
	}
	return err
}

func (db *DB) currentTx() *Tx {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tx
}

// acquireTx returns the open transaction with db.useMu held, or nil if there
// is none. The caller unlocks db.useMu when done with the transaction.
func (db *DB) acquireTx() *Tx {
	db.useMu.Lock()
	if tx := db.currentTx(); tx != nil && !tx.closed {
		return tx
	}
	db.useMu.Unlock()
	return nil
}

// view runs f in the open transaction, or in a short read-only one.
func (db *DB) view(f func(stx StorageTx) error) error {
	if tx := db.acquireTx(); tx != nil {
		defer db.useMu.Unlock()
		return f(tx.stx)
	}
	return db.viewCommitted(f)
}

func (db *DB) viewCommitted(f func(stx StorageTx) error) error {
	tx, err := db.beginTx(false)
	if err != nil {
		return err
	}
	defer tx.rollback()
	return f(tx.stx)
}

// update runs f in the open transaction, or in an implicit one of its own
// that commits if f succeeds.
func (db *DB) update(f func(tx *Tx) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if tx := db.acquireTx(); tx != nil {
		defer db.useMu.Unlock()
		return f(tx)
	}
	if db.readOnly {
		return errf(CodeNotWriteable, "write")
	}
	tx, err := db.beginTx(true)
	if err != nil {
		return err
	}
	if err := safelyCall(func() error { return f(tx) }); err != nil {
		tx.rollback()
		return err
	}
	changes, err := db.finishTx(tx, true)
	if err != nil {
		return err
	}
	db.announce(changes)
	return nil
}

// sharedTx is the open transaction as held by an enumerator, which uses it
// across many calls. lock must bracket every storage access.
type sharedTx struct {
	db *DB
	tx *Tx // nil when the enumerator owns its own read transaction
}

func (s sharedTx) lock() error {
	if s.tx == nil {
		return nil
	}
	s.db.useMu.Lock()
	if s.tx.closed {
		s.db.useMu.Unlock()
		return errf(CodeNotInTransaction, "transaction ended during enumeration")
	}
	return nil
}

func (s sharedTx) unlock() {
	if s.tx != nil {
		s.db.useMu.Unlock()
	}
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn()
}
