package docstore

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/docstore/journal"
	"go.uber.org/zap"
)

const trackTxns = true

const (
	liveStoreName = "docs"
	deadStoreName = "docs.deleted"

	DefaultMaxRevTreeDepth = 20
)

// Backend names a physical storage engine.
type Backend string

const (
	BoltBackend   Backend = "bolt"
	BadgerBackend Backend = "badger"
	MemoryBackend Backend = "memory"
)

type Options struct {
	// Backend selects the storage engine; the default is Bolt.
	Backend Backend

	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	ReadOnly  bool

	// MaxRevTreeDepth is the pruning depth used when Save or Put is given 0.
	MaxRevTreeDepth int

	// Clock returns the current time for expiration; defaults to time.Now.
	Clock func() time.Time

	// JournalDir, if set, enables the change journal: every committed
	// transaction's changes are appended to segment files in this directory.
	JournalDir string
}

// DB is a multi-revision document store.
//
// The DB has at most one open write transaction, shared by all callers
// (see BeginTransaction). While it is open, every call made through the DB
// runs inside it, one call at a time, and sees its uncommitted writes; that
// includes calls from other goroutines. Use CommittedView to read only
// committed state. Without an open transaction, each write runs in an
// implicit transaction of its own.
type DB struct {
	storage  Storage
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	verbose  bool
	readOnly bool
	maxDepth int
	clock    func() time.Time
	journal  *journal.Journal

	live *recordStore
	dead *recordStore
	docs *bothKeyStore

	mu        sync.Mutex // guards the transaction state below
	txDepth   int
	txAborted bool
	tx        *Tx

	// useMu is held while a call runs on the open transaction, and by
	// EndTransaction while it commits or rolls back.
	useMu sync.Mutex

	changeHandlers []func([]Change)
	handlersLock   sync.Mutex

	closed     atomic.Bool
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

// Open opens the database at path with the backend chosen in opt. The memory
// backend ignores path; Badger with an empty path runs in memory too.
func Open(path string, opt Options) (*DB, error) {
	var st Storage
	var err error
	switch opt.Backend {
	case BoltBackend, "":
		st, err = OpenBoltStorage(path, opt)
	case BadgerBackend:
		st, err = OpenBadgerStorage(path, opt)
	case MemoryBackend:
		st = NewMemStorage()
	default:
		return nil, errf(CodeInvalidParameter, "unknown backend %q", opt.Backend)
	}
	if err != nil {
		return nil, err
	}
	db, err := OpenStorage(st, opt)
	if err != nil {
		st.Close()
		return nil, err
	}
	return db, nil
}

// OpenStorage opens a database on an already opened Storage. The DB takes
// ownership of st.
func OpenStorage(st Storage, opt Options) (*DB, error) {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	db := &DB{
		storage:  st,
		logger:   logger,
		sugar:    logger.Sugar(),
		verbose:  opt.Verbose,
		readOnly: opt.ReadOnly,
		maxDepth: opt.MaxRevTreeDepth,
		clock:    opt.Clock,
	}
	if db.maxDepth <= 0 {
		db.maxDepth = DefaultMaxRevTreeDepth
	}
	if db.clock == nil {
		db.clock = time.Now
	}

	db.live = newRecordStore(liveStoreName, logger)
	db.dead = newRecordStore(deadStoreName, logger)
	db.dead.shareSequencesWith(db.live)
	db.docs = newBothKeyStore(db.live, db.dead, logger)

	stx, err := st.BeginTx(!db.readOnly)
	if err != nil {
		return nil, wrapStorageErr(err, "begin")
	}
	defer stx.Rollback()
	for _, ks := range []*recordStore{db.live, db.dead} {
		if err := ks.prepare(stx); err != nil {
			return nil, err
		}
	}
	if !db.readOnly {
		if _, err := ensureBucket(stx, archiveBucket, archiveSub); err != nil {
			return nil, err
		}
		if err := stx.Commit(); err != nil {
			return nil, wrapStorageErr(err, "commit")
		}
		if opt.JournalDir != "" {
			if err := db.openJournal(opt.JournalDir); err != nil {
				return nil, err
			}
		}
	}
	return db, nil
}

func (db *DB) Storage() Storage { return db.storage }

func (db *DB) Logger() *zap.Logger { return db.logger }

// Close closes the database. It fails with ErrTransactionNotClosed while a
// transaction is open.
func (db *DB) Close() error {
	db.mu.Lock()
	depth := db.txDepth
	db.mu.Unlock()
	if depth > 0 {
		return errf(CodeTransactionNotClosed, "close")
	}
	if db.closed.Swap(true) {
		return nil
	}
	jerr := db.closeJournal()
	if err := db.storage.Close(); err != nil {
		return wrapStorageErr(err, "close")
	}
	if jerr != nil {
		return wrapErrf(CodeIOError, jerr, "journal")
	}
	return nil
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrNotOpen
	}
	return nil
}

// LastSequence returns the latest sequence assigned, including uncommitted
// writes of the open transaction.
func (db *DB) LastSequence() (Sequence, error) {
	var seq Sequence
	err := db.view(func(stx StorageTx) (err error) {
		seq, err = db.docs.LastSequence(stx)
		return
	})
	return seq, err
}

// DocumentCount returns the number of non-deleted documents.
func (db *DB) DocumentCount() (int, error) {
	var n int
	err := db.view(func(stx StorageTx) (err error) {
		n, err = db.docs.RecordCount(stx)
		return
	})
	return n, err
}

// logf writes a verbose operation trace line.
func (db *DB) logf(format string, args ...any) {
	db.sugar.Debugf(format, args...)
}

func (db *DB) now() Expiration {
	return ExpirationFromTime(db.clock())
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		return
	}
	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil
	db.txns = db.txns[:n-1]
}

// DescribeOpenTxns lists the storage transactions currently open, oldest
// first, with the stack that opened each long-running one.
func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		kind := "read"
		if tx.stx.Writable() {
			kind = "write"
		}
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms\n", kind, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms:\n%s", kind, ms, tx.stack)
		}
	}

	return buf.String()
}
