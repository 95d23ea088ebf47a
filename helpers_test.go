package docstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/docstore/revtree"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testBackends = []Backend{BoltBackend, BadgerBackend, MemoryBackend}

// testStart is the initial time of every test clock.
var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testDB struct {
	*DB
	T     testing.TB
	Clock *testClock
	Path  string
}

// forEachBackend runs f as a subtest against a fresh database on every
// storage backend.
func forEachBackend(t *testing.T, f func(t *testing.T, db *testDB)) {
	for _, b := range testBackends {
		t.Run(string(b), func(t *testing.T) {
			f(t, openTestDB(t, b, Options{}))
		})
	}
}

func openTestDB(t testing.TB, backend Backend, opt Options) *testDB {
	tdb := &testDB{T: t, Clock: &testClock{now: testStart}}
	switch backend {
	case BoltBackend:
		tdb.Path = filepath.Join(t.TempDir(), "test.db")
	case BadgerBackend:
		tdb.Path = "" // in memory
	}
	opt.Backend = backend
	opt.IsTesting = true
	opt.Verbose = true
	if opt.Logger == nil {
		opt.Logger = zaptest.NewLogger(t)
	}
	if opt.Clock == nil {
		opt.Clock = tdb.Clock.Now
	}
	db, err := Open(tdb.Path, opt)
	require.NoError(t, err)
	tdb.DB = db
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return tdb
}

// putNew stores a new revision of docID whose parent is parentRev ("" for
// a new document) and returns the saved document.
func (db *testDB) putNew(docID string, parentRev revtree.RevID, body string) *Document {
	db.T.Helper()
	rq := &PutRequest{DocID: docID, Body: []byte(body), Save: true}
	if parentRev != "" {
		rq.History = []revtree.RevID{parentRev}
	}
	doc, _, err := db.Put(rq)
	require.NoError(db.T, err)
	return doc
}

// putExisting stores revisions with given IDs, newest first.
func (db *testDB) putExisting(docID, body string, deleted bool, history ...revtree.RevID) *Document {
	db.T.Helper()
	doc, _, err := db.Put(&PutRequest{
		DocID:            docID,
		Body:             []byte(body),
		Deletion:         deleted,
		ExistingRevision: true,
		History:          history,
		Save:             true,
	})
	require.NoError(db.T, err)
	return doc
}

func (db *testDB) deleteDoc(docID string, parentRev revtree.RevID) *Document {
	db.T.Helper()
	doc, _, err := db.Put(&PutRequest{
		DocID:    docID,
		Deletion: true,
		History:  []revtree.RevID{parentRev},
		Save:     true,
	})
	require.NoError(db.T, err)
	return doc
}

func (db *testDB) get(docID string) *Document {
	db.T.Helper()
	doc, err := db.Get(docID, true)
	require.NoError(db.T, err)
	return doc
}

// partitionOf returns "live", "dead", "both" or "" depending on where docID
// is stored.
func (db *testDB) partitionOf(docID string) string {
	db.T.Helper()
	var live, dead *Record
	require.NoError(db.T, db.view(func(stx StorageTx) (err error) {
		if live, err = db.live.Read(stx, docID, MetaOnly); err != nil {
			return err
		}
		dead, err = db.dead.Read(stx, docID, MetaOnly)
		return err
	}))
	switch {
	case live != nil && dead != nil:
		return "both"
	case live != nil:
		return "live"
	case dead != nil:
		return "dead"
	default:
		return ""
	}
}

// collectIDs drains an enumerator into its document IDs. It is curried so
// that an enumerator constructor can be passed straight in:
// collectIDs(t)(db.EnumerateAllDocs(...)).
func collectIDs(t testing.TB) func(e *DocEnumerator, err error) []string {
	return func(e *DocEnumerator, err error) []string {
		t.Helper()
		require.NoError(t, err)
		defer e.Close()
		ids := []string{}
		for e.Next() {
			ids = append(ids, e.Info().DocID)
		}
		require.NoError(t, e.Err())
		return ids
	}
}

func collectSeqs(t testing.TB) func(e *DocEnumerator, err error) []Sequence {
	return func(e *DocEnumerator, err error) []Sequence {
		t.Helper()
		require.NoError(t, err)
		defer e.Close()
		seqs := []Sequence{}
		for e.Next() {
			seqs = append(seqs, e.Info().Sequence)
		}
		require.NoError(t, e.Err())
		return seqs
	}
}

func requireCode(t testing.TB, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	domain, actual := ErrorCodeOf(err)
	require.Equal(t, DocStoreDomain, domain, "domain of %v", err)
	require.Equal(t, code, actual, "code of %v", err)
}
