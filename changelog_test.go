package docstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/docstore/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journaledBatch struct {
	ts      time.Time
	changes []Change
}

func readJournal(t testing.TB, db *DB) []journaledBatch {
	t.Helper()
	var batches []journaledBatch
	require.NoError(t, db.ReadJournal(func(ts time.Time, changes []Change) error {
		batches = append(batches, journaledBatch{ts, changes})
		return nil
	}))
	return batches
}

func TestChangeJournal(t *testing.T) {
	for _, backend := range testBackends {
		t.Run(string(backend), func(t *testing.T) {
			testChangeJournal(t, backend)
		})
	}
}

func testChangeJournal(t *testing.T, backend Backend) {
	dir := t.TempDir()
	db := openTestDB(t, backend, Options{JournalDir: dir})

	d := db.putNew("a", "", `{}`)
	db.Clock.Advance(time.Minute)
	require.NoError(t, db.InTransaction(func() error {
		db.putNew("b", "", `{}`)
		db.deleteDoc("a", d.RevID())
		return nil
	}))
	require.NoError(t, db.BeginTransaction())
	db.putNew("c", "", `{}`)
	require.NoError(t, db.EndTransaction(false))

	batches := readJournal(t, db.DB)
	require.Len(t, batches, 2)
	assert.Equal(t, testStart.Unix(), batches[0].ts.Unix())
	assert.Equal(t, []Change{{DocID: "a", RevID: d.RevID(), Sequence: 1, Op: OpPut}}, batches[0].changes)
	assert.Equal(t, testStart.Add(time.Minute).Unix(), batches[1].ts.Unix())
	require.Len(t, batches[1].changes, 2)
	assert.Equal(t, OpDelete, batches[1].changes[1].Op)

	var n int
	require.NoError(t, db.ReadJournal(func(time.Time, []Change) error {
		n++
		return journal.ErrStop
	}))
	assert.Equal(t, 1, n)

	files, err := filepath.Glob(filepath.Join(dir, "changes-*.wal"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestChangeJournal_survivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path, Options{IsTesting: true, JournalDir: dir})
	require.NoError(t, err)
	_, _, err = db.Put(&PutRequest{DocID: "a", Body: []byte(`{}`), Save: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, Options{IsTesting: true, JournalDir: dir})
	require.NoError(t, err)
	defer db.Close()
	_, _, err = db.Put(&PutRequest{DocID: "b", Body: []byte(`{}`), Save: true})
	require.NoError(t, err)

	var ids []string
	for _, b := range readJournal(t, db) {
		for _, c := range b.changes {
			ids = append(ids, c.DocID)
		}
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestChangeJournal_disabled(t *testing.T) {
	db := openTestDB(t, MemoryBackend, Options{})
	db.putNew("a", "", `{}`)
	err := db.ReadJournal(func(time.Time, []Change) error { return nil })
	requireCode(t, err, CodeUnsupported)
}
