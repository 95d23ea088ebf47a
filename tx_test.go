package docstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndTransaction_withoutBegin(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		requireCode(t, db.EndTransaction(true), CodeNotInTransaction)
		assert.True(t, errors.Is(db.EndTransaction(false), ErrNotInTransaction))
	})
}

func TestInTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		err := db.InTransaction(func() error {
			db.putNew("a", "", `{}`)
			return db.InTransaction(func() error {
				db.putNew("b", "", `{}`)
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, collectIDs(t)(db.EnumerateAllDocs("", "", nil)))

		failure := errors.New("nope")
		err = db.InTransaction(func() error {
			db.putNew("c", "", `{}`)
			return failure
		})
		assert.Same(t, failure, err)
		assert.False(t, db.IsInTransaction())
		_, err = db.Get("c", true)
		requireCode(t, err, CodeNotFound)
	})
}

func TestInTransaction_panic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		err := db.InTransaction(func() error {
			db.putNew("a", "", `{}`)
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.False(t, db.IsInTransaction())

		n, err := db.DocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestOnChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		var batches [][]Change
		db.OnChange(func(changes []Change) {
			batches = append(batches, changes)
		})
		db.OnChange(func(changes []Change) {
			panic("handler failures are logged")
		})

		d1 := db.putNew("a", "", `{}`)
		require.Len(t, batches, 1)
		assert.Equal(t, []Change{{DocID: "a", RevID: d1.RevID(), Sequence: 1, Op: OpPut}}, batches[0])

		require.NoError(t, db.InTransaction(func() error {
			db.putNew("b", "", `{}`)
			db.deleteDoc("a", d1.RevID())
			return nil
		}))
		require.Len(t, batches, 2)
		require.Len(t, batches[1], 2)
		assert.Equal(t, "b", batches[1][0].DocID)
		assert.Equal(t, Sequence(2), batches[1][0].Sequence)
		assert.Equal(t, OpDelete, batches[1][1].Op)
		assert.Equal(t, Sequence(3), batches[1][1].Sequence)

		require.NoError(t, db.BeginTransaction())
		db.putNew("c", "", `{}`)
		require.NoError(t, db.EndTransaction(false))
		assert.Len(t, batches, 2, "rollbacks aren't announced")
	})
}

func TestChange_String(t *testing.T) {
	assert.Equal(t, "put doc@3 1-abc", Change{DocID: "doc", RevID: "1-abc", Sequence: 3, Op: OpPut}.String())
	assert.Equal(t, "purge doc", Change{DocID: "doc", Op: OpPurge}.String())
	assert.Equal(t, "invalid op 9", Op(9).String())
}

func TestCommittedView(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("a", "", `{"v":1}`)

		require.NoError(t, db.BeginTransaction())
		db.putNew("a", d1.RevID(), `{"v":2}`)
		db.putNew("b", "", `{}`)

		v := db.CommittedView()
		doc, err := v.Get("a")
		require.NoError(t, err)
		assert.Equal(t, d1.RevID(), doc.RevID())
		_, err = v.Get("b")
		requireCode(t, err, CodeNotFound)
		assert.Equal(t, Sequence(1), v.LastSequence())
		n, err := v.DocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = v.GetBySequence(3)
		requireCode(t, err, CodeNotFound)
		byseq, err := v.GetBySequence(1)
		require.NoError(t, err)
		assert.Equal(t, "a", byseq.ID())

		require.NoError(t, db.EndTransaction(true))
		assert.Equal(t, Sequence(3), v.LastSequence())

		requireCode(t, doc.Save(0), CodeNotWriteable)
		body := []byte(`{"v":3}`)
		_, err = doc.InsertRevision("2-xyz", body, false, false, true)
		require.NoError(t, err)
		requireCode(t, doc.Save(0), CodeNotWriteable)
	})
}

func TestTransaction_concurrentReaders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		rev := db.putNew("r", "", `{"v":0}`).RevID()

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, err := db.Get("r", true)
					assert.NoError(t, err)
					_, err = db.CommittedView().Get("r")
					assert.NoError(t, err)
				}
			}()
		}

		for i := 0; i < 100; i++ {
			require.NoError(t, db.BeginTransaction())
			_, err := db.GetExpiration("r")
			require.NoError(t, err)
			if i%10 == 0 {
				rev = db.putNew("r", rev, fmt.Sprintf(`{"v":%d}`, i+1)).RevID()
			}
			require.NoError(t, db.EndTransaction(true))
		}
		close(stop)
		wg.Wait()

		assert.Equal(t, rev, db.get("r").RevID())
	})
}

func TestDocEnumerator_outlivesTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		db.putNew("a", "", `{}`)
		db.putNew("b", "", `{}`)

		require.NoError(t, db.BeginTransaction())
		e, err := db.EnumerateAllDocs("", "", nil)
		require.NoError(t, err)
		require.True(t, e.Next())
		assert.Equal(t, "a", e.Info().DocID)
		require.NoError(t, db.EndTransaction(true))

		assert.False(t, e.Next())
		requireCode(t, e.Err(), CodeNotInTransaction)
		e.Close()
	})
}
