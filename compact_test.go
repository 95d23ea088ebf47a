package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d := db.putNew("doc", "", `{"v":1}`)
		d = db.putNew("doc", d.RevID(), `{"v":2}`)
		db.putNew("doc", d.RevID(), `{"v":3}`)
		db.putNew("other", "", `{}`)

		st, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 2, st.ArchivedBodies)
		assert.Positive(t, st.ArchiveSize)

		doc := db.get("doc")
		require.True(t, doc.SelectParent())
		ok, err := doc.LoadRevisionBody()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"v":2}`, string(doc.SelectedRev().Body))

		res, err := db.Compact()
		require.NoError(t, err)
		assert.Equal(t, CompactResult{DroppedBodies: 2}, res)

		doc = db.get("doc")
		require.True(t, doc.SelectParent())
		assert.False(t, doc.HasRevisionBody())
		ok, err = doc.LoadRevisionBody()
		require.NoError(t, err)
		assert.False(t, ok)

		require.True(t, doc.SelectCurrent())
		assert.Equal(t, `{"v":3}`, string(doc.SelectedRev().Body))

		st, err = db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 0, st.ArchivedBodies)

		res, err = db.Compact()
		require.NoError(t, err)
		assert.Equal(t, CompactResult{}, res)

		// the archive keeps working afterwards
		db.putNew("other", db.get("other").RevID(), `{"v":2}`)
		st, err = db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, st.ArchivedBodies)
	})
}

func TestCompact_insideTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		require.NoError(t, db.BeginTransaction())
		_, err := db.Compact()
		requireCode(t, err, CodeBusy)
		require.NoError(t, db.EndTransaction(true))
	})
}

func TestCompact_emptyDatabase(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		res, err := db.Compact()
		require.NoError(t, err)
		assert.Equal(t, CompactResult{}, res)
	})
}
