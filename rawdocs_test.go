package docstore

import (
	"testing"

	"github.com/andreyvit/docstore/revtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawDocs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		_, err := db.RawGet("info", "k")
		requireCode(t, err, CodeNotFound)

		require.NoError(t, db.RawPut("info", "k", []byte("meta"), []byte("body")))
		require.NoError(t, db.RawPut("info", "only-body", nil, []byte("b")))
		require.NoError(t, db.RawPut("other", "k", []byte("m2"), nil))

		raw, err := db.RawGet("info", "k")
		require.NoError(t, err)
		assert.Equal(t, &RawDocument{Key: "k", Meta: []byte("meta"), Body: []byte("body")}, raw)

		raw, err = db.RawGet("info", "only-body")
		require.NoError(t, err)
		assert.Empty(t, raw.Meta)
		assert.Equal(t, "b", string(raw.Body))

		raw, err = db.RawGet("other", "k")
		require.NoError(t, err)
		assert.Equal(t, "m2", string(raw.Meta))

		require.NoError(t, db.RawPut("info", "k", nil, nil))
		_, err = db.RawGet("info", "k")
		requireCode(t, err, CodeNotFound)
		require.NoError(t, db.RawPut("missing", "k", nil, nil), "deleting from a missing store")

		seq, err := db.LastSequence()
		require.NoError(t, err)
		assert.Equal(t, Sequence(0), seq, "raw documents don't take sequences")
		assert.Equal(t, []string{}, collectIDs(t)(db.EnumerateAllDocs("", "", &EnumeratorOptions{IncludeDeleted: true})))
	})
}

func TestRawDocs_invalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		_, err := db.RawGet("", "k")
		requireCode(t, err, CodeInvalidParameter)
		requireCode(t, db.RawPut("info", "", nil, []byte("x")), CodeInvalidParameter)
	})
}

func TestRemotes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		id, err := db.GetRemote("wss://a.example/db", false)
		require.NoError(t, err)
		assert.Equal(t, NoRemoteID, id)

		a, err := db.GetRemote("wss://a.example/db", true)
		require.NoError(t, err)
		assert.Equal(t, RemoteID(1), a)
		b, err := db.GetRemote("wss://b.example/db", true)
		require.NoError(t, err)
		assert.Equal(t, RemoteID(2), b)

		again, err := db.GetRemote("wss://a.example/db", true)
		require.NoError(t, err)
		assert.Equal(t, a, again)

		addr, err := db.RemoteAddress(b)
		require.NoError(t, err)
		assert.Equal(t, "wss://b.example/db", addr)
		_, err = db.RemoteAddress(7)
		requireCode(t, err, CodeNotFound)

		_, err = db.GetRemote("", true)
		requireCode(t, err, CodeInvalidParameter)
	})
}

func TestLatestRevisionOnRemote(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		r, err := db.GetRemote("wss://a.example/db", true)
		require.NoError(t, err)

		rev, err := db.LatestRevisionOnRemote(r, "doc")
		require.NoError(t, err)
		assert.Equal(t, revtree.RevID(""), rev)

		d := db.putNew("doc", "", `{}`)
		require.NoError(t, db.SetLatestRevisionOnRemote(r, "doc", d.RevID()))
		rev, err = db.LatestRevisionOnRemote(r, "doc")
		require.NoError(t, err)
		assert.Equal(t, d.RevID(), rev)

		other, err := db.GetRemote("wss://b.example/db", true)
		require.NoError(t, err)
		rev, err = db.LatestRevisionOnRemote(other, "doc")
		require.NoError(t, err)
		assert.Equal(t, revtree.RevID(""), rev)

		requireCode(t, db.SetLatestRevisionOnRemote(r, "doc", "junk"), CodeBadRevisionID)
		requireCode(t, db.SetLatestRevisionOnRemote(NoRemoteID, "doc", d.RevID()), CodeInvalidParameter)

		require.NoError(t, db.SetLatestRevisionOnRemote(r, "doc", ""))
		rev, err = db.LatestRevisionOnRemote(r, "doc")
		require.NoError(t, err)
		assert.Equal(t, revtree.RevID(""), rev)

		require.NoError(t, db.SetLatestRevisionOnRemote(r, "doc", d.RevID()))
		require.NoError(t, db.PurgeDocument("doc"))
		rev, err = db.LatestRevisionOnRemote(r, "doc")
		require.NoError(t, err)
		assert.Equal(t, revtree.RevID(""), rev, "forgotten when the document is purged")
	})
}
