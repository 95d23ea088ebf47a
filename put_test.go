package docstore

import (
	"testing"

	"github.com/andreyvit/docstore/revtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetForPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)
		d2 := db.putNew("doc1", d1.RevID(), `{"v":2}`)

		t.Run("new ID", func(t *testing.T) {
			doc, err := db.GetForPut("", "", false, false)
			require.NoError(t, err)
			assert.Len(t, doc.ID(), 32)
			assert.False(t, doc.Exists())
		})
		t.Run("existing without parent", func(t *testing.T) {
			_, err := db.GetForPut("doc1", "", false, false)
			requireCode(t, err, CodeConflict)
		})
		t.Run("deleting without parent", func(t *testing.T) {
			_, err := db.GetForPut("doc1", "", true, false)
			requireCode(t, err, CodeConflict)
			_, err = db.GetForPut("missing", "", true, false)
			requireCode(t, err, CodeNotFound)
		})
		t.Run("malformed parent", func(t *testing.T) {
			_, err := db.GetForPut("doc1", "xyz", false, false)
			requireCode(t, err, CodeBadRevisionID)
		})
		t.Run("unknown parent", func(t *testing.T) {
			_, err := db.GetForPut("doc1", "7-abc", false, false)
			requireCode(t, err, CodeNotFound)
		})
		t.Run("stale parent", func(t *testing.T) {
			_, err := db.GetForPut("doc1", d1.RevID(), false, false)
			requireCode(t, err, CodeConflict)

			doc, err := db.GetForPut("doc1", d1.RevID(), false, true)
			require.NoError(t, err)
			assert.Equal(t, d1.RevID(), doc.SelectedRev().ID)
		})
		t.Run("current parent", func(t *testing.T) {
			doc, err := db.GetForPut("doc1", d2.RevID(), false, false)
			require.NoError(t, err)
			assert.Equal(t, d2.RevID(), doc.SelectedRev().ID)
		})
	})
}

func TestPut_generatedRevision(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		doc, common, err := db.Put(&PutRequest{Body: []byte(`{"x":1}`), Save: true})
		require.NoError(t, err)
		assert.Equal(t, 0, common)
		assert.Len(t, doc.ID(), 32)
		assert.Equal(t, revtree.Generate("", false, []byte(`{"x":1}`)), doc.RevID())
		assert.Equal(t, 1, doc.RevID().Generation())

		doc2, common, err := db.Put(&PutRequest{
			DocID:   doc.ID(),
			Body:    []byte(`{"x":2}`),
			History: []revtree.RevID{doc.RevID()},
			Save:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, common)
		assert.Equal(t, revtree.Generate(doc.RevID(), false, []byte(`{"x":2}`)), doc2.RevID())
		assert.Equal(t, 2, doc2.RevID().Generation())
	})
}

func TestPut_duplicateRevisionIsNoop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)
		d2 := db.putNew("doc1", d1.RevID(), `{"v":2}`)

		doc, common, err := db.Put(&PutRequest{
			DocID:         "doc1",
			Body:          []byte(`{"v":2}`),
			History:       []revtree.RevID{d1.RevID()},
			AllowConflict: true,
			Save:          true,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, common)
		assert.Equal(t, d2.RevID(), doc.RevID())

		seq, err := db.LastSequence()
		require.NoError(t, err)
		assert.Equal(t, Sequence(2), seq)
		assert.False(t, db.get("doc1").IsConflicted())
	})
}

func TestPut_existingRevisions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		doc, common, err := db.Put(&PutRequest{
			DocID:            "doc1",
			Body:             []byte(`{"v":3}`),
			ExistingRevision: true,
			History:          []revtree.RevID{"3-ccc", "2-bbb", "1-aaa"},
			Save:             true,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, common)
		assert.Equal(t, revtree.RevID("3-ccc"), doc.RevID())

		t.Run("known history", func(t *testing.T) {
			_, common, err := db.Put(&PutRequest{
				DocID:            "doc1",
				Body:             []byte(`{"v":3}`),
				ExistingRevision: true,
				History:          []revtree.RevID{"3-ccc", "2-bbb"},
				Save:             true,
			})
			require.NoError(t, err)
			assert.Equal(t, 0, common)
			assert.Equal(t, Sequence(1), db.get("doc1").Sequence())
		})

		t.Run("branch", func(t *testing.T) {
			_, common, err := db.Put(&PutRequest{
				DocID:            "doc1",
				Body:             []byte(`{"v":"x"}`),
				ExistingRevision: true,
				History:          []revtree.RevID{"3-xxx", "2-bbb", "1-aaa"},
				Save:             true,
			})
			require.NoError(t, err)
			assert.Equal(t, 1, common)

			doc := db.get("doc1")
			assert.True(t, doc.IsConflicted())
			assert.Equal(t, revtree.RevID("3-xxx"), doc.RevID(), "higher digest wins")
			assert.Equal(t, Sequence(2), doc.Sequence())
		})

		t.Run("ancestors have no bodies", func(t *testing.T) {
			doc := db.get("doc1")
			require.NoError(t, doc.SelectRevision("1-aaa", true))
			assert.False(t, doc.HasRevisionBody())
			assert.Nil(t, doc.SelectedRev().Body)
		})
	})
}

func TestPut_existingRevisionErrors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		tests := []struct {
			name string
			rq   PutRequest
			code ErrorCode
		}{
			{"no doc ID", PutRequest{History: []revtree.RevID{"1-aaa"}}, CodeInvalidParameter},
			{"no history", PutRequest{DocID: "doc1"}, CodeInvalidParameter},
			{"generation gap", PutRequest{DocID: "doc1", History: []revtree.RevID{"3-ccc", "1-aaa"}}, CodeInvalidParameter},
			{"malformed", PutRequest{DocID: "doc1", History: []revtree.RevID{"ccc"}}, CodeBadRevisionID},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rq := tt.rq
				rq.ExistingRevision = true
				rq.Save = true
				_, _, err := db.Put(&rq)
				requireCode(t, err, tt.code)
			})
		}
		n, err := db.DocumentCount()
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestPut_reviveDeleted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)
		d2 := db.deleteDoc("doc1", d1.RevID())
		assert.True(t, d2.IsDeleted())

		d3 := db.putNew("doc1", "", `{"v":3}`)
		assert.Equal(t, 3, d3.RevID().Generation())
		assert.False(t, d3.IsDeleted())
		assert.Equal(t, "live", db.partitionOf("doc1"))

		doc := db.get("doc1")
		require.True(t, doc.SelectParent())
		assert.Equal(t, d2.RevID(), doc.SelectedRev().ID)
	})
}

func TestPut_typeAndAttachments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		_, _, err := db.Put(&PutRequest{
			DocID:          "doc1",
			Body:           []byte(`{}`),
			DocType:        "note",
			HasAttachments: true,
			Save:           true,
		})
		require.NoError(t, err)

		doc := db.get("doc1")
		typ, err := doc.Type()
		require.NoError(t, err)
		assert.Equal(t, "note", typ)
		assert.True(t, doc.Flags().Contains(DocHasAttachments))

		meta, err := db.GetMeta("doc1")
		require.NoError(t, err)
		assert.True(t, meta.Flags().Contains(DocHasAttachments))
		typ, err = meta.Type()
		require.NoError(t, err)
		assert.Equal(t, "note", typ, "loaded lazily")
	})
}

func TestPut_withoutSave(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		doc, _, err := db.Put(&PutRequest{DocID: "doc1", Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.False(t, doc.Exists())

		_, err = db.Get("doc1", true)
		requireCode(t, err, CodeNotFound)

		require.NoError(t, doc.Save(0))
		assert.True(t, doc.Exists())
		db.get("doc1")
	})
}

func TestPut_maxRevTreeDepth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		doc := db.putNew("doc1", "", `{"v":0}`)
		for i := 1; i < 5; i++ {
			doc = db.putNew("doc1", doc.RevID(), `{"v":1}`)
		}
		_, _, err := db.Put(&PutRequest{
			DocID:           "doc1",
			Body:            []byte(`{"v":5}`),
			History:         []revtree.RevID{doc.RevID()},
			Save:            true,
			MaxRevTreeDepth: 2,
		})
		require.NoError(t, err)

		doc = db.get("doc1")
		assert.Equal(t, 6, doc.RevID().Generation())
		assert.Equal(t, []int{6, 5}, generations(doc))
	})
}

func TestGetBySequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)
		db.putNew("doc2", "", `{}`)

		doc, err := db.GetBySequence(d1.Sequence())
		require.NoError(t, err)
		assert.Equal(t, "doc1", doc.ID())

		db.putNew("doc1", d1.RevID(), `{"v":2}`)
		_, err = db.GetBySequence(d1.Sequence())
		requireCode(t, err, CodeNotFound)

		doc, err = db.GetBySequence(3)
		require.NoError(t, err)
		assert.Equal(t, "doc1", doc.ID())
	})
}

func TestMarkSynced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)

		ok, err := db.MarkSynced("doc1", d1.Sequence()+1)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = db.MarkSynced("doc1", d1.Sequence())
		require.NoError(t, err)
		assert.True(t, ok)

		doc := db.get("doc1")
		assert.True(t, doc.Flags().Contains(DocSynced))
		assert.Equal(t, d1.Sequence(), doc.Sequence())

		d2 := db.putNew("doc1", d1.RevID(), `{"v":2}`)
		assert.False(t, d2.Flags().Contains(DocSynced))
		assert.False(t, db.get("doc1").Flags().Contains(DocSynced))

		ok, err = db.MarkSynced("missing", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPurgeDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		d1 := db.putNew("doc1", "", `{"v":1}`)
		db.putNew("doc1", d1.RevID(), `{"v":2}`)

		var changes []Change
		db.OnChange(func(c []Change) { changes = append(changes, c...) })

		require.NoError(t, db.PurgeDocument("doc1"))
		assert.Equal(t, []Change{{DocID: "doc1", Op: OpPurge}}, changes)
		assert.Equal(t, "", db.partitionOf("doc1"))

		requireCode(t, db.PurgeDocument("doc1"), CodeNotFound)

		st, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 0, st.ArchivedBodies)
	})
}

// generations lists the generation of every revision in tree order.
func generations(doc *Document) []int {
	var gens []int
	if !doc.SelectCurrent() {
		return gens
	}
	for {
		gens = append(gens, doc.SelectedRev().ID.Generation())
		if !doc.SelectNext() {
			return gens
		}
	}
}
