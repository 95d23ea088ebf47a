package docstore

import (
	"testing"

	"github.com/andreyvit/docstore/revtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putEnumFixture stores a, b, d and e as live documents, c as deleted and d
// as conflicted. Sequences: a=1, e=5, c=6, d=7, b=8.
func putEnumFixture(db *testDB) {
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		db.putNew(id, "", `{"id":"`+id+`"}`)
	}
	db.deleteDoc("c", db.get("c").RevID())
	db.putExisting("d", `{"id":"d2"}`, false, "1-zzzz")
	db.putNew("b", db.get("b").RevID(), `{"id":"b2"}`)
}

func TestEnumerateAllDocs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		putEnumFixture(db)

		tests := []struct {
			name       string
			start, end string
			opts       *EnumeratorOptions
			expected   []string
		}{
			{"default", "", "", nil, []string{"a", "b", "d", "e"}},
			{"deleted", "", "", &EnumeratorOptions{IncludeDeleted: true}, []string{"a", "b", "c", "d", "e"}},
			{"descending", "", "", &EnumeratorOptions{Descending: true}, []string{"e", "d", "b", "a"}},
			{"descending deleted", "", "", &EnumeratorOptions{Descending: true, IncludeDeleted: true}, []string{"e", "d", "c", "b", "a"}},
			{"bounds", "b", "d", nil, []string{"b", "d"}},
			{"bounds deleted", "b", "d", &EnumeratorOptions{IncludeDeleted: true}, []string{"b", "c", "d"}},
			{"exclusive start", "b", "d", &EnumeratorOptions{ExclusiveStart: true}, []string{"d"}},
			{"exclusive end", "b", "d", &EnumeratorOptions{ExclusiveEnd: true}, []string{"b"}},
			{"exclusive both", "a", "e", &EnumeratorOptions{ExclusiveStart: true, ExclusiveEnd: true}, []string{"b", "d"}},
			{"bounds between keys", "aa", "dd", nil, []string{"b", "d"}},
			{"descending bounds", "d", "b", &EnumeratorOptions{Descending: true}, []string{"d", "b"}},
			{"descending exclusive start", "d", "a", &EnumeratorOptions{Descending: true, ExclusiveStart: true}, []string{"b", "a"}},
			{"descending exclusive end", "e", "b", &EnumeratorOptions{Descending: true, ExclusiveEnd: true, IncludeDeleted: true}, []string{"e", "d", "c"}},
			{"open start", "", "b", nil, []string{"a", "b"}},
			{"open end", "d", "", nil, []string{"d", "e"}},
			{"skip", "", "", &EnumeratorOptions{Skip: 2}, []string{"d", "e"}},
			{"skip all", "", "", &EnumeratorOptions{Skip: 10}, []string{}},
			{"conflicts", "", "", &EnumeratorOptions{OnlyConflicts: true}, []string{"d"}},
			{"empty range", "x", "z", nil, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, collectIDs(t)(db.EnumerateAllDocs(tt.start, tt.end, tt.opts)))
			})
		}
	})
}

func TestEnumerateAllDocs_info(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		putEnumFixture(db)

		e, err := db.EnumerateAllDocs("c", "d", &EnumeratorOptions{IncludeDeleted: true})
		require.NoError(t, err)
		defer e.Close()

		require.True(t, e.Next())
		info := e.Info()
		assert.Equal(t, "c", info.DocID)
		assert.Equal(t, Sequence(6), info.Sequence)
		assert.Equal(t, DocExists|DocDeleted, info.Flags)
		assert.Equal(t, 2, info.RevID.Generation())

		require.True(t, e.Next())
		info = e.Info()
		assert.Equal(t, "d", info.DocID)
		assert.Equal(t, revtree.RevID("1-zzzz"), info.RevID)
		assert.Equal(t, DocExists|DocConflicted, info.Flags)
		assert.Positive(t, info.BodySize)

		doc, err := e.Document()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1}, generations(doc))

		assert.False(t, e.Next())
		require.NoError(t, e.Err())
		assert.Equal(t, DocumentInfo{}, e.Info())
	})
}

func TestEnumerateAllDocs_withoutBodies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		putEnumFixture(db)

		e, err := db.EnumerateAllDocs("b", "b", &EnumeratorOptions{})
		require.NoError(t, err)
		require.True(t, e.Next())
		doc, err := e.Document()
		require.NoError(t, err)
		e.Close()

		require.True(t, doc.SelectNext(), "tree loads on demand")
		assert.Equal(t, 1, doc.SelectedRev().ID.Generation())
	})
}

func TestEnumerateAllDocs_negativeSkip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		_, err := db.EnumerateAllDocs("", "", &EnumeratorOptions{Skip: -1})
		requireCode(t, err, CodeInvalidParameter)
	})
}

func TestEnumerateAllDocs_emptyDatabase(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		assert.Equal(t, []string{}, collectIDs(t)(db.EnumerateAllDocs("", "", &EnumeratorOptions{IncludeDeleted: true})))
		assert.Equal(t, []Sequence{}, collectSeqs(t)(db.EnumerateChanges(0, nil)))
	})
}

func TestEnumerateAllDocs_insideTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		db.putNew("a", "", `{}`)
		require.NoError(t, db.BeginTransaction())
		db.putNew("b", "", `{}`)
		assert.Equal(t, []string{"a", "b"}, collectIDs(t)(db.EnumerateAllDocs("", "", nil)))
		require.NoError(t, db.EndTransaction(false))

		assert.Equal(t, []string{"a"}, collectIDs(t)(db.EnumerateAllDocs("", "", nil)))
	})
}

func TestEnumerateChanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		putEnumFixture(db)

		tests := []struct {
			name     string
			since    Sequence
			opts     *EnumeratorOptions
			expected []Sequence
		}{
			{"all", 0, nil, []Sequence{1, 5, 7, 8}},
			{"deleted", 0, &EnumeratorOptions{IncludeDeleted: true}, []Sequence{1, 5, 6, 7, 8}},
			{"since", 5, &EnumeratorOptions{IncludeDeleted: true}, []Sequence{6, 7, 8}},
			{"since last", 8, nil, []Sequence{}},
			{"descending", 0, &EnumeratorOptions{IncludeDeleted: true, Descending: true}, []Sequence{8, 7, 6, 5, 1}},
			{"skip", 0, &EnumeratorOptions{Skip: 1}, []Sequence{5, 7, 8}},
			{"conflicts", 0, &EnumeratorOptions{OnlyConflicts: true}, []Sequence{7}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, collectSeqs(t)(db.EnumerateChanges(tt.since, tt.opts)))
			})
		}
	})
}

func TestEnumerateSomeDocs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		putEnumFixture(db)

		e, err := db.EnumerateSomeDocs([]string{"e", "zz", "c", "a"}, nil)
		require.NoError(t, err)
		defer e.Close()

		var infos []DocumentInfo
		var exists []bool
		for e.Next() {
			infos = append(infos, e.Info())
			doc, err := e.Document()
			require.NoError(t, err)
			exists = append(exists, doc.Exists())
		}
		require.NoError(t, e.Err())

		require.Len(t, infos, 4)
		assert.Equal(t, []bool{true, false, true, true}, exists)
		assert.Equal(t, "zz", infos[1].DocID)
		assert.Equal(t, Sequence(0), infos[1].Sequence)
		assert.Equal(t, DocumentFlags(0), infos[1].Flags)
		assert.Equal(t, "c", infos[2].DocID)
		assert.True(t, infos[2].Flags.Contains(DocDeleted), "deleted documents are always included")
		assert.Equal(t, Sequence(1), infos[3].Sequence)
	})
}

func TestDocEnumerator_closeIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *testDB) {
		db.putNew("a", "", `{}`)
		e, err := db.EnumerateAllDocs("", "", nil)
		require.NoError(t, err)
		e.Close()
		e.Close()
		assert.False(t, e.Next())
		_, err = e.Document()
		requireCode(t, err, CodeNotFound)
	})
}
