package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceEnumerator yields fixed records, optionally failing after them.
type sliceEnumerator struct {
	recs   []*Record
	pos    int
	err    error
	closed bool
}

func (e *sliceEnumerator) Next() bool {
	if e.pos >= len(e.recs) {
		e.pos = len(e.recs) + 1
		return false
	}
	e.pos++
	return true
}

func (e *sliceEnumerator) Record() *Record {
	if e.pos < 1 || e.pos > len(e.recs) {
		return nil
	}
	return e.recs[e.pos-1]
}

func (e *sliceEnumerator) Key() string { return e.Record().Key }

func (e *sliceEnumerator) Sequence() Sequence { return e.Record().Sequence }

func (e *sliceEnumerator) Expiration() Expiration { return e.Record().Expiration }

func (e *sliceEnumerator) Err() error {
	if e.pos > len(e.recs) {
		return e.err
	}
	return nil
}

func (e *sliceEnumerator) Close() { e.closed = true }

func keyed(keys ...string) *sliceEnumerator {
	e := &sliceEnumerator{}
	for _, k := range keys {
		e.recs = append(e.recs, &Record{Key: k})
	}
	return e
}

func sequenced(seqs ...Sequence) *sliceEnumerator {
	e := &sliceEnumerator{}
	for _, s := range seqs {
		e.recs = append(e.recs, &Record{Key: "k", Sequence: s})
	}
	return e
}

func mergedKeys(t *testing.T, e RecordEnumerator) []string {
	t.Helper()
	keys := []string{}
	for e.Next() {
		keys = append(keys, e.Key())
	}
	require.NoError(t, e.Err())
	assert.Nil(t, e.Record())
	return keys
}

func TestMergeEnumerator_byKey(t *testing.T) {
	tests := []struct {
		name       string
		live, dead []string
		descending bool
		expected   []string
	}{
		{"both empty", nil, nil, false, []string{}},
		{"live only", []string{"a", "c"}, nil, false, []string{"a", "c"}},
		{"dead only", nil, []string{"b", "d"}, false, []string{"b", "d"}},
		{"interleaved", []string{"a", "c", "e"}, []string{"b", "d"}, false, []string{"a", "b", "c", "d", "e"}},
		{"dead runs out first", []string{"b", "x", "y"}, []string{"a"}, false, []string{"a", "b", "x", "y"}},
		{"live runs out first", []string{"a"}, []string{"b", "c"}, false, []string{"a", "b", "c"}},
		{"descending", []string{"e", "c", "a"}, []string{"d", "b"}, true, []string{"e", "d", "c", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newMergeEnumerator(keyed(tt.live...), keyed(tt.dead...), ByKey, tt.descending)
			assert.Equal(t, tt.expected, mergedKeys(t, e))
			assert.False(t, e.Next(), "stays exhausted")
		})
	}
}

func TestMergeEnumerator_bySequence(t *testing.T) {
	live, dead := sequenced(1, 5, 8), sequenced(2, 3, 9)
	e := newMergeEnumerator(live, dead, BySequence, false)
	var seqs []Sequence
	for e.Next() {
		seqs = append(seqs, e.Sequence())
	}
	assert.Equal(t, []Sequence{1, 2, 3, 5, 8, 9}, seqs)

	e.Close()
	assert.True(t, live.closed)
	assert.True(t, dead.closed)
}

func TestMergeEnumerator_byExpirationBreaksTiesByKey(t *testing.T) {
	live := &sliceEnumerator{recs: []*Record{{Key: "b", Expiration: 5}, {Key: "z", Expiration: 7}}}
	dead := &sliceEnumerator{recs: []*Record{{Key: "a", Expiration: 5}, {Key: "c", Expiration: 6}}}
	e := newMergeEnumerator(live, dead, ByExpiration, false)
	assert.Equal(t, []string{"a", "b", "c", "z"}, mergedKeys(t, e))
}

func TestMergeEnumerator_error(t *testing.T) {
	failure := errors.New("disk on fire")
	live := keyed("a", "c")
	dead := keyed("b")
	dead.err = failure

	e := newMergeEnumerator(live, dead, ByKey, false)
	require.True(t, e.Next())
	assert.Equal(t, "a", e.Key())
	require.True(t, e.Next())
	assert.Equal(t, "b", e.Key())
	assert.False(t, e.Next())
	assert.Same(t, failure, e.Err())
	assert.Equal(t, "", e.Key())
	assert.Equal(t, Sequence(0), e.Sequence())
	assert.Equal(t, NoExpiration, e.Expiration())
}

func TestEnumOrder_String(t *testing.T) {
	assert.Equal(t, "key", ByKey.String())
	assert.Equal(t, "sequence", BySequence.String())
	assert.Equal(t, "expiration", ByExpiration.String())
	assert.Equal(t, "invalid", EnumOrder(42).String())
}
