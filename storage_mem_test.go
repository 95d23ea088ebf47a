package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage_readersKeepSnapshot(t *testing.T) {
	st := NewMemStorage()
	defer st.Close()

	w, err := st.BeginTx(true)
	require.NoError(t, err)
	b, err := w.CreateBucket("s", "kv")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("a"), []byte("1")))
	require.NoError(t, w.Commit())

	r, err := st.BeginTx(false)
	require.NoError(t, err)
	defer r.Rollback()

	w, err = st.BeginTx(true)
	require.NoError(t, err)
	b = w.Bucket("s", "kv")
	require.NoError(t, b.Put([]byte("a"), []byte("2")))
	require.NoError(t, b.Put([]byte("b"), []byte("x")))

	v, err := r.Bucket("s", "kv").Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v), "uncommitted write")
	require.NoError(t, w.Commit())

	v, err = r.Bucket("s", "kv").Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v), "committed after the reader began")
	v, err = r.Bucket("s", "kv").Get([]byte("b"))
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 1, r.Bucket("s", "kv").KeyCount())

	r2, err := st.BeginTx(false)
	require.NoError(t, err)
	defer r2.Rollback()
	v, err = r2.Bucket("s", "kv").Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
	assert.Equal(t, 2, r2.Bucket("s", "kv").KeyCount())
}
