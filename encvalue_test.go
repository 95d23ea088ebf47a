package docstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_encodeDecode(t *testing.T) {
	vle := value{
		DocFlags:   DocDeleted | DocConflicted,
		Sequence:   300,
		Expiration: 1_700_000_000_000,
		Version:    []byte("3-abc"),
		Body:       []byte("body bytes"),
	}
	data := vle.encode(nil)

	rec, err := decodeRecord("doc", data, EntireBody)
	require.NoError(t, err)
	assert.Equal(t, &Record{
		Key:        "doc",
		Version:    []byte("3-abc"),
		Body:       []byte("body bytes"),
		Flags:      DocDeleted | DocConflicted,
		Sequence:   300,
		Expiration: 1_700_000_000_000,
		BodySize:   10,
	}, rec)

	rec, err = decodeRecord("doc", data, MetaOnly)
	require.NoError(t, err)
	assert.Nil(t, rec.Body)
	assert.Equal(t, 10, rec.BodySize)

	data[len(data)-1] ^= 1
	var de *DataError
	_, err = decodeRecord("doc", data, EntireBody)
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Msg, "checksum mismatch")
}

func TestValue_decodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"short", []byte{1, 2}, "at least"},
		{"future flags", []byte{0x40, 0, 0, 0, 0, 0}, "unsupported flags"},
		{"size mismatch", []byte{0x01, 0, 1, 0, 3, 0, 'a'}, "version+body"},
		{"bad doc flags", []byte{0x01, 0x7f, 1, 0, 0, 0}, "bad document flags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vle value
			err := vle.decode(tt.data)
			var de *DataError
			require.True(t, errors.As(err, &de), "%v", err)
			assert.Contains(t, de.Msg, tt.msg)
		})
	}
}
