package docstore

import "sync"

// Pooled key buffers are only for lookups. Storage backends may keep the key
// slice passed to Put until commit, so never write with one.
var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 256)
	},
}

func acquireKeyBytes() []byte {
	return keyBytesPool.Get().([]byte)[:0]
}

func releaseKeyBytes(b []byte) {
	if cap(b) > 32768 { // max key size in Bolt
		return
	}
	keyBytesPool.Put(b[:0])
}
