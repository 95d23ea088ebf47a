package docstore

import (
	"encoding/binary"
	"encoding/hex"

	"go.uber.org/zap"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func inc(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			data[i]++
			for j := i + 1; j < n; j++ {
				data[j] = 0
			}
			return true
		}
	}
	return false
}

func dec(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0 {
			data[i]--
			for j := i + 1; j < n; j++ {
				data[j] = 0xFF
			}
			return true
		}
	}
	return false
}

func putUint64Key(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func uint64FromKey(k []byte) (uint64, bool) {
	if len(k) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k), true
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexField(key string, b []byte) zap.Field {
	return zap.String(key, hexstr(b))
}
