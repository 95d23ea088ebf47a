package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfChecksum

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = (vfVer1 | vfChecksum)
	vfDefault       = vfVer1 | vfChecksum

	checksumSize       = 8
	minValueSize       = 6
	maxValueHeaderSize = binary.MaxVarintLen64 * 6
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// Record value layout:
//
//  1. Value flags (uvarint).
//  2. Document flags (uvarint).
//  3. Sequence (uvarint).
//  4. Expiration (uvarint, ms since epoch, 0 = none).
//  5. Version size (uvarint).
//  6. Body size (uvarint).
//  7. Version bytes, then body bytes.
//  8. xxhash64 of everything above (8 bytes big-endian), if vfChecksum is set.
type value struct {
	Flags      valueFlags
	DocFlags   DocumentFlags
	Sequence   Sequence
	Expiration Expiration
	Version    []byte
	Body       []byte
}

func (vle *value) encode(buf []byte) []byte {
	if len(buf) != 0 {
		panic("value must be written to an empty buffer")
	}
	if vle.Expiration < 0 {
		panic(fmt.Errorf("invalid expiration %d", vle.Expiration))
	}
	buf = ensureCapacity(buf, maxValueHeaderSize+len(vle.Version)+len(vle.Body)+checksumSize)
	buf = appendUvarint(buf, uint64(vfDefault))
	buf = appendUvarint(buf, uint64(vle.DocFlags&storedFlagsMask))
	buf = appendUvarint(buf, uint64(vle.Sequence))
	buf = appendUvarint(buf, uint64(vle.Expiration))
	buf = appendUvarint(buf, uint64(len(vle.Version)))
	buf = appendUvarint(buf, uint64(len(vle.Body)))
	buf = appendRaw(buf, vle.Version)
	buf = appendRaw(buf, vle.Body)
	return binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

// decode parses data without copying; the result aliases data.
func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return dataErrf(orig, d.Off(), err, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)
	if vle.Flags.ver() != vfVer1 {
		return dataErrf(orig, d.Off(), nil, "invalid value: unsupported format version %d", vle.Flags.ver())
	}

	if vle.Flags&vfChecksum != 0 {
		n := len(data) - checksumSize
		if n < 0 {
			return dataErrf(orig, 0, nil, "invalid value: missing checksum")
		}
		if binary.BigEndian.Uint64(data[n:]) != xxhash.Sum64(data[:n]) {
			return dataErrf(orig, n, nil, "invalid value: checksum mismatch")
		}
		d.Buf = d.Buf[:len(d.Buf)-checksumSize]
	}

	v, err = d.Uvarint()
	if err != nil || v&^uint64(storedFlagsMask) != 0 {
		return dataErrf(orig, d.Off(), err, "invalid value: bad document flags")
	}
	vle.DocFlags = DocumentFlags(v)

	v, err = d.Uvarint()
	if err != nil {
		return dataErrf(orig, d.Off(), err, "invalid value: bad sequence")
	}
	vle.Sequence = Sequence(v)

	v, err = d.Uvarint()
	if err != nil || v > 1<<62 {
		return dataErrf(orig, d.Off(), err, "invalid value: bad expiration")
	}
	vle.Expiration = Expiration(v)

	versionSize, err := d.Uvarinti()
	if err != nil {
		return dataErrf(orig, d.Off(), err, "invalid value: bad version size")
	}
	bodySize, err := d.Uvarinti()
	if err != nil {
		return dataErrf(orig, d.Off(), err, "invalid value: bad body size")
	}
	if d.Remaining() != versionSize+bodySize {
		return dataErrf(orig, d.Off(), nil, "invalid value: got %d bytes for version+body, expected %d bytes", d.Remaining(), versionSize+bodySize)
	}
	vle.Version = must(d.Raw(versionSize))
	vle.Body = must(d.Raw(bodySize))
	return nil
}

// decodeRecord builds a Record that owns its bytes.
func decodeRecord(key string, data []byte, content ContentOption) (*Record, error) {
	var vle value
	if err := vle.decode(data); err != nil {
		return nil, err
	}
	rec := &Record{
		Key:        key,
		Version:    append([]byte(nil), vle.Version...),
		Flags:      vle.DocFlags,
		Sequence:   vle.Sequence,
		Expiration: vle.Expiration,
		BodySize:   len(vle.Body),
	}
	if content == EntireBody {
		rec.Body = append([]byte{}, vle.Body...)
	}
	return rec, nil
}
