package journal

import (
	"encoding/binary"
	"errors"

	"github.com/andreyvit/docstore/mmap"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrStop can be returned from a Read callback to end reading early.
var ErrStop = errors.New("stop reading")

// Record is one committed journal record. Data points into a read-only
// mapping and is only valid during the callback.
type Record struct {
	Segment   uint32
	ID        uint64
	Timestamp uint32
	Data      []byte
}

// Read calls fn for every committed record, oldest first. Records after the
// last commit marker of a segment, and everything after a damaged spot, are
// skipped.
func (j *Journal) Read(fn func(rec Record) error) error {
	names, err := j.segmentNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		err := j.readSegment(name, fn)
		if err == errCorruptedFile {
			j.logger.Warn("journal: skipping corrupted file", zap.String("file", name))
			continue
		} else if err == ErrStop {
			return nil
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) readSegment(name string, fn func(rec Record) error) error {
	seg, _, firstRec, err := parseSegmentName(j.trimName(name))
	if err != nil {
		return err
	}

	f, err := j.openFile(name, false)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < segmentHeaderSize {
		return errCorruptedFile
	}
	if size > mmap.MaxSize {
		return errors.New("journal: segment too large to map")
	}
	data, err := mmap.Mmap(f, 0, int(size), mmap.SequentialAccess)
	if err != nil {
		return err
	}
	defer mmap.Munmap(data)

	var h segmentHeader
	if _, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, &h); err != nil {
		return errCorruptedFile
	}
	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize-8])
	if err := j.checkHeader(&h, hash.Sum64(), seg); err != nil {
		return err
	}
	hash.Write(data[segmentHeaderSize-8 : segmentHeaderSize])

	var pending []Record
	id, ts := firstRec, h.Timestamp
	off := segmentHeaderSize
	for off < len(data) {
		if data[off]&recordFlagCommit != 0 {
			if off+commitSize > len(data) {
				break
			}
			expected := commitMarker(&hash)
			if string(data[off:off+commitSize]) != string(expected[:]) {
				j.logger.Warn("journal: checksum mismatch", zap.String("file", name), zap.Int("off", off))
				break
			}
			hash.Write(data[off : off+commitSize])
			off += commitSize
			for _, rec := range pending {
				if err := fn(rec); err != nil {
					return err
				}
			}
			pending = pending[:0]
			continue
		}

		start := off
		sizeAndFlags, n := binary.Uvarint(data[off:])
		if n <= 0 {
			break
		}
		off += n
		tsDelta, n := binary.Uvarint(data[off:])
		if n <= 0 || tsDelta > 0xFFFF_FFFF {
			break
		}
		off += n
		recSize := sizeAndFlags >> recordFlagShift
		if recSize > uint64(len(data)-off) {
			break
		}
		end := off + int(recSize)
		hash.Write(data[start:end])
		ts += uint32(tsDelta)
		pending = append(pending, Record{Segment: seg, ID: id, Timestamp: ts, Data: data[off:end]})
		id++
		off = end
	}
	if len(pending) > 0 && j.verbose {
		j.logger.Debug("journal: ignoring uncommitted records", zap.String("file", name), zap.Int("count", len(pending)))
	}
	return nil
}
