package docstore

import (
	"bytes"

	"go.uber.org/zap"
)

const (
	debugLogRawScans = false
)

// RawRange defines a range of byte strings. The constructors use mnemonics:
// O means open, I means inclusive, E means exclusive; the first letter is for
// the lower bound, the second for the upper bound.
type RawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RawOO() RawRange            { return RawRange{} }
func RawIO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: true} }
func RawEO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: false} }
func RawOI(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: true} }
func RawOE(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: false} }
func RawII(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RawIE(l, u []byte) RawRange {
	return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: false}
}
func RawPrefix(p []byte) RawRange                { return RawRange{Prefix: p} }
func (rang RawRange) Prefixed(p []byte) RawRange { rang.Prefix = p; return rang }
func (rang RawRange) Reversed() RawRange         { rang.Reverse = true; return rang }

func (r *RawRange) start(bcur StorageCursor, logger *zap.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		if r.Upper != nil {
			k, v = bcur.Seek(r.Upper)
			if debugLogRawScans {
				logger.Debug("SEEK to upper", hexField("upper", r.Upper), hexField("key", k))
			}
			if k == nil {
				k, v = bcur.Last()
			} else if c := bytes.Compare(k, r.Upper); c > 0 || (c == 0 && !r.UpperInc) {
				k, v = bcur.Prev()
			}
		} else if r.Prefix != nil {
			k, v = bcur.SeekLast(r.Prefix)
			if debugLogRawScans {
				logger.Debug("SEEK to last of prefix", hexField("prefix", r.Prefix), hexField("key", k))
			}
		} else {
			k, v = bcur.Last()
			if debugLogRawScans {
				logger.Debug("LAST", hexField("key", k))
			}
		}
	} else {
		if r.Lower != nil {
			k, v = bcur.Seek(r.Lower)
			if debugLogRawScans {
				logger.Debug("SEEK to lower", hexField("lower", r.Lower), hexField("key", k))
			}
			if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
				k, v = bcur.Next()
			}
		} else if r.Prefix != nil {
			k, v = bcur.Seek(r.Prefix)
		} else {
			k, v = bcur.First()
			if debugLogRawScans {
				logger.Debug("FIRST", hexField("key", k))
			}
		}
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *RawRange) next(bcur StorageCursor, logger *zap.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
		if debugLogRawScans {
			logger.Debug("PREV", hexField("key", k))
		}
	} else {
		k, v = bcur.Next()
		if debugLogRawScans {
			logger.Debug("NEXT", hexField("key", k))
		}
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

// match reports whether k is inside the range. Keys are visited in order,
// so the first miss ends the scan.
func (r *RawRange) match(k []byte, logger *zap.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.Debug("BAIL on prefix", hexField("prefix", r.Prefix), hexField("key", k))
		}
		return false
	}
	if lower := r.Lower; lower != nil {
		cmp := bytes.Compare(k, lower)
		if cmp == -1 || (cmp == 0 && !r.LowerInc) {
			if debugLogRawScans {
				logger.Debug("BAIL on lower", hexField("lower", lower), hexField("key", k))
			}
			return false
		}
	}
	if upper := r.Upper; upper != nil {
		cmp := bytes.Compare(k, upper)
		if cmp == 1 || (cmp == 0 && !r.UpperInc) {
			if debugLogRawScans {
				logger.Debug("BAIL on upper", hexField("upper", upper), hexField("key", k))
			}
			return false
		}
	}
	if debugLogRawScans {
		logger.Debug("MATCH", hexField("key", k))
	}
	return true
}

func (rang *RawRange) newCursor(bcur StorageCursor, logger *zap.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

type RawRangeCursor struct {
	rang   RawRange
	bcur   StorageCursor
	logger *zap.Logger
	k, v   []byte
	init   bool
}

func (c *RawRangeCursor) Next() bool {
	if c.init {
		if c.k == nil {
			return false
		}
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }
func (c *RawRangeCursor) Err() error    { return c.bcur.Err() }
