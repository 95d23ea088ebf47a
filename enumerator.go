package docstore

import (
	"bytes"
	"strings"
)

// EnumOrder selects the index a RecordEnumerator walks.
type EnumOrder int

const (
	ByKey EnumOrder = iota
	BySequence
	ByExpiration
)

func (o EnumOrder) String() string {
	switch o {
	case ByKey:
		return "key"
	case BySequence:
		return "sequence"
	case ByExpiration:
		return "expiration"
	default:
		return "invalid"
	}
}

type RecordEnumeratorOptions struct {
	Content ContentOption

	// IncludeDeleted adds the dead partition to the scan (bothKeyStore only).
	IncludeDeleted bool

	Descending bool

	// Key bounds for ByKey; empty means unbounded. Bounds are inclusive
	// unless the matching Exclusive flag is set.
	StartKey, EndKey             string
	ExclusiveStart, ExclusiveEnd bool

	// ExpiresBy limits ByExpiration to deadlines <= ExpiresBy.
	ExpiresBy Expiration
}

// RecordEnumerator walks records in some order. Call Next before reading
// the first record; Record returns nil once Next has returned false.
type RecordEnumerator interface {
	Next() bool
	Record() *Record
	Key() string
	Sequence() Sequence
	Expiration() Expiration
	Err() error
	Close()
}

// storeEnumerator walks one recordStore. For the sequence and expiration
// orders it walks the index and skips entries that no longer match the
// record they point at.
type storeEnumerator struct {
	store   *recordStore
	order   EnumOrder
	content ContentOption
	records StorageBucket
	cur     *RawRangeCursor
	rec     *Record
	err     error
	closed  bool
}

func (e *storeEnumerator) Next() bool {
	e.rec = nil
	if e.closed || e.err != nil {
		return false
	}
	for e.cur.Next() {
		k, v := e.cur.Key(), e.cur.Value()
		var rec *Record
		var err error
		switch e.order {
		case ByKey:
			rec, err = decodeRecord(string(k), v, e.content)
			if err != nil {
				err = wrapStorageErr(err, "%s: decode %q", e.store.name, k)
			}
		case BySequence:
			rec, err = e.store.readIn(e.records, string(v), e.content)
			if rec != nil {
				if seq, _ := uint64FromKey(k); rec.Sequence != Sequence(seq) {
					rec = nil
				}
			}
		case ByExpiration:
			rec, err = e.store.readIn(e.records, string(v), e.content)
			if rec != nil {
				if exp, _ := uint64FromKey(k); rec.Expiration != Expiration(exp) || !bytes.Equal(k[8:], v) {
					rec = nil
				}
			}
		}
		if err != nil {
			e.err = err
			return false
		}
		if rec != nil {
			e.rec = rec
			return true
		}
	}
	if err := e.cur.Err(); err != nil {
		e.err = wrapStorageErr(err, "%s: scan by %v", e.store.name, e.order)
	}
	return false
}

func (e *storeEnumerator) Record() *Record { return e.rec }

func (e *storeEnumerator) Key() string {
	if e.rec == nil {
		return ""
	}
	return e.rec.Key
}

func (e *storeEnumerator) Sequence() Sequence {
	if e.rec == nil {
		return 0
	}
	return e.rec.Sequence
}

func (e *storeEnumerator) Expiration() Expiration {
	if e.rec == nil {
		return NoExpiration
	}
	return e.rec.Expiration
}

func (e *storeEnumerator) Err() error { return e.err }

func (e *storeEnumerator) Close() {
	e.closed = true
	e.rec = nil
}

type mergeState int

const (
	mergeStart mergeState = iota
	mergeBoth
	mergeLiveOnly
	mergeDeadOnly
	mergeExhausted
)

// mergeEnumerator interleaves two ordered enumerators into one. It always
// advances the side that produced the previous record, then yields the lower
// of the two heads (the higher when descending).
type mergeEnumerator struct {
	live, dead RecordEnumerator
	order      EnumOrder
	descending bool
	state      mergeState
	current    RecordEnumerator
	err        error
}

func newMergeEnumerator(live, dead RecordEnumerator, order EnumOrder, descending bool) *mergeEnumerator {
	return &mergeEnumerator{live: live, dead: dead, order: order, descending: descending}
}

func (e *mergeEnumerator) Next() bool {
	switch e.state {
	case mergeExhausted:
		return false
	case mergeStart:
		liveOK := e.live.Next()
		deadOK := e.dead.Next()
		switch {
		case liveOK && deadOK:
			e.state = mergeBoth
		case liveOK:
			e.state = mergeLiveOnly
		case deadOK:
			e.state = mergeDeadOnly
		default:
			e.state = mergeExhausted
		}
	default:
		if !e.current.Next() {
			e.retire(e.current)
		}
	}

	if err := e.live.Err(); err != nil {
		e.fail(err)
		return false
	}
	if err := e.dead.Err(); err != nil {
		e.fail(err)
		return false
	}

	switch e.state {
	case mergeBoth:
		if e.before(e.dead.Record(), e.live.Record()) {
			e.current = e.dead
		} else {
			e.current = e.live
		}
	case mergeLiveOnly:
		e.current = e.live
	case mergeDeadOnly:
		e.current = e.dead
	default:
		e.current = nil
		return false
	}
	return true
}

func (e *mergeEnumerator) retire(side RecordEnumerator) {
	dead := side == e.dead
	switch e.state {
	case mergeBoth:
		if dead {
			e.state = mergeLiveOnly
		} else {
			e.state = mergeDeadOnly
		}
	case mergeLiveOnly, mergeDeadOnly:
		e.state = mergeExhausted
	}
}

func (e *mergeEnumerator) fail(err error) {
	e.err = err
	e.state = mergeExhausted
	e.current = nil
}

// before reports whether a sorts strictly ahead of b in scan order.
func (e *mergeEnumerator) before(a, b *Record) bool {
	var c int
	switch e.order {
	case BySequence:
		c = cmpUint(uint64(a.Sequence), uint64(b.Sequence))
	case ByExpiration:
		c = cmpUint(uint64(a.Expiration), uint64(b.Expiration))
		if c == 0 {
			c = strings.Compare(a.Key, b.Key)
		}
	default:
		c = strings.Compare(a.Key, b.Key)
	}
	if e.descending {
		return c > 0
	}
	return c < 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (e *mergeEnumerator) Record() *Record {
	if e.current == nil {
		return nil
	}
	return e.current.Record()
}

func (e *mergeEnumerator) Key() string {
	if e.current == nil {
		return ""
	}
	return e.current.Key()
}

func (e *mergeEnumerator) Sequence() Sequence {
	if e.current == nil {
		return 0
	}
	return e.current.Sequence()
}

func (e *mergeEnumerator) Expiration() Expiration {
	if e.current == nil {
		return NoExpiration
	}
	return e.current.Expiration()
}

func (e *mergeEnumerator) Err() error { return e.err }

func (e *mergeEnumerator) Close() {
	e.live.Close()
	e.dead.Close()
	e.current = nil
	e.state = mergeExhausted
}
