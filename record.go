package docstore

import (
	"fmt"
	"strings"
	"time"
)

// Sequence is a store-assigned, strictly increasing write counter.
type Sequence uint64

// DocumentFlags are stored on every record.
type DocumentFlags uint8

const (
	DocDeleted DocumentFlags = 1 << iota
	DocConflicted
	DocHasAttachments
	DocSynced

	// DocExists is reported by Document.Flags and never stored.
	DocExists

	storedFlagsMask = DocDeleted | DocConflicted | DocHasAttachments | DocSynced
)

func (f DocumentFlags) Contains(v DocumentFlags) bool {
	return (f & v) == v
}

func (f DocumentFlags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, x := range []struct {
		f    DocumentFlags
		name string
	}{
		{DocExists, "exists"},
		{DocDeleted, "deleted"},
		{DocConflicted, "conflicted"},
		{DocHasAttachments, "attachments"},
		{DocSynced, "synced"},
	} {
		if f.Contains(x.f) {
			parts = append(parts, x.name)
		}
	}
	return strings.Join(parts, "|")
}

// Expiration is a deadline in milliseconds since the Unix epoch; 0 means none.
type Expiration int64

const NoExpiration Expiration = 0

func ExpirationFromTime(t time.Time) Expiration {
	if t.IsZero() {
		return NoExpiration
	}
	ms := t.UnixMilli()
	if ms <= 0 {
		ms = 1
	}
	return Expiration(ms)
}

// Time returns the deadline, or the zero time for NoExpiration.
func (e Expiration) Time() time.Time {
	if e == NoExpiration {
		return time.Time{}
	}
	return time.UnixMilli(int64(e))
}

func (e Expiration) String() string {
	if e == NoExpiration {
		return "never"
	}
	return e.Time().UTC().Format(time.RFC3339Nano)
}

// ContentOption controls how much of a record is read.
type ContentOption int

const (
	MetaOnly ContentOption = iota
	EntireBody
)

// Record is one stored document state inside a KeyStore.
type Record struct {
	Key        string
	Version    []byte // current revision ID
	Body       []byte // encoded revision tree; nil when read with MetaOnly
	Flags      DocumentFlags
	Sequence   Sequence
	Expiration Expiration
	BodySize   int
}

func (rec *Record) String() string {
	if rec == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s@%d[%s] v=%s exp=%v", rec.Key, rec.Sequence, rec.Flags, rec.Version, rec.Expiration)
}

// RecordUpdate is the input of KeyStore.Set.
type RecordUpdate struct {
	Key     string
	Version []byte
	Body    []byte
	Flags   DocumentFlags
}

// SeqCondition makes a write conditional on the record's current sequence.
// The zero value is unconditional.
type SeqCondition struct {
	Check bool
	Seq   Sequence
}

// Unconditional overwrites whatever is stored.
var Unconditional = SeqCondition{}

// IfSequence requires the record to currently have the given sequence;
// IfSequence(0) requires the record not to exist.
func IfSequence(seq Sequence) SeqCondition {
	return SeqCondition{Check: true, Seq: seq}
}

func (c SeqCondition) matches(existing *Record) bool {
	if !c.Check {
		return true
	}
	if existing == nil {
		return c.Seq == 0
	}
	return existing.Sequence == c.Seq
}

func (c SeqCondition) String() string {
	if !c.Check {
		return "any"
	}
	return fmt.Sprintf("seq=%d", c.Seq)
}
