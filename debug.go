package docstore

import (
	"fmt"
	"strings"

	"github.com/andreyvit/docstore/revtree"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpRevisions
	DumpSequences
	DumpExpirations

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of both partitions for debugging.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	err := db.view(func(stx StorageTx) error {
		for _, s := range []*recordStore{db.live, db.dead} {
			if err := db.dumpStore(&buf, stx, f, s); err != nil {
				return err
			}
		}
		return nil
	})
	return buf.String(), err
}

func (db *DB) dumpStore(w *strings.Builder, stx StorageTx, f DumpFlags, s *recordStore) error {
	prefix := s.name
	st, err := s.stats(stx)
	if err != nil {
		return err
	}

	if f.Contains(DumpHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, st.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: seq_entries = %d, exp_entries = %d, data_size = %d, data_alloc = %d, index_size = %d\n", prefix, st.SequenceEntries, st.ExpirationEntries, st.DataSize, st.DataAlloc, st.IndexSize)
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		e, err := s.NewEnumerator(stx, ByKey, 0, RecordEnumeratorOptions{Content: EntireBody})
		if err != nil {
			return err
		}
		var pos int
		for e.Next() {
			pos++
			dumpRecord(w, prefix, f, pos, e.Record())
		}
		e.Close()
		if err := e.Err(); err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		}
	}

	for _, idx := range []struct {
		flag  DumpFlags
		order EnumOrder
	}{{DumpSequences, BySequence}, {DumpExpirations, ByExpiration}} {
		if !f.Contains(idx.flag) {
			continue
		}
		fmt.Fprintln(w, dumpSep2)
		e, err := s.NewEnumerator(stx, idx.order, 0, RecordEnumeratorOptions{})
		if err != nil {
			return err
		}
		for e.Next() {
			if idx.order == BySequence {
				fmt.Fprintf(w, "%s.seq.%d: %s\n", prefix, e.Sequence(), e.Key())
			} else {
				fmt.Fprintf(w, "%s.exp.%v: %s\n", prefix, e.Expiration(), e.Key())
			}
		}
		e.Close()
	}
	return nil
}

func dumpRecord(w *strings.Builder, prefix string, f DumpFlags, pos int, rec *Record) {
	fmt.Fprintf(w, "%s.%d = %s\n", prefix, pos, rec)
	if !f.Contains(DumpRevisions) {
		return
	}
	tree, err := revtree.Decode(rec.Body, uint64(rec.Sequence))
	if err != nil {
		fmt.Fprintf(w, "%s%s** ERROR: %v\n", indentStep, indentStep, err)
		return
	}
	if typ := tree.Type(); typ != "" {
		fmt.Fprintf(w, "%stype = %s\n", indentStep, typ)
	}
	for i := 0; i < tree.Len(); i++ {
		r := tree.Rev(i)
		parent := "-"
		if p := tree.Parent(i); p != revtree.NoParent {
			parent = string(tree.Rev(p).ID)
		}
		fmt.Fprintf(w, "%s%s <- %s (s%d %s) %s %d bytes\n", indentStep, r.ID, parent, r.Sequence, revFlagsString(r.Flags), r.BodyState, len(r.Body))
	}
}

func revFlagsString(f revtree.Flags) string {
	var parts []string
	for _, x := range []struct {
		f    revtree.Flags
		name string
	}{
		{revtree.Leaf, "leaf"},
		{revtree.Deleted, "deleted"},
		{revtree.HasAttachments, "attachments"},
		{revtree.Archived, "archived"},
	} {
		if f.Has(x.f) {
			parts = append(parts, x.name)
		}
	}
	return strings.Join(parts, "|")
}
