package revtree

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const encodingVersion = 1

type encodedTree struct {
	Version int          `msgpack:"v"`
	Type    string       `msgpack:"t,omitempty"`
	Revs    []encodedRev `msgpack:"r"`
}

type encodedRev struct {
	ID     RevID  `msgpack:"i"`
	Parent int    `msgpack:"p"`
	Flags  Flags  `msgpack:"f,omitempty"`
	Seq    uint64 `msgpack:"s,omitempty"`
	Inline bool   `msgpack:"n,omitempty"`
	Body   []byte `msgpack:"b,omitempty"`
}

// Encode serializes the tree. Loaded bodies of revisions not flagged
// Archived are stored inline; revisions that are still Unsaved are written with
// sequence 0, which Decode replaces with the sequence of the record the tree
// is stored in.
func (t *Tree) Encode() ([]byte, error) {
	et := encodedTree{
		Version: encodingVersion,
		Type:    t.docType,
		Revs:    make([]encodedRev, len(t.revs)),
	}
	for i, r := range t.revs {
		er := encodedRev{
			ID:     r.ID,
			Parent: r.Parent,
			Flags:  r.Flags & persistentFlags,
		}
		if !r.IsUnsaved() {
			er.Seq = r.Sequence
		}
		if r.BodyState == BodyLoaded && !r.Flags.Has(Archived) {
			er.Inline = true
			er.Body = r.Body
		}
		et.Revs[i] = er
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(&et); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a tree produced by Encode. Revisions stored with sequence 0
// get seq.
func Decode(data []byte, seq uint64) (*Tree, error) {
	var et encodedTree
	if err := msgpack.Unmarshal(data, &et); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if et.Version != encodingVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, et.Version)
	}
	n := len(et.Revs)
	t := &Tree{docType: et.Type, revs: make([]*Rev, n)}
	for i, er := range et.Revs {
		if !er.ID.Valid() {
			return nil, fmt.Errorf("%w: bad revision ID %q", ErrCorrupt, er.ID)
		}
		if er.Parent != NoParent && (er.Parent < 0 || er.Parent >= n || er.Parent == i) {
			return nil, fmt.Errorf("%w: revision %s has invalid parent %d", ErrCorrupt, er.ID, er.Parent)
		}
		r := &Rev{
			ID:       er.ID,
			Parent:   er.Parent,
			Flags:    er.Flags & persistentFlags,
			Sequence: er.Seq,
		}
		if r.Sequence == 0 {
			r.Sequence = seq
		}
		switch {
		case er.Inline:
			r.Body, r.BodyState = er.Body, BodyLoaded
			if r.Body == nil {
				r.Body = []byte{}
			}
		case r.Flags.Has(Archived):
			r.BodyState = BodyUnloaded
		default:
			r.BodyState = BodyDiscarded
		}
		t.revs[i] = r
	}
	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) checkAcyclic() error {
	for i := range t.revs {
		steps := 0
		for j := t.revs[i].Parent; j != NoParent; j = t.revs[j].Parent {
			if steps++; steps > len(t.revs) {
				return fmt.Errorf("%w: cycle through %s", ErrCorrupt, t.revs[i].ID)
			}
		}
	}
	return nil
}
