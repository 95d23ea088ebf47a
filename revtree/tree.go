// Package revtree models the revision history of a single document: an
// arena of revisions linked to their parents by index, with a
// deterministically chosen current revision.
package revtree

import (
	"errors"
	"slices"
)

var (
	ErrBadRevID       = errors.New("bad revision ID")
	ErrNotFound       = errors.New("revision not found")
	ErrConflict       = errors.New("revision conflict")
	ErrInvalidHistory = errors.New("invalid revision history")
	ErrCorrupt        = errors.New("corrupt revision tree")
)

type Flags uint8

const (
	Deleted Flags = 1 << iota
	Leaf
	Unsaved // inserted since the tree was loaded; not persisted
	HasAttachments
	Archived // body is kept outside the tree

	persistentFlags = Deleted | Leaf | HasAttachments | Archived
)

func (f Flags) Has(v Flags) bool { return f&v == v }

// BodyState tells a body that hasn't been fetched yet apart from one that
// is gone for good.
type BodyState uint8

const (
	BodyUnloaded BodyState = iota
	BodyLoaded
	BodyDiscarded
)

func (s BodyState) String() string {
	switch s {
	case BodyUnloaded:
		return "unloaded"
	case BodyLoaded:
		return "loaded"
	case BodyDiscarded:
		return "discarded"
	default:
		return "invalid"
	}
}

const NoParent = -1

type Rev struct {
	ID        RevID
	Parent    int // index in the tree, or NoParent
	Flags     Flags
	Sequence  uint64
	Body      []byte
	BodyState BodyState
}

func (r *Rev) IsLeaf() bool    { return r.Flags.Has(Leaf) }
func (r *Rev) IsDeleted() bool { return r.Flags.Has(Deleted) }
func (r *Rev) IsUnsaved() bool { return r.Flags.Has(Unsaved) }

// IsActive reports whether r is a leaf that isn't a tombstone.
func (r *Rev) IsActive() bool { return r.IsLeaf() && !r.IsDeleted() }

// Tree keeps its revisions sorted: leaves first (live ones before
// tombstones), then by descending RevID.
// The first revision is therefore the current one, and indexes change after
// every mutation.
type Tree struct {
	revs    []*Rev
	docType string
	changed bool
}

func New() *Tree {
	return &Tree{}
}

func (t *Tree) Len() int { return len(t.revs) }

func (t *Tree) Rev(i int) *Rev {
	if i < 0 || i >= len(t.revs) {
		return nil
	}
	return t.revs[i]
}

// Find returns the index of id, or -1.
func (t *Tree) Find(id RevID) int {
	for i, r := range t.revs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tree) Get(id RevID) *Rev {
	return t.Rev(t.Find(id))
}

// Current returns the index of the winning revision, or -1 for an empty tree.
func (t *Tree) Current() int {
	if len(t.revs) == 0 {
		return -1
	}
	return 0
}

func (t *Tree) CurrentRev() *Rev {
	return t.Rev(t.Current())
}

func (t *Tree) Parent(i int) int {
	if r := t.Rev(i); r != nil {
		return r.Parent
	}
	return NoParent
}

// Conflicted reports whether some non-deleted leaf other than the current
// revision exists.
func (t *Tree) Conflicted() bool {
	for _, r := range t.revs[min(1, len(t.revs)):] {
		if r.IsActive() {
			return true
		}
	}
	return false
}

func (t *Tree) HasAttachments() bool {
	cur := t.CurrentRev()
	return cur != nil && cur.Flags.Has(HasAttachments)
}

func (t *Tree) Type() string { return t.docType }

func (t *Tree) SetType(v string) {
	if t.docType != v {
		t.docType = v
		t.changed = true
	}
}

// Changed reports whether the tree was modified since it was created or decoded.
func (t *Tree) Changed() bool { return t.changed }

// Saved clears the Unsaved flags and assigns seq to the revisions that had them.
func (t *Tree) Saved(seq uint64) {
	for _, r := range t.revs {
		if r.IsUnsaved() {
			r.Flags &^= Unsaved
			r.Sequence = seq
		}
	}
	t.changed = false
}

// Insert adds a revision as a child of parent (NoParent for a root) and
// returns its index. Inserting an ID that is already present is a no-op
// that returns the existing index and false.
//
// Unless allowConflict is set, the parent must be a leaf, and a root may
// only be added to an empty tree.
func (t *Tree) Insert(id RevID, body []byte, flags Flags, parent int, allowConflict bool) (int, bool, error) {
	gen := id.Generation()
	if gen == 0 {
		return -1, false, ErrBadRevID
	}
	if i := t.Find(id); i >= 0 {
		return i, false, nil
	}
	if parent == NoParent {
		if gen != 1 {
			return -1, false, ErrBadRevID
		}
		if len(t.revs) > 0 && !allowConflict {
			return -1, false, ErrConflict
		}
	} else {
		p := t.Rev(parent)
		if p == nil {
			return -1, false, ErrNotFound
		}
		if gen != p.ID.Generation()+1 {
			return -1, false, ErrBadRevID
		}
		if !p.IsLeaf() && !allowConflict {
			return -1, false, ErrConflict
		}
	}

	t.add(id, body, flags, parent, BodyLoaded)
	t.sort()
	return t.Find(id), true, nil
}

func (t *Tree) add(id RevID, body []byte, flags Flags, parent int, state BodyState) {
	if parent != NoParent {
		t.revs[parent].Flags &^= Leaf
	}
	if state != BodyLoaded {
		body = nil
	}
	t.revs = append(t.revs, &Rev{
		ID:        id,
		Parent:    parent,
		Flags:     (flags & (Deleted | HasAttachments)) | Leaf | Unsaved,
		Body:      body,
		BodyState: state,
	})
	t.changed = true
}

// InsertHistory adds a revision together with its ancestry, given newest
// first. Ancestors missing from the tree are added without bodies. It
// returns the index in history of the first revision that was already
// present (len(history) if none was), which is also the number of revisions
// added.
//
// Branching is always allowed: history comes from another replica. A
// history unrelated to a non-empty tree is accepted only if it goes back to
// generation 1.
func (t *Tree) InsertHistory(history []RevID, body []byte, flags Flags) (int, error) {
	if len(history) == 0 {
		return -1, ErrInvalidHistory
	}
	for i, id := range history {
		gen := id.Generation()
		if gen == 0 {
			return -1, ErrBadRevID
		}
		if i > 0 && gen != history[i-1].Generation()-1 {
			return -1, ErrInvalidHistory
		}
	}

	common := len(history)
	parent := NoParent
	for i, id := range history {
		if j := t.Find(id); j >= 0 {
			common, parent = i, j
			break
		}
	}
	if common == 0 {
		return 0, nil
	}
	if parent == NoParent && len(t.revs) > 0 && history[len(history)-1].Generation() > 1 {
		return -1, ErrInvalidHistory
	}

	for i := common - 1; i >= 0; i-- {
		if i == 0 {
			t.add(history[i], body, flags, parent, BodyLoaded)
		} else {
			t.add(history[i], nil, 0, parent, BodyDiscarded)
		}
		parent = len(t.revs) - 1
	}
	t.sort()
	return common, nil
}

// Purge removes the revision, everything descending from it, and every
// ancestor left without children. Returns the number of revisions removed.
func (t *Tree) Purge(id RevID) int {
	i := t.Find(id)
	if i < 0 {
		return 0
	}
	doomed := make([]bool, len(t.revs))
	doomed[i] = true
	for changed := true; changed; {
		changed = false
		for j, r := range t.revs {
			if !doomed[j] && r.Parent != NoParent && doomed[r.Parent] {
				doomed[j] = true
				changed = true
			}
		}
	}
	for p := t.revs[i].Parent; p != NoParent && !t.hasSurvivingChild(p, doomed); p = t.revs[p].Parent {
		doomed[p] = true
	}
	return t.removeMarked(doomed)
}

func (t *Tree) hasSurvivingChild(p int, doomed []bool) bool {
	for j, r := range t.revs {
		if r.Parent == p && !doomed[j] {
			return true
		}
	}
	return false
}

// Prune drops revisions more than maxDepth generations away from every
// leaf; their surviving children become roots. maxDepth <= 0 disables
// pruning. Returns the number of revisions removed.
func (t *Tree) Prune(maxDepth int) int {
	if maxDepth <= 0 || len(t.revs) <= maxDepth {
		return 0
	}
	keep := make([]bool, len(t.revs))
	for i, r := range t.revs {
		if !r.IsLeaf() {
			continue
		}
		depth := 0
		for j := i; j != NoParent && depth < maxDepth; j = t.revs[j].Parent {
			keep[j] = true
			depth++
		}
	}
	doomed := make([]bool, len(t.revs))
	for i := range keep {
		doomed[i] = !keep[i]
	}
	return t.removeMarked(doomed)
}

func (t *Tree) removeMarked(doomed []bool) int {
	pos := make([]int, len(t.revs))
	var kept []*Rev
	for i, r := range t.revs {
		if doomed[i] {
			pos[i] = NoParent
		} else {
			pos[i] = len(kept)
			kept = append(kept, r)
		}
	}
	n := len(t.revs) - len(kept)
	if n == 0 {
		return 0
	}
	for _, r := range kept {
		if r.Parent != NoParent {
			r.Parent = pos[r.Parent]
		}
	}
	t.revs = kept
	t.fixLeaves()
	t.sort()
	t.changed = true
	return n
}

func (t *Tree) fixLeaves() {
	hasChild := make([]bool, len(t.revs))
	for _, r := range t.revs {
		if r.Parent != NoParent {
			hasChild[r.Parent] = true
		}
	}
	for i, r := range t.revs {
		if hasChild[i] {
			r.Flags &^= Leaf
		} else {
			r.Flags |= Leaf
		}
	}
}

func (t *Tree) sort() {
	n := len(t.revs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compareRevs(t.revs[a], t.revs[b])
	})
	pos := make([]int, n)
	for newi, oldi := range order {
		pos[oldi] = newi
	}
	revs := make([]*Rev, n)
	for newi, oldi := range order {
		r := t.revs[oldi]
		if r.Parent != NoParent {
			r.Parent = pos[r.Parent]
		}
		revs[newi] = r
	}
	t.revs = revs
}

// compareRevs sorts leaves first, live leaves ahead of tombstones, then
// higher RevIDs first. A tombstone is current only when every leaf is one.
func compareRevs(a, b *Rev) int {
	if al, bl := a.IsLeaf(), b.IsLeaf(); al != bl {
		if al {
			return -1
		}
		return 1
	}
	if a.IsLeaf() {
		if ad, bd := a.IsDeleted(), b.IsDeleted(); ad != bd {
			if bd {
				return -1
			}
			return 1
		}
	}
	return -Compare(a.ID, b.ID)
}
