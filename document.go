package docstore

import (
	"errors"
	"slices"
	"strings"

	"github.com/andreyvit/docstore/revtree"
	"go.uber.org/zap"
)

// Revision is a snapshot of one revision of a Document.
type Revision struct {
	ID       revtree.RevID
	Flags    revtree.Flags
	Sequence Sequence
	Body     []byte // nil unless the body is loaded
}

func (r Revision) IsLeaf() bool    { return r.Flags.Has(revtree.Leaf) }
func (r Revision) IsDeleted() bool { return r.Flags.Has(revtree.Deleted) }

// Document is a caller-owned, mutable copy of a stored document and its
// revision tree, with a cursor selecting one revision. Documents read
// without bodies load their tree on first use.
//
// A Document is not safe for concurrent use.
type Document struct {
	db        *DB
	committed bool // reads bypass the open transaction

	id       string
	flags    DocumentFlags
	revID    revtree.RevID
	sequence Sequence

	tree     *revtree.Tree // nil until loaded
	selected int           // index into tree; with tree == nil, 0 is the current revision
	removed  []revtree.RevID
}

func newDocument(db *DB, docID string) *Document {
	return &Document{
		db:       db,
		id:       docID,
		tree:     revtree.New(),
		selected: -1,
	}
}

func (db *DB) documentFromRecord(rec *Record, content ContentOption) (*Document, error) {
	d := &Document{
		db:       db,
		id:       rec.Key,
		flags:    rec.Flags & storedFlagsMask,
		revID:    revtree.RevID(rec.Version),
		sequence: rec.Sequence,
	}
	if content == EntireBody {
		tree, err := revtree.Decode(rec.Body, uint64(rec.Sequence))
		if err != nil {
			return nil, revTreeErr(err, rec.Key)
		}
		d.tree = tree
	}
	return d, nil
}

// revTreeErr maps revtree errors to error codes.
func revTreeErr(err error, docID string) error {
	code := CodeUnexpectedError
	switch {
	case errors.Is(err, revtree.ErrBadRevID):
		code = CodeBadRevisionID
	case errors.Is(err, revtree.ErrConflict):
		code = CodeConflict
	case errors.Is(err, revtree.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, revtree.ErrInvalidHistory):
		code = CodeInvalidParameter
	case errors.Is(err, revtree.ErrCorrupt):
		code = CodeCorruptRevisionData
	}
	return wrapErrf(code, err, "%s", docID)
}

func (d *Document) ID() string { return d.id }
func (d *Document) RevID() revtree.RevID { return d.revID }
func (d *Document) Sequence() Sequence { return d.sequence }
func (d *Document) Exists() bool { return d.sequence > 0 }
func (d *Document) IsDeleted() bool { return d.flags.Contains(DocDeleted) }
func (d *Document) IsConflicted() bool { return d.flags.Contains(DocConflicted) }
func (d *Document) Selected() int { return d.selected }
func (d *Document) String() string { return d.id + "@" + string(d.revID) }

func (d *Document) view(f func(StorageTx) error) error {
	if d.committed {
		return d.db.viewCommitted(f)
	}
	return d.db.view(f)
}

// Flags returns the stored flags plus DocExists for saved documents.
func (d *Document) Flags() DocumentFlags {
	if d.Exists() {
		return d.flags | DocExists
	}
	return d.flags
}

// Expiration returns the document's deadline, or NoExpiration.
func (d *Document) Expiration() (Expiration, error) {
	var exp Expiration
	err := d.view(func(stx StorageTx) (err error) {
		exp, err = d.db.docs.GetExpiration(stx, d.id)
		return
	})
	return exp, err
}

// Type returns the document type saved with the revision tree.
func (d *Document) Type() (string, error) {
	if err := d.ensureTree(); err != nil {
		return "", err
	}
	return d.tree.Type(), nil
}

func (d *Document) SetType(typ string) error {
	if err := d.ensureTree(); err != nil {
		return err
	}
	d.tree.SetType(typ)
	return nil
}

func (d *Document) ensureTree() error {
	if d.tree != nil {
		return nil
	}
	var rec *Record
	err := d.view(func(stx StorageTx) (err error) {
		rec, err = d.db.docs.Read(stx, d.id, EntireBody)
		return
	})
	if err != nil {
		return err
	}
	if rec == nil {
		return errf(CodeNotFound, "%s", d.id)
	}
	if rec.Sequence != d.sequence {
		return errf(CodeConflict, "%s: changed since it was read", d.id)
	}
	tree, err := revtree.Decode(rec.Body, uint64(rec.Sequence))
	if err != nil {
		return revTreeErr(err, d.id)
	}
	d.tree = tree
	if d.selected >= 0 {
		d.selected = tree.Current()
	}
	return nil
}

func (d *Document) selectedRev() *revtree.Rev {
	if d.tree == nil {
		return nil
	}
	return d.tree.Rev(d.selected)
}

// SelectedRev returns the selected revision, or a zero Revision if nothing
// is selected.
func (d *Document) SelectedRev() Revision {
	if d.tree == nil {
		if d.selected < 0 || !d.Exists() {
			return Revision{}
		}
		flags := revtree.Leaf
		if d.IsDeleted() {
			flags |= revtree.Deleted
		}
		return Revision{ID: d.revID, Flags: flags, Sequence: d.sequence}
	}
	r := d.selectedRev()
	if r == nil {
		return Revision{}
	}
	rev := Revision{ID: r.ID, Flags: r.Flags, Sequence: Sequence(r.Sequence)}
	if r.BodyState == revtree.BodyLoaded {
		rev.Body = r.Body
	}
	return rev
}

func (d *Document) SelectCurrent() bool {
	if d.tree == nil {
		if !d.Exists() {
			return false
		}
		d.selected = 0
		return true
	}
	d.selected = d.tree.Current()
	return d.selected >= 0
}

// SelectRevision selects revID, optionally loading its body. A missing body
// isn't an error.
func (d *Document) SelectRevision(revID revtree.RevID, withBody bool) error {
	if err := d.ensureTree(); err != nil {
		return err
	}
	i := d.tree.Find(revID)
	if i < 0 {
		return errf(CodeNotFound, "%s: revision %s", d.id, revID)
	}
	d.selected = i
	if withBody {
		if _, err := d.LoadRevisionBody(); err != nil {
			return err
		}
	}
	return nil
}

// SelectParent moves the selection to the parent of the selected revision.
// It returns false, leaving the selection alone, at a root.
func (d *Document) SelectParent() bool {
	if !d.treeForCursor() {
		return false
	}
	p := d.tree.Parent(d.selected)
	if p == revtree.NoParent {
		return false
	}
	d.selected = p
	return true
}

// SelectNext moves to the next revision in tree order: the current
// revision, the other leaves, then the rest, each by descending ID.
func (d *Document) SelectNext() bool {
	if !d.treeForCursor() {
		return false
	}
	if d.selected+1 >= d.tree.Len() {
		return false
	}
	d.selected++
	return true
}

// SelectNextLeaf moves to the next leaf revision, skipping tombstones unless
// includeDeleted is set. It returns false when there are no more leaves.
func (d *Document) SelectNextLeaf(includeDeleted, withBody bool) (bool, error) {
	if err := d.ensureTree(); err != nil {
		return false, err
	}
	for i := d.selected + 1; i < d.tree.Len(); i++ {
		r := d.tree.Rev(i)
		if !r.IsLeaf() || (r.IsDeleted() && !includeDeleted) {
			continue
		}
		d.selected = i
		if withBody {
			if _, err := d.LoadRevisionBody(); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	return false, nil
}

func (d *Document) treeForCursor() bool {
	if err := d.ensureTree(); err != nil {
		d.db.logger.Warn("cannot load revision tree", zap.String("doc", d.id), zap.Error(err))
		return false
	}
	return d.selected >= 0
}

// LoadRevisionBody makes the selected revision's body available. It returns
// false if the body is gone for good, which happens to non-leaf revisions
// after compaction.
func (d *Document) LoadRevisionBody() (bool, error) {
	if d.selected < 0 {
		return false, nil
	}
	if err := d.ensureTree(); err != nil {
		return false, err
	}
	r := d.selectedRev()
	if r == nil {
		return false, nil
	}
	switch r.BodyState {
	case revtree.BodyLoaded:
		return true, nil
	case revtree.BodyDiscarded:
		return false, nil
	}
	var body []byte
	err := d.view(func(stx StorageTx) (err error) {
		body, err = d.db.archivedBody(stx, d.id, r.ID)
		return
	})
	if err != nil {
		return false, err
	}
	if body == nil {
		r.BodyState = revtree.BodyDiscarded
		return false, nil
	}
	r.Body, r.BodyState = body, revtree.BodyLoaded
	return true, nil
}

// HasRevisionBody reports whether LoadRevisionBody would succeed.
func (d *Document) HasRevisionBody() bool {
	if d.tree == nil {
		return d.selected >= 0 && d.Exists()
	}
	r := d.selectedRev()
	if r == nil {
		return false
	}
	switch r.BodyState {
	case revtree.BodyLoaded:
		return true
	case revtree.BodyDiscarded:
		return false
	}
	var body []byte
	err := d.view(func(stx StorageTx) (err error) {
		body, err = d.db.archivedBody(stx, d.id, r.ID)
		return
	})
	return err == nil && body != nil
}

func revFlags(deleted, hasAttachments bool) revtree.Flags {
	var f revtree.Flags
	if deleted {
		f |= revtree.Deleted
	}
	if hasAttachments {
		f |= revtree.HasAttachments
	}
	return f
}

// InsertRevision adds a revision as a child of the selected revision, or
// as a root if none is selected, and selects it. Returns false if the
// revision was already present.
func (d *Document) InsertRevision(revID revtree.RevID, body []byte, deleted, hasAttachments, allowConflict bool) (bool, error) {
	if err := d.ensureTree(); err != nil {
		return false, err
	}
	parent := revtree.NoParent
	if d.selected >= 0 && d.tree.Len() > 0 {
		parent = d.selected
	}
	i, inserted, err := d.tree.Insert(revID, body, revFlags(deleted, hasAttachments), parent, allowConflict)
	if err != nil {
		return false, revTreeErr(err, d.id)
	}
	d.selected = i
	d.updateFromTree()
	return inserted, nil
}

// InsertRevisionWithHistory adds a revision with its ancestry (newest first)
// and selects it. Returns the index in history of the common ancestor,
// which equals the number of revisions added.
func (d *Document) InsertRevisionWithHistory(body []byte, deleted, hasAttachments bool, history []revtree.RevID) (int, error) {
	if err := d.ensureTree(); err != nil {
		return -1, err
	}
	common, err := d.tree.InsertHistory(history, body, revFlags(deleted, hasAttachments))
	if err != nil {
		return -1, revTreeErr(err, d.id)
	}
	d.selected = d.tree.Find(history[0])
	d.updateFromTree()
	return common, nil
}

// PurgeRevision removes revID, its descendants and ancestors left without
// children from the tree. Nothing is written until Save; purging every
// revision makes Save delete the document.
func (d *Document) PurgeRevision(revID revtree.RevID) (int, error) {
	if err := d.ensureTree(); err != nil {
		return 0, err
	}
	n := d.removeRevs(func() int { return d.tree.Purge(revID) })
	d.updateFromTree()
	return n, nil
}

// removeRevs runs a tree mutation that deletes revisions, remembering what
// went away and keeping the selection on the same revision if it survived.
func (d *Document) removeRevs(f func() int) int {
	before := d.revIDs()
	var sel revtree.RevID
	if r := d.selectedRev(); r != nil {
		sel = r.ID
	}
	n := f()
	if n == 0 {
		return 0
	}
	for _, id := range before {
		if d.tree.Find(id) < 0 {
			d.removed = append(d.removed, id)
		}
	}
	if d.selected = d.tree.Find(sel); d.selected < 0 {
		d.selected = d.tree.Current()
	}
	return n
}

func (d *Document) revIDs() []revtree.RevID {
	ids := make([]revtree.RevID, d.tree.Len())
	for i := range ids {
		ids[i] = d.tree.Rev(i).ID
	}
	return ids
}

func (d *Document) treeFlags() DocumentFlags {
	cur := d.tree.CurrentRev()
	if cur == nil {
		return 0
	}
	var f DocumentFlags
	if cur.IsDeleted() {
		f |= DocDeleted
	}
	if d.tree.Conflicted() {
		f |= DocConflicted
	}
	if d.tree.HasAttachments() {
		f |= DocHasAttachments
	}
	return f
}

func (d *Document) updateFromTree() {
	if cur := d.tree.CurrentRev(); cur != nil {
		d.revID = cur.ID
	} else {
		d.revID = ""
	}
	d.flags = d.treeFlags()
}

// Save writes the revision tree back, after pruning it to maxDepth
// generations (0 means the database default). It fails with ErrConflict if
// the document was saved by someone else since it was read.
func (d *Document) Save(maxDepth int) error {
	if d.committed {
		return errf(CodeNotWriteable, "%s: read from a committed view", d.id)
	}
	if err := d.ensureTree(); err != nil {
		return err
	}
	if !d.tree.Changed() && len(d.removed) == 0 {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = d.db.maxDepth
	}
	return d.db.update(func(tx *Tx) error {
		return d.save(tx, maxDepth)
	})
}

func (d *Document) save(tx *Tx, maxDepth int) error {
	db, stx := d.db, tx.stx
	d.removeRevs(func() int { return d.tree.Prune(maxDepth) })

	if d.tree.Len() == 0 {
		if d.sequence == 0 {
			d.tree.Saved(0)
			d.removed = nil
			return nil
		}
		ok, err := db.docs.Delete(stx, d.id, IfSequence(d.sequence))
		if err != nil {
			return err
		}
		if !ok {
			return errf(CodeConflict, "%s: changed since it was read", d.id)
		}
		if err := db.dropArchivedBodies(stx, d.id); err != nil {
			return err
		}
		if db.verbose {
			db.logf("db: PURGE %s", d.id)
		}
		tx.addChange(Change{DocID: d.id, Op: OpPurge})
		d.tree.Saved(0)
		d.sequence, d.flags, d.removed = 0, 0, nil
		return nil
	}

	var toArchive []*revtree.Rev
	for i := 0; i < d.tree.Len(); i++ {
		r := d.tree.Rev(i)
		if !r.IsLeaf() && r.BodyState == revtree.BodyLoaded && !r.Flags.Has(revtree.Archived) {
			r.Flags |= revtree.Archived
			toArchive = append(toArchive, r)
		}
	}
	unarchive := func() {
		for _, r := range toArchive {
			r.Flags &^= revtree.Archived
		}
	}

	data, err := d.tree.Encode()
	if err != nil {
		unarchive()
		return wrapErrf(CodeCorruptRevisionData, err, "%s: encode", d.id)
	}
	cur := d.tree.CurrentRev()
	flags := d.treeFlags()
	seq, err := db.docs.Set(stx, RecordUpdate{
		Key:     d.id,
		Version: []byte(cur.ID),
		Body:    data,
		Flags:   flags,
	}, IfSequence(d.sequence), true)
	if err == nil && seq == 0 {
		err = errf(CodeConflict, "%s: changed since it was read", d.id)
	}
	if err != nil {
		unarchive()
		if db.verbose {
			db.logf("db: PUT.FAILED %s %s: %v", d.id, cur.ID, err)
		}
		return err
	}

	// The record is written; a failure past this point leaves the
	// transaction unusable.
	fail := func(err error) error {
		unarchive()
		tx.failed = true
		return err
	}
	for _, r := range toArchive {
		if err := db.archiveBody(stx, d.id, r.ID, r.Body); err != nil {
			return fail(err)
		}
	}
	if len(d.removed) > 0 {
		if err := db.dropArchivedBodies(stx, d.id, slices.Compact(d.removed)...); err != nil {
			return fail(err)
		}
	}

	d.tree.Saved(uint64(seq))
	d.sequence, d.flags, d.removed = seq, flags, nil
	op := OpPut
	if flags.Contains(DocDeleted) {
		op = OpDelete
	}
	if db.verbose {
		db.logf("db: %s %s@%d %s [%s]", strings.ToUpper(op.String()), d.id, seq, cur.ID, flags)
	}
	tx.addChange(Change{DocID: d.id, RevID: cur.ID, Sequence: seq, Op: op})
	return nil
}
