package docstore

import (
	"encoding/hex"

	"github.com/andreyvit/docstore/revtree"
	"github.com/google/uuid"
)

// Get loads a document with its revision tree. A missing document is
// ErrNotFound if mustExist, otherwise an empty Document with no revisions.
func (db *DB) Get(docID string, mustExist bool) (*Document, error) {
	if docID == "" {
		return nil, errf(CodeInvalidParameter, "empty document ID")
	}
	var doc *Document
	err := db.view(func(stx StorageTx) error {
		var err error
		doc, err = db.getIn(stx, docID, mustExist)
		return err
	})
	return doc, err
}

func (db *DB) getIn(stx StorageTx, docID string, mustExist bool) (*Document, error) {
	rec, err := db.docs.Read(stx, docID, EntireBody)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if db.verbose {
			db.logf("db: GET.NOTFOUND %s", docID)
		}
		if mustExist {
			return nil, errf(CodeNotFound, "%s", docID)
		}
		return newDocument(db, docID), nil
	}
	if db.verbose {
		db.logf("db: GET %s@%d %s [%s]", docID, rec.Sequence, rec.Version, rec.Flags)
	}
	return db.documentFromRecord(rec, EntireBody)
}

// GetMeta reads a document without its revision tree, which is loaded
// on first use.
func (db *DB) GetMeta(docID string) (*Document, error) {
	var rec *Record
	err := db.view(func(stx StorageTx) (err error) {
		rec, err = db.docs.Read(stx, docID, MetaOnly)
		return
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errf(CodeNotFound, "%s", docID)
	}
	return db.documentFromRecord(rec, MetaOnly)
}

// GetBySequence loads the document last saved with sequence seq.
// Fails with ErrNotFound if that document has been saved again since.
func (db *DB) GetBySequence(seq Sequence) (*Document, error) {
	var rec *Record
	err := db.view(func(stx StorageTx) (err error) {
		rec, err = db.docs.GetBySequence(stx, seq, EntireBody)
		return
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errf(CodeNotFound, "sequence %d", seq)
	}
	return db.documentFromRecord(rec, EntireBody)
}

func newDocID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// GetForPut loads a document that is about to get a new revision, selecting
// the revision it will be a child of. An empty docID generates a new one.
//
// With a parentRev, the parent must exist, and unless allowConflict it must
// be the current revision. Without one, the document must be new or
// currently deleted; deleting requires a parent.
func (db *DB) GetForPut(docID string, parentRev revtree.RevID, deleting, allowConflict bool) (*Document, error) {
	var doc *Document
	err := db.view(func(stx StorageTx) (err error) {
		doc, err = db.getForPut(stx, docID, parentRev, deleting, allowConflict)
		return
	})
	return doc, err
}

func (db *DB) getForPut(stx StorageTx, docID string, parentRev revtree.RevID, deleting, allowConflict bool) (*Document, error) {
	var doc *Document
	if docID == "" {
		doc = newDocument(db, newDocID())
	} else {
		var err error
		doc, err = db.getIn(stx, docID, false)
		if err != nil {
			return nil, err
		}
	}

	if parentRev != "" {
		if !parentRev.Valid() {
			return nil, errf(CodeBadRevisionID, "%s: %q", doc.id, parentRev)
		}
		i := doc.tree.Find(parentRev)
		if i < 0 {
			return nil, errf(CodeNotFound, "%s: revision %s", doc.id, parentRev)
		}
		if !allowConflict && parentRev != doc.revID {
			return nil, errf(CodeConflict, "%s: %s is not the current revision %s", doc.id, parentRev, doc.revID)
		}
		doc.selected = i
		return doc, nil
	}

	switch {
	case deleting && doc.Exists():
		return nil, errf(CodeConflict, "%s: deleting without a revision", doc.id)
	case deleting:
		return nil, errf(CodeNotFound, "%s", doc.id)
	case doc.Exists() && !doc.IsDeleted():
		return nil, errf(CodeConflict, "%s: already exists", doc.id)
	}
	// Recreating a deleted document continues its tombstone branch.
	doc.selected = doc.tree.Current()
	return doc, nil
}

// PutRequest describes a new revision to store.
type PutRequest struct {
	DocID          string // empty generates a new ID, unless ExistingRevision
	Body           []byte
	DocType        string
	Deletion       bool
	HasAttachments bool

	// ExistingRevision inserts History[0] as is, with History holding its
	// ancestors newest first. Otherwise a new revision ID is generated
	// with History[0], if any, as the parent.
	ExistingRevision bool
	AllowConflict    bool
	History          []revtree.RevID

	Save            bool
	MaxRevTreeDepth int // 0 means the database default
}

// Put adds a revision to a document and, if rq.Save, saves it. It returns
// the document and the index in rq.History of the common ancestor: the
// number of revisions that were added (for a new revision, 1 if it has a
// parent and 0 otherwise).
func (db *DB) Put(rq *PutRequest) (*Document, int, error) {
	var doc *Document
	var common int
	err := db.update(func(tx *Tx) (err error) {
		doc, common, err = db.put(tx, rq)
		return
	})
	if err != nil {
		return nil, -1, err
	}
	return doc, common, nil
}

func (db *DB) put(tx *Tx, rq *PutRequest) (*Document, int, error) {
	var doc *Document
	var common int
	if rq.ExistingRevision {
		if rq.DocID == "" {
			return nil, -1, errf(CodeInvalidParameter, "put existing revision: empty document ID")
		}
		if len(rq.History) == 0 {
			return nil, -1, errf(CodeInvalidParameter, "%s: put existing revision: empty history", rq.DocID)
		}
		var err error
		doc, err = db.getIn(tx.stx, rq.DocID, false)
		if err != nil {
			return nil, -1, err
		}
		common, err = doc.InsertRevisionWithHistory(rq.Body, rq.Deletion, rq.HasAttachments, rq.History)
		if err != nil {
			return nil, -1, err
		}
		if common == 0 {
			if db.verbose {
				db.logf("db: PUT.NOOP %s %s", doc.id, rq.History[0])
			}
			return doc, 0, nil
		}
	} else {
		var parent revtree.RevID
		if len(rq.History) > 0 {
			parent = rq.History[0]
		}
		var err error
		doc, err = db.getForPut(tx.stx, rq.DocID, parent, rq.Deletion, rq.AllowConflict)
		if err != nil {
			return nil, -1, err
		}
		if r := doc.selectedRev(); r != nil {
			parent = r.ID
		}
		revID := revtree.Generate(parent, rq.Deletion, rq.Body)
		inserted, err := doc.InsertRevision(revID, rq.Body, rq.Deletion, rq.HasAttachments, rq.AllowConflict)
		if err != nil {
			return nil, -1, err
		}
		if !inserted {
			// Same parent, body and deletion as an existing revision.
			return doc, 0, nil
		}
		if parent != "" {
			common = 1
		}
	}

	if rq.DocType != "" {
		doc.tree.SetType(rq.DocType)
	}
	if rq.Save {
		maxDepth := rq.MaxRevTreeDepth
		if maxDepth <= 0 {
			maxDepth = db.maxDepth
		}
		if err := doc.save(tx, maxDepth); err != nil {
			return nil, -1, err
		}
	}
	return doc, common, nil
}

// MarkSynced sets DocSynced on the document if it still has sequence seq.
// It reports whether the flag was set.
func (db *DB) MarkSynced(docID string, seq Sequence) (bool, error) {
	var ok bool
	err := db.update(func(tx *Tx) (err error) {
		ok, err = db.docs.SetDocumentFlag(tx.stx, docID, seq, DocSynced)
		return
	})
	return ok, err
}

// PurgeDocument removes a document and all its revisions from storage.
func (db *DB) PurgeDocument(docID string) error {
	return db.update(func(tx *Tx) error {
		ok, err := db.docs.Delete(tx.stx, docID, Unconditional)
		if err != nil {
			return err
		}
		if !ok {
			if db.verbose {
				db.logf("db: PURGE.NOTFOUND %s", docID)
			}
			return errf(CodeNotFound, "%s", docID)
		}
		if err := db.dropArchivedBodies(tx.stx, docID); err != nil {
			return err
		}
		if err := db.forgetRemoteRevisions(tx.stx, docID); err != nil {
			return err
		}
		if db.verbose {
			db.logf("db: PURGE %s", docID)
		}
		tx.addChange(Change{DocID: docID, Op: OpPurge})
		return nil
	})
}
