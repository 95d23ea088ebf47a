package docstore

// CommittedView reads the committed state of the database, ignoring the
// open transaction. It is safe to use from any goroutine, including while
// another goroutine holds the transaction.
type CommittedView struct {
	db *DB
}

func (db *DB) CommittedView() *CommittedView {
	return &CommittedView{db: db}
}

// Get returns the committed version of a document; fails with ErrNotFound
// if it doesn't exist. Documents read here can't be saved.
func (v *CommittedView) Get(docID string) (*Document, error) {
	var rec *Record
	err := v.db.viewCommitted(func(stx StorageTx) (err error) {
		rec, err = v.db.docs.Read(stx, docID, EntireBody)
		return
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errf(CodeNotFound, "%s", docID)
	}
	return v.committedDoc(rec)
}

func (v *CommittedView) GetBySequence(seq Sequence) (*Document, error) {
	var rec *Record
	err := v.db.viewCommitted(func(stx StorageTx) (err error) {
		rec, err = v.db.docs.GetBySequence(stx, seq, EntireBody)
		return
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errf(CodeNotFound, "sequence %d", seq)
	}
	return v.committedDoc(rec)
}

func (v *CommittedView) committedDoc(rec *Record) (*Document, error) {
	doc, err := v.db.documentFromRecord(rec, EntireBody)
	if err != nil {
		return nil, err
	}
	doc.committed = true
	return doc, nil
}

// LastSequence returns the last committed sequence without touching storage.
func (v *CommittedView) LastSequence() Sequence {
	return v.db.live.committedLastSequence()
}

func (v *CommittedView) DocumentCount() (int, error) {
	var n int
	err := v.db.viewCommitted(func(stx StorageTx) (err error) {
		n, err = v.db.docs.RecordCount(stx)
		return
	})
	return n, err
}
