package docstore

import (
	"bytes"

	"github.com/andreyvit/docstore/revtree"
)

// Bodies of non-leaf revisions are moved out of the revision tree into this
// bucket when the document is saved, keyed by varbytes(docID) + revID.
// Compact drops the whole bucket.
const (
	archiveBucket = "revbodies"
	archiveSub    = "bodies"

	archiveFormatV1 = 1
)

func archivePrefix(docID string) []byte {
	return appendVarbytes(nil, []byte(docID))
}

func archiveKey(docID string, revID revtree.RevID) []byte {
	return appendArchiveKey(nil, docID, revID)
}

func appendArchiveKey(buf []byte, docID string, revID revtree.RevID) []byte {
	buf = appendVarbytes(buf, []byte(docID))
	return append(buf, revID...)
}

func (db *DB) archiveBody(stx StorageTx, docID string, revID revtree.RevID, body []byte) error {
	b, err := ensureBucket(stx, archiveBucket, archiveSub)
	if err != nil {
		return err
	}
	v := make([]byte, 0, 1+len(body))
	v = append(v, archiveFormatV1)
	v = append(v, body...)
	if err := b.Put(archiveKey(docID, revID), v); err != nil {
		return wrapStorageErr(err, "%s: archive %s", docID, revID)
	}
	return nil
}

// archivedBody returns the archived body, or nil if there is none.
func (db *DB) archivedBody(stx StorageTx, docID string, revID revtree.RevID) ([]byte, error) {
	b := stx.Bucket(archiveBucket, archiveSub)
	if b == nil {
		return nil, nil
	}
	k := appendArchiveKey(acquireKeyBytes(), docID, revID)
	v, err := b.Get(k)
	releaseKeyBytes(k)
	if err != nil {
		return nil, wrapStorageErr(err, "%s: read archived %s", docID, revID)
	}
	if len(v) == 0 {
		return nil, nil
	}
	if v[0] != archiveFormatV1 {
		return nil, wrapStorageErr(dataErrf(v, 0, nil, "unknown archive format"), "%s: read archived %s", docID, revID)
	}
	return bytes.Clone(v[1:]), nil
}

// dropArchivedBodies deletes the given revisions' bodies, or all of the
// document's bodies when revIDs is empty.
func (db *DB) dropArchivedBodies(stx StorageTx, docID string, revIDs ...revtree.RevID) error {
	b := stx.Bucket(archiveBucket, archiveSub)
	if b == nil {
		return nil
	}
	var keys [][]byte
	if len(revIDs) > 0 {
		for _, id := range revIDs {
			keys = append(keys, archiveKey(docID, id))
		}
	} else {
		rang := RawPrefix(archivePrefix(docID))
		cur := rang.newCursor(b.Cursor(), db.logger)
		for cur.Next() {
			keys = append(keys, bytes.Clone(cur.Key()))
		}
		if err := cur.Err(); err != nil {
			return wrapStorageErr(err, "%s: scan archive", docID)
		}
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return wrapStorageErr(err, "%s: drop archived body", docID)
		}
	}
	return nil
}

// dropArchive discards every archived body.
func (db *DB) dropArchive(stx StorageTx) (int, error) {
	b := stx.Bucket(archiveBucket, archiveSub)
	if b == nil {
		return 0, nil
	}
	n := b.KeyCount()
	if err := stx.DeleteBucket(archiveBucket, archiveSub); err != nil {
		return 0, wrapStorageErr(err, "drop archive")
	}
	if _, err := stx.CreateBucket(archiveBucket, archiveSub); err != nil {
		return 0, wrapStorageErr(err, "recreate archive")
	}
	return n, nil
}
