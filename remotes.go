package docstore

import (
	"strconv"

	"github.com/andreyvit/docstore/revtree"
)

// RemoteID is a small local number standing for a replication peer's
// address, used to remember which revision of each document a peer has.
type RemoteID uint64

const NoRemoteID RemoteID = 0

const (
	remotesBucket    = "remotes"
	remotesByAddress = "byAddress"
	remotesByID      = "byID"
	remotesMeta      = "meta"

	remoteRevsBucket = "remoteRevs"
)

var lastRemoteIDKey = []byte("lastID")

type remoteEntry struct {
	ID      RemoteID `msgpack:"id"`
	Address string   `msgpack:"addr"`
}

func remoteRevsSub(id RemoteID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// GetRemote returns the ID of the remote with the given address, assigning
// a new one if canCreate. Returns NoRemoteID if it isn't known.
func (db *DB) GetRemote(address string, canCreate bool) (RemoteID, error) {
	if address == "" {
		return NoRemoteID, errf(CodeInvalidParameter, "empty remote address")
	}
	id, err := db.lookupRemote(address)
	if err != nil || id != NoRemoteID || !canCreate {
		return id, err
	}
	err = db.update(func(tx *Tx) error {
		byAddr, err := ensureBucket(tx.stx, remotesBucket, remotesByAddress)
		if err != nil {
			return err
		}
		if data, err := byAddr.Get([]byte(address)); err != nil {
			return wrapStorageErr(err, "remote %s", address)
		} else if data != nil {
			// created by a caller sharing our transaction
			var ent remoteEntry
			if err := decodeMsgpack(data, &ent); err != nil {
				return wrapErrf(CodeCorruptData, err, "remote %s", address)
			}
			id = ent.ID
			return nil
		}

		meta, err := ensureBucket(tx.stx, remotesBucket, remotesMeta)
		if err != nil {
			return err
		}
		byID, err := ensureBucket(tx.stx, remotesBucket, remotesByID)
		if err != nil {
			return err
		}
		last, err := meta.Get(lastRemoteIDKey)
		if err != nil {
			return wrapStorageErr(err, "remotes")
		}
		n, _ := uint64FromKey(last)
		id = RemoteID(n + 1)

		data, err := encodeMsgpack(nil, &remoteEntry{ID: id, Address: address})
		if err != nil {
			return wrapErrf(CodeUnexpectedError, err, "remote %s", address)
		}
		if err := byAddr.Put([]byte(address), data); err != nil {
			return wrapStorageErr(err, "remote %s", address)
		}
		if err := byID.Put(putUint64Key(nil, uint64(id)), []byte(address)); err != nil {
			return wrapStorageErr(err, "remote %s", address)
		}
		if err := meta.Put(lastRemoteIDKey, putUint64Key(nil, uint64(id))); err != nil {
			return wrapStorageErr(err, "remotes")
		}
		if db.verbose {
			db.logf("db: REMOTE.NEW %d %s", id, address)
		}
		return nil
	})
	if err != nil {
		return NoRemoteID, err
	}
	return id, nil
}

func (db *DB) lookupRemote(address string) (RemoteID, error) {
	var id RemoteID
	err := db.view(func(stx StorageTx) error {
		b := stx.Bucket(remotesBucket, remotesByAddress)
		if b == nil {
			return nil
		}
		data, err := b.Get([]byte(address))
		if err != nil {
			return wrapStorageErr(err, "remote %s", address)
		}
		if data == nil {
			return nil
		}
		var ent remoteEntry
		if err := decodeMsgpack(data, &ent); err != nil {
			return wrapErrf(CodeCorruptData, err, "remote %s", address)
		}
		id = ent.ID
		return nil
	})
	return id, err
}

// RemoteAddress returns the address of a remote; fails with ErrNotFound for
// an unknown ID.
func (db *DB) RemoteAddress(id RemoteID) (string, error) {
	var addr string
	err := db.view(func(stx StorageTx) error {
		if b := stx.Bucket(remotesBucket, remotesByID); b != nil {
			data, err := b.Get(putUint64Key(nil, uint64(id)))
			if err != nil {
				return wrapStorageErr(err, "remote %d", id)
			}
			addr = string(data)
		}
		if addr == "" {
			return errf(CodeNotFound, "remote %d", id)
		}
		return nil
	})
	return addr, err
}

// LatestRevisionOnRemote returns the revision of docID that the remote is
// known to have, or "" if none.
func (db *DB) LatestRevisionOnRemote(id RemoteID, docID string) (revtree.RevID, error) {
	var rev revtree.RevID
	err := db.view(func(stx StorageTx) error {
		b := stx.Bucket(remoteRevsBucket, remoteRevsSub(id))
		if b == nil {
			return nil
		}
		data, err := b.Get([]byte(docID))
		if err != nil {
			return wrapStorageErr(err, "%s: revision on remote %d", docID, id)
		}
		rev = revtree.RevID(data)
		return nil
	})
	return rev, err
}

// SetLatestRevisionOnRemote records that the remote has revID of docID.
// An empty revID forgets it.
func (db *DB) SetLatestRevisionOnRemote(id RemoteID, docID string, revID revtree.RevID) error {
	if id == NoRemoteID {
		return errf(CodeInvalidParameter, "%s: no remote", docID)
	}
	if revID != "" && !revID.Valid() {
		return errf(CodeBadRevisionID, "%s: %q", docID, revID)
	}
	return db.update(func(tx *Tx) error {
		if revID == "" {
			b := tx.stx.Bucket(remoteRevsBucket, remoteRevsSub(id))
			if b == nil {
				return nil
			}
			return wrapStorageErr(b.Delete([]byte(docID)), "%s: revision on remote %d", docID, id)
		}
		b, err := ensureBucket(tx.stx, remoteRevsBucket, remoteRevsSub(id))
		if err != nil {
			return err
		}
		if db.verbose {
			db.logf("db: REMOTE.REV %d %s %s", id, docID, revID)
		}
		return wrapStorageErr(b.Put([]byte(docID), []byte(revID)), "%s: revision on remote %d", docID, id)
	})
}

// forgetRemoteRevisions drops what remotes are known to have of a document
// that is gone from storage.
func (db *DB) forgetRemoteRevisions(stx StorageTx, docID string) error {
	meta := stx.Bucket(remotesBucket, remotesMeta)
	if meta == nil {
		return nil
	}
	last, err := meta.Get(lastRemoteIDKey)
	if err != nil {
		return wrapStorageErr(err, "remotes")
	}
	n, _ := uint64FromKey(last)
	for id := RemoteID(1); id <= RemoteID(n); id++ {
		b := stx.Bucket(remoteRevsBucket, remoteRevsSub(id))
		if b == nil {
			continue
		}
		if err := b.Delete([]byte(docID)); err != nil {
			return wrapStorageErr(err, "%s: forget revision on remote %d", docID, id)
		}
	}
	return nil
}
