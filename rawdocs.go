package docstore

// Raw documents are unversioned (meta, body) pairs in named stores, kept
// outside the document keyspace. They don't get sequences or show up in
// enumerations.
const rawBucket = "raw"

type RawDocument struct {
	Key  string
	Meta []byte
	Body []byte
}

type rawValue struct {
	Meta []byte `msgpack:"m,omitempty"`
	Body []byte `msgpack:"b,omitempty"`
}

// RawGet reads a raw document; fails with ErrNotFound if it doesn't exist.
func (db *DB) RawGet(storeName, key string) (*RawDocument, error) {
	if storeName == "" || key == "" {
		return nil, errf(CodeInvalidParameter, "raw get: empty store name or key")
	}
	var doc *RawDocument
	err := db.view(func(stx StorageTx) error {
		b := stx.Bucket(rawBucket, storeName)
		if b == nil {
			return errf(CodeNotFound, "raw %s/%s", storeName, key)
		}
		data, err := b.Get([]byte(key))
		if err != nil {
			return wrapStorageErr(err, "raw %s/%s", storeName, key)
		}
		if data == nil {
			return errf(CodeNotFound, "raw %s/%s", storeName, key)
		}
		var v rawValue
		if err := decodeMsgpack(data, &v); err != nil {
			return wrapErrf(CodeCorruptData, err, "raw %s/%s", storeName, key)
		}
		doc = &RawDocument{Key: key, Meta: v.Meta, Body: v.Body}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if db.verbose {
		db.logf("db: RAW.GET %s/%s => %d+%d bytes", storeName, key, len(doc.Meta), len(doc.Body))
	}
	return doc, nil
}

// RawPut writes a raw document. Nil meta and body delete it.
func (db *DB) RawPut(storeName, key string, meta, body []byte) error {
	if storeName == "" || key == "" {
		return errf(CodeInvalidParameter, "raw put: empty store name or key")
	}
	return db.update(func(tx *Tx) error {
		if meta == nil && body == nil {
			b := tx.stx.Bucket(rawBucket, storeName)
			if b == nil {
				return nil
			}
			if db.verbose {
				db.logf("db: RAW.DELETE %s/%s", storeName, key)
			}
			return wrapStorageErr(b.Delete([]byte(key)), "raw %s/%s", storeName, key)
		}
		b, err := ensureBucket(tx.stx, rawBucket, storeName)
		if err != nil {
			return err
		}
		data, err := encodeMsgpack(nil, &rawValue{Meta: meta, Body: body})
		if err != nil {
			return wrapErrf(CodeUnexpectedError, err, "raw %s/%s", storeName, key)
		}
		if db.verbose {
			db.logf("db: RAW.PUT %s/%s => %d+%d bytes", storeName, key, len(meta), len(body))
		}
		return wrapStorageErr(b.Put([]byte(key), data), "raw %s/%s", storeName, key)
	})
}
