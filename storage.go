package docstore

import "errors"

// ErrBucketNotFound is returned by StorageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// Storage is the physical key-value engine underneath the document store
// (Bolt, Badger or the in-memory tree). Everything above this layer depends
// only on this interface.
type Storage interface {
	// BeginTx starts a new transaction. At most one writable transaction is
	// open at a time; the backend serializes writers.
	BeginTx(writable bool) (StorageTx, error)

	// Compact reclaims space freed by deletions, if the backend supports it.
	Compact() error

	// Close closes the storage.
	Close() error
}

// StorageTx represents a storage transaction.
type StorageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for a nested bucket.
	// Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) StorageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (StorageBucket, error)

	// DeleteBucket deletes a nested bucket (sub must be non-empty).
	DeleteBucket(name, sub string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// StorageBucket represents a bucket (sorted key-value collection).
//
// Values returned by Get and by cursors are only valid until the end of the
// transaction and must not be modified.
type StorageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() StorageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() BucketStats

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}

type BucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s BucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// StorageCursor iterates over a sorted bucket. A nil key means the cursor ran
// off either end of the bucket, or failed; check Err to tell them apart.
type StorageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key strictly before the successor of the given prefix/boundary.
	// This is commonly implemented as: Seek(inc(prefix)) then Prev().
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Delete deletes the current key-value pair.
	Delete() error

	// Err returns the first error encountered while moving the cursor.
	Err() error
}

func ensureBucket(stx StorageTx, name, sub string) (StorageBucket, error) {
	if b := stx.Bucket(name, sub); b != nil {
		return b, nil
	}
	if !stx.Writable() {
		return nil, nil
	}
	b, err := stx.CreateBucket(name, sub)
	if err != nil {
		return nil, wrapStorageErr(err, "create bucket %s/%s", name, sub)
	}
	return b, nil
}
