package docstore

import (
	"time"

	"go.uber.org/zap"
)

type CompactResult struct {
	DroppedBodies     int
	DroppedIndexItems int
}

// Compact discards the archived bodies of non-leaf revisions, drops
// orphaned index entries and then compacts the storage backend. Archived
// revisions stay in their trees, but LoadRevisionBody returns false for
// them afterwards.
func (db *DB) Compact() (CompactResult, error) {
	var res CompactResult
	if db.IsInTransaction() {
		return res, errf(CodeBusy, "compact inside a transaction")
	}
	start := time.Now()
	err := db.update(func(tx *Tx) error {
		var err error
		if res.DroppedBodies, err = db.dropArchive(tx.stx); err != nil {
			return err
		}
		res.DroppedIndexItems, err = db.docs.Compact(tx.stx)
		return err
	})
	if err != nil {
		return res, err
	}
	if err := db.storage.Compact(); err != nil {
		return res, wrapStorageErr(err, "compact")
	}
	db.logger.Info("compacted",
		zap.Int("bodies", res.DroppedBodies),
		zap.Int("index_items", res.DroppedIndexItems),
		zap.Duration("took", time.Since(start)))
	return res, nil
}
