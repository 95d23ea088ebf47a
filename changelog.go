package docstore

import (
	"time"

	"github.com/andreyvit/docstore/journal"
	"go.uber.org/zap"
)

// changeEntry is the journal record of one committed transaction.
type changeEntry struct {
	Changes []Change `msgpack:"c"`
}

func (db *DB) openJournal(dir string) error {
	j := journal.New(dir, journal.Options{
		FileName:  "changes-*.wal",
		DebugName: "changes",
		Now:       db.clock,
		Logger:    db.logger,
		Verbose:   db.verbose,
	})
	if err := j.StartWriting(); err != nil {
		return wrapErrf(CodeIOError, err, "journal %s", dir)
	}
	db.journal = j
	return nil
}

// logChanges appends the changes of a committed transaction to the journal.
// The data is already committed by then, so failures are only logged.
func (db *DB) logChanges(changes []Change) {
	if db.journal == nil || len(changes) == 0 {
		return
	}
	data, err := encodeMsgpack(nil, &changeEntry{changes})
	if err == nil {
		err = db.journal.WriteRecord(0, data)
	}
	if err == nil {
		err = db.journal.Commit()
	}
	if err != nil {
		db.logger.Error("journal write failed", zap.Error(err), zap.Int("changes", len(changes)))
	}
}

// ReadJournal calls fn with the changes of every journaled transaction,
// oldest first. Returning journal.ErrStop from fn ends the walk early.
// It fails with CodeUnsupported when the DB was opened without JournalDir.
func (db *DB) ReadJournal(fn func(ts time.Time, changes []Change) error) error {
	if db.journal == nil {
		return errf(CodeUnsupported, "no journal")
	}
	return db.journal.Read(func(rec journal.Record) error {
		var e changeEntry
		if err := decodeMsgpack(rec.Data, &e); err != nil {
			return err
		}
		return fn(time.Unix(int64(rec.Timestamp), 0).UTC(), e.Changes)
	})
}

func (db *DB) closeJournal() error {
	if db.journal == nil {
		return nil
	}
	return db.journal.FinishWriting()
}
