package docstore

import (
	"fmt"

	"github.com/andreyvit/docstore/revtree"
	"go.uber.org/zap"
)

type (
	// Change describes one committed document write.
	Change struct {
		DocID    string        `msgpack:"d"`
		RevID    revtree.RevID `msgpack:"r,omitempty"`
		Sequence Sequence      `msgpack:"s,omitempty"` // 0 for purges
		Op       Op            `msgpack:"o"`
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2 // a tombstone revision was saved
	OpPurge  Op = 3 // the document was removed from storage
	OpExpire Op = 4
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpPurge:
		return "purge"
	case OpExpire:
		return "expire"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (chg Change) String() string {
	if chg.Sequence == 0 {
		return fmt.Sprintf("%s %s", chg.Op, chg.DocID)
	}
	return fmt.Sprintf("%s %s@%d %s", chg.Op, chg.DocID, chg.Sequence, chg.RevID)
}

// OnChange registers f to be called with the changes of every committed
// transaction, after the commit. Handlers run on the committing goroutine.
func (db *DB) OnChange(f func(changes []Change)) {
	db.handlersLock.Lock()
	defer db.handlersLock.Unlock()
	db.changeHandlers = append(db.changeHandlers, f)
}

func (db *DB) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	db.handlersLock.Lock()
	handlers := db.changeHandlers
	db.handlersLock.Unlock()
	for _, f := range handlers {
		if err := safelyCall(func() error { f(changes); return nil }); err != nil {
			db.logger.Error("change handler failed", zap.Error(err))
		}
	}
}
