// Recovery log: a small BadgerDB instance recording which transaction ids
// are currently open, so that a crash between "transaction began" and
// "transaction committed or reverted" is recoverable — on restart, every
// id still in the log gets reverted on whichever engines hold versions
// for it. This is a much smaller use of BadgerDB than a full row store:
// one key per open transaction id, no values beyond a marker byte.
package txn

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
)

type recoveryLog struct {
	db *badger.DB
}

func openRecoveryLog(dir string) (*recoveryLog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &recoveryLog{db: db}, nil
}

func (l *recoveryLog) close() error {
	return l.db.Close()
}

func txIDKey(txID int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(txID))
	return buf
}

func (l *recoveryLog) markOpen(txID int64) error {
	return l.db.Update(func(tx *badger.Txn) error {
		return tx.Set(txIDKey(txID), []byte{1})
	})
}

// clear removes txID from the log, whether it resolved by commit or by
// revert — either way it is no longer "open at crash time".
func (l *recoveryLog) clear(txID int64) error {
	return l.db.Update(func(tx *badger.Txn) error {
		err := tx.Delete(txIDKey(txID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (l *recoveryLog) openTxIDs() ([]int64, error) {
	var ids []int64
	err := l.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if len(key) != 8 {
				continue
			}
			ids = append(ids, int64(binary.BigEndian.Uint64(key)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
