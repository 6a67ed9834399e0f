package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// journalRetention keeps an entry around for a day past its fire time so a
// restart shortly after the deadline still sees it.
const journalRetention = 24 * time.Hour

// Journal records the next fire instant of every armed timer in BadgerDB.
type Journal struct {
	db  *badger.DB
	now func() time.Time
}

// NewJournal wraps an open BadgerDB
func NewJournal(db *badger.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// OpenMemoryJournal opens an in-memory journal, used by tests and dry runs
func OpenMemoryJournal() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger: %w", err)
	}
	return NewJournal(db), nil
}

// Close closes the underlying BadgerDB
func (j *Journal) Close() error {
	return j.db.Close()
}

func journalKey(kind, id string) []byte {
	return []byte("timer:" + kind + ":" + id)
}

// Record stores fireAt for (kind, id), replacing any previous value
func (j *Journal) Record(kind, id string, fireAt time.Time) error {
	ttl := fireAt.Sub(j.now()) + journalRetention
	if ttl < time.Second {
		ttl = time.Second
	}
	return j.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(journalKey(kind, id), []byte(fireAt.UTC().Format(time.RFC3339Nano))).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Forget removes the entry for (kind, id); missing entries are ignored
func (j *Journal) Forget(kind, id string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(journalKey(kind, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Entries returns every recorded id of the given kind with its fire instant
func (j *Journal) Entries(kind string) (map[string]time.Time, error) {
	entries := make(map[string]time.Time)
	prefix := []byte("timer:" + kind + ":")

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			if err := item.Value(func(v []byte) error {
				at, err := time.Parse(time.RFC3339Nano, string(v))
				if err != nil {
					return fmt.Errorf("corrupt journal entry %s: %w", id, err)
				}
				entries[id] = at
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})

	return entries, err
}
