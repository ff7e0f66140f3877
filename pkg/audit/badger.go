package audit

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	evt:<20-digit unix nanos>:<event id>  ->  JSON Event
//
// The zero-padded timestamp keeps keys in chronological order so a reverse
// prefix scan yields newest first.
const prefixEvent = "evt:"

func keyEvent(e *Event) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixEvent, e.Time.UnixNano(), e.ID))
}

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in RAM, for tests.
	InMemory bool
}

// BadgerJournal stores events in BadgerDB.
type BadgerJournal struct {
	db *badgerdb.DB
}

// NewBadgerJournal opens or creates the database at cfg.Path.
func NewBadgerJournal(ctx context.Context, cfg BadgerConfig) (*BadgerJournal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger audit path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	// Audit writes are small and infrequent; keep badger quiet.
	opts = opts.WithLoggingLevel(badgerdb.WARNING)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	return &BadgerJournal{db: db}, nil
}

func (b *BadgerJournal) Record(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp(&e)

	val, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyEvent(&e), val)
	})
	if err == badgerdb.ErrDBClosed {
		return ErrClosed
	}
	return err
}

func (b *BadgerJournal) List(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := f.limit()
	var result []Event

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEvent)
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must start past the last key of the prefix.
		seek := append([]byte(prefixEvent), 0xff)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix) && len(result) < limit; it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if !f.Since.IsZero() && e.Time.Before(f.Since) {
				break
			}
			if f.matches(&e) {
				result = append(result, e)
			}
		}
		return nil
	})
	if err == badgerdb.ErrDBClosed {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BadgerJournal) Close() error {
	return b.db.Close()
}
