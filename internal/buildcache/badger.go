package buildcache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dgraph-io/badger/v4"
)

// Backend is durable storage for build artifacts keyed by string.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Apply deletes every key under each prefix in drops, then writes
	// entries, all in one transaction. It returns how many keys the drops
	// removed.
	Apply(ctx context.Context, drops []string, entries map[string][]byte) (int, error)
}

// Badger is a Backend over a badger key-value store.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the store in dir. An empty dir opens an in-memory store.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open build cache: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return out, true, nil
}

// Put writes entries in one transaction.
func (b *Badger) Put(ctx context.Context, entries map[string][]byte) error {
	_, err := b.Apply(ctx, nil, entries)
	return err
}

// DropPrefix deletes every key under each prefix in one transaction and
// returns how many keys it removed.
func (b *Badger) DropPrefix(ctx context.Context, prefixes ...string) (int, error) {
	return b.Apply(ctx, prefixes, nil)
}

// Apply implements Backend.
func (b *Badger) Apply(_ context.Context, drops []string, entries map[string][]byte) (int, error) {
	if len(drops) == 0 && len(entries) == 0 {
		return 0, nil
	}
	dropped := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, p := range drops {
			keys := prefixKeys(txn, p)
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return fmt.Errorf("drop %s: %w", p, err)
				}
			}
			dropped += len(keys)
		}
		for _, k := range slices.Sorted(maps.Keys(entries)) {
			if err := txn.Set([]byte(k), entries[k]); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply %d drops, %d entries: %w", len(drops), len(entries), err)
	}
	return dropped, nil
}

// prefixKeys collects the keys under prefix visible to txn.
func prefixKeys(txn *badger.Txn, prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// Keys implements Backend.
func (b *Badger) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		for _, k := range prefixKeys(txn, prefix) {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}
