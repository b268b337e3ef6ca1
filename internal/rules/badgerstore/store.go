// Package badgerstore is the BadgerDB-backed rules.Store.
//
// Key layout: every rule lives under "h:<normalized path>" with a JSON-encoded
// rules.HiddenRule as value. Because keys are sorted, a subtree is the exact
// key plus the "h:<path>/" prefix range.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"oasis/internal/rules"
)

const prefixHidden = "h:"

// Config is decoded from the rules.badger config section.
type Config struct {
	// Dir is where BadgerDB keeps its files. Ignored when InMemory is set.
	Dir string `mapstructure:"dir"`

	// InMemory keeps everything in RAM; rules are lost on exit.
	InMemory bool `mapstructure:"in_memory"`
}

type Store struct {
	db *badger.DB
}

var _ rules.Store = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func keyFor(path string) []byte {
	return []byte(prefixHidden + path)
}

func (s *Store) List(ctx context.Context) ([]rules.HiddenRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []rules.HiddenRule
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixHidden), func(_ []byte, r rules.HiddenRule) {
			out = append(out, r)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list hiddens: %w", err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, rule rules.HiddenRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return put(txn, rule)
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFor(rules.Normalize(path)))
	})
}

func (s *Store) DeleteTree(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = rules.Normalize(path)
	return s.db.Update(func(txn *badger.Txn) error {
		subtree, err := collectTree(txn, path)
		if err != nil {
			return err
		}
		for _, r := range subtree {
			if err := txn.Delete(keyFor(r.Path)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RenameTree(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldPath, newPath = rules.Normalize(oldPath), rules.Normalize(newPath)
	if oldPath == newPath {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		subtree, err := collectTree(txn, oldPath)
		if err != nil {
			return err
		}
		for _, r := range subtree {
			if err := txn.Delete(keyFor(r.Path)); err != nil {
				return err
			}
		}
		for _, r := range subtree {
			r.Path = rules.Rebase(r.Path, oldPath, newPath)
			if err := put(txn, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// collectTree returns the rule on path (if any) and every rule nested under it.
func collectTree(txn *badger.Txn, path string) ([]rules.HiddenRule, error) {
	var out []rules.HiddenRule
	item, err := txn.Get(keyFor(path))
	switch {
	case err == nil:
		r, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	case err != badger.ErrKeyNotFound:
		return nil, err
	}
	err = scan(txn, keyFor(path+"/"), func(_ []byte, r rules.HiddenRule) {
		out = append(out, r)
	})
	return out, err
}

func scan(txn *badger.Txn, prefix []byte, fn func(key []byte, r rules.HiddenRule)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		r, err := decode(item)
		if err != nil {
			return err
		}
		fn(item.KeyCopy(nil), r)
	}
	return nil
}

func decode(item *badger.Item) (rules.HiddenRule, error) {
	var r rules.HiddenRule
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return r, fmt.Errorf("decode hidden %q: %w", item.Key(), err)
	}
	return r, nil
}

func put(txn *badger.Txn, r rules.HiddenRule) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(keyFor(r.Path), b)
}
