package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"conditionsdb/internal/conditions"
)

var (
	revisionKey       = []byte("meta/rev")
	subdetectorPrefix = []byte("sd/")
	historyPrefix     = []byte("ver/")
	tagPrefix         = []byte("tag/")
)

func subdetectorKey(name string) []byte {
	return append(append([]byte(nil), subdetectorPrefix...), name...)
}

// historyKey separates the names with NUL, which conditions.ValidateName
// keeps out of both.
func historyKey(subdetector, condition string) []byte {
	k := append([]byte(nil), historyPrefix...)
	k = append(k, subdetector...)
	k = append(k, 0)
	return append(k, condition...)
}

func tagKey(name string) []byte {
	return append(append([]byte(nil), tagPrefix...), name...)
}

// Store is a BadgerDB-based conditions.Store implementation.
//
// Writers are serialized by mu. Every write touches meta/rev, so concurrent
// read-write transactions would otherwise abort with badger.ErrConflict.
type Store struct {
	db *badger.DB
	mu sync.Mutex
}

var _ conditions.Store = (*Store)(nil)

// Open opens (or creates) a store with cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction and bumps the revision in the
// same commit.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		rev, err := readRevision(txn)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, rev+1)
		return txn.Set(revisionKey, buf)
	})
}

func readRevision(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(revisionKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	var rev uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt revision value of %d bytes", len(val))
		}
		rev = binary.BigEndian.Uint64(val)
		return nil
	})
	return rev, err
}

// get decodes the value at key into out. Returns false if the key is absent.
func get(txn *badger.Txn, key []byte, out any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func put(txn *badger.Txn, key []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return txn.Set(key, data)
}

// names lists the key suffixes under prefix in key order.
func names(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []string{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out
}

func getSubdetector(txn *badger.Txn, name string) (*conditions.Subdetector, error) {
	var sd conditions.Subdetector
	ok, err := get(txn, subdetectorKey(name), &sd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditions.Errorf(conditions.CodeNotFound, "subdetector %q not found", name)
	}
	sd.CreatedAt = sd.CreatedAt.UTC()
	if sd.Conditions == nil {
		sd.Conditions = []string{}
	}
	return &sd, nil
}

func getHistory(txn *badger.Txn, subdetector, condition string) ([]conditions.Version, error) {
	if _, err := getSubdetector(txn, subdetector); err != nil {
		return nil, err
	}
	var history []conditions.Version
	ok, err := get(txn, historyKey(subdetector, condition), &history)
	if err != nil {
		return nil, err
	}
	if !ok || len(history) == 0 {
		return nil, conditions.Errorf(conditions.CodeNotFound, "condition %q not found in subdetector %q", condition, subdetector)
	}
	for i := range history {
		history[i] = history[i].UTC()
	}
	return history, nil
}

func (s *Store) CreateSubdetector(ctx context.Context, sd conditions.Subdetector, versions []conditions.Version) error {
	histories, err := conditions.GroupHistories(sd, versions)
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var existing conditions.Subdetector
		ok, err := get(txn, subdetectorKey(sd.Name), &existing)
		if err != nil {
			return err
		}
		if ok {
			return conditions.Errorf(conditions.CodeDuplicateName, "subdetector %q already exists", sd.Name)
		}
		if err := put(txn, subdetectorKey(sd.Name), sd); err != nil {
			return err
		}
		for cond, history := range histories {
			if err := put(txn, historyKey(sd.Name, cond), history); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetSubdetector(ctx context.Context, name string) (*conditions.Subdetector, error) {
	var out *conditions.Subdetector
	err := s.view(ctx, func(txn *badger.Txn) error {
		sd, err := getSubdetector(txn, name)
		out = sd
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListSubdetectors(ctx context.Context) ([]conditions.Subdetector, error) {
	out := []conditions.Subdetector{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, name := range names(txn, subdetectorPrefix) {
			sd, err := getSubdetector(txn, name)
			if err != nil {
				return err
			}
			out = append(out, *sd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListSubdetectorNames(ctx context.Context) ([]string, error) {
	var out []string
	err := s.view(ctx, func(txn *badger.Txn) error {
		out = names(txn, subdetectorPrefix)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetConditionVersions(ctx context.Context, subdetector, condition string) ([]conditions.Version, error) {
	var out []conditions.Version
	err := s.view(ctx, func(txn *badger.Txn) error {
		h, err := getHistory(txn, subdetector, condition)
		out = h
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendConditionVersion(ctx context.Context, v conditions.Version) (conditions.Version, error) {
	var added conditions.Version
	err := s.update(ctx, func(txn *badger.Txn) error {
		history, err := getHistory(txn, v.Subdetector, v.Condition)
		if err != nil {
			return err
		}
		res, err := conditions.PlanAppend(history, v)
		if err != nil {
			return err
		}
		added = res.Added
		return put(txn, historyKey(v.Subdetector, v.Condition), res.History)
	})
	if err != nil {
		return conditions.Version{}, err
	}
	return added, nil
}

func (s *Store) CreateGlobalTag(ctx context.Context, tag conditions.GlobalTag, revision uint64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var existing conditions.GlobalTag
		ok, err := get(txn, tagKey(tag.Name), &existing)
		if err != nil {
			return err
		}
		if ok {
			return conditions.Errorf(conditions.CodeDuplicateName, "global tag %q already exists", tag.Name)
		}
		current, err := readRevision(txn)
		if err != nil {
			return err
		}
		if current != revision {
			return conditions.ErrStaleRevision
		}
		return put(txn, tagKey(tag.Name), tag)
	})
}

func (s *Store) GetGlobalTag(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	var tag conditions.GlobalTag
	err := s.view(ctx, func(txn *badger.Txn) error {
		ok, err := get(txn, tagKey(name), &tag)
		if err != nil {
			return err
		}
		if !ok {
			return conditions.Errorf(conditions.CodeNotFound, "global tag %q not found", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := tag.UTC()
	return &out, nil
}

func (s *Store) ListGlobalTagNames(ctx context.Context) ([]string, error) {
	var out []string
	err := s.view(ctx, func(txn *badger.Txn) error {
		out = names(txn, tagPrefix)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Revision(ctx context.Context) (uint64, error) {
	var rev uint64
	err := s.view(ctx, func(txn *badger.Txn) error {
		r, err := readRevision(txn)
		rev = r
		return err
	})
	return rev, err
}
