package kvstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fairdraw/keno-engine/pkg/infra"
)

type BadgerStore struct {
	db     *badger.DB
	prefix string
	codec  infra.Codec
}

func NewBadgerStore(path string, prefix string, codec infra.Codec) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:     db,
		prefix: prefix,
		codec:  codec,
	}, nil
}

func (b *BadgerStore) fullKey(k string) (string, error) {
	if k == "" {
		return "", infra.ErrKeyEmpty
	}
	if b.prefix != "" {
		return b.prefix + "/" + k, nil
	}
	return k, nil
}

func (b *BadgerStore) GetName() string {
	return "badger"
}

func (b *BadgerStore) Get(key string) (string, error) {
	k, err := b.fullKey(key)
	if err != nil {
		return "", err
	}

	var valCopy []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return infra.ErrKeyNotFound
			}
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		valCopy = val
		return nil
	})
	return string(valCopy), err
}

func (b *BadgerStore) Set(key string, value string) error {
	k, err := b.fullKey(key)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), []byte(value))
	})
}

func (b *BadgerStore) SetAny(key string, value any) error {
	if err := checkKeyAndValue(key, value); err != nil {
		return err
	}
	k, err := b.fullKey(key)
	if err != nil {
		return err
	}

	data, err := b.codec.Marshal(value)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), data)
	})
}

func (b *BadgerStore) GetAny(key string, value any) (bool, error) {
	if err := checkKeyAndValue(key, value); err != nil {
		return false, err
	}
	k, err := b.fullKey(key)
	if err != nil {
		return false, err
	}

	var valCopy []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return infra.ErrKeyNotFound
			}
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		valCopy = val
		return nil
	})
	if err != nil {
		if err == infra.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, b.codec.Unmarshal(valCopy, value)
}

// UpdateAny runs read-decode-mutate-encode-write under a single badger
// read-write transaction. When two calls race on the same key badger commits
// one and fails the other with ErrConflict; the loser re-runs against the
// committed state, so mutate always observes the latest value before
// deciding. This is the primitive the draw-once and settle-once transitions
// rely on.
func (b *BadgerStore) UpdateAny(key string, cur any, mutate func(found bool) (any, error)) error {
	if err := checkKeyAndValue(key, cur); err != nil {
		return err
	}
	k, err := b.fullKey(key)
	if err != nil {
		return err
	}

	for {
		err := b.updateAnyOnce(k, cur, mutate)
		if err == badger.ErrConflict {
			continue
		}
		return err
	}
}

func (b *BadgerStore) updateAnyOnce(k string, cur any, mutate func(found bool) (any, error)) error {
	return b.db.Update(func(txn *badger.Txn) error {
		found := false
		item, err := txn.Get([]byte(k))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := b.codec.Unmarshal(val, cur); err != nil {
				return err
			}
			found = true
		}

		next, err := mutate(found)
		if err != nil {
			return err
		}

		data, err := b.codec.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set([]byte(k), data)
	})
}

func (b *BadgerStore) List(prefix string) ([]*infra.KVPair, error) {
	if prefix == "" {
		return nil, fmt.Errorf("prefix is empty")
	}
	searchPrefix := prefix
	if b.prefix != "" {
		searchPrefix = b.prefix + "/" + prefix
	}

	result := make([]*infra.KVPair, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(searchPrefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result = append(result, &infra.KVPair{
				Key:   string(k),
				Value: v,
			})
		}
		return nil
	})
	return result, err
}

func (b *BadgerStore) Delete(key string) error {
	k, err := b.fullKey(key)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(k))
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func checkKeyAndValue(key string, value any) error {
	if key == "" {
		return infra.ErrKeyEmpty
	}
	if value == nil {
		return fmt.Errorf("value is nil")
	}
	return nil
}
