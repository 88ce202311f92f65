package store

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/dgraph-io/badger/v4"

	"envelope.lock/internal/models"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore persists envelopes in an embedded badger database. Envelope
// records live under an 8-byte big-endian id key so iteration yields id
// order; the id counter sits under its own key and is bumped in the same
// transaction as the insert.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Insert(ctx context.Context, env *models.Envelope) (uint64, error) {
	var id uint64

	err := b.db.Update(func(txn *badger.Txn) error {
		next, err := readCounter(txn)
		if err != nil {
			return err
		}
		if next == math.MaxUint64 {
			return ErrCapacity
		}
		id = next

		stored := *env
		stored.ID = id
		data, err := encode(&stored)
		if err != nil {
			return err
		}

		if err := txn.Set(recordKey(id), data); err != nil {
			return err
		}
		return writeCounter(txn, next+1)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (b *BadgerStore) Get(ctx context.Context, id uint64) (*models.Envelope, error) {
	var env *models.Envelope

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(data []byte) error {
			env, err = decode(data)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (b *BadgerStore) UpdateStatus(ctx context.Context, id uint64, status models.Status) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		var env *models.Envelope
		err = item.Value(func(data []byte) error {
			env, err = decode(data)
			return err
		})
		if err != nil {
			return err
		}

		env.Status = status
		data, err := encode(env)
		if err != nil {
			return err
		}
		return txn.Set(recordKey(id), data)
	})
}

func (b *BadgerStore) NextID(ctx context.Context) (uint64, error) {
	var next uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		next, err = readCounter(txn)
		return err
	})
	return next, err
}

func (b *BadgerStore) List(ctx context.Context, f Filter) ([]*models.Envelope, error) {
	result := make([]*models.Envelope, 0)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				env, err := decode(data)
				if err != nil {
					return err
				}
				if f.Matches(env) {
					result = append(result, env)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Keys

const recordPrefix = "env/"

var badgerCounterKey = []byte("next_id")

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

func readCounter(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(badgerCounterKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var next uint64
	err = item.Value(func(data []byte) error {
		if len(data) != 8 {
			return errors.New("corrupt id counter")
		}
		next = binary.BigEndian.Uint64(data)
		return nil
	})
	return next, err
}

func writeCounter(txn *badger.Txn, next uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, next)
	return txn.Set(badgerCounterKey, data)
}
