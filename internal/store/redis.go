// redis.go
package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"envelope.lock/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore persists envelopes as gob records under env:<id>, with the id
// counter at env:next_id. Records carry no TTL: envelopes are never deleted.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Insert allocates the id and writes the record in one transaction, so a
// failure cannot bump the counter without a matching record.
func (r *RedisStore) Insert(ctx context.Context, env *models.Envelope) (uint64, error) {
	var id uint64

	txf := func(tx *redis.Tx) error {
		next, err := tx.Get(ctx, counterKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, counterKey, next+1, 0)
			pipe.Set(ctx, envelopeKey(id), data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txf, counterKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	return 0, redis.TxFailedErr
}

func (r *RedisStore) Get(ctx context.Context, id uint64) (*models.Envelope, error) {
	data, err := r.client.Get(ctx, envelopeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) UpdateStatus(ctx context.Context, id uint64, status models.Status) error {
	key := envelopeKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		env, err := decode(data)
		if err != nil {
			return err
		}
		env.Status = status

		newData, err := encode(env)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return redis.TxFailedErr
}

func (r *RedisStore) NextID(ctx context.Context) (uint64, error) {
	val, err := r.client.Get(ctx, counterKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	next, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *RedisStore) List(ctx context.Context, f Filter) ([]*models.Envelope, error) {
	next, err := r.NextID(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Envelope, 0)
	for id := uint64(0); id < next; id++ {
		env, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if f.Matches(env) {
			result = append(result, env)
		}
	}
	return result, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

const counterKey = "env:next_id"

func envelopeKey(id uint64) string {
	return "env:" + strconv.FormatUint(id, 10)
}
