package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	redisclient "github.com/zatekoja/concussionrehab/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
	"github.com/zatekoja/concussionrehab/pkg/retry"
)

const (
	scanBatch = 200
	mgetBatch = 500
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisStore implements KeyValueStore and AtomicUpdater on Redis.
// All keys are namespaced with the client's key prefix.
type RedisStore struct {
	client *redisclient.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed key-value store
func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: client.KeyPrefix(),
	}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Client().Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStoreUnavailableError("failed to get key from redis", err)
	}
	return value, true, nil
}

// Set stores a value under key without expiry
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Client().Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return apperrors.NewStoreUnavailableError("failed to set key in redis", err)
	}
	return nil
}

// GetByPrefix scans for matching keys and fetches their values with MGET
func (s *RedisStore) GetByPrefix(ctx context.Context, prefix string) ([]providers.KeyValue, error) {
	rdb := s.client.Client()
	pattern := globEscaper.Replace(s.prefix+prefix) + "*"

	var keys []string
	iter := rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("failed to scan redis keys", err)
	}
	sort.Strings(keys)

	out := make([]providers.KeyValue, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatch {
		end := start + mgetBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		values, err := rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, apperrors.NewStoreUnavailableError("failed to fetch redis values", err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				// expired or deleted between SCAN and MGET
				continue
			}
			out = append(out, providers.KeyValue{
				Key:   strings.TrimPrefix(batch[i], s.prefix),
				Value: []byte(str),
			})
		}
	}
	return out, nil
}

// updateAbort carries an error returned by the caller's UpdateFunc through WATCH.
type updateAbort struct{ err error }

func (u *updateAbort) Error() string { return u.err.Error() }
func (u *updateAbort) Unwrap() error { return u.err }

// Update performs an optimistic read-modify-write with WATCH/MULTI, retrying
// when another writer touches the key first.
func (s *RedisStore) Update(ctx context.Context, key string, fn providers.UpdateFunc) error {
	rdb := s.client.Client()
	fullKey := s.prefix + key

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			current, found = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return &updateAbort{err: err}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, 0)
			return nil
		})
		return err
	}

	err := retry.DoWithLog(ctx, retry.ContentionConfig(), "redis update "+key, func() error {
		err := rdb.Watch(ctx, txn, fullKey)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return retry.Permanent(err)
	}, func(attempt int, err error, nextDelay time.Duration) {
		log.Debug().Str("key", key).Int("attempt", attempt).Msg("redis optimistic update conflict, retrying")
	})
	if err == nil {
		return nil
	}

	var abort *updateAbort
	if errors.As(err, &abort) {
		return abort.err
	}
	return apperrors.NewStoreUnavailableError("failed to update key in redis", err)
}
