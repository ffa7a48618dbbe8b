package storage

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bartke/accountstream/account"
)

// RedisStorage keeps accounts as msgpack blobs and announces every write on a
// pub/sub channel.
//
// Keys used, for a prefix p:
//   - p:account:{address}  encoded account
//   - p:accounts           set of known addresses
//   - p:seq                global sequence counter
//   - p:updates            pub/sub channel carrying encoded accounts
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
	keys   *account.KeyCache

	errorChannel chan<- error
}

type RedisStorageConfig struct {
	// Options for the redis client, see redis.ParseURL
	Options *redis.Options

	// optional key prefix, default is "accounts"
	Prefix string

	// optional error channel
	ErrorChan chan<- error
}

// NewRedisStorage connects to redis and verifies the connection.
func NewRedisStorage(ctx context.Context, config RedisStorageConfig) (*RedisStorage, error) {
	if config.Options == nil {
		return nil, errors.New("redis options are required")
	}
	if config.Prefix == "" {
		config.Prefix = "accounts"
	}

	rdb := redis.NewClient(config.Options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		rdb:          rdb,
		prefix:       config.Prefix,
		keys:         account.NewKeyCache(),
		errorChannel: config.ErrorChan,
	}, nil
}

func (s *RedisStorage) accountKey(k account.Key) string {
	return s.prefix + ":account:" + s.keys.String(k)
}

func (s *RedisStorage) setKey() string     { return s.prefix + ":accounts" }
func (s *RedisStorage) seqKey() string     { return s.prefix + ":seq" }
func (s *RedisStorage) channelKey() string { return s.prefix + ":updates" }

func (s *RedisStorage) forwardError(err error) {
	if s.errorChannel != nil {
		s.errorChannel <- err
	}
}

// Close closes the underlying redis client.
func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}

func (s *RedisStorage) ListAccounts() ([]account.Key, error) {
	members, err := s.rdb.SMembers(context.Background(), s.setKey()).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]account.Key, 0, len(members))
	for _, m := range members {
		k, err := s.keys.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("invalid account address %q in %s: %w", m, s.setKey(), err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *RedisStorage) Sync(keys []account.Key) (map[account.Key]Account, error) {
	result := make(map[account.Key]Account)
	if len(keys) == 0 {
		return result, nil
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = s.accountKey(k)
	}
	values, err := s.rdb.MGet(context.Background(), names...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// nil for missing accounts
			continue
		}
		a, err := decodeAccount([]byte(raw))
		if err != nil {
			return nil, err
		}
		result[a.Key] = a
	}
	return result, nil
}

func (s *RedisStorage) Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channelKey())
	// wait for the subscription to be confirmed so no later write is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channelKey(), err)
	}

	wanted := mapset.NewThreadUnsafeSet(keys...)
	out := make(chan Account)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				a, err := decodeAccount([]byte(msg.Payload))
				if err != nil {
					s.forwardError(err)
					continue
				}
				if !wanted.Contains(a.Key) {
					continue
				}

				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// PushUpdate allocates the next sequence and stores the account in one
// optimistic transaction on the sequence key, so stored state and published
// order always follow sequence order.
func (s *RedisStorage) PushUpdate(ctx context.Context, a *Account) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = timeNow()
	}

	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			seq, err := tx.Get(ctx, s.seqKey()).Uint64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to read sequence: %w", err)
			}
			a.Seq = account.Sequence(seq + 1)

			b, err := encodeAccount(a)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.seqKey(), uint64(a.Seq), 0)
				pipe.Set(ctx, s.accountKey(a.Key), b, 0)
				pipe.SAdd(ctx, s.setKey(), s.keys.String(a.Key))
				pipe.Publish(ctx, s.channelKey(), b)
				return nil
			})
			return err
		}, s.seqKey())

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			// another writer took the sequence, retry with the new value
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			return fmt.Errorf("failed to store account %s: %w", s.keys.String(a.Key), err)
		}
	}
}
