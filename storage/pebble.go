package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/bartke/accountstream/account"
)

var (
	pebbleAccountPrefix = []byte("a/")
	pebbleLogPrefix     = []byte("l/")
	pebbleSeqKey        = []byte("m/seq")
)

// PebbleStorage keeps accounts in an embedded pebble database. Every write
// appends the account key to a sequence-ordered log which subscriptions poll.
type PebbleStorage struct {
	db *pebble.DB

	// serializes sequence allocation
	mu sync.Mutex

	syncInterval time.Duration
	errorChannel chan<- error
}

type PebbleStorageConfig struct {
	// DataDir is the path to the pebble database directory
	DataDir string

	// optional, advanced pebble tuning
	Options *pebble.Options

	// optional sync interval, default is 5 seconds
	SyncInterval time.Duration

	// optional error channel
	ErrorChan chan<- error
}

// NewPebbleStorage opens or creates the database in config.DataDir.
func NewPebbleStorage(config PebbleStorageConfig) (*PebbleStorage, error) {
	if config.DataDir == "" {
		return nil, errors.New("pebble: data directory is required")
	}
	if config.Options == nil {
		config.Options = &pebble.Options{}
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultSyncInterval
	}

	db, err := pebble.Open(config.DataDir, config.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &PebbleStorage{
		db:           db,
		syncInterval: config.SyncInterval,
		errorChannel: config.ErrorChan,
	}, nil
}

func (s *PebbleStorage) forwardError(err error) {
	if s.errorChannel != nil {
		s.errorChannel <- err
	}
}

// Close closes the database.
func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

func pebbleAccountKey(k account.Key) []byte {
	return append(append([]byte{}, pebbleAccountPrefix...), k[:]...)
}

func pebbleLogKey(seq account.Sequence) []byte {
	b := append([]byte{}, pebbleLogPrefix...)
	return binary.BigEndian.AppendUint64(b, uint64(seq))
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStorage) ListAccounts() ([]account.Key, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pebbleAccountPrefix,
		UpperBound: prefixUpperBound(pebbleAccountPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []account.Key
	for iter.First(); iter.Valid(); iter.Next() {
		k, err := account.KeyFromBytes(iter.Key()[len(pebbleAccountPrefix):])
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, iter.Error()
}

func (s *PebbleStorage) Sync(keys []account.Key) (map[account.Key]Account, error) {
	result := make(map[account.Key]Account)
	for _, k := range keys {
		raw, err := s.get(pebbleAccountKey(k))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read account %s: %w", k, err)
		}
		a, err := decodeAccount(raw)
		if err != nil {
			return nil, err
		}
		result[k] = a
	}
	return result, nil
}

func (s *PebbleStorage) lastSeq() (account.Sequence, error) {
	raw, err := s.get(pebbleSeqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return account.NoSequence, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Sequence(binary.BigEndian.Uint64(raw)), nil
}

// between returns the log entries in (from, to], oldest first, restricted to
// wanted.
func (s *PebbleStorage) between(from, to account.Sequence, wanted map[account.Key]struct{}) ([]Account, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pebbleLogKey(from + 1),
		UpperBound: pebbleLogKey(to + 1),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var accounts []Account
	for iter.First(); iter.Valid(); iter.Next() {
		a, err := decodeAccount(iter.Value())
		if err != nil {
			return nil, err
		}
		if _, ok := wanted[a.Key]; ok {
			accounts = append(accounts, a)
		}
	}
	return accounts, iter.Error()
}

func (s *PebbleStorage) Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error) {
	last, err := s.lastSeq()
	if err != nil {
		return nil, err
	}
	wanted := make(map[account.Key]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	out := make(chan Account)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := s.lastSeq()
			if err != nil {
				s.forwardError(err)
				return
			}
			if head == last {
				continue
			}

			accounts, err := s.between(last, head, wanted)
			if err != nil {
				s.forwardError(err)
				return
			}
			for _, a := range accounts {
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
			last = head
		}
	}()
	return out, nil
}

func (s *PebbleStorage) PushUpdate(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastSeq()
	if err != nil {
		return err
	}
	a.Seq = last + 1
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = timeNow()
	}

	value, err := encodeAccount(a)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(pebbleAccountKey(a.Key), value, nil); err != nil {
		return err
	}
	if err := b.Set(pebbleLogKey(a.Seq), value, nil); err != nil {
		return err
	}
	if err := b.Set(pebbleSeqKey, binary.BigEndian.AppendUint64(nil, uint64(a.Seq)), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}
