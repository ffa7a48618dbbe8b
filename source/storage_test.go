package source

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartke/accountstream/account"
	"github.com/bartke/accountstream/storage"
)

func openPebble(t *testing.T) *storage.PebbleStorage {
	store, err := storage.NewPebbleStorage(storage.PebbleStorageConfig{DataDir: t.TempDir(), SyncInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorageSource(t *testing.T) {
	store := openPebble(t)
	ctx := context.Background()
	require.NoError(t, store.PushUpdate(ctx, &storage.Account{Key: testKey(1), Data: []byte("initial")}))

	logger, _ := test.NewNullLogger()
	src := NewStorageSource(store, logger)

	msgs := make(chan account.Message, 4)
	errs := make(chan error, 1)
	h, err := src.OpenStream(ctx, []account.Key{testKey(1), testKey(2)},
		func(m account.Message) { msgs <- m },
		func(err error) { errs <- err },
	)
	require.NoError(t, err)

	startup := <-msgs
	assert.True(t, startup.IsStartup)
	assert.Equal(t, []byte("initial"), startup.Data)

	require.NoError(t, store.PushUpdate(ctx, &storage.Account{Key: testKey(2), Data: []byte("live")}))
	live := <-msgs
	assert.False(t, live.IsStartup)
	assert.Equal(t, testKey(2), live.Key)
	assert.Equal(t, account.Sequence(2), live.Seq)

	require.NoError(t, h.Close())
	select {
	case err := <-errs:
		t.Fatalf("unexpected error after close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStorageSourceReportsCancellation(t *testing.T) {
	store := openPebble(t)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	_, err := NewStorageSource(store, nil).OpenStream(ctx, []account.Key{testKey(1)},
		func(account.Message) {},
		func(err error) { errs <- err },
	)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation not reported")
	}
}
