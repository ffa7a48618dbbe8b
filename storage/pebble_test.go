package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartke/accountstream/account"
)

func TestPebbleStorage(t *testing.T) {
	s, err := NewPebbleStorage(PebbleStorageConfig{DataDir: t.TempDir(), SyncInterval: testInterval})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStorage(t, s)
}

func TestPebbleStorageReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStorage(PebbleStorageConfig{DataDir: dir})
	require.NoError(t, err)

	a := &Account{Key: testKey(1), Owner: testKey(2), Data: []byte("x")}
	require.NoError(t, s.PushUpdate(context.Background(), a))
	require.NoError(t, s.Close())

	s, err = NewPebbleStorage(PebbleStorageConfig{DataDir: dir})
	require.NoError(t, err)
	defer s.Close()

	next := &Account{Key: testKey(1), Owner: testKey(2)}
	require.NoError(t, s.PushUpdate(context.Background(), next))
	assert.Equal(t, a.Seq+1, next.Seq)

	keys, err := s.ListAccounts()
	require.NoError(t, err)
	assert.Equal(t, []account.Key{testKey(1)}, keys)
}

func TestPebbleStorageRequiresDir(t *testing.T) {
	_, err := NewPebbleStorage(PebbleStorageConfig{})
	assert.Error(t, err)
}
