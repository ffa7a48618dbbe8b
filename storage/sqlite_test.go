package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartke/accountstream/account"
)

func openSQLite(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, CreateSQLiteTable(db, "accounts"))

	s, err := NewSQLiteStorage(SQLConfig{DB: db, Table: "accounts", SyncInterval: testInterval})
	require.NoError(t, err)
	exerciseStorage(t, s)
}

func TestSQLiteStorageValidation(t *testing.T) {
	db := openSQLite(t)

	_, err := NewSQLiteStorage(SQLConfig{DB: db, Table: "missing"})
	assert.ErrorContains(t, err, "does not exist")

	_, err = db.Exec("CREATE TABLE partial (pubkey TEXT PRIMARY KEY, data BLOB)")
	require.NoError(t, err)
	_, err = NewSQLiteStorage(SQLConfig{DB: db, Table: "partial"})
	assert.ErrorContains(t, err, "lamports")
}

func TestSQLPlaceholders(t *testing.T) {
	pg := newSQLTable(SQLConfig{}, postgresDialect)
	assert.Equal(t, "$2,$3,$4", pg.placeholders(2, 3))

	lite := newSQLTable(SQLConfig{}, sqliteDialect)
	assert.Equal(t, "?,?", lite.placeholders(1, 2))
	assert.Equal(t, DefaultSyncInterval, lite.syncInterval)
}

func TestSQLiteColumns(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, CreateSQLiteTable(db, "accounts"))

	columns, err := sqliteDialect.columns(db, "accounts")
	require.NoError(t, err)
	assert.ElementsMatch(t, accountColumns, columns)

	columns, err = sqliteDialect.columns(db, "missing")
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestSQLiteStorageConcurrentPush(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, CreateSQLiteTable(db, "accounts"))
	s, err := NewSQLiteStorage(SQLConfig{DB: db, Table: "accounts", SyncInterval: testInterval})
	require.NoError(t, err)

	ctx := context.Background()
	k := testKey(1)

	const writers = 16
	seqs := make([]account.Sequence, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := &Account{Key: k, Owner: testKey(2), Lamports: uint64(i)}
			assert.NoError(t, s.PushUpdate(ctx, a))
			seqs[i] = a.Seq
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []account.Sequence{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, seqs)

	state, err := s.Sync([]account.Key{k})
	require.NoError(t, err)
	assert.Equal(t, account.Sequence(writers), state[k].Seq)
}
