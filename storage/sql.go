package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bartke/accountstream/account"
)

// columns every account table must have
var accountColumns = []string{"pubkey", "data", "lamports", "owner", "executable", "slot", "seq", "updated_at"}

// sqlDialect holds what differs between SQL databases.
type sqlDialect struct {
	// bind returns the placeholder for the n-th parameter, starting at 1
	bind func(n int) string

	// columns lists the columns of a table, none if it does not exist
	columns func(db *sql.DB, table string) ([]string, error)

	// lock is run first in every write transaction to serialize sequence
	// allocation across processes, %s is the table name. Empty if the
	// database serializes writers itself.
	lock string
}

type SQLTable struct {
	db      *sql.DB
	table   string
	dialect sqlDialect
	keys    *account.KeyCache

	// serializes sequence allocation within this process
	mu sync.Mutex

	syncInterval time.Duration
	errorChannel chan<- error
}

type SQLConfig struct {
	// DB is the database connection to use
	DB *sql.DB

	// Table is the name of the table to use for storing accounts
	Table string

	// SyncInterval is the interval at which subscriptions poll for updates
	SyncInterval time.Duration

	// Optional
	ErrorChan chan<- error
}

// openSQLTable checks that the configured table has all account columns.
func openSQLTable(config SQLConfig, dialect sqlDialect) (*SQLTable, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("no database for table %s", config.Table)
	}
	columns, err := dialect.columns(config.DB, config.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", config.Table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", config.Table)
	}
	if err := missingColumn(config.Table, mapset.NewThreadUnsafeSet(columns...)); err != nil {
		return nil, err
	}
	return newSQLTable(config, dialect), nil
}

func newSQLTable(config SQLConfig, dialect sqlDialect) *SQLTable {
	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	return &SQLTable{
		db:           config.DB,
		table:        config.Table,
		dialect:      dialect,
		keys:         account.NewKeyCache(),
		syncInterval: config.SyncInterval,
		errorChannel: config.ErrorChan,
	}
}

func (s *SQLTable) forwardError(err error) {
	if s.errorChannel != nil {
		s.errorChannel <- err
	}
}

func (s *SQLTable) placeholders(from, count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(s.dialect.bind(from + i))
	}
	return b.String()
}

func (s *SQLTable) keyParams(keys []account.Key) []interface{} {
	params := make([]interface{}, len(keys))
	for i, k := range keys {
		params[i] = s.keys.String(k)
	}
	return params
}

func (s *SQLTable) ListAccounts() ([]account.Key, error) {
	rows, err := s.db.Query("SELECT pubkey FROM " + s.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []account.Key
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		k, err := s.keys.Parse(address)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLTable) Sync(keys []account.Key) (map[account.Key]Account, error) {
	result := make(map[account.Key]Account)
	if len(keys) == 0 {
		return result, nil
	}
	query := "SELECT pubkey, data, lamports, owner, executable, slot, seq, updated_at FROM " + s.table +
		" WHERE pubkey IN (" + s.placeholders(1, len(keys)) + ")"
	accounts, err := s.query(query, s.keyParams(keys)...)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		result[a.Key] = a
	}
	return result, nil
}

func (s *SQLTable) query(query string, params ...interface{}) ([]Account, error) {
	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var (
			a                   Account
			address, owner      string
			lamports, slot, seq int64
			updatedAt           string
		)
		if err := rows.Scan(&address, &a.Data, &lamports, &owner, &a.Executable, &slot, &seq, &updatedAt); err != nil {
			return nil, err
		}
		if a.Key, err = s.keys.Parse(address); err != nil {
			return nil, err
		}
		if a.Owner, err = s.keys.Parse(owner); err != nil {
			return nil, err
		}
		a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		a.Lamports = uint64(lamports)
		a.Slot = uint64(slot)
		a.Seq = account.Sequence(seq)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLTable) maxSeq() (account.Sequence, error) {
	var seq int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM " + s.table).Scan(&seq); err != nil {
		return 0, err
	}
	return account.Sequence(seq), nil
}

func (s *SQLTable) Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error) {
	last, err := s.maxSeq()
	if err != nil {
		return nil, err
	}
	query := "SELECT pubkey, data, lamports, owner, executable, slot, seq, updated_at FROM " + s.table +
		" WHERE seq > " + s.dialect.bind(1) + " AND pubkey IN (" + s.placeholders(2, len(keys)) + ") ORDER BY seq"
	params := append([]interface{}{int64(0)}, s.keyParams(keys)...)

	dataChannel := make(chan Account)
	go func() {
		defer close(dataChannel)
		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		// Continuously poll the database for changes in the specified keys
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			params[0] = int64(last)
			accounts, err := s.query(query, params...)
			if err != nil {
				s.forwardError(err)
				return
			}
			for _, a := range accounts {
				select {
				case dataChannel <- a:
				case <-ctx.Done():
					return
				}
				last = a.Seq
			}
		}
	}()
	return dataChannel, nil
}

// PushUpdate assigns MAX(seq)+1. Writers are serialized until commit so no
// two updates share a sequence and rows become visible in sequence order.
func (s *SQLTable) PushUpdate(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.dialect.lock != "" {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(s.dialect.lock, s.table)); err != nil {
			return fmt.Errorf("failed to lock %s: %w", s.table, err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM "+s.table).Scan(&seq); err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = timeNow()
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO "+s.table+" (pubkey, data, lamports, owner, executable, slot, seq, updated_at) VALUES ("+s.placeholders(1, 8)+")"+
		" ON CONFLICT (pubkey) DO UPDATE SET data = excluded.data, lamports = excluded.lamports, owner = excluded.owner,"+
		" executable = excluded.executable, slot = excluded.slot, seq = excluded.seq, updated_at = excluded.updated_at",
		s.keys.String(a.Key), a.Data, int64(a.Lamports), s.keys.String(a.Owner), a.Executable, int64(a.Slot), seq+1, a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.Seq = account.Sequence(seq + 1)
	return nil
}

func missingColumn(table string, have mapset.Set[string]) error {
	for _, column := range accountColumns {
		if !have.Contains(column) {
			return fmt.Errorf("table %s does not have a column named '%s'", table, column)
		}
	}
	return nil
}

func scanColumns(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}
