package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSchema creates an account table usable by NewSQLiteStorage.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS %s (
	pubkey TEXT PRIMARY KEY,
	data BLOB,
	lamports INTEGER NOT NULL DEFAULT 0,
	owner TEXT NOT NULL,
	executable BOOLEAN NOT NULL DEFAULT 0,
	slot INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_seq ON %s (seq);
`

// CreateSQLiteTable creates table if it does not exist yet.
func CreateSQLiteTable(db *sql.DB, table string) error {
	if _, err := db.Exec(fmt.Sprintf(SQLiteSchema, table, table, table)); err != nil {
		return fmt.Errorf("error creating %s table: %w", table, err)
	}
	return nil
}

// sqlite serializes writers on the database file, a second process fails with
// SQLITE_BUSY instead of allocating the same sequence.
var sqliteDialect = sqlDialect{
	bind: func(int) string { return "?" },
	columns: func(db *sql.DB, table string) ([]string, error) {
		rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
		if err != nil {
			return nil, err
		}
		return scanColumns(rows)
	},
}

// NewSQLiteStorage creates a new instance of a SQLite-based storage implementation
func NewSQLiteStorage(config SQLConfig) (Storage, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("no database for table %s", config.Table)
	}
	if err := config.DB.Ping(); err != nil {
		return nil, err
	}
	return openSQLTable(config, sqliteDialect)
}
