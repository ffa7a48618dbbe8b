package storage

import (
	"database/sql"
	"strconv"
)

var postgresDialect = sqlDialect{
	bind: func(n int) string { return "$" + strconv.Itoa(n) },
	columns: func(db *sql.DB, table string) ([]string, error) {
		rows, err := db.Query("SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1", table)
		if err != nil {
			return nil, err
		}
		return scanColumns(rows)
	},
	// conflicts with itself but not with readers
	lock: "LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE",
}

// NewPostgresStorage stores accounts in a Postgres table with the same columns
// as SQLiteSchema. The caller opens config.DB with a Postgres driver.
func NewPostgresStorage(config SQLConfig) (Storage, error) {
	return openSQLTable(config, postgresDialect)
}
