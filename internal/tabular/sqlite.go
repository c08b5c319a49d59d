package tabular

import (
	"database/sql"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded single-file backend. SQLite rejects
// concurrent writers, so all calls are serialized through one mutex.
type SQLiteStore struct {
	sqlStoreCore
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{sqlStoreCore{
		driverName:  "sqlite3",
		dsn:         path,
		tableName:   sqlRowsTableName,
		rebind:      func(query string) string { return query },
		openDB:      sql.Open,
		serializeMu: &sync.Mutex{},
	}}, nil
}
