package tabular

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresStore backs the tabular contract with a Postgres rows table.
type PostgresStore struct {
	sqlStoreCore
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{sqlStoreCore{
		driverName: "postgres",
		dsn:        dsn,
		tableName:  sqlRowsTableName,
		rebind:     rebindPostgres,
		openDB:     sql.Open,
	}}, nil
}

// rebindPostgres rewrites ?-style placeholders to $1..$n.
func rebindPostgres(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
