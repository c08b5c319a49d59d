package tabular

import (
	"fmt"
	"net/url"
	"strings"
)

// FactoryOptions carries the extra settings only some backends need.
type FactoryOptions struct {
	SheetsToken   string
	SpreadsheetID string
	UserAgent     string
}

// BuildStoreFromDSN selects the store backend by DSN scheme:
//
//	memory://                          in-process sheets (dev/tests)
//	sheets://host/... or https://...   hosted spreadsheet service
//	postgres://...                     Postgres rows table
//	sqlite:///path/to/store.db         embedded SQLite
func BuildStoreFromDSN(dsn string, opts FactoryOptions) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: store dsn is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "sheets", "https", "http":
		baseURL := dsn
		if scheme == "sheets" {
			baseURL = "https://" + strings.TrimPrefix(dsn, "sheets://")
		}
		return NewSheetsStore(SheetsClientOptions{
			BaseURL:       baseURL,
			SpreadsheetID: opts.SpreadsheetID,
			Token:         opts.SheetsToken,
			UserAgent:     opts.UserAgent,
		})
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, scheme+"://")
		return NewSQLiteStore(path)
	case "mysql":
		return nil, fmt.Errorf("%w: store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}
