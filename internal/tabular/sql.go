package tabular

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	sqlRowsTableName    = "opstrack_rows"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlStoreCore implements Store over a single rows table:
// (id, sheet, cells-as-JSON). Both SQL backends share it; only driver
// name, DSN shape and the placeholder style differ. FindAndUpdateRow
// runs inside one transaction, which is the documented improvement over
// the scan-then-write the spreadsheet backend is stuck with.
type sqlStoreCore struct {
	driverName  string
	dsn         string
	tableName   string
	rebind      func(query string) string
	openDB      sqlOpenFunc
	serializeMu *sync.Mutex

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (s *sqlStoreCore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driverName, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		createTableQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s,
				sheet TEXT NOT NULL,
				cells TEXT NOT NULL
			)`, sqlQuoteIdentifier(s.tableName), s.idColumnType())
		if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		indexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (sheet)",
			sqlQuoteIdentifier(s.tableName+"_sheet_idx"), sqlQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlStoreCore) idColumnType() string {
	if s.driverName == "sqlite3" {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

func (s *sqlStoreCore) lock() func() {
	if s.serializeMu == nil {
		return func() {}
	}
	s.serializeMu.Lock()
	return s.serializeMu.Unlock
}

func (s *sqlStoreCore) GetValues(ctx context.Context, rng string) ([]Row, error) {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.lock()()
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.rebind(fmt.Sprintf("SELECT cells FROM %s WHERE sheet = ? ORDER BY id", sqlQuoteIdentifier(s.tableName)))
	sqlRows, err := s.db.QueryContext(ctx, query, sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer sqlRows.Close()

	var out []Row
	for sqlRows.Next() {
		var payload string
		if err := sqlRows.Scan(&payload); err != nil {
			return nil, err
		}
		row, err := decodeCells(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, sqlRows.Err()
}

func (s *sqlStoreCore) AppendRows(ctx context.Context, sheet string, rows []Row) error {
	if strings.TrimSpace(sheet) == "" {
		return ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.lock()()
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(fmt.Sprintf("INSERT INTO %s (sheet, cells) VALUES (?, ?)", sqlQuoteIdentifier(s.tableName)))
	for _, row := range rows {
		payload, err := encodeCells(row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, sheet, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStoreCore) FindRow(ctx context.Context, sheet string, keyColumn int, keyValue string) (int, Row, error) {
	if strings.TrimSpace(sheet) == "" || keyColumn < 0 {
		return 0, nil, ErrInvalidInput
	}
	rows, err := s.GetValues(ctx, sheet)
	if err != nil {
		return 0, nil, err
	}
	for i, row := range rows {
		if keyColumn < len(row) && row[keyColumn] == keyValue {
			return i, row, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %s[%d]=%s", ErrNotFound, sheet, keyColumn, keyValue)
}

func (s *sqlStoreCore) FindAndUpdateRow(ctx context.Context, sheet string, keyColumn int, keyValue string, newRow Row) error {
	if strings.TrimSpace(sheet) == "" || keyColumn < 0 {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.lock()()
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := s.rebind(fmt.Sprintf("SELECT id, cells FROM %s WHERE sheet = ? ORDER BY id", sqlQuoteIdentifier(s.tableName)))
	sqlRows, err := tx.QueryContext(ctx, selectQuery, sheet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	matchedID := int64(-1)
	for sqlRows.Next() {
		var id int64
		var payload string
		if err := sqlRows.Scan(&id, &payload); err != nil {
			_ = sqlRows.Close()
			return err
		}
		row, err := decodeCells(payload)
		if err != nil {
			_ = sqlRows.Close()
			return err
		}
		if keyColumn < len(row) && row[keyColumn] == keyValue {
			matchedID = id
			break
		}
	}
	if err := sqlRows.Close(); err != nil {
		return err
	}
	if matchedID < 0 {
		return fmt.Errorf("%w: %s[%d]=%s", ErrNotFound, sheet, keyColumn, keyValue)
	}

	payload, err := encodeCells(newRow)
	if err != nil {
		return err
	}
	updateQuery := s.rebind(fmt.Sprintf("UPDATE %s SET cells = ? WHERE id = ?", sqlQuoteIdentifier(s.tableName)))
	if _, err := tx.ExecContext(ctx, updateQuery, payload, matchedID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tx.Commit()
}

func (s *sqlStoreCore) ClearRange(ctx context.Context, rng string) error {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.lock()()
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE sheet = ?", sqlQuoteIdentifier(s.tableName)))
	if _, err := s.db.ExecContext(ctx, query, sheet); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sqlStoreCore) UpdateRange(ctx context.Context, rng string, rows []Row) error {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.lock()()
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteQuery := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE sheet = ?", sqlQuoteIdentifier(s.tableName)))
	if _, err := tx.ExecContext(ctx, deleteQuery, sheet); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	insertQuery := s.rebind(fmt.Sprintf("INSERT INTO %s (sheet, cells) VALUES (?, ?)", sqlQuoteIdentifier(s.tableName)))
	for _, row := range rows {
		payload, err := encodeCells(row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertQuery, sheet, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStoreCore) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sqlStoreCore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeCells(row Row) (string, error) {
	cells := []string(row)
	if cells == nil {
		cells = []string{}
	}
	data, err := json.Marshal(cells)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCells(payload string) (Row, error) {
	var cells []string
	if err := json.Unmarshal([]byte(payload), &cells); err != nil {
		return nil, fmt.Errorf("corrupt row payload: %w", err)
	}
	return Row(cells), nil
}

func sqlQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
