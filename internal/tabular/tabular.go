// Package tabular is the only layer that talks to the backing row store.
// Every domain table is a named sheet of string rows; the contract is the
// find/append/update surface of the upstream spreadsheet service, so the
// same trackers run against the hosted service, Postgres, SQLite or memory.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotImplemented   = errors.New("not implemented")
)

// Row is one sheet row. Column order is the wire contract with the
// spreadsheet service and must not be reordered by callers.
type Row []string

// Store is the uniform abstraction over the backing tabular store.
// FindAndUpdateRow is a scan-then-write on the sheets backend and a
// single transaction on the SQL backends; see the backend docs.
type Store interface {
	GetValues(ctx context.Context, rng string) ([]Row, error)
	AppendRows(ctx context.Context, sheet string, rows []Row) error
	FindRow(ctx context.Context, sheet string, keyColumn int, keyValue string) (int, Row, error)
	FindAndUpdateRow(ctx context.Context, sheet string, keyColumn int, keyValue string, newRow Row) error
	ClearRange(ctx context.Context, rng string) error
	UpdateRange(ctx context.Context, rng string, rows []Row) error
	Ping(ctx context.Context) error
	Close() error
}

// UpsertRow updates the row whose keyColumn equals keyValue, inserting it
// when absent. Not atomic on backends where find and update are separate
// round-trips; callers that need stronger guarantees use a SQL backend.
func UpsertRow(ctx context.Context, store Store, sheet string, keyColumn int, keyValue string, row Row) (inserted bool, err error) {
	err = store.FindAndUpdateRow(ctx, sheet, keyColumn, keyValue, row)
	if errors.Is(err, ErrNotFound) {
		if appendErr := store.AppendRows(ctx, sheet, []Row{row}); appendErr != nil {
			return false, appendErr
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// splitRange separates the sheet name from the A1 cell range.
// "Orders!A2:V" yields ("Orders", "A2:V"); a bare sheet name is accepted.
func splitRange(rng string) (sheet, cells string, err error) {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		return "", "", ErrInvalidInput
	}
	if i := strings.IndexByte(rng, '!'); i >= 0 {
		sheet = strings.TrimSpace(rng[:i])
		cells = strings.TrimSpace(rng[i+1:])
	} else {
		sheet = rng
	}
	if sheet == "" {
		return "", "", fmt.Errorf("%w: range %q has no sheet", ErrInvalidInput, rng)
	}
	return sheet, cells, nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	copy(out, row)
	return out
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}
