package tabular

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps sheets in process memory. It is the dev/test backend
// and deliberately serializes every call the way the hosted service does.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string][]Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: map[string][]Row{}}
}

func (s *MemoryStore) GetValues(ctx context.Context, rng string) ([]Row, error) {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.sheets[sheet]), nil
}

func (s *MemoryStore) AppendRows(ctx context.Context, sheet string, rows []Row) error {
	if sheet == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sheet] = append(s.sheets[sheet], cloneRows(rows)...)
	return nil
}

func (s *MemoryStore) FindRow(ctx context.Context, sheet string, keyColumn int, keyValue string) (int, Row, error) {
	if sheet == "" || keyColumn < 0 {
		return 0, nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, row := range s.sheets[sheet] {
		if keyColumn < len(row) && row[keyColumn] == keyValue {
			return i, cloneRow(row), nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %s[%d]=%s", ErrNotFound, sheet, keyColumn, keyValue)
}

func (s *MemoryStore) FindAndUpdateRow(ctx context.Context, sheet string, keyColumn int, keyValue string, newRow Row) error {
	if sheet == "" || keyColumn < 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.sheets[sheet] {
		if keyColumn < len(row) && row[keyColumn] == keyValue {
			s.sheets[sheet][i] = cloneRow(newRow)
			return nil
		}
	}
	return fmt.Errorf("%w: %s[%d]=%s", ErrNotFound, sheet, keyColumn, keyValue)
}

func (s *MemoryStore) ClearRange(ctx context.Context, rng string) error {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sheets, sheet)
	return nil
}

func (s *MemoryStore) UpdateRange(ctx context.Context, rng string, rows []Row) error {
	sheet, _, err := splitRange(rng)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sheet] = cloneRows(rows)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
