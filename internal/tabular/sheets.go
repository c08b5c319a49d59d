package tabular

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SheetsClientOptions configures the HTTP backend for the hosted
// spreadsheet service. Zero values fall back to service defaults.
type SheetsClientOptions struct {
	BaseURL       string
	SpreadsheetID string
	Token         string
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// SheetsStore talks to the spreadsheet service over HTTP. The service has
// no transactions and no compare-and-swap: FindAndUpdateRow is a full
// range read followed by a single-row write, and two concurrent updates
// to the same key can interleave. The SQL backends exist for callers that
// cannot accept that.
type SheetsStore struct {
	baseURL       string
	spreadsheetID string
	token         string
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewSheetsStore(opts SheetsClientOptions) (*SheetsStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: sheets base url is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is required", ErrInvalidInput)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &SheetsStore{
		baseURL:       baseURL,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		token:         strings.TrimSpace(opts.Token),
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}, nil
}

type sheetsValuesResponse struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

type sheetsValuesRequest struct {
	Values [][]string `json:"values"`
}

func (s *SheetsStore) GetValues(ctx context.Context, rng string) ([]Row, error) {
	if _, _, err := splitRange(rng); err != nil {
		return nil, err
	}
	var out sheetsValuesResponse
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(s.spreadsheetID), url.PathEscape(rng))
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	rows := make([]Row, len(out.Values))
	for i, cells := range out.Values {
		rows[i] = Row(cells)
	}
	return rows, nil
}

func (s *SheetsStore) AppendRows(ctx context.Context, sheet string, rows []Row) error {
	if strings.TrimSpace(sheet) == "" {
		return ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW",
		url.PathEscape(s.spreadsheetID), url.PathEscape(sheet+"!A1"))
	return s.doJSON(ctx, http.MethodPost, path, rowsPayload(rows), nil)
}

func (s *SheetsStore) FindRow(ctx context.Context, sheet string, keyColumn int, keyValue string) (int, Row, error) {
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

func (s *SheetsStore) FindAndUpdateRow(ctx context.Context, sheet string, keyColumn int, keyValue string, newRow Row) error {
	idx, _, err := s.FindRow(ctx, sheet, keyColumn, keyValue)
	if err != nil {
		return err
	}
	// Rows are 1-based in A1 notation.
	rng := fmt.Sprintf("%s!A%d", sheet, idx+1)
	return s.UpdateRange(ctx, rng, []Row{newRow})
}

func (s *SheetsStore) ClearRange(ctx context.Context, rng string) error {
	if _, _, err := splitRange(rng); err != nil {
		return err
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:clear", url.PathEscape(s.spreadsheetID), url.PathEscape(rng))
	return s.doJSON(ctx, http.MethodPost, path, struct{}{}, nil)
}

func (s *SheetsStore) UpdateRange(ctx context.Context, rng string, rows []Row) error {
	if _, _, err := splitRange(rng); err != nil {
		return err
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?valueInputOption=RAW", url.PathEscape(s.spreadsheetID), url.PathEscape(rng))
	return s.doJSON(ctx, http.MethodPut, path, rowsPayload(rows), nil)
}

func (s *SheetsStore) Ping(ctx context.Context) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s", url.PathEscape(s.spreadsheetID))
	return s.doJSON(ctx, http.MethodGet, path, nil, nil)
}

func (s *SheetsStore) Close() error { return nil }

func rowsPayload(rows []Row) sheetsValuesRequest {
	values := make([][]string, len(rows))
	for i, row := range rows {
		values[i] = []string(row)
	}
	return sheetsValuesRequest{Values: values}
}

func (s *SheetsStore) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var bodyBytes []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		bodyBytes = encoded
	}
	reqURL := s.baseURL + path

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return err
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries {
				if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out != nil && len(respBody) > 0 {
				return json.Unmarshal(respBody, out)
			}
			return nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < s.maxRetries {
			if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(respBody)))
		}
		message := strings.TrimSpace(string(respBody))
		var parsed struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil && strings.TrimSpace(parsed.Error.Message) != "" {
			message = parsed.Error.Message
		}
		return fmt.Errorf("%w: status=%d message=%s", ErrStoreUnavailable, resp.StatusCode, message)
	}
}

func (s *SheetsStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
