// Package tracker projects operational events into the tabular store and
// maintains the derived rollups (daily summaries, SLA compliance, funnel
// metrics, stock alerts). Each tracker owns its sheets; nothing else
// writes to them.
package tracker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopstream/opstrack/internal/config"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Sheet names. These are the table names inside the backing store and
// part of the wire contract with the reporting spreadsheet.
const (
	SheetOrders          = "Orders"
	SheetOrderItems      = "Order Items"
	SheetStatusHistory   = "Status History"
	SheetShippingUpdates = "Shipping Updates"
	SheetOrdersSummary   = "Daily Summary"

	SheetInventory           = "Product Inventory"
	SheetStockMovements      = "Stock Movements"
	SheetInventoryAlerts     = "Inventory Alerts"
	SheetSupplierPerformance = "Supplier Performance"
	SheetInventoryForecast   = "Inventory Forecast"

	SheetTickets        = "Support Tickets"
	SheetTicketUpdates  = "Ticket Updates"
	SheetSupportSummary = "Support Daily Summary"

	SheetUserActivity     = "User Activity"
	SheetConversionEvents = "Conversion Events"
	SheetUserJourneys     = "User Journeys"
	SheetFunnelAnalysis   = "Funnel Analysis"

	SheetBISummary = "BI Daily Summary"
)

// timeLayout is the serialization format for every timestamp column.
const timeLayout = "2006-01-02 15:04:05"

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// formatMoney and formatPercent keep the fixed two-decimal contract with
// the spreadsheet service.
func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatFloat2(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return float64(int64(v*100+signOf(v)*0.5)) / 100
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func sameDay(t, day time.Time) bool {
	if t.IsZero() {
		return false
	}
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// RulesProvider hands out the current alerting thresholds. Satisfied by
// *config.RulesWatcher; tests use staticRules.
type RulesProvider interface {
	Rules() config.AlertRules
}

// StaticRules is a fixed RulesProvider for wiring without a rules file.
type StaticRules struct {
	AlertRules config.AlertRules
}

func (s StaticRules) Rules() config.AlertRules { return s.AlertRules }

// keyedMutex serializes writes per natural key. The backing store has no
// compare-and-swap, so two concurrent upserts for the same order would
// otherwise interleave their read-compute-write cycles and lose one of
// the updates. Cross-process writers are still unserialized; that is the
// store's documented weakness, not ours to hide.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedLock{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// SyncResult reports a batch resync. Item failures are collected, not
// fatal; Success is simply "no errors".
type SyncResult struct {
	RecordsProcessed int      `json:"recordsProcessed"`
	RecordsAdded     int      `json:"recordsAdded"`
	RecordsUpdated   int      `json:"recordsUpdated"`
	Errors           []string `json:"errors"`
}

func (r SyncResult) Success() bool { return len(r.Errors) == 0 }

func (r *SyncResult) addError(key string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", key, err))
}

// TrackedEvent is one entry in the live ops feed.
type TrackedEvent struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLog is a bounded in-memory feed of recently tracked events,
// fanned out to WebSocket subscribers. Slow subscribers drop events
// rather than stall the trackers.
type EventLog struct {
	mu          sync.Mutex
	recent      []TrackedEvent
	capacity    int
	nextSubID   int
	subscribers map[int]chan TrackedEvent
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventLog{
		capacity:    capacity,
		subscribers: map[int]chan TrackedEvent{},
	}
}

func (l *EventLog) Record(event TrackedEvent) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.recent = append(l.recent, event)
	if len(l.recent) > l.capacity {
		l.recent = l.recent[len(l.recent)-l.capacity:]
	}
	for _, ch := range l.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	l.mu.Unlock()
}

func (l *EventLog) Recent() []TrackedEvent {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TrackedEvent, len(l.recent))
	copy(out, l.recent)
	return out
}

func (l *EventLog) Subscribe() (<-chan TrackedEvent, func()) {
	if l == nil {
		ch := make(chan TrackedEvent)
		close(ch)
		return ch, func() {}
	}
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan TrackedEvent, 16)
	l.subscribers[id] = ch
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		if existing, ok := l.subscribers[id]; ok {
			delete(l.subscribers, id)
			close(existing)
		}
		l.mu.Unlock()
	}
}
