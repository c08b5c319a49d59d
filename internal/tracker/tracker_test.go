package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopstream/opstrack/internal/config"
)

// fakeDispatcher records notification calls for assertion.
type fakeDispatcher struct {
	mu            sync.Mutex
	delayAlerts   []string
	stockAlerts   []string
	urgentTickets []string
	systemErrors  []string
	fail          error
}

func (d *fakeDispatcher) SendDelayAlert(ctx context.Context, orderID, status, carrier, details string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delayAlerts = append(d.delayAlerts, orderID)
	return d.fail
}

func (d *fakeDispatcher) SendLowStockAlert(ctx context.Context, productID, productName string, currentStock, threshold int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stockAlerts = append(d.stockAlerts, productID)
	return d.fail
}

func (d *fakeDispatcher) SendUrgentTicketAlert(ctx context.Context, ticketID, subject, customerEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urgentTickets = append(d.urgentTickets, ticketID)
	return d.fail
}

func (d *fakeDispatcher) SendSystemError(ctx context.Context, component string, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.systemErrors = append(d.systemErrors, component)
	return d.fail
}

func testRules() StaticRules {
	return StaticRules{AlertRules: config.DefaultAlertRules()}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{1.5, 1.5},
		{1.005, 1.01},
		{25.0, 25.0},
		{3.14159, 3.14},
	}
	for _, tc := range cases {
		if got := round2(tc.in); got != tc.want {
			t.Errorf("round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("order:O1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	km.mu.Lock()
	remaining := len(km.locks)
	km.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected all key locks released, %d remain", remaining)
	}
}

func TestKeyedMutexDistinctKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key blocked")
	}
	unlockA()
}

func TestEventLogRingAndSubscribe(t *testing.T) {
	l := NewEventLog(3)
	ch, cancel := l.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		l.Record(TrackedEvent{Type: "order.created", Key: "O1"})
	}
	if got := len(l.Recent()); got != 3 {
		t.Fatalf("recent = %d events, want capacity 3", got)
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			if received == 5 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("received %d events, want 5", received)
		}
	}
}

func TestEventLogNilIsSafe(t *testing.T) {
	var l *EventLog
	l.Record(TrackedEvent{Type: "x"})
	if l.Recent() != nil {
		t.Fatal("nil log should report no events")
	}
}

func TestSyncResultSuccess(t *testing.T) {
	var r SyncResult
	if !r.Success() {
		t.Fatal("empty result should be success")
	}
	r.addError("O1", context.Canceled)
	if r.Success() {
		t.Fatal("result with errors should not be success")
	}
}

func TestParseTimeAcceptsKnownLayouts(t *testing.T) {
	if parseTime("2026-08-27 10:30:00").IsZero() {
		t.Fatal("sheet layout should parse")
	}
	if parseTime("2026-08-27T10:30:00Z").IsZero() {
		t.Fatal("RFC3339 should parse")
	}
	if parseTime("2026-08-27").IsZero() {
		t.Fatal("bare date should parse")
	}
	if !parseTime("garbage").IsZero() {
		t.Fatal("garbage should yield zero time")
	}
}
