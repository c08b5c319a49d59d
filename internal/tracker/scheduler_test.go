package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/tabular"
)

// blockingOrderSource parks FetchOrders until released, to hold a sync
// cycle open.
type blockingOrderSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingOrderSource) FetchOrders(ctx context.Context) ([]cms.Order, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil, nil
}

func TestRunOnceSkipsWhileRunning(t *testing.T) {
	store := tabular.NewMemoryStore()
	source := &blockingOrderSource{entered: make(chan struct{}), release: make(chan struct{})}
	orders := newOrderTracker(store, &fakeDispatcher{}, source)
	s := NewScheduler(orders, nil, nil, nil, nil, SchedulerOptions{Interval: time.Hour})

	firstDone := make(chan bool)
	go func() {
		firstDone <- s.RunOnce(context.Background())
	}()
	<-source.entered

	if s.RunOnce(context.Background()) {
		t.Fatal("overlapping run was not skipped")
	}

	close(source.release)
	if !<-firstDone {
		t.Fatal("first run should have executed")
	}

	// With the first run finished, the next tick runs again.
	if !s.RunOnce(context.Background()) {
		t.Fatal("run after completion was skipped")
	}
}

func TestRunOnceExecutesAllJobs(t *testing.T) {
	store := tabular.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	events := NewEventLog(64)
	rules := testRules()

	orderSource := &fakeOrderSource{orders: []cms.Order{{OrderID: "O1", Status: "pending", TotalAmount: 10}}}
	productSource := &fakeProductSource{products: []cms.Product{{ProductID: "P1", Name: "Widget", CurrentStock: 50, LowStockThreshold: 10}}}

	orders := NewOrderTracker(store, dispatcher, rules, orderSource, events)
	inventory := NewInventoryTracker(store, dispatcher, rules, productSource, events)
	support := NewSupportTracker(store, dispatcher, rules, events)
	journeys := NewJourneyTracker(store, events)
	bi := NewBusinessIntelligence(store, events)

	s := NewScheduler(orders, inventory, support, journeys, bi, SchedulerOptions{Interval: time.Hour})
	if !s.RunOnce(context.Background()) {
		t.Fatal("run was skipped")
	}

	today := formatDate(time.Now().UTC())
	for _, sheet := range []string{SheetOrdersSummary, SheetSupportSummary, SheetFunnelAnalysis, SheetBISummary} {
		if _, _, err := store.FindRow(context.Background(), sheet, 0, today); err != nil {
			t.Fatalf("%s row for %s missing: %v", sheet, today, err)
		}
	}
	if _, _, err := store.FindRow(context.Background(), SheetOrders, 0, "O1"); err != nil {
		t.Fatalf("synced order missing: %v", err)
	}
	if _, _, err := store.FindRow(context.Background(), SheetInventory, invColProductID, "P1"); err != nil {
		t.Fatalf("synced product missing: %v", err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil, nil, nil, nil, nil, SchedulerOptions{Interval: 10 * time.Millisecond})
	s.Start()
	s.Start() // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // second stop is a no-op
}
