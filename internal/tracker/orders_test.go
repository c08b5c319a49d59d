package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/tabular"
)

type fakeOrderSource struct {
	orders []cms.Order
	err    error
}

func (s *fakeOrderSource) FetchOrders(ctx context.Context) ([]cms.Order, error) {
	return s.orders, s.err
}

func newOrderTracker(store tabular.Store, dispatcher *fakeDispatcher, source OrderSource) *OrderTracker {
	return NewOrderTracker(store, dispatcher, testRules(), source, NewEventLog(16))
}

func TestTrackOrderIsIdempotent(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newOrderTracker(store, &fakeDispatcher{}, nil)
	ctx := context.Background()

	order := Order{
		OrderID:      "O1",
		CustomerName: "Ada",
		Status:       OrderStatusPending,
		TotalAmount:  49.90,
		Items:        []OrderItem{{ProductID: "P1", Name: "Widget", Quantity: 2, Price: 24.95}},
	}
	if err := tr.TrackOrder(ctx, order); err != nil {
		t.Fatalf("first track: %v", err)
	}
	if err := tr.TrackOrder(ctx, order); err != nil {
		t.Fatalf("second track: %v", err)
	}

	orders, _ := store.GetValues(ctx, SheetOrders)
	if len(orders) != 1 {
		t.Fatalf("orders = %d rows, want 1", len(orders))
	}
	history, _ := store.GetValues(ctx, SheetStatusHistory)
	if len(history) != 1 {
		t.Fatalf("history = %d rows, want 1", len(history))
	}
	items, _ := store.GetValues(ctx, SheetOrderItems)
	if len(items) != 1 {
		t.Fatalf("items = %d rows, want 1", len(items))
	}
	if got := history[0][1]; got != "" {
		t.Fatalf("first history entry previous status = %q, want empty", got)
	}
}

func TestTrackOrderRequiresID(t *testing.T) {
	tr := newOrderTracker(tabular.NewMemoryStore(), &fakeDispatcher{}, nil)
	if err := tr.TrackOrder(context.Background(), Order{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateOrderStatusNotFound(t *testing.T) {
	tr := newOrderTracker(tabular.NewMemoryStore(), &fakeDispatcher{}, nil)
	err := tr.UpdateOrderStatus(context.Background(), "missing", OrderStatusShipped, StatusMetadata{})
	if !errors.Is(err, tabular.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateOrderStatusDurations(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{"zero", 0, "0.00"},
		{"ninety minutes", 90 * time.Minute, "1.50"},
		{"over a day", 25 * time.Hour, "25.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := tabular.NewMemoryStore()
			tr := newOrderTracker(store, &fakeDispatcher{}, nil)
			ctx := context.Background()

			t0 := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
			tr.now = func() time.Time { return t0 }
			if err := tr.TrackOrder(ctx, Order{OrderID: "O1", Status: OrderStatusPending}); err != nil {
				t.Fatalf("track: %v", err)
			}

			tr.now = func() time.Time { return t0.Add(tc.elapsed) }
			if err := tr.UpdateOrderStatus(ctx, "O1", OrderStatusConfirmed, StatusMetadata{}); err != nil {
				t.Fatalf("update: %v", err)
			}

			history, _ := store.GetValues(ctx, SheetStatusHistory)
			if len(history) != 2 {
				t.Fatalf("history = %d rows, want 2", len(history))
			}
			last := history[1]
			if last[1] != OrderStatusPending || last[2] != OrderStatusConfirmed {
				t.Fatalf("transition = %s -> %s", last[1], last[2])
			}
			if got := last[5]; got != tc.want {
				t.Fatalf("duration = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestShippedStatusWritesShippingUpdate(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newOrderTracker(store, &fakeDispatcher{}, nil)
	ctx := context.Background()

	t0 := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return t0 }
	if err := tr.TrackOrder(ctx, Order{OrderID: "O1", Status: OrderStatusPending}); err != nil {
		t.Fatalf("track: %v", err)
	}
	tr.now = func() time.Time { return t0.Add(2 * time.Hour) }
	meta := StatusMetadata{TrackingNumber: "T1", Carrier: "UPS", Location: "Leipzig hub"}
	if err := tr.UpdateOrderStatus(ctx, "O1", OrderStatusShipped, meta); err != nil {
		t.Fatalf("update: %v", err)
	}

	updates, _ := store.GetValues(ctx, SheetShippingUpdates)
	if len(updates) != 1 {
		t.Fatalf("shipping updates = %d rows, want 1", len(updates))
	}
	if updates[0][5] != "T1" {
		t.Fatalf("tracking number = %q, want T1", updates[0][5])
	}

	_, row, err := store.FindRow(ctx, SheetOrders, 0, "O1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	order := decodeOrderRow(row)
	if order.Status != OrderStatusShipped || order.TrackingNumber != "T1" || order.Carrier != "UPS" {
		t.Fatalf("order after update = %+v", order)
	}
	if order.ProcessingHours != 2 {
		t.Fatalf("processing hours = %v, want 2", order.ProcessingHours)
	}
}

func TestConfirmedStatusWritesNoShippingUpdate(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newOrderTracker(store, &fakeDispatcher{}, nil)
	ctx := context.Background()

	if err := tr.TrackOrder(ctx, Order{OrderID: "O1", Status: OrderStatusPending}); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := tr.UpdateOrderStatus(ctx, "O1", OrderStatusConfirmed, StatusMetadata{TrackingNumber: "T1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	updates, _ := store.GetValues(ctx, SheetShippingUpdates)
	if len(updates) != 0 {
		t.Fatalf("shipping updates = %d rows, want 0", len(updates))
	}
}

func TestDelayStatusNotifiesBestEffort(t *testing.T) {
	store := tabular.NewMemoryStore()
	dispatcher := &fakeDispatcher{fail: errors.New("smtp down")}
	tr := newOrderTracker(store, dispatcher, nil)
	ctx := context.Background()

	if err := tr.TrackOrder(ctx, Order{OrderID: "O1", Status: OrderStatusShipped, TrackingNumber: "T1"}); err != nil {
		t.Fatalf("track: %v", err)
	}
	meta := StatusMetadata{CarrierStatus: "exception", Details: "address not found"}
	if err := tr.UpdateOrderStatus(ctx, "O1", OrderStatusOutForDelivery, meta); err != nil {
		t.Fatalf("update should not fail on notification error: %v", err)
	}
	if len(dispatcher.delayAlerts) != 1 || dispatcher.delayAlerts[0] != "O1" {
		t.Fatalf("delay alerts = %v, want [O1]", dispatcher.delayAlerts)
	}
}

func TestUpdateDailySummary(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newOrderTracker(store, &fakeDispatcher{}, nil)
	ctx := context.Background()

	day := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return day }

	for _, o := range []Order{
		{OrderID: "O1", Status: OrderStatusPending, TotalAmount: 10},
		{OrderID: "O2", Status: OrderStatusDelivered, TotalAmount: 30},
	} {
		if err := tr.TrackOrder(ctx, o); err != nil {
			t.Fatalf("track %s: %v", o.OrderID, err)
		}
	}

	if err := tr.UpdateDailySummary(ctx, day); err != nil {
		t.Fatalf("summary: %v", err)
	}
	_, row, err := store.FindRow(ctx, SheetOrdersSummary, 0, "2026-08-27")
	if err != nil {
		t.Fatalf("find summary: %v", err)
	}
	if row[1] != "2" {
		t.Fatalf("order count = %q, want 2", row[1])
	}
	if row[8] != "40.00" || row[9] != "20.00" {
		t.Fatalf("revenue = %q avg = %q", row[8], row[9])
	}
	// No delivered order carries both delivery dates, so the on-time rate
	// takes its defined default.
	if row[11] != "100.00" {
		t.Fatalf("on-time rate = %q, want 100.00", row[11])
	}

	// Re-running upserts the same date row.
	if err := tr.UpdateDailySummary(ctx, day); err != nil {
		t.Fatalf("second summary: %v", err)
	}
	rows, _ := store.GetValues(ctx, SheetOrdersSummary)
	if len(rows) != 1 {
		t.Fatalf("summary rows = %d, want 1", len(rows))
	}
}

func TestSyncOrdersCountsAddedAndUpdated(t *testing.T) {
	store := tabular.NewMemoryStore()
	source := &fakeOrderSource{orders: []cms.Order{
		{OrderID: "O1", Status: "pending", TotalAmount: 10},
		{OrderID: "O2", Status: "shipped", TotalAmount: 20},
	}}
	tr := newOrderTracker(store, &fakeDispatcher{}, source)
	ctx := context.Background()

	if err := tr.TrackOrder(ctx, Order{OrderID: "O1", Status: OrderStatusPending}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result := tr.SyncOrders(ctx)
	if !result.Success() {
		t.Fatalf("sync errors: %v", result.Errors)
	}
	if result.RecordsProcessed != 2 || result.RecordsAdded != 1 || result.RecordsUpdated != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncOrdersCollectsItemErrors(t *testing.T) {
	store := tabular.NewMemoryStore()
	source := &fakeOrderSource{orders: []cms.Order{
		{OrderID: "", Status: "pending"},
		{OrderID: "O2", Status: "pending"},
	}}
	tr := newOrderTracker(store, &fakeDispatcher{}, source)

	result := tr.SyncOrders(context.Background())
	if result.Success() {
		t.Fatal("expected an item error")
	}
	if result.RecordsProcessed != 2 || result.RecordsAdded != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncOrdersSourceFailure(t *testing.T) {
	source := &fakeOrderSource{err: errors.New("cms unreachable")}
	tr := newOrderTracker(tabular.NewMemoryStore(), &fakeDispatcher{}, source)
	result := tr.SyncOrders(context.Background())
	if result.Success() || result.RecordsProcessed != 0 {
		t.Fatalf("result = %+v", result)
	}
}
