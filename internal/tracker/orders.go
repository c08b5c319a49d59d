package tracker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/notify"
	"github.com/shopstream/opstrack/internal/tabular"
)

// Order statuses. The tracker does not enforce the sequence; upstream
// producers are trusted to send valid transitions and the history log
// records whatever actually happened.
const (
	OrderStatusPending        = "pending"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusProcessing     = "processing"
	OrderStatusShipped        = "shipped"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
	OrderStatusRefunded       = "refunded"
	OrderStatusReturned       = "returned"
)

// Orders sheet columns. The order is the wire contract; never reorder.
const (
	orderColID = iota
	orderColCustomerID
	orderColCustomerName
	orderColCustomerEmail
	orderColStatus
	orderColTotalAmount
	orderColCurrency
	orderColPaymentMethod
	orderColShippingMethod
	orderColTrackingNumber
	orderColCarrier
	orderColEstimatedDelivery
	orderColActualDelivery
	orderColItemsCount
	orderColItemsSummary
	orderColShippingAddress
	orderColBillingAddress
	orderColCreatedAt
	orderColUpdatedAt
	orderColProcessingTime
	orderColShippingTime
	orderColNotes
	orderColumnCount
)

type Order struct {
	OrderID           string
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	Status            string
	TotalAmount       float64
	Currency          string
	PaymentMethod     string
	ShippingMethod    string
	TrackingNumber    string
	Carrier           string
	EstimatedDelivery time.Time
	ActualDelivery    time.Time
	Items             []OrderItem
	ShippingAddress   string
	BillingAddress    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessingHours   float64
	ShippingDays      float64
	Notes             string
}

type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     float64
}

// StatusMetadata carries the optional fields of a status update webhook.
type StatusMetadata struct {
	TrackingNumber    string
	Carrier           string
	EstimatedDelivery time.Time
	Location          string
	CarrierStatus     string
	Details           string
	ChangedBy         string
	Notes             string
}

// OrderSource is the slice of the CMS client the order resync needs.
type OrderSource interface {
	FetchOrders(ctx context.Context) ([]cms.Order, error)
}

type OrderTracker struct {
	store      tabular.Store
	dispatcher notify.Dispatcher
	rules      RulesProvider
	source     OrderSource
	events     *EventLog
	keys       *keyedMutex
	now        func() time.Time
}

func NewOrderTracker(store tabular.Store, dispatcher notify.Dispatcher, rules RulesProvider, source OrderSource, events *EventLog) *OrderTracker {
	return &OrderTracker{
		store:      store,
		dispatcher: dispatcher,
		rules:      rules,
		source:     source,
		events:     events,
		keys:       newKeyedMutex(),
		now:        time.Now,
	}
}

// TrackOrder upserts the order row. Items and the create history entry
// are only written on first sight of the order, which keeps redelivered
// order.created webhooks idempotent.
func (t *OrderTracker) TrackOrder(ctx context.Context, order Order) error {
	if strings.TrimSpace(order.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	unlock := t.keys.Lock("order:" + order.OrderID)
	defer unlock()

	now := t.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	inserted, err := tabular.UpsertRow(ctx, t.store, SheetOrders, orderColID, order.OrderID, encodeOrderRow(order))
	if err != nil {
		return err
	}
	if !inserted {
		t.record("order.updated", order.OrderID, "order re-tracked")
		return nil
	}

	if len(order.Items) > 0 {
		itemRows := make([]tabular.Row, 0, len(order.Items))
		for _, item := range order.Items {
			itemRows = append(itemRows, tabular.Row{
				order.OrderID,
				item.ProductID,
				item.Name,
				fmt.Sprintf("%d", item.Quantity),
				formatMoney(item.Price),
				formatMoney(float64(item.Quantity) * item.Price),
				formatTime(now),
			})
		}
		if err := t.store.AppendRows(ctx, SheetOrderItems, itemRows); err != nil {
			return err
		}
	}

	history := tabular.Row{
		order.OrderID,
		"", // no previous status on first sight
		order.Status,
		"system",
		formatTime(now),
		"",
	}
	if err := t.store.AppendRows(ctx, SheetStatusHistory, []tabular.Row{history}); err != nil {
		return err
	}
	t.record("order.created", order.OrderID, "order tracked as "+order.Status)
	return nil
}

// UpdateOrderStatus transitions an existing order and appends the audit
// trail. The duration spent in the previous status is measured against
// the row's updatedAt, in hours with two-decimal rounding.
func (t *OrderTracker) UpdateOrderStatus(ctx context.Context, orderID, newStatus string, meta StatusMetadata) error {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(newStatus) == "" {
		return fmt.Errorf("%w: order id and status are required", ErrInvalidInput)
	}
	unlock := t.keys.Lock("order:" + orderID)
	defer unlock()

	_, row, err := t.store.FindRow(ctx, SheetOrders, orderColID, orderID)
	if err != nil {
		return err
	}
	order := decodeOrderRow(row)
	previousStatus := order.Status
	now := t.now().UTC()

	durationHours := 0.0
	if !order.UpdatedAt.IsZero() {
		durationHours = round2(now.Sub(order.UpdatedAt).Hours())
	}

	order.Status = newStatus
	order.UpdatedAt = now
	if meta.TrackingNumber != "" {
		order.TrackingNumber = meta.TrackingNumber
	}
	if meta.Carrier != "" {
		order.Carrier = meta.Carrier
	}
	if !meta.EstimatedDelivery.IsZero() {
		order.EstimatedDelivery = meta.EstimatedDelivery
	}
	if meta.Notes != "" {
		order.Notes = meta.Notes
	}
	switch newStatus {
	case OrderStatusShipped:
		if !order.CreatedAt.IsZero() {
			order.ProcessingHours = round2(now.Sub(order.CreatedAt).Hours())
		}
	case OrderStatusDelivered:
		order.ActualDelivery = now
		if !order.CreatedAt.IsZero() {
			order.ShippingDays = round2(now.Sub(order.CreatedAt).Hours() / 24)
		}
	}

	if err := t.store.FindAndUpdateRow(ctx, SheetOrders, orderColID, orderID, encodeOrderRow(order)); err != nil {
		return err
	}

	changedBy := meta.ChangedBy
	if changedBy == "" {
		changedBy = "webhook"
	}
	history := tabular.Row{
		orderID,
		previousStatus,
		newStatus,
		changedBy,
		formatTime(now),
		formatFloat2(durationHours),
	}
	if err := t.store.AppendRows(ctx, SheetStatusHistory, []tabular.Row{history}); err != nil {
		return err
	}

	if (newStatus == OrderStatusShipped || newStatus == OrderStatusOutForDelivery) && order.TrackingNumber != "" {
		shipping := tabular.Row{
			orderID,
			formatTime(now),
			newStatus,
			meta.Location,
			order.Carrier,
			order.TrackingNumber,
			meta.Details,
		}
		if err := t.store.AppendRows(ctx, SheetShippingUpdates, []tabular.Row{shipping}); err != nil {
			return err
		}
	}

	if t.rules.Rules().IsDelayStatus(meta.CarrierStatus) {
		notify.BestEffort("orders", func() error {
			return t.dispatcher.SendDelayAlert(ctx, orderID, meta.CarrierStatus, order.Carrier, meta.Details)
		})
	}

	t.record("order.status", orderID, previousStatus+" -> "+newStatus)
	return nil
}

// UpdateDailySummary recomputes the order rollup for the given date from
// scratch. Recomputing instead of incrementing trades a full scan for
// immunity to missed webhooks.
func (t *OrderTracker) UpdateDailySummary(ctx context.Context, date time.Time) error {
	rows, err := t.store.GetValues(ctx, SheetOrders)
	if err != nil {
		return err
	}

	statusCounts := map[string]int{}
	var totalRevenue float64
	var orderCount int
	var processingTotal float64
	var processingCount int
	var deliveredWithDates, deliveredOnTime int

	for _, row := range rows {
		order := decodeOrderRow(row)
		if !sameDay(order.CreatedAt, date) {
			continue
		}
		orderCount++
		statusCounts[order.Status]++
		totalRevenue += order.TotalAmount
		if (order.Status == OrderStatusShipped || order.Status == OrderStatusDelivered) && order.ProcessingHours > 0 {
			processingTotal += order.ProcessingHours
			processingCount++
		}
		if order.Status == OrderStatusDelivered && !order.ActualDelivery.IsZero() && !order.EstimatedDelivery.IsZero() {
			deliveredWithDates++
			if !order.ActualDelivery.After(order.EstimatedDelivery) {
				deliveredOnTime++
			}
		}
	}

	avgRevenue := 0.0
	if orderCount > 0 {
		avgRevenue = totalRevenue / float64(orderCount)
	}
	avgProcessing := 0.0
	if processingCount > 0 {
		avgProcessing = processingTotal / float64(processingCount)
	}
	onTimeRate := 100.0
	if deliveredWithDates > 0 {
		onTimeRate = float64(deliveredOnTime) / float64(deliveredWithDates) * 100
	}

	summary := tabular.Row{
		formatDate(date),
		fmt.Sprintf("%d", orderCount),
		fmt.Sprintf("%d", statusCounts[OrderStatusPending]),
		fmt.Sprintf("%d", statusCounts[OrderStatusConfirmed]),
		fmt.Sprintf("%d", statusCounts[OrderStatusProcessing]),
		fmt.Sprintf("%d", statusCounts[OrderStatusShipped]),
		fmt.Sprintf("%d", statusCounts[OrderStatusDelivered]),
		fmt.Sprintf("%d", statusCounts[OrderStatusCancelled]),
		formatMoney(totalRevenue),
		formatMoney(avgRevenue),
		formatFloat2(avgProcessing),
		formatPercent(onTimeRate),
		formatTime(t.now()),
	}
	_, err = tabular.UpsertRow(ctx, t.store, SheetOrdersSummary, 0, formatDate(date), summary)
	return err
}

// SyncOrders pulls the authoritative order list from the CMS and
// re-tracks every order, healing rows lost to missed webhooks. Item
// failures are collected; the batch never aborts.
func (t *OrderTracker) SyncOrders(ctx context.Context) SyncResult {
	var result SyncResult
	if t.source == nil {
		result.addError("orders", fmt.Errorf("no cms source configured"))
		return result
	}
	orders, err := t.source.FetchOrders(ctx)
	if err != nil {
		result.addError("orders", err)
		return result
	}
	for _, cmsOrder := range orders {
		result.RecordsProcessed++
		order := OrderFromCMS(cmsOrder)
		_, _, findErr := t.store.FindRow(ctx, SheetOrders, orderColID, order.OrderID)
		existed := findErr == nil

		if err := t.TrackOrder(ctx, order); err != nil {
			result.addError(order.OrderID, err)
			continue
		}
		if existed {
			result.RecordsUpdated++
		} else {
			result.RecordsAdded++
		}
	}
	log.Printf("tracker: order sync processed=%d added=%d updated=%d errors=%d",
		result.RecordsProcessed, result.RecordsAdded, result.RecordsUpdated, len(result.Errors))
	return result
}

func (t *OrderTracker) record(eventType, key, summary string) {
	t.events.Record(TrackedEvent{Type: eventType, Key: key, Summary: summary, Timestamp: t.now().UTC()})
}

func encodeOrderRow(order Order) tabular.Row {
	row := make(tabular.Row, orderColumnCount)
	row[orderColID] = order.OrderID
	row[orderColCustomerID] = order.CustomerID
	row[orderColCustomerName] = order.CustomerName
	row[orderColCustomerEmail] = order.CustomerEmail
	row[orderColStatus] = order.Status
	row[orderColTotalAmount] = formatMoney(order.TotalAmount)
	row[orderColCurrency] = order.Currency
	row[orderColPaymentMethod] = order.PaymentMethod
	row[orderColShippingMethod] = order.ShippingMethod
	row[orderColTrackingNumber] = order.TrackingNumber
	row[orderColCarrier] = order.Carrier
	row[orderColEstimatedDelivery] = formatTime(order.EstimatedDelivery)
	row[orderColActualDelivery] = formatTime(order.ActualDelivery)
	row[orderColItemsCount] = fmt.Sprintf("%d", len(order.Items))
	row[orderColItemsSummary] = summarizeItems(order.Items)
	row[orderColShippingAddress] = order.ShippingAddress
	row[orderColBillingAddress] = order.BillingAddress
	row[orderColCreatedAt] = formatTime(order.CreatedAt)
	row[orderColUpdatedAt] = formatTime(order.UpdatedAt)
	if order.ProcessingHours > 0 {
		row[orderColProcessingTime] = formatFloat2(order.ProcessingHours)
	}
	if order.ShippingDays > 0 {
		row[orderColShippingTime] = formatFloat2(order.ShippingDays)
	}
	row[orderColNotes] = order.Notes
	return row
}

func decodeOrderRow(row tabular.Row) Order {
	return Order{
		OrderID:           cell(row, orderColID),
		CustomerID:        cell(row, orderColCustomerID),
		CustomerName:      cell(row, orderColCustomerName),
		CustomerEmail:     cell(row, orderColCustomerEmail),
		Status:            cell(row, orderColStatus),
		TotalAmount:       parseFloat(cell(row, orderColTotalAmount)),
		Currency:          cell(row, orderColCurrency),
		PaymentMethod:     cell(row, orderColPaymentMethod),
		ShippingMethod:    cell(row, orderColShippingMethod),
		TrackingNumber:    cell(row, orderColTrackingNumber),
		Carrier:           cell(row, orderColCarrier),
		EstimatedDelivery: parseTime(cell(row, orderColEstimatedDelivery)),
		ActualDelivery:    parseTime(cell(row, orderColActualDelivery)),
		ShippingAddress:   cell(row, orderColShippingAddress),
		BillingAddress:    cell(row, orderColBillingAddress),
		CreatedAt:         parseTime(cell(row, orderColCreatedAt)),
		UpdatedAt:         parseTime(cell(row, orderColUpdatedAt)),
		ProcessingHours:   parseFloat(cell(row, orderColProcessingTime)),
		ShippingDays:      parseFloat(cell(row, orderColShippingTime)),
		Notes:             cell(row, orderColNotes),
	}
}

func summarizeItems(items []OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
	}
	return strings.Join(parts, "; ")
}

// OrderFromCMS maps the CMS order DTO onto the tracked shape. Shared by
// the resync path and the CMS lifecycle webhooks.
func OrderFromCMS(in cms.Order) Order {
	items := make([]OrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return Order{
		OrderID:           in.OrderID,
		CustomerID:        in.CustomerID,
		CustomerName:      in.CustomerName,
		CustomerEmail:     in.CustomerEmail,
		Status:            in.Status,
		TotalAmount:       in.TotalAmount,
		Currency:          in.Currency,
		PaymentMethod:     in.PaymentMethod,
		ShippingMethod:    in.ShippingMethod,
		TrackingNumber:    in.TrackingNumber,
		Carrier:           in.Carrier,
		EstimatedDelivery: parseTime(in.EstimatedDelivery),
		ActualDelivery:    parseTime(in.ActualDelivery),
		Items:             items,
		ShippingAddress:   in.ShippingAddress,
		BillingAddress:    in.BillingAddress,
		CreatedAt:         parseTime(in.CreatedAt),
		UpdatedAt:         parseTime(in.UpdatedAt),
		Notes:             in.Notes,
	}
}
