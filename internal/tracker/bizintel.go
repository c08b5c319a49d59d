package tracker

import (
	"context"
	"strconv"
	"time"

	"github.com/shopstream/opstrack/internal/tabular"
)

// BusinessIntelligence rolls the other trackers' sheets up into one
// cross-domain daily row. It only reads; each source sheet stays owned
// by its tracker.
type BusinessIntelligence struct {
	store  tabular.Store
	events *EventLog
	now    func() time.Time
}

func NewBusinessIntelligence(store tabular.Store, events *EventLog) *BusinessIntelligence {
	return &BusinessIntelligence{
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// UpdateDailySummary recomputes the BI row for the date from scratch:
// order volume and revenue, ticket volume, session and purchase counts,
// and the session conversion rate.
func (b *BusinessIntelligence) UpdateDailySummary(ctx context.Context, date time.Time) error {
	orders, err := b.store.GetValues(ctx, SheetOrders)
	if err != nil {
		return err
	}
	var orderCount int
	var revenue float64
	var cancelled int
	for _, row := range orders {
		if !sameDay(parseTime(cell(row, orderColCreatedAt)), date) {
			continue
		}
		orderCount++
		revenue += parseFloat(cell(row, orderColTotalAmount))
		if cell(row, orderColStatus) == OrderStatusCancelled {
			cancelled++
		}
	}

	tickets, err := b.store.GetValues(ctx, SheetTickets)
	if err != nil {
		return err
	}
	var ticketCount, urgentTickets int
	for _, row := range tickets {
		if !sameDay(parseTime(cell(row, ticketColCreatedAt)), date) {
			continue
		}
		ticketCount++
		if cell(row, ticketColPriority) == TicketPriorityUrgent {
			urgentTickets++
		}
	}

	journeys, err := b.store.GetValues(ctx, SheetUserJourneys)
	if err != nil {
		return err
	}
	var sessions, purchases int
	for _, row := range journeys {
		if !sameDay(parseTime(cell(row, journeyColStart)), date) {
			continue
		}
		sessions++
		if cell(row, journeyColConversionType) == "purchase" {
			purchases++
		}
	}

	avgOrderValue := 0.0
	if orderCount > 0 {
		avgOrderValue = revenue / float64(orderCount)
	}
	conversionRate := 0.0
	if sessions > 0 {
		conversionRate = float64(purchases) / float64(sessions) * 100
	}

	summary := tabular.Row{
		formatDate(date),
		strconv.Itoa(orderCount),
		formatMoney(revenue),
		formatMoney(avgOrderValue),
		strconv.Itoa(cancelled),
		strconv.Itoa(ticketCount),
		strconv.Itoa(urgentTickets),
		strconv.Itoa(sessions),
		strconv.Itoa(purchases),
		formatPercent(conversionRate),
		formatTime(b.now()),
	}
	_, err = tabular.UpsertRow(ctx, b.store, SheetBISummary, 0, formatDate(date), summary)
	if err != nil {
		return err
	}
	b.events.Record(TrackedEvent{
		Type:      "bi.summary",
		Key:       formatDate(date),
		Summary:   "daily rollup refreshed",
		Timestamp: b.now().UTC(),
	})
	return nil
}
