package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopstream/opstrack/internal/tabular"
)

const (
	ActivityPageView    = "page_view"
	ActivityProductView = "product_view"
	ActivityCartAdd     = "cart_add"
	ActivityCheckout    = "checkout_start"
	ActivitySearch      = "search"
)

// User Journeys sheet columns. The journey key is (userId, sessionId)
// joined with ":"; it is the one row in the system that is mutated by
// counter increments instead of full overwrite.
const (
	journeyColKey = iota
	journeyColUserID
	journeyColSessionID
	journeyColStart
	journeyColEnd
	journeyColDurationSec
	journeyColPageViews
	journeyColProductViews
	journeyColCartAdds
	journeyColCheckouts
	journeyColSearches
	journeyColConversionType
	journeyColConversionValue
	journeyColBounce
	journeyColumnCount
)

type Activity struct {
	UserID    string
	SessionID string
	Type      string
	Page      string
	ProductID string
	Referrer  string
	UserAgent string
	Timestamp time.Time
}

type Conversion struct {
	UserID    string
	SessionID string
	Type      string
	OrderID   string
	Value     float64
	Timestamp time.Time
}

type Journey struct {
	UserID          string
	SessionID       string
	Start           time.Time
	End             time.Time
	DurationSeconds int
	PageViews       int
	ProductViews    int
	CartAdds        int
	Checkouts       int
	Searches        int
	ConversionType  string
	ConversionValue float64
	Bounce          bool
}

// JourneyTracker maintains the clickstream sheets and the per-session
// journey rows derived from them.
type JourneyTracker struct {
	store  tabular.Store
	events *EventLog
	keys   *keyedMutex
	now    func() time.Time
}

func NewJourneyTracker(store tabular.Store, events *EventLog) *JourneyTracker {
	return &JourneyTracker{
		store:  store,
		events: events,
		keys:   newKeyedMutex(),
		now:    time.Now,
	}
}

func journeyKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// TrackUserActivity appends one activity row and folds the event into
// the session's journey row: the matching counter goes up, the journey
// end extends, and the bounce flag is recomputed (a single page view in
// a session shorter than two minutes).
func (t *JourneyTracker) TrackUserActivity(ctx context.Context, activity Activity) error {
	if activity.UserID == "" || activity.SessionID == "" {
		return fmt.Errorf("%w: user id and session id are required", ErrInvalidInput)
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = t.now().UTC()
	}

	row := tabular.Row{
		activity.UserID,
		activity.SessionID,
		activity.Type,
		activity.Page,
		activity.ProductID,
		activity.Referrer,
		activity.UserAgent,
		formatTime(activity.Timestamp),
	}
	if err := t.store.AppendRows(ctx, SheetUserActivity, []tabular.Row{row}); err != nil {
		return err
	}

	key := journeyKey(activity.UserID, activity.SessionID)
	unlock := t.keys.Lock("journey:" + key)
	defer unlock()

	journey, err := t.loadJourney(ctx, activity.UserID, activity.SessionID, activity.Timestamp)
	if err != nil {
		return err
	}
	switch activity.Type {
	case ActivityPageView:
		journey.PageViews++
	case ActivityProductView:
		journey.ProductViews++
	case ActivityCartAdd:
		journey.CartAdds++
	case ActivityCheckout:
		journey.Checkouts++
	case ActivitySearch:
		journey.Searches++
	default:
		journey.PageViews++
	}
	if activity.Timestamp.After(journey.End) {
		journey.End = activity.Timestamp
	}
	journey.DurationSeconds = int(journey.End.Sub(journey.Start).Seconds())
	journey.Bounce = journey.PageViews == 1 && journey.DurationSeconds < 120

	return t.saveJourney(ctx, journey)
}

// TrackConversion appends a conversion event and stamps the journey's
// conversion type without closing it.
func (t *JourneyTracker) TrackConversion(ctx context.Context, conv Conversion) error {
	if conv.UserID == "" || conv.SessionID == "" {
		return fmt.Errorf("%w: user id and session id are required", ErrInvalidInput)
	}
	if conv.Timestamp.IsZero() {
		conv.Timestamp = t.now().UTC()
	}

	row := tabular.Row{
		conv.UserID,
		conv.SessionID,
		conv.Type,
		conv.OrderID,
		formatMoney(conv.Value),
		formatTime(conv.Timestamp),
	}
	if err := t.store.AppendRows(ctx, SheetConversionEvents, []tabular.Row{row}); err != nil {
		return err
	}

	unlock := t.keys.Lock("journey:" + journeyKey(conv.UserID, conv.SessionID))
	defer unlock()

	journey, err := t.loadJourney(ctx, conv.UserID, conv.SessionID, conv.Timestamp)
	if err != nil {
		return err
	}
	journey.ConversionType = conv.Type
	journey.ConversionValue = conv.Value
	if conv.Timestamp.After(journey.End) {
		journey.End = conv.Timestamp
		journey.DurationSeconds = int(journey.End.Sub(journey.Start).Seconds())
	}
	return t.saveJourney(ctx, journey)
}

// TrackPurchase is the only path that closes a journey: the conversion
// type becomes "purchase" and the journey end is final.
func (t *JourneyTracker) TrackPurchase(ctx context.Context, userID, sessionID, orderID string, value float64) error {
	err := t.TrackConversion(ctx, Conversion{
		UserID:    userID,
		SessionID: sessionID,
		Type:      "purchase",
		OrderID:   orderID,
		Value:     value,
		Timestamp: t.now().UTC(),
	})
	if err != nil {
		return err
	}
	t.events.Record(TrackedEvent{
		Type:      "journey.purchase",
		Key:       journeyKey(userID, sessionID),
		Summary:   "purchase " + orderID,
		Timestamp: t.now().UTC(),
	})
	return nil
}

// UpdateFunnelAnalysis recomputes the conversion funnel for a date from
// the journey rows started that day. Each stage rate is the downstream
// count over the upstream count; an empty upstream stage yields 0, not
// a division error.
func (t *JourneyTracker) UpdateFunnelAnalysis(ctx context.Context, date time.Time) error {
	rows, err := t.store.GetValues(ctx, SheetUserJourneys)
	if err != nil {
		return err
	}

	var visitors, productViews, cartAdds, checkouts, purchases int
	for _, row := range rows {
		journey := decodeJourneyRow(row)
		if !sameDay(journey.Start, date) {
			continue
		}
		visitors++
		if journey.ProductViews > 0 {
			productViews++
		}
		if journey.CartAdds > 0 {
			cartAdds++
		}
		if journey.Checkouts > 0 {
			checkouts++
		}
		if journey.ConversionType == "purchase" {
			purchases++
		}
	}

	summary := tabular.Row{
		formatDate(date),
		strconv.Itoa(visitors),
		strconv.Itoa(productViews),
		strconv.Itoa(cartAdds),
		strconv.Itoa(checkouts),
		strconv.Itoa(purchases),
		formatPercent(stageRate(productViews, visitors)),
		formatPercent(stageRate(cartAdds, productViews)),
		formatPercent(stageRate(checkouts, cartAdds)),
		formatPercent(stageRate(purchases, checkouts)),
		formatPercent(stageRate(purchases, visitors)),
		formatTime(t.now()),
	}
	_, err = tabular.UpsertRow(ctx, t.store, SheetFunnelAnalysis, 0, formatDate(date), summary)
	return err
}

func stageRate(downstream, upstream int) float64 {
	if upstream == 0 {
		return 0
	}
	return float64(downstream) / float64(upstream) * 100
}

func (t *JourneyTracker) loadJourney(ctx context.Context, userID, sessionID string, at time.Time) (Journey, error) {
	key := journeyKey(userID, sessionID)
	_, row, err := t.store.FindRow(ctx, SheetUserJourneys, journeyColKey, key)
	if err == nil {
		return decodeJourneyRow(row), nil
	}
	if !errors.Is(err, tabular.ErrNotFound) {
		return Journey{}, err
	}
	return Journey{UserID: userID, SessionID: sessionID, Start: at, End: at}, nil
}

func (t *JourneyTracker) saveJourney(ctx context.Context, journey Journey) error {
	key := journeyKey(journey.UserID, journey.SessionID)
	_, err := tabular.UpsertRow(ctx, t.store, SheetUserJourneys, journeyColKey, key, encodeJourneyRow(journey))
	return err
}

func encodeJourneyRow(j Journey) tabular.Row {
	row := make(tabular.Row, journeyColumnCount)
	row[journeyColKey] = journeyKey(j.UserID, j.SessionID)
	row[journeyColUserID] = j.UserID
	row[journeyColSessionID] = j.SessionID
	row[journeyColStart] = formatTime(j.Start)
	row[journeyColEnd] = formatTime(j.End)
	row[journeyColDurationSec] = strconv.Itoa(j.DurationSeconds)
	row[journeyColPageViews] = strconv.Itoa(j.PageViews)
	row[journeyColProductViews] = strconv.Itoa(j.ProductViews)
	row[journeyColCartAdds] = strconv.Itoa(j.CartAdds)
	row[journeyColCheckouts] = strconv.Itoa(j.Checkouts)
	row[journeyColSearches] = strconv.Itoa(j.Searches)
	row[journeyColConversionType] = j.ConversionType
	if j.ConversionValue > 0 {
		row[journeyColConversionValue] = formatMoney(j.ConversionValue)
	}
	row[journeyColBounce] = strconv.FormatBool(j.Bounce)
	return row
}

func decodeJourneyRow(row tabular.Row) Journey {
	return Journey{
		UserID:          cell(row, journeyColUserID),
		SessionID:       cell(row, journeyColSessionID),
		Start:           parseTime(cell(row, journeyColStart)),
		End:             parseTime(cell(row, journeyColEnd)),
		DurationSeconds: parseInt(cell(row, journeyColDurationSec)),
		PageViews:       parseInt(cell(row, journeyColPageViews)),
		ProductViews:    parseInt(cell(row, journeyColProductViews)),
		CartAdds:        parseInt(cell(row, journeyColCartAdds)),
		Checkouts:       parseInt(cell(row, journeyColCheckouts)),
		Searches:        parseInt(cell(row, journeyColSearches)),
		ConversionType:  cell(row, journeyColConversionType),
		ConversionValue: parseFloat(cell(row, journeyColConversionValue)),
		Bounce:          strings.EqualFold(cell(row, journeyColBounce), "true"),
	}
}
