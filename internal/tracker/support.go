package tracker

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopstream/opstrack/internal/notify"
	"github.com/shopstream/opstrack/internal/tabular"
)

const (
	TicketStatusOpen            = "open"
	TicketStatusInProgress      = "in_progress"
	TicketStatusWaitingCustomer = "waiting_customer"
	TicketStatusResolved        = "resolved"
	TicketStatusClosed          = "closed"

	TicketPriorityUrgent = "urgent"
	TicketPriorityHigh   = "high"
	TicketPriorityMedium = "medium"
	TicketPriorityLow    = "low"
)

// Support Tickets sheet columns.
const (
	ticketColID = iota
	ticketColCustomerID
	ticketColCustomerName
	ticketColCustomerEmail
	ticketColSubject
	ticketColDescription
	ticketColCategory
	ticketColPriority
	ticketColStatus
	ticketColAssignedTo
	ticketColChannel
	ticketColTags
	ticketColCreatedAt
	ticketColUpdatedAt
	ticketColFirstResponseAt
	ticketColResolvedAt
	ticketColResponseTime
	ticketColResolutionTime
	ticketColSatisfaction
	ticketColFeedback
	ticketColumnCount
)

type Ticket struct {
	TicketID          string
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	Subject           string
	Description       string
	Category          string
	Priority          string
	Status            string
	AssignedTo        string
	Channel           string
	Tags              []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	FirstResponseAt   time.Time
	ResolvedAt        time.Time
	ResponseMinutes   int
	ResolutionMinutes int
	SatisfactionScore int
	Feedback          string
}

type TicketInput struct {
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Subject       string
	Description   string
	Category      string
	Priority      string
	Channel       string
	Tags          []string
}

type SupportTracker struct {
	store      tabular.Store
	dispatcher notify.Dispatcher
	rules      RulesProvider
	events     *EventLog
	keys       *keyedMutex
	now        func() time.Time
}

func NewSupportTracker(store tabular.Store, dispatcher notify.Dispatcher, rules RulesProvider, events *EventLog) *SupportTracker {
	return &SupportTracker{
		store:      store,
		dispatcher: dispatcher,
		rules:      rules,
		events:     events,
		keys:       newKeyedMutex(),
		now:        time.Now,
	}
}

// CreateTicket inserts a new ticket in open status and returns its
// service-generated id. Urgent tickets page the ops inbox immediately.
func (t *SupportTracker) CreateTicket(ctx context.Context, input TicketInput) (string, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return "", fmt.Errorf("%w: ticket subject is required", ErrInvalidInput)
	}
	priority := input.Priority
	if priority == "" {
		priority = TicketPriorityMedium
	}
	now := t.now().UTC()
	ticket := Ticket{
		TicketID:      newTicketID(now),
		CustomerID:    input.CustomerID,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		Subject:       input.Subject,
		Description:   input.Description,
		Category:      input.Category,
		Priority:      priority,
		Status:        TicketStatusOpen,
		Channel:       input.Channel,
		Tags:          input.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := t.store.AppendRows(ctx, SheetTickets, []tabular.Row{encodeTicketRow(ticket)}); err != nil {
		return "", err
	}
	update := tabular.Row{
		ticket.TicketID,
		"create",
		"",
		TicketStatusOpen,
		"system",
		input.Subject,
		formatTime(now),
	}
	if err := t.store.AppendRows(ctx, SheetTicketUpdates, []tabular.Row{update}); err != nil {
		return "", err
	}

	if priority == TicketPriorityUrgent {
		notify.BestEffort("support", func() error {
			return t.dispatcher.SendUrgentTicketAlert(ctx, ticket.TicketID, ticket.Subject, ticket.CustomerEmail)
		})
	}
	t.record("ticket.created", ticket.TicketID, priority+" ticket opened")
	return ticket.TicketID, nil
}

// UpdateTicketStatus transitions a ticket and applies the one-shot
// derivations: the first entry into in_progress stamps the response
// time, the first entry into resolved stamps the resolution time.
// Re-entering either status later leaves the stamps alone.
func (t *SupportTracker) UpdateTicketStatus(ctx context.Context, ticketID, newStatus, updatedBy, message, assignedTo string) error {
	if strings.TrimSpace(ticketID) == "" || strings.TrimSpace(newStatus) == "" {
		return fmt.Errorf("%w: ticket id and status are required", ErrInvalidInput)
	}
	unlock := t.keys.Lock("ticket:" + ticketID)
	defer unlock()

	_, row, err := t.store.FindRow(ctx, SheetTickets, ticketColID, ticketID)
	if err != nil {
		return err
	}
	ticket := decodeTicketRow(row)
	previousStatus := ticket.Status
	now := t.now().UTC()

	ticket.Status = newStatus
	ticket.UpdatedAt = now
	if assignedTo != "" {
		ticket.AssignedTo = assignedTo
	}
	if newStatus == TicketStatusInProgress && ticket.FirstResponseAt.IsZero() {
		ticket.FirstResponseAt = now
		ticket.ResponseMinutes = int(now.Sub(ticket.CreatedAt).Minutes())
	}
	if newStatus == TicketStatusResolved && ticket.ResolvedAt.IsZero() {
		ticket.ResolvedAt = now
		ticket.ResolutionMinutes = int(now.Sub(ticket.CreatedAt).Minutes())
	}

	if err := t.store.FindAndUpdateRow(ctx, SheetTickets, ticketColID, ticketID, encodeTicketRow(ticket)); err != nil {
		return err
	}
	update := tabular.Row{
		ticketID,
		"status",
		previousStatus,
		newStatus,
		updatedBy,
		message,
		formatTime(now),
	}
	if err := t.store.AppendRows(ctx, SheetTicketUpdates, []tabular.Row{update}); err != nil {
		return err
	}
	t.record("ticket.status", ticketID, previousStatus+" -> "+newStatus)
	return nil
}

// AddSatisfactionScore records the customer's score without touching the
// ticket status.
func (t *SupportTracker) AddSatisfactionScore(ctx context.Context, ticketID string, score int, feedback string) error {
	if strings.TrimSpace(ticketID) == "" {
		return fmt.Errorf("%w: ticket id is required", ErrInvalidInput)
	}
	if score < 1 || score > 5 {
		return fmt.Errorf("%w: satisfaction score must be 1-5", ErrInvalidInput)
	}
	unlock := t.keys.Lock("ticket:" + ticketID)
	defer unlock()

	_, row, err := t.store.FindRow(ctx, SheetTickets, ticketColID, ticketID)
	if err != nil {
		return err
	}
	ticket := decodeTicketRow(row)
	ticket.SatisfactionScore = score
	ticket.Feedback = feedback
	ticket.UpdatedAt = t.now().UTC()

	if err := t.store.FindAndUpdateRow(ctx, SheetTickets, ticketColID, ticketID, encodeTicketRow(ticket)); err != nil {
		return err
	}
	update := tabular.Row{
		ticketID,
		"satisfaction",
		"",
		strconv.Itoa(score),
		"customer",
		feedback,
		formatTime(t.now()),
	}
	return t.store.AppendRows(ctx, SheetTicketUpdates, []tabular.Row{update})
}

// UpdateDailySummary recomputes the support rollup for the date the
// tickets were created: volumes, SLA compliance against the configured
// per-priority response thresholds, and the escalation rate.
func (t *SupportTracker) UpdateDailySummary(ctx context.Context, date time.Time) error {
	rows, err := t.store.GetValues(ctx, SheetTickets)
	if err != nil {
		return err
	}
	rules := t.rules.Rules()

	var total, open, resolved, urgent, escalated int
	var withResponse, withinSLA int
	var responseTotal, resolutionTotal float64
	var resolutionCount int
	var satisfactionTotal, satisfactionCount int

	for _, row := range rows {
		ticket := decodeTicketRow(row)
		if !sameDay(ticket.CreatedAt, date) {
			continue
		}
		total++
		switch ticket.Status {
		case TicketStatusOpen, TicketStatusInProgress, TicketStatusWaitingCustomer:
			open++
		case TicketStatusResolved, TicketStatusClosed:
			resolved++
		}
		if ticket.Priority == TicketPriorityUrgent {
			urgent++
			escalated++
		} else if hasTag(ticket.Tags, "escalated") {
			escalated++
		}
		if !ticket.FirstResponseAt.IsZero() {
			withResponse++
			responseTotal += float64(ticket.ResponseMinutes)
			if ticket.ResponseMinutes <= rules.SLAFor(ticket.Priority) {
				withinSLA++
			}
		}
		if !ticket.ResolvedAt.IsZero() {
			resolutionCount++
			resolutionTotal += float64(ticket.ResolutionMinutes)
		}
		if ticket.SatisfactionScore > 0 {
			satisfactionCount++
			satisfactionTotal += ticket.SatisfactionScore
		}
	}

	slaCompliance := 100.0
	if withResponse > 0 {
		slaCompliance = float64(withinSLA) / float64(withResponse) * 100
	}
	escalationRate := 0.0
	if total > 0 {
		escalationRate = float64(escalated) / float64(total) * 100
	}
	avgResponse := 0.0
	if withResponse > 0 {
		avgResponse = responseTotal / float64(withResponse)
	}
	avgResolution := 0.0
	if resolutionCount > 0 {
		avgResolution = resolutionTotal / float64(resolutionCount)
	}
	avgSatisfaction := 0.0
	if satisfactionCount > 0 {
		avgSatisfaction = float64(satisfactionTotal) / float64(satisfactionCount)
	}

	summary := tabular.Row{
		formatDate(date),
		strconv.Itoa(total),
		strconv.Itoa(open),
		strconv.Itoa(resolved),
		strconv.Itoa(urgent),
		formatFloat2(avgResponse),
		formatFloat2(avgResolution),
		formatPercent(slaCompliance),
		formatPercent(escalationRate),
		formatFloat2(avgSatisfaction),
		formatTime(t.now()),
	}
	_, err = tabular.UpsertRow(ctx, t.store, SheetSupportSummary, 0, formatDate(date), summary)
	return err
}

func (t *SupportTracker) record(eventType, key, summary string) {
	t.events.Record(TrackedEvent{Type: eventType, Key: key, Summary: summary, Timestamp: t.now().UTC()})
}

// newTicketID builds a collision-resistant id from the creation time and
// four random bytes: TICK-<base36 millis>-<base36 random>.
func newTicketID(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	random := binary.BigEndian.Uint32(buf[:])
	return fmt.Sprintf("TICK-%s-%s",
		strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		strings.ToUpper(strconv.FormatUint(uint64(random), 36)))
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}

func encodeTicketRow(ticket Ticket) tabular.Row {
	row := make(tabular.Row, ticketColumnCount)
	row[ticketColID] = ticket.TicketID
	row[ticketColCustomerID] = ticket.CustomerID
	row[ticketColCustomerName] = ticket.CustomerName
	row[ticketColCustomerEmail] = ticket.CustomerEmail
	row[ticketColSubject] = ticket.Subject
	row[ticketColDescription] = ticket.Description
	row[ticketColCategory] = ticket.Category
	row[ticketColPriority] = ticket.Priority
	row[ticketColStatus] = ticket.Status
	row[ticketColAssignedTo] = ticket.AssignedTo
	row[ticketColChannel] = ticket.Channel
	row[ticketColTags] = strings.Join(ticket.Tags, ",")
	row[ticketColCreatedAt] = formatTime(ticket.CreatedAt)
	row[ticketColUpdatedAt] = formatTime(ticket.UpdatedAt)
	row[ticketColFirstResponseAt] = formatTime(ticket.FirstResponseAt)
	row[ticketColResolvedAt] = formatTime(ticket.ResolvedAt)
	if !ticket.FirstResponseAt.IsZero() {
		row[ticketColResponseTime] = strconv.Itoa(ticket.ResponseMinutes)
	}
	if !ticket.ResolvedAt.IsZero() {
		row[ticketColResolutionTime] = strconv.Itoa(ticket.ResolutionMinutes)
	}
	if ticket.SatisfactionScore > 0 {
		row[ticketColSatisfaction] = strconv.Itoa(ticket.SatisfactionScore)
	}
	row[ticketColFeedback] = ticket.Feedback
	return row
}

func decodeTicketRow(row tabular.Row) Ticket {
	var tags []string
	if raw := cell(row, ticketColTags); raw != "" {
		tags = strings.Split(raw, ",")
	}
	return Ticket{
		TicketID:          cell(row, ticketColID),
		CustomerID:        cell(row, ticketColCustomerID),
		CustomerName:      cell(row, ticketColCustomerName),
		CustomerEmail:     cell(row, ticketColCustomerEmail),
		Subject:           cell(row, ticketColSubject),
		Description:       cell(row, ticketColDescription),
		Category:          cell(row, ticketColCategory),
		Priority:          cell(row, ticketColPriority),
		Status:            cell(row, ticketColStatus),
		AssignedTo:        cell(row, ticketColAssignedTo),
		Channel:           cell(row, ticketColChannel),
		Tags:              tags,
		CreatedAt:         parseTime(cell(row, ticketColCreatedAt)),
		UpdatedAt:         parseTime(cell(row, ticketColUpdatedAt)),
		FirstResponseAt:   parseTime(cell(row, ticketColFirstResponseAt)),
		ResolvedAt:        parseTime(cell(row, ticketColResolvedAt)),
		ResponseMinutes:   parseInt(cell(row, ticketColResponseTime)),
		ResolutionMinutes: parseInt(cell(row, ticketColResolutionTime)),
		SatisfactionScore: parseInt(cell(row, ticketColSatisfaction)),
		Feedback:          cell(row, ticketColFeedback),
	}
}
