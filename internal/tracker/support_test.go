package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopstream/opstrack/internal/tabular"
)

func newSupportTracker(store tabular.Store, dispatcher *fakeDispatcher) *SupportTracker {
	return NewSupportTracker(store, dispatcher, testRules(), NewEventLog(16))
}

func TestCreateTicket(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newSupportTracker(store, &fakeDispatcher{})
	ctx := context.Background()

	id, err := tr.CreateTicket(ctx, TicketInput{
		CustomerID: "C1",
		Subject:    "Package never arrived",
		Priority:   TicketPriorityHigh,
		Channel:    "email",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(id, "TICK-") {
		t.Fatalf("ticket id = %q", id)
	}

	_, row, err := store.FindRow(ctx, SheetTickets, ticketColID, id)
	if err != nil {
		t.Fatalf("find ticket: %v", err)
	}
	ticket := decodeTicketRow(row)
	if ticket.Status != TicketStatusOpen {
		t.Fatalf("status = %q, want open", ticket.Status)
	}
	if ticket.CreatedAt.IsZero() {
		t.Fatal("createdAt not stamped")
	}

	updates, _ := store.GetValues(ctx, SheetTicketUpdates)
	if len(updates) != 1 || updates[0][1] != "create" {
		t.Fatalf("updates = %v", updates)
	}
}

func TestCreateTicketIDsAreUnique(t *testing.T) {
	tr := newSupportTracker(tabular.NewMemoryStore(), &fakeDispatcher{})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := tr.CreateTicket(context.Background(), TicketInput{Subject: "dup check"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate ticket id %q", id)
		}
		seen[id] = true
	}
}

func TestCreateTicketRequiresSubject(t *testing.T) {
	tr := newSupportTracker(tabular.NewMemoryStore(), &fakeDispatcher{})
	if _, err := tr.CreateTicket(context.Background(), TicketInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestUrgentTicketNotifies(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	tr := newSupportTracker(tabular.NewMemoryStore(), dispatcher)
	id, err := tr.CreateTicket(context.Background(), TicketInput{Subject: "Site down", Priority: TicketPriorityUrgent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(dispatcher.urgentTickets) != 1 || dispatcher.urgentTickets[0] != id {
		t.Fatalf("urgent alerts = %v", dispatcher.urgentTickets)
	}
}

func TestUpdateTicketStatusNotFound(t *testing.T) {
	tr := newSupportTracker(tabular.NewMemoryStore(), &fakeDispatcher{})
	err := tr.UpdateTicketStatus(context.Background(), "missing", TicketStatusResolved, "agent", "", "")
	if !errors.Is(err, tabular.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResponseAndResolutionAreOneShot(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newSupportTracker(store, &fakeDispatcher{})
	ctx := context.Background()

	t0 := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return t0 }
	id, err := tr.CreateTicket(ctx, TicketInput{Subject: "Wrong item", Priority: TicketPriorityHigh})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tr.now = func() time.Time { return t0.Add(30 * time.Minute) }
	if err := tr.UpdateTicketStatus(ctx, id, TicketStatusInProgress, "agent", "looking", "alice"); err != nil {
		t.Fatalf("in_progress: %v", err)
	}

	// A later return to in_progress must not recompute the response time.
	tr.now = func() time.Time { return t0.Add(5 * time.Hour) }
	if err := tr.UpdateTicketStatus(ctx, id, TicketStatusWaitingCustomer, "agent", "", ""); err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if err := tr.UpdateTicketStatus(ctx, id, TicketStatusInProgress, "agent", "", ""); err != nil {
		t.Fatalf("back to in_progress: %v", err)
	}

	tr.now = func() time.Time { return t0.Add(6 * time.Hour) }
	if err := tr.UpdateTicketStatus(ctx, id, TicketStatusResolved, "agent", "replaced", ""); err != nil {
		t.Fatalf("resolved: %v", err)
	}

	_, row, err := store.FindRow(ctx, SheetTickets, ticketColID, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	ticket := decodeTicketRow(row)
	if ticket.ResponseMinutes != 30 {
		t.Fatalf("response minutes = %d, want 30", ticket.ResponseMinutes)
	}
	if ticket.ResolutionMinutes != 360 {
		t.Fatalf("resolution minutes = %d, want 360", ticket.ResolutionMinutes)
	}
	if ticket.AssignedTo != "alice" {
		t.Fatalf("assignedTo = %q, want alice", ticket.AssignedTo)
	}

	updates, _ := store.GetValues(ctx, SheetTicketUpdates)
	if len(updates) != 5 {
		t.Fatalf("updates = %d rows, want create + 4 transitions", len(updates))
	}
}

func TestAddSatisfactionScore(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newSupportTracker(store, &fakeDispatcher{})
	ctx := context.Background()

	id, err := tr.CreateTicket(ctx, TicketInput{Subject: "Refund"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.AddSatisfactionScore(ctx, id, 4, "quick fix"); err != nil {
		t.Fatalf("score: %v", err)
	}

	_, row, err := store.FindRow(ctx, SheetTickets, ticketColID, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	ticket := decodeTicketRow(row)
	if ticket.SatisfactionScore != 4 || ticket.Feedback != "quick fix" {
		t.Fatalf("ticket = %+v", ticket)
	}
	if ticket.Status != TicketStatusOpen {
		t.Fatalf("status changed to %q", ticket.Status)
	}

	if err := tr.AddSatisfactionScore(ctx, id, 9, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("out of range score = %v, want ErrInvalidInput", err)
	}
}

func TestDailySummarySLABoundary(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newSupportTracker(store, &fakeDispatcher{})
	ctx := context.Background()

	day := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)

	// Three high-priority tickets: one answered exactly at the 240 minute
	// threshold, one at 241, one never answered (excluded).
	for _, tc := range []struct {
		answered bool
		after    time.Duration
	}{
		{true, 240 * time.Minute},
		{true, 241 * time.Minute},
		{false, 0},
	} {
		tr.now = func() time.Time { return day }
		id, err := tr.CreateTicket(ctx, TicketInput{Subject: "SLA case", Priority: TicketPriorityHigh})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if tc.answered {
			after := tc.after
			tr.now = func() time.Time { return day.Add(after) }
			if err := tr.UpdateTicketStatus(ctx, id, TicketStatusInProgress, "agent", "", ""); err != nil {
				t.Fatalf("respond: %v", err)
			}
		}
	}

	tr.now = func() time.Time { return day.Add(12 * time.Hour) }
	if err := tr.UpdateDailySummary(ctx, day); err != nil {
		t.Fatalf("summary: %v", err)
	}
	_, row, err := store.FindRow(ctx, SheetSupportSummary, 0, "2026-08-27")
	if err != nil {
		t.Fatalf("find summary: %v", err)
	}
	if row[1] != "3" {
		t.Fatalf("total tickets = %q, want 3", row[1])
	}
	if row[7] != "50.00" {
		t.Fatalf("sla compliance = %q, want 50.00", row[7])
	}
}

func TestDailySummaryEscalationRate(t *testing.T) {
	store := tabular.NewMemoryStore()
	tr := newSupportTracker(store, &fakeDispatcher{})
	ctx := context.Background()

	day := time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return day }

	inputs := []TicketInput{
		{Subject: "a", Priority: TicketPriorityUrgent},
		{Subject: "b", Priority: TicketPriorityLow, Tags: []string{"escalated"}},
		{Subject: "c", Priority: TicketPriorityLow},
		{Subject: "d", Priority: TicketPriorityLow},
	}
	for _, in := range inputs {
		if _, err := tr.CreateTicket(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := tr.UpdateDailySummary(ctx, day); err != nil {
		t.Fatalf("summary: %v", err)
	}
	_, row, err := store.FindRow(ctx, SheetSupportSummary, 0, "2026-08-27")
	if err != nil {
		t.Fatalf("find summary: %v", err)
	}
	if row[8] != "50.00" {
		t.Fatalf("escalation rate = %q, want 50.00", row[8])
	}
	// No ticket has a recorded response, so compliance takes its default.
	if row[7] != "100.00" {
		t.Fatalf("sla compliance = %q, want 100.00", row[7])
	}
}
