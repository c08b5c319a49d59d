package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestSMTPDispatcherBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	d, err := NewSMTPDispatcher(SMTPOptions{
		Host: "mail.example.com",
		Port: 2525,
		From: "alerts@example.com",
		To:   []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := d.SendLowStockAlert(context.Background(), "PROD-1", "Blue Mug", 3, 10); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:2525" {
		t.Fatalf("unexpected addr %s", gotAddr)
	}
	if gotFrom != "alerts@example.com" || len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("unexpected envelope from=%s to=%v", gotFrom, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: Low stock: Blue Mug") {
		t.Fatalf("missing subject in message: %s", body)
	}
	if !strings.Contains(body, "3 units (threshold 10)") {
		t.Fatalf("missing body detail in message: %s", body)
	}
}

func TestSMTPDispatcherOutOfStockSubject(t *testing.T) {
	d, err := NewSMTPDispatcher(SMTPOptions{Host: "h", From: "a@b", To: []string{"c@d"}})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	var gotMsg []byte
	d.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotMsg = msg
		return nil
	}
	if err := d.SendLowStockAlert(context.Background(), "PROD-1", "Blue Mug", 0, 10); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(string(gotMsg), "Subject: Out of stock: Blue Mug") {
		t.Fatalf("expected out-of-stock subject, got: %s", gotMsg)
	}
}

func TestSMTPDispatcherRequiredFields(t *testing.T) {
	if _, err := NewSMTPDispatcher(SMTPOptions{From: "a@b", To: []string{"c@d"}}); err == nil {
		t.Fatalf("expected error without host")
	}
	if _, err := NewSMTPDispatcher(SMTPOptions{Host: "h"}); err == nil {
		t.Fatalf("expected error without addresses")
	}
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	called := false
	BestEffort("orders", func() error {
		called = true
		return errors.New("smtp down")
	})
	if !called {
		t.Fatalf("expected send to be attempted")
	}
	// No panic and no returned error is the contract.
	BestEffort("orders", nil)
}
