// Package notify delivers operational alert emails. Delivery is always
// best-effort: trackers call through BestEffort so a failed send is
// logged and never fails the write that triggered it.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// Dispatcher sends alert and report messages to the operations inbox.
type Dispatcher interface {
	SendDelayAlert(ctx context.Context, orderID, status, carrier, details string) error
	SendLowStockAlert(ctx context.Context, productID, productName string, currentStock, threshold int) error
	SendUrgentTicketAlert(ctx context.Context, ticketID, subject, customerEmail string) error
	SendSystemError(ctx context.Context, component string, err error) error
}

// BestEffort runs a notification send and logs any failure instead of
// returning it. The tracked state is already written by the time a
// notification fires, so a send failure is never a correctness failure.
func BestEffort(component string, send func() error) {
	if send == nil {
		return
	}
	if err := send(); err != nil {
		log.Printf("notify: %s notification failed: %v", component, err)
	}
}

type smtpSendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPOptions configures the SMTP dispatcher. Host, From and To are
// required; Username/Password are optional for unauthenticated relays.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type SMTPDispatcher struct {
	opts SMTPOptions
	send smtpSendFunc
}

func NewSMTPDispatcher(opts SMTPOptions) (*SMTPDispatcher, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(opts.From) == "" || len(opts.To) == 0 {
		return nil, fmt.Errorf("smtp from and to addresses are required")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &SMTPDispatcher{opts: opts, send: smtp.SendMail}, nil
}

func (d *SMTPDispatcher) SendDelayAlert(ctx context.Context, orderID, status, carrier, details string) error {
	subject := fmt.Sprintf("Shipping delay: order %s", orderID)
	body := fmt.Sprintf("Order %s reported %s by %s.\n\n%s\n", orderID, status, carrier, details)
	return d.deliver(ctx, subject, body)
}

func (d *SMTPDispatcher) SendLowStockAlert(ctx context.Context, productID, productName string, currentStock, threshold int) error {
	subject := fmt.Sprintf("Low stock: %s", productName)
	body := fmt.Sprintf("Product %s (%s) is at %d units (threshold %d).\n", productName, productID, currentStock, threshold)
	if currentStock <= 0 {
		subject = fmt.Sprintf("Out of stock: %s", productName)
	}
	return d.deliver(ctx, subject, body)
}

func (d *SMTPDispatcher) SendUrgentTicketAlert(ctx context.Context, ticketID, subject, customerEmail string) error {
	mailSubject := fmt.Sprintf("Urgent ticket %s", ticketID)
	body := fmt.Sprintf("Urgent support ticket %s from %s:\n\n%s\n", ticketID, customerEmail, subject)
	return d.deliver(ctx, mailSubject, body)
}

func (d *SMTPDispatcher) SendSystemError(ctx context.Context, component string, sysErr error) error {
	subject := fmt.Sprintf("System error in %s", component)
	body := fmt.Sprintf("Component %s reported an error at %s:\n\n%v\n", component, time.Now().UTC().Format(time.RFC3339), sysErr)
	return d.deliver(ctx, subject, body)
}

func (d *SMTPDispatcher) deliver(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.opts.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(d.opts.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", d.opts.Host, d.opts.Port)
	var auth smtp.Auth
	if d.opts.Username != "" {
		auth = smtp.PlainAuth("", d.opts.Username, d.opts.Password, d.opts.Host)
	}
	return d.send(addr, auth, d.opts.From, d.opts.To, []byte(msg.String()))
}

// LogDispatcher writes notifications to the process log. It is the
// fallback when SMTP is not configured and the default in tests.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher { return &LogDispatcher{} }

func (d *LogDispatcher) SendDelayAlert(ctx context.Context, orderID, status, carrier, details string) error {
	log.Printf("notify: delay alert order=%s status=%s carrier=%s", orderID, status, carrier)
	return nil
}

func (d *LogDispatcher) SendLowStockAlert(ctx context.Context, productID, productName string, currentStock, threshold int) error {
	log.Printf("notify: stock alert product=%s stock=%d threshold=%d", productID, currentStock, threshold)
	return nil
}

func (d *LogDispatcher) SendUrgentTicketAlert(ctx context.Context, ticketID, subject, customerEmail string) error {
	log.Printf("notify: urgent ticket %s from %s", ticketID, customerEmail)
	return nil
}

func (d *LogDispatcher) SendSystemError(ctx context.Context, component string, err error) error {
	log.Printf("notify: system error component=%s err=%v", component, err)
	return nil
}
