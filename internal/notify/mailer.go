// Package notify delivers the fulfillment email. The mailer reports an
// error for any uncertain delivery; the orchestrator resolves that
// ambiguity conservatively (a payment is never marked failed after a send
// may have happened).
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/settings"
)

// ErrDeliveryUncertain marks failures where the message may have been
// transmitted before the connection broke (timeouts, cancelled contexts).
// Callers must not treat these as a confirmed non-delivery.
var ErrDeliveryUncertain = errors.New("delivery status uncertain")

// Message describes one fulfillment email.
type Message struct {
	To         string
	UserName   string
	BatchName  string
	InviteLink string
	PaymentID  string
}

// Subject builds the email subject line for the message's batch.
func (m Message) Subject() string {
	return fmt.Sprintf("Welcome to TopG Traders - Your %s Trading Course Access", titleCase(m.BatchName))
}

// Mailer sends fulfillment emails over SMTP with implicit TLS.
type Mailer struct {
	logger *zap.Logger
}

// NewMailer creates an SMTP mailer.
func NewMailer(logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{logger: logger}
}

// Send builds a multipart message with an HTML body and delivers it using
// the snapshot's SMTP settings. Returns an error on any failure including
// timeouts, where actual delivery status is unknown.
func (m *Mailer) Send(ctx context.Context, snap settings.Snapshot, msg Message) error {
	if snap.SMTPHost == "" || snap.SMTPUser == "" || snap.SMTPPass == "" {
		return fmt.Errorf("smtp settings not fully configured")
	}

	from := snap.FromAddress
	if from == "" {
		from = snap.SMTPUser
	}
	mm := mail.NewMsg()
	if err := mm.FromFormat(snap.FromName, from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := mm.To(msg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	mm.Subject(msg.Subject())

	html, err := renderInviteEmail(msg)
	if err != nil {
		return fmt.Errorf("render email body: %w", err)
	}
	mm.SetBodyString(mail.TypeTextPlain, plainBody(msg))
	mm.AddAlternativeString(mail.TypeTextHTML, html)

	client, err := mail.NewClient(snap.SMTPHost,
		mail.WithPort(snap.SMTPPort),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(snap.SMTPUser),
		mail.WithPassword(snap.SMTPPass),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, mm); err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &nerr) && nerr.Timeout()) {
			return fmt.Errorf("send mail: %w: %w", ErrDeliveryUncertain, err)
		}
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Info("fulfillment email sent",
		zap.String("payment_id", msg.PaymentID),
		zap.String("recipient", msg.To))
	return nil
}

func plainBody(msg Message) string {
	return fmt.Sprintf(
		"Hi %s,\n\nYour payment (%s) is confirmed. Join your %s batch group here:\n%s\n\nThe link admits one member and can be used once.\n\nTopG Traders",
		msg.UserName, msg.PaymentID, msg.BatchName, msg.InviteLink)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
