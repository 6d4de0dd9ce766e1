package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailLogStatus for delivery attempts.
const (
	EmailLogStatusSent   = "sent"
	EmailLogStatusFailed = "failed"
)

// EmailLog records one fulfillment email attempt per payment. Audit only:
// idempotency decisions are made from payments.email_sent, never from here.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	PaymentID      string     `json:"payment_id"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
