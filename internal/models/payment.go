package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus values. Transitions are driven by the webhook handler and
// the fulfillment processor only:
//
//	(none)     -> processing  first webhook delivery
//	processing -> completed   after a confirmed email send (atomic with email_sent)
//	processing -> failed      failure before any email was transmitted
//	failed     -> processing  webhook redelivery re-enters processing
//
// completed is terminal. A payment whose email was transmitted but whose
// completion write failed stays in processing until an operator reconciles it.
const (
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
)

// Payment represents one Razorpay payment attempt and its fulfillment state.
type Payment struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	ProviderOrderID   string    `json:"provider_order_id,omitempty"`
	AmountMinor       int64     `json:"amount_minor"` // provider units (paise)
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	EmailSent         bool      `json:"email_sent"`
	InviteLink        string    `json:"invite_link,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
