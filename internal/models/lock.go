package models

import "time"

// ProcessingLock serializes fulfillment per provider payment id. The row's
// existence is the lock: insertion failing on the primary key means another
// delivery is already being processed. Whoever acquired it must delete it on
// every exit path; a leaked row blocks reprocessing until cleared manually.
type ProcessingLock struct {
	PaymentID string    `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}
