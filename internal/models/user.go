package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a course customer, created or looked up by email at
// checkout time.
type User struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone,omitempty"`
	BatchID    *uuid.UUID `json:"batch_id,omitempty"`
	InviteLink string     `json:"invite_link,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasInviteFor reports whether the user already holds a reusable invite for
// the given batch. A link issued for a different batch must not be reused;
// re-issuing a single-use invite invalidates the previously mailed one.
func (u *User) HasInviteFor(batchID uuid.UUID) bool {
	return u.InviteLink != "" && u.BatchID != nil && *u.BatchID == batchID
}
