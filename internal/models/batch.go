package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch is a course cohort mapped to one Telegram group.
type Batch struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"` // unique, e.g. "morning", "evening"
	TelegramChatID string    `json:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at"`
}
