// Package invites provisions single-use Telegram group invite links and
// exposes the endpoints customers poll to retrieve them.
package invites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/settings"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// UserStore persists issued invite links.
type UserStore interface {
	SetInvite(ctx context.Context, userID, batchID uuid.UUID, inviteLink string) error
}

// Provisioner issues one-member Telegram invite links, reusing a previously
// issued link when the user already holds one for the same batch. Issuing a
// fresh single-use invite would invalidate a link the user may not have
// used yet, so reuse is a correctness requirement, not an optimization.
type Provisioner struct {
	users   UserStore
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewProvisioner creates an invite provisioner.
func NewProvisioner(users UserStore, client *http.Client, logger *zap.Logger) *Provisioner {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{users: users, client: client, baseURL: defaultAPIBaseURL, logger: logger}
}

// SetBaseURL overrides the Telegram API base URL (tests).
func (p *Provisioner) SetBaseURL(u string) { p.baseURL = u }

type createInviteRequest struct {
	ChatID      string `json:"chat_id"`
	MemberLimit int    `json:"member_limit"`
}

type createInviteResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		InviteLink string `json:"invite_link"`
	} `json:"result"`
}

// EnsureInvite returns an invite link for the user's batch, issuing and
// persisting a new one only when no reusable link exists. Any provider
// error is a hard failure; the caller decides whether to mark the payment
// failed.
func (p *Provisioner) EnsureInvite(ctx context.Context, user *models.User, batch *models.Batch, snap settings.Snapshot) (string, error) {
	if user.HasInviteFor(batch.ID) {
		return user.InviteLink, nil
	}

	chatID := batch.TelegramChatID
	if override := snap.ChatIDFor(batch.Name); override != "" {
		chatID = override
	}
	link, err := p.createChatInviteLink(ctx, chatID, snap)
	if err != nil {
		return "", err
	}
	if err := p.users.SetInvite(ctx, user.ID, batch.ID, link); err != nil {
		return "", fmt.Errorf("persist invite link: %w", err)
	}
	p.logger.Info("invite link issued",
		zap.String("user_id", user.ID.String()),
		zap.String("batch", batch.Name))
	return link, nil
}

func (p *Provisioner) createChatInviteLink(ctx context.Context, chatID string, snap settings.Snapshot) (string, error) {
	if snap.TelegramBotToken == "" {
		return "", fmt.Errorf("telegram bot token not configured")
	}
	body, err := json.Marshal(createInviteRequest{ChatID: chatID, MemberLimit: 1})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/createChatInviteLink", p.baseURL, snap.TelegramBotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	var out createInviteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("telegram error: %s", out.Description)
	}
	if out.Result.InviteLink == "" {
		return "", fmt.Errorf("telegram returned empty invite link")
	}
	return out.Result.InviteLink, nil
}
