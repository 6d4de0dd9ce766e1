// Package settings builds immutable configuration snapshots for a single
// request or background job. Environment values are the defaults; rows in
// the settings table override them. The orchestrator and notifier only ever
// see a Snapshot passed as a parameter, never ambient global state.
package settings

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topg-traders/backend/config"
)

// Keys recognized in the settings table.
const (
	KeyRazorpayKeyID         = "RAZORPAY_KEY_ID"
	KeyRazorpayKeySecret     = "RAZORPAY_KEY_SECRET"
	KeyRazorpayWebhookSecret = "RAZORPAY_WEBHOOK_SECRET"
	KeyTelegramBotToken      = "TELEGRAM_BOT_TOKEN"
	KeySMTPHost              = "SMTP_HOST"
	KeySMTPPort              = "SMTP_PORT"
	KeySMTPUser              = "SMTP_USER"
	KeySMTPPass              = "SMTP_PASS"

	chatIDKeyPrefix = "TELEGRAM_CHAT_ID_" // + upper(batch name)
)

// Snapshot is the merged configuration for one unit of work.
type Snapshot struct {
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	TelegramBotToken      string
	TelegramChatIDs       map[string]string // batch name (lower) -> chat id
	SMTPHost              string
	SMTPPort              int
	SMTPUser              string
	SMTPPass              string
	FromAddress           string
	FromName              string
}

// ChatIDFor returns the Telegram chat id configured for a batch name.
func (s Snapshot) ChatIDFor(batchName string) string {
	return s.TelegramChatIDs[strings.ToLower(batchName)]
}

// Service loads snapshots.
type Service struct {
	pool *pgxpool.Pool
	cfg  *config.Config
}

// NewService creates a settings service.
func NewService(pool *pgxpool.Pool, cfg *config.Config) *Service {
	return &Service{pool: pool, cfg: cfg}
}

// Snapshot merges environment defaults with the settings table. Database
// read errors degrade to env-only configuration rather than failing the
// unit of work.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		RazorpayKeyID:         s.cfg.Razorpay.KeyID,
		RazorpayKeySecret:     s.cfg.Razorpay.KeySecret,
		RazorpayWebhookSecret: s.cfg.Razorpay.WebhookSecret,
		TelegramBotToken:      s.cfg.Telegram.BotToken,
		TelegramChatIDs: map[string]string{
			"morning": s.cfg.Telegram.ChatIDMorning,
			"evening": s.cfg.Telegram.ChatIDEvening,
		},
		SMTPHost:    s.cfg.Email.SMTPHost,
		SMTPPort:    s.cfg.Email.SMTPPort,
		SMTPUser:    s.cfg.Email.SMTPUser,
		SMTPPass:    s.cfg.Email.SMTPPass,
		FromAddress: s.cfg.Email.FromAddress,
		FromName:    s.cfg.Email.FromName,
	}

	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return snap
	}
	for key, value := range overrides {
		snap.apply(key, value)
	}
	return snap
}

func (s *Service) loadOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (snap *Snapshot) apply(key, value string) {
	switch key {
	case KeyRazorpayKeyID:
		snap.RazorpayKeyID = value
	case KeyRazorpayKeySecret:
		snap.RazorpayKeySecret = value
	case KeyRazorpayWebhookSecret:
		snap.RazorpayWebhookSecret = value
	case KeyTelegramBotToken:
		snap.TelegramBotToken = value
	case KeySMTPHost:
		snap.SMTPHost = value
	case KeySMTPUser:
		snap.SMTPUser = value
	case KeySMTPPass:
		snap.SMTPPass = value
	case KeySMTPPort:
		if n, err := strconv.Atoi(value); err == nil {
			snap.SMTPPort = n
		}
	default:
		if name, ok := strings.CutPrefix(key, chatIDKeyPrefix); ok {
			snap.TelegramChatIDs[strings.ToLower(name)] = value
		}
	}
}
