package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topg-traders/backend/internal/models"
)

const paymentColumns = `id, user_id, provider_payment_id, provider_order_id, amount_minor, currency, status, email_sent, COALESCE(invite_link,''), created_at, updated_at`

// Repository handles payment persistence. Payments are never deleted; they
// are the audit trail for fulfillment.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a payment row in processing state.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (id, user_id, provider_payment_id, provider_order_id, amount_minor, currency, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.UserID, p.ProviderPaymentID, p.ProviderOrderID, p.AmountMinor, p.Currency, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetByProviderID returns the payment for a provider payment id, or nil when
// no row exists.
func (r *Repository) GetByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = $1`
	var p models.Payment
	err := r.pool.QueryRow(ctx, q, providerPaymentID).Scan(
		&p.ID, &p.UserID, &p.ProviderPaymentID, &p.ProviderOrderID, &p.AmountMinor,
		&p.Currency, &p.Status, &p.EmailSent, &p.InviteLink, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetStatus updates the payment status. Callers enforce the state machine;
// the one transition this layer refuses is leaving completed, which is
// terminal.
func (r *Repository) SetStatus(ctx context.Context, providerPaymentID, status string) error {
	const q = `UPDATE payments SET status = $2, updated_at = NOW()
		WHERE provider_payment_id = $1 AND status <> 'completed'`
	_, err := r.pool.Exec(ctx, q, providerPaymentID, status)
	return err
}

// MarkCompleted sets status=completed and email_sent=true in one statement.
// The email_sent guard makes the transition happen at most once; a client
// can never observe email_sent=true without status completed.
func (r *Repository) MarkCompleted(ctx context.Context, providerPaymentID string) error {
	const q = `UPDATE payments SET status = 'completed', email_sent = TRUE, updated_at = NOW()
		WHERE provider_payment_id = $1 AND email_sent = FALSE`
	_, err := r.pool.Exec(ctx, q, providerPaymentID)
	return err
}

// SetInviteLink records the invite link delivered for this payment.
func (r *Repository) SetInviteLink(ctx context.Context, providerPaymentID, inviteLink string) error {
	const q = `UPDATE payments SET invite_link = $2, updated_at = NOW() WHERE provider_payment_id = $1`
	_, err := r.pool.Exec(ctx, q, providerPaymentID, inviteLink)
	return err
}
