package emaillogs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topg-traders/backend/internal/models"
)

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one delivery attempt row.
func (r *Repository) Record(ctx context.Context, el *models.EmailLog) error {
	const q = `INSERT INTO email_logs (id, payment_id, recipient_email, subject, status, sent_at, error_message)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), $4, $5, NULLIF($6,''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, el.PaymentID, el.RecipientEmail, el.Subject, el.Status, el.SentAt, el.ErrorMessage).
		Scan(&el.ID, &el.CreatedAt)
}

// ListByPayment returns email logs for a provider payment id, newest first.
func (r *Repository) ListByPayment(ctx context.Context, providerPaymentID string) ([]*models.EmailLog, error) {
	const q = `SELECT id, payment_id, recipient_email, COALESCE(subject,''), status, sent_at, COALESCE(error_message,''), created_at
		FROM email_logs
		WHERE payment_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, providerPaymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.PaymentID, &el.RecipientEmail, &el.Subject, &el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
