package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topg-traders/backend/internal/models"
)

// Repository handles user and batch persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByEmail returns the user with the given email, or nil when absent.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, name, email, phone, batch_id, COALESCE(invite_link,''), created_at, updated_at
		FROM users WHERE email = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.BatchID, &u.InviteLink, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by id, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, name, email, phone, batch_id, COALESCE(invite_link,''), created_at, updated_at
		FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.BatchID, &u.InviteLink, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetInvite records a freshly issued invite link and the batch it belongs
// to. Always written together: a link is only reusable for its own batch.
func (r *Repository) SetInvite(ctx context.Context, userID, batchID uuid.UUID, inviteLink string) error {
	const q = `UPDATE users SET invite_link = $3, batch_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, userID, batchID, inviteLink)
	return err
}

// GetBatchByID returns a batch by id, or nil when absent.
func (r *Repository) GetBatchByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	const q = `SELECT id, name, telegram_chat_id, created_at FROM batches WHERE id = $1`
	var b models.Batch
	err := r.pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Name, &b.TelegramChatID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBatch inserts a batch, returning the existing row on a name
// conflict so concurrent checkouts converge on one cohort.
func (r *Repository) CreateBatch(ctx context.Context, b *models.Batch) error {
	const q = `INSERT INTO batches (id, name, telegram_chat_id)
		VALUES (gen_random_uuid(), $1, $2)
		ON CONFLICT (name) DO UPDATE SET telegram_chat_id = EXCLUDED.telegram_chat_id
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, b.Name, b.TelegramChatID).Scan(&b.ID, &b.CreatedAt)
}
