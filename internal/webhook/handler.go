package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/middleware"
	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/settings"
	"github.com/topg-traders/backend/pkg/queue"
)

// SignatureHeader carries the provider's HMAC over the raw body.
const SignatureHeader = "X-Razorpay-Signature"

// EventPaymentCaptured is the only event that triggers fulfillment.
const EventPaymentCaptured = "payment.captured"

// LockStore serializes processing per provider payment id.
type LockStore interface {
	Acquire(ctx context.Context, paymentID string) (bool, error)
	Release(ctx context.Context, paymentID string) error
}

// PaymentStore is the payment persistence consumed by the handler.
type PaymentStore interface {
	GetByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	Create(ctx context.Context, p *models.Payment) error
	SetStatus(ctx context.Context, providerPaymentID, status string) error
}

// UserStore resolves customers by the email in the event payload.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Enqueuer schedules the fulfillment unit of work.
type Enqueuer interface {
	EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error
}

// SettingsSource builds the per-request configuration snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Snapshot
}

// PaymentEntity is the payment object inside a Razorpay webhook event.
type PaymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Email    string `json:"email"`
	Amount   int64  `json:"amount"` // minor units (paise)
	Currency string `json:"currency"`
}

// Event is the webhook envelope.
type Event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Handler handles the payment provider webhook.
type Handler struct {
	locks    LockStore
	payments PaymentStore
	users    UserStore
	jobs     Enqueuer
	settings SettingsSource
	logger   *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(locks LockStore, payments PaymentStore, users UserStore, jobs Enqueuer, settings SettingsSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{locks: locks, payments: payments, users: users, jobs: jobs, settings: settings, logger: logger}
}

// HandleEvent handles POST /webhook. It verifies the signature on the raw
// body, takes the per-payment lock, persists intent, and schedules the
// fulfillment job. The response never waits on Telegram or SMTP.
func (h *Handler) HandleEvent(c *gin.Context) {
	requestID := middleware.RequestID(c)
	if requestID == "" {
		requestID = uuid.New().String()[:6]
	}
	ctx := c.Request.Context()

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	snap := h.settings.Snapshot(ctx)
	if !VerifySignature(raw, c.GetHeader(SignatureHeader), snap.RazorpayWebhookSecret) {
		h.logger.Warn("webhook signature rejected", zap.String("request_id", requestID))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if event.Event != EventPaymentCaptured {
		// Other lifecycle events are acknowledged without side effects.
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	entity := event.Payload.Payment.Entity
	if entity.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payment id"})
		return
	}
	log := h.logger.With(zap.String("request_id", requestID), zap.String("payment_id", entity.ID))

	acquired, err := h.locks.Acquire(ctx, entity.ID)
	if err != nil {
		log.Error("lock acquire failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !acquired {
		// First duplicate-delivery defense: another delivery holds the lock.
		log.Info("lock already held, acknowledging duplicate")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Already processing."})
		return
	}

	// From here the lock is held: any failure before a successful enqueue
	// must release it, otherwise this payment id is blocked until an
	// operator clears the row.
	if err := h.processCaptured(ctx, log, requestID, entity); err != nil {
		if relErr := h.locks.Release(ctx, entity.ID); relErr != nil {
			log.Error("lock release after failure also failed", zap.Error(relErr))
		}
		if ackErr, ok := err.(*ackError); ok {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "message": ackErr.message})
			return
		}
		log.Error("webhook processing failed after lock acquisition", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ackError acknowledges the delivery (stopping provider retries) while
// still releasing the lock: duplicate completions and unknown users are
// terminal for this delivery, not server errors.
type ackError struct{ message string }

func (e *ackError) Error() string { return e.message }

func (h *Handler) processCaptured(ctx context.Context, log *zap.Logger, requestID string, entity PaymentEntity) error {
	existing, err := h.payments.GetByProviderID(ctx, entity.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == models.PaymentStatusCompleted {
		// Second duplicate-delivery defense: a prior run completed and
		// released its lock before this duplicate arrived.
		log.Info("payment already completed, acknowledging duplicate")
		return &ackError{message: "Payment already completed."}
	}

	user, err := h.users.GetByEmail(ctx, entity.Email)
	if err != nil {
		return err
	}
	if user == nil {
		// Upstream data problem, not transient: acknowledge so the provider
		// stops retrying, and leave a trail for operators.
		log.Warn("no user for webhook email", zap.String("email", entity.Email))
		return &ackError{message: "User not found."}
	}

	if existing == nil {
		p := &models.Payment{
			UserID:            user.ID,
			ProviderPaymentID: entity.ID,
			ProviderOrderID:   entity.OrderID,
			AmountMinor:       entity.Amount,
			Currency:          entity.Currency,
			Status:            models.PaymentStatusProcessing,
		}
		if err := h.payments.Create(ctx, p); err != nil {
			return err
		}
	} else {
		// failed -> processing re-entry on webhook retry.
		if err := h.payments.SetStatus(ctx, entity.ID, models.PaymentStatusProcessing); err != nil {
			return err
		}
	}

	if err := h.jobs.EnqueueFulfillment(ctx, queue.FulfillmentPayload{
		RequestID:         requestID,
		ProviderPaymentID: entity.ID,
		UserID:            user.ID,
	}); err != nil {
		return err
	}
	log.Info("fulfillment scheduled")
	return nil
}
