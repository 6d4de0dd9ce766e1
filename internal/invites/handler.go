package invites

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/models"
)

// PaymentReader is the read-only payment access for retrieval endpoints.
type PaymentReader interface {
	GetByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
}

// UserReader resolves the user and batch behind a payment.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetBatchByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
}

// Handler serves the invite retrieval endpoints the checkout frontend polls
// after payment.
type Handler struct {
	payments PaymentReader
	users    UserReader
	logger   *zap.Logger

	pollAttempts int
	pollDelay    time.Duration
}

// NewHandler creates an invites handler.
func NewHandler(payments PaymentReader, users UserReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		payments:     payments,
		users:        users,
		logger:       logger,
		pollAttempts: 5,
		pollDelay:    2 * time.Second,
	}
}

// SetPollPolicy overrides the bounded-poll parameters (tests).
func (h *Handler) SetPollPolicy(attempts int, delay time.Duration) {
	h.pollAttempts = attempts
	h.pollDelay = delay
}

// GetInviteLinkRequest is the body for POST /get-invite-link.
type GetInviteLinkRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
}

// GetInviteLink handles POST /get-invite-link. It re-reads the payment for
// a bounded number of attempts, giving the fulfillment job a window to
// finish, and returns the stored invite link as soon as one is visible.
func (h *Handler) GetInviteLink(c *gin.Context) {
	var req GetInviteLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "paymentId required"})
		return
	}
	ctx := c.Request.Context()

	for attempt := 0; attempt < h.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.JSON(http.StatusRequestTimeout, gin.H{"success": false, "error": "request cancelled"})
				return
			case <-time.After(h.pollDelay):
			}
		}
		link, batchName, _, err := h.lookup(ctx, req.PaymentID)
		if err != nil {
			h.logger.Error("invite lookup failed", zap.Error(err), zap.String("payment_id", req.PaymentID))
			continue
		}
		if link != "" {
			c.JSON(http.StatusOK, gin.H{
				"success":    true,
				"inviteLink": link,
				"batchType":  batchName,
				"message":    "Retrieved stored invite link",
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error":   "Invite link not found. Please check your email for the invite link.",
	})
}

// RetrieveInviteLink handles GET /retrieve-invite-link/:payment_id. Single
// read, no polling; the current payment status is surfaced so the client
// can tell not-yet-processed, failed and still-processing apart.
func (h *Handler) RetrieveInviteLink(c *gin.Context) {
	paymentID := c.Param("payment_id")
	ctx := c.Request.Context()

	link, batchName, status, err := h.lookup(ctx, paymentID)
	if err != nil {
		h.logger.Error("invite lookup failed", zap.Error(err), zap.String("payment_id", paymentID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}
	if link != "" {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"inviteLink": link,
			"batchType":  batchName,
			"status":     status,
			"message":    "Invite link retrieved successfully",
		})
		return
	}

	if status == "" {
		status = "not_found"
	}
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error":   "Invite link not available yet. Please check your email.",
		"status":  status,
	})
}

// lookup returns (inviteLink, batchName, paymentStatus). An empty link with
// a non-empty status means the payment exists but has no visible invite.
func (h *Handler) lookup(ctx context.Context, providerPaymentID string) (string, string, string, error) {
	payment, err := h.payments.GetByProviderID(ctx, providerPaymentID)
	if err != nil {
		return "", "", "", err
	}
	if payment == nil {
		return "", "", "", nil
	}
	user, err := h.users.GetByID(ctx, payment.UserID)
	if err != nil {
		return "", "", payment.Status, err
	}
	if user == nil || user.InviteLink == "" {
		return "", "", payment.Status, nil
	}
	batchName := ""
	if user.BatchID != nil {
		batch, err := h.users.GetBatchByID(ctx, *user.BatchID)
		if err != nil {
			return "", "", payment.Status, err
		}
		if batch != nil {
			batchName = batch.Name
		}
	}
	return user.InviteLink, batchName, payment.Status, nil
}
