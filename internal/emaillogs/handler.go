package emaillogs

import (
	"github.com/gin-gonic/gin"

	"github.com/topg-traders/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListByPayment handles GET /payments/:payment_id/emails. Operator aid for
// reconciling payments stuck in processing: shows every delivery attempt
// with its outcome. There is deliberately no resend endpoint; resending is
// exactly what the fulfillment pipeline exists to prevent.
func (h *Handler) ListByPayment(c *gin.Context) {
	paymentID := c.Param("payment_id")
	if paymentID == "" {
		response.BadRequest(c, "payment id required")
		return
	}
	logs, err := h.repo.ListByPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
