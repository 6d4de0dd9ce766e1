// Package fulfillment runs the background unit of work that turns a
// captured payment into a delivered invite email, exactly once per payment.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/notify"
	"github.com/topg-traders/backend/internal/settings"
	"github.com/topg-traders/backend/pkg/queue"
)

// PaymentStore is the payment persistence consumed by the processor.
type PaymentStore interface {
	GetByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	SetStatus(ctx context.Context, providerPaymentID, status string) error
	MarkCompleted(ctx context.Context, providerPaymentID string) error
	SetInviteLink(ctx context.Context, providerPaymentID, inviteLink string) error
}

// UserStore resolves the customer and their batch.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetBatchByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
}

// LockStore releases the per-payment lock taken by the webhook handler.
type LockStore interface {
	Release(ctx context.Context, paymentID string) error
}

// Provisioner yields an invite link for the user's batch, reusing an
// existing one when valid.
type Provisioner interface {
	EnsureInvite(ctx context.Context, user *models.User, batch *models.Batch, snap settings.Snapshot) (string, error)
}

// Notifier sends the fulfillment email.
type Notifier interface {
	Send(ctx context.Context, snap settings.Snapshot, msg notify.Message) error
}

// EmailLogStore records delivery attempts for operator reconciliation.
type EmailLogStore interface {
	Record(ctx context.Context, el *models.EmailLog) error
}

// SettingsSource builds the per-job configuration snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) settings.Snapshot
}

// Processor executes fulfillment jobs dequeued from the queue. Each job
// runs with its own context and connection scope, decoupled from the
// webhook request that scheduled it.
type Processor struct {
	payments PaymentStore
	users    UserStore
	locks    LockStore
	invites  Provisioner
	notifier Notifier
	logs     EmailLogStore
	settings SettingsSource
	logger   *zap.Logger
}

// NewProcessor creates a fulfillment processor.
func NewProcessor(payments PaymentStore, users UserStore, locks LockStore, invites Provisioner, notifier Notifier, logs EmailLogStore, settings SettingsSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		payments: payments,
		users:    users,
		locks:    locks,
		invites:  invites,
		notifier: notifier,
		logs:     logs,
		settings: settings,
		logger:   logger,
	}
}

// Process executes one job. A non-nil error means the job itself was
// unusable (wrong type, undecodable); business failures are handled inside
// Fulfill and are terminal for the job, because retrying here would run
// without holding the lock. Webhook redelivery is the retry path.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeFulfillment {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.FulfillmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	p.Fulfill(ctx, payload)
	return nil
}

// Fulfill drives one payment from processing to completed. The lock taken
// by the webhook handler is released on every exit path; it is the one
// thing that must always happen.
func (p *Processor) Fulfill(ctx context.Context, payload queue.FulfillmentPayload) {
	paymentID := payload.ProviderPaymentID
	log := p.logger.With(
		zap.String("request_id", payload.RequestID),
		zap.String("payment_id", paymentID))

	defer func() {
		if err := p.locks.Release(ctx, paymentID); err != nil {
			log.Error("lock release failed, payment id is blocked until cleared", zap.Error(err))
		}
	}()

	// Immediate short-circuit before any other work: two scheduled jobs can
	// briefly overlap when a webhook retry slips between a prior release
	// and completion write.
	payment, err := p.payments.GetByProviderID(ctx, paymentID)
	if err != nil {
		log.Error("payment fetch failed", zap.Error(err))
		return
	}
	if payment == nil {
		log.Warn("payment row missing, aborting")
		return
	}
	if payment.EmailSent {
		log.Info("email already sent, aborting")
		return
	}

	user, err := p.users.GetByID(ctx, payment.UserID)
	if err != nil || user == nil {
		log.Error("user missing for payment", zap.Error(err))
		return
	}
	if payment.Status == models.PaymentStatusCompleted {
		log.Info("payment already completed, aborting")
		return
	}

	snap := p.settings.Snapshot(ctx)

	link, batchName, ok := p.resolveInvite(ctx, log, payment, user, snap)
	if !ok {
		return
	}

	// Narrow the race window: re-read right before the irreversible step.
	recheck, err := p.payments.GetByProviderID(ctx, paymentID)
	if err != nil {
		log.Error("pre-send recheck failed", zap.Error(err))
		p.markFailed(ctx, log, paymentID)
		return
	}
	if recheck == nil || recheck.EmailSent {
		log.Info("email sent by a concurrent run, aborting")
		return
	}

	msg := notify.Message{
		To:         user.Email,
		UserName:   user.Name,
		BatchName:  batchName,
		InviteLink: link,
		PaymentID:  paymentID,
	}
	if err := p.notifier.Send(ctx, snap, msg); err != nil {
		p.recordAttempt(ctx, log, paymentID, msg, err)
		if errors.Is(err, notify.ErrDeliveryUncertain) {
			// The message may have been transmitted. Leaving the status at
			// processing blocks automatic retries that could resend; an
			// operator resolves this from the email log.
			log.Error("CRITICAL: delivery status uncertain, leaving payment in processing", zap.Error(err))
			return
		}
		// Nothing transmitted: safe to mark failed and let a webhook
		// redelivery retry from scratch.
		log.Error("email send failed", zap.Error(err))
		p.markFailed(ctx, log, paymentID)
		return
	}
	p.recordAttempt(ctx, log, paymentID, msg, nil)

	if err := p.payments.MarkCompleted(ctx, paymentID); err != nil {
		// The email went out but the completion write failed. Leaving the
		// status at processing blocks automatic retries that would resend;
		// an operator resolves this from the email log.
		log.Error("CRITICAL: email sent but completion write failed, leaving payment in processing", zap.Error(err))
		return
	}
	log.Info("payment fulfilled", zap.String("recipient", user.Email))
}

// resolveInvite returns the invite link and batch name for the payment,
// provisioning late when the checkout flow left no usable link. Returns
// ok=false after marking the payment failed.
func (p *Processor) resolveInvite(ctx context.Context, log *zap.Logger, payment *models.Payment, user *models.User, snap settings.Snapshot) (string, string, bool) {
	if user.BatchID == nil {
		log.Error("user has no batch, cannot provision invite")
		p.markFailed(ctx, log, payment.ProviderPaymentID)
		return "", "", false
	}
	batch, err := p.users.GetBatchByID(ctx, *user.BatchID)
	if err != nil || batch == nil {
		log.Error("batch lookup failed", zap.Error(err))
		p.markFailed(ctx, log, payment.ProviderPaymentID)
		return "", "", false
	}

	link, err := p.invites.EnsureInvite(ctx, user, batch, snap)
	if err != nil {
		log.Error("invite provisioning failed", zap.Error(err))
		p.markFailed(ctx, log, payment.ProviderPaymentID)
		return "", "", false
	}

	// Record what is about to be delivered; failures here happen before any
	// send, so marking failed keeps the payment retryable.
	if err := p.payments.SetInviteLink(ctx, payment.ProviderPaymentID, link); err != nil {
		log.Error("recording invite link failed", zap.Error(err))
		p.markFailed(ctx, log, payment.ProviderPaymentID)
		return "", "", false
	}
	return link, batch.Name, true
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, paymentID string) {
	if err := p.payments.SetStatus(ctx, paymentID, models.PaymentStatusFailed); err != nil {
		log.Error("marking payment failed failed", zap.Error(err))
	}
}

func (p *Processor) recordAttempt(ctx context.Context, log *zap.Logger, paymentID string, msg notify.Message, sendErr error) {
	el := &models.EmailLog{
		PaymentID:      paymentID,
		RecipientEmail: msg.To,
		Subject:        msg.Subject(),
	}
	if sendErr != nil {
		el.Status = models.EmailLogStatusFailed
		el.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now().UTC()
		el.Status = models.EmailLogStatusSent
		el.SentAt = &now
	}
	if err := p.logs.Record(ctx, el); err != nil {
		log.Warn("email log write failed", zap.Error(err))
	}
}
