package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/settings"
	"github.com/topg-traders/backend/pkg/queue"
)

const testSecret = "whsec_test"

type mockLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string

	AcquireFunc func(ctx context.Context, paymentID string) (bool, error)
	ReleaseFunc func(ctx context.Context, paymentID string) error
}

func newMockLocks() *mockLocks {
	return &mockLocks{held: map[string]bool{}}
}

func (m *mockLocks) Acquire(ctx context.Context, paymentID string) (bool, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[paymentID] {
		return false, nil
	}
	m.held[paymentID] = true
	return true, nil
}

func (m *mockLocks) Release(ctx context.Context, paymentID string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, paymentID)
	m.released = append(m.released, paymentID)
	return nil
}

type mockPayments struct {
	GetFunc       func(ctx context.Context, id string) (*models.Payment, error)
	CreateFunc    func(ctx context.Context, p *models.Payment) error
	SetStatusFunc func(ctx context.Context, id, status string) error
}

func (m *mockPayments) GetByProviderID(ctx context.Context, id string) (*models.Payment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockPayments) Create(ctx context.Context, p *models.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil
}

func (m *mockPayments) SetStatus(ctx context.Context, id, status string) error {
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, id, status)
	}
	return nil
}

type mockUsers struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, nil
}

type mockEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.FulfillmentPayload

	EnqueueFunc func(ctx context.Context, payload queue.FulfillmentPayload) error
}

func (m *mockEnqueuer) EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockEnqueuer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

type stubSettings struct{}

func (stubSettings) Snapshot(ctx context.Context) settings.Snapshot {
	return settings.Snapshot{RazorpayWebhookSecret: testSecret}
}

func capturedEvent(paymentID, email string) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": EventPaymentCaptured,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": "order_1",
					"email":    email,
					"amount":   499900,
					"currency": "INR",
				},
			},
		},
	})
	return body
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhook", h.HandleEvent)
	return router
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func existingUser() *models.User {
	batchID := uuid.New()
	return &models.User{ID: uuid.New(), Name: "Asha", Email: "a@x.com", BatchID: &batchID, InviteLink: "https://t.me/+L"}
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	h := NewHandler(locks, &mockPayments{}, &mockUsers{}, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, "wrong-secret"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if jobs.count() != 0 {
		t.Error("job enqueued despite invalid signature")
	}
	if len(locks.held) != 0 {
		t.Error("lock taken despite invalid signature")
	}
}

func TestHandleEventIgnoresOtherEvents(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	h := NewHandler(locks, &mockPayments{}, &mockUsers{}, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]any{"event": "payment.failed"})
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if jobs.count() != 0 {
		t.Error("job enqueued for non-captured event")
	}
}

func TestHandleEventSchedulesFulfillment(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	user := existingUser()
	users := &mockUsers{GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
		if email != "a@x.com" {
			return nil, nil
		}
		return user, nil
	}}
	var created *models.Payment
	paymentsMock := &mockPayments{CreateFunc: func(ctx context.Context, p *models.Payment) error {
		created = p
		return nil
	}}
	h := NewHandler(locks, paymentsMock, users, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if jobs.count() != 1 {
		t.Fatalf("enqueued %d jobs, want 1", jobs.count())
	}
	if jobs.payloads[0].ProviderPaymentID != "pay_123" || jobs.payloads[0].UserID != user.ID {
		t.Errorf("unexpected payload %+v", jobs.payloads[0])
	}
	if created == nil {
		t.Fatal("payment row not created")
	}
	if created.Status != models.PaymentStatusProcessing {
		t.Errorf("payment created with status %q, want processing", created.Status)
	}
	if created.AmountMinor != 499900 || created.Currency != "INR" {
		t.Errorf("amount/currency not carried from event: %+v", created)
	}
	// Lock stays held for the scheduled job; it is the worker's to release.
	if !locks.held["pay_123"] {
		t.Error("lock not held after scheduling")
	}
}

func TestHandleEventDuplicateWhileLocked(t *testing.T) {
	locks := newMockLocks()
	locks.held["pay_123"] = true
	jobs := &mockEnqueuer{}
	h := NewHandler(locks, &mockPayments{}, &mockUsers{}, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Already processing." {
		t.Errorf("message = %q, want Already processing.", got)
	}
	if jobs.count() != 0 {
		t.Error("duplicate delivery enqueued a job")
	}
}

func TestHandleEventAlreadyCompleted(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	paymentsMock := &mockPayments{GetFunc: func(ctx context.Context, id string) (*models.Payment, error) {
		return &models.Payment{ProviderPaymentID: id, Status: models.PaymentStatusCompleted, EmailSent: true}, nil
	}}
	h := NewHandler(locks, paymentsMock, &mockUsers{}, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Payment already completed." {
		t.Errorf("message = %q, want Payment already completed.", got)
	}
	if jobs.count() != 0 {
		t.Error("replay of completed payment enqueued a job")
	}
	if len(locks.released) != 1 || locks.held["pay_123"] {
		t.Error("lock not released on completed replay")
	}
}

func TestHandleEventUnknownUser(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	h := NewHandler(locks, &mockPayments{}, &mockUsers{}, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_999", "ghost@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (no provider retry desired)", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "User not found." {
		t.Errorf("message = %q, want User not found.", got)
	}
	if jobs.count() != 0 {
		t.Error("job enqueued for unknown user")
	}
	if locks.held["pay_999"] {
		t.Error("lock leaked for unknown user")
	}
}

func TestHandleEventReleasesLockOnEnqueueFailure(t *testing.T) {
	locks := newMockLocks()
	user := existingUser()
	users := &mockUsers{GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil }}
	jobs := &mockEnqueuer{EnqueueFunc: func(ctx context.Context, payload queue.FulfillmentPayload) error {
		return errors.New("redis down")
	}}
	h := NewHandler(locks, &mockPayments{}, users, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if locks.held["pay_123"] {
		t.Error("lock leaked after enqueue failure; webhook retry would be blocked forever")
	}
}

func TestHandleEventFailedPaymentReentersProcessing(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	user := existingUser()
	users := &mockUsers{GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil }}
	var setTo string
	paymentsMock := &mockPayments{
		GetFunc: func(ctx context.Context, id string) (*models.Payment, error) {
			return &models.Payment{ProviderPaymentID: id, UserID: user.ID, Status: models.PaymentStatusFailed}, nil
		},
		SetStatusFunc: func(ctx context.Context, id, status string) error {
			setTo = status
			return nil
		},
	}
	h := NewHandler(locks, paymentsMock, users, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	w := postWebhook(router, body, sign(body, testSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if setTo != models.PaymentStatusProcessing {
		t.Errorf("failed payment set to %q, want processing", setTo)
	}
	if jobs.count() != 1 {
		t.Errorf("enqueued %d jobs, want 1", jobs.count())
	}
}

func TestHandleEventConcurrentDuplicates(t *testing.T) {
	locks := newMockLocks()
	jobs := &mockEnqueuer{}
	user := existingUser()
	users := &mockUsers{GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil }}
	h := NewHandler(locks, &mockPayments{}, users, jobs, stubSettings{}, nil)
	router := newTestRouter(h)

	body := capturedEvent("pay_123", "a@x.com")
	signature := sign(body, testSecret)

	const n = 16
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := postWebhook(router, body, signature)
			if w.Code != http.StatusOK {
				results <- fmt.Sprintf("status %d", w.Code)
				return
			}
			var out map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &out)
			results <- out["message"]
		}()
	}
	wg.Wait()
	close(results)

	var scheduled, duplicates int
	for msg := range results {
		switch msg {
		case "":
			scheduled++
		case "Already processing.":
			duplicates++
		default:
			t.Errorf("unexpected result %q", msg)
		}
	}
	if scheduled != 1 {
		t.Errorf("%d deliveries proceeded, want exactly 1", scheduled)
	}
	if duplicates != n-1 {
		t.Errorf("%d duplicates acknowledged, want %d", duplicates, n-1)
	}
	if jobs.count() != 1 {
		t.Errorf("enqueued %d jobs, want exactly 1", jobs.count())
	}
}
