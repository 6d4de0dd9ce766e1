package invites

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/settings"
)

type inviteWriterMock struct {
	saved []string
	err   error
}

func (m *inviteWriterMock) SetInvite(ctx context.Context, userID, batchID uuid.UUID, link string) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, link)
	return nil
}

// telegramStub fakes the bot API createChatInviteLink endpoint.
func telegramStub(t *testing.T, calls *int, respond func(req createInviteRequest) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if !strings.HasSuffix(r.URL.Path, "/createChatInviteLink") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req createInviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		code, body := respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}))
}

func snapWithToken() settings.Snapshot {
	return settings.Snapshot{TelegramBotToken: "123:abc"}
}

func TestEnsureInviteIssuesSingleUseLink(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		if req.MemberLimit != 1 {
			t.Errorf("member_limit = %d, want 1", req.MemberLimit)
		}
		if req.ChatID != "-100987" {
			t.Errorf("chat_id = %q", req.ChatID)
		}
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+new"}}`
	})
	defer srv.Close()

	store := &inviteWriterMock{}
	p := NewProvisioner(store, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID}
	batch := &models.Batch{ID: batchID, Name: "evening", TelegramChatID: "-100987"}

	link, err := p.EnsureInvite(context.Background(), user, batch, snapWithToken())
	if err != nil {
		t.Fatalf("EnsureInvite: %v", err)
	}
	if link != "https://t.me/+new" {
		t.Errorf("link = %q", link)
	}
	if calls != 1 {
		t.Errorf("telegram called %d times, want 1", calls)
	}
	if len(store.saved) != 1 || store.saved[0] != link {
		t.Errorf("persisted links = %v, want the issued one", store.saved)
	}
}

func TestEnsureInvitePrefersSettingsChatID(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		if req.ChatID != "-100override" {
			t.Errorf("chat_id = %q, want the settings override", req.ChatID)
		}
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+o"}}`
	})
	defer srv.Close()

	p := NewProvisioner(&inviteWriterMock{}, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID}
	batch := &models.Batch{ID: batchID, Name: "morning", TelegramChatID: "-100stale"}
	snap := snapWithToken()
	snap.TelegramChatIDs = map[string]string{"morning": "-100override"}

	if _, err := p.EnsureInvite(context.Background(), user, batch, snap); err != nil {
		t.Fatalf("EnsureInvite: %v", err)
	}
}

func TestEnsureInviteReusesExistingLink(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+wrong"}}`
	})
	defer srv.Close()

	store := &inviteWriterMock{}
	p := NewProvisioner(store, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID, InviteLink: "https://t.me/+kept"}
	batch := &models.Batch{ID: batchID, Name: "morning", TelegramChatID: "-100123"}

	link, err := p.EnsureInvite(context.Background(), user, batch, snapWithToken())
	if err != nil {
		t.Fatalf("EnsureInvite: %v", err)
	}
	if link != "https://t.me/+kept" {
		t.Errorf("link = %q, want the stored one", link)
	}
	// Issuing again would invalidate the link already mailed out.
	if calls != 0 {
		t.Errorf("telegram called %d times, want 0", calls)
	}
}

func TestEnsureInviteIgnoresLinkFromAnotherBatch(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+fresh"}}`
	})
	defer srv.Close()

	store := &inviteWriterMock{}
	p := NewProvisioner(store, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	oldBatch := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &oldBatch, InviteLink: "https://t.me/+old-group"}
	batch := &models.Batch{ID: uuid.New(), Name: "evening", TelegramChatID: "-100987"}

	link, err := p.EnsureInvite(context.Background(), user, batch, snapWithToken())
	if err != nil {
		t.Fatalf("EnsureInvite: %v", err)
	}
	if link != "https://t.me/+fresh" {
		t.Errorf("link = %q, want a fresh one for the new batch", link)
	}
	if calls != 1 {
		t.Errorf("telegram called %d times, want 1", calls)
	}
}

func TestEnsureInviteTelegramError(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`
	})
	defer srv.Close()

	store := &inviteWriterMock{}
	p := NewProvisioner(store, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID}
	batch := &models.Batch{ID: batchID, Name: "morning", TelegramChatID: "-1"}

	if _, err := p.EnsureInvite(context.Background(), user, batch, snapWithToken()); err == nil {
		t.Error("telegram error not propagated")
	}
	if len(store.saved) != 0 {
		t.Error("link persisted despite telegram failure")
	}
}

func TestEnsureInviteRequiresBotToken(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+x"}}`
	})
	defer srv.Close()

	p := NewProvisioner(&inviteWriterMock{}, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID}
	batch := &models.Batch{ID: batchID, Name: "morning", TelegramChatID: "-100123"}

	if _, err := p.EnsureInvite(context.Background(), user, batch, settings.Snapshot{}); err == nil {
		t.Error("missing bot token accepted")
	}
	if calls != 0 {
		t.Error("telegram called without a token")
	}
}

func TestEnsureInvitePersistFailure(t *testing.T) {
	calls := 0
	srv := telegramStub(t, &calls, func(req createInviteRequest) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+y"}}`
	})
	defer srv.Close()

	store := &inviteWriterMock{err: context.DeadlineExceeded}
	p := NewProvisioner(store, srv.Client(), nil)
	p.SetBaseURL(srv.URL)

	batchID := uuid.New()
	user := &models.User{ID: uuid.New(), BatchID: &batchID}
	batch := &models.Batch{ID: batchID, Name: "morning", TelegramChatID: "-100123"}

	if _, err := p.EnsureInvite(context.Background(), user, batch, snapWithToken()); err == nil {
		t.Error("persist failure not propagated")
	}
}
