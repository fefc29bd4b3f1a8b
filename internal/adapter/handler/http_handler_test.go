package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/adapter/messaging"
	"github.com/rl1809/vouch-desk/internal/adapter/storage"
	"github.com/rl1809/vouch-desk/internal/config"
	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/core/eventbus"
	"github.com/rl1809/vouch-desk/internal/core/refcode"
	"github.com/rl1809/vouch-desk/internal/core/service"
	"github.com/rl1809/vouch-desk/internal/port"
)

const testSecret = "test-secret"

type failingCheck struct{}

func (failingCheck) Ping(ctx context.Context) error { return errors.New("connection refused") }

type apiEnv struct {
	server *httptest.Server
	auth   *Authenticator
	store  *storage.FileStore
	engine *service.Engine
}

func newAPIEnv(t *testing.T, checks map[string]port.HealthChecker) *apiEnv {
	t.Helper()

	store, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "stocks.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.Upsert(context.Background(), "Nitro Boost", 5)

	settings, err := config.OpenSettings("", config.Settings{
		ProofWindow:    time.Hour,
		InboundChannel: "vouch",
		ReviewChannel:  "staff",
		SupervisorRole: "moderator",
	})
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}

	bus := eventbus.NewBus(zerolog.Nop(), nil)
	notifier := messaging.NewLogNotifier(zerolog.Nop())
	engine := service.NewEngine(service.Deps{
		Inventory: store,
		Codes:     refcode.NewGenerator(refcode.DefaultLength),
		Waiter:    eventbus.NewWaiter(bus, nil),
		Notifier:  notifier,
		Channels:  notifier,
		Records:   storage.NewMemoryLog(),
		Settings:  settings,
		Log:       zerolog.Nop(),
	}, service.Options{LockEmoji: "🔒", DeleteEmoji: "🗑️", TicketWindow: time.Hour})

	auth := NewAuthenticator(testSecret, "admin", "gateway", func() string { return settings.Current().SupervisorRole })
	hub := NewHub(zerolog.Nop())
	engine.Subscribe(hub.Broadcast)

	if checks == nil {
		checks = map[string]port.HealthChecker{"inventory": store}
	}
	h := NewHTTPHandler(engine, store, settings, bus, auth, hub, checks, zerolog.Nop())
	mux := http.NewServeMux()
	h.Register(mux)

	env := &apiEnv{server: httptest.NewServer(mux), auth: auth, store: store, engine: engine}
	t.Cleanup(func() {
		env.server.Close()
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})
	return env
}

func (env *apiEnv) token(t *testing.T, id string, roles ...string) string {
	t.Helper()
	token, err := env.auth.IssueToken(id, roles, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (env *apiEnv) do(t *testing.T, method, path, token string, body interface{}) (int, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, env.server.URL+path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out Response
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAuth_Roles(t *testing.T) {
	env := newAPIEnv(t, nil)
	item := StockRequest{Name: "Spotify", Quantity: 3}

	if status, _ := env.do(t, http.MethodGet, "/api/stocks", "", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/stocks", "not-a-jwt", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", status)
	}

	member := env.token(t, "buyer")
	if status, _ := env.do(t, http.MethodGet, "/api/stocks", member, nil); status != http.StatusOK {
		t.Errorf("expected 200 for read, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/stocks", member, item); status != http.StatusForbidden {
		t.Errorf("expected 403 for member write, got %d", status)
	}

	for _, role := range []string{"moderator", "admin"} {
		if status, _ := env.do(t, http.MethodPost, "/api/stocks", env.token(t, "op", role), item); status != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", role, status)
		}
	}

	other := NewAuthenticator("another-secret", "admin", "gateway", nil)
	forged, _ := other.IssueToken("op", []string{"admin"}, time.Hour)
	if status, _ := env.do(t, http.MethodPost, "/api/stocks", forged, item); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for token signed with another secret, got %d", status)
	}
}

func TestStocks_CRUD(t *testing.T) {
	env := newAPIEnv(t, nil)
	mod := env.token(t, "mod", "moderator")

	if status, _ := env.do(t, http.MethodPost, "/api/stocks", mod, StockRequest{Name: "Spotify", Quantity: 2}); status != http.StatusOK {
		t.Fatalf("upsert failed: %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/stocks", mod, StockRequest{Name: "Bad", Quantity: -1}); status != http.StatusBadRequest {
		t.Errorf("expected 400 for negative quantity, got %d", status)
	}

	negative := -3
	if status, _ := env.do(t, http.MethodPatch, "/api/stocks/Spotify", mod, StockPatch{Name: "Spotify Family", Quantity: &negative}); status != http.StatusBadRequest {
		t.Errorf("expected 400 for negative quantity, got %d", status)
	}
	if _, err := env.store.Get(context.Background(), "Spotify"); err != nil {
		t.Errorf("rejected patch must not rename: %v", err)
	}
	if _, err := env.store.Get(context.Background(), "Spotify Family"); !errors.Is(err, port.ErrItemNotFound) {
		t.Errorf("expected no item under the new name, got %v", err)
	}

	qty := 9
	status, resp := env.do(t, http.MethodPatch, "/api/stocks/Spotify", mod, StockPatch{Name: "Spotify Premium", Quantity: &qty})
	if status != http.StatusOK {
		t.Fatalf("patch failed: %d %s", status, resp.Message)
	}
	item, _ := env.store.Get(context.Background(), "Spotify Premium")
	if item.Quantity != 9 {
		t.Errorf("expected 9, got %d", item.Quantity)
	}

	if status, _ := env.do(t, http.MethodPatch, "/api/stocks/Spotify%20Premium", mod, StockPatch{Name: "Nitro Boost"}); status != http.StatusConflict {
		t.Errorf("expected 409 on collision, got %d", status)
	}

	if status, _ := env.do(t, http.MethodDelete, "/api/stocks/Spotify%20Premium", mod, nil); status != http.StatusOK {
		t.Errorf("delete failed: %d", status)
	}
	if status, _ := env.do(t, http.MethodDelete, "/api/stocks/Spotify%20Premium", mod, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", status)
	}
}

func TestWarranty_Endpoints(t *testing.T) {
	env := newAPIEnv(t, nil)
	mod := env.token(t, "mod", "moderator")

	status, _ := env.do(t, http.MethodPost, "/api/warranties", mod, service.WarrantyRequest{Item: "Nitro Boost", Quantity: "two", Counterparty: "buyer"})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric quantity, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/warranties", mod, service.WarrantyRequest{Item: "Nitro Boost", Quantity: "6", Counterparty: "buyer"})
	if status != http.StatusGone {
		t.Errorf("expected 410 when sold out, got %d", status)
	}

	status, resp := env.do(t, http.MethodPost, "/api/warranties", mod, service.WarrantyRequest{Item: "Nitro Boost", Quantity: "2", Counterparty: "buyer"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", status, resp.Message)
	}
	data, _ := json.Marshal(resp.Data)
	var txn domain.Transaction
	json.Unmarshal(data, &txn)
	if txn.State != domain.StateAwaitingProof || txn.Initiator != "mod" {
		t.Errorf("unexpected transaction %+v", txn)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/warranties/"+txn.ReferenceCode, mod, nil); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/warranties/NOPE", mod, nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/warranties/"+txn.ReferenceCode+"/retry", mod, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for retry of a running transaction, got %d", status)
	}

	// The wait registers asynchronously; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	gateway := env.token(t, "gateway", "gateway")
	for time.Now().Before(deadline) {
		_, resp = env.do(t, http.MethodPost, "/api/signals", gateway, domain.Signal{
			Kind:        domain.SignalMessage,
			ChannelID:   "vouch",
			ActorID:     "buyer",
			Attachments: []domain.Attachment{{Filename: "proof.jpg"}},
		})
		if m, _ := resp.Data.(map[string]interface{}); m["matched"] == true {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, _ := env.engine.Transaction(txn.ReferenceCode)
	for time.Now().Before(deadline) && got.State != domain.StateAwaitingAcknowledgment {
		time.Sleep(10 * time.Millisecond)
		got, _ = env.engine.Transaction(txn.ReferenceCode)
	}
	if got.State != domain.StateAwaitingAcknowledgment {
		t.Errorf("expected AWAITING_ACKNOWLEDGMENT, got %s", got.State)
	}
}

func TestSignals_RejectsUnknownKind(t *testing.T) {
	env := newAPIEnv(t, nil)

	status, _ := env.do(t, http.MethodPost, "/api/signals", env.token(t, "gateway", "gateway"), domain.Signal{Kind: "typing"})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestSignals_GatewayOnly(t *testing.T) {
	env := newAPIEnv(t, nil)
	mod := env.token(t, "mod", "moderator")
	gateway := env.token(t, "gateway", "gateway")

	txn, err := env.engine.StartWarranty(context.Background(), service.WarrantyRequest{
		Item: "Nitro Boost", Quantity: "1", Counterparty: "buyer", Initiator: "mod",
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	ref := txn.ReferenceCode

	proof := domain.Signal{
		Kind:        domain.SignalMessage,
		ChannelID:   "vouch",
		ActorID:     "buyer",
		Attachments: []domain.Attachment{{Filename: "proof.jpg"}},
	}
	if status, _ := env.do(t, http.MethodPost, "/api/signals", env.token(t, "buyer"), proof); status != http.StatusForbidden {
		t.Errorf("expected 403 for a member posting a signal, got %d", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := env.engine.Transaction(ref)
		if got.State == domain.StateAwaitingAcknowledgment && !got.ReviewNotice.IsZero() {
			break
		}
		env.do(t, http.MethodPost, "/api/signals", gateway, proof)
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := env.engine.Transaction(ref)
	if got.State != domain.StateAwaitingAcknowledgment || got.ReviewNotice.IsZero() {
		t.Fatalf("expected AWAITING_ACKNOWLEDGMENT with a review notice, got %+v", got)
	}

	forgedLock := domain.Signal{
		Kind:       domain.SignalReaction,
		ChannelID:  got.ReviewNotice.ChannelID,
		MessageID:  got.ReviewNotice.MessageID,
		ActorID:    "buyer",
		ActorRoles: []string{"moderator"},
		Emoji:      "🔒",
	}
	for _, token := range []string{env.token(t, "buyer"), mod} {
		if status, _ := env.do(t, http.MethodPost, "/api/signals", token, forgedLock); status != http.StatusForbidden {
			t.Errorf("expected 403 for a non-gateway lock reaction, got %d", status)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got, _ := env.engine.Transaction(ref); got.State != domain.StateAwaitingAcknowledgment || got.AcknowledgedBy != "" {
		t.Errorf("transaction left AWAITING_ACKNOWLEDGMENT: %s by %q", got.State, got.AcknowledgedBy)
	}
}

func TestTickets_Endpoints(t *testing.T) {
	env := newAPIEnv(t, nil)
	buyer := env.token(t, "buyer")

	status, resp := env.do(t, http.MethodPost, "/api/tickets", buyer, service.TicketRequest{Item: "Nitro Boost"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", status, resp.Message)
	}
	data, _ := json.Marshal(resp.Data)
	var ticket domain.Ticket
	json.Unmarshal(data, &ticket)
	if ticket.Initiator != "buyer" || ticket.State != domain.TicketOpen {
		t.Errorf("unexpected ticket %+v", ticket)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/tickets/"+ticket.ID, buyer, nil); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/tickets", buyer, service.TicketRequest{Item: "Unknown"}); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown item, got %d", status)
	}
}

func TestSettings_Update(t *testing.T) {
	env := newAPIEnv(t, nil)
	mod := env.token(t, "mod", "moderator")

	window := "2h"
	status, resp := env.do(t, http.MethodPut, "/api/settings", mod, SettingsPatch{ProofWindow: &window})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", status, resp.Message)
	}

	_, resp = env.do(t, http.MethodGet, "/api/settings", mod, nil)
	view, _ := resp.Data.(map[string]interface{})
	if view["proofWindow"] != "2h0m0s" || view["inboundChannel"] != "vouch" {
		t.Errorf("unexpected settings %v", view)
	}

	bad := "soon"
	if status, _ := env.do(t, http.MethodPut, "/api/settings", mod, SettingsPatch{ProofWindow: &bad}); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad duration, got %d", status)
	}
	zero := "0s"
	if status, _ := env.do(t, http.MethodPut, "/api/settings", mod, SettingsPatch{ProofWindow: &zero}); status != http.StatusBadRequest {
		t.Errorf("expected 400 for zero window, got %d", status)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t, nil)
	if status, _ := env.do(t, http.MethodGet, "/health", "", nil); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}

	degraded := newAPIEnv(t, map[string]port.HealthChecker{"mysql": failingCheck{}})
	if status, _ := degraded.do(t, http.MethodGet, "/health", "", nil); status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
}
