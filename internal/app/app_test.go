package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fretes-chat/internal/config"
	"fretes-chat/internal/models"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/repository"
	"fretes-chat/internal/services"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store := repository.NewMemoryStore()
	chat := services.NewChatService(store, store, store)
	hub := presence.NewHub(nil)
	chat.SetNotifier(hub)

	cfg := &config.Config{CORSOrigins: "*"}
	return New(cfg, Deps{
		Chat:   chat,
		Users:  services.NewUserService(store, "test-secret", time.Hour),
		Offers: services.NewOfferService(store),
		Hub:    hub,
	})
}

func do(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func decode(t *testing.T, raw []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

// signup registers and logs in, returning the user id and token.
func signup(t *testing.T, app *fiber.App, name, email, role string) (int, string) {
	t.Helper()
	req := models.RegisterRequest{Name: name, Email: email, Password: "s3cret!", Role: role, VehiclePlate: "abc1d23"}
	status, body := do(t, app, http.MethodPost, "/api/users/register", "", req)
	if status != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, status, body)
	}

	status, body = do(t, app, http.MethodPost, "/api/users/login", "", models.LoginRequest{Email: email, Password: "s3cret!"})
	if status != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, status, body)
	}
	var auth models.AuthResponse
	decode(t, body, &auth)
	return auth.User.ID, auth.Token
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	status, body := do(t, app, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health: %d", status)
	}
	var out map[string]string
	decode(t, body, &out)
	if out["status"] != "ok" || out["db"] != "memory" {
		t.Errorf("health = %v", out)
	}
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t)
	signup(t, app, "Ana", "ana@example.com", models.RoleClient)

	cases := []struct {
		name   string
		req    models.RegisterRequest
		status int
	}{
		{"duplicate email", models.RegisterRequest{Name: "Ana", Email: "ANA@example.com", Password: "x", Role: models.RoleClient}, http.StatusConflict},
		{"bad role", models.RegisterRequest{Name: "Ana", Email: "b@example.com", Password: "x", Role: "admin"}, http.StatusBadRequest},
		{"missing password", models.RegisterRequest{Name: "Ana", Email: "c@example.com", Role: models.RoleClient}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, "/api/users/register", "", tc.req)
			if status != tc.status {
				t.Errorf("status = %d, want %d (%s)", status, tc.status, body)
			}
		})
	}

	status, _ := do(t, app, http.MethodPost, "/api/users/login", "", models.LoginRequest{Email: "ana@example.com", Password: "wrong"})
	if status != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/api/messages/conversations", "/api/messages/unread", "/api/users/online", "/api/users/me"} {
		status, body := do(t, app, http.MethodGet, path, "", nil)
		if status != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", path, status)
		}
		var out map[string]string
		decode(t, body, &out)
		if out["error"] == "" {
			t.Errorf("%s: missing error body", path)
		}
	}

	status, _ := do(t, app, http.MethodGet, "/api/messages/unread", "not-a-token", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", status)
	}
}

func TestMessagingFlow(t *testing.T) {
	app := newTestApp(t)
	clientID, clientToken := signup(t, app, "Ana", "ana@example.com", models.RoleClient)
	carrierID, carrierToken := signup(t, app, "Beto", "beto@example.com", models.RoleCarrier)
	_, outsiderToken := signup(t, app, "Caio", "caio@example.com", models.RoleClient)

	// Resolve is create-then-find and symmetric.
	status, body := do(t, app, http.MethodPost, "/api/messages/conversations", clientToken, models.ResolveConversationRequest{RecipientID: carrierID})
	if status != http.StatusCreated {
		t.Fatalf("resolve: %d %s", status, body)
	}
	var conv models.ConversationResponse
	decode(t, body, &conv)
	if !conv.IsNew {
		t.Error("first resolve should be new")
	}

	status, body = do(t, app, http.MethodPost, "/api/messages/conversations", carrierToken, models.ResolveConversationRequest{RecipientID: clientID})
	var again models.ConversationResponse
	decode(t, body, &again)
	if status != http.StatusOK || again.ConversationID != conv.ConversationID || again.IsNew {
		t.Fatalf("second resolve: %d %+v", status, again)
	}

	status, _ = do(t, app, http.MethodPost, "/api/messages/conversations", clientToken, models.ResolveConversationRequest{RecipientID: clientID})
	if status != http.StatusBadRequest {
		t.Errorf("self conversation status = %d", status)
	}

	// Send, then replay the same client key.
	send := models.SendMessageRequest{ConversationID: conv.ConversationID, RecipientID: carrierID, Content: "Olá, ainda disponível?", ClientKey: "k-1"}
	status, body = do(t, app, http.MethodPost, "/api/messages", clientToken, send)
	if status != http.StatusCreated {
		t.Fatalf("send: %d %s", status, body)
	}
	var sent models.SendMessageResponse
	decode(t, body, &sent)

	status, body = do(t, app, http.MethodPost, "/api/messages", clientToken, send)
	var replay models.SendMessageResponse
	decode(t, body, &replay)
	if status != http.StatusOK || !replay.Duplicate || replay.Message.ID != sent.Message.ID {
		t.Fatalf("replay: %d %+v", status, replay)
	}

	status, _ = do(t, app, http.MethodPost, "/api/messages", outsiderToken, models.SendMessageRequest{ConversationID: conv.ConversationID, RecipientID: carrierID, Content: "oi"})
	if status != http.StatusForbidden {
		t.Errorf("outsider send status = %d", status)
	}
	status, _ = do(t, app, http.MethodPost, "/api/messages", clientToken, models.SendMessageRequest{ConversationID: conv.ConversationID, RecipientID: carrierID, Content: "  "})
	if status != http.StatusBadRequest {
		t.Errorf("blank send status = %d", status)
	}

	// Unread for the carrier.
	status, body = do(t, app, http.MethodGet, "/api/messages/unread", carrierToken, nil)
	var unread models.UnreadResponse
	decode(t, body, &unread)
	if status != http.StatusOK || unread.Total != 1 || unread.ByConversation[conv.ConversationID] != 1 {
		t.Fatalf("unread: %d %+v", status, unread)
	}

	// Listing shows the other participant and the unread count.
	status, body = do(t, app, http.MethodGet, "/api/messages/conversations", carrierToken, nil)
	var list struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	decode(t, body, &list)
	if status != http.StatusOK || len(list.Conversations) != 1 {
		t.Fatalf("list: %d %s", status, body)
	}
	if got := list.Conversations[0]; got.OtherUserID != clientID || got.UnreadCount != 1 || got.OtherUserStatus != "offline" {
		t.Errorf("summary = %+v", got)
	}

	// Opening returns the history and marks it read.
	path := fmt.Sprintf("/api/messages/conversations/%d", conv.ConversationID)
	status, body = do(t, app, http.MethodGet, path, carrierToken, nil)
	var detail models.ConversationDetail
	decode(t, body, &detail)
	if status != http.StatusOK || len(detail.Messages) != 1 || detail.Messages[0].Content != send.Content {
		t.Fatalf("open: %d %s", status, body)
	}

	status, body = do(t, app, http.MethodGet, "/api/messages/unread", carrierToken, nil)
	decode(t, body, &unread)
	if unread.Total != 0 {
		t.Errorf("unread after open = %+v", unread)
	}

	status, _ = do(t, app, http.MethodGet, path, outsiderToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("outsider open status = %d", status)
	}

	status, body = do(t, app, http.MethodPatch, path+"/read", carrierToken, nil)
	var marked map[string]int64
	decode(t, body, &marked)
	if status != http.StatusOK || marked["marked"] != 0 {
		t.Errorf("mark read: %d %s", status, body)
	}

	status, _ = do(t, app, http.MethodGet, "/api/messages/conversations/abc", carrierToken, nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad id status = %d", status)
	}
}

func TestMe(t *testing.T) {
	app := newTestApp(t)
	id, token := signup(t, app, "Ana", "ana@example.com", models.RoleClient)

	status, body := do(t, app, http.MethodGet, "/api/users/me", token, nil)
	var me models.User
	decode(t, body, &me)
	if status != http.StatusOK || me.ID != id || me.Email != "ana@example.com" {
		t.Fatalf("me: %d %s", status, body)
	}
	if bytes.Contains(body, []byte("s3cret")) || bytes.Contains(body, []byte("password")) {
		t.Errorf("password leaked: %s", body)
	}
}

func TestResolveRejectsUnknownRecipientAndOffer(t *testing.T) {
	app := newTestApp(t)
	_, token := signup(t, app, "Ana", "ana@example.com", models.RoleClient)
	carrierID, _ := signup(t, app, "Beto", "beto@example.com", models.RoleCarrier)

	status, body := do(t, app, http.MethodPost, "/api/messages/conversations", token, models.ResolveConversationRequest{RecipientID: 999999})
	if status != http.StatusNotFound {
		t.Errorf("unknown recipient: %d %s", status, body)
	}
	offerID := 424242
	status, body = do(t, app, http.MethodPost, "/api/messages/conversations", token, models.ResolveConversationRequest{RecipientID: carrierID, OfferID: &offerID})
	if status != http.StatusNotFound {
		t.Errorf("unknown offer: %d %s", status, body)
	}

	status, body = do(t, app, http.MethodGet, "/api/messages/conversations", token, nil)
	var list struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	decode(t, body, &list)
	if status != http.StatusOK || len(list.Conversations) != 0 {
		t.Errorf("rejected resolves left rows: %s", body)
	}
}

func TestOffersFlow(t *testing.T) {
	app := newTestApp(t)
	_, clientToken := signup(t, app, "Ana", "ana@example.com", models.RoleClient)
	carrierID, carrierToken := signup(t, app, "Beto", "beto@example.com", models.RoleCarrier)
	_, rivalToken := signup(t, app, "Caio", "caio@example.com", models.RoleCarrier)

	req := models.OfferRequest{Origin: "Santos", Destination: "Campinas", Price: 850, AvailableOn: "2024-03-15"}

	status, _ := do(t, app, http.MethodPost, "/api/offers", "", req)
	if status != http.StatusUnauthorized {
		t.Errorf("anonymous create status = %d", status)
	}
	status, _ = do(t, app, http.MethodPost, "/api/offers", clientToken, req)
	if status != http.StatusForbidden {
		t.Errorf("client create status = %d", status)
	}
	bad := req
	bad.Price = 0
	status, _ = do(t, app, http.MethodPost, "/api/offers", carrierToken, bad)
	if status != http.StatusBadRequest {
		t.Errorf("zero price status = %d", status)
	}

	status, body := do(t, app, http.MethodPost, "/api/offers", carrierToken, req)
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var offer models.Offer
	decode(t, body, &offer)
	if offer.OwnerID != carrierID || offer.OwnerName != "Beto" {
		t.Fatalf("offer = %+v", offer)
	}

	status, body = do(t, app, http.MethodGet, "/api/offers?origin=san&price_max=900", "", nil)
	var listed struct {
		Offers []models.Offer `json:"offers"`
	}
	decode(t, body, &listed)
	if status != http.StatusOK || len(listed.Offers) != 1 || listed.Offers[0].ID != offer.ID {
		t.Fatalf("list: %d %s", status, body)
	}
	status, _ = do(t, app, http.MethodGet, "/api/offers?price_min=abc", "", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad price_min status = %d", status)
	}

	// A conversation about the offer carries its context.
	status, body = do(t, app, http.MethodPost, "/api/messages/conversations", clientToken, models.ResolveConversationRequest{RecipientID: carrierID, OfferID: &offer.ID})
	if status != http.StatusCreated {
		t.Fatalf("resolve with offer: %d %s", status, body)
	}
	var conv models.ConversationResponse
	decode(t, body, &conv)

	path := fmt.Sprintf("/api/offers/%d", offer.ID)
	update := req
	update.Price = 990
	status, _ = do(t, app, http.MethodPut, path, rivalToken, update)
	if status != http.StatusForbidden {
		t.Errorf("rival update status = %d", status)
	}
	status, body = do(t, app, http.MethodPut, path, carrierToken, update)
	decode(t, body, &offer)
	if status != http.StatusOK || offer.Price != 990 {
		t.Fatalf("update: %d %s", status, body)
	}

	status, _ = do(t, app, http.MethodDelete, path, rivalToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("rival delete status = %d", status)
	}
	status, _ = do(t, app, http.MethodDelete, path, carrierToken, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	status, _ = do(t, app, http.MethodGet, path, "", nil)
	if status != http.StatusNotFound {
		t.Errorf("get deleted status = %d", status)
	}

	status, body = do(t, app, http.MethodGet, fmt.Sprintf("/api/messages/conversations/%d", conv.ConversationID), clientToken, nil)
	var detail models.ConversationDetail
	decode(t, body, &detail)
	if status != http.StatusOK || detail.Conversation == nil || detail.Conversation.Offer == nil || detail.Conversation.OtherUserID != carrierID {
		t.Fatalf("conversation lost offer context: %d %s", status, body)
	}
}
