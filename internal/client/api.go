// Package client talks to the chat server over HTTP and the websocket and
// keeps a reconciled local view of the user's conversations.
package client

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const requestTimeout = 10 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// API is the HTTP side of the client. It is safe to share once the token is set.
type API struct {
	baseURL string
	token   string
}

func NewAPI(baseURL string) *API {
	return &API{baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *API) SetToken(token string) {
	a.token = token
}

func (a *API) Token() string {
	return a.token
}

func (a *API) url(path string) string {
	return a.baseURL + path
}

// do runs the request and decodes a 2xx body into out.
func (a *API) do(agent *fiber.Agent, out interface{}) error {
	agent.Timeout(requestTimeout)
	if a.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+a.token)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code < 200 || code > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = utils.SafeJSONParse(body, &e)
		return &APIError{Status: code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return utils.SafeJSONParse(body, out)
}

// Login stores the returned token for subsequent calls.
func (a *API) Login(email, password string) (*models.AuthResponse, error) {
	var res models.AuthResponse
	agent := fiber.Post(a.url("/api/users/login")).JSON(models.LoginRequest{Email: email, Password: password})
	if err := a.do(agent, &res); err != nil {
		return nil, err
	}
	a.token = res.Token
	return &res, nil
}

func (a *API) Resolve(recipientID int, offerID *int) (*models.ConversationResponse, error) {
	var res models.ConversationResponse
	agent := fiber.Post(a.url("/api/messages/conversations")).
		JSON(models.ResolveConversationRequest{RecipientID: recipientID, OfferID: offerID})
	if err := a.do(agent, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) Conversations() ([]models.ConversationSummary, error) {
	var res struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := a.do(fiber.Get(a.url("/api/messages/conversations")), &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

// Open fetches a history page; the server marks it read.
func (a *API) Open(conversationID, limit, offset int) (*models.ConversationDetail, error) {
	var res models.ConversationDetail
	agent := fiber.Get(a.url("/api/messages/conversations/" + strconv.Itoa(conversationID))).
		QueryString("limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset))
	if err := a.do(agent, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) Send(req models.SendMessageRequest) (*models.SendMessageResponse, error) {
	var res models.SendMessageResponse
	if err := a.do(fiber.Post(a.url("/api/messages")).JSON(req), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) MarkRead(conversationID int) (int64, error) {
	var res struct {
		Marked int64 `json:"marked"`
	}
	path := "/api/messages/conversations/" + strconv.Itoa(conversationID) + "/read"
	if err := a.do(fiber.Patch(a.url(path)), &res); err != nil {
		return 0, err
	}
	return res.Marked, nil
}

func (a *API) Unread() (*models.UnreadResponse, error) {
	var res models.UnreadResponse
	if err := a.do(fiber.Get(a.url("/api/messages/unread")), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
