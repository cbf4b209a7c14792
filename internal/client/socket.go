package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fretes-chat/internal/models"
	"fretes-chat/internal/utils"

	"github.com/fasthttp/websocket"
)

const writeWait = 10 * time.Second

// Socket is one live connection to /ws.
type Socket struct {
	conn   *websocket.Conn
	userID int
	mu     sync.Mutex
}

// WebSocketURL turns the HTTP base URL into the /ws endpoint.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported scheme " + u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Dial connects with the bearer token and announces the user.
func Dial(ctx context.Context, wsURL, token string, userID int) (*Socket, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	s := &Socket{conn: conn, userID: userID}
	if err := s.Send(models.WSMessage{Event: models.EventAnnounce, UserID: userID}); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Socket) Send(ev models.WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *Socket) Typing(conversationID, recipientID int, typing bool) error {
	event := models.EventTypingStop
	if typing {
		event = models.EventTypingStart
	}
	return s.Send(models.WSMessage{Event: event, ConversationID: conversationID, RecipientID: recipientID})
}

// Listen feeds every event to handle until the connection fails or ctx ends.
func (s *Socket) Listen(ctx context.Context, handle func(models.WSMessage)) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		var ev models.WSMessage
		if err := s.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handle(ev)
	}
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// Live keeps a socket open, reconnecting with backoff. OnConnect runs after
// every successful dial, before events are read.
type Live struct {
	URL    string
	Token  string
	UserID int

	OnConnect func(*Socket) error
	OnEvent   func(models.WSMessage)

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run blocks until ctx is canceled.
func (l *Live) Run(ctx context.Context) error {
	backoff := l.MinBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := l.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = 30 * time.Second
	}
	handle := l.OnEvent
	if handle == nil {
		handle = func(models.WSMessage) {}
	}
	log := utils.Logger()

	wait := backoff
	for {
		sock, err := Dial(ctx, l.URL, l.Token, l.UserID)
		if err == nil {
			wait = backoff
			if l.OnConnect != nil {
				if cerr := l.OnConnect(sock); cerr != nil {
					log.Warn("on-connect hook failed", "error", cerr)
				}
			}
			err = sock.Listen(ctx, handle)
			sock.conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("live connection lost, retrying", "error", err, "in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
