// Command chat-client is a terminal client for the chat server. Lines read
// from stdin are sent to the conversation with -to.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"fretes-chat/internal/client"
	"fretes-chat/internal/models"
	"fretes-chat/internal/utils"
)

func main() {
	server := flag.String("server", utils.GetEnv("CHAT_SERVER", "http://localhost:3001"), "server base URL")
	email := flag.String("email", "", "login email")
	password := flag.String("password", utils.GetEnv("CHAT_PASSWORD", ""), "login password")
	to := flag.Int("to", 0, "recipient user id")
	offer := flag.Int("offer", 0, "offer id the conversation is about (optional)")
	flag.Parse()

	log := utils.Logger()
	if *email == "" || *to == 0 {
		flag.Usage()
		os.Exit(2)
	}

	api := client.NewAPI(*server)
	auth, err := api.Login(*email, *password)
	if err != nil {
		log.Error("login failed", "error", err)
		os.Exit(1)
	}

	var offerID *int
	if *offer > 0 {
		offerID = offer
	}
	conv, err := api.Resolve(*to, offerID)
	if err != nil {
		log.Error("resolve conversation failed", "error", err)
		os.Exit(1)
	}

	session := client.NewSession(api, auth.User.ID)
	if err := session.Resync(); err != nil {
		log.Error("initial sync failed", "error", err)
		os.Exit(1)
	}
	if err := session.Open(conv.ConversationID); err != nil {
		log.Error("open conversation failed", "error", err)
		os.Exit(1)
	}
	for _, m := range session.Messages() {
		printMessage(auth.User.ID, m.Message)
	}

	wsURL, err := client.WebSocketURL(*server)
	if err != nil {
		log.Error("bad server url", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mu   sync.Mutex
		sock *client.Socket
	)
	live := session.Live(wsURL, api.Token())
	resync := live.OnConnect
	live.OnConnect = func(s *client.Socket) error {
		mu.Lock()
		sock = s
		mu.Unlock()
		return resync(s)
	}
	live.OnEvent = func(ev models.WSMessage) {
		session.HandleEvent(ev)
		switch ev.Event {
		case models.EventMessageDelivered:
			if ev.ConversationID == conv.ConversationID {
				fmt.Printf("<%d> %s\n", ev.SenderID, ev.Text)
			} else {
				fmt.Printf("[new message in conversation %d, %d unread]\n", ev.ConversationID, session.UnreadTotal())
			}
		case models.EventTypingStart:
			if ev.ConversationID == conv.ConversationID {
				fmt.Println("[typing...]")
			}
		case models.EventRosterChanged:
			status := "offline"
			if session.IsOnline(*to) {
				status = "online"
			}
			fmt.Printf("[user %d is %s]\n", *to, status)
		}
	}
	go func() {
		if err := live.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("live connection stopped", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/typing" {
				mu.Lock()
				s := sock
				mu.Unlock()
				if s != nil {
					if err := s.Typing(conv.ConversationID, *to, true); err != nil {
						log.Warn("typing event failed", "error", err)
					}
				}
				continue
			}
			if _, err := session.Send(line); err != nil {
				fmt.Printf("[not sent: %v]\n", err)
			}
		}
	}
}

func printMessage(me int, m models.Message) {
	who := m.SenderName
	if m.SenderID == me {
		who = "me"
	}
	if who == "" {
		who = fmt.Sprint(m.SenderID)
	}
	fmt.Printf("%s <%s> %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
}
