// Package queue runs deferred work on asynq (Redis-backed).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fretes-chat/internal/utils"

	"github.com/hibiken/asynq"
)

// TaskTouchConversation retries a failed updated_at bump.
const TaskTouchConversation = "conversation:touch"

type touchPayload struct {
	ConversationID int `json:"conversation_id"`
}

// Toucher is implemented by services.ChatService.
type Toucher interface {
	TouchConversation(ctx context.Context, conversationID int) error
}

type Client struct {
	client *asynq.Client
}

func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

func NewTouchTask(conversationID int) (*asynq.Task, error) {
	payload, err := json.Marshal(touchPayload{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTouchConversation, payload), nil
}

// ScheduleTouch enqueues a bump a couple of seconds out. Repeated failures
// for the same conversation within the unique window collapse into one task.
func (c *Client) ScheduleTouch(ctx context.Context, conversationID int) error {
	task, err := NewTouchTask(conversationID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(2*time.Second),
		asynq.MaxRetry(5),
		asynq.Unique(30*time.Second),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}

// HandleTouch builds the task handler. Malformed payloads are not retried.
func HandleTouch(t Toucher) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p touchPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil || p.ConversationID <= 0 {
			return fmt.Errorf("bad %s payload: %w", TaskTouchConversation, asynq.SkipRetry)
		}
		return t.TouchConversation(ctx, p.ConversationID)
	}
}

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisURL string, concurrency int) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			utils.Logger().Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	return &Server{server: srv, mux: asynq.NewServeMux()}, nil
}

func (s *Server) RegisterToucher(t Toucher) {
	s.mux.Handle(TaskTouchConversation, HandleTouch(t))
}

// Run starts the workers and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
