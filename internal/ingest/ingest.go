// Package ingest consumes platform events from NATS and routes them into
// the session layer: answer events to the poll registry, join events to the
// game service. Answers are worthless once their poll closed, so plain
// subscriptions are used rather than a durable stream; a dropped message is
// equivalent to a late one.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/suryapaul01/quizplay-robot/internal/poll"
)

const (
	defaultSubjectPrefix = "quizplay"
	defaultReconnectWait = 2 * time.Second

	handleTimeout = 5 * time.Second
)

// Joiner enrolls users into a room's lobby.
type Joiner interface {
	Join(ctx context.Context, room, userID, name string) error
}

// Connect dials NATS with reconnect behavior suited for a long-lived
// consumer.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("ingest: nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("ingest: nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("ingest: nats error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: connect nats: %w", err)
	}
	return nc, nil
}

type Config struct {
	Conn     *nats.Conn
	Registry *poll.Registry
	Joiner   Joiner

	// SubjectPrefix defaults to "quizplay"; answers arrive on
	// "<prefix>.answers" and joins on "<prefix>.joins".
	SubjectPrefix string
}

type Consumer struct {
	conn     *nats.Conn
	registry *poll.Registry
	joiner   Joiner
	prefix   string

	subs []*nats.Subscription
}

func NewConsumer(c Config) *Consumer {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}

	return &Consumer{
		conn:     c.Conn,
		registry: c.Registry,
		joiner:   c.Joiner,
		prefix:   c.SubjectPrefix,
	}
}

// Start subscribes to the answer and join subjects. Messages are handled on
// the NATS delivery goroutine; handlers are bounded by handleTimeout.
func (c *Consumer) Start() error {
	answerSub, err := c.conn.Subscribe(c.prefix+".answers", func(msg *nats.Msg) {
		c.handleAnswer(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe answers: %w", err)
	}
	c.subs = append(c.subs, answerSub)

	joinSub, err := c.conn.Subscribe(c.prefix+".joins", func(msg *nats.Msg) {
		c.handleJoin(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe joins: %w", err)
	}
	c.subs = append(c.subs, joinSub)

	return nil
}

// Stop unsubscribes; in-flight handlers finish on their own.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("ingest: unsubscribe failed",
				"subject", sub.Subject, "error", err)
		}
	}
	c.subs = nil
}

type answerPayload struct {
	PollID      string    `json:"poll_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Option      int       `json:"option"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (c *Consumer) handleAnswer(data []byte) {
	var p answerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Error("ingest: drop malformed answer", "error", err)
		return
	}
	if p.PollID == "" || p.UserID == "" {
		slog.Error("ingest: drop answer without poll or user")
		return
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	err := c.registry.Handle(ctx, poll.Answer{
		PollID:      p.PollID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Option:      p.Option,
		ReceivedAt:  p.ReceivedAt,
	})
	if err != nil {
		slog.Error("ingest: handle answer failed",
			"poll_id", p.PollID, "user_id", p.UserID, "error", err)
	}
}

type joinPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (c *Consumer) handleJoin(data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Error("ingest: drop malformed join", "error", err)
		return
	}
	if p.RoomID == "" || p.UserID == "" {
		slog.Error("ingest: drop join without room or user")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := c.joiner.Join(ctx, p.RoomID, p.UserID, p.DisplayName); err != nil {
		// Joins race the countdown; rejections here are ordinary.
		slog.Info("ingest: join rejected",
			"room", p.RoomID, "user_id", p.UserID, "error", err)
	}
}
