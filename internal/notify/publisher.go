// Package notify bridges the quiz engine to the chat platform over redis
// pub/sub. Every room has one channel; the platform side renders polls,
// lobby messages and plain text from the published notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

const (
	eventPollOpened = "poll.opened"
	eventLobbyState = "lobby.state"
	eventMessage    = "message"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Publisher struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPublisher(c Config) *Publisher {
	return &Publisher{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Poll struct {
		PollID        string   `json:"poll_id"`
		QuestionText  string   `json:"question_text"`
		Options       []string `json:"options"`
		CorrectOption int      `json:"correct_option"`
		TimeLimitSec  int      `json:"time_limit_sec"`
	}

	Lobby struct {
		QuizName      string `json:"quiz_name"`
		QuestionCount int    `json:"question_count"`
		TimeLimitSec  int    `json:"time_limit_sec"`
		SpeedBonus    bool   `json:"speed_bonus"`
		RemainingSec  int    `json:"remaining_sec"`
	}

	Message struct {
		Text string `json:"text"`
	}
)

// OpenPoll publishes a timed poll to the room's channel and returns the
// opaque poll id answers will reference.
func (p *Publisher) OpenPoll(ctx context.Context, room string, spec domain.PollSpec) (string, error) {
	pollID := uuid.NewString()

	err := p.publish(ctx, room, eventPollOpened, Poll{
		PollID:        pollID,
		QuestionText:  spec.QuestionText,
		Options:       spec.Options,
		CorrectOption: spec.CorrectOption,
		TimeLimitSec:  int(spec.TimeLimit.Seconds()),
	})
	if err != nil {
		return "", err
	}

	return pollID, nil
}

// PublishLobbyState pushes the current countdown state for the room.
func (p *Publisher) PublishLobbyState(ctx context.Context, room string, state domain.LobbyState) error {
	return p.publish(ctx, room, eventLobbyState, Lobby{
		QuizName:      state.QuizName,
		QuestionCount: state.QuestionCount,
		TimeLimitSec:  int(state.TimeLimit.Seconds()),
		SpeedBonus:    state.SpeedBonus,
		RemainingSec:  int(state.Remaining.Seconds()),
	})
}

// SendMessage publishes a plain text notice to the room.
func (p *Publisher) SendMessage(ctx context.Context, room, text string) error {
	return p.publish(ctx, room, eventMessage, Message{Text: text})
}

func (p *Publisher) publish(ctx context.Context, room, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %v", event, err)
	}

	return p.redis.Publish(ctx, fmt.Sprintf("%s:room:%s", p.prefix, room), b).Err()
}
