// Package poll tracks the polls currently open for answers and routes
// inbound answer events to them. The registry is the single source of truth
// for poll liveness: an answer for a poll that is not registered is stale and
// dropped without a trace.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/score"
	"github.com/suryapaul01/quizplay-robot/internal/session"
)

// Answer is one inbound answer event from the platform stream.
type Answer struct {
	PollID      string
	UserID      string
	DisplayName string
	Option      int
	ReceivedAt  time.Time
}

// SoloResult is handed to the solo runner waiting on its single player.
type SoloResult struct {
	Correct bool
	Points  int
}

// OpenPoll is the in-memory record of one timed poll. Its lifetime is
// bounded by one question's answer window.
type OpenPoll struct {
	PollID        string
	RoomID        string
	QuestionIndex int
	CorrectOption int
	OpenedAt      time.Time
	TimeLimit     time.Duration
	SpeedBonus    bool

	// Solo polls belong to a single player; their result is delivered on
	// Result instead of the session store.
	Solo       bool
	SoloUserID string

	answered map[string]bool
	result   chan SoloResult
}

// Result is the solo completion signal. It fires at most once.
func (p *OpenPoll) Result() <-chan SoloResult { return p.result }

type Config struct {
	Store    *session.Store
	EventBus *event.Bus
}

// Registry is the global open-poll map, shared by all rooms and solo
// sessions. Lookups and answer handling are O(1) per event.
type Registry struct {
	store *session.Store
	eb    *event.Bus

	mu     sync.Mutex
	polls  map[string]*OpenPoll
	byRoom map[string]string
}

func NewRegistry(c Config) *Registry {
	return &Registry{
		store:  c.Store,
		eb:     c.EventBus,
		polls:  make(map[string]*OpenPoll),
		byRoom: make(map[string]string),
	}
}

// Register opens the poll for answers. A room holds at most one open poll:
// registering a new one for the same room evicts the previous entry.
func (r *Registry) Register(p *OpenPoll) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byRoom[p.RoomID]; ok {
		delete(r.polls, prev)
	}

	p.answered = make(map[string]bool)
	p.result = make(chan SoloResult, 1)
	r.polls[p.PollID] = p
	r.byRoom[p.RoomID] = p.PollID
}

// Deregister closes the poll. It is idempotent; answers arriving for the
// poll id afterwards are stale and ignored.
func (r *Registry) Deregister(pollID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.polls[pollID]
	if !ok {
		return
	}

	delete(r.polls, pollID)
	if r.byRoom[p.RoomID] == pollID {
		delete(r.byRoom, p.RoomID)
	}
}

// IsOpen reports whether the poll is still accepting answers.
func (r *Registry) IsOpen(pollID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.polls[pollID]
	return ok
}

// Handle routes one answer event. Stale events (unknown poll) and duplicate
// answers from the same user are dropped silently; they are expected traffic,
// not errors.
func (r *Registry) Handle(ctx context.Context, a Answer) error {
	r.mu.Lock()
	p, ok := r.polls[a.PollID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if p.Solo && a.UserID != p.SoloUserID {
		r.mu.Unlock()
		return nil
	}
	if p.answered[a.UserID] {
		r.mu.Unlock()
		return nil
	}
	p.answered[a.UserID] = true
	r.mu.Unlock()

	responseTime := a.ReceivedAt.Sub(p.OpenedAt)
	correct := a.Option == p.CorrectOption
	points := score.Points(correct, responseTime, p.TimeLimit, p.SpeedBonus)

	if p.Solo {
		select {
		case p.result <- SoloResult{Correct: correct, Points: points}:
		default:
		}
		return nil
	}

	if points == 0 {
		return nil
	}

	// A NotFound here means the session was stopped while the poll window
	// was still open. The answer is stale now, drop it like any other.
	if err := r.store.AddPoints(ctx, p.RoomID, a.UserID, points, correct); err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil
		}
		return err
	}

	r.eb.Publish(ctx, domain.EventScoreUpdated{
		RoomID:      p.RoomID,
		UserID:      a.UserID,
		DisplayName: a.DisplayName,
		Points:      points,
		Correct:     correct,
	})

	return nil
}
