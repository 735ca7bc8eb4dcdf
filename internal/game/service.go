// Package game choreographs live quiz sessions: the lobby countdown, the
// question loop and the final results. Each live session runs as one
// goroutine owned by the Service; answer events reach it only through the
// session store and the poll registry.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/poll"
	"github.com/suryapaul01/quizplay-robot/internal/session"
)

const (
	defaultCountdown = 30 * time.Second
	defaultTimeLimit = 20 * time.Second

	// settleMargin keeps the window open slightly past the limit so that
	// in-flight answers still land; no participant is penalized by others
	// finishing early.
	settleMargin = 2 * time.Second

	// soloGrace bounds how long the solo runner waits past the limit for
	// its single player's answer.
	soloGrace = time.Second

	// revealDelay lets the solo player see the correct answer before the
	// next question opens.
	revealDelay = 2 * time.Second

	pacingDelay       = 2 * time.Second
	standingsInterval = 5
	standingsTop      = 5
)

// Broadcaster publishes polls and messages to the chat platform.
type Broadcaster interface {
	OpenPoll(ctx context.Context, room string, spec domain.PollSpec) (string, error)
	PublishLobbyState(ctx context.Context, room string, state domain.LobbyState) error
	SendMessage(ctx context.Context, room, text string) error
}

// Content fetches externally authored quiz content.
type Content interface {
	GetQuiz(ctx context.Context, ref string) (*domain.Quiz, error)
	GetQuestions(ctx context.Context, ref string) ([]domain.Question, error)
}

// Authority answers whether a user may administer a room.
type Authority interface {
	IsRoomAdmin(ctx context.Context, room, userID string) (bool, error)
}

// AdminList is a fixed-roster Authority: the same operators administer
// every room.
type AdminList []string

func (a AdminList) IsRoomAdmin(_ context.Context, _ string, userID string) (bool, error) {
	return slices.Contains(a, userID), nil
}

type Config struct {
	Store       *session.Store
	Registry    *poll.Registry
	Content     Content
	Broadcaster Broadcaster
	Authority   Authority
	EventBus    *event.Bus

	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// Countdown defaults to 30s.
	Countdown time.Duration
}

type Service struct {
	store     *session.Store
	registry  *poll.Registry
	content   Content
	bc        Broadcaster
	authority Authority
	eb        *event.Bus
	clock     clockwork.Clock
	countdown time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	tasks   sync.WaitGroup
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Countdown <= 0 {
		c.Countdown = defaultCountdown
	}

	return &Service{
		store:     c.Store,
		registry:  c.Registry,
		content:   c.Content,
		bc:        c.Broadcaster,
		authority: c.Authority,
		eb:        c.EventBus,
		clock:     c.Clock,
		countdown: c.Countdown,
		cancels:   make(map[string]context.CancelFunc),
	}
}

type StartRequest struct {
	RoomID    string
	QuizRef   string
	StartedBy string
}

// Start opens a lobby for the room and schedules the countdown. It fails
// with AlreadyExists while another session (lobby or running) holds the room.
func (s *Service) Start(ctx context.Context, req StartRequest) error {
	if req.RoomID == "" || req.QuizRef == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("room and quiz are required"))
	}

	quiz, err := s.content.GetQuiz(ctx, req.QuizRef)
	if err != nil {
		return err
	}

	questions, err := s.content.GetQuestions(ctx, req.QuizRef)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz has no questions: ref=%s", req.QuizRef))
	}

	timeLimit := quiz.TimeLimit
	if timeLimit <= 0 {
		timeLimit = defaultTimeLimit
	}

	ss := &domain.Session{
		RoomID:        req.RoomID,
		QuizRef:       req.QuizRef,
		State:         domain.StateLobby,
		QuestionCount: len(questions),
		TimeLimit:     timeLimit,
		SpeedBonus:    quiz.SpeedBonus,
		StartedBy:     req.StartedBy,
		StartedAt:     s.clock.Now(),
	}

	if err := s.store.Create(ctx, ss); err != nil {
		return err
	}

	if err := s.bc.PublishLobbyState(ctx, req.RoomID, lobbyState(quiz, ss, s.countdown)); err != nil {
		slog.ErrorContext(ctx, "game: publish lobby state failed",
			"room", req.RoomID, "error", err)
	}

	s.spawn(ctx, req.RoomID, func(taskCtx context.Context) {
		s.runCountdown(taskCtx, ss, quiz, questions)
	})

	return nil
}

type StopRequest struct {
	RoomID      string
	RequestedBy string
}

// Stop ends the room's session, whether it is still in the lobby or mid
// quiz. Only a room admin or the original starter may stop it.
func (s *Service) Stop(ctx context.Context, req StopRequest) error {
	ss, err := s.store.Get(ctx, req.RoomID)
	if err != nil {
		return err
	}

	if ss.StartedBy != req.RequestedBy {
		admin, err := s.authority.IsRoomAdmin(ctx, req.RoomID, req.RequestedBy)
		if err != nil {
			return fmt.Errorf("game: check admin: %w", err)
		}
		if !admin {
			return errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("only admins or the starter can stop the quiz"))
		}
	}

	s.cancelTask(req.RoomID)

	if err := s.store.Delete(ctx, req.RoomID); err != nil {
		return err
	}

	if err := s.bc.SendMessage(ctx, req.RoomID, "Quiz stopped."); err != nil {
		slog.ErrorContext(ctx, "game: send stop notice failed",
			"room", req.RoomID, "error", err)
	}

	return nil
}

// Join enrolls a user into the room's lobby. Joining after the countdown
// reached zero is rejected.
func (s *Service) Join(ctx context.Context, room, userID, name string) error {
	ss, err := s.store.Get(ctx, room)
	if err != nil {
		return err
	}

	if ss.State != domain.StateLobby {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("the quiz already started: room=%s", room))
	}

	return s.store.AddParticipant(ctx, room, userID, name)
}

// Session returns a snapshot of the room's session, or NotFound.
func (s *Service) Session(ctx context.Context, room string) (*domain.Session, error) {
	return s.store.Get(ctx, room)
}

// Shutdown cancels every live session task and waits for them to unwind.
// Sessions stay persisted; a restarted instance can stop them explicitly.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for room, cancel := range s.cancels {
		cancel()
		delete(s.cancels, room)
	}
	s.mu.Unlock()

	s.tasks.Wait()
}

// spawn runs fn as the room's single live task. The task context detaches
// from the caller but keeps its values.
func (s *Service) spawn(ctx context.Context, room string, fn func(ctx context.Context)) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.cancels[room] = cancel
	s.mu.Unlock()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer s.clearTask(room)
		fn(taskCtx)
	}()
}

func (s *Service) cancelTask(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[room]; ok {
		cancel()
		delete(s.cancels, room)
	}
}

func (s *Service) clearTask(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, room)
}

// wait suspends for d, or returns early when the task is cancelled.
func (s *Service) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lobbyState(quiz *domain.Quiz, ss *domain.Session, remaining time.Duration) domain.LobbyState {
	return domain.LobbyState{
		QuizName:      quiz.Name,
		QuestionCount: ss.QuestionCount,
		TimeLimit:     ss.TimeLimit,
		SpeedBonus:    ss.SpeedBonus,
		Remaining:     remaining,
	}
}
