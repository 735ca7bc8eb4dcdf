// Package session persists active quiz sessions in redis, one per room.
// The store is the single source of truth for session existence, roster and
// scores: the run engine, the answer router and the HTTP API all read and
// write through it, so there is no second in-memory view to diverge.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// meta is the serialized session head. Participants live in a separate hash
// so per-answer score updates stay single-key atomic increments.
type meta struct {
	RoomID          string              `json:"room_id"`
	QuizRef         string              `json:"quiz_ref"`
	State           domain.SessionState `json:"state"`
	CurrentQuestion int                 `json:"current_question"`
	CurrentPollID   string              `json:"current_poll_id"`
	QuestionCount   int                 `json:"question_count"`
	TimeLimitSec    int                 `json:"time_limit_sec"`
	SpeedBonus      bool                `json:"speed_bonus"`
	StartedBy       string              `json:"started_by"`
	StartedAt       time.Time           `json:"started_at"`
}

// Create persists a new session. It fails with AlreadyExists when the room
// already has one; the SETNX is what enforces one session per room.
func (s *Store) Create(ctx context.Context, ss *domain.Session) error {
	b, err := json.Marshal(metaOf(ss))
	if err != nil {
		return fmt.Errorf("session: marshal meta: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, s.metaKey(ss.RoomID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	if !ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("a quiz is already running: room=%s", ss.RoomID))
	}

	return nil
}

// Put overwrites the session head (state, question index, poll id). The
// roster and scores are never written through Put. The write is update-only:
// once the session has been deleted it fails with NotFound instead of
// recreating the key, so a run task racing a stop cannot resurrect the room.
func (s *Store) Put(ctx context.Context, ss *domain.Session) error {
	b, err := json.Marshal(metaOf(ss))
	if err != nil {
		return fmt.Errorf("session: marshal meta: %w", err)
	}

	ok, err := s.redis.SetXX(ctx, s.metaKey(ss.RoomID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no quiz is running: room=%s", ss.RoomID))
	}

	return nil
}

// Get returns a snapshot of the room's session, or NotFound.
func (s *Store) Get(ctx context.Context, room string) (*domain.Session, error) {
	b, err := s.redis.Get(ctx, s.metaKey(room)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no quiz is running: room=%s", room))
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	var m meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("session: unmarshal meta: %w", err)
	}

	fields, err := s.redis.HGetAll(ctx, s.playersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: get players: %w", err)
	}

	ss := &domain.Session{
		RoomID:          m.RoomID,
		QuizRef:         m.QuizRef,
		State:           m.State,
		Participants:    parsePlayers(fields),
		CurrentQuestion: m.CurrentQuestion,
		CurrentPollID:   m.CurrentPollID,
		QuestionCount:   m.QuestionCount,
		TimeLimit:       time.Duration(m.TimeLimitSec) * time.Second,
		SpeedBonus:      m.SpeedBonus,
		StartedBy:       m.StartedBy,
		StartedAt:       m.StartedAt,
	}

	return ss, nil
}

// AddParticipant enrolls a user. Enrolling twice is a no-op that keeps the
// original display name and join order.
func (s *Store) AddParticipant(ctx context.Context, room, userID, name string) error {
	if err := s.exists(ctx, room); err != nil {
		return err
	}

	seq, err := s.redis.Incr(ctx, s.seqKey(room)).Result()
	if err != nil {
		return fmt.Errorf("session: join seq: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, s.playersKey(room), field(userID, "name"), name)
		p.HSetNX(ctx, s.playersKey(room), field(userID, "joinseq"), seq)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: add participant: %w", err)
	}

	return nil
}

// AddPoints atomically adds points (and a correct answer) to a participant.
// The first time a user scores they also claim a rank sequence number, which
// later breaks score ties in favor of whoever reached the score first.
func (s *Store) AddPoints(ctx context.Context, room, userID string, points int, correct bool) error {
	if err := s.exists(ctx, room); err != nil {
		return err
	}

	seq, err := s.redis.Incr(ctx, s.seqKey(room)).Result()
	if err != nil {
		return fmt.Errorf("session: score seq: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, s.playersKey(room), field(userID, "score"), int64(points))
		if correct {
			p.HIncrBy(ctx, s.playersKey(room), field(userID, "correct"), 1)
		}
		p.HSetNX(ctx, s.playersKey(room), field(userID, "scoreseq"), seq)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: add points: %w", err)
	}

	return nil
}

// Delete removes the session and all of its keys. Deleting an absent
// session is a no-op.
func (s *Store) Delete(ctx context.Context, room string) error {
	if err := s.redis.Del(ctx, s.metaKey(room), s.playersKey(room), s.seqKey(room)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}

	return nil
}

// exists guards the roster writers: once the meta key is gone the session is
// over, and writing to the players hash would leave orphan keys for the next
// Create to inherit.
func (s *Store) exists(ctx context.Context, room string) error {
	n, err := s.redis.Exists(ctx, s.metaKey(room)).Result()
	if err != nil {
		return fmt.Errorf("session: exists: %w", err)
	}
	if n == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no quiz is running: room=%s", room))
	}

	return nil
}

func metaOf(ss *domain.Session) meta {
	return meta{
		RoomID:          ss.RoomID,
		QuizRef:         ss.QuizRef,
		State:           ss.State,
		CurrentQuestion: ss.CurrentQuestion,
		CurrentPollID:   ss.CurrentPollID,
		QuestionCount:   ss.QuestionCount,
		TimeLimitSec:    int(ss.TimeLimit / time.Second),
		SpeedBonus:      ss.SpeedBonus,
		StartedBy:       ss.StartedBy,
		StartedAt:       ss.StartedAt,
	}
}

func parsePlayers(fields map[string]string) map[string]domain.Participant {
	players := make(map[string]domain.Participant)

	for f, v := range fields {
		uid, attr, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}

		p := players[uid]
		p.UserID = uid

		switch attr {
		case "name":
			p.DisplayName = v
		case "score":
			p.Score, _ = strconv.Atoi(v)
		case "correct":
			p.CorrectCount, _ = strconv.Atoi(v)
		case "joinseq":
			p.JoinSeq, _ = strconv.ParseInt(v, 10, 64)
		case "scoreseq":
			p.ScoreSeq, _ = strconv.ParseInt(v, 10, 64)
		}

		players[uid] = p
	}

	return players
}

func field(userID, attr string) string {
	return userID + ":" + attr
}

func (s *Store) metaKey(room string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, room)
}

func (s *Store) playersKey(room string) string {
	return fmt.Sprintf("%s:session:%s:players", s.prefix, room)
}

func (s *Store) seqKey(room string) string {
	return fmt.Sprintf("%s:session:%s:seq", s.prefix, room)
}
