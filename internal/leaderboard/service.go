// Package leaderboard records final session results. Rows are append-only in
// postgres; an all-time per-room ranking is kept in a redis sorted set for
// cheap reads.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/event"
)

// DB is the slice of pgxpool.Pool this service uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	EventBus *event.Bus
	DB       DB
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	db     DB
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		db:     c.DB,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.RecordResults(ctx, e.(domain.EventSessionFinished))
	})

	return s
}

// RecordResults appends one row per participant of a finished session and
// folds the scores into the room's all-time ranking.
func (s *Service) RecordResults(ctx context.Context, e domain.EventSessionFinished) error {
	for _, row := range e.Rows {
		if err := s.appendRow(ctx, row); err != nil {
			return err
		}

		if err := s.redis.ZIncrBy(ctx, s.standingsKey(row.RoomID), float64(row.Score), row.UserID).Err(); err != nil {
			return fmt.Errorf("leaderboard: update standings: %w", err)
		}

		if err := s.redis.HSet(ctx, s.namesKey(row.RoomID), row.UserID, row.DisplayName).Err(); err != nil {
			return fmt.Errorf("leaderboard: remember name: %w", err)
		}
	}

	return nil
}

func (s *Service) appendRow(ctx context.Context, row domain.LeaderboardRow) error {
	const stmt = `
INSERT INTO leaderboard_rows
	(room_id, quiz_ref, user_id, display_name, score, correct_answers, total_questions, played_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := s.db.Exec(ctx, stmt,
		row.RoomID, row.QuizRef, row.UserID, row.DisplayName,
		row.Score, row.CorrectCount, row.TotalQuestions, row.PlayedAt,
	)
	if err != nil {
		return fmt.Errorf("leaderboard: append row: %w", err)
	}

	return nil
}

type RoomLeaderboardRequest struct {
	RoomID string
	Limit  int
}

// RoomLeaderboard returns the room's all-time standings, best first.
func (s *Service) RoomLeaderboard(ctx context.Context, req RoomLeaderboardRequest) ([]domain.RoomStanding, error) {
	limit := int64(req.Limit)
	if limit <= 0 {
		limit = 10
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.standingsKey(req.RoomID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get standings: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no scores recorded: room=%s", req.RoomID))
	}

	standings := make([]domain.RoomStanding, 0, len(res))
	for _, z := range res {
		uid := z.Member.(string)
		name, _ := s.redis.HGet(ctx, s.namesKey(req.RoomID), uid).Result()
		standings = append(standings, domain.RoomStanding{
			UserID:      uid,
			DisplayName: name,
			TotalScore:  int(z.Score),
		})
	}

	return standings, nil
}

type RoomStatsRequest struct {
	RoomID string
}

// RoomStats aggregates each player's recorded rows within a room.
func (s *Service) RoomStats(ctx context.Context, req RoomStatsRequest) ([]domain.RoomPlayerStats, error) {
	const stmt = `
SELECT user_id,
	MAX(display_name) AS display_name,
	COUNT(*) AS games,
	COALESCE(SUM(score), 0) AS total_score,
	COALESCE(SUM(correct_answers), 0) AS correct,
	COALESCE(SUM(total_questions), 0) AS seen
FROM leaderboard_rows
WHERE room_id = $1
GROUP BY user_id
ORDER BY total_score DESC;`

	rows, err := s.db.Query(ctx, stmt, req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: room stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.RoomPlayerStats, error) {
		var st domain.RoomPlayerStats
		if err := r.Scan(&st.UserID, &st.DisplayName, &st.GamesPlayed, &st.TotalScore, &st.CorrectAnswers, &st.QuestionsSeen); err != nil {
			return domain.RoomPlayerStats{}, err
		}
		if st.QuestionsSeen > 0 {
			st.Accuracy = decimal.NewFromInt(int64(st.CorrectAnswers)).
				Div(decimal.NewFromInt(int64(st.QuestionsSeen))).
				Mul(decimal.NewFromInt(100)).
				Round(1)
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: collect stats: %w", err)
	}

	return stats, nil
}

func (s *Service) standingsKey(room string) string {
	return fmt.Sprintf("%s:room:%s:standings", s.prefix, room)
}

func (s *Service) namesKey(room string) string {
	return fmt.Sprintf("%s:room:%s:names", s.prefix, room)
}
