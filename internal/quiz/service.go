// Package quiz reads externally authored quiz content. Authoring and bulk
// import live elsewhere; this service only fetches a quiz head and its
// ordered questions at session start.
package quiz

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// GetQuiz returns the quiz head for a reference, or NotFound.
func (s *Service) GetQuiz(ctx context.Context, ref string) (*domain.Quiz, error) {
	const stmt = `
SELECT quiz_ref, name, speed_bonus, time_limit
FROM quizzes
WHERE quiz_ref = $1;`

	var (
		q            domain.Quiz
		timeLimitSec int
	)
	err := s.db.QueryRow(ctx, stmt, ref).Scan(&q.Ref, &q.Name, &q.SpeedBonus, &timeLimitSec)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: ref=%s", ref))
	}
	if err != nil {
		return nil, fmt.Errorf("quiz: get: %w", err)
	}

	q.TimeLimit = time.Duration(timeLimitSec) * time.Second
	return &q, nil
}

// GetQuestions returns the quiz's questions in play order.
func (s *Service) GetQuestions(ctx context.Context, ref string) ([]domain.Question, error) {
	const stmt = `
SELECT question_text, options, correct_option
FROM questions
WHERE quiz_ref = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, ref)
	if err != nil {
		return nil, fmt.Errorf("quiz: list questions: %w", err)
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.Text, &q.Options, &q.CorrectOption); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("quiz: collect questions: %w", err)
	}

	return questions, nil
}
