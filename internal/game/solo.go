package game

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/poll"
)

type SoloRequest struct {
	UserID      string
	DisplayName string
	QuizRef     string
}

// StartSolo runs a quiz for a single player in their own chat. There is no
// lobby; the next question opens as soon as the player answers, bounded by
// the same hard per-question timeout.
func (s *Service) StartSolo(ctx context.Context, req SoloRequest) error {
	if req.UserID == "" || req.QuizRef == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("user and quiz are required"))
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

	room := soloRoom(req.UserID)
	ss := &domain.Session{
		RoomID:        room,
		QuizRef:       req.QuizRef,
		State:         domain.StateRunning,
		QuestionCount: len(questions),
		TimeLimit:     timeLimit,
		SpeedBonus:    quiz.SpeedBonus,
		StartedBy:     req.UserID,
		StartedAt:     s.clock.Now(),
	}

	if err := s.store.Create(ctx, ss); err != nil {
		return err
	}

	s.spawn(ctx, room, func(taskCtx context.Context) {
		s.runSolo(taskCtx, ss, req.UserID, questions)
	})

	return nil
}

func (s *Service) runSolo(ctx context.Context, ss *domain.Session, userID string, questions []domain.Question) {
	var (
		total        = len(questions)
		totalScore   int
		correctCount int
	)

	for i, q := range questions {
		if _, err := s.store.Get(ctx, ss.RoomID); err != nil {
			return
		}

		pollID, err := s.bc.OpenPoll(ctx, ss.RoomID, domain.PollSpec{
			QuestionText:  fmt.Sprintf("Q%d/%d: %s", i+1, total, q.Text),
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			TimeLimit:     ss.TimeLimit,
		})
		if err != nil {
			slog.ErrorContext(ctx, "game: open solo poll failed, skipping question",
				"room", ss.RoomID, "question", i, "error", err)
			continue
		}

		p := &poll.OpenPoll{
			PollID:        pollID,
			RoomID:        ss.RoomID,
			QuestionIndex: i,
			CorrectOption: q.CorrectOption,
			OpenedAt:      s.clock.Now(),
			TimeLimit:     ss.TimeLimit,
			SpeedBonus:    ss.SpeedBonus,
			Solo:          true,
			SoloUserID:    userID,
		}
		s.registry.Register(p)

		timer := s.clock.NewTimer(ss.TimeLimit + soloGrace)
		select {
		case res := <-p.Result():
			timer.Stop()
			s.registry.Deregister(pollID)

			totalScore += res.Points
			if res.Correct {
				correctCount++
			}

			// Let the player see the correct answer before moving on.
			if err := s.wait(ctx, revealDelay); err != nil {
				return
			}
		case <-timer.Chan():
			s.registry.Deregister(pollID)
		case <-ctx.Done():
			timer.Stop()
			s.registry.Deregister(pollID)
			return
		}
	}

	summary := fmt.Sprintf("Quiz complete! Correct: %d/%d, score: %d points.",
		correctCount, total, totalScore)
	if err := s.bc.SendMessage(ctx, ss.RoomID, summary); err != nil {
		slog.ErrorContext(ctx, "game: send solo summary failed",
			"room", ss.RoomID, "error", err)
	}

	if err := s.store.Delete(ctx, ss.RoomID); err != nil {
		slog.ErrorContext(ctx, "game: delete solo session failed",
			"room", ss.RoomID, "error", err)
	}
}

func soloRoom(userID string) string {
	return "solo:" + userID
}
