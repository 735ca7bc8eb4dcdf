package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/poll"
)

var medals = []string{"🥇", "🥈", "🥉"}

// runQuiz plays the question loop for a group session. Questions are
// strictly sequential: the next poll never opens before the previous window
// fully closed. Every per-question failure is logged and skipped so the
// session always reaches completion.
func (s *Service) runQuiz(ctx context.Context, ss *domain.Session, questions []domain.Question) {
	total := len(questions)

	for i, q := range questions {
		// The session is the run flag: deleted externally means stop,
		// cleanly and without an error.
		current, err := s.store.Get(ctx, ss.RoomID)
		if err != nil {
			return
		}

		current.CurrentQuestion = i
		pollID, err := s.openQuestion(ctx, current, i, total, q)
		if err != nil {
			slog.ErrorContext(ctx, "game: open poll failed, skipping question",
				"room", ss.RoomID, "question", i, "error", err)
			continue
		}

		if err := s.wait(ctx, current.TimeLimit+settleMargin); err != nil {
			s.registry.Deregister(pollID)
			return
		}

		s.registry.Deregister(pollID)

		// Interim standings only when at least a full interval is left;
		// near the end the final results are moments away anyway.
		if (i+1)%standingsInterval == 0 && total-(i+1) >= standingsInterval {
			s.publishStandings(ctx, ss.RoomID)
		}
	}

	s.finish(ctx, ss.RoomID, total)
}

// openQuestion publishes the poll and registers it for answers.
func (s *Service) openQuestion(ctx context.Context, ss *domain.Session, index, total int, q domain.Question) (string, error) {
	pollID, err := s.bc.OpenPoll(ctx, ss.RoomID, domain.PollSpec{
		QuestionText:  fmt.Sprintf("Q%d/%d: %s", index+1, total, q.Text),
		Options:       q.Options,
		CorrectOption: q.CorrectOption,
		TimeLimit:     ss.TimeLimit,
	})
	if err != nil {
		return "", err
	}

	s.registry.Register(&poll.OpenPoll{
		PollID:        pollID,
		RoomID:        ss.RoomID,
		QuestionIndex: index,
		CorrectOption: q.CorrectOption,
		OpenedAt:      s.clock.Now(),
		TimeLimit:     ss.TimeLimit,
		SpeedBonus:    ss.SpeedBonus,
	})

	// Update-only write: if the session was stopped since the last read the
	// store refuses it, and the next loop iteration's Get ends the run.
	ss.CurrentPollID = pollID
	if err := s.store.Put(ctx, ss); err != nil && !errors.IsCode(err, errors.CodeNotFound) {
		slog.ErrorContext(ctx, "game: persist question progress failed",
			"room", ss.RoomID, "question", index, "error", err)
	}

	return pollID, nil
}

func (s *Service) publishStandings(ctx context.Context, room string) {
	current, err := s.store.Get(ctx, room)
	if err != nil {
		return
	}

	ranked := current.Ranked()
	if len(ranked) > standingsTop {
		ranked = ranked[:standingsTop]
	}

	var b strings.Builder
	b.WriteString("Current standings:\n")
	for i, p := range ranked {
		b.WriteString(fmt.Sprintf("%s %s - %d pts\n", rankLabel(i), displayName(p), p.Score))
	}

	if err := s.bc.SendMessage(ctx, room, b.String()); err != nil {
		slog.ErrorContext(ctx, "game: send standings failed",
			"room", room, "error", err)
	}
}

// finish computes the final ranking, hands the rows to the leaderboard via
// the bus, announces the results and retires the session.
func (s *Service) finish(ctx context.Context, room string, totalQuestions int) {
	current, err := s.store.Get(ctx, room)
	if err != nil {
		return
	}

	ranked := current.Ranked()
	playedAt := s.clock.Now()

	rows := make([]domain.LeaderboardRow, 0, len(ranked))
	for _, p := range ranked {
		rows = append(rows, domain.LeaderboardRow{
			RoomID:         room,
			QuizRef:        current.QuizRef,
			UserID:         p.UserID,
			DisplayName:    displayName(p),
			Score:          p.Score,
			CorrectCount:   p.CorrectCount,
			TotalQuestions: totalQuestions,
			PlayedAt:       playedAt,
		})
	}

	s.eb.Publish(ctx, domain.EventSessionFinished{
		Session: *current,
		Rows:    rows,
	})

	var b strings.Builder
	b.WriteString("Quiz complete! Final leaderboard:\n")
	for i, p := range ranked {
		b.WriteString(fmt.Sprintf("%s %s - %d pts (%d/%d)\n",
			rankLabel(i), displayName(p), p.Score, p.CorrectCount, totalQuestions))
	}

	if err := s.bc.SendMessage(ctx, room, b.String()); err != nil {
		slog.ErrorContext(ctx, "game: send final results failed",
			"room", room, "error", err)
	}

	if err := s.store.Delete(ctx, room); err != nil {
		slog.ErrorContext(ctx, "game: delete finished session failed",
			"room", room, "error", err)
	}
}

// displayName covers users who scored without ever joining: they have score
// fields but never claimed a name, so fall back to the user id.
func displayName(p domain.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

func rankLabel(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return fmt.Sprintf("%d.", i+1)
}
