package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
)

// countdownMarks are the absolute seconds-remaining values at which the
// lobby message is refreshed. Editing only at fixed marks bounds the
// message-edit rate no matter how long the countdown is.
var countdownMarks = []time.Duration{20 * time.Second, 10 * time.Second, 5 * time.Second}

// runCountdown ticks the lobby down and hands a finalized roster to the
// question loop. Cancellation interrupts any wait immediately and guarantees
// the hand-off never happens.
func (s *Service) runCountdown(ctx context.Context, ss *domain.Session, quiz *domain.Quiz, questions []domain.Question) {
	marks := []time.Duration{s.countdown}
	for _, m := range countdownMarks {
		if s.countdown > m {
			marks = append(marks, m)
		}
	}
	marks = append(marks, 0)

	for i := 0; i+1 < len(marks); i++ {
		if err := s.wait(ctx, marks[i]-marks[i+1]); err != nil {
			return
		}

		if next := marks[i+1]; next > 0 {
			if err := s.bc.PublishLobbyState(ctx, ss.RoomID, lobbyState(quiz, ss, next)); err != nil {
				slog.ErrorContext(ctx, "game: publish lobby state failed",
					"room", ss.RoomID, "error", err)
			}
		}
	}

	// Re-read the session: it may have been stopped while we slept.
	current, err := s.store.Get(ctx, ss.RoomID)
	if err != nil {
		return
	}

	if len(current.Participants) == 0 {
		if err := s.bc.SendMessage(ctx, ss.RoomID, "No players joined, quiz cancelled."); err != nil {
			slog.ErrorContext(ctx, "game: send cancel notice failed",
				"room", ss.RoomID, "error", err)
		}
		if err := s.store.Delete(ctx, ss.RoomID); err != nil {
			slog.ErrorContext(ctx, "game: delete empty lobby failed",
				"room", ss.RoomID, "error", err)
		}
		return
	}

	// Freeze the roster: joins are rejected from here on. A NotFound here
	// means the session was stopped between the read and the write; abort
	// quietly rather than resurrect it.
	current.State = domain.StateRunning
	if err := s.store.Put(ctx, current); err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			slog.ErrorContext(ctx, "game: mark session running failed",
				"room", ss.RoomID, "error", err)
		}
		return
	}

	notice := fmt.Sprintf("%d players joined, starting now!", len(current.Participants))
	if err := s.bc.SendMessage(ctx, ss.RoomID, notice); err != nil {
		slog.ErrorContext(ctx, "game: send start notice failed",
			"room", ss.RoomID, "error", err)
	}

	if err := s.wait(ctx, pacingDelay); err != nil {
		return
	}

	s.runQuiz(ctx, current, questions)
}
