package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	ScoreUpdate struct {
		RoomID      string `json:"room_id"`
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		Points      int    `json:"points"`
		Correct     bool   `json:"correct"`
	}

	FinalResults struct {
		RoomID  string        `json:"room_id"`
		QuizRef string        `json:"quiz_ref"`
		Rows    []FinalResult `json:"rows"`
	}

	FinalResult struct {
		Rank         int    `json:"rank"`
		UserID       string `json:"user_id"`
		DisplayName  string `json:"display_name"`
		Score        int    `json:"score"`
		CorrectCount int    `json:"correct_count"`
	}
)

// PublishScoreUpdated pushes the earned points to the scoring player's
// private channel.
func (a *API) PublishScoreUpdated(ctx context.Context, e domain.EventScoreUpdated) error {
	data := ScoreUpdate{
		RoomID:      e.RoomID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Points:      e.Points,
		Correct:     e.Correct,
	}

	return a.publishNotification(ctx, e.UserID, e.Name(), data)
}

// PublishSessionFinished fans the final ranking out to every participant's
// private channel.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	data := FinalResults{
		RoomID:  e.Session.RoomID,
		QuizRef: e.Session.QuizRef,
		Rows:    make([]FinalResult, 0, len(e.Rows)),
	}

	for i, row := range e.Rows {
		data.Rows = append(data.Rows, FinalResult{
			Rank:         i + 1,
			UserID:       row.UserID,
			DisplayName:  row.DisplayName,
			Score:        row.Score,
			CorrectCount: row.CorrectCount,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, row := range data.Rows {
		eg.Go(func() error {
			return a.publishNotification(ctx, row.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
