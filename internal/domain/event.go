package domain

const (
	EventNameScoreUpdated    = "score.updated"
	EventNameSessionFinished = "session.finished"
)

// EventScoreUpdated is published every time an answer earns points.
type EventScoreUpdated struct {
	RoomID      string
	UserID      string
	DisplayName string
	Points      int
	Correct     bool
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventSessionFinished is published once when a session completes normally,
// carrying the final ranking in rank order.
type EventSessionFinished struct {
	Session Session
	Rows    []LeaderboardRow
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }
