package domain

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState tells which phase of its lifecycle a session is in.
type SessionState string

const (
	// StateLobby is the pre-game countdown phase during which players opt in.
	StateLobby SessionState = "lobby"
	// StateRunning means the question loop has started and joins are rejected.
	StateRunning SessionState = "running"
)

// Session represents one live quiz in a room. At most one session exists per
// room at any time; its presence in the store is the room's "quiz running" flag.
type Session struct {
	RoomID       string
	QuizRef      string
	State        SessionState
	Participants map[string]Participant

	CurrentQuestion int
	CurrentPollID   string

	QuestionCount int
	TimeLimit     time.Duration
	SpeedBonus    bool

	StartedBy string
	StartedAt time.Time
}

// Participant is one enrolled player and their running totals. JoinSeq and
// ScoreSeq are per-session sequence numbers recording when the player joined
// and when they first scored; ScoreSeq is 0 until the first point lands.
type Participant struct {
	UserID       string
	DisplayName  string
	Score        int
	CorrectCount int
	JoinSeq      int64
	ScoreSeq     int64
}

// Quiz is the externally authored quiz head. Content is read-only to this
// service; it is fetched once at session start.
type Quiz struct {
	Ref        string
	Name       string
	SpeedBonus bool
	TimeLimit  time.Duration
}

// Question is quiz content, owned externally and read-only to this service.
type Question struct {
	Text          string
	Options       []string
	CorrectOption int
}

// PollSpec is what the platform needs to open one timed quiz poll.
type PollSpec struct {
	QuestionText  string
	Options       []string
	CorrectOption int
	TimeLimit     time.Duration
}

// LobbyState is the pre-game message content, republished at fixed countdown
// marks.
type LobbyState struct {
	QuizName      string
	QuestionCount int
	TimeLimit     time.Duration
	SpeedBonus    bool
	Remaining     time.Duration
}

// LeaderboardRow is one participant's final result, appended once when a
// session completes.
type LeaderboardRow struct {
	RoomID         string
	QuizRef        string
	UserID         string
	DisplayName    string
	Score          int
	CorrectCount   int
	TotalQuestions int
	PlayedAt       time.Time
}

// Ranked returns the session's participants in final ranking order:
// descending score, ties broken in favor of whoever reached their score
// first, then by join order for players who never scored.
func (s *Session) Ranked() []Participant {
	ranked := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		ranked = append(ranked, p)
	}

	slices.SortStableFunc(ranked, func(a, b Participant) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		if a.ScoreSeq != b.ScoreSeq {
			// 0 means never scored and sorts last.
			if a.ScoreSeq == 0 {
				return 1
			}
			if b.ScoreSeq == 0 {
				return -1
			}
			return cmp.Compare(a.ScoreSeq, b.ScoreSeq)
		}
		return cmp.Compare(a.JoinSeq, b.JoinSeq)
	})

	return ranked
}

// RoomStanding is an aggregated all-time ranking entry for a room.
type RoomStanding struct {
	UserID      string
	DisplayName string
	TotalScore  int
}

// RoomPlayerStats aggregates one player's recorded results within a room.
type RoomPlayerStats struct {
	UserID         string
	DisplayName    string
	GamesPlayed    int
	TotalScore     int
	CorrectAnswers int
	QuestionsSeen  int
	// Accuracy is CorrectAnswers over QuestionsSeen as a percentage.
	Accuracy decimal.Decimal
}
