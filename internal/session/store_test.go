package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/session"
)

func TestStore_CreateEnforcesOnePerRoom(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	first := lobbySession("room-1", "quiz-1", "starter")
	require.NoError(t, s.Create(ctx, first))

	second := lobbySession("room-1", "quiz-2", "someone-else")
	err := s.Create(ctx, second)
	require.True(t, errors.IsCode(err, errors.CodeAlreadyExists))

	// The first session is untouched.
	got, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, "quiz-1", got.QuizRef)
	require.Equal(t, "starter", got.StartedBy)
}

func TestStore_GetUnknownRoom(t *testing.T) {
	t.Parallel()

	s := makeStore(t)

	_, err := s.Get(context.Background(), "nope")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStore_RosterAndScores(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-1", "starter")))

	require.NoError(t, s.AddParticipant(ctx, "room-1", "u1", "Alice"))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u2", "Bob"))
	// Re-joining keeps the original name and order.
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u1", "Alice again"))

	require.NoError(t, s.AddPoints(ctx, "room-1", "u2", 13, true))
	require.NoError(t, s.AddPoints(ctx, "room-1", "u1", 5, true))
	require.NoError(t, s.AddPoints(ctx, "room-1", "u1", 8, true))

	got, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, got.Participants, 2)

	require.Equal(t, "Alice", got.Participants["u1"].DisplayName)
	require.Equal(t, 13, got.Participants["u1"].Score)
	require.Equal(t, 2, got.Participants["u1"].CorrectCount)
	require.Equal(t, 13, got.Participants["u2"].Score)
	require.Equal(t, 1, got.Participants["u2"].CorrectCount)

	// u2 reached 13 first, so the tie goes to u2.
	ranked := got.Ranked()
	require.Equal(t, "u2", ranked[0].UserID)
	require.Equal(t, "u1", ranked[1].UserID)
}

func TestStore_RankedNeverScoredSortsLast(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-1", "starter")))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u1", "Alice"))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u2", "Bob"))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u3", "Carol"))

	require.NoError(t, s.AddPoints(ctx, "room-1", "u3", 5, true))

	got, err := s.Get(ctx, "room-1")
	require.NoError(t, err)

	ranked := got.Ranked()
	require.Equal(t, "u3", ranked[0].UserID)
	// Non-scorers keep join order.
	require.Equal(t, "u1", ranked[1].UserID)
	require.Equal(t, "u2", ranked[2].UserID)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-1", "starter")))
	require.NoError(t, s.Delete(ctx, "room-1"))
	require.NoError(t, s.Delete(ctx, "room-1"))

	_, err := s.Get(ctx, "room-1")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))

	// Deleting frees the room for a new session.
	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-2", "starter")))
}

func TestStore_PutUpdatesHeadOnly(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	ss := lobbySession("room-1", "quiz-1", "starter")
	require.NoError(t, s.Create(ctx, ss))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u1", "Alice"))

	ss.State = domain.StateRunning
	ss.CurrentQuestion = 2
	ss.CurrentPollID = "poll-3"
	require.NoError(t, s.Put(ctx, ss))

	got, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateRunning, got.State)
	require.Equal(t, 2, got.CurrentQuestion)
	require.Equal(t, "poll-3", got.CurrentPollID)
	require.Equal(t, "Alice", got.Participants["u1"].DisplayName)
}

func TestStore_PutAfterDeleteDoesNotResurrect(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-1", "starter")))

	// A run task holds a snapshot while the session is stopped under it.
	snapshot, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "room-1"))

	snapshot.State = domain.StateRunning
	err = s.Put(ctx, snapshot)
	require.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = s.Get(ctx, "room-1")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStore_RosterWritesAfterDeleteRefused(t *testing.T) {
	t.Parallel()

	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-1", "starter")))
	require.NoError(t, s.AddParticipant(ctx, "room-1", "u1", "Alice"))
	require.NoError(t, s.Delete(ctx, "room-1"))

	err := s.AddPoints(ctx, "room-1", "u1", 15, true)
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
	err = s.AddParticipant(ctx, "room-1", "u2", "Bob")
	require.True(t, errors.IsCode(err, errors.CodeNotFound))

	// The next session in the room starts with a clean roster.
	require.NoError(t, s.Create(ctx, lobbySession("room-1", "quiz-2", "starter")))
	got, err := s.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

func makeStore(t *testing.T) *session.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return session.NewStore(session.Config{
		Redis:  rc,
		Prefix: "test",
	})
}

func lobbySession(room, quiz, starter string) *domain.Session {
	return &domain.Session{
		RoomID:        room,
		QuizRef:       quiz,
		State:         domain.StateLobby,
		QuestionCount: 3,
		TimeLimit:     20 * time.Second,
		SpeedBonus:    true,
		StartedBy:     starter,
		StartedAt:     time.Now().UTC(),
	}
}
