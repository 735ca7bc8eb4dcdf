package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/leaderboard"
)

func TestService_RecordResults(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := makeService(t, withDB(db))

	err := s.RecordResults(context.Background(), domain.EventSessionFinished{
		Session: domain.Session{RoomID: "room-1", QuizRef: "quiz-1"},
		Rows: []domain.LeaderboardRow{
			{RoomID: "room-1", QuizRef: "quiz-1", UserID: "u1", DisplayName: "Alice", Score: 45, CorrectCount: 3, TotalQuestions: 3, PlayedAt: time.Now()},
			{RoomID: "room-1", QuizRef: "quiz-1", UserID: "u2", DisplayName: "Bob", Score: 0, CorrectCount: 0, TotalQuestions: 3, PlayedAt: time.Now()},
		},
	})
	require.NoError(t, err)

	require.Equal(t, 2, db.inserts(), "one row per participant")

	got, err := s.RoomLeaderboard(context.Background(), leaderboard.RoomLeaderboardRequest{
		RoomID: "room-1",
	})
	require.NoError(t, err)

	want := []domain.RoomStanding{
		{UserID: "u1", DisplayName: "Alice", TotalScore: 45},
		{UserID: "u2", DisplayName: "Bob", TotalScore: 0},
	}
	require.Equal(t, want, got)
}

func TestService_RecordResultsAccumulatesAcrossGames(t *testing.T) {
	t.Parallel()

	s := makeService(t, withDB(&fakeDB{}))

	for range 2 {
		err := s.RecordResults(context.Background(), domain.EventSessionFinished{
			Session: domain.Session{RoomID: "room-1", QuizRef: "quiz-1"},
			Rows: []domain.LeaderboardRow{
				{RoomID: "room-1", UserID: "u1", DisplayName: "Alice", Score: 20, TotalQuestions: 3},
			},
		})
		require.NoError(t, err)
	}

	got, err := s.RoomLeaderboard(context.Background(), leaderboard.RoomLeaderboardRequest{
		RoomID: "room-1",
	})
	require.NoError(t, err)
	require.Equal(t, 40, got[0].TotalScore)
}

func TestService_RoomLeaderboardEmptyRoom(t *testing.T) {
	t.Parallel()

	s := makeService(t, withDB(&fakeDB{}))

	_, err := s.RoomLeaderboard(context.Background(), leaderboard.RoomLeaderboardRequest{
		RoomID: "silent-room",
	})
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestService_RecordsViaSessionFinishedEvent(t *testing.T) {
	t.Parallel()

	eb := event.NewBus()
	s := makeService(t, withDB(&fakeDB{}), withEventBus(eb))

	eb.Publish(context.Background(), domain.EventSessionFinished{
		Session: domain.Session{RoomID: "room-1", QuizRef: "quiz-1"},
		Rows: []domain.LeaderboardRow{
			{RoomID: "room-1", UserID: "u1", DisplayName: "Alice", Score: 15, TotalQuestions: 1},
		},
	})
	eb.Stop()

	got, err := s.RoomLeaderboard(context.Background(), leaderboard.RoomLeaderboardRequest{
		RoomID: "room-1",
	})
	require.NoError(t, err)
	require.Equal(t, 15, got[0].TotalScore)
}

type fakeDB struct {
	mu    sync.Mutex
	execs []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeDB) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execs)
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withDB(db leaderboard.DB) options {
	return func(c *leaderboard.Config) {
		c.DB = db
	}
}
