package poll_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/poll"
	"github.com/suryapaul01/quizplay-robot/internal/session"
)

func TestRegistry_RoutesAnswerToSession(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))

	err := f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     2,
		ReceivedAt: opened.Add(time.Second),
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 15, got.Participants["u1"].Score)
	require.Equal(t, 1, got.Participants["u1"].CorrectCount)
}

func TestRegistry_DuplicateAnswerCountsOnce(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))

	a := poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     2,
		ReceivedAt: opened.Add(time.Second),
	}
	require.NoError(t, f.registry.Handle(ctx, a))
	require.NoError(t, f.registry.Handle(ctx, a))
	require.NoError(t, f.registry.Handle(ctx, a))

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 15, got.Participants["u1"].Score)
	require.Equal(t, 1, got.Participants["u1"].CorrectCount)
}

func TestRegistry_UnknownPollChangesNothing(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	err := f.registry.Handle(ctx, poll.Answer{
		PollID:     "ghost",
		UserID:     "u1",
		Option:     0,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

func TestRegistry_LateAnswerAfterDeregisterIsDropped(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))
	f.registry.Deregister("p1")
	f.registry.Deregister("p1") // idempotent

	err := f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     2,
		ReceivedAt: opened.Add(time.Second),
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

func TestRegistry_WrongAnswerScoresZero(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))

	err := f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     0,
		ReceivedAt: opened.Add(time.Second),
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Zero(t, got.Participants["u1"].Score)
}

func TestRegistry_PublishesScoreUpdated(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	var got []domain.EventScoreUpdated
	done := make(chan struct{})
	f.bus.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		got = append(got, e.(domain.EventScoreUpdated))
		close(done)
		return nil
	})

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))

	require.NoError(t, f.registry.Handle(ctx, poll.Answer{
		PollID:      "p1",
		UserID:      "u1",
		DisplayName: "Alice",
		Option:      2,
		ReceivedAt:  opened.Add(time.Second),
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no score.updated event published")
	}

	require.Len(t, got, 1)
	require.Equal(t, "room-1", got[0].RoomID)
	require.Equal(t, 15, got[0].Points)
	require.True(t, got[0].Correct)
}

func TestRegistry_SoloResultSignal(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	p := &poll.OpenPoll{
		PollID:        "p1",
		RoomID:        "solo:u1",
		CorrectOption: 1,
		OpenedAt:      opened,
		TimeLimit:     20 * time.Second,
		SpeedBonus:    true,
		Solo:          true,
		SoloUserID:    "u1",
	}
	f.registry.Register(p)

	// Another user's answer to a solo poll is ignored.
	require.NoError(t, f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "intruder",
		Option:     1,
		ReceivedAt: opened.Add(time.Second),
	}))

	require.NoError(t, f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     1,
		ReceivedAt: opened.Add(time.Second),
	}))

	select {
	case res := <-p.Result():
		require.True(t, res.Correct)
		require.Equal(t, 15, res.Points)
	default:
		t.Fatal("expected a solo result")
	}

	// No session store writes happen for solo polls.
	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

func TestRegistry_NewPollEvictsRoomsPreviousPoll(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	ctx := context.Background()

	opened := time.Now()
	f.registry.Register(groupPoll("p1", "room-1", opened))
	f.registry.Register(groupPoll("p2", "room-1", opened))

	// The evicted poll no longer accepts answers.
	require.NoError(t, f.registry.Handle(ctx, poll.Answer{
		PollID:     "p1",
		UserID:     "u1",
		Option:     2,
		ReceivedAt: opened.Add(time.Second),
	}))

	got, err := f.store.Get(ctx, "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

type fixture struct {
	store    *session.Store
	registry *poll.Registry
	bus      *event.Bus
}

func makeFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	store := session.NewStore(session.Config{Redis: rc, Prefix: "test"})
	require.NoError(t, store.Create(ctx, &domain.Session{
		RoomID:  "room-1",
		QuizRef: "quiz-1",
		State:   domain.StateRunning,
	}))

	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	return &fixture{
		store: store,
		bus:   bus,
		registry: poll.NewRegistry(poll.Config{
			Store:    store,
			EventBus: bus,
		}),
	}
}

func groupPoll(id, room string, opened time.Time) *poll.OpenPoll {
	return &poll.OpenPoll{
		PollID:        id,
		RoomID:        room,
		QuestionIndex: 0,
		CorrectOption: 2,
		OpenedAt:      opened,
		TimeLimit:     20 * time.Second,
		SpeedBonus:    true,
	}
}
