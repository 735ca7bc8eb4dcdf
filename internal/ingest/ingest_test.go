package ingest

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

func TestConsumer_AnswerReachesSession(t *testing.T) {
	t.Parallel()

	store, registry := makeDeps(t)
	opened := time.Now()
	registry.Register(&poll.OpenPoll{
		PollID:        "p1",
		RoomID:        "room-1",
		CorrectOption: 2,
		OpenedAt:      opened,
		TimeLimit:     20 * time.Second,
		SpeedBonus:    true,
	})

	c := NewConsumer(Config{Registry: registry, Joiner: joinFunc(nil)})
	c.handleAnswer([]byte(`{"poll_id":"p1","user_id":"u1","display_name":"Alice","option":2}`))

	got, err := store.Get(context.Background(), "room-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Participants["u1"].CorrectCount)
	require.Greater(t, got.Participants["u1"].Score, 0)
}

func TestConsumer_MalformedPayloadsDropped(t *testing.T) {
	t.Parallel()

	store, registry := makeDeps(t)

	var joined int
	c := NewConsumer(Config{
		Registry: registry,
		Joiner: joinFunc(func(context.Context, string, string, string) error {
			joined++
			return nil
		}),
	})

	c.handleAnswer([]byte(`{not json`))
	c.handleAnswer([]byte(`{"user_id":"u1","option":1}`))
	c.handleJoin([]byte(`{not json`))
	c.handleJoin([]byte(`{"user_id":"u1"}`))

	require.Zero(t, joined)
	got, err := store.Get(context.Background(), "room-1")
	require.NoError(t, err)
	require.Empty(t, got.Participants)
}

func TestConsumer_JoinRouted(t *testing.T) {
	t.Parallel()

	_, registry := makeDeps(t)

	type join struct{ room, user, name string }
	var got []join
	c := NewConsumer(Config{
		Registry: registry,
		Joiner: joinFunc(func(_ context.Context, room, user, name string) error {
			got = append(got, join{room, user, name})
			return nil
		}),
	})

	c.handleJoin([]byte(`{"room_id":"room-1","user_id":"u1","display_name":"Alice"}`))

	require.Equal(t, []join{{"room-1", "u1", "Alice"}}, got)
}

type joinFunc func(ctx context.Context, room, userID, name string) error

func (f joinFunc) Join(ctx context.Context, room, userID, name string) error {
	if f == nil {
		return nil
	}
	return f(ctx, room, userID, name)
}

func makeDeps(t *testing.T) (*session.Store, *poll.Registry) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	store := session.NewStore(session.Config{Redis: rdb, Prefix: "quizplay"})
	registry := poll.NewRegistry(poll.Config{Store: store, EventBus: bus})

	// The registry only persists scores for sessions that exist.
	require.NoError(t, store.Create(context.Background(), &domain.Session{
		RoomID:    "room-1",
		State:     domain.StateRunning,
		TimeLimit: 20 * time.Second,
	}))

	return store, registry
}
