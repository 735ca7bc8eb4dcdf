package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/suryapaul01/quizplay-robot/internal/api"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/game"
	"github.com/suryapaul01/quizplay-robot/internal/ingest"
	"github.com/suryapaul01/quizplay-robot/internal/leaderboard"
	"github.com/suryapaul01/quizplay-robot/internal/notify"
	"github.com/suryapaul01/quizplay-robot/internal/poll"
	"github.com/suryapaul01/quizplay-robot/internal/quiz"
	"github.com/suryapaul01/quizplay-robot/internal/session"
	"github.com/suryapaul01/quizplay-robot/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Session struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Content struct {
			Addr string
			User string
			Pass string
			Name string
		}

		Leaderboard struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	NATS struct {
		URL           string
		SubjectPrefix string
	}

	Game struct {
		Admins       []string
		CountdownSec int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			session redis.UniversalClient
			pubsub  redis.UniversalClient
		}

		postgres struct {
			content     *pgxpool.Pool
			leaderboard *pgxpool.Pool
		}

		nats *nats.Conn
	}

	service struct {
		store       *session.Store
		registry    *poll.Registry
		quiz        *quiz.Service
		leaderboard *leaderboard.Service
		notify      *notify.Publisher
		game        *game.Service
		ingest      *ingest.Consumer
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	telemetry.ObserveBus(s.eb)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	nc, err := ingest.Connect(s.c.NATS.URL)
	if err != nil {
		return err
	}
	s.infra.nats = nc

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.session, err = connect(s.c.Redis.Session.Addrs, s.c.Redis.Session.Pass)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.content, err = connect(s.c.Postgres.Content.Addr, s.c.Postgres.Content.User, s.c.Postgres.Content.Pass, s.c.Postgres.Content.Name)
	if err != nil {
		return fmt.Errorf("content: %w", err)
	}

	s.infra.postgres.leaderboard, err = connect(s.c.Postgres.Leaderboard.Addr, s.c.Postgres.Leaderboard.User, s.c.Postgres.Leaderboard.Pass, s.c.Postgres.Leaderboard.Name)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.store = session.NewStore(session.Config{
		Redis:  s.infra.redis.session,
		Prefix: s.c.Redis.Session.Prefix,
	})

	s.service.registry = poll.NewRegistry(poll.Config{
		Store:    s.service.store,
		EventBus: s.eb,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		DB: s.infra.postgres.content,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.leaderboard,
		Redis:    s.infra.redis.session,
		Prefix:   s.c.Redis.Session.Prefix,
	})

	s.service.notify = notify.NewPublisher(notify.Config{
		Redis:  s.infra.redis.pubsub,
		Prefix: s.c.Redis.Pubsub.Prefix,
	})

	s.service.game = game.NewService(game.Config{
		Store:       s.service.store,
		Registry:    s.service.registry,
		Content:     s.service.quiz,
		Broadcaster: s.service.notify,
		Authority:   game.AdminList(s.c.Game.Admins),
		EventBus:    s.eb,
		Countdown:   time.Duration(s.c.Game.CountdownSec) * time.Second,
	})

	s.service.ingest = ingest.NewConsumer(ingest.Config{
		Conn:          s.infra.nats,
		Registry:      s.service.registry,
		Joiner:        s.service.game,
		SubjectPrefix: s.c.NATS.SubjectPrefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Game:         s.service.game,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: consuming answers on %q subjects", s.c.NATS.SubjectPrefix))
		return s.service.ingest.Start()
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop ingesting first so no new answers or joins race the teardown,
	// then wind down the live session tasks.
	s.service.ingest.Stop()
	s.service.game.Shutdown()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.nats.Close()
	s.infra.postgres.content.Close()
	s.infra.postgres.leaderboard.Close()
	if err := s.infra.redis.session.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close session redis failed", "error", err)
	}
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close pubsub redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
