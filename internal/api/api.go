package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/errors"
	"github.com/suryapaul01/quizplay-robot/internal/event"
	"github.com/suryapaul01/quizplay-robot/internal/game"
	"github.com/suryapaul01/quizplay-robot/internal/leaderboard"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Game         *game.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	game *game.Service
	ls   *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		game:   c.Game,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Router.Group("/v1")
	v1.POST("/rooms/:room/quiz", a.StartQuiz)
	v1.DELETE("/rooms/:room/quiz", a.StopQuiz)
	v1.POST("/rooms/:room/players", a.JoinQuiz)
	v1.GET("/rooms/:room/session", a.GetSession)
	v1.GET("/rooms/:room/leaderboard", a.GetLeaderboard)
	v1.GET("/rooms/:room/stats", a.GetStats)
	v1.POST("/solo", a.StartSolo)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishScoreUpdated(ctx, e.(domain.EventScoreUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
	})

	return a
}

type StartQuizRequest struct {
	QuizRef   string `json:"quiz_ref" binding:"required"`
	StartedBy string `json:"started_by" binding:"required"`
}

func (a *API) StartQuiz(c *gin.Context) {
	var req StartQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.game.Start(c.Request.Context(), game.StartRequest{
		RoomID:    c.Param("room"),
		QuizRef:   req.QuizRef,
		StartedBy: req.StartedBy,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type StopQuizRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
}

func (a *API) StopQuiz(c *gin.Context) {
	var req StopQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.game.Stop(c.Request.Context(), game.StopRequest{
		RoomID:      c.Param("room"),
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type JoinQuizRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

func (a *API) JoinQuiz(c *gin.Context) {
	var req JoinQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.game.Join(c.Request.Context(), c.Param("room"), req.UserID, req.DisplayName)
	if err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type StartSoloRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	QuizRef     string `json:"quiz_ref" binding:"required"`
}

func (a *API) StartSolo(c *gin.Context) {
	var req StartSoloRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.game.StartSolo(c.Request.Context(), game.SoloRequest{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		QuizRef:     req.QuizRef,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type (
	SessionResponse struct {
		RoomID          string        `json:"room_id"`
		QuizRef         string        `json:"quiz_ref"`
		State           string        `json:"state"`
		CurrentQuestion int           `json:"current_question"`
		QuestionCount   int           `json:"question_count"`
		TimeLimitSec    int           `json:"time_limit_sec"`
		SpeedBonus      bool          `json:"speed_bonus"`
		StartedBy       string        `json:"started_by"`
		StartedAt       time.Time     `json:"started_at"`
		Players         []PlayerScore `json:"players"`
	}

	PlayerScore struct {
		UserID       string `json:"user_id"`
		DisplayName  string `json:"display_name"`
		Score        int    `json:"score"`
		CorrectCount int    `json:"correct_count"`
	}
)

func (a *API) GetSession(c *gin.Context) {
	ss, err := a.game.Session(c.Request.Context(), c.Param("room"))
	if err != nil {
		renderError(c, err)
		return
	}

	resp := SessionResponse{
		RoomID:          ss.RoomID,
		QuizRef:         ss.QuizRef,
		State:           string(ss.State),
		CurrentQuestion: ss.CurrentQuestion,
		QuestionCount:   ss.QuestionCount,
		TimeLimitSec:    int(ss.TimeLimit.Seconds()),
		SpeedBonus:      ss.SpeedBonus,
		StartedBy:       ss.StartedBy,
		StartedAt:       ss.StartedAt,
		Players:         make([]PlayerScore, 0, len(ss.Participants)),
	}

	for _, p := range ss.Ranked() {
		resp.Players = append(resp.Players, PlayerScore{
			UserID:       p.UserID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			CorrectCount: p.CorrectCount,
		})
	}

	c.JSON(http.StatusOK, resp)
}

type (
	LeaderboardResponse struct {
		RoomID  string             `json:"room_id"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		TotalScore  int    `json:"total_score"`
	}
)

func (a *API) GetLeaderboard(c *gin.Context) {
	room := c.Param("room")

	standings, err := a.ls.RoomLeaderboard(c.Request.Context(), leaderboard.RoomLeaderboardRequest{
		RoomID: room,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	resp := LeaderboardResponse{
		RoomID:  room,
		Entries: make([]LeaderboardEntry, 0, len(standings)),
	}
	for _, s := range standings {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			TotalScore:  s.TotalScore,
		})
	}

	c.JSON(http.StatusOK, resp)
}

type (
	StatsResponse struct {
		RoomID  string        `json:"room_id"`
		Players []PlayerStats `json:"players"`
	}

	PlayerStats struct {
		UserID         string `json:"user_id"`
		DisplayName    string `json:"display_name"`
		GamesPlayed    int    `json:"games_played"`
		TotalScore     int    `json:"total_score"`
		CorrectAnswers int    `json:"correct_answers"`
		QuestionsSeen  int    `json:"questions_seen"`
		AccuracyPct    string `json:"accuracy_pct"`
	}
)

func (a *API) GetStats(c *gin.Context) {
	room := c.Param("room")

	stats, err := a.ls.RoomStats(c.Request.Context(), leaderboard.RoomStatsRequest{
		RoomID: room,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	resp := StatsResponse{
		RoomID:  room,
		Players: make([]PlayerStats, 0, len(stats)),
	}
	for _, s := range stats {
		resp.Players = append(resp.Players, PlayerStats{
			UserID:         s.UserID,
			DisplayName:    s.DisplayName,
			GamesPlayed:    s.GamesPlayed,
			TotalScore:     s.TotalScore,
			CorrectAnswers: s.CorrectAnswers,
			QuestionsSeen:  s.QuestionsSeen,
			AccuracyPct:    s.Accuracy.String(),
		})
	}

	c.JSON(http.StatusOK, resp)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), errorResponse{
		Code:    e.Code.String(),
		Message: e.Message,
	})
}
