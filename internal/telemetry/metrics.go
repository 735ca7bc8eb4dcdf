package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/event"
)

var (
	answersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizplay",
		Name:      "answers_scored_total",
		Help:      "Answers that earned points, by correctness.",
	}, []string{"correct"})

	sessionsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quizplay",
		Name:      "sessions_finished_total",
		Help:      "Sessions that completed their full question loop.",
	})

	finishedParticipants = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quizplay",
		Name:      "finished_session_participants",
		Help:      "Participant count of completed sessions.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})
)

// ObserveBus derives metrics from the domain events crossing the bus.
func ObserveBus(eb *event.Bus) {
	eb.Subscribe(domain.EventNameScoreUpdated, func(_ context.Context, e event.Event) error {
		ev := e.(domain.EventScoreUpdated)
		answersScored.WithLabelValues(boolLabel(ev.Correct)).Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameSessionFinished, func(_ context.Context, e event.Event) error {
		ev := e.(domain.EventSessionFinished)
		sessionsFinished.Inc()
		finishedParticipants.Observe(float64(len(ev.Rows)))
		return nil
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
