package engagement

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
)

// Weights for the composite dependency score. Product-tuned constants, not
// derived values; consistency counts heaviest on purpose.
const (
	curiosityWeight   = 0.3
	consistencyWeight = 0.4
	depthWeight       = 0.3
)

// Scores holds the bounded [0,100] sub-scores and their weighted composite.
type Scores struct {
	Curiosity   float64
	Consistency float64
	Depth       float64
	Dependency  float64
}

// computeScores derives the engagement scores from the interaction events
// inside the scoring window. All sub-scores are clamped to [0,100], so the
// composite is bounded by construction.
func computeScores(events []models.InteractionEvent, cfg config.EngagementConfig) Scores {
	curiosity := clampScore(float64(distinctTopics(events)) * cfg.CuriosityPerTopic)
	consistency := clampScore(float64(activeDays(events)) / float64(cfg.WindowDays) * 100)
	depth := clampScore(depthScore(events, cfg.DepthScale))
	dependency := round2(curiosityWeight*curiosity + consistencyWeight*consistency + depthWeight*depth)

	return Scores{
		Curiosity:   round2(curiosity),
		Consistency: round2(consistency),
		Depth:       round2(depth),
		Dependency:  dependency,
	}
}

func distinctTopics(events []models.InteractionEvent) int {
	topics := map[string]struct{}{}
	for i := range events {
		topics[events[i].Topic] = struct{}{}
	}
	return len(topics)
}

func activeDays(events []models.InteractionEvent) int {
	days := map[string]struct{}{}
	for i := range events {
		days[events[i].OccurredAt.UTC().Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}

// depthScore measures how substantial sessions are: the average exchange count
// per session blended with the average session span. The exponential gives
// diminishing returns, so one marathon session cannot saturate the score.
func depthScore(events []models.InteractionEvent, scale float64) float64 {
	if len(events) == 0 || scale <= 0 {
		return 0
	}

	type sessionSpan struct {
		count int
		first time.Time
		last  time.Time
	}
	sessions := map[uuid.UUID]*sessionSpan{}
	for i := range events {
		span, ok := sessions[events[i].SessionID]
		if !ok {
			sessions[events[i].SessionID] = &sessionSpan{
				count: 1,
				first: events[i].OccurredAt,
				last:  events[i].OccurredAt,
			}
			continue
		}
		span.count++
		if events[i].OccurredAt.Before(span.first) {
			span.first = events[i].OccurredAt
		}
		if events[i].OccurredAt.After(span.last) {
			span.last = events[i].OccurredAt
		}
	}

	var totalEvents int
	var totalSpanMinutes float64
	for _, span := range sessions {
		totalEvents += span.count
		totalSpanMinutes += span.last.Sub(span.first).Minutes()
	}
	n := float64(len(sessions))
	avgEvents := float64(totalEvents) / n
	avgSpanMinutes := totalSpanMinutes / n

	// Ten minutes of session span weighs like one extra exchange.
	x := (avgEvents + avgSpanMinutes/10) / 2
	return 100 * (1 - math.Exp(-x/scale))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// sortEventsByOccurrence orders events oldest first; scoring itself is
// order-independent but tests and rollups read better deterministic.
func sortEventsByOccurrence(events []models.InteractionEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
