package engagement

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
)

func scoringConfig() config.EngagementConfig {
	return config.EngagementConfig{
		WindowDays:        30,
		CuriosityPerTopic: 4,
		DepthScale:        6,
	}
}

func event(topic string, session uuid.UUID, at time.Time) models.InteractionEvent {
	return models.InteractionEvent{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Topic:      topic,
		SessionID:  session,
		OccurredAt: at,
	}
}

func TestComputeScoresEmptyWindow(t *testing.T) {
	scores := computeScores(nil, scoringConfig())
	if scores.Curiosity != 0 || scores.Consistency != 0 || scores.Depth != 0 || scores.Dependency != 0 {
		t.Fatalf("expected zero scores for empty window, got %+v", scores)
	}
}

func TestCuriosityCountsDistinctTopics(t *testing.T) {
	base := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	session := uuid.New()
	var events []models.InteractionEvent
	for _, topic := range []string{"astronomy", "cooking", "astronomy", "poetry"} {
		events = append(events, event(topic, session, base))
	}

	scores := computeScores(events, scoringConfig())
	if scores.Curiosity != 12 {
		t.Fatalf("expected curiosity 12 for 3 distinct topics, got %v", scores.Curiosity)
	}
}

func TestCuriositySaturatesAtHundred(t *testing.T) {
	base := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	session := uuid.New()
	var events []models.InteractionEvent
	for i := 0; i < 40; i++ {
		events = append(events, event(fmt.Sprintf("topic-%d", i), session, base))
	}

	scores := computeScores(events, scoringConfig())
	if scores.Curiosity != 100 {
		t.Fatalf("expected curiosity capped at 100, got %v", scores.Curiosity)
	}
}

func TestConsistencyScalesWithActiveDays(t *testing.T) {
	base := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	session := uuid.New()
	var events []models.InteractionEvent
	for day := 0; day < 15; day++ {
		events = append(events, event("daily", session, base.AddDate(0, 0, day)))
	}

	scores := computeScores(events, scoringConfig())
	if scores.Consistency != 50 {
		t.Fatalf("expected consistency 50 for 15/30 active days, got %v", scores.Consistency)
	}
}

func TestDepthDiminishingReturns(t *testing.T) {
	base := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	session := uuid.New()

	short := []models.InteractionEvent{
		event("a", session, base),
		event("a", session, base.Add(2*time.Minute)),
	}
	long := make([]models.InteractionEvent, 0, 40)
	for i := 0; i < 40; i++ {
		long = append(long, event("a", session, base.Add(time.Duration(i)*3*time.Minute)))
	}

	shallow := computeScores(short, scoringConfig())
	deep := computeScores(long, scoringConfig())
	if deep.Depth <= shallow.Depth {
		t.Fatalf("expected longer sessions to score deeper: %v <= %v", deep.Depth, shallow.Depth)
	}
	if deep.Depth >= 100 {
		t.Fatalf("depth must stay below the asymptote, got %v", deep.Depth)
	}
}

func TestDependencyIsWeightedComposite(t *testing.T) {
	base := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	session := uuid.New()
	var events []models.InteractionEvent
	for day := 0; day < 10; day++ {
		events = append(events, event(fmt.Sprintf("t%d", day), session, base.AddDate(0, 0, day)))
	}

	scores := computeScores(events, scoringConfig())
	want := math.Round((0.3*scores.Curiosity+0.4*scores.Consistency+0.3*scores.Depth)*100) / 100
	if scores.Dependency != want {
		t.Fatalf("dependency %v != weighted composite %v", scores.Dependency, want)
	}
}

func TestScoresAlwaysBounded(t *testing.T) {
	base := time.Date(2026, time.July, 20, 0, 0, 0, 0, time.UTC)
	var events []models.InteractionEvent
	// Pathological volume: hundreds of topics, sessions spanning days.
	for i := 0; i < 500; i++ {
		session := uuid.New()
		for j := 0; j < 5; j++ {
			events = append(events, event(fmt.Sprintf("topic-%d", i), session,
				base.Add(time.Duration(i)*time.Hour+time.Duration(j)*20*time.Minute)))
		}
	}

	scores := computeScores(events, scoringConfig())
	for name, v := range map[string]float64{
		"curiosity":   scores.Curiosity,
		"consistency": scores.Consistency,
		"depth":       scores.Depth,
		"dependency":  scores.Dependency,
	} {
		if v < 0 || v > 100 {
			t.Fatalf("%s out of bounds: %v", name, v)
		}
	}
}
