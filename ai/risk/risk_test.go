package risk

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindmate/cognigate/store"
)

func sessionsWithScores(scores ...float64) []*store.Session {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	out := make([]*store.Session, 0, len(scores))
	for i, s := range scores {
		out = append(out, &store.Session{
			ID:        fmt.Sprintf("s%d", i+1),
			PatientID: "p1",
			Date:      base.AddDate(0, 0, i*7),
			Score:     s,
		})
	}
	return out
}

func TestAssessNoSessions(t *testing.T) {
	s := NewScorer(DefaultConfig())
	_, err := s.Assess("p1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestAssessHealthyPatient(t *testing.T) {
	s := NewScorer(DefaultConfig())
	a, err := s.Assess("p1", sessionsWithScores(0.78, 0.80, 0.82, 0.81, 0.84))
	require.NoError(t, err)

	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, TrendStable, a.Trend)
	assert.Empty(t, a.Reasons)
	assert.Equal(t, 5, a.SessionsAnalyzed)
	assert.False(t, a.AtRisk(0.5))
}

func TestAssessDecliningPatient(t *testing.T) {
	s := NewScorer(DefaultConfig())
	a, err := s.Assess("p1", sessionsWithScores(0.60, 0.52, 0.45, 0.38, 0.30))
	require.NoError(t, err)

	assert.Equal(t, TrendDeclining, a.Trend)
	assert.Equal(t, LevelHigh, a.Level)
	assert.True(t, a.AtRisk(0.5))
	require.NotEmpty(t, a.Reasons)
}

func TestAssessCriticalWhenLatestBottomsOut(t *testing.T) {
	s := NewScorer(DefaultConfig())
	a, err := s.Assess("p1", sessionsWithScores(0.55, 0.40, 0.05))
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, a.Level)
}

func TestAssessReasonsNonEmptyAboveLow(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cases := [][]float64{
		{0.45, 0.44, 0.46, 0.45},       // medium, below threshold
		{0.60, 0.50, 0.40, 0.30, 0.20}, // high, declining
		{0.08, 0.09, 0.07},             // critical
	}
	for _, scores := range cases {
		a, err := s.Assess("p1", sessionsWithScores(scores...))
		require.NoError(t, err)
		if a.Level != LevelLow {
			assert.NotEmpty(t, a.Reasons, "scores %v level %s", scores, a.Level)
		}
	}
}

func TestAssessVariabilityFlagged(t *testing.T) {
	s := NewScorer(DefaultConfig())
	a, err := s.Assess("p1", sessionsWithScores(0.90, 0.30, 0.85, 0.35, 0.88))
	require.NoError(t, err)

	var found bool
	for _, r := range a.Reasons {
		if strings.Contains(r, "variability") {
			found = true
		}
	}
	assert.True(t, found, "expected variability reason in %v", a.Reasons)
}

func TestPredictNoSessions(t *testing.T) {
	s := NewScorer(DefaultConfig())
	_, err := s.Predict("p1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestPredictDecline(t *testing.T) {
	s := NewScorer(DefaultConfig())
	p, err := s.Predict("p1", sessionsWithScores(0.70, 0.62, 0.55, 0.47, 0.40, 0.33))
	require.NoError(t, err)

	assert.Less(t, p.Slope, 0.0)
	assert.Less(t, p.PredictedNextScore, p.CurrentScore)
	assert.Greater(t, p.DeclineProbability, 0.5)
	assert.Equal(t, ConfidenceHigh, p.Confidence)
	assert.Equal(t, "rapid_decline", p.TrendLabel)
	assert.NotEmpty(t, p.Reasoning)
}

func TestPredictStableHealthy(t *testing.T) {
	s := NewScorer(DefaultConfig())
	p, err := s.Predict("p1", sessionsWithScores(0.80, 0.81, 0.80, 0.82))
	require.NoError(t, err)

	assert.Equal(t, "stable", p.TrendLabel)
	assert.Zero(t, p.DeclineProbability)
	assert.Equal(t, ConfidenceMedium, p.Confidence)
}

func TestTrendLabelBoundaries(t *testing.T) {
	// Least-squares slopes can land exactly on a band edge with a few
	// ulps of noise; the label must not flip across it.
	assert.Equal(t, "stable", trendLabel(0.005000000000000013))
	assert.Equal(t, "stable", trendLabel(-0.005000000000000013))
	assert.Equal(t, "mild_improvement", trendLabel(0.0051))
	assert.Equal(t, "mild_decline", trendLabel(-0.0051))
	assert.Equal(t, "moderate_decline", trendLabel(-0.021))
	assert.Equal(t, "rapid_decline", trendLabel(-0.051))
	assert.Equal(t, "improving", trendLabel(0.021))
}

func TestPredictResidualProbability(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// A barely negative slope over healthy scores still reports a
	// residual probability rather than rounding down to zero.
	p, err := s.Predict("p1", sessionsWithScores(0.80, 0.80, 0.79, 0.80))
	require.NoError(t, err)
	assert.InDelta(t, 0.05, p.DeclineProbability, 1e-9)
}

func TestPredictProbabilityBounds(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Free fall must clamp to 1, not overflow.
	p, err := s.Predict("p1", sessionsWithScores(0.9, 0.6, 0.3, 0.05))
	require.NoError(t, err)
	assert.LessOrEqual(t, p.DeclineProbability, 1.0)
	assert.GreaterOrEqual(t, p.PredictedNextScore, 0.0)

	// Strong improvement must clamp to 0.
	p, err = s.Predict("p1", sessionsWithScores(0.5, 0.7, 0.9))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.DeclineProbability, 0.0)
	assert.LessOrEqual(t, p.PredictedNextScore, 1.0)
}

func TestPredictProbabilityMonotoneInSlope(t *testing.T) {
	s := NewScorer(DefaultConfig())

	shallow, err := s.Predict("p1", sessionsWithScores(0.50, 0.49, 0.48, 0.47))
	require.NoError(t, err)
	steep, err := s.Predict("p1", sessionsWithScores(0.50, 0.46, 0.42, 0.38))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, steep.DeclineProbability, shallow.DeclineProbability)
}

func TestPredictProbabilityMonotoneInAverage(t *testing.T) {
	s := NewScorer(DefaultConfig())

	higher, err := s.Predict("p1", sessionsWithScores(0.48, 0.47, 0.46, 0.45))
	require.NoError(t, err)
	lower, err := s.Predict("p1", sessionsWithScores(0.38, 0.37, 0.36, 0.35))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, lower.DeclineProbability, higher.DeclineProbability)
}

func TestConfidenceBands(t *testing.T) {
	s := NewScorer(DefaultConfig())

	p, err := s.Predict("p1", sessionsWithScores(0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, p.Confidence)

	p, err = s.Predict("p1", sessionsWithScores(0.5, 0.5, 0.5, 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, ConfidenceMedium, p.Confidence)

	p, err = s.Predict("p1", sessionsWithScores(0.5, 0.5, 0.5, 0.5, 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, p.Confidence)
}

func TestSingleSessionIsFlatLine(t *testing.T) {
	s := NewScorer(DefaultConfig())
	p, err := s.Predict("p1", sessionsWithScores(0.42))
	require.NoError(t, err)

	assert.Zero(t, p.Slope)
	assert.Equal(t, 0.42, p.PredictedNextScore)
	assert.Equal(t, ConfidenceLow, p.Confidence)
}
