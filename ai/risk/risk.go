// Package risk derives risk assessments and decline predictions from a
// patient's cognitive session history. Scores are normalized to [0, 1]
// and all thresholds are configurable.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/store"
)

// ErrInsufficientData is returned when a patient has no recorded
// sessions to derive anything from.
var ErrInsufficientData = errors.New("insufficient session data")

// residualProbability is the minimum decline probability reported when
// the series shows any decline or a below-threshold average.
const residualProbability = 0.05

// Trend is the direction of a patient's score series.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Level orders risk severity: low < medium < high < critical.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Confidence grades a prediction by how much history backs it.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Config holds the tunable thresholds and weights. All fields are on the
// normalized [0, 1] score scale.
type Config struct {
	// RiskThreshold is the average score below which a patient is at risk.
	RiskThreshold float64
	// CriticalThreshold marks the floor below which risk is critical.
	CriticalThreshold float64
	// TrendEpsilon is the slope magnitude below which a series is stable.
	TrendEpsilon float64
	// VariabilityRange is the max-min spread that flags erratic scores.
	VariabilityRange float64
	// SlopeWeight scales the slope term of the decline probability.
	SlopeWeight float64
	// AverageWeight scales the below-threshold term of the probability.
	AverageWeight float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		RiskThreshold:     0.5,
		CriticalThreshold: 0.1,
		TrendEpsilon:      0.02,
		VariabilityRange:  0.4,
		SlopeWeight:       8,
		AverageWeight:     1.2,
	}
}

// Assessment is the point-in-time risk picture for one patient.
type Assessment struct {
	PatientID        string   `json:"patientId"`
	AverageScore     float64  `json:"averageScore"`
	LatestScore      float64  `json:"latestScore"`
	Trend            Trend    `json:"trend"`
	Level            Level    `json:"riskLevel"`
	Reasons          []string `json:"reasons"`
	SessionsAnalyzed int      `json:"sessionsAnalyzed"`
}

// AtRisk reports whether the assessment crosses threshold on either the
// average or the latest score.
func (a *Assessment) AtRisk(threshold float64) bool {
	return a.AverageScore < threshold || a.LatestScore < threshold
}

// Prediction is the forward-looking decline estimate for one patient.
type Prediction struct {
	PatientID          string     `json:"patientId"`
	CurrentScore       float64    `json:"currentScore"`
	PredictedNextScore float64    `json:"predictedNextScore"`
	DeclineProbability float64    `json:"declineProbability"`
	Confidence         Confidence `json:"confidence"`
	TrendLabel         string     `json:"trend"`
	Slope              float64    `json:"slope"`
	SessionsAnalyzed   int        `json:"sessionsAnalyzed"`
	Reasoning          string     `json:"reasoning"`
}

// Scorer computes assessments and predictions from session histories.
type Scorer struct {
	cfg Config
}

// NewScorer returns a Scorer using cfg.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Assess evaluates a patient's sessions, which must be in chronological
// order. Returns ErrInsufficientData when the history is empty.
func (s *Scorer) Assess(patientID string, sessions []*store.Session) (*Assessment, error) {
	scores := sessionScores(sessions)
	if len(scores) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "patient %s has no sessions", patientID)
	}

	avg := mean(scores)
	latest := scores[len(scores)-1]
	slope, _ := linearFit(scores)
	trend := s.trendOf(slope)

	a := &Assessment{
		PatientID:        patientID,
		AverageScore:     round3(avg),
		LatestScore:      round3(latest),
		Trend:            trend,
		SessionsAnalyzed: len(scores),
	}

	if avg < s.cfg.RiskThreshold {
		a.Reasons = append(a.Reasons, fmt.Sprintf("average score %.2f below threshold %.2f", avg, s.cfg.RiskThreshold))
	}
	if trend == TrendDeclining {
		a.Reasons = append(a.Reasons, fmt.Sprintf("declining trend of %.1f%% per session", -slope*100))
	}
	if spread(scores) > s.cfg.VariabilityRange {
		a.Reasons = append(a.Reasons, fmt.Sprintf("high score variability (range %.2f)", spread(scores)))
	}
	if len(scores) < 3 {
		a.Reasons = append(a.Reasons, fmt.Sprintf("only %d sessions recorded, limited evidence", len(scores)))
	}

	a.Level = s.levelOf(avg, latest, trend)
	return a, nil
}

// Predict fits a least-squares line over the session index and
// extrapolates one step ahead. Returns ErrInsufficientData when the
// history is empty.
func (s *Scorer) Predict(patientID string, sessions []*store.Session) (*Prediction, error) {
	scores := sessionScores(sessions)
	if len(scores) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "patient %s has no sessions", patientID)
	}

	avg := mean(scores)
	slope, intercept := linearFit(scores)
	predicted := clamp01(intercept + slope*float64(len(scores)))

	// Steeper decline and a lower average each push the probability up,
	// never down. Any decline or below-threshold average keeps at
	// least a residual probability.
	probability := clamp01(-slope*s.cfg.SlopeWeight + belowThreshold(avg, s.cfg.RiskThreshold)*s.cfg.AverageWeight)
	if (slope < 0 || avg < s.cfg.RiskThreshold) && probability < residualProbability {
		probability = residualProbability
	}

	p := &Prediction{
		PatientID:          patientID,
		CurrentScore:       round3(avg),
		PredictedNextScore: round3(predicted),
		DeclineProbability: round3(probability),
		Confidence:         confidenceOf(len(scores)),
		TrendLabel:         trendLabel(slope),
		Slope:              round4(slope),
		SessionsAnalyzed:   len(scores),
	}
	p.Reasoning = s.reasoning(p, avg)
	return p, nil
}

func (s *Scorer) trendOf(slope float64) Trend {
	// Band on the rounded slope so exact boundary fits do not flip on
	// floating-point noise.
	slope = round4(slope)
	switch {
	case slope > s.cfg.TrendEpsilon:
		return TrendImproving
	case slope < -s.cfg.TrendEpsilon:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func (s *Scorer) levelOf(avg, latest float64, trend Trend) Level {
	switch {
	case avg < s.cfg.CriticalThreshold || latest < s.cfg.CriticalThreshold:
		return LevelCritical
	case avg < s.cfg.RiskThreshold && (trend == TrendDeclining || latest < avg-0.2):
		return LevelHigh
	case avg < s.cfg.RiskThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (s *Scorer) reasoning(p *Prediction, avg float64) string {
	var parts []string
	switch p.TrendLabel {
	case "rapid_decline":
		parts = append(parts, "scores are dropping rapidly")
	case "moderate_decline":
		parts = append(parts, "scores show a steady decline")
	case "mild_decline":
		parts = append(parts, "scores are drifting slightly downward")
	case "improving":
		parts = append(parts, "scores are improving")
	case "mild_improvement":
		parts = append(parts, "scores show slight improvement")
	default:
		parts = append(parts, "scores are holding stable")
	}
	if avg < s.cfg.RiskThreshold {
		parts = append(parts, fmt.Sprintf("average of %.2f is already below the risk threshold", avg))
	}
	if p.Confidence == ConfidenceLow {
		parts = append(parts, "limited history makes this estimate uncertain")
	}
	return strings.Join(parts, "; ")
}

func confidenceOf(n int) Confidence {
	switch {
	case n < 3:
		return ConfidenceLow
	case n <= 5:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// trendLabel bands the rounded slope, matching the Slope field the
// prediction reports.
func trendLabel(slope float64) string {
	slope = round4(slope)
	switch {
	case slope < -0.05:
		return "rapid_decline"
	case slope < -0.02:
		return "moderate_decline"
	case slope < -0.005:
		return "mild_decline"
	case slope > 0.02:
		return "improving"
	case slope > 0.005:
		return "mild_improvement"
	default:
		return "stable"
	}
}

func sessionScores(sessions []*store.Session) []float64 {
	scores := make([]float64, 0, len(sessions))
	for _, sess := range sessions {
		scores = append(scores, sess.Score)
	}
	return scores
}

// linearFit returns the least-squares slope and intercept of scores over
// their index. A single point yields a flat line.
func linearFit(scores []float64) (slope, intercept float64) {
	n := float64(len(scores))
	if len(scores) < 2 {
		if len(scores) == 1 {
			return 0, scores[0]
		}
		return 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range scores {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, mean(scores)
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func mean(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func spread(scores []float64) float64 {
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max - min
}

func belowThreshold(avg, threshold float64) float64 {
	if avg >= threshold {
		return 0
	}
	return threshold - avg
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
