// Package tools implements the dispatchable capabilities the router can
// plan: patient lookup and search, session retrieval and analysis,
// population risk scans, cross-patient comparison and decline
// prediction. Every tool returns structured data through the store and
// risk layers; none of them call a model.
package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/ai/risk"
	"github.com/mindmate/cognigate/ai/routing"
	"github.com/mindmate/cognigate/store"
)

// Config tunes windows and limits shared across tools.
type Config struct {
	// RecentWindow is how many recent sessions feed an assessment.
	RecentWindow int
	// SummaryLimit caps session summaries.
	SummaryLimit int
	// DeclineWindow is how many sessions each half of a decline
	// comparison uses.
	DeclineWindow int
}

// DefaultConfig returns the production tool settings.
func DefaultConfig() Config {
	return Config{RecentWindow: 5, SummaryLimit: 10, DeclineWindow: 3}
}

// Registry dispatches planned invocations to tool implementations.
type Registry struct {
	store  *store.Store
	scorer *risk.Scorer
	cfg    Config
}

// NewRegistry builds the registry over st and scorer.
func NewRegistry(st *store.Store, scorer *risk.Scorer, cfg Config) *Registry {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 5
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = 10
	}
	if cfg.DeclineWindow <= 0 {
		cfg.DeclineWindow = 3
	}
	return &Registry{store: st, scorer: scorer, cfg: cfg}
}

// Result pairs a tool name with its structured output.
type Result struct {
	Tool routing.Tool `json:"tool"`
	Data any          `json:"data"`
}

// Execute runs one planned invocation.
func (r *Registry) Execute(ctx context.Context, inv routing.Invocation) (*Result, error) {
	var (
		data any
		err  error
	)
	switch inv.Tool {
	case routing.ToolGetPatientByID:
		data, err = r.GetPatientByID(ctx, inv.Args.PatientID)
	case routing.ToolSearchPatients:
		data, err = r.SearchPatients(ctx, inv.Args)
	case routing.ToolCountPatients:
		data, err = r.CountPatients(ctx)
	case routing.ToolGetSessionByID:
		data, err = r.GetSessionByID(ctx, inv.Args.SessionID)
	case routing.ToolGetSessionSummary:
		data, err = r.GetSessionSummary(ctx, inv.Args.PatientID, inv.Args.Limit)
	case routing.ToolGetAtRiskPatients:
		data, err = r.GetAtRiskPatients(ctx, inv.Args.Threshold)
	case routing.ToolComparePatients:
		data, err = r.ComparePatients(ctx, inv.Args.PatientIDs)
	case routing.ToolAnalyzePatientDecline:
		data, err = r.AnalyzePatientDecline(ctx, inv.Args.PatientID)
	case routing.ToolAnalyzeSessionPerformance:
		data, err = r.AnalyzeSessionPerformance(ctx, inv.Args.SessionID)
	case routing.ToolPredictDeclineRisk:
		data, err = r.PredictDeclineRisk(ctx, inv.Args.MinProbability)
	default:
		return nil, errors.Errorf("unknown tool %q", inv.Tool)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Tool: inv.Tool, Data: data}, nil
}

// PatientDetail is a patient record with recent history and a current
// risk assessment.
type PatientDetail struct {
	ID         string           `json:"patientId"`
	Name       string           `json:"name"`
	Age        int              `json:"age"`
	Gender     string           `json:"gender"`
	Sessions   []SessionBrief   `json:"recentSessions"`
	Assessment *risk.Assessment `json:"assessment,omitempty"`
}

// SessionBrief is the compact session form embedded in summaries.
type SessionBrief struct {
	ID              string    `json:"sessionId"`
	Date            time.Time `json:"date"`
	Score           float64   `json:"score"`
	DurationMinutes int       `json:"durationMinutes"`
	ExerciseType    string    `json:"exerciseType"`
}

// GetPatientByID returns the patient, their most recent sessions and an
// assessment over the recent window.
func (r *Registry) GetPatientByID(ctx context.Context, patientID string) (*PatientDetail, error) {
	p, err := r.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	recent, err := r.recentSessions(ctx, patientID)
	if err != nil {
		return nil, err
	}

	detail := &PatientDetail{
		ID:       p.ID,
		Name:     p.Name,
		Age:      r.store.AgeOf(p),
		Gender:   p.Gender,
		Sessions: briefs(recentDesc(recent)),
	}
	if len(recent) > 0 {
		a, err := r.scorer.Assess(patientID, recent)
		if err != nil {
			return nil, err
		}
		detail.Assessment = a
	}
	return detail, nil
}

// PatientSummary is one search hit.
type PatientSummary struct {
	ID     string `json:"patientId"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// SearchResult is the outcome of a filtered patient search.
type SearchResult struct {
	Patients []PatientSummary `json:"patients"`
	Total    int              `json:"total"`
}

// SearchPatients lists patients matching the extracted filters.
func (r *Registry) SearchPatients(ctx context.Context, args routing.Args) (*SearchResult, error) {
	find := &store.FindPatient{}
	if args.Name != "" {
		find.Name = &args.Name
	}
	if args.Gender != "" {
		find.Gender = &args.Gender
	}
	if args.MinAge > 0 {
		find.MinAge = &args.MinAge
	}
	if args.MaxAge > 0 {
		find.MaxAge = &args.MaxAge
	}
	if args.Limit > 0 {
		find.Limit = &args.Limit
	}
	patients, err := r.store.ListPatients(ctx, find)
	if err != nil {
		return nil, err
	}

	out := &SearchResult{Patients: make([]PatientSummary, 0, len(patients)), Total: len(patients)}
	for _, p := range patients {
		out.Patients = append(out.Patients, PatientSummary{
			ID:     p.ID,
			Name:   p.Name,
			Age:    r.store.AgeOf(p),
			Gender: p.Gender,
		})
	}
	return out, nil
}

// CountResult reports the patient population size.
type CountResult struct {
	Total int `json:"total"`
}

// CountPatients counts all patients.
func (r *Registry) CountPatients(ctx context.Context) (*CountResult, error) {
	n, err := r.store.CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	return &CountResult{Total: n}, nil
}

// SessionDetail is a single session with its patient and a comparison
// against that patient's recent average.
type SessionDetail struct {
	Session     *store.Session `json:"session"`
	PatientName string         `json:"patientName"`
	VsAverage   string         `json:"vsAverage"` // above, below, average
	Average     float64        `json:"recentAverage"`
}

// GetSessionByID returns one session with comparison context.
func (r *Registry) GetSessionByID(ctx context.Context, sessionID string) (*SessionDetail, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := r.store.GetPatient(ctx, sess.PatientID)
	if err != nil {
		return nil, err
	}
	recent, err := r.recentSessions(ctx, sess.PatientID)
	if err != nil {
		return nil, err
	}

	avg, vs := compareToPeers(sess, recent)
	return &SessionDetail{
		Session:     sess,
		PatientName: p.Name,
		VsAverage:   vs,
		Average:     avg,
	}, nil
}

// SessionSummary is a patient's recent session history with aggregates.
type SessionSummary struct {
	PatientID    string         `json:"patientId"`
	PatientName  string         `json:"patientName"`
	Sessions     []SessionBrief `json:"sessions"`
	AverageScore float64        `json:"averageScore"`
	Trend        risk.Trend     `json:"trend"`
}

// GetSessionSummary returns up to limit recent sessions, newest first,
// with the average and trend over them.
func (r *Registry) GetSessionSummary(ctx context.Context, patientID string, limit int) (*SessionSummary, error) {
	if limit <= 0 || limit > r.cfg.SummaryLimit {
		limit = r.cfg.SummaryLimit
	}
	p, err := r.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	sessions, err := r.store.ListSessions(ctx, &store.FindSession{
		PatientID: &patientID,
		OrderDesc: true,
		Limit:     &limit,
	})
	if err != nil {
		return nil, err
	}

	out := &SessionSummary{
		PatientID:   patientID,
		PatientName: p.Name,
		Sessions:    briefs(sessions),
	}
	if len(sessions) > 0 {
		a, err := r.scorer.Assess(patientID, chronological(sessions))
		if err != nil {
			return nil, err
		}
		out.AverageScore = a.AverageScore
		out.Trend = a.Trend
	}
	return out, nil
}

// AtRiskPatient is one entry of a population risk scan.
type AtRiskPatient struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	risk.Assessment
}

// GetAtRiskPatients scans the population and returns every patient whose
// average or latest score falls below threshold, ordered worst first.
// Patients without sessions are skipped.
func (r *Registry) GetAtRiskPatients(ctx context.Context, threshold float64) ([]AtRiskPatient, error) {
	patients, err := r.store.ListPatients(ctx, nil)
	if err != nil {
		return nil, err
	}

	out := make([]AtRiskPatient, 0)
	for _, p := range patients {
		recent, err := r.recentSessions(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(recent) == 0 {
			continue
		}
		a, err := r.scorer.Assess(p.ID, recent)
		if err != nil {
			return nil, err
		}
		if !a.AtRisk(threshold) {
			continue
		}
		out = append(out, AtRiskPatient{Name: p.Name, Age: r.store.AgeOf(p), Assessment: *a})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageScore != out[j].AverageScore {
			return out[i].AverageScore < out[j].AverageScore
		}
		return out[i].PatientID < out[j].PatientID
	})
	return out, nil
}

// ComparedPatient is one side of a comparison.
type ComparedPatient struct {
	ID           string     `json:"patientId"`
	Name         string     `json:"name"`
	AverageScore float64    `json:"averageScore"`
	LatestScore  float64    `json:"latestScore"`
	Trend        risk.Trend `json:"trend"`
	Level        risk.Level `json:"riskLevel"`
	Sessions     int        `json:"sessionsAnalyzed"`
}

// Comparison lines up patients side by side with derived insights.
type Comparison struct {
	Patients []ComparedPatient `json:"patients"`
	Insights []string          `json:"insights"`
}

// ComparePatients compares two or more patients over their recent
// sessions. Patients without sessions appear with zeroed aggregates.
func (r *Registry) ComparePatients(ctx context.Context, patientIDs []string) (*Comparison, error) {
	if len(patientIDs) < 2 {
		return nil, errors.Errorf("comparison needs at least two patients, got %d", len(patientIDs))
	}

	cmp := &Comparison{Patients: make([]ComparedPatient, 0, len(patientIDs))}
	for _, id := range patientIDs {
		p, err := r.store.GetPatient(ctx, id)
		if err != nil {
			return nil, err
		}
		entry := ComparedPatient{ID: p.ID, Name: p.Name}
		recent, err := r.recentSessions(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			a, err := r.scorer.Assess(id, recent)
			if err != nil {
				return nil, err
			}
			entry.AverageScore = a.AverageScore
			entry.LatestScore = a.LatestScore
			entry.Trend = a.Trend
			entry.Level = a.Level
			entry.Sessions = a.SessionsAnalyzed
		}
		cmp.Patients = append(cmp.Patients, entry)
	}

	cmp.Insights = compareInsights(cmp.Patients)
	return cmp, nil
}

// DeclineAnalysis contrasts a patient's recent sessions with the ones
// before them.
type DeclineAnalysis struct {
	PatientID      string   `json:"patientId"`
	Name           string   `json:"name"`
	RecentAverage  float64  `json:"recentAverage"`
	EarlierAverage float64  `json:"earlierAverage"`
	Change         float64  `json:"change"`
	Declining      bool     `json:"declining"`
	Findings       []string `json:"findings"`
	Sessions       int      `json:"sessionsAnalyzed"`
}

// AnalyzePatientDecline splits the history into a recent and an earlier
// window and reports the shift between their averages, plus notable
// findings such as long gaps between sessions.
func (r *Registry) AnalyzePatientDecline(ctx context.Context, patientID string) (*DeclineAnalysis, error) {
	p, err := r.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	sessions, err := r.store.SessionsForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, errors.Wrapf(risk.ErrInsufficientData, "patient %s has no sessions", patientID)
	}

	out := &DeclineAnalysis{
		PatientID: patientID,
		Name:      p.Name,
		Sessions:  len(sessions),
	}

	w := r.cfg.DeclineWindow
	recent := sessions
	if len(sessions) > w {
		recent = sessions[len(sessions)-w:]
	}
	out.RecentAverage = round3(meanScore(recent))

	if len(sessions) > w {
		earlier := sessions[:len(sessions)-w]
		if len(earlier) > w {
			earlier = earlier[len(earlier)-w:]
		}
		out.EarlierAverage = round3(meanScore(earlier))
		out.Change = round3(out.RecentAverage - out.EarlierAverage)
		out.Declining = out.Change < -0.05
		if out.Declining {
			out.Findings = append(out.Findings,
				fmt.Sprintf("recent average dropped %.0f%% versus the prior window", -out.Change*100))
		}
	} else {
		out.EarlierAverage = out.RecentAverage
		out.Findings = append(out.Findings,
			fmt.Sprintf("only %d sessions recorded, not enough for a window comparison", len(sessions)))
	}

	for i := 1; i < len(sessions); i++ {
		if gap := sessions[i].Date.Sub(sessions[i-1].Date); gap > 7*24*time.Hour {
			out.Findings = append(out.Findings,
				fmt.Sprintf("%.0f-day gap between sessions on %s and %s",
					gap.Hours()/24,
					sessions[i-1].Date.Format("2006-01-02"),
					sessions[i].Date.Format("2006-01-02")))
		}
	}
	return out, nil
}

// SessionAnalysis grades one session against absolute bands and the
// patient's own recent history.
type SessionAnalysis struct {
	SessionID    string   `json:"sessionId"`
	PatientID    string   `json:"patientId"`
	PatientName  string   `json:"patientName"`
	Score        float64  `json:"score"`
	Band         string   `json:"band"`      // critical, below_expected, normal, strong
	VsAverage    string   `json:"vsAverage"` // above, below, average
	Average      float64  `json:"recentAverage"`
	Observations []string `json:"observations"`
}

// AnalyzeSessionPerformance grades a session. Bands: critical below
// 0.30, below_expected below 0.50, strong above 0.80, normal otherwise.
func (r *Registry) AnalyzeSessionPerformance(ctx context.Context, sessionID string) (*SessionAnalysis, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := r.store.GetPatient(ctx, sess.PatientID)
	if err != nil {
		return nil, err
	}
	recent, err := r.recentSessions(ctx, sess.PatientID)
	if err != nil {
		return nil, err
	}

	avg, vs := compareToPeers(sess, recent)
	out := &SessionAnalysis{
		SessionID:   sess.ID,
		PatientID:   sess.PatientID,
		PatientName: p.Name,
		Score:       sess.Score,
		Band:        scoreBand(sess.Score),
		VsAverage:   vs,
		Average:     avg,
	}

	if sess.Extraction != nil {
		out.Observations = append(out.Observations, sess.Extraction.DoctorAlerts...)
		out.Observations = append(out.Observations, sess.Extraction.NotableEvents...)
	}
	if sess.DurationMinutes > 0 && sess.DurationMinutes < 10 {
		out.Observations = append(out.Observations,
			fmt.Sprintf("session lasted only %d minutes", sess.DurationMinutes))
	}
	return out, nil
}

// PredictionBatch is a decline forecast across the population.
type PredictionBatch struct {
	Predictions    []*risk.Prediction `json:"predictions"`
	Evaluated      int                `json:"patientsEvaluated"`
	EvaluatedIDs   []string           `json:"-"`
	MinProbability float64            `json:"minProbability"`
}

// PredictDeclineRisk forecasts every patient with session history and
// keeps those whose decline probability reaches minProbability, ordered
// by probability descending with patient id as tiebreaker.
func (r *Registry) PredictDeclineRisk(ctx context.Context, minProbability float64) (*PredictionBatch, error) {
	patients, err := r.store.ListPatients(ctx, nil)
	if err != nil {
		return nil, err
	}

	batch := &PredictionBatch{
		Predictions:    make([]*risk.Prediction, 0),
		MinProbability: minProbability,
	}
	for _, p := range patients {
		sessions, err := r.store.SessionsForPatient(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			continue
		}
		batch.Evaluated++
		batch.EvaluatedIDs = append(batch.EvaluatedIDs, p.ID)
		pred, err := r.scorer.Predict(p.ID, sessions)
		if err != nil {
			return nil, err
		}
		if pred.DeclineProbability >= minProbability {
			batch.Predictions = append(batch.Predictions, pred)
		}
	}

	sort.Slice(batch.Predictions, func(i, j int) bool {
		a, b := batch.Predictions[i], batch.Predictions[j]
		if a.DeclineProbability != b.DeclineProbability {
			return a.DeclineProbability > b.DeclineProbability
		}
		return a.PatientID < b.PatientID
	})
	return batch, nil
}

// PredictForPatient forecasts one patient from an already-loaded
// chronological history.
func (r *Registry) PredictForPatient(patientID string, sessions []*store.Session) (*risk.Prediction, error) {
	return r.scorer.Predict(patientID, sessions)
}

// ReferencedPatientIDs extracts the patient ids a result touched, used
// to seed conversation memory.
func ReferencedPatientIDs(results []*Result) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, res := range results {
		switch data := res.Data.(type) {
		case *PatientDetail:
			add(data.ID)
		case *SearchResult:
			for _, p := range data.Patients {
				add(p.ID)
			}
		case *SessionDetail:
			add(data.Session.PatientID)
		case *SessionSummary:
			add(data.PatientID)
		case []AtRiskPatient:
			for _, p := range data {
				add(p.PatientID)
			}
		case *Comparison:
			for _, p := range data.Patients {
				add(p.ID)
			}
		case *DeclineAnalysis:
			add(data.PatientID)
		case *SessionAnalysis:
			add(data.PatientID)
		case *PredictionBatch:
			for _, p := range data.Predictions {
				add(p.PatientID)
			}
		}
	}
	return ids
}

// recentSessions returns the recent window in chronological order.
func (r *Registry) recentSessions(ctx context.Context, patientID string) ([]*store.Session, error) {
	limit := r.cfg.RecentWindow
	sessions, err := r.store.ListSessions(ctx, &store.FindSession{
		PatientID: &patientID,
		OrderDesc: true,
		Limit:     &limit,
	})
	if err != nil {
		return nil, err
	}
	return chronological(sessions), nil
}

// compareToPeers places sess against the average of the other recent
// sessions. Within 10% counts as average.
func compareToPeers(sess *store.Session, recent []*store.Session) (avg float64, vs string) {
	var sum float64
	var n int
	for _, s := range recent {
		if s.ID == sess.ID {
			continue
		}
		sum += s.Score
		n++
	}
	if n == 0 {
		return round3(sess.Score), "average"
	}
	avg = sum / float64(n)
	switch {
	case sess.Score > avg*1.1:
		vs = "above"
	case sess.Score < avg*0.9:
		vs = "below"
	default:
		vs = "average"
	}
	return round3(avg), vs
}

func scoreBand(score float64) string {
	switch {
	case score < 0.30:
		return "critical"
	case score < 0.50:
		return "below_expected"
	case score > 0.80:
		return "strong"
	default:
		return "normal"
	}
}

func compareInsights(patients []ComparedPatient) []string {
	if len(patients) < 2 {
		return nil
	}
	best, worst := 0, 0
	for i, p := range patients {
		if p.AverageScore > patients[best].AverageScore {
			best = i
		}
		if p.AverageScore < patients[worst].AverageScore {
			worst = i
		}
	}

	var insights []string
	if best != worst {
		insights = append(insights, fmt.Sprintf("%s has the strongest average (%.2f), %s the weakest (%.2f)",
			patients[best].Name, patients[best].AverageScore,
			patients[worst].Name, patients[worst].AverageScore))
	}
	for _, p := range patients {
		if p.Trend == risk.TrendDeclining {
			insights = append(insights, fmt.Sprintf("%s is on a declining trend", p.Name))
		}
		if p.Sessions == 0 {
			insights = append(insights, fmt.Sprintf("%s has no recorded sessions", p.Name))
		}
	}
	return insights
}

func briefs(sessions []*store.Session) []SessionBrief {
	out := make([]SessionBrief, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionBrief{
			ID:              s.ID,
			Date:            s.Date,
			Score:           s.Score,
			DurationMinutes: s.DurationMinutes,
			ExerciseType:    s.ExerciseType,
		})
	}
	return out
}

func chronological(sessions []*store.Session) []*store.Session {
	out := make([]*store.Session, len(sessions))
	copy(out, sessions)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func recentDesc(sessions []*store.Session) []*store.Session {
	out := make([]*store.Session, len(sessions))
	copy(out, sessions)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func meanScore(sessions []*store.Session) float64 {
	var sum float64
	for _, s := range sessions {
		sum += s.Score
	}
	return sum / float64(len(sessions))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
