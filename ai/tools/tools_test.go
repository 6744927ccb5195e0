package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindmate/cognigate/ai/risk"
	"github.com/mindmate/cognigate/ai/routing"
	"github.com/mindmate/cognigate/store"
	"github.com/mindmate/cognigate/store/teststore"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Registry, *teststore.Driver) {
	t.Helper()
	driver := teststore.New()
	st := store.NewWithClock(driver, func() time.Time { return testNow })
	reg := NewRegistry(st, risk.NewScorer(risk.DefaultConfig()), DefaultConfig())
	return reg, driver
}

func addPatient(d *teststore.Driver, id, name, gender string, birthYear int) {
	d.AddPatient(&store.Patient{
		ID:     id,
		Name:   name,
		DOB:    time.Date(birthYear, 6, 15, 0, 0, 0, 0, time.UTC),
		Gender: gender,
	})
}

func addSessions(d *teststore.Driver, patientID string, scores ...float64) {
	base := testNow.AddDate(0, 0, -7*len(scores))
	for i, s := range scores {
		d.AddSession(&store.Session{
			ID:        fmt.Sprintf("%s-s%d", patientID, i+1),
			PatientID: patientID,
			Date:      base.AddDate(0, 0, i*7),
			Score:     s,
		})
	}
}

func TestGetPatientByID(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Margaret Hill", "female", 1950)
	addSessions(driver, "p1", 0.70, 0.72, 0.68, 0.71, 0.69, 0.73)

	detail, err := reg.GetPatientByID(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "Margaret Hill", detail.Name)
	assert.Equal(t, 75, detail.Age)
	require.Len(t, detail.Sessions, 5) // recent window
	assert.Equal(t, "p1-s6", detail.Sessions[0].ID)
	require.NotNil(t, detail.Assessment)
	assert.Equal(t, risk.LevelLow, detail.Assessment.Level)
}

func TestGetPatientByIDNotFound(t *testing.T) {
	reg, _ := newFixture(t)
	_, err := reg.GetPatientByID(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSearchPatientsFilters(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Margaret Hill", "female", 1948)
	addPatient(driver, "p2", "Robert King", "male", 1952)
	addPatient(driver, "p3", "Margaret Young", "female", 1970)

	res, err := reg.SearchPatients(context.Background(), routing.Args{Gender: "female", MinAge: 70})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "p1", res.Patients[0].ID)
}

func TestCountPatients(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	addPatient(driver, "p2", "B", "male", 1951)

	res, err := reg.CountPatients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestGetSessionByIDComparison(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	addSessions(driver, "p1", 0.50, 0.50, 0.50, 0.90)

	res, err := reg.GetSessionByID(context.Background(), "p1-s4")
	require.NoError(t, err)
	assert.Equal(t, "above", res.VsAverage)
	assert.Equal(t, 0.5, res.Average)
}

func TestGetSessionSummary(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	addSessions(driver, "p1", 0.60, 0.55, 0.50, 0.45)

	res, err := reg.GetSessionSummary(context.Background(), "p1", 0)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 4)
	assert.Equal(t, "p1-s4", res.Sessions[0].ID) // newest first
	assert.Equal(t, risk.TrendDeclining, res.Trend)
	assert.InDelta(t, 0.525, res.AverageScore, 1e-9)
}

func TestGetAtRiskPatients(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Healthy", "female", 1950)
	addSessions(driver, "p1", 0.80, 0.82, 0.81)
	addPatient(driver, "p2", "Worst", "male", 1948)
	addSessions(driver, "p2", 0.30, 0.28, 0.25)
	addPatient(driver, "p3", "Borderline", "female", 1955)
	addSessions(driver, "p3", 0.48, 0.45, 0.44)
	addPatient(driver, "p4", "NoSessions", "male", 1960)

	out, err := reg.GetAtRiskPatients(context.Background(), 0.5)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Worst average first, patients without sessions skipped.
	assert.Equal(t, "p2", out[0].PatientID)
	assert.Equal(t, "p3", out[1].PatientID)
	for _, a := range out {
		assert.NotEmpty(t, a.Reasons)
	}
}

func TestComparePatients(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Alice", "female", 1950)
	addSessions(driver, "p1", 0.80, 0.81, 0.82)
	addPatient(driver, "p2", "Bob", "male", 1952)
	addSessions(driver, "p2", 0.60, 0.50, 0.40)

	cmp, err := reg.ComparePatients(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, cmp.Patients, 2)
	assert.Equal(t, risk.TrendDeclining, cmp.Patients[1].Trend)
	require.NotEmpty(t, cmp.Insights)
	assert.Contains(t, cmp.Insights[0], "Alice")
}

func TestComparePatientsNeedsTwo(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Alice", "female", 1950)
	_, err := reg.ComparePatients(context.Background(), []string{"p1"})
	require.Error(t, err)
}

func TestAnalyzePatientDecline(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	addSessions(driver, "p1", 0.70, 0.72, 0.71, 0.55, 0.50, 0.45)

	out, err := reg.AnalyzePatientDecline(context.Background(), "p1")
	require.NoError(t, err)

	assert.InDelta(t, 0.5, out.RecentAverage, 1e-9)
	assert.InDelta(t, 0.71, out.EarlierAverage, 1e-9)
	assert.True(t, out.Declining)
	require.NotEmpty(t, out.Findings)
}

func TestAnalyzePatientDeclineFlagsGaps(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	driver.AddSession(&store.Session{ID: "s1", PatientID: "p1", Date: testNow.AddDate(0, 0, -30), Score: 0.6})
	driver.AddSession(&store.Session{ID: "s2", PatientID: "p1", Date: testNow.AddDate(0, 0, -2), Score: 0.6})

	out, err := reg.AnalyzePatientDecline(context.Background(), "p1")
	require.NoError(t, err)

	var gap bool
	for _, f := range out.Findings {
		if strings.Contains(f, "gap between sessions") {
			gap = true
		}
	}
	assert.True(t, gap, "expected gap finding in %v", out.Findings)
}

func TestAnalyzePatientDeclineNoSessions(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)

	_, err := reg.AnalyzePatientDecline(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, risk.ErrInsufficientData))
}

func TestAnalyzeSessionPerformanceBands(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	driver.AddSession(&store.Session{
		ID: "s1", PatientID: "p1", Date: testNow.AddDate(0, 0, -1), Score: 0.25,
		DurationMinutes: 8,
		Extraction:      &store.Extraction{DoctorAlerts: []string{"confused about medication schedule"}},
	})

	out, err := reg.AnalyzeSessionPerformance(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "critical", out.Band)
	assert.Contains(t, out.Observations, "confused about medication schedule")
	assert.Contains(t, out.Observations, "session lasted only 8 minutes")
}

func TestPredictDeclineRiskOrdering(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "Stable", "female", 1950)
	addSessions(driver, "p1", 0.80, 0.81, 0.80, 0.82)
	addPatient(driver, "p2", "Falling", "male", 1948)
	addSessions(driver, "p2", 0.70, 0.60, 0.50, 0.40)
	addPatient(driver, "p3", "Drifting", "female", 1952)
	addSessions(driver, "p3", 0.45, 0.40, 0.35, 0.30)

	batch, err := reg.PredictDeclineRisk(context.Background(), 0.4)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Evaluated)
	require.Len(t, batch.Predictions, 2)
	assert.Equal(t, "p2", batch.Predictions[0].PatientID)
	assert.Equal(t, "p3", batch.Predictions[1].PatientID)
	assert.GreaterOrEqual(t,
		batch.Predictions[0].DeclineProbability,
		batch.Predictions[1].DeclineProbability)
}

func TestExecuteDispatch(t *testing.T) {
	reg, driver := newFixture(t)
	addPatient(driver, "p1", "A", "female", 1950)
	addSessions(driver, "p1", 0.70, 0.71)

	res, err := reg.Execute(context.Background(), routing.Invocation{
		Tool: routing.ToolGetPatientByID,
		Args: routing.Args{PatientID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, routing.ToolGetPatientByID, res.Tool)
	_, ok := res.Data.(*PatientDetail)
	assert.True(t, ok)

	_, err = reg.Execute(context.Background(), routing.Invocation{Tool: routing.Tool("bogus")})
	require.Error(t, err)
}

func TestReferencedPatientIDs(t *testing.T) {
	results := []*Result{
		{Tool: routing.ToolGetAtRiskPatients, Data: []AtRiskPatient{
			{Assessment: risk.Assessment{PatientID: "p2"}},
			{Assessment: risk.Assessment{PatientID: "p1"}},
		}},
		{Tool: routing.ToolGetPatientByID, Data: &PatientDetail{ID: "p2"}},
	}
	assert.Equal(t, []string{"p2", "p1"}, ReferencedPatientIDs(results))
}
