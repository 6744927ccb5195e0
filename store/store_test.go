package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindmate/cognigate/store"
	"github.com/mindmate/cognigate/store/teststore"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(driver *teststore.Driver) *store.Store {
	return store.NewWithClock(driver, func() time.Time { return testNow })
}

func TestPatientAge(t *testing.T) {
	p := &store.Patient{DOB: time.Date(1950, 6, 15, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, 75, p.Age(testNow)) // birthday not yet reached

	p = &store.Patient{DOB: time.Date(1950, 2, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, 76, p.Age(testNow))

	p = &store.Patient{}
	assert.Equal(t, 0, p.Age(testNow))
}

func TestGetPatientNotFound(t *testing.T) {
	s := newStore(teststore.New())
	_, err := s.GetPatient(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListPatientsAgeFilter(t *testing.T) {
	driver := teststore.New()
	driver.AddPatient(&store.Patient{ID: "old", Name: "A", DOB: time.Date(1946, 1, 1, 0, 0, 0, 0, time.UTC)})
	driver.AddPatient(&store.Patient{ID: "young", Name: "B", DOB: time.Date(1975, 1, 1, 0, 0, 0, 0, time.UTC)})
	s := newStore(driver)

	minAge := 70
	patients, err := s.ListPatients(context.Background(), &store.FindPatient{MinAge: &minAge})
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "old", patients[0].ID)

	maxAge := 60
	patients, err = s.ListPatients(context.Background(), &store.FindPatient{MaxAge: &maxAge})
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "young", patients[0].ID)
}

func TestListPatientsNameFilter(t *testing.T) {
	driver := teststore.New()
	driver.AddPatient(&store.Patient{ID: "p1", Name: "Margaret Hill"})
	driver.AddPatient(&store.Patient{ID: "p2", Name: "Robert King"})
	s := newStore(driver)

	name := "margaret"
	patients, err := s.ListPatients(context.Background(), &store.FindPatient{Name: &name})
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "p1", patients[0].ID)
}

func TestListSessionsOrderAndLimit(t *testing.T) {
	driver := teststore.New()
	driver.AddPatient(&store.Patient{ID: "p1", Name: "A"})
	base := testNow.AddDate(0, 0, -30)
	for i := 0; i < 4; i++ {
		driver.AddSession(&store.Session{
			ID:        string(rune('a' + i)),
			PatientID: "p1",
			Date:      base.AddDate(0, 0, i*7),
			Score:     0.5,
		})
	}
	s := newStore(driver)

	pid := "p1"
	limit := 2
	sessions, err := s.ListSessions(context.Background(), &store.FindSession{
		PatientID: &pid, OrderDesc: true, Limit: &limit,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "d", sessions[0].ID)
	assert.Equal(t, "c", sessions[1].ID)

	chrono, err := s.SessionsForPatient(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, chrono, 4)
	assert.Equal(t, "a", chrono[0].ID)
	assert.Equal(t, "d", chrono[3].ID)
}

func TestSeedDemoPopulation(t *testing.T) {
	driver := teststore.New()
	teststore.SeedDemo(driver)
	s := newStore(driver)

	n, err := s.CountPatients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// One demo patient intentionally has no sessions.
	sessions, err := s.SessionsForPatient(context.Background(), "demo-p004")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	sessions, err = s.SessionsForPatient(context.Background(), "demo-p002")
	require.NoError(t, err)
	assert.NotEmpty(t, sessions)
}
