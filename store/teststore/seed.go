package teststore

import (
	"fmt"
	"time"

	"github.com/mindmate/cognigate/store"
)

// SeedDemo fills the driver with a small plausible population for demo
// mode: one stable patient, one declining, one erratic and one with no
// session history yet.
func SeedDemo(d *Driver) {
	now := time.Now().UTC().Truncate(24 * time.Hour)

	demo := []struct {
		patient *store.Patient
		scores  []float64
	}{
		{
			patient: &store.Patient{ID: "demo-p001", Name: "Margaret Hill", Gender: "female", DOB: date(1948, 3, 22)},
			scores:  []float64{0.74, 0.76, 0.73, 0.75, 0.77, 0.74},
		},
		{
			patient: &store.Patient{ID: "demo-p002", Name: "Robert King", Gender: "male", DOB: date(1946, 11, 4)},
			scores:  []float64{0.62, 0.58, 0.52, 0.47, 0.41, 0.36},
		},
		{
			patient: &store.Patient{ID: "demo-p003", Name: "Alice Nguyen", Gender: "female", DOB: date(1953, 7, 15)},
			scores:  []float64{0.81, 0.42, 0.78, 0.45, 0.80},
		},
		{
			patient: &store.Patient{ID: "demo-p004", Name: "Frank Osei", Gender: "male", DOB: date(1950, 1, 9)},
		},
	}

	for _, entry := range demo {
		d.AddPatient(entry.patient)
		base := now.AddDate(0, 0, -7*len(entry.scores))
		for i, score := range entry.scores {
			sess := &store.Session{
				ID:              fmt.Sprintf("%s-s%02d", entry.patient.ID, i+1),
				PatientID:       entry.patient.ID,
				Date:            base.AddDate(0, 0, i*7),
				Score:           score,
				DurationMinutes: 25 + i,
				ExerciseType:    "memory recall",
			}
			if score < 0.45 {
				sess.Extraction = &store.Extraction{
					DoctorAlerts: []string{"scored below expected range"},
				}
			}
			d.AddSession(sess)
		}
	}
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
