// Package store provides read access to the clinical record store.
//
// The record store is owned by the main backend; cognigate only reads
// patients and sessions from it. All mutation happens elsewhere.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a referenced patient or session does not exist.
var ErrNotFound = errors.New("record not found")

// Patient is a read-only view of a patient row.
type Patient struct {
	ID     string    `json:"patientId"`
	Name   string    `json:"name"`
	DOB    time.Time `json:"dob"`
	Gender string    `json:"gender"`
}

// Age computes the patient age at the given instant.
func (p *Patient) Age(now time.Time) int {
	if p.DOB.IsZero() {
		return 0
	}
	age := now.Year() - p.DOB.Year()
	if now.Month() < p.DOB.Month() || (now.Month() == p.DOB.Month() && now.Day() < p.DOB.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Extraction is the structured AI-extraction blob attached to a session by a
// prior analysis step. Cognigate treats it as opaque facts to surface.
type Extraction struct {
	MemoriesExtracted   []string `json:"memoriesExtracted,omitempty"`
	CognitiveTestScores []string `json:"cognitiveTestScores,omitempty"`
	NotableEvents       []string `json:"notableEvents,omitempty"`
	DoctorAlerts        []string `json:"doctorAlerts,omitempty"`
}

// Session is a read-only view of a therapy session row. Score is normalized
// to [0,1]. Sessions are immutable once created.
type Session struct {
	ID              string      `json:"sessionId"`
	PatientID       string      `json:"patientId"`
	Date            time.Time   `json:"sessionDate"`
	Score           float64     `json:"score"`
	DurationMinutes int         `json:"durationMinutes,omitempty"`
	ExerciseType    string      `json:"exerciseType,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Extraction      *Extraction `json:"aiExtraction,omitempty"`
}

// FindPatient filters a patient listing. Nil fields match everything.
type FindPatient struct {
	Name   *string // substring match, case-insensitive
	Gender *string
	MinAge *int
	MaxAge *int
	Limit  *int
}

// FindSession filters a session listing.
type FindSession struct {
	PatientID *string
	// OrderDesc lists newest-first when true; default is chronological.
	OrderDesc bool
	Limit     *int
}

// Driver is the record store access interface implemented per backend.
type Driver interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	ListPatients(ctx context.Context, find *FindPatient) ([]*Patient, error)
	CountPatients(ctx context.Context) (int, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store is the facade the rest of the service goes through. Age filtering is
// applied here because age is derived from DOB at read time.
type Store struct {
	driver Driver
	now    func() time.Time
}

// New creates a Store over the given driver.
func New(driver Driver) *Store {
	return &Store{driver: driver, now: time.Now}
}

// NewWithClock creates a Store with an injected clock, for tests.
func NewWithClock(driver Driver, now func() time.Time) *Store {
	return &Store{driver: driver, now: now}
}

func (s *Store) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.driver.GetPatient(ctx, id)
}

func (s *Store) ListPatients(ctx context.Context, find *FindPatient) ([]*Patient, error) {
	if find == nil {
		find = &FindPatient{}
	}
	patients, err := s.driver.ListPatients(ctx, find)
	if err != nil {
		return nil, err
	}
	if find.MinAge == nil && find.MaxAge == nil {
		return patients, nil
	}
	now := s.now()
	filtered := make([]*Patient, 0, len(patients))
	for _, p := range patients {
		age := p.Age(now)
		if find.MinAge != nil && age < *find.MinAge {
			continue
		}
		if find.MaxAge != nil && age > *find.MaxAge {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// AgeOf computes a patient's current age on the store clock.
func (s *Store) AgeOf(p *Patient) int {
	return p.Age(s.now())
}

func (s *Store) CountPatients(ctx context.Context) (int, error) {
	return s.driver.CountPatients(ctx)
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.driver.GetSession(ctx, id)
}

// ListSessions returns sessions for the given filter. Callers that feed the
// risk scorer should request chronological order.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	if find == nil {
		find = &FindSession{}
	}
	return s.driver.ListSessions(ctx, find)
}

// SessionsForPatient is a shorthand for the common chronological listing.
func (s *Store) SessionsForPatient(ctx context.Context, patientID string) ([]*Session, error) {
	return s.driver.ListSessions(ctx, &FindSession{PatientID: &patientID})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
