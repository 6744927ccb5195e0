// Package postgres implements the record store driver over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/store"
)

// DB is the PostgreSQL record store driver.
type DB struct {
	db *sql.DB
}

// NewDB opens a connection pool against the record store.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	return &DB{db: db}, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d *DB) GetPatient(ctx context.Context, id string) (*store.Patient, error) {
	stmt := `SELECT patient_id, name, dob, gender FROM patients WHERE patient_id = $1`
	var p store.Patient
	err := d.db.QueryRowContext(ctx, stmt, id).Scan(&p.ID, &p.Name, &p.DOB, &p.Gender)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "patient %s", id)
		}
		return nil, errors.Wrap(err, "failed to get patient")
	}
	return &p, nil
}

func (d *DB) ListPatients(ctx context.Context, find *store.FindPatient) ([]*store.Patient, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.Name != nil {
		where = append(where, "name ILIKE "+placeholder(len(args)+1))
		args = append(args, "%"+*find.Name+"%")
	}
	if find.Gender != nil {
		where = append(where, "LOWER(gender) = LOWER("+placeholder(len(args)+1)+")")
		args = append(args, *find.Gender)
	}

	query := `SELECT patient_id, name, dob, gender FROM patients
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name ASC`
	if find.Limit != nil {
		query += " LIMIT " + strconv.Itoa(*find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patients")
	}
	defer rows.Close()

	var patients []*store.Patient
	for rows.Next() {
		var p store.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.DOB, &p.Gender); err != nil {
			return nil, errors.Wrap(err, "failed to scan patient")
		}
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}

func (d *DB) CountPatients(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count patients")
	}
	return count, nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	stmt := sessionSelect + ` WHERE session_id = $1`
	row := d.db.QueryRowContext(ctx, stmt, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "session %s", id)
		}
		return nil, errors.Wrap(err, "failed to get session")
	}
	return s, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.PatientID != nil {
		where = append(where, "patient_id = "+placeholder(len(args)+1))
		args = append(args, *find.PatientID)
	}

	order := "ASC"
	if find.OrderDesc {
		order = "DESC"
	}
	query := sessionSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY session_date ` + order
	if find.Limit != nil {
		query += " LIMIT " + strconv.Itoa(*find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

const sessionSelect = `SELECT session_id, patient_id, session_date, overall_score,
	duration_minutes, exercise_type, notes, ai_extracted_data FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession normalizes the record store's 0-100 integer score to [0,1] and
// decodes the optional AI-extraction JSONB blob.
func scanSession(row rowScanner) (*store.Session, error) {
	var (
		s          store.Session
		rawScore   sql.NullFloat64
		duration   sql.NullInt64
		exercise   sql.NullString
		notes      sql.NullString
		extraction []byte
	)
	if err := row.Scan(&s.ID, &s.PatientID, &s.Date, &rawScore, &duration, &exercise, &notes, &extraction); err != nil {
		return nil, err
	}
	if rawScore.Valid {
		s.Score = rawScore.Float64 / 100
	}
	s.DurationMinutes = int(duration.Int64)
	s.ExerciseType = exercise.String
	s.Notes = notes.String
	if len(extraction) > 0 {
		var ex store.Extraction
		if err := json.Unmarshal(extraction, &ex); err == nil {
			s.Extraction = &ex
		}
	}
	return &s, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}
