// Package teststore is an in-memory record store driver used by tests and by
// demo mode, where no database is attached.
package teststore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/store"
)

// Driver holds patients and sessions in memory.
type Driver struct {
	mu       sync.RWMutex
	patients map[string]*store.Patient
	sessions map[string]*store.Session
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		patients: make(map[string]*store.Patient),
		sessions: make(map[string]*store.Session),
	}
}

// AddPatient seeds a patient.
func (d *Driver) AddPatient(p *store.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.patients[p.ID] = &cp
}

// AddSession seeds a session.
func (d *Driver) AddSession(s *store.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *s
	d.sessions[s.ID] = &cp
}

func (d *Driver) GetPatient(_ context.Context, id string) (*store.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "patient %s", id)
	}
	cp := *p
	return &cp, nil
}

func (d *Driver) ListPatients(_ context.Context, find *store.FindPatient) ([]*store.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*store.Patient
	for _, p := range d.patients {
		if find.Name != nil && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(*find.Name)) {
			continue
		}
		if find.Gender != nil && !strings.EqualFold(p.Gender, *find.Gender) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (d *Driver) CountPatients(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.patients), nil
}

func (d *Driver) GetSession(_ context.Context, id string) (*store.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "session %s", id)
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) ListSessions(_ context.Context, find *store.FindSession) ([]*store.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*store.Session
	for _, s := range d.sessions {
		if find.PatientID != nil && s.PatientID != *find.PatientID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if find.OrderDesc {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Date.Before(out[j].Date)
	})
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (d *Driver) Ping(_ context.Context) error { return nil }

func (d *Driver) Close() error { return nil }
