package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mindmate/cognigate/ai/cache"
	"github.com/mindmate/cognigate/ai/memory"
	"github.com/mindmate/cognigate/ai/risk"
	"github.com/mindmate/cognigate/ai/tools"
)

// Dashboard is the per-patient overview panel: identity, recent
// sessions, current assessment and a forward prediction.
type Dashboard struct {
	Patient     *tools.PatientDetail `json:"patient"`
	Prediction  *risk.Prediction     `json:"prediction,omitempty"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// DashboardResult wraps a dashboard with its cache provenance.
type DashboardResult struct {
	Dashboard *Dashboard `json:"dashboard"`
	Cached    bool       `json:"cached"`
	Age       float64    `json:"ageSeconds,omitempty"`
}

// Dashboard assembles the overview for one patient, served from the TTL
// cache when fresh. Concurrent misses for the same patient collapse to a
// single assembly.
func (e *Engine) Dashboard(ctx context.Context, patientID string) (*DashboardResult, error) {
	key := cache.DashboardKey(patientID)
	if v, ok := e.cache.Get(key); ok {
		if e.exporter != nil {
			e.exporter.ObserveCache(true)
		}
		if d, ok := v.(*Dashboard); ok {
			age, _ := e.cache.Age(key)
			return &DashboardResult{Dashboard: d, Cached: true, Age: age.Seconds()}, nil
		}
		slog.Warn("cache inconsistency, recomputing", "key", key)
		e.cache.Invalidate(key)
	}
	if e.exporter != nil {
		e.exporter.ObserveCache(false)
	}

	v, err, _ := e.group.Do(string(key), func() (any, error) {
		d, err := e.assembleDashboard(ctx, patientID)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, d, e.cfg.DashboardTTL)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return &DashboardResult{Dashboard: v.(*Dashboard)}, nil
}

func (e *Engine) assembleDashboard(ctx context.Context, patientID string) (*Dashboard, error) {
	detail, err := e.tools.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Patient: detail, GeneratedAt: time.Now()}

	sessions, err := e.store.SessionsForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		pred, err := e.tools.PredictForPatient(patientID, sessions)
		if err != nil {
			return nil, err
		}
		d.Prediction = pred
	}
	return d, nil
}

// AtRisk is the direct population scan, bypassing the model tier.
func (e *Engine) AtRisk(ctx context.Context, threshold float64) ([]tools.AtRiskPatient, error) {
	return e.tools.GetAtRiskPatients(ctx, threshold)
}

// PatientDetail is the direct patient lookup, bypassing the model tier.
func (e *Engine) PatientDetail(ctx context.Context, patientID string) (*tools.PatientDetail, error) {
	return e.tools.GetPatientByID(ctx, patientID)
}

// InvalidatePatient drops every cached result that depends on patientID.
// Call it when new session data lands.
func (e *Engine) InvalidatePatient(patientID string) int {
	n := e.cache.InvalidatePatient(patientID)
	slog.Info("cache invalidated", "patient_id", patientID, "entries", n)
	return n
}

// CacheStats exposes result cache occupancy.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// ClearCache drops every cached result.
func (e *Engine) ClearCache() int { return e.cache.Clear() }

// CleanupExpired evicts expired cache entries.
func (e *Engine) CleanupExpired() int { return e.cache.CleanupExpired() }

// MemoryStats exposes conversation memory occupancy.
func (e *Engine) MemoryStats() memory.Stats { return e.memory.Stats() }

// StartSweeper evicts expired cache entries every interval until ctx is
// done.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.CleanupExpired(); n > 0 {
					slog.Info("cache sweep", "evicted", n)
				}
			}
		}
	}()
}
