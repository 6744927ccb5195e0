package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Fingerprint identifies a cached computation by its inputs. Fingerprints
// embed the patient ids they depend on so per-patient invalidation can
// find them by substring.
type Fingerprint string

// DashboardKey fingerprints a per-patient dashboard assembly.
func DashboardKey(patientID string) Fingerprint {
	return Fingerprint("dashboard:" + patientID)
}

// PredictionKey fingerprints a decline-prediction batch over a patient
// set. The ids are sorted so the same set always produces the same key,
// and the probability floor is bucketed to two decimals.
func PredictionKey(patientIDs []string, minProbability float64) Fingerprint {
	ids := make([]string, len(patientIDs))
	copy(ids, patientIDs)
	sort.Strings(ids)
	return Fingerprint(fmt.Sprintf("prediction:%s:p%.2f", strings.Join(ids, ","), minProbability))
}

// Mentions reports whether the fingerprint depends on patientID.
func (f Fingerprint) Mentions(patientID string) bool {
	if patientID == "" {
		return false
	}
	rest, ok := strings.CutPrefix(string(f), "dashboard:")
	if ok {
		return rest == patientID
	}
	rest, ok = strings.CutPrefix(string(f), "prediction:")
	if !ok {
		return strings.Contains(string(f), patientID)
	}
	if i := strings.LastIndex(rest, ":p"); i >= 0 {
		rest = rest[:i]
	}
	for _, id := range strings.Split(rest, ",") {
		if id == patientID {
			return true
		}
	}
	return false
}
