// Package classify assigns a model tier to an incoming query before any
// model call happens. The decision is a deterministic keyword scan so the
// cheap tier can never be picked by accident for analytical work.
package classify

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInputTooLarge is returned when a query exceeds the configured
// maximum length. Oversized input is rejected before classification.
var ErrInputTooLarge = errors.New("query exceeds maximum length")

// Tier selects which model class serves a query.
type Tier string

const (
	// TierSimple routes to the cheap, fast model for lookups and counting.
	TierSimple Tier = "simple"
	// TierComplex routes to the reasoning model for analysis, comparison
	// and prediction.
	TierComplex Tier = "complex"
)

// Hints carries request context that forces the complex tier regardless
// of query wording.
type Hints struct {
	// SessionScoped is true when the request names a specific session.
	SessionScoped bool
	// MultiPatient is true when the request already references more than
	// one patient.
	MultiPatient bool
}

// Result is the classification outcome. Reasoning names the signal that
// decided the tier so responses can echo why a model was chosen.
type Result struct {
	Tier      Tier
	Reasoning string
}

// Keyword tables are ordered longest-first inside each class so the
// reasoning string names the most specific match.
var simpleKeywords = []string{
	"how many",
	"show all",
	"find all",
	"list",
	"count",
	"total",
	"lookup",
}

var complexKeywords = []string{
	"recommend",
	"at-risk",
	"at risk",
	"analyz",
	"analys",
	"compare",
	"predict",
	"decline",
	"forecast",
	"insight",
	"concern",
	"explain",
	"trend",
	"risk",
	"why",
	"should",
}

// Classifier decides the model tier for a query.
type Classifier struct {
	maxLen int
}

// New returns a Classifier that rejects queries longer than maxLen runes.
func New(maxLen int) *Classifier {
	return &Classifier{maxLen: maxLen}
}

// Classify maps a query to a tier. The same query with the same hints
// always yields the same result. Ambiguous queries resolve to the
// complex tier so correctness wins over cost.
func (c *Classifier) Classify(query string, hints Hints) (Result, error) {
	if c.maxLen > 0 && len([]rune(query)) > c.maxLen {
		return Result{}, errors.Wrapf(ErrInputTooLarge, "%d runes, limit %d", len([]rune(query)), c.maxLen)
	}

	if hints.SessionScoped {
		return Result{Tier: TierComplex, Reasoning: "session-scoped request"}, nil
	}
	if hints.MultiPatient {
		return Result{Tier: TierComplex, Reasoning: "multi-patient context"}, nil
	}

	lower := strings.ToLower(query)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return Result{Tier: TierComplex, Reasoning: "analytical keyword: " + kw}, nil
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			return Result{Tier: TierSimple, Reasoning: "lookup keyword: " + kw}, nil
		}
	}
	return Result{Tier: TierComplex, Reasoning: "no lookup signal, defaulting to reasoning model"}, nil
}
