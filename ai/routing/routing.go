// Package routing maps a classified query onto a plan of tool
// invocations. Routing is a priority-ordered rule table over keyword
// matching plus request context, never a model call, so the same query
// and context always produce the same plan.
package routing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/ai/memory"
)

var (
	// ErrUnresolvableReference is returned when a query leans on earlier
	// conversation ("them", "those") but no usable memory entry exists.
	ErrUnresolvableReference = errors.New("referential query with no conversation context")

	// ErrBudgetExceeded is returned when a plan would exceed the per-query
	// tool invocation budget.
	ErrBudgetExceeded = errors.New("tool invocation budget exceeded")
)

// Tool names one dispatchable capability.
type Tool string

const (
	ToolGetPatientByID            Tool = "get_patient_by_id"
	ToolSearchPatients            Tool = "search_patients"
	ToolCountPatients             Tool = "count_patients"
	ToolGetSessionByID            Tool = "get_session_by_id"
	ToolGetSessionSummary         Tool = "get_session_summary"
	ToolGetAtRiskPatients         Tool = "get_at_risk_patients"
	ToolComparePatients           Tool = "compare_patients"
	ToolAnalyzePatientDecline     Tool = "analyze_patient_decline"
	ToolAnalyzeSessionPerformance Tool = "analyze_session_performance"
	ToolPredictDeclineRisk        Tool = "predict_decline_risk"
)

// Args carries the typed arguments of one invocation. Unused fields stay
// at their zero value.
type Args struct {
	PatientID      string
	SessionID      string
	PatientIDs     []string
	Threshold      float64
	MinProbability float64
	Name           string
	Gender         string
	MinAge         int
	MaxAge         int
	Limit          int
	// DetailTop asks the executor to follow a prediction batch with a
	// per-patient decline analysis for the top N results.
	DetailTop int
}

// Invocation is one planned tool call.
type Invocation struct {
	Tool Tool
	Args Args
}

// Plan is the ordered invocation list for a query.
type Plan struct {
	Invocations []Invocation
	// FromMemory is true when a referential query was resolved through
	// conversation memory.
	FromMemory bool
	// Rule names the rule that produced the plan, echoed in logs.
	Rule string
}

// Context is the request context the router may draw ids from.
type Context struct {
	OwnerID   string
	PatientID string
	SessionID string
}

// Resolver looks up conversational context for referential queries.
// *memory.Memory satisfies it.
type Resolver interface {
	Resolve(ownerID string) (memory.Entry, bool)
}

// Config tunes default tool arguments and the invocation budget.
type Config struct {
	AtRiskThreshold    float64
	MinDeclineProb     float64
	Budget             int
	DetailTopDeclining int
}

// DefaultConfig returns the production routing defaults.
func DefaultConfig() Config {
	return Config{
		AtRiskThreshold:    0.5,
		MinDeclineProb:     0.4,
		Budget:             10,
		DetailTopDeclining: 3,
	}
}

// Router builds plans from queries.
type Router struct {
	cfg    Config
	memory Resolver
}

// New returns a Router that resolves references through mem.
func New(cfg Config, mem Resolver) *Router {
	if cfg.Budget <= 0 {
		cfg.Budget = 10
	}
	return &Router{cfg: cfg, memory: mem}
}

var referenceKeywords = []string{
	"them", "those", "these", "that patient", "the ones", "more about",
}

var shortIDPattern = regexp.MustCompile(`\b[Pp]\d{3,}\b`)

// ExtractIDs pulls patient identifiers out of free text: short clinical
// ids like P001 and full UUIDs.
func ExtractIDs(query string) []string {
	ids := shortIDPattern.FindAllString(query, -1)
	for _, tok := range strings.FieldsFunc(query, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '?' || r == '!' || r == '\n' || r == '\t'
	}) {
		if u, err := uuid.Parse(tok); err == nil {
			ids = append(ids, u.String())
		}
	}
	return ids
}

// Route builds the invocation plan for query under ctx. The rule table
// is evaluated top to bottom and the first matching rule wins.
func (r *Router) Route(query string, ctx Context) (*Plan, error) {
	plan, err := r.route(query, ctx, false)
	if err != nil {
		return nil, err
	}
	if len(plan.Invocations) > r.cfg.Budget {
		return nil, errors.Wrapf(ErrBudgetExceeded, "plan needs %d invocations, budget %d", len(plan.Invocations), r.cfg.Budget)
	}
	return plan, nil
}

// Budget returns the per-query invocation budget for executors that
// expand chained calls at run time.
func (r *Router) Budget() int { return r.cfg.Budget }

func (r *Router) route(query string, ctx Context, resolved bool) (*Plan, error) {
	lower := strings.ToLower(query)
	ids := ExtractIDs(query)

	// Rule 1: explicit session context.
	if ctx.SessionID != "" {
		if containsAny(lower, "analy", "perform", "insight", "concern", "how did") {
			return &Plan{
				Rule:        "session-analysis",
				FromMemory:  resolved,
				Invocations: []Invocation{{Tool: ToolAnalyzeSessionPerformance, Args: Args{SessionID: ctx.SessionID}}},
			}, nil
		}
		return &Plan{
			Rule:        "session-lookup",
			FromMemory:  resolved,
			Invocations: []Invocation{{Tool: ToolGetSessionByID, Args: Args{SessionID: ctx.SessionID}}},
		}, nil
	}

	// Rule 2: explicit patient context.
	if ctx.PatientID != "" && !strings.Contains(lower, "compare") {
		switch {
		case containsAny(lower, "declin", "getting worse", "deteriorat"):
			return &Plan{
				Rule:        "patient-decline",
				FromMemory:  resolved,
				Invocations: []Invocation{{Tool: ToolAnalyzePatientDecline, Args: Args{PatientID: ctx.PatientID}}},
			}, nil
		case strings.Contains(lower, "session"):
			return &Plan{
				Rule:        "patient-sessions",
				FromMemory:  resolved,
				Invocations: []Invocation{{Tool: ToolGetSessionSummary, Args: Args{PatientID: ctx.PatientID, Limit: 10}}},
			}, nil
		default:
			return &Plan{
				Rule:        "patient-lookup",
				FromMemory:  resolved,
				Invocations: []Invocation{{Tool: ToolGetPatientByID, Args: Args{PatientID: ctx.PatientID}}},
			}, nil
		}
	}

	// Rule 3: population risk scan.
	if containsAny(lower, "at-risk", "at risk", "attention", "worried about", "concern") {
		return &Plan{
			Rule:        "at-risk",
			FromMemory:  resolved,
			Invocations: []Invocation{{Tool: ToolGetAtRiskPatients, Args: Args{Threshold: r.cfg.AtRiskThreshold}}},
		}, nil
	}

	// Rule 4: comparison across two or more known patients.
	if strings.Contains(lower, "compare") {
		compareIDs := ids
		if ctx.PatientID != "" && !containsString(compareIDs, ctx.PatientID) {
			compareIDs = append([]string{ctx.PatientID}, compareIDs...)
		}
		if len(compareIDs) < 2 && !resolved {
			if entry, ok := r.resolveMemory(ctx.OwnerID); ok {
				compareIDs = mergeIDs(compareIDs, entry.ReferencedIDs)
			}
		}
		if len(compareIDs) >= 2 {
			return &Plan{
				Rule:        "compare",
				FromMemory:  resolved,
				Invocations: []Invocation{{Tool: ToolComparePatients, Args: Args{PatientIDs: compareIDs}}},
			}, nil
		}
		return nil, errors.Wrap(ErrUnresolvableReference, "comparison needs at least two patients")
	}

	// Rule 5: decline prediction over the population, followed by a
	// per-patient breakdown of the top results. The breakdown is chained
	// at execution time once the batch is known.
	if containsAny(lower, "predict", "forecast", "next month", "will decline", "going to decline", "who will") {
		return &Plan{
			Rule:       "predict-decline",
			FromMemory: resolved,
			Invocations: []Invocation{{
				Tool: ToolPredictDeclineRisk,
				Args: Args{MinProbability: r.cfg.MinDeclineProb, DetailTop: r.cfg.DetailTopDeclining},
			}},
		}, nil
	}

	// Rule 6: referential follow-up resolved through memory. One level
	// of resolution only.
	if !resolved && containsAny(lower, referenceKeywords...) {
		entry, ok := r.resolveMemory(ctx.OwnerID)
		if !ok {
			return nil, errors.Wrapf(ErrUnresolvableReference, "query %q", query)
		}
		next := ctx
		if len(entry.ReferencedIDs) == 1 {
			next.PatientID = entry.ReferencedIDs[0]
			return r.route(query, next, true)
		}
		return r.routeResolvedSet(lower, entry.ReferencedIDs)
	}

	// Rule 7: fallback. Counting phrasing goes to the counter, anything
	// else becomes a filtered search.
	if containsAny(lower, "how many", "count", "total number") {
		return &Plan{
			Rule:        "count",
			FromMemory:  resolved,
			Invocations: []Invocation{{Tool: ToolCountPatients}},
		}, nil
	}
	return &Plan{
		Rule:        "search",
		FromMemory:  resolved,
		Invocations: []Invocation{{Tool: ToolSearchPatients, Args: extractFilters(lower)}},
	}, nil
}

// routeResolvedSet plans over a multi-patient set recalled from memory.
func (r *Router) routeResolvedSet(lower string, ids []string) (*Plan, error) {
	if strings.Contains(lower, "compare") {
		return &Plan{
			Rule:        "compare",
			FromMemory:  true,
			Invocations: []Invocation{{Tool: ToolComparePatients, Args: Args{PatientIDs: ids}}},
		}, nil
	}
	invocations := make([]Invocation, 0, len(ids))
	tool := ToolGetPatientByID
	if containsAny(lower, "declin", "predict") {
		tool = ToolAnalyzePatientDecline
	}
	for _, id := range ids {
		invocations = append(invocations, Invocation{Tool: tool, Args: Args{PatientID: id}})
	}
	if len(invocations) > r.cfg.Budget {
		return nil, errors.Wrapf(ErrBudgetExceeded, "%d recalled patients, budget %d", len(invocations), r.cfg.Budget)
	}
	return &Plan{Rule: "follow-up", FromMemory: true, Invocations: invocations}, nil
}

func (r *Router) resolveMemory(ownerID string) (memory.Entry, bool) {
	if r.memory == nil || ownerID == "" {
		return memory.Entry{}, false
	}
	return r.memory.Resolve(ownerID)
}

var (
	agedOverPattern  = regexp.MustCompile(`(?:over|older than|above)\s+(\d{1,3})`)
	agedUnderPattern = regexp.MustCompile(`(?:under|younger than|below)\s+(\d{1,3})`)
	namedPattern     = regexp.MustCompile(`(?:named|called)\s+([a-z]+)`)
)

// extractFilters pulls searchable attributes out of free text.
func extractFilters(lower string) Args {
	var a Args
	switch {
	case strings.Contains(lower, "female") || strings.Contains(lower, "women"):
		a.Gender = "female"
	case strings.Contains(lower, "male") || strings.Contains(lower, "men"):
		a.Gender = "male"
	}
	if m := agedOverPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			a.MinAge = n
		}
	}
	if m := agedUnderPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			a.MaxAge = n
		}
	}
	if m := namedPattern.FindStringSubmatch(lower); m != nil {
		a.Name = m[1]
	}
	return a
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func mergeIDs(a, b []string) []string {
	out := append([]string{}, a...)
	for _, id := range b {
		if !containsString(out, id) {
			out = append(out, id)
		}
	}
	return out
}
