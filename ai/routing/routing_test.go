package routing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindmate/cognigate/ai/memory"
)

type stubResolver struct {
	entry memory.Entry
	ok    bool
}

func (s *stubResolver) Resolve(string) (memory.Entry, bool) { return s.entry, s.ok }

func newRouter(mem Resolver) *Router {
	return New(DefaultConfig(), mem)
}

func singleTool(t *testing.T, plan *Plan) Invocation {
	t.Helper()
	require.Len(t, plan.Invocations, 1)
	return plan.Invocations[0]
}

func TestRouteSessionContext(t *testing.T) {
	r := newRouter(nil)

	plan, err := r.Route("How did this session go? Any insights?", Context{SessionID: "s1"})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolAnalyzeSessionPerformance, inv.Tool)
	assert.Equal(t, "s1", inv.Args.SessionID)

	plan, err = r.Route("show me the raw record", Context{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ToolGetSessionByID, singleTool(t, plan).Tool)
}

func TestRoutePatientContext(t *testing.T) {
	r := newRouter(nil)

	plan, err := r.Route("is this patient declining?", Context{PatientID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, ToolAnalyzePatientDecline, singleTool(t, plan).Tool)

	plan, err = r.Route("show recent sessions", Context{PatientID: "p1"})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolGetSessionSummary, inv.Tool)
	assert.Equal(t, "p1", inv.Args.PatientID)

	plan, err = r.Route("tell me about this person", Context{PatientID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, ToolGetPatientByID, singleTool(t, plan).Tool)
}

func TestRouteAtRisk(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("Show me all at-risk patients", Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolGetAtRiskPatients, inv.Tool)
	assert.Equal(t, 0.5, inv.Args.Threshold)
}

func TestRouteAttentionKeyword(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("which patients require attention this week", Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolGetAtRiskPatients, inv.Tool)
	assert.Equal(t, "at-risk", plan.Rule)
}

func TestRouteCompareWithInlineIDs(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("Compare P001 and P002", Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolComparePatients, inv.Tool)
	assert.Equal(t, []string{"P001", "P002"}, inv.Args.PatientIDs)
}

func TestRouteCompareWithUUIDs(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route(
		"compare 3f2c8a1e-9d4b-4c6a-8e21-5f0a9b7c3d10 with 7a1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d",
		Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolComparePatients, inv.Tool)
	assert.Equal(t, []string{
		"3f2c8a1e-9d4b-4c6a-8e21-5f0a9b7c3d10",
		"7a1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d",
	}, inv.Args.PatientIDs)
}

func TestRouteCompareThroughMemory(t *testing.T) {
	mem := &stubResolver{
		entry: memory.Entry{ReferencedIDs: []string{"p7", "p9"}},
		ok:    true,
	}
	r := newRouter(mem)

	plan, err := r.Route("compare them", Context{OwnerID: "dr"})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolComparePatients, inv.Tool)
	assert.Equal(t, []string{"p7", "p9"}, inv.Args.PatientIDs)
}

func TestRouteCompareWithoutEnoughPatientsFails(t *testing.T) {
	r := newRouter(&stubResolver{})
	_, err := r.Route("compare them", Context{OwnerID: "dr"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableReference))
}

func TestRoutePredictDecline(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("Predict which patients will decline next month", Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolPredictDeclineRisk, inv.Tool)
	assert.Equal(t, 0.4, inv.Args.MinProbability)
	assert.Equal(t, 3, inv.Args.DetailTop)
}

func TestRouteFollowUpSingleReference(t *testing.T) {
	mem := &stubResolver{
		entry: memory.Entry{ReferencedIDs: []string{"p4"}},
		ok:    true,
	}
	r := newRouter(mem)

	plan, err := r.Route("tell me more about that patient", Context{OwnerID: "dr"})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolGetPatientByID, inv.Tool)
	assert.Equal(t, "p4", inv.Args.PatientID)
	assert.True(t, plan.FromMemory)
}

func TestRouteFollowUpMultiReference(t *testing.T) {
	mem := &stubResolver{
		entry: memory.Entry{ReferencedIDs: []string{"p1", "p2", "p3"}},
		ok:    true,
	}
	r := newRouter(mem)

	plan, err := r.Route("are those declining?", Context{OwnerID: "dr"})
	require.NoError(t, err)
	require.Len(t, plan.Invocations, 3)
	for i, inv := range plan.Invocations {
		assert.Equal(t, ToolAnalyzePatientDecline, inv.Tool)
		assert.Equal(t, mem.entry.ReferencedIDs[i], inv.Args.PatientID)
	}
}

func TestRouteFollowUpWithoutMemoryFails(t *testing.T) {
	r := newRouter(&stubResolver{})
	_, err := r.Route("tell me more about them", Context{OwnerID: "dr"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableReference))
}

func TestRouteFollowUpBudget(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = "p" + string(rune('a'+i))
	}
	mem := &stubResolver{entry: memory.Entry{ReferencedIDs: ids}, ok: true}
	r := newRouter(mem)

	_, err := r.Route("are those declining?", Context{OwnerID: "dr"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestRouteCount(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("How many patients are in the database?", Context{})
	require.NoError(t, err)
	assert.Equal(t, ToolCountPatients, singleTool(t, plan).Tool)
}

func TestRouteSearchFallbackExtractsFilters(t *testing.T) {
	r := newRouter(nil)
	plan, err := r.Route("female patients over 75 named margaret", Context{})
	require.NoError(t, err)
	inv := singleTool(t, plan)
	assert.Equal(t, ToolSearchPatients, inv.Tool)
	assert.Equal(t, "female", inv.Args.Gender)
	assert.Equal(t, 75, inv.Args.MinAge)
	assert.Equal(t, "margaret", inv.Args.Name)
}

func TestRouteDeterministic(t *testing.T) {
	r := newRouter(nil)
	first, err := r.Route("Show me all at-risk patients", Context{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Route("Show me all at-risk patients", Context{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
