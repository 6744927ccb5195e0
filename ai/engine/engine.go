// Package engine orchestrates the query pipeline: classify the query,
// plan tool invocations, execute them against the record store, then
// hand the structured results to the model tier for a natural-language
// answer. Results feed the TTL cache and conversation memory only when
// the whole pipeline succeeds.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/mindmate/cognigate/ai/cache"
	"github.com/mindmate/cognigate/ai/classify"
	"github.com/mindmate/cognigate/ai/llm"
	"github.com/mindmate/cognigate/ai/memory"
	"github.com/mindmate/cognigate/ai/metrics"
	"github.com/mindmate/cognigate/ai/risk"
	"github.com/mindmate/cognigate/ai/routing"
	"github.com/mindmate/cognigate/ai/tools"
	"github.com/mindmate/cognigate/store"
)

// Config tunes pipeline timeouts and cache lifetimes.
type Config struct {
	QueryTimeout  time.Duration
	PredictionTTL time.Duration
	DashboardTTL  time.Duration
}

// DefaultConfig returns the production engine settings.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:  60 * time.Second,
		PredictionTTL: 24 * time.Hour,
		DashboardTTL:  24 * time.Hour,
	}
}

// Deps collects the engine's collaborators.
type Deps struct {
	Classifier *classify.Classifier
	Router     *routing.Router
	Tools      *tools.Registry
	LLM        llm.Service
	Cache      *cache.Cache[any]
	Memory     *memory.Memory
	Exporter   *metrics.Exporter
	Store      *store.Store
}

// Engine runs the query pipeline.
type Engine struct {
	classifier *classify.Classifier
	router     *routing.Router
	tools      *tools.Registry
	llm        llm.Service
	cache      *cache.Cache[any]
	memory     *memory.Memory
	exporter   *metrics.Exporter
	store      *store.Store
	cfg        Config
	group      singleflight.Group
}

// New wires an Engine from its dependencies.
func New(deps Deps, cfg Config) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.PredictionTTL <= 0 {
		cfg.PredictionTTL = 24 * time.Hour
	}
	if cfg.DashboardTTL <= 0 {
		cfg.DashboardTTL = 24 * time.Hour
	}
	return &Engine{
		classifier: deps.Classifier,
		router:     deps.Router,
		tools:      deps.Tools,
		llm:        deps.LLM,
		cache:      deps.Cache,
		memory:     deps.Memory,
		exporter:   deps.Exporter,
		store:      deps.Store,
		cfg:        cfg,
	}
}

// QueryContext carries request-scoped identifiers.
type QueryContext struct {
	OwnerID   string `json:"ownerId,omitempty"`
	PatientID string `json:"patientId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// QueryRequest is one natural-language query.
type QueryRequest struct {
	Query   string       `json:"query"`
	Context QueryContext `json:"context"`
}

// ModelInfo echoes which model served the query and why.
type ModelInfo struct {
	Tier      string `json:"tier"`
	Model     string `json:"model"`
	Reasoning string `json:"reasoning"`
}

// CacheInfo marks a response served from the result cache.
type CacheInfo struct {
	Cached     bool    `json:"cached"`
	AgeSeconds float64 `json:"ageSeconds,omitempty"`
}

// QueryResponse is the uniform response envelope.
type QueryResponse struct {
	Success   bool            `json:"success"`
	Response  string          `json:"response,omitempty"`
	ToolsUsed []string        `json:"toolsUsed"`
	ModelInfo *ModelInfo      `json:"modelInfo,omitempty"`
	RawData   []*tools.Result `json:"rawData,omitempty"`
	CacheInfo *CacheInfo      `json:"cacheInfo,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Error kinds are stable strings clients can branch on.
const (
	KindInputTooLarge         = "InputTooLarge"
	KindUnresolvableReference = "UnresolvableReference"
	KindBudgetExceeded        = "RoutingBudgetExceeded"
	KindInsufficientData      = "InsufficientData"
	KindNotFound              = "NotFound"
	KindProviderError         = "ProviderError"
	KindTimeout               = "Timeout"
	KindInternal              = "InternalError"
)

// ErrorKind maps a pipeline error to its stable kind string.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, classify.ErrInputTooLarge):
		return KindInputTooLarge
	case errors.Is(err, routing.ErrUnresolvableReference):
		return KindUnresolvableReference
	case errors.Is(err, routing.ErrBudgetExceeded):
		return KindBudgetExceeded
	case errors.Is(err, risk.ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, llm.ErrProvider):
		return KindProviderError
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// Query runs the full pipeline for one request. Failures are reported in
// the envelope, never as a transport error.
func (e *Engine) Query(ctx context.Context, req QueryRequest) *QueryResponse {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	resp := e.query(ctx, req)

	tier := "unclassified"
	if resp.ModelInfo != nil {
		tier = resp.ModelInfo.Tier
	}
	outcome := "success"
	if !resp.Success {
		outcome = resp.Error
	}
	if e.exporter != nil {
		e.exporter.ObserveQuery(tier, outcome, time.Since(start))
	}
	return resp
}

func (e *Engine) query(ctx context.Context, req QueryRequest) *QueryResponse {
	resp := &QueryResponse{ToolsUsed: []string{}}

	cls, err := e.classifier.Classify(req.Query, classify.Hints{
		SessionScoped: req.Context.SessionID != "",
		MultiPatient:  len(routing.ExtractIDs(req.Query)) > 1,
	})
	if err != nil {
		return fail(resp, err)
	}
	resp.ModelInfo = &ModelInfo{
		Tier:      string(cls.Tier),
		Model:     e.llm.ModelFor(cls.Tier),
		Reasoning: cls.Reasoning,
	}

	plan, err := e.router.Route(req.Query, routing.Context{
		OwnerID:   req.Context.OwnerID,
		PatientID: req.Context.PatientID,
		SessionID: req.Context.SessionID,
	})
	if err != nil {
		return fail(resp, err)
	}
	slog.Debug("query planned",
		"rule", plan.Rule,
		"invocations", len(plan.Invocations),
		"from_memory", plan.FromMemory,
	)

	results, cacheInfo, write, err := e.execute(ctx, plan)
	for _, res := range results {
		resp.ToolsUsed = append(resp.ToolsUsed, string(res.Tool))
	}
	resp.CacheInfo = cacheInfo
	if err != nil {
		return fail(resp, err)
	}
	resp.RawData = results

	answer, err := e.compose(ctx, req.Query, cls.Tier, results)
	if err != nil {
		// Tool output is still worth returning when only the model
		// call failed. The staged cache write is abandoned so a failed
		// or timed-out request leaves no trace.
		return fail(resp, err)
	}
	resp.Success = true
	resp.Response = answer

	if write != nil {
		e.cache.Set(write.key, write.value, write.ttl)
	}
	if req.Context.OwnerID != "" {
		e.memory.Record(memory.Entry{
			OwnerID:       req.Context.OwnerID,
			Query:         req.Query,
			ReferencedIDs: tools.ReferencedPatientIDs(results),
			ResultSummary: summarize(results),
		})
	}
	return resp
}

// cacheWrite stages a result-cache entry that is committed only once the
// whole pipeline has succeeded.
type cacheWrite struct {
	key   cache.Fingerprint
	value any
	ttl   time.Duration
}

// execute runs the plan in order. A prediction invocation consults the
// result cache and may chain per-patient decline detail for its top
// results, bounded by the routing budget.
func (e *Engine) execute(ctx context.Context, plan *routing.Plan) ([]*tools.Result, *CacheInfo, *cacheWrite, error) {
	var (
		results   []*tools.Result
		cacheInfo *CacheInfo
		write     *cacheWrite
	)
	executed := 0
	for _, inv := range plan.Invocations {
		if inv.Tool == routing.ToolPredictDeclineRisk {
			batchResults, info, w, err := e.executePrediction(ctx, inv, &executed)
			if err != nil {
				return results, cacheInfo, nil, err
			}
			results = append(results, batchResults...)
			cacheInfo = info
			write = w
			continue
		}

		if executed++; executed > e.router.Budget() {
			return results, cacheInfo, nil, errors.Wrapf(routing.ErrBudgetExceeded, "budget %d", e.router.Budget())
		}
		res, err := e.tools.Execute(ctx, inv)
		if e.exporter != nil {
			e.exporter.ObserveToolCall(string(inv.Tool), err)
		}
		if err != nil {
			return results, cacheInfo, nil, err
		}
		results = append(results, res)
	}
	return results, cacheInfo, write, nil
}

// executePrediction serves a decline-prediction batch through the TTL
// cache. The cache fingerprint covers the evaluated patient set and the
// probability floor, so a changed population recomputes. A fresh batch is
// returned as a staged write, not stored, so requests that later fail or
// time out never populate the cache.
func (e *Engine) executePrediction(ctx context.Context, inv routing.Invocation, executed *int) ([]*tools.Result, *CacheInfo, *cacheWrite, error) {
	ids, err := e.patientIDs(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	key := cache.PredictionKey(ids, inv.Args.MinProbability)

	if cached, ok := e.cache.Get(key); ok {
		if e.exporter != nil {
			e.exporter.ObserveCache(true)
		}
		batch, ok := cached.(*tools.PredictionBatch)
		if !ok {
			// A foreign value under our key means the cache is
			// inconsistent. Drop it and recompute.
			slog.Warn("cache inconsistency, recomputing", "key", key)
			e.cache.Invalidate(key)
		} else {
			age, _ := e.cache.Age(key)
			return []*tools.Result{{Tool: routing.ToolPredictDeclineRisk, Data: batch}},
				&CacheInfo{Cached: true, AgeSeconds: age.Seconds()}, nil, nil
		}
	} else if e.exporter != nil {
		e.exporter.ObserveCache(false)
	}

	if *executed++; *executed > e.router.Budget() {
		return nil, nil, nil, errors.Wrapf(routing.ErrBudgetExceeded, "budget %d", e.router.Budget())
	}
	batch, err := e.tools.PredictDeclineRisk(ctx, inv.Args.MinProbability)
	if e.exporter != nil {
		e.exporter.ObserveToolCall(string(routing.ToolPredictDeclineRisk), err)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	write := &cacheWrite{key: key, value: batch, ttl: e.cfg.PredictionTTL}

	results := []*tools.Result{{Tool: routing.ToolPredictDeclineRisk, Data: batch}}

	detail := inv.Args.DetailTop
	if detail > len(batch.Predictions) {
		detail = len(batch.Predictions)
	}
	for i := 0; i < detail; i++ {
		if *executed++; *executed > e.router.Budget() {
			return results, nil, nil, errors.Wrapf(routing.ErrBudgetExceeded, "budget %d", e.router.Budget())
		}
		res, err := e.tools.Execute(ctx, routing.Invocation{
			Tool: routing.ToolAnalyzePatientDecline,
			Args: routing.Args{PatientID: batch.Predictions[i].PatientID},
		})
		if e.exporter != nil {
			e.exporter.ObserveToolCall(string(routing.ToolAnalyzePatientDecline), err)
		}
		if err != nil {
			return results, nil, nil, err
		}
		results = append(results, res)
	}
	return results, nil, write, nil
}

func (e *Engine) patientIDs(ctx context.Context) ([]string, error) {
	patients, err := e.store.ListPatients(ctx, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

const systemPrompt = "You are a clinical assistant for cognitive therapy staff. " +
	"Answer strictly from the structured data provided. Be concise and factual, " +
	"flag risk findings clearly, and never invent patients, scores or dates."

// compose turns tool output into a natural-language answer.
func (e *Engine) compose(ctx context.Context, query string, tier classify.Tier, results []*tools.Result) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding tool results")
	}

	prompt := "Question: " + query + "\n\nData:\n" + string(data)
	if tier == classify.TierComplex {
		prompt += "\n\nExplain briefly how the data supports your answer."
	}

	start := time.Now()
	answer, err := e.llm.Complete(ctx, systemPrompt, prompt, tier)
	if e.exporter != nil && err == nil {
		e.exporter.ObserveLLM(e.llm.ModelFor(tier), time.Since(start))
	}
	return answer, err
}

func fail(resp *QueryResponse, err error) *QueryResponse {
	kind := ErrorKind(err)
	slog.Warn("query failed", "kind", kind, "error", err)
	resp.Success = false
	resp.Error = kind
	return resp
}

func summarize(results []*tools.Result) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, string(r.Tool))
	}
	return "answered via " + strings.Join(names, ", ")
}
