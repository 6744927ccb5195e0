package llm

import (
	"context"
	"fmt"

	"github.com/mindmate/cognigate/ai/classify"
)

// offline is the fallback Service used when no provider is configured,
// typically in demo mode. It produces a deterministic acknowledgement so
// the pipeline and its structured output remain usable without a key.
type offline struct{}

// NewOffline returns a Service that answers without calling a provider.
func NewOffline() Service {
	return offline{}
}

func (offline) Complete(_ context.Context, _, _ string, tier classify.Tier) (string, error) {
	return fmt.Sprintf("No language model is configured. The %s-tier data for this query is attached as rawData.", tier), nil
}

func (offline) ModelFor(classify.Tier) string { return "offline" }
