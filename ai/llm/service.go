// Package llm wraps an OpenAI-compatible chat completion API behind a
// tiered interface: the simple tier serves lookups and counting, the
// complex tier serves analysis and prediction.
package llm

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/mindmate/cognigate/ai/classify"
)

// ErrProvider wraps any upstream model failure so callers can detect the
// class without parsing provider error strings.
var ErrProvider = errors.New("llm provider failure")

// Config holds the provider connection and tier model names.
type Config struct {
	Provider     string // deepseek, openai, siliconflow, ollama, zai
	APIKey       string
	BaseURL      string
	SimpleModel  string
	ComplexModel string
	MaxTokens    int     // default: 2048
	Temperature  float32 // default: 0.7
	Timeout      int     // request timeout in seconds (default: 120)
	RatePerMin   int     // upstream call budget per minute (default: 60)
}

// Service composes natural-language responses from tool output.
type Service interface {
	// Complete runs a chat completion on the model for tier.
	Complete(ctx context.Context, system, prompt string, tier classify.Tier) (string, error)

	// ModelFor reports which model serves a tier, for response metadata.
	ModelFor(tier classify.Tier) string
}

type service struct {
	client       *openai.Client
	provider     string
	simpleModel  string
	complexModel string
	maxTokens    int
	temperature  float32
	timeout      int
	limiter      *rate.Limiter
}

// NewService creates a Service for the configured provider. Unknown
// providers fall back to generic OpenAI-compatible handling.
func NewService(cfg *Config) (Service, error) {
	httpClient := newHTTPClient()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case "deepseek":
			baseURL = "https://api.deepseek.com"
		case "siliconflow":
			baseURL = "https://api.siliconflow.cn/v1"
		case "zai":
			baseURL = "https://open.bigmodel.cn/api/paas/v4"
		case "ollama":
			baseURL = "http://localhost:11434/v1"
		}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = httpClient

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	ratePerMin := cfg.RatePerMin
	if ratePerMin <= 0 {
		ratePerMin = 60
	}

	return &service{
		client:       openai.NewClientWithConfig(clientConfig),
		provider:     cfg.Provider,
		simpleModel:  cfg.SimpleModel,
		complexModel: cfg.ComplexModel,
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		timeout:      timeout,
		limiter:      rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin),
	}, nil
}

func (s *service) ModelFor(tier classify.Tier) string {
	if tier == classify.TierSimple {
		return s.simpleModel
	}
	return s.complexModel
}

func (s *service) Complete(ctx context.Context, system, prompt string, tier classify.Tier) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "waiting for rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	model := s.ModelFor(tier)
	slog.Debug("llm completion request",
		"provider", s.provider,
		"model", model,
		"tier", tier,
		"prompt_len", len(prompt),
	)

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "llm completion")
		}
		return "", errors.Wrapf(ErrProvider, "%s completion: %v", s.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrapf(ErrProvider, "%s returned no choices", s.provider)
	}

	slog.Debug("llm completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// newHTTPClient builds a pooled HTTP client. The per-request deadline is
// applied via context, not here.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
