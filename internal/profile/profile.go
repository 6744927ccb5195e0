// Package profile holds the runtime configuration of a cognigate instance.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration used to start the main server.
type Profile struct {
	// Mode can be "prod", "dev" or "demo". Demo mode runs without a
	// database using the in-memory record store.
	Mode string
	// Addr is the bind address of the HTTP server.
	Addr string
	// Port is the bind port of the HTTP server.
	Port int
	// Driver is the record store driver, "postgres" or "memory".
	Driver string
	// DSN is the record store data source name.
	DSN string
	// Version is the build version.
	Version string

	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider     string // deepseek, openai, zai, siliconflow, ollama
	LLMAPIKey       string
	LLMBaseURL      string
	LLMSimpleModel  string // model used for simple-tier queries
	LLMComplexModel string // model used for complex-tier queries
	LLMMaxTokens    int
	LLMTemperature  float32
	LLMTimeout      int // request timeout in seconds
	LLMRatePerMin   int // provider-side rate limit, requests per minute

	// Risk/prediction tuning. The thresholds are product-tuned values
	// carried over from the clinical scoring model, not derived here.
	RiskThreshold     float64 // at-risk score threshold
	CriticalThreshold float64 // critical score threshold
	TrendEpsilon      float64 // slope magnitude treated as noise
	VariabilityRange  float64 // max-min range flagged as inconsistent
	SlopeWeight       float64 // decline probability weight on slope
	AverageWeight     float64 // decline probability weight on low average

	// Cache and memory bounds.
	CacheCapacity  int
	DashboardTTL   time.Duration
	PredictionTTL  time.Duration
	MemoryEntries  int
	MemoryTTL      time.Duration
	MaxQueryLength int
	RoutingBudget  int
}

// Provider default base URLs and models, applied when not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL      string
	SimpleModel  string
	ComplexModel string
}{
	"deepseek": {
		BaseURL:      "https://api.deepseek.com",
		SimpleModel:  "deepseek-chat",
		ComplexModel: "deepseek-reasoner",
	},
	"openai": {
		BaseURL:      "https://api.openai.com/v1",
		SimpleModel:  "gpt-4o-mini",
		ComplexModel: "gpt-4o",
	},
	"zai": {
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		SimpleModel:  "glm-4-flash",
		ComplexModel: "glm-4.7",
	},
	"siliconflow": {
		BaseURL:      "https://api.siliconflow.cn/v1",
		SimpleModel:  "Qwen/Qwen2.5-7B-Instruct",
		ComplexModel: "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL:      "http://localhost:11434",
		SimpleModel:  "llama3.1",
		ComplexModel: "llama3.1:70b",
	},
}

// ListenAddr formats the HTTP bind address.
func (p *Profile) ListenAddr() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled reports whether an LLM provider is configured. Without it the
// gateway runs with the offline responder and serves structured data only.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables. Values already set
// from flags are not overridden.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("COGNIGATE_LLM_PROVIDER", "deepseek")
	p.LLMAPIKey = getEnvOrDefault("COGNIGATE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("COGNIGATE_LLM_BASE_URL", "")
	p.LLMSimpleModel = getEnvOrDefault("COGNIGATE_LLM_SIMPLE_MODEL", "")
	p.LLMComplexModel = getEnvOrDefault("COGNIGATE_LLM_COMPLEX_MODEL", "")
	p.LLMMaxTokens = getEnvOrDefaultInt("COGNIGATE_LLM_MAX_TOKENS", 2048)
	p.LLMTemperature = float32(getEnvOrDefaultFloat("COGNIGATE_LLM_TEMPERATURE", 0.3))
	p.LLMTimeout = getEnvOrDefaultInt("COGNIGATE_LLM_TIMEOUT_SECONDS", 120)
	p.LLMRatePerMin = getEnvOrDefaultInt("COGNIGATE_LLM_RATE_PER_MINUTE", 60)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, falling back to deepseek", "provider", p.LLMProvider)
		p.LLMProvider = "deepseek"
	}
	defaults := llmProviderDefaults[p.LLMProvider]
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaults.BaseURL
	}
	if p.LLMSimpleModel == "" {
		p.LLMSimpleModel = defaults.SimpleModel
	}
	if p.LLMComplexModel == "" {
		p.LLMComplexModel = defaults.ComplexModel
	}

	p.RiskThreshold = getEnvOrDefaultFloat("COGNIGATE_RISK_THRESHOLD", 0.5)
	p.CriticalThreshold = getEnvOrDefaultFloat("COGNIGATE_CRITICAL_THRESHOLD", 0.1)
	p.TrendEpsilon = getEnvOrDefaultFloat("COGNIGATE_TREND_EPSILON", 0.02)
	p.VariabilityRange = getEnvOrDefaultFloat("COGNIGATE_VARIABILITY_RANGE", 0.4)
	p.SlopeWeight = getEnvOrDefaultFloat("COGNIGATE_SLOPE_WEIGHT", 8.0)
	p.AverageWeight = getEnvOrDefaultFloat("COGNIGATE_AVERAGE_WEIGHT", 1.2)

	p.CacheCapacity = getEnvOrDefaultInt("COGNIGATE_CACHE_CAPACITY", 1000)
	p.DashboardTTL = time.Duration(getEnvOrDefaultInt("COGNIGATE_DASHBOARD_TTL_HOURS", 24)) * time.Hour
	p.PredictionTTL = time.Duration(getEnvOrDefaultInt("COGNIGATE_PREDICTION_TTL_HOURS", 24)) * time.Hour
	p.MemoryEntries = getEnvOrDefaultInt("COGNIGATE_MEMORY_ENTRIES", 5)
	p.MemoryTTL = time.Duration(getEnvOrDefaultInt("COGNIGATE_MEMORY_TTL_HOURS", 24)) * time.Hour
	p.MaxQueryLength = getEnvOrDefaultInt("COGNIGATE_MAX_QUERY_LENGTH", 2000)
	p.RoutingBudget = getEnvOrDefaultInt("COGNIGATE_ROUTING_BUDGET", 10)
}

// Validate checks the profile for mistakes that would prevent startup.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
	case "memory":
		// In-memory record store needs no DSN.
	default:
		return errors.Errorf("unsupported record store driver %q", p.Driver)
	}

	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.RiskThreshold <= 0 || p.RiskThreshold >= 1 {
		return errors.Errorf("risk threshold %.2f out of (0,1)", p.RiskThreshold)
	}
	if p.CriticalThreshold <= 0 || p.CriticalThreshold >= p.RiskThreshold {
		return errors.Errorf("critical threshold %.2f must be in (0, riskThreshold)", p.CriticalThreshold)
	}
	return nil
}
