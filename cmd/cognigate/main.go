package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mindmate/cognigate/ai/cache"
	"github.com/mindmate/cognigate/ai/classify"
	"github.com/mindmate/cognigate/ai/engine"
	"github.com/mindmate/cognigate/ai/llm"
	"github.com/mindmate/cognigate/ai/memory"
	"github.com/mindmate/cognigate/ai/metrics"
	"github.com/mindmate/cognigate/ai/risk"
	"github.com/mindmate/cognigate/ai/routing"
	"github.com/mindmate/cognigate/ai/tools"
	"github.com/mindmate/cognigate/internal/profile"
	"github.com/mindmate/cognigate/internal/version"
	"github.com/mindmate/cognigate/server"
	"github.com/mindmate/cognigate/store"
	"github.com/mindmate/cognigate/store/db"
	"github.com/mindmate/cognigate/store/teststore"
)

var rootCmd = &cobra.Command{
	Use:   "cognigate",
	Short: "Natural-language query gateway over the cognitive therapy record store.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Systemd services get their environment from the unit file.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		st, err := newStore(instanceProfile)
		if err != nil {
			slog.Error("failed to open record store", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		eng := newEngine(instanceProfile, st)
		eng.StartSweeper(ctx, time.Hour)

		srv := server.NewServer(instanceProfile, st, eng, newExporter())
		printGreetings(instanceProfile)

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			slog.Info("shutdown signal received")
			cancel()
		}()

		if err := srv.Start(ctx); err != nil {
			slog.Error("server exited", "error", err)
			os.Exit(1)
		}
	},
}

var exporter *metrics.Exporter

func newExporter() *metrics.Exporter {
	if exporter == nil {
		exporter = metrics.NewExporter(metrics.DefaultConfig())
	}
	return exporter
}

func newStore(p *profile.Profile) (*store.Store, error) {
	if p.Driver == "memory" {
		driver := teststore.New()
		if p.Mode == "demo" {
			teststore.SeedDemo(driver)
		}
		return store.New(driver), nil
	}
	driver, err := db.NewDriver(p)
	if err != nil {
		return nil, err
	}
	return store.New(driver), nil
}

func newEngine(p *profile.Profile, st *store.Store) *engine.Engine {
	var model llm.Service
	if p.IsAIEnabled() {
		svc, err := llm.NewService(&llm.Config{
			Provider:     p.LLMProvider,
			APIKey:       p.LLMAPIKey,
			BaseURL:      p.LLMBaseURL,
			SimpleModel:  p.LLMSimpleModel,
			ComplexModel: p.LLMComplexModel,
			MaxTokens:    p.LLMMaxTokens,
			Temperature:  p.LLMTemperature,
			Timeout:      p.LLMTimeout,
			RatePerMin:   p.LLMRatePerMin,
		})
		if err != nil {
			slog.Error("failed to create llm service", "error", err)
			os.Exit(1)
		}
		model = svc
	} else {
		slog.Warn("no llm provider configured, responses degrade to raw data")
		model = llm.NewOffline()
	}

	mem := memory.New(p.MemoryEntries, p.MemoryTTL)
	scorer := risk.NewScorer(risk.Config{
		RiskThreshold:     p.RiskThreshold,
		CriticalThreshold: p.CriticalThreshold,
		TrendEpsilon:      p.TrendEpsilon,
		VariabilityRange:  p.VariabilityRange,
		SlopeWeight:       p.SlopeWeight,
		AverageWeight:     p.AverageWeight,
	})
	routerCfg := routing.DefaultConfig()
	routerCfg.AtRiskThreshold = p.RiskThreshold
	routerCfg.Budget = p.RoutingBudget

	return engine.New(engine.Deps{
		Classifier: classify.New(p.MaxQueryLength),
		Router:     routing.New(routerCfg, mem),
		Tools:      tools.NewRegistry(st, scorer, tools.DefaultConfig()),
		LLM:        model,
		Cache:      cache.New[any](p.CacheCapacity, p.DashboardTTL),
		Memory:     mem,
		Exporter:   newExporter(),
		Store:      st,
	}, engine.Config{
		PredictionTTL: p.PredictionTTL,
		DashboardTTL:  p.DashboardTTL,
	})
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 8092)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8092, "port of server")
	rootCmd.PersistentFlags().String("driver", "postgres", `record store driver ("postgres" or "memory")`)
	rootCmd.PersistentFlags().String("dsn", "", "record store data source name")

	for _, key := range []string{"mode", "addr", "port", "driver", "dsn"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("cognigate")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Cognigate %s\n", p.Version)
	fmt.Printf("Mode: %s, driver: %s\n", p.Mode, p.Driver)
	fmt.Printf("Listening on http://%s\n", p.ListenAddr())
	if p.IsDev() && p.DSN != "" {
		fmt.Fprintf(os.Stderr, "Record store: %s\n", p.DSN)
	}
}

// isRunningAsSystemdService detects if the process runs under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
