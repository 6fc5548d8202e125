// Command llmgw runs the LLM call gateway as an HTTP server, or
// validates a configuration file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	llmgateway "github.com/ferro-labs/llm-gateway"
	"github.com/ferro-labs/llm-gateway/internal/audit"
	"github.com/ferro-labs/llm-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/llm-gateway/internal/events"
	"github.com/ferro-labs/llm-gateway/internal/logging"
	"github.com/ferro-labs/llm-gateway/internal/telemetry"
	"github.com/ferro-labs/llm-gateway/internal/version"
	"github.com/ferro-labs/llm-gateway/providers"
)

func main() {
	// A missing .env file is fine; explicit env vars win either way.
	_ = godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	root := &cobra.Command{
		Use:           "llmgw",
		Short:         "Streaming LLM call gateway with retries, failover and budgets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "path to YAML or JSON config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
	}
	addrFlag := serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	serveCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configPath, *addrFlag)
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := llmgateway.LoadConfig(configPath); err != nil {
				return err
			}
			fmt.Printf("%s: OK\n", configPath)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.String())
		},
	}

	root.AddCommand(serveCmd, validateCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath, addrOverride string) error {
	log := logging.Logger

	var cfg llmgateway.Config
	if configPath != "" {
		loaded, err := llmgateway.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Info("config loaded", "path", configPath, "chain_length", len(cfg.Chain))
	}

	gw, err := llmgateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	registered, err := registerAdapters(ctx, gw)
	if err != nil {
		return err
	}
	if len(registered) == 0 {
		return fmt.Errorf("no providers configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY or BEDROCK_REGION")
	}
	for _, name := range registered {
		log.Info("provider registered", "provider", name)
	}

	if cb := cfg.CircuitBreaker; cb != nil {
		cooldown, _ := time.ParseDuration(cb.Cooldown)
		for _, name := range registered {
			gw.SetBreaker(name, circuitbreaker.New(cb.FailureThreshold, cb.SuccessThreshold, cooldown))
		}
	}

	broker := events.NewBroker(events.DefaultQueueSize)
	gw.SetEmitter(broker)

	store, err := buildAuditStore(cfg.Audit)
	if err != nil {
		return err
	}
	gw.SetAuditStore(store)

	if cfg.Telemetry.Enabled {
		serviceName := cfg.Telemetry.ServiceName
		if serviceName == "" {
			serviceName = telemetry.TracerName
		}
		shutdown, err := telemetry.InitTracer(serviceName, cfg.Telemetry.Exporter, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	if addrOverride != "" {
		addr = addrOverride
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(gw, broker),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("llmgw listening", "addr", addr, "version", version.Version, "providers", len(registered))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("server stopped")
	return nil
}

// registerAdapters wires stream adapters from environment variables and
// returns the registered provider names.
func registerAdapters(ctx context.Context, gw *llmgateway.Gateway) ([]string, error) {
	var registered []string

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		gw.RegisterAdapter("openai", providers.NewOpenAI(key, os.Getenv("OPENAI_BASE_URL")))
		registered = append(registered, "openai")
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		gw.RegisterAdapter("anthropic", providers.NewAnthropic(key, os.Getenv("ANTHROPIC_BASE_URL")))
		registered = append(registered, "anthropic")
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		adapter, err := providers.NewBedrock(ctx, region,
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"))
		if err != nil {
			return nil, fmt.Errorf("bedrock adapter: %w", err)
		}
		gw.RegisterAdapter("bedrock", adapter)
		registered = append(registered, "bedrock")
	}
	return registered, nil
}

// buildAuditStore constructs the configured audit backend.
func buildAuditStore(cfg llmgateway.AuditConfig) (audit.Store, error) {
	switch cfg.Driver {
	case "", "none":
		return audit.NopStore{}, nil
	case "fs":
		dir := cfg.Dir
		if dir == "" {
			dir = "artifacts"
		}
		return audit.NewFSStore(dir)
	case "sqlite":
		return audit.NewSQLiteStore(cfg.DSN)
	case "postgres":
		return audit.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
