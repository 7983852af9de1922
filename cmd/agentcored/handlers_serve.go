package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentcore/agentcore/internal/agentd"
	"github.com/agentcore/agentcore/internal/backend"
	"github.com/agentcore/agentcore/internal/config"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/policy"
	"github.com/agentcore/agentcore/internal/sessionstore"
	"github.com/agentcore/agentcore/internal/tools"
	"github.com/agentcore/agentcore/internal/tools/builtin"
	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/internal/wsgateway"
)

// runServe implements the serve command: it loads configuration, wires
// the Policy Engine, Tool Registry, Backend Registry, Turn Runner,
// Session Store, and Agent Daemon together, then runs both transports
// until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    "json",
		AddSource: debug,
	})

	logger.Info(ctx, "starting agentcored", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if debug {
		observability.SetDiagnosticsEnabled(true)
		observability.OnDiagnosticEvent(func(ev observability.DiagnosticEventPayload) {
			logger.Debug(ctx, "diagnostic event", "type", ev.EventType(), "seq", ev.Sequence())
		})
	}

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcored",
		ServiceVersion: version,
	})

	ruleWatcher, err := config.NewRuleWatcher(cfg.RulesPath, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if err := ruleWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rule watcher: %w", err)
	}
	defer ruleWatcher.Close()

	toolRegistry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		builtin.BashTool{},
		builtin.ReadTool{},
		builtin.WriteTool{},
		builtin.GlobTool{},
	} {
		if err := toolRegistry.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}

	backendRegistry, err := buildBackendRegistry(ctx, cfg.Backends)
	if err != nil {
		return fmt.Errorf("failed to build backend registry: %w", err)
	}
	routingBackend := backend.NewRoutingBackend(backendRegistry)

	tracker := policy.NewAutoApprovalTracker()
	runner := turn.NewRunner(toolRegistry, routingBackend, cfg.Turn.ToTurnConfig(), tracker)

	store := sessionstore.New(cfg.Session.ToStoreConfig())

	engine := agentd.NewEngine(store, runner, cfg.TranscriptDir)
	engine.SetRulesProvider(ruleWatcher.Current)

	socketServer := agentd.NewSocketServer(engine, cfg.Daemon.SocketPath)

	auth := wsgateway.NewAuthenticator(
		cfg.AgentGateway.Token,
		cfg.AgentGateway.JWTSecret,
		time.Duration(cfg.AgentGateway.JWTExpiryMS)*time.Millisecond,
	)
	gatewayServer := wsgateway.NewServer(engine, auth)

	mux := http.NewServeMux()
	mux.Handle("/", instrumentGateway(gatewayServer, metrics, tracer))
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.AgentGateway.Bind, cfg.AgentGateway.Port),
		Handler: mux,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := socketServer.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("socket server: %w", err)
		}
	}()
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()
	go runReaper(ctx, engine)

	logger.Info(ctx, "agentcored started",
		"gateway_addr", httpServer.Addr,
		"socket_path", cfg.Daemon.SocketPath,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "gateway shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error(context.Background(), "tracer shutdown error", "error", err)
	}

	logger.Info(context.Background(), "agentcored stopped gracefully")
	return nil
}

// reaperInterval is how often runReaper sweeps for idle sessions and
// timed-out parked turns; short relative to the default 15-minute
// park_ttl / 30-minute idle-session TTL so both deadlines are honored
// close to when they elapse rather than at the next daemon restart.
const reaperInterval = 30 * time.Second

// runReaper periodically calls Engine.ReapExpired until ctx is done,
// so spec §3's idle-session timeout and spec §4.4's park_ttl
// approval-timeout abort actually fire in the running daemon.
func runReaper(ctx context.Context, engine *agentd.Engine) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.ReapExpired(ctx)
		}
	}
}

// buildBackendRegistry registers a turn.Backend adapter for every
// provider section with a non-empty API key / region (spec §3's
// "model@backend" target selection). A daemon with no backends
// configured still starts, so operators can exercise everything but
// live model calls (e.g. `agentctl` against the socket) without API
// keys on hand.
func buildBackendRegistry(ctx context.Context, cfg config.BackendsConfig) (*backend.Registry, error) {
	registry := backend.NewRegistry()

	if key := envOr(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY"); key != "" {
		adapter, err := backend.NewAnthropicBackend(backend.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
			MaxTokens:    cfg.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic backend: %w", err)
		}
		registry.Register("anthropic", adapter)
	}

	if key := envOr(cfg.OpenAI.APIKey, "OPENAI_API_KEY"); key != "" {
		adapter, err := backend.NewOpenAIBackend(backend.OpenAIConfig{
			APIKey:       key,
			DefaultModel: cfg.OpenAI.DefaultModel,
			MaxTokens:    cfg.OpenAI.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("openai backend: %w", err)
		}
		registry.Register("openai", adapter)
	}

	if cfg.Bedrock.Region != "" || cfg.Bedrock.AccessKeyID != "" {
		adapter, err := backend.NewBedrockBackend(ctx, backend.BedrockConfig{
			Region:          cfg.Bedrock.Region,
			AccessKeyID:     cfg.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Bedrock.SecretAccessKey,
			SessionToken:    cfg.Bedrock.SessionToken,
			DefaultModel:    cfg.Bedrock.DefaultModel,
			MaxTokens:       cfg.Bedrock.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock backend: %w", err)
		}
		registry.Register("bedrock", adapter)
	}

	return registry, nil
}

func envOr(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

// instrumentGateway wraps the websocket gateway's ServeHTTP (the upgrade
// request; the resulting connection's own frame handling is unmeasured,
// since by then it is a long-lived stream rather than a request/response)
// with the gateway request metrics and an HTTP trace span.
func instrumentGateway(next http.Handler, metrics *observability.Metrics, tracer *observability.Tracer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusSwitchingProtocols}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		duration := time.Since(start).Seconds()

		status := "success"
		if rec.status >= 400 {
			status = "error"
			tracer.RecordError(span, fmt.Errorf("gateway: status %d", rec.status))
		}
		metrics.RecordGatewayRequest(r.Method, status, duration)
	})
}

// statusRecorder captures the response status for a handler that may
// never call WriteHeader explicitly (a successful websocket upgrade
// hijacks the connection instead). It forwards Hijack so the gorilla
// upgrader underneath still sees an http.Hijacker.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("gateway: underlying ResponseWriter does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
