package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conduit/internal/authgw"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/gateway"
	"github.com/haasonsaas/conduit/internal/llm"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/promptc"
	"github.com/haasonsaas/conduit/internal/toolhost"
)

// host wires together every component the serve command starts: the Tool
// Coordinator, the LLM Adapter registry, the Prompt Compiler, the Session
// Gateway, the optional Auth Gateway, and the metrics listener.
type host struct {
	cfg *config.Config

	logger  *slog.Logger
	metrics *observability.Metrics

	coordinator *toolhost.Coordinator
	compiler    *promptc.Compiler
	llmRegistry *llm.Registry

	gatewayServer  *gateway.Server
	authServer     *authgw.Server
	metricsHandler http.Handler
}

// newHost loads configuration and constructs every component, starting the
// Tool Coordinator's configured servers, but does not start listening yet.
func newHost(ctx context.Context, configPath string) (*host, error) {
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	metrics := observability.NewMetrics()

	llmRegistry, err := buildLLMRegistry(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM adapter registry: %w", err)
	}

	coordinator := toolhost.New(logger)
	if cfg.Tools.ConfigPath != "" {
		fc, err := loadToolFileConfig(cfg.Tools.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool config: %w", err)
		}
		if err := coordinator.Initialize(ctx, fc); err != nil {
			return nil, fmt.Errorf("failed to initialize tool coordinator: %w", err)
		}
		if cfg.Tools.WatchForChanges {
			coordinator.Watch(ctx, cfg.Tools.ConfigPath)
		}
	}

	compiler := promptc.New(cfg.Persona.FilesystemAccessInfo, logger)

	h := &host{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		coordinator:    coordinator,
		compiler:       compiler,
		llmRegistry:    llmRegistry,
		metricsHandler: promhttp.Handler(),
	}

	sessionFactory := h.newSessionFactory()

	if cfg.Auth.Enabled {
		identities, err := config.LoadIdentities(cfg.Auth.IdentitiesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load identities: %w", err)
		}
		innerGateway := gateway.NewServer(personaIdentityAdapter{identities}, sessionFactory, logger.With("component", "gateway_inner"))
		innerGateway.SetSessionObserver(metrics)

		// The inner gateway listens on the same addr as the outer bridge
		// would if auth were disabled; since auth is enabled here, only the
		// Auth Gateway is exposed, so the inner gateway is served in-process
		// without its own listener — bridged over a loopback connection the
		// Auth Gateway dials.
		innerAddr := cfg.Server.GatewayAddr
		go func() {
			if err := http.ListenAndServe(innerAddr, innerGateway); err != nil {
				logger.Error("inner gateway listener stopped", "error", err)
			}
		}()

		tokens := authgw.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		h.authServer = authgw.NewServer(identities, tokens, wsURL(innerAddr), logger.With("component", "auth_gateway"))
	} else {
		h.gatewayServer = gateway.NewServer(defaultPersonaIdentityStore{cfg.Persona.DefaultPersona}, sessionFactory, logger.With("component", "gateway"))
		h.gatewayServer.SetSessionObserver(metrics)
	}

	return h, nil
}

// Run blocks serving the gateway, the optional auth gateway, and the
// metrics endpoint until ctx is canceled or SIGINT/SIGTERM arrives, then
// drains the tool coordinator.
func (h *host) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	metricsSrv := &http.Server{Addr: h.cfg.Server.MetricsAddr, Handler: h.metricsHandler}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	if h.authServer != nil {
		authSrv := &http.Server{Addr: h.cfg.Server.AuthGatewayAddr, Handler: h.authServer}
		go func() {
			if err := authSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("auth gateway listener: %w", err)
			}
		}()
		h.logger.Info("conduit host started", "auth_gateway_addr", h.cfg.Server.AuthGatewayAddr, "metrics_addr", h.cfg.Server.MetricsAddr)
	} else {
		gwSrv := &http.Server{Addr: h.cfg.Server.GatewayAddr, Handler: h.gatewayServer}
		go func() {
			if err := gwSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("gateway listener: %w", err)
			}
		}()
		h.logger.Info("conduit host started", "gateway_addr", h.cfg.Server.GatewayAddr, "metrics_addr", h.cfg.Server.MetricsAddr)
	}

	select {
	case <-ctx.Done():
		h.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	h.logger.Info("conduit host stopped")
	return nil
}

// Close releases resources constructed by newHost without running the
// full serve loop, for commands like `tools list` that only need the
// coordinator.
func (h *host) Close() {
	h.coordinator.StopWatch()
	h.coordinator.Shutdown()
}

func (h *host) newSessionFactory() gateway.SessionFactory {
	return func(sessionID, email, persona string) *orchestrator.Session {
		adapter, err := h.llmRegistry.Default()
		if err != nil {
			h.logger.Error("no default LLM adapter registered", "error", err)
		}
		session := orchestrator.NewSession(sessionID, h.cfg.Persona.BaseTemplate, persona, adapter, h.coordinator, h.compiler, h.logger.With("session_id", sessionID))
		session.SetMetrics(h.metrics)
		return session
	}
}

// wsURL turns a listen address into a dialable ws:// URL. A bare port
// (":8081") means "all interfaces" to a listener but isn't a dialable
// host, so it's rewritten against loopback.
func wsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "ws://localhost" + addr
	}
	return "ws://" + addr
}

// personaIdentityAdapter adapts authgw's credential-oriented IdentityStore
// to the gateway's simpler Persona-lookup IdentityStore.
type personaIdentityAdapter struct {
	inner authgw.IdentityStore
}

func (a personaIdentityAdapter) Persona(email string) (string, bool) {
	id, ok := a.inner.Lookup(email)
	if !ok {
		return "", false
	}
	return id.Persona, true
}

// defaultPersonaIdentityStore accepts any email when the Auth Gateway is
// disabled, handing every session the deployment's single default persona.
type defaultPersonaIdentityStore struct {
	persona string
}

func (d defaultPersonaIdentityStore) Persona(email string) (string, bool) {
	return d.persona, true
}
