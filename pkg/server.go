// Package coordinator wires the verification, anchoring, payment and event components into the
// coordinator service.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/anchoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/api"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/attestation"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/clients/evm"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/clients/rest"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/events"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/health"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/monitoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/payment"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/quorum"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/resilience"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/verification"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const (
	DefaultConfigFile = "coordinator.toml"
	shutdownTimeout   = 15 * time.Second
)

// Server runs the coordinator HTTP API, the optional health server and the background services.
type Server struct {
	lggr         logger.SugaredLogger
	httpServer   *http.Server
	healthServer *health.HTTPHealthServer

	// services are started in order and closed in reverse order.
	services []services.Service
	closers  []func() error

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewServer builds every component from config. Connections opened before a failure are closed.
func NewServer(ctx context.Context, lggr logger.SugaredLogger, config *model.CoordinatorConfig) (_ *Server, err error) {
	s := &Server{lggr: lggr}
	defer func() {
		if err != nil {
			s.runClosers()
		}
	}()

	coordinatorMonitoring, err := setupMonitoring(lggr, config)
	if err != nil {
		return nil, err
	}
	timeProvider := common.NewRealTimeProvider()

	store, closeStore, err := storage.NewStorageFactory(lggr).CreateStorage(ctx, *config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	s.closers = append(s.closers, closeStore)

	publisher := events.NewPublisher(events.Params{
		Config:       config.Events,
		Monitoring:   coordinatorMonitoring,
		TimeProvider: timeProvider,
		Logger:       logger.Sugared(logger.Named(lggr, "EventPublisher")),
	})

	validators, membership := setupValidatorSet(lggr, config)
	policy, err := quorum.NewPolicy(config.Quorum, validators)
	if err != nil {
		return nil, fmt.Errorf("failed to create quorum policy: %w", err)
	}

	lookup, closeChains, err := evm.Dial(ctx, config.Chains, logger.Sugared(logger.Named(lggr, "ChainLookup")))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { closeChains(); return nil })

	engine, err := verification.NewEngine(verification.Params{
		Config:     config.Verification,
		Ledger:     store,
		Aggregator: attestation.NewAggregator(store, store, config.Verification.AllowCorrections, logger.Sugared(logger.Named(lggr, "AttestationAggregator"))),
		Policy:     policy,
		Membership: membership,
		ChainLookup: resilience.NewChainLookup(lookup,
			resilience.NewExecutor("chain_lookup", config.External.ChainLookup, lggr)),
		Events:       publisher,
		Monitoring:   coordinatorMonitoring,
		TimeProvider: timeProvider,
		Logger:       logger.Sugared(logger.Named(lggr, "VerificationEngine")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create verification engine: %w", err)
	}

	var anchorService protocol.AnchorService
	if config.AnchorService.URL != "" {
		anchorService = resilience.NewAnchorService(
			rest.NewAnchorClient(config.AnchorService.URL, config.External.Anchor.Timeout),
			resilience.NewExecutor("anchor_service", config.External.Anchor, lggr))
	} else {
		lggr.Warn("No anchor service configured, batches are sealed but never anchored")
	}
	anchoringService, err := anchoring.NewService(anchoring.Params{
		Config:       config.Anchoring,
		Store:        store,
		Anchor:       anchorService,
		Events:       publisher,
		Monitoring:   coordinatorMonitoring,
		TimeProvider: timeProvider,
		Logger:       logger.Sugared(logger.Named(lggr, "AnchoringService")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create anchoring service: %w", err)
	}

	replay, closeReplay, err := payment.NewReplayStore(ctx, config.Payment.Replay, timeProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment replay store: %w", err)
	}
	s.closers = append(s.closers, closeReplay)

	var facilitator protocol.PaymentFacilitator
	if config.Payment.FacilitatorURL != "" {
		facilitator = resilience.NewPaymentFacilitator(
			rest.NewFacilitatorClient(config.Payment.FacilitatorURL, config.External.Facilitator.Timeout),
			resilience.NewExecutor("payment_facilitator", config.External.Facilitator, lggr))
	} else {
		lggr.Warn("No payment facilitator configured, payment proofs will be rejected")
	}
	gate, err := payment.NewGate(payment.GateParams{
		Config:       config.Payment,
		Facilitator:  facilitator,
		Replay:       replay,
		Events:       publisher,
		Monitoring:   coordinatorMonitoring,
		TimeProvider: timeProvider,
		Logger:       logger.Sugared(logger.Named(lggr, "PaymentGate")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment gate: %w", err)
	}

	healthManager := health.NewManager(timeProvider)
	for _, component := range []any{store, publisher, engine, anchoringService} {
		healthManager.Register(component)
	}
	healthLggr := logger.Sugared(logger.Named(lggr, "Health"))
	if config.HealthCheck.Enabled {
		s.healthServer = health.NewHTTPHealthServer(healthManager, config.HealthCheck.Port, healthLggr)
	}

	router := api.NewV1API(api.Params{
		Config:     config.Server,
		Engine:     engine,
		Anchoring:  anchoringService,
		Gate:       gate,
		Events:     publisher,
		Health:     health.NewHandlers(healthManager, healthLggr),
		Monitoring: coordinatorMonitoring,
		Logger:     logger.Sugared(logger.Named(lggr, "API")),
	})
	s.httpServer = &http.Server{
		Addr:              config.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: config.Server.ReadHeaderTimeout,
	}
	// Shutdown waits for active requests without cancelling them. Event streams end only when their subscription closes.
	s.httpServer.RegisterOnShutdown(publisher.CloseSubscriptions)

	s.services = []services.Service{publisher, engine, anchoringService}
	return s, nil
}

func setupMonitoring(lggr logger.SugaredLogger, config *model.CoordinatorConfig) (common.CoordinatorMonitoring, error) {
	if !config.Monitoring.Enabled || config.Monitoring.Type != "beholder" {
		return monitoring.NewNoopCoordinatorMonitoring(), nil
	}
	b := config.Monitoring.Beholder
	m, err := monitoring.InitMonitoring(config.PyroscopeURL, beholder.Config{
		InsecureConnection:       b.InsecureConnection,
		CACertFile:               b.CACertFile,
		OtelExporterGRPCEndpoint: b.OtelExporterGRPCEndpoint,
		OtelExporterHTTPEndpoint: b.OtelExporterHTTPEndpoint,
		LogStreamingEnabled:      b.LogStreamingEnabled,
		MetricReaderInterval:     time.Duration(b.MetricReaderInterval) * time.Second,
		TraceSampleRatio:         b.TraceSampleRatio,
		TraceBatchTimeout:        time.Duration(b.TraceBatchTimeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitoring: %w", err)
	}
	lggr.Info("Monitoring enabled")
	return m, nil
}

// setupValidatorSet returns nil, nil when no validator set is configured. Attestations are then
// accepted from any validator.
func setupValidatorSet(lggr logger.SugaredLogger, config *model.CoordinatorConfig) (protocol.ValidatorSetSource, verification.MembershipChecker) {
	var source protocol.ValidatorSetSource
	switch {
	case config.ValidatorSet.SourceURL != "":
		source = resilience.NewValidatorSetSource(
			rest.NewValidatorSetClient(config.ValidatorSet.SourceURL, config.External.Validators.Timeout),
			resilience.NewExecutor("validator_set", config.External.Validators, lggr))
	case len(config.ValidatorSet.Validators) > 0:
		source = rest.NewStaticValidatorSet(config.ValidatorSet.Validators)
	default:
		lggr.Warn("No validator set configured, attestations are accepted from any validator")
		return nil, nil
	}
	cached := quorum.NewCachedValidatorSet(source, config.ValidatorSet.CacheTTL, logger.Sugared(logger.Named(lggr, "ValidatorSet")))
	return cached, cached
}

// Start starts the background services and serves HTTP until Stop is called, a signal is received
// or a server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	for i, svc := range s.services {
		if err := svc.Start(ctx); err != nil {
			s.closeServices(s.services[:i])
			s.runClosers()
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}
	}

	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stopChan := s.stopChan

	g := &run.Group{}
	g.Add(func() error {
		s.lggr.Infow("HTTP server started", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.lggr.Errorw("HTTP server stopped with error", "error", err)
			return err
		}
		return nil
	}, func(error) {
		s.shutdown("HTTP server", s.httpServer.Shutdown)
	})

	if s.healthServer != nil {
		g.Add(s.healthServer.Start, func(error) {
			s.shutdown("health server", s.healthServer.Stop)
		})
	}

	g.Add(func() error {
		<-stopChan
		s.lggr.Info("stop signal received, shutting down")
		return nil
	}, func(error) {})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	g.Add(func() error {
		select {
		case receivedSig := <-sig:
			s.lggr.Infow("received signal, shutting down", "signal", receivedSig)
		case <-interrupted:
		}
		return nil
	}, func(error) {
		signal.Stop(sig)
		close(interrupted)
	})

	s.started = true
	done := s.done
	go func() {
		defer close(done)
		if err := g.Run(); err != nil {
			s.lggr.Errorw("Run group stopped with error", "error", err)
		}
		s.closeServices(s.services)
		s.runClosers()

		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop shuts the server down and waits until every component is closed.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopChan == nil {
		s.mu.Unlock()
		return nil
	}
	s.lggr.Info("Stopping server gracefully")
	close(s.stopChan)
	s.stopChan = nil
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// Done is closed once the server stopped for any reason.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Server) shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.lggr.Errorw("Failed to shut down "+name, "error", err)
	}
}

func (s *Server) closeServices(started []services.Service) {
	for _, svc := range slices.Backward(started) {
		if err := svc.Close(); err != nil {
			s.lggr.Errorw("Failed to close service", "service", svc.Name(), "error", err)
		}
	}
}

func (s *Server) runClosers() {
	for _, closeFn := range slices.Backward(s.closers) {
		if err := closeFn(); err != nil {
			s.lggr.Errorw("Failed to release resource", "error", err)
		}
	}
	s.closers = nil
}
