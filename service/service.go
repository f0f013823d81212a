package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/cron"
	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/policy"
	"github.com/saiset-co/sai-cache/server"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const PreloadJobName = "preload"

// Service wires every component from a single configuration file. It holds
// no package-level state, so several instances can coexist in one process.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration

	config   *config.ConfigurationManager
	logger   types.LoggerManager
	metrics  types.MetricsManager
	policies *policy.Registry
	source   types.PolicySource
	cache    types.CacheManager
	health   *health.Manager
	cron     *cron.Manager
	server   *server.HTTPServer
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	s.state.Store(StateStopped)

	if err := s.build(ctx, configPath); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) build(ctx context.Context, configPath string) error {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to create config manager")
	}
	s.config = configManager
	cfg := configManager.GetConfig()

	loggerManager, err := logger.NewManager(ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to create logger")
	}
	s.logger = loggerManager

	metricsManager, err := metrics.NewManager(ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to create metrics manager")
	}
	s.metrics = metricsManager

	s.policies = policy.NewRegistry(loggerManager)

	s.source, err = policy.NewSource(cfg.PolicySource)
	if err != nil {
		return types.WrapError(err, "failed to create policy source")
	}

	cacheManager, err := cache.NewCacheManager(ctx, configManager, loggerManager, metricsManager, s.policies)
	if err != nil {
		return types.WrapError(err, "failed to create cache manager")
	}
	s.cache = cacheManager

	healthManager, err := health.NewManager(ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to create health manager")
	}
	healthManager.RegisterChecker("cache", health.CacheChecker(cacheManager))
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		healthManager.RegisterChecker("metrics", health.MetricsChecker(metricsManager))
	}
	s.health = healthManager

	cronManager, err := cron.NewManager(ctx, configManager, loggerManager, metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to create cron manager")
	}
	s.cron = cronManager

	if cfg.Preload != nil && cfg.Preload.Enabled {
		entityTypes := cfg.Preload.EntityTypes
		err = cronManager.Add(PreloadJobName, cfg.Preload.Schedule, func(ctx context.Context) error {
			return cacheManager.Preload(ctx, entityTypes...)
		})
		if err != nil {
			return types.WrapError(err, "failed to schedule preload")
		}
	}

	if cfg.Server != nil && cfg.Server.HTTP != nil && cfg.Server.HTTP.Enabled {
		router := server.NewRouter()
		router.Use(
			server.Recovery(loggerManager),
			server.RequestID(),
			server.Logging(loggerManager),
			server.Metrics(metricsManager),
		)

		api := &server.API{
			Cache:    cacheManager,
			Policies: s.policies,
			Jobs:     cronManager,
			Logger:   loggerManager,
		}
		if cfg.Health != nil && cfg.Health.Enabled {
			api.Health = healthManager
		}
		if cfg.Metrics != nil && cfg.Metrics.Enabled {
			api.Metrics = metricsManager
			api.MetricsPath = cfg.Metrics.Path
		}
		api.Register(router)

		s.server, err = server.NewHTTPServer(ctx, configManager, loggerManager, router)
		if err != nil {
			return types.WrapError(err, "failed to create http server")
		}
	}

	return nil
}

func (s *Service) Cache() types.CacheManager {
	return s.cache
}

func (s *Service) Policies() *policy.Registry {
	return s.policies
}

func (s *Service) Cron() types.CronManager {
	return s.cron
}

func (s *Service) Config() *config.ConfigurationManager {
	return s.config
}

// Addr is the admin server address, or empty when the server is disabled.
func (s *Service) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr()
}

// ReloadPolicies re-reads the configured policy source. Existing policies
// stay in effect when the source is unavailable.
func (s *Service) ReloadPolicies(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	timeout := s.config.GetConfig().PolicySource.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return s.policies.Load(ctx, s.source)
}

// Start brings every component up and blocks until the service is stopped
// by Stop, a signal or cancellation of the parent context.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		s.stopStarted()
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	cfg := s.config.GetConfig()
	s.logger.Info("Service started successfully",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.String("address", s.Addr()))

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	_ = s.logger.Stop()

	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// components lists lifecycle managers in start order.
func (s *Service) components() []struct {
	name    string
	manager types.LifecycleManager
} {
	list := []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"logger", s.logger},
		{"config", s.config},
		{"metrics", s.metrics},
		{"cache", s.cache},
		{"health", s.health},
		{"cron", s.cron},
	}

	if s.server != nil {
		list = append(list, struct {
			name    string
			manager types.LifecycleManager
		}{"server", s.server})
	}

	return list
}

func (s *Service) startComponents(ctx context.Context) error {
	if err := s.ReloadPolicies(ctx); err != nil {
		s.logger.Warn("Policy source unavailable, using built-in policies",
			zap.String("source", s.source.Name()), zap.Error(err))
	}

	for _, component := range s.components() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := component.manager.Start(); err != nil {
			return types.WrapError(err, "failed to start "+component.name)
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

// stopComponents stops the front-facing components first so no new work
// reaches the cache while it drains background refreshes.
func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping service components...")

	stopGroup := func(managers map[string]types.LifecycleManager) error {
		g, _ := errgroup.WithContext(ctx)
		for name, manager := range managers {
			name, manager := name, manager
			if manager == nil || !manager.IsRunning() {
				continue
			}
			g.Go(func() error {
				if err := manager.Stop(); err != nil {
					s.logger.Error("Failed to stop component", zap.String("component", name), zap.Error(err))
					return err
				}
				return nil
			})
		}
		return g.Wait()
	}

	front := map[string]types.LifecycleManager{"cron": s.cron, "health": s.health}
	if s.server != nil {
		front["server"] = s.server
	}

	var errs []error
	for _, group := range []map[string]types.LifecycleManager{
		front,
		{"cache": s.cache},
		{"metrics": s.metrics, "config": s.config},
	} {
		if err := stopGroup(group); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.Errorf(types.ErrServerStopFailed, "%d component groups failed to stop", len(errs))
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

// stopStarted unwinds a partially failed start.
func (s *Service) stopStarted() {
	components := s.components()
	for i := len(components) - 1; i >= 0; i-- {
		if component := components[i]; component.name != "logger" && component.manager.IsRunning() {
			_ = component.manager.Stop()
		}
	}
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	}
}
