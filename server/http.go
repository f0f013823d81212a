package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type HTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	state           atomic.Value
	mu              sync.Mutex
	serveDone       chan struct{}
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, config types.ConfigManager, logger types.Logger, router *Router) (*HTTPServer, error) {
	cfg := config.GetConfig()
	if cfg == nil || cfg.Server == nil || cfg.Server.HTTP == nil {
		return nil, types.Errorf(types.ErrConfigNotFound, "server.http")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &HTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		router:          router,
		httpConfig:      cfg.Server.HTTP,
		shutdownTimeout: 5 * time.Second,
	}

	if cfg.Server.HTTP.ShutdownTimeout > 0 {
		server.shutdownTimeout = time.Duration(cfg.Server.HTTP.ShutdownTimeout) * time.Second
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Start binds the listener synchronously so address errors surface to the
// caller, then serves in the background.
func (h *HTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		h.setState(StateStopped)
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}

	h.mu.Lock()
	h.listener = listener
	h.serveDone = make(chan struct{})
	h.server = &fasthttp.Server{
		Handler:                      h.router.Handler(),
		Name:                         "sai-cache",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}
	server, done := h.server, h.serveDone
	h.mu.Unlock()

	go func() {
		defer close(done)

		if err := server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *HTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	h.mu.Lock()
	server, done := h.server, h.serveDone
	h.mu.Unlock()

	if err := server.ShutdownWithContext(ctx); err != nil {
		h.logger.Warn("Server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	<-done
	h.logger.Info("HTTP server stopped gracefully")

	return nil
}

func (h *HTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Addr is the bound listener address, or empty before Start.
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *HTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *HTTPServer) setState(newState State) {
	h.state.Store(newState)
}

func (h *HTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}
