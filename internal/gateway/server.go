package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/config"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
	"github.com/oh-yeah-zzy/Hermes/internal/registry"
)

// Server ties the gateway to an HTTP listener and the registry lifecycle:
// self-registration, heartbeats, route polling, graceful shutdown.
type Server struct {
	cfg     *config.Config
	gateway *Gateway
	cache   *registry.Cache
	atlas   *registry.Client

	httpServer *http.Server

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// NewServer builds the full gateway stack from config.
func NewServer(cfg *config.Config) (*Server, error) {
	atlas := registry.NewClient(cfg.Registry.URL, cfg.Registry.ServiceID, cfg.Registry.Timeout)

	cache := registry.NewCache(atlas, registry.CacheConfig{
		RegistryEnabled:  cfg.Registry.Enabled,
		PollInterval:     cfg.Registry.PollInterval,
		BootstrapTimeout: cfg.Registry.BootstrapTimeout,
		FallbackToLocal:  cfg.FallbackToLocal,
		LocalEnabled:     cfg.LocalRoutes.Enabled,
		LocalFile:        cfg.LocalRoutes.File,
		PriorityBoost:    cfg.LocalRoutes.PriorityBoost,
		WatchLocal:       cfg.LocalRoutes.Watch,
	})

	gw, err := New(cfg, cache)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		gateway: gw,
		cache:   cache,
		atlas:   atlas,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Gateway returns the underlying gateway, for tests.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Run starts everything and blocks until SIGINT/SIGTERM, then shuts down
// gracefully. A port bind failure is returned immediately.
func (s *Server) Run() error {
	s.cache.Start()
	s.startRegistration()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Gateway listening", zap.String("addr", s.cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.teardown()
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	s.teardown()
	return nil
}

// startRegistration registers the gateway with ServiceAtlas and starts the
// heartbeat loop. Registration failure is non-fatal; the gateway runs in
// offline mode.
func (s *Server) startRegistration() {
	if !s.cfg.Registry.Enabled {
		return
	}

	reg := registry.Registration{
		ServiceID:   s.cfg.Registry.ServiceID,
		ServiceName: s.cfg.Registry.ServiceName,
		Host:        s.cfg.Registry.ServiceHost,
		Port:        s.cfg.Port,
	}

	regCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Registry.Timeout)
	err := s.atlas.Register(regCtx, reg)
	cancel()
	if err != nil {
		logging.Warn("Registration failed, running in offline mode", zap.Error(err))
		return
	}
	logging.Info("Registered with ServiceAtlas",
		zap.String("registry_url", s.cfg.Registry.URL),
		zap.String("service_id", s.cfg.Registry.ServiceID),
	)

	ctx, cancelLoop := context.WithCancel(context.Background())
	s.heartbeatCancel = cancelLoop
	s.heartbeatDone = make(chan struct{})

	go func() {
		defer close(s.heartbeatDone)
		ticker := time.NewTicker(s.cfg.Registry.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, 5*time.Second)
				if err := s.atlas.Heartbeat(hbCtx); err != nil {
					logging.Debug("Heartbeat failed", zap.Error(err))
				}
				hbCancel()
			}
		}
	}()
}

func (s *Server) teardown() {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		<-s.heartbeatDone

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.atlas.Deregister(ctx); err != nil {
			logging.Debug("Deregistration failed", zap.Error(err))
		}
		cancel()
		logging.Info("Deregistered from ServiceAtlas")
	}

	s.cache.Stop()
}
