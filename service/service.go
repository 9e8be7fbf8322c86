package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-regress/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"
)

// Config holds the listen addresses of the service endpoints
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

// NewConfig returns a config listening on the default healthz address and
// the given metrics host and port
func NewConfig(metricsHost string, metricsPort int) Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(metricsHost, strconv.Itoa(metricsPort)),
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	config Config
	mu     sync.Mutex
}

func New(cfg Config) *Service {
	return &Service{config: cfg}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Info("service starting")

	s.Healthz = NewHealthzServer(ctx, s.config.HealthzAddr)
	s.Metrics = NewMetricsServer(ctx, s.config.MetricsAddr)

	go func(h *HealthzServer) {
		log.Info("starting healthz server", "addr", s.config.HealthzAddr)
		if err := h.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("healthz", err)
		}
	}(s.Healthz)

	go func(m *MetricsServer) {
		log.Info("starting metrics server", "addr", s.config.MetricsAddr)
		if err := m.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("metrics", err)
		}
	}(s.Metrics)

	log.Info("service started")
}

func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Healthz == nil {
		return
	}
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	s.Healthz, s.Metrics = nil, nil
	log.Info("service stopped")
}
