package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics
type MetricsServer struct {
	ctx    context.Context
	server *http.Server
}

func NewMetricsServer(ctx context.Context, addr string) *MetricsServer {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{ctx: ctx, server: newServer(addr, hdlr)}
}

// Start serves until Shutdown is called
func (m *MetricsServer) Start() error {
	return m.server.ListenAndServe()
}

func (m *MetricsServer) Shutdown() error {
	return m.server.Shutdown(m.ctx)
}
