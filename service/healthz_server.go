package service

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
}

func NewHealthzServer(ctx context.Context, addr string) *HealthzServer {
	h := &HealthzServer{ctx: ctx}
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	h.server = newServer(addr, hdlr)
	return h
}

// Start serves until Shutdown is called
func (h *HealthzServer) Start() error {
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func newServer(addr string, hdlr http.Handler) *http.Server {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
}
