// Package httpstatus defines the minimal status-endpoint surface spec.md
// names as an out-of-scope external collaborator ("specified only through
// the interfaces they expose"): this package supplies the interface and one
// trivial net/http implementation, not a web framework. No router
// (gin/chi/echo) is pulled in for what is a single unexported handler.
package httpstatus

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reporter supplies the guardian's current health for the status endpoint:
// whether this replica holds leadership and how many operations are live.
type Reporter interface {
	IsLeader() bool
	OperationCount() int
}

// Server is the status-endpoint contract (spec.md §6's ARK_SERVER_PORT):
// Start begins serving and Shutdown stops it.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type statusBody struct {
	Leader     bool `json:"leader"`
	Operations int  `json:"operations"`
}

// httpServer is the single concrete Server implementation: a net/http
// mux exposing "/status" (JSON, via Reporter) and "/metrics" (Prometheus,
// via promhttp), nothing else.
type httpServer struct {
	addr     string
	reporter Reporter
	srv      *http.Server
}

// NewServer constructs a Server bound to addr (":<ARK_SERVER_PORT>").
func NewServer(addr string, reporter Reporter) Server {
	mux := http.NewServeMux()
	s := &httpServer{addr: addr, reporter: reporter}
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusBody{
		Leader:     s.reporter.IsLeader(),
		Operations: s.reporter.OperationCount(),
	})
}

func (s *httpServer) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *httpServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
