// Package stats serves the internal statistics of the running pipeline
// over HTTP in the Prometheus exposition format.
//
// Example:
//
//	[stats]
//	  enabled = true
//	  bind-address = "localhost:9465"
//	  path = "/metrics"
package stats

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Diagnostic interface {
	Listening(addr string)
	Error(msg string, err error)
}

type Service struct {
	enabled bool
	addr    string
	path    string

	registry *prometheus.Registry
	server   *http.Server
	ln       net.Listener
	wg       sync.WaitGroup

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		enabled:  c.Enabled,
		addr:     c.BindAddress,
		path:     c.Path,
		registry: prometheus.NewRegistry(),
		diag:     d,
	}
}

func (s *Service) Open() error {
	if !s.enabled {
		return nil
	}
	if err := s.registry.Register(NewCollector()); err != nil {
		return errors.Wrap(err, "register statistics collector")
	}
	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return errors.Wrap(err, "register go collector")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.diag.Error("metrics listener failed", err)
		}
	}()
	s.diag.Listening(ln.Addr().String())
	return nil
}

func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.server = nil
	return err
}

// Addr returns the address the listener is bound to, or "" when the service is not serving.
func (s *Service) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
