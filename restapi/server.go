// Package restapi serves the operator REST API over an infrastructure bundle: health,
// metrics, transaction statistics and artifact cache management, plus a Prometheus
// scrape endpoint.
package restapi

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sharedcode/storekit/infra"
	"github.com/sharedcode/storekit/metrics"
)

// BasePath prefixes every API route.
const BasePath = "/api/v1"

// Server routes API requests to a bundle.
type Server struct {
	bundle   *infra.Bundle
	config   infra.APIConfig
	methods  map[string]RestMethod
	order    []string
	registry *prometheus.Registry
	verifier *tokenVerifier
	router   *gin.Engine
}

// NewServer creates a Server with the built-in routes registered. Bearer token
// verification is enabled when config.OktaDomain is set.
func NewServer(bundle *infra.Bundle, config infra.APIConfig) (*Server, error) {
	s := &Server{
		bundle:   bundle,
		config:   config,
		methods:  make(map[string]RestMethod),
		registry: prometheus.NewRegistry(),
	}
	if err := s.registry.Register(metrics.NewPrometheusCollector(bundle.Metrics)); err != nil {
		return nil, fmt.Errorf("register prometheus collector: %w", err)
	}
	if config.OktaDomain != "" {
		s.verifier = newTokenVerifier(config.OktaDomain, config.Audience, config.ClientID)
	}
	for _, m := range []RestMethod{
		{GET, "/health", s.getOverallHealth},
		{GET, "/health/:component", s.getComponentHealth},
		{POST, "/health/check", s.checkHealth},
		{GET, "/metrics/summary", s.getMetricsSummary},
		{GET, "/metrics/operations/:name", s.getOperationMetrics},
		{GET, "/metrics/export", s.exportMetrics},
		{GET, "/transactions/stats", s.getTransactionStats},
		{GET, "/transactions/:id", s.getTransaction},
		{GET, "/cache/stats", s.getCacheStats},
		{GET, "/cache/entries", s.getCacheEntries},
		{DELETE, "/cache/entries/:key", s.deleteCacheEntry},
		{DELETE, "/cache/entries", s.deleteCacheEntries},
		{POST, "/cache/sweep", s.sweepCache},
	} {
		if err := s.Register(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler builds the router on first use and returns it.
func (s *Server) Handler() http.Handler {
	if s.router != nil {
		return s.router
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	v1 := router.Group(BasePath)
	if s.verifier != nil {
		v1.Use(s.verifier.middleware())
	}
	for _, key := range s.order {
		rm := s.methods[key]
		switch rm.Verb {
		case GET:
			v1.GET(rm.Path, rm.Handler)
		case DELETE:
			v1.DELETE(rm.Path, rm.Handler)
		case POST:
			v1.POST(rm.Path, rm.Handler)
		default:
			panic(fmt.Sprintf("HTTP verb %d not supported", rm.Verb))
		}
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.router = router
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// Serve listens on the configured address until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("rest api listening", "address", s.config.Address)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
