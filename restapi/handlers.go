package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/health"
	"github.com/sharedcode/storekit/metrics"
)

// statusOf maps an error's code to an HTTP status.
func statusOf(err error) int {
	code, _ := storekit.CodeOf(err)
	switch code {
	case storekit.NotFound:
		return http.StatusNotFound
	case storekit.ValidationFailure:
		return http.StatusBadRequest
	case storekit.InvalidState:
		return http.StatusConflict
	case storekit.CapacityExceeded:
		return http.StatusTooManyRequests
	case storekit.ConnectionFailure, storekit.Timeout, storekit.CircuitOpen:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.IndentedJSON(statusOf(err), gin.H{"message": err.Error()})
}

func healthHTTPStatus(s health.Status) int {
	if s == health.Unhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// getOverallHealth responds with the aggregated status; 503 when Unhealthy.
func (s *Server) getOverallHealth(c *gin.Context) {
	overall := s.bundle.Health.GetOverallHealth()
	components := make(map[string]health.Result)
	for _, name := range s.bundle.Health.Components() {
		if r, ok := s.bundle.Health.GetComponentHealth(name); ok {
			components[name] = r
		}
	}
	c.IndentedJSON(healthHTTPStatus(overall.Status), gin.H{
		"overall":    overall,
		"components": components,
	})
}

func (s *Server) getComponentHealth(c *gin.Context) {
	name := c.Param("component")
	r, ok := s.bundle.Health.GetComponentHealth(name)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "component " + name + " has not been checked"})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"current": r,
		"history": s.bundle.Health.GetHistory(name, 10),
	})
}

// checkHealth runs the probes named by the repeated "component" query parameter, or all.
func (s *Server) checkHealth(c *gin.Context) {
	results := s.bundle.Health.CheckHealth(c.Request.Context(), c.QueryArray("component")...)
	c.IndentedJSON(http.StatusOK, results)
}

func (s *Server) getMetricsSummary(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.bundle.Metrics.GetSummaryReport())
}

func (s *Server) getOperationMetrics(c *gin.Context) {
	name := c.Param("name")
	m, ok := s.bundle.Metrics.GetOperationMetrics(name)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "operation " + name + " not found"})
		return
	}
	pcts := make(map[string]float64)
	for p, v := range s.bundle.Metrics.GetPercentiles(name, metrics.ReportPercentiles) {
		pcts[percentileLabel(p)] = v
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"metrics":        m,
		"success_rate":   m.SuccessRate(),
		"percentiles_ms": pcts,
	})
}

func percentileLabel(p float64) string {
	switch p {
	case 50:
		return "p50"
	case 95:
		return "p95"
	case 99:
		return "p99"
	}
	return "p?"
}

func (s *Server) exportMetrics(c *gin.Context) {
	format := c.DefaultQuery("format", metrics.FormatJSON)
	b, err := s.bundle.Metrics.ExportMetrics(format)
	if err != nil {
		abortWithError(c, err)
		return
	}
	contentType := "application/json"
	if format == metrics.FormatPrometheus {
		contentType = "text/plain; version=0.0.4; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, b)
}

func (s *Server) getTransactionStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.bundle.Transactions.GetStatistics())
}

func (s *Server) getTransaction(c *gin.Context) {
	id, err := storekit.ParseUUID(c.Param("id"))
	if err != nil {
		abortWithError(c, storekit.NewError(storekit.ValidationFailure, err, nil))
		return
	}
	t, ok := s.bundle.Transactions.GetTransaction(id)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "transaction " + id.String() + " not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, t)
}

func (s *Server) getCacheStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.bundle.ArtifactCache.Stats())
}

func (s *Server) getCacheEntries(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.bundle.ArtifactCache.Entries())
}

func (s *Server) deleteCacheEntry(c *gin.Context) {
	key := c.Param("key")
	if !s.bundle.ArtifactCache.InvalidateByKey(key) {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "key " + key + " not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"removed": 1})
}

// deleteCacheEntries invalidates by glob ("pattern") or CEL expression ("where").
func (s *Server) deleteCacheEntries(c *gin.Context) {
	pattern, where := c.Query("pattern"), c.Query("where")
	var (
		n   int
		err error
	)
	switch {
	case pattern != "" && where != "":
		err = storekit.Errorf(storekit.ValidationFailure, "pattern and where are mutually exclusive")
	case pattern != "":
		n, err = s.bundle.ArtifactCache.InvalidateByPattern(pattern)
	case where != "":
		n, err = s.bundle.ArtifactCache.InvalidateWhere(where)
	default:
		err = storekit.Errorf(storekit.ValidationFailure, "pattern or where is required")
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) sweepCache(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.bundle.ArtifactCache.OptimizeOrSweep())
}
