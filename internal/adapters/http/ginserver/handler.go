// Package ginserver serves the scrape endpoint and a health report over gin.
package ginserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vshulcz/synapse-stats-exporter/internal/services/status"
)

const indexPage = `<html>
<head><title>Synapse Stats Exporter</title></head>
<body>
<h1>Synapse Stats Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>
`

// HealthReporter provides the current poll loop report.
type HealthReporter interface {
	Snapshot() status.Report
}

// Handler exposes the exporter's HTTP endpoints.
type Handler struct {
	metrics http.Handler
	health  HealthReporter
}

// NewHandler wraps a Prometheus exposition handler and a health source.
func NewHandler(metrics http.Handler, health HealthReporter) *Handler {
	return &Handler{metrics: metrics, health: health}
}

// Metrics handles `GET /metrics`.
func (h *Handler) Metrics(c *gin.Context) {
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

// Healthz handles `GET /healthz`. It always answers 200 while the process is
// serving; upstream trouble shows up in the body.
func (h *Handler) Healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": status.StateStarting})
		return
	}
	c.JSON(http.StatusOK, h.health.Snapshot())
}

// Index handles `GET /`.
func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}
