package handler

import (
	"net/http"

	"github.com/ricirt/offline-sync/internal/service"
)

// MetricsHandler serves a human-readable JSON snapshot of the subsystem.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	svc *service.SyncService
}

func NewMetricsHandler(svc *service.SyncService) *MetricsHandler {
	return &MetricsHandler{svc: svc}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue depth and journal snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	high, normal, low := h.svc.QueueDepths()
	stats := h.svc.GetErrorStatistics(1)
	respondJSON(w, http.StatusOK, map[string]any{
		"queue_depth": map[string]int{
			"high":   high,
			"normal": normal,
			"low":    low,
			"total":  high + normal + low,
		},
		"errors": map[string]int{
			"total":      stats.Total,
			"unresolved": stats.Unresolved,
		},
		"connected": h.svc.GetConnectivity().Connected,
	})
}
