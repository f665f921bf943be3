package handler

import (
	"net/http"

	"github.com/ricirt/offline-sync/internal/service"
)

// HealthHandler serves the liveness probe the app shell polls before it
// routes writes through the daemon.
type HealthHandler struct {
	svc *service.SyncService
}

func NewHealthHandler(svc *service.SyncService) *HealthHandler { return &HealthHandler{svc: svc} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"connected":    h.svc.GetConnectivity().Connected,
		"offline_mode": h.svc.OfflineMode(),
		"queued":       h.svc.GetQueueStatus().Size,
	})
}
