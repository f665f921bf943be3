package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/service"
)

// SyncHandler serves the sync status screen: connectivity, queue summary,
// manual sync and the offline mode switch.
type SyncHandler struct {
	svc    *service.SyncService
	logger *zap.Logger
}

func NewSyncHandler(svc *service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, logger: logger}
}

type connectivityResponse struct {
	domain.ConnectivityState
	OfflineMode bool `json:"offline_mode"`
}

// GetConnectivity handles GET /api/v1/connectivity
//
// @Summary  Debounced connectivity state
// @Tags     sync
// @Produce  json
// @Success  200  {object}  connectivityResponse
// @Router   /api/v1/connectivity [get]
func (h *SyncHandler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, connectivityResponse{
		ConnectivityState: h.svc.GetConnectivity(),
		OfflineMode:       h.svc.OfflineMode(),
	})
}

// ObserveConnectivity handles PUT /api/v1/connectivity
//
// The platform pushes raw link observations here. The response is 202: the
// observation only becomes the published state once it survives debouncing.
//
// @Summary  Push a raw link observation
// @Tags     sync
// @Accept   json
// @Param    body  body  domain.RawLink  true  "Observation"
// @Success  202
// @Router   /api/v1/connectivity [put]
func (h *SyncHandler) ObserveConnectivity(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawLink
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.svc.ObserveConnectivity(raw)
	w.WriteHeader(http.StatusAccepted)
}

// GetQueue handles GET /api/v1/queue
//
// @Summary  Queue summary for the "N items pending sync" indicator
// @Tags     sync
// @Produce  json
// @Success  200  {object}  domain.QueueStatus
// @Router   /api/v1/queue [get]
func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.GetQueueStatus())
}

// TriggerSync handles POST /api/v1/sync
//
// With ?wait=true the drain runs before the response and its result is
// returned with 200; otherwise the request is handed to the dispatcher and
// answered with 202.
//
// @Summary  Sync now
// @Tags     sync
// @Produce  json
// @Param    wait  query     bool  false  "Wait for the drain to finish"
// @Success  200   {object}  dispatcher.DrainResult
// @Success  202
// @Failure  503   {object}  map[string]string
// @Router   /api/v1/sync [post]
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	res, err := h.svc.TriggerSyncNow(r.Context(), wait)
	if err != nil {
		mapError(w, err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type offlineModeRequest struct {
	Enabled bool `json:"enabled"`
}

// SetOfflineMode handles PUT /api/v1/offline-mode
//
// @Summary  Pause or resume replay
// @Tags     sync
// @Accept   json
// @Produce  json
// @Param    body  body      offlineModeRequest  true  "Switch"
// @Success  200   {object}  map[string]bool
// @Router   /api/v1/offline-mode [put]
func (h *SyncHandler) SetOfflineMode(w http.ResponseWriter, r *http.Request) {
	var req offlineModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.svc.SetOfflineMode(req.Enabled)
	respondJSON(w, http.StatusOK, map[string]bool{"offline_mode": h.svc.OfflineMode()})
}
