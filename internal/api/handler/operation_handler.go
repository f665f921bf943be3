package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/offline-sync/internal/api/middleware"
	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/service"
)

// OperationHandler handles the producer-facing queue endpoints.
type OperationHandler struct {
	svc    *service.SyncService
	logger *zap.Logger
}

func NewOperationHandler(svc *service.SyncService, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{svc: svc, logger: logger}
}

// Enqueue handles POST /api/v1/operations
//
// @Summary     Queue an operation for replay
// @Tags        operations
// @Accept      json
// @Produce     json
// @Param       body  body      domain.EnqueueRequest  true  "Operation"
// @Success     201   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Failure     503   {object}  map[string]string  "Queue full"
// @Router      /api/v1/operations [post]
func (h *OperationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.svc.Enqueue(r.Context(), req.Kind, req.Payload, req.Priority)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("enqueue failed",
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// List handles GET /api/v1/operations
//
// @Summary  List queued operations in drain order
// @Tags     operations
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/operations [get]
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.svc.ListOperations()
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": len(items),
	})
}

// Cancel handles DELETE /api/v1/operations/{id}
//
// @Summary  Cancel a queued operation
// @Tags     operations
// @Param    id   path      string  true  "Operation UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string  "Operation is being replayed"
// @Router   /api/v1/operations/{id} [delete]
func (h *OperationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelOperation(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
