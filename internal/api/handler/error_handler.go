package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/service"
)

// ErrorHandler exposes the error journal.
type ErrorHandler struct {
	svc    *service.SyncService
	logger *zap.Logger
}

func NewErrorHandler(svc *service.SyncService, logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{svc: svc, logger: logger}
}

// Statistics handles GET /api/v1/errors
//
// @Summary  Error statistics and the most recent records
// @Tags     errors
// @Produce  json
// @Param    recent  query     int  false  "Number of recent records (default 10)"
// @Success  200     {object}  domain.ErrorStatistics
// @Router   /api/v1/errors [get]
func (h *ErrorHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	recent, _ := strconv.Atoi(r.URL.Query().Get("recent"))
	respondJSON(w, http.StatusOK, h.svc.GetErrorStatistics(recent))
}

// Get handles GET /api/v1/errors/{id}
//
// @Summary  Get one error record
// @Tags     errors
// @Produce  json
// @Param    id   path      string  true  "Record UUID"
// @Success  200  {object}  domain.ErrorRecord
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/errors/{id} [get]
func (h *ErrorHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetError(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type reportRequest struct {
	Message  string              `json:"message"`
	Severity domain.Severity     `json:"severity"`
	Context  domain.ErrorContext `json:"context"`
}

// Report handles POST /api/v1/errors
//
// @Summary  Journal a failure raised outside the queue
// @Tags     errors
// @Accept   json
// @Produce  json
// @Param    body  body      reportRequest  true  "Failure"
// @Success  201   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/errors [post]
func (h *ErrorHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	if req.Severity == "" {
		req.Severity = domain.SeverityMedium
	}
	if !req.Severity.IsValid() {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid severity %q", req.Severity))
		return
	}

	id, err := h.svc.ReportError(r.Context(), errors.New(req.Message), req.Severity, req.Context)
	if err != nil {
		h.logger.Error("report error failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Resolve handles POST /api/v1/errors/{id}/resolve
//
// @Summary  Mark an error record resolved
// @Tags     errors
// @Param    id   path      string  true  "Record UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/errors/{id}/resolve [post]
func (h *ErrorHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkErrorResolved(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearResolved handles DELETE /api/v1/errors/resolved
//
// @Summary  Delete every resolved record
// @Tags     errors
// @Produce  json
// @Success  200  {object}  map[string]int
// @Router   /api/v1/errors/resolved [delete]
func (h *ErrorHandler) ClearResolved(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearResolvedErrors(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
