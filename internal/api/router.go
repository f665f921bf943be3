package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/api/handler"
	apimw "github.com/ricirt/offline-sync/internal/api/middleware"
	"github.com/ricirt/offline-sync/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.SyncService,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	oh := handler.NewOperationHandler(svc, logger)
	sh := handler.NewSyncHandler(svc, logger)
	eh := handler.NewErrorHandler(svc, logger)
	mh := handler.NewMetricsHandler(svc)
	hh := handler.NewHealthHandler(svc)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Operations
		r.Post("/operations", oh.Enqueue)
		r.Get("/operations", oh.List)
		r.Delete("/operations/{id}", oh.Cancel)

		// Sync status screen
		r.Get("/queue", sh.GetQueue)
		r.Get("/connectivity", sh.GetConnectivity)
		r.Put("/connectivity", sh.ObserveConnectivity)
		r.Post("/sync", sh.TriggerSync)
		r.Put("/offline-mode", sh.SetOfflineMode)

		// Error journal. /errors/resolved must be registered before
		// /errors/{id} so chi does not treat "resolved" as an ID.
		r.Get("/errors", eh.Statistics)
		r.Post("/errors", eh.Report)
		r.Delete("/errors/resolved", eh.ClearResolved)
		r.Get("/errors/{id}", eh.Get)
		r.Post("/errors/{id}/resolve", eh.Resolve)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
