package server

import (
	"net/http"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
)

// Deps are the services behind the HTTP API. Metrics may be nil.
type Deps struct {
	Executor *job.Executor
	Jobs     *job.Service
	Catalog  *catalog.Service
	Registry *scraper.Registry
	Metrics  http.Handler
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(d Deps) http.Handler {
	return newMux(d)
}

func newMux(d Deps) http.Handler {
	h := &handler{
		executor:   d.Executor,
		jobSvc:     d.Jobs,
		catalogSvc: d.Catalog,
		registry:   d.Registry,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.HandleFunc("GET /api/v1/merchants", h.listMerchants)
	mux.HandleFunc("POST /api/v1/sync", h.syncAll)
	mux.HandleFunc("POST /api/v1/sync/{source}", h.syncSource)
	mux.HandleFunc("POST /api/v1/refresh", h.refresh)

	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/stats", h.jobStats)
	mux.HandleFunc("POST /api/v1/jobs/cleanup", h.cleanupJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)

	mux.HandleFunc("GET /api/v1/products/{code}", h.getProduct)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
