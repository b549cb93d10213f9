package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
)

const (
	defaultCleanupAge = 24 * time.Hour
	maxCleanupHours   = 24 * 366 * 10
)

type handler struct {
	executor   *job.Executor
	jobSvc     *job.Service
	catalogSvc *catalog.Service
	registry   *scraper.Registry
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type merchantView struct {
	scraper.Merchant
	Terms   int  `json:"terms"`
	Running bool `json:"running"`
}

func (h *handler) listMerchants(w http.ResponseWriter, r *http.Request) {
	merchants := h.registry.Merchants()
	running := make(map[string]bool)
	for _, key := range h.jobSvc.RunningSources(r.Context()) {
		running[key] = true
	}
	out := make([]merchantView, len(merchants))
	for i, m := range merchants {
		out[i] = merchantView{Merchant: m, Terms: len(m.Terms), Running: running[m.Key]}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) syncSource(w http.ResponseWriter, r *http.Request) {
	req := job.SubmitRequest{
		SourceKey: r.PathValue("source"),
		Mode:      r.URL.Query().Get("mode"),
	}
	j, err := h.executor.Submit(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (h *handler) syncAll(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.executor.SubmitAll(r.Context(), job.SubmitAllRequest{Mode: r.URL.Query().Get("mode")})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobs)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	j, err := h.executor.SubmitRefresh(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: r.PathValue("id")})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	page, err := h.jobSvc.List(r.Context(), job.ListJobsRequest{
		Status: q.Get("status"),
		Source: q.Get("source"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) jobStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobSvc.Stats(r.Context()))
}

func (h *handler) cleanupJobs(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultCleanupAge
	if v := r.URL.Query().Get("maxAgeHours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(hours) || math.IsInf(hours, 0) {
			writeError(w, http.StatusBadRequest, "maxAgeHours must be a number")
			return
		}
		if hours <= 0 || hours > maxCleanupHours {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("maxAgeHours must be greater than 0 and at most %d", maxCleanupHours))
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}

	res, err := h.jobSvc.Cleanup(r.Context(), job.CleanupRequest{MaxAge: maxAge})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	history, ok := intParam(w, r.URL.Query().Get("history"), "history")
	if !ok {
		return
	}
	detail, err := h.catalogSvc.GetProduct(r.Context(), catalog.GetProductRequest{
		Code:         r.PathValue("code"),
		HistoryLimit: history,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func intParam(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

// writeAppError maps typed errors to their status; anything else is an
// internal error whose cause is logged but not returned.
func writeAppError(w http.ResponseWriter, err error) {
	if ae, ok := apperror.As(err); ok {
		if d := ae.Details(); d != nil {
			writeErrorDetails(w, ae.HTTPStatus(), ae.Message(), d)
			return
		}
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	logInternal(err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
