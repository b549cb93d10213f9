package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/catalogsync"
	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
	"github.com/ahmethakanbesel/pricewatch/internal/platform/sqlite"
	"github.com/ahmethakanbesel/pricewatch/internal/refresh"
	catalogrepo "github.com/ahmethakanbesel/pricewatch/internal/repository/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
	"github.com/ahmethakanbesel/pricewatch/internal/server"
	"github.com/ahmethakanbesel/pricewatch/internal/vtex"
)

const testCode = "7790070411709"

func vendorProduct(code string, price float64) vtex.RawProduct {
	return vtex.RawProduct{
		ProductID:   "p-" + code,
		ProductName: "Yerba Mate 1kg",
		Brand:       "Playadito",
		LinkText:    "yerba-mate-1kg",
		Categories:  []string{"/Almacén/Infusiones/"},
		PriceRange: &vtex.PriceRange{
			SellingPrice: &vtex.PriceBand{LowPrice: price},
			ListPrice:    &vtex.PriceBand{LowPrice: price},
		},
		Items: []vtex.Item{{
			EAN:    code,
			Images: []vtex.Image{{ImageURL: "https://img/yerba.jpg"}},
		}},
	}
}

// fakeVendor answers every persisted query with the same product. When
// gate is non-nil each request blocks until it is closed.
func fakeVendor(t *testing.T, gate chan struct{}) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"productSuggestions": map[string]any{
					"products": []vtex.RawProduct{vendorProduct(testCode, 2500)},
				},
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setupAPI(t *testing.T, vendorURL string) *httptest.Server {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := catalogrepo.NewRepository(db.DB)
	registry := scraper.NewRegistry(
		scraper.Merchant{Key: "disco", Name: "Disco", Role: catalog.RoleMaster, BaseURL: vendorURL, Terms: []string{"yerba"}},
		scraper.Merchant{Key: "vea", Name: "Vea", Role: catalog.RoleFollower, BaseURL: vendorURL, Terms: []string{"yerba", "mate"}},
	)

	client, err := vtex.New("hash", vtex.WithTimeout(2*time.Second))
	require.NoError(t, err)
	normalizer := vtex.NewNormalizer(vtex.DefaultExcludedBrands)
	m := metrics.New()

	engine := catalogsync.New(client, normalizer, repo, catalogsync.WithTermDelay(0), catalogsync.WithMetrics(m))
	scheduler := refresh.New(client, normalizer, repo, registry, refresh.WithGroupDelay(0), refresh.WithMetrics(m))

	manager := job.NewManager()
	executor := job.NewExecutor(manager, registry, engine, scheduler, job.WithMetrics(m))

	poolCtx, poolCancel := context.WithCancel(context.Background())
	pool := job.NewWorkerPool(manager, executor, 2)
	executor.SetNotify(pool.Notify)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(poolDone)
	}()
	// Cleanup runs LIFO: cancel pool, wait for drain, then db.Close.
	t.Cleanup(func() {
		poolCancel()
		<-poolDone
	})

	ts := httptest.NewServer(server.NewHandler(server.Deps{
		Executor: executor,
		Jobs:     job.NewService(manager),
		Catalog:  catalog.NewService(repo),
		Registry: registry,
		Metrics:  m.Handler(),
	}))
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, method, url string, out any) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	if out != nil && res.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return res.StatusCode, env
}

// fetchJob is safe to call from require.Eventually's goroutine.
func fetchJob(base, id string) (job.Job, bool) {
	var j job.Job
	res, err := http.Get(base + "/api/v1/jobs/" + id)
	if err != nil {
		return j, false
	}
	defer func() { _ = res.Body.Close() }()
	var env envelope
	if res.StatusCode != http.StatusOK || json.NewDecoder(res.Body).Decode(&env) != nil {
		return j, false
	}
	return j, json.Unmarshal(env.Data, &j) == nil
}

func waitJob(t *testing.T, base, id string) job.Job {
	t.Helper()
	var j job.Job
	require.Eventually(t, func() bool {
		var ok bool
		j, ok = fetchJob(base, id)
		return ok && j.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
	return j
}

func TestHealthAndMerchants(t *testing.T) {
	ts := setupAPI(t, fakeVendor(t, nil).URL)

	status, env := call(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", env.Message)

	var merchants []struct {
		Key     string `json:"key"`
		Role    string `json:"role"`
		Terms   int    `json:"terms"`
		Running bool   `json:"running"`
	}
	status, _ = call(t, http.MethodGet, ts.URL+"/api/v1/merchants", &merchants)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, merchants, 2)
	assert.Equal(t, "disco", merchants[0].Key)
	assert.Equal(t, "master", merchants[0].Role)
	assert.Equal(t, 2, merchants[1].Terms)
}

func TestSyncThenProduct(t *testing.T) {
	ts := setupAPI(t, fakeVendor(t, nil).URL)

	var queued job.Job
	status, _ := call(t, http.MethodPost, ts.URL+"/api/v1/sync/disco", &queued)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "disco", queued.SourceKey)
	assert.Equal(t, "categories", queued.Mode)

	done := waitJob(t, ts.URL, queued.ID)
	require.Equal(t, job.StatusCompleted, done.Status, done.Error)
	require.NotNil(t, done.EndTime)

	raw, err := json.Marshal(done.Result)
	require.NoError(t, err)
	var res catalogsync.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 1, res.TotalUniqueProducts)
	assert.Equal(t, 1, res.SavedCount)

	var follower job.Job
	status, _ = call(t, http.MethodPost, ts.URL+"/api/v1/sync/vea", &follower)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, job.StatusCompleted, waitJob(t, ts.URL, follower.ID).Status)

	var detail catalog.ProductDetail
	status, _ = call(t, http.MethodGet, ts.URL+"/api/v1/products/"+testCode, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Yerba Mate 1kg", detail.Product.Name)
	require.Len(t, detail.Offers, 2)
	for _, o := range detail.Offers {
		assert.Equal(t, 2500.0, o.Price)
		assert.Len(t, o.History, 1)
	}

	status, _ = call(t, http.MethodGet, ts.URL+"/api/v1/products/000", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSync_BadRequests(t *testing.T) {
	ts := setupAPI(t, fakeVendor(t, nil).URL)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown source", http.MethodPost, "/api/v1/sync/nope", http.StatusNotFound},
		{"bad mode", http.MethodPost, "/api/v1/sync/disco?mode=brands", http.StatusBadRequest},
		{"bad mode all", http.MethodPost, "/api/v1/sync?mode=brands", http.StatusBadRequest},
		{"bad job id", http.MethodGet, "/api/v1/jobs/42", http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/v1/jobs/6f1c1a4e-0000-4000-8000-000000000000", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/jobs?status=done", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/jobs?limit=ten", http.StatusBadRequest},
		{"bad cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=-1", http.StatusBadRequest},
		{"zero cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=0", http.StatusBadRequest},
		{"NaN cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=NaN", http.StatusBadRequest},
		{"infinite cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=Inf", http.StatusBadRequest},
		{"huge cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=1e300", http.StatusBadRequest},
		{"text cleanup age", http.MethodPost, "/api/v1/jobs/cleanup?maxAgeHours=soon", http.StatusBadRequest},
		{"bad history", http.MethodGet, "/api/v1/products/1?history=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, tt.method, ts.URL+tt.path, nil)
			assert.Equal(t, tt.want, status)
			assert.NotEqual(t, "ok", env.Message)
		})
	}
}

func TestSync_ConflictWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	ts := setupAPI(t, fakeVendor(t, gate).URL)
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(gate) }) }
	t.Cleanup(release)

	var first job.Job
	status, _ := call(t, http.MethodPost, ts.URL+"/api/v1/sync/disco", &first)
	require.Equal(t, http.StatusAccepted, status)

	require.Eventually(t, func() bool {
		j, ok := fetchJob(ts.URL, first.ID)
		return ok && j.Status == job.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	status, _ = call(t, http.MethodPost, ts.URL+"/api/v1/sync/disco", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, env := call(t, http.MethodPost, ts.URL+"/api/v1/sync", nil)
	assert.Equal(t, http.StatusConflict, status)
	var busy []string
	require.NoError(t, json.Unmarshal(env.Data, &busy))
	assert.Equal(t, []string{"disco"}, busy)

	release()
	assert.Equal(t, job.StatusCompleted, waitJob(t, ts.URL, first.ID).Status)
}

func syncAndWait(t *testing.T, base, source string) {
	t.Helper()
	var j job.Job
	status, _ := call(t, http.MethodPost, base+"/api/v1/sync/"+source, &j)
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, job.StatusCompleted, waitJob(t, base, j.ID).Status)
}

func TestRefreshAndJobAdmin(t *testing.T) {
	ts := setupAPI(t, fakeVendor(t, nil).URL)

	// Master first so the follower has catalog entries to attach to.
	syncAndWait(t, ts.URL, "disco")
	syncAndWait(t, ts.URL, "vea")

	var rj job.Job
	status, _ := call(t, http.MethodPost, ts.URL+"/api/v1/refresh", &rj)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, job.KindRefresh, rj.Kind)

	done := waitJob(t, ts.URL, rj.ID)
	require.Equal(t, job.StatusCompleted, done.Status, done.Error)
	raw, err := json.Marshal(done.Result)
	require.NoError(t, err)
	var stats refresh.Stats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 2, stats.Selected)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.PriceChanged)

	var queued []job.Job
	status, _ = call(t, http.MethodPost, ts.URL+"/api/v1/sync", &queued)
	require.Equal(t, http.StatusAccepted, status)
	require.Len(t, queued, 2)
	assert.Equal(t, "disco", queued[0].SourceKey)
	for _, j := range queued {
		waitJob(t, ts.URL, j.ID)
	}

	var page job.Page
	status, _ = call(t, http.MethodGet, ts.URL+"/api/v1/jobs?status=completed&limit=2", &page)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Jobs, 2)

	var js job.Stats
	call(t, http.MethodGet, ts.URL+"/api/v1/jobs/stats", &js)
	assert.Equal(t, 5, js.Completed)
	assert.Equal(t, 0, js.Running)

	var cleaned struct {
		Removed int `json:"removed"`
	}
	status, _ = call(t, http.MethodPost, ts.URL+"/api/v1/jobs/cleanup?maxAgeHours=24", &cleaned)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, cleaned.Removed)

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pricewatch_jobs_total{kind="refresh",source="refresh",status="completed"} 1`)
}

func TestRequestIDHeader(t *testing.T) {
	ts := setupAPI(t, fakeVendor(t, nil).URL)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, "trace-1", res.Header.Get("X-Request-ID"))

	res, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Len(t, res.Header.Get("X-Request-ID"), 36)
}
