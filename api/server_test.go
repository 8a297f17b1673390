package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/internal/orchestrator"
	"github.com/seenimoa/b3fetch/internal/pipeline"
	"github.com/seenimoa/b3fetch/internal/scraper"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

var fixedNow = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC) // Friday, 11:00 BRT

type fakeService struct {
	fetchErr   error
	rawErr     error
	clearErr   error
	cleared    int
	lastTicker string
}

func (f *fakeService) Classify(_ context.Context, raw string) models.ClassificationResult {
	t := models.ParseTicker(raw)
	it := models.StockPN
	if !t.Valid() {
		it = models.Unknown
	}
	return models.ClassificationResult{Ticker: t, Type: it, Method: models.MethodHeuristic, Confidence: 1}
}

func (f *fakeService) Fetch(ctx context.Context, raw string) (pipeline.Result, error) {
	f.lastTicker = raw
	c := f.Classify(ctx, raw)
	if f.fetchErr != nil {
		return pipeline.Result{Classification: c}, f.fetchErr
	}
	price := 38.45
	return pipeline.Result{
		Classification: c,
		Record: &models.StockRecord{Snapshot: models.Snapshot{
			Ticker: c.Ticker, Type: c.Type, Name: "PETROBRAS", Currency: "BRL",
			Price: &price, LastUpdated: fixedNow.Add(-90 * time.Minute),
		}},
	}, nil
}

func (f *fakeService) RawAudit(_ context.Context, raw string) (*models.RawAcquisitionResult, error) {
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	return &models.RawAcquisitionResult{Ticker: models.ParseTicker(raw), Engine: "chromedp"}, nil
}

func (f *fakeService) ClearClassificationCache(context.Context) error {
	f.cleared++
	return f.clearErr
}

type fakeBreakers map[string]string

func (f fakeBreakers) BreakerStates() map[string]string { return f }

func testServer(t *testing.T, svc *fakeService, opts ...func(*Options)) *Server {
	t.Helper()
	cfg := config.Default()
	o := Options{
		Config:  cfg,
		Service: svc,
		Version: "test",
		Now:     func() time.Time { return fixedNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewServer(o)
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// ════════════════════════════════════════════════════════════════════
// Health & metrics
// ════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	srv := testServer(t, &fakeService{}, func(o *Options) {
		o.Breakers = fakeBreakers{"equity/chromedp": "closed"}
	})

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := do(t, srv, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
		resp := decodeResponse(t, rec)
		data := resp.Data.(map[string]any)
		if data["status"] != "ok" {
			t.Errorf("%s: status = %v, want ok", path, data["status"])
		}
		if data["market_status"] != "OPEN" {
			t.Errorf("%s: market_status = %v, want OPEN", path, data["market_status"])
		}
		if data["version"] != "test" {
			t.Errorf("%s: version = %v", path, data["version"])
		}
	}
}

func TestHealthReportsDegradedBreaker(t *testing.T) {
	srv := testServer(t, &fakeService{}, func(o *Options) {
		o.Breakers = fakeBreakers{"equity/chromedp": "open", "equity/rod": "closed"}
	})
	resp := decodeResponse(t, do(t, srv, http.MethodGet, "/health"))
	data := resp.Data.(map[string]any)
	if data["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", data["status"])
	}
	breakers := data["breakers"].(map[string]any)
	if breakers["equity/chromedp"] != "open" {
		t.Errorf("breakers = %v", breakers)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	prom := metrics.NewPrometheus("b3fetch", prometheus.NewRegistry())
	prom.LookupFailed()
	srv := testServer(t, &fakeService{}, func(o *Options) { o.Metrics = prom.Handler() })

	rec := do(t, srv, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "b3fetch_classify_lookup_failures_total 1") {
		t.Errorf("metrics body missing lookup failure counter:\n%s", rec.Body.String())
	}
}

// ════════════════════════════════════════════════════════════════════
// Assets
// ════════════════════════════════════════════════════════════════════

func TestGetAsset(t *testing.T) {
	svc := &fakeService{}
	srv := testServer(t, svc)

	rec := do(t, srv, http.MethodGet, "/api/v1/assets/petr4")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastTicker != "petr4" {
		t.Errorf("service got ticker %q", svc.lastTicker)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Classification models.ClassificationResult `json:"classification"`
			Record         models.StockRecord          `json:"record"`
			Age            string                      `json:"age"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if body.Data.Classification.Type != models.StockPN {
		t.Errorf("type = %s", body.Data.Classification.Type)
	}
	if body.Data.Record.Name != "PETROBRAS" || *body.Data.Record.Price != 38.45 {
		t.Errorf("record = %+v", body.Data.Record)
	}
	if body.Data.Age != "1h30m0s" {
		t.Errorf("age = %q, want 1h30m0s", body.Data.Age)
	}
}

func TestGetAssetFailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter bool
	}{
		{"not found", &scraper.NotFoundError{Ticker: "XPTO3"}, http.StatusNotFound, codeNotFound, false},
		{"site changed", &scraper.StructuralMismatchError{Ticker: "PETR4", ExpectedElement: "div.top-info"}, http.StatusBadGateway, codeSiteChanged, false},
		{"anti bot", &scraper.AntiBotError{Ticker: "PETR4", Reason: "cf-challenge"}, http.StatusServiceUnavailable, codeDegraded, true},
		{"circuit open", &scraper.CircuitOpenError{Group: models.GroupEquity, Engine: "rod"}, http.StatusServiceUnavailable, codeDegraded, true},
		{"timeout", &scraper.TimeoutError{Ticker: "PETR4", Operation: "navigate"}, http.StatusGatewayTimeout, codeTryLater, false},
		{"capture incomplete", &scraper.CaptureIncompleteError{Ticker: "PETR4", Missing: []models.Channel{models.ChannelQuotes}}, http.StatusGatewayTimeout, codeTryLater, false},
		{"unsupported", fmt.Errorf("%w: XPTO11", pipeline.ErrUnsupportedInstrument), http.StatusUnprocessableEntity, codeUnsupported, false},
		{"invalid", fmt.Errorf("%w: %q", orchestrator.ErrInvalidTicker, "PETR"), http.StatusBadRequest, codeInvalidTicker, false},
		{"wrapped failure", fmt.Errorf("acquire: %w", &scraper.NotFoundError{Ticker: "XPTO3"}), http.StatusNotFound, codeNotFound, false},
		{"internal", errors.New("disk full"), http.StatusInternalServerError, codeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakeService{fetchErr: tt.err})
			rec := do(t, srv, http.MethodGet, "/api/v1/assets/PETR4")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Retry-After present = %v, want %v", got, tt.retryAfter)
			}
			resp := decodeResponse(t, rec)
			if resp.Success {
				t.Error("success = true for a failure")
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	srv := testServer(t, &fakeService{fetchErr: errors.New("pq: password authentication failed")})
	resp := decodeResponse(t, do(t, srv, http.MethodGet, "/api/v1/assets/PETR4"))
	if strings.Contains(resp.Error, "password") {
		t.Errorf("error leaked internals: %q", resp.Error)
	}
}

func TestGetRawAudit(t *testing.T) {
	srv := testServer(t, &fakeService{})
	rec := do(t, srv, http.MethodGet, "/api/v1/assets/PETR4/raw")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	srv = testServer(t, &fakeService{rawErr: fmt.Errorf("%w for PETR4", orchestrator.ErrNoRawAudit)})
	rec = do(t, srv, http.MethodGet, "/api/v1/assets/PETR4/raw")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Classification
// ════════════════════════════════════════════════════════════════════

func TestClassify(t *testing.T) {
	srv := testServer(t, &fakeService{})

	rec := do(t, srv, http.MethodGet, "/api/v1/classify/PETR4")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	if data["type"] != string(models.StockPN) {
		t.Errorf("type = %v", data["type"])
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/classify/PETR")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid ticker status = %d, want 400", rec.Code)
	}
}

func TestClearClassificationCache(t *testing.T) {
	svc := &fakeService{}
	srv := testServer(t, svc)

	rec := do(t, srv, http.MethodDelete, "/api/v1/classify/cache")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.cleared != 1 {
		t.Errorf("cleared = %d, want 1", svc.cleared)
	}

	svc.clearErr = errors.New("redis: connection refused")
	rec = do(t, srv, http.MethodDelete, "/api/v1/classify/cache")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Configuration
// ════════════════════════════════════════════════════════════════════

func TestConfigIsRedacted(t *testing.T) {
	srv := testServer(t, &fakeService{}, func(o *Options) {
		o.Config.Storage.DSN = "postgres://b3:hunter2@db:5432/b3fetch"
		o.Config.Cache.Password = "s3cr3t-password"
	})

	for _, path := range []string{"/api/v1/config", "/api/v1/config/secrets"} {
		rec := do(t, srv, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		body := rec.Body.String()
		if strings.Contains(body, "hunter2") || strings.Contains(body, "s3cr3t-password") {
			t.Errorf("%s leaked a credential: %s", path, body)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t, &fakeService{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assets/PETR4", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := do(t, testServer(t, &fakeService{}), http.MethodGet, "/api/v1/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
