package handlers

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/obs"
	"github.com/GBR24/kolmo-mvp/internal/orchestrator"
	"github.com/GBR24/kolmo-mvp/internal/services"
	"github.com/GBR24/kolmo-mvp/internal/store"
)

type fakeAsker struct {
	got  models.Request
	resp models.Response
	err  error
}

func (f *fakeAsker) Handle(_ context.Context, req models.Request) (models.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeIngester struct {
	out models.IngestResponse
	err error
	got []string
}

func (f *fakeIngester) Ingest(_ context.Context, queries []string) (models.IngestResponse, error) {
	f.got = queries
	return f.out, f.err
}

func testConfig() config.Config {
	return config.Config{
		DefaultSymbols: []string{"BRENT", "WTI"},
		MaxSymbols:     5,
		ForecastMethod: "gbm_mc",
		RequestTimeout: 2 * time.Second,
		FetchCacheTTL:  time.Minute,
	}
}

func newTestAPI(asker Asker, ing NewsIngest) (*API, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return New(testConfig(), Deps{
		Store:    s,
		Cache:    services.NewMemoryCache(),
		Fetch:    services.NewFetchCache(nil, time.Second),
		Asker:    asker,
		Ingester: ing,
		Counters: obs.NewCounters(),
	}), s
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAskReturnsResponse(t *testing.T) {
	px := models.PriceField{Ts: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Close: 80, Source: "eia"}
	asker := &fakeAsker{resp: models.Response{
		RequestID: "r1",
		Symbols:   []string{"BRENT"},
		Prices:    map[string]models.Slot[models.PriceField]{"BRENT": models.Available(px)},
		Forecast:  map[string]models.Slot[models.ForecastField]{"BRENT": models.Missing[models.ForecastField]()},
		Insight:   map[string]models.Slot[models.InsightField]{"BRENT": models.Missing[models.InsightField]()},
		Warnings:  []string{"forecast:BRENT: timeout after 10s"},
	}}
	api, _ := newTestAPI(asker, nil)

	body := `{"query_text":"Brent today + 1d forecast","symbols":["BRENT"]}`
	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BRENT"}, asker.got.Symbols)
	out := decode(t, rec)
	assert.Equal(t, "unavailable", out["forecast"].(map[string]any)["BRENT"])
	assert.Equal(t, 80.0, out["prices"].(map[string]any)["BRENT"].(map[string]any)["close"])
}

func TestAskGetQueryParams(t *testing.T) {
	asker := &fakeAsker{}
	api, _ := newTestAPI(asker, nil)
	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ask?q=diesel+outlook&symbols=ho&horizon=5d", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Request{QueryText: "diesel outlook", Symbols: []string{"HO"}, Horizon: "5d"}, asker.got)
}

func TestAskErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid intent", &orchestrator.InvalidIntentError{Reason: "no known symbol in request"}, http.StatusBadRequest},
		{"schema violation", &orchestrator.SchemaViolationError{Schema: "response", Err: errors.New("bad")}, http.StatusInternalServerError},
		{"deadline", fmt.Errorf("handle: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, _ := newTestAPI(&fakeAsker{err: tc.err}, nil)
			rec := httptest.NewRecorder()
			api.Ask(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"query_text":"brent"}`)))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestAskGetPassesAllSymbolsToOrchestrator(t *testing.T) {
	asker := &fakeAsker{}
	api, _ := newTestAPI(asker, nil)
	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ask?symbols=brent,wti,ng,ho,rbob,jet,eurusd", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	// seven symbols against a limit of five; the limit is enforced downstream
	assert.Equal(t, []string{"BRENT", "WTI", "NG", "HO", "RBOB", "JET", "EURUSD"}, asker.got.Symbols)
}

func TestAskOverSymbolLimitIsRejectedByOrchestrator(t *testing.T) {
	asker := &fakeAsker{err: &orchestrator.InvalidIntentError{Reason: "too many symbols"}}
	api, _ := newTestAPI(asker, nil)
	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ask?symbols=brent,wti,ng,ho,rbob,jet", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, asker.got.Symbols, 6)
}

func TestAskEmptyRequestUsesDefaults(t *testing.T) {
	asker := &fakeAsker{resp: models.Response{RequestID: "r2", Symbols: []string{"BRENT", "WTI"}}}
	api, _ := newTestAPI(asker, nil)

	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Request{}, asker.got)

	rec = httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ask", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, asker.got.QueryText)
	assert.Empty(t, asker.got.Symbols)
}

func TestAskRejectsBadInput(t *testing.T) {
	api, _ := newTestAPI(&fakeAsker{}, nil)
	rec := httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"query_text":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.Ask(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/ask", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthReportsDepsAndCounters(t *testing.T) {
	api, _ := newTestAPI(&fakeAsker{}, nil)
	api.counters.RequestFinished(context.Background(), obs.RequestEvent{Status: obs.StatusOK})

	rec := httptest.NewRecorder()
	api.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Ok)
	assert.Contains(t, out.Deps, "store")
	assert.Contains(t, out.Deps, "cache:memory")
	assert.Equal(t, int64(1), out.Counters["requests.ok"])
	assert.Equal(t, int64(0), out.Counters["fetch.upstream"])
}

func TestPricesLatestMarksMissing(t *testing.T) {
	api, s := newTestAPI(&fakeAsker{}, nil)
	_, err := s.UpsertPrices(context.Background(), []models.PriceTick{
		{Symbol: "BRENT", Ts: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Close: 79.4, Source: "eia"},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.PricesLatest(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prices/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	prices := decode(t, rec)["prices"].(map[string]any)
	assert.Equal(t, 79.4, prices["BRENT"].(map[string]any)["close"])
	assert.Equal(t, "unavailable", prices["WTI"])
}

func TestForecastEndpoints(t *testing.T) {
	api, s := newTestAPI(&fakeAsker{}, nil)
	base := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendPrediction(context.Background(), models.Prediction{
			ID: fmt.Sprintf("p%d", i), Symbol: "WTI", GeneratedAt: base.Add(time.Duration(i) * time.Hour),
			Horizon: "1d", YHat: 70 + float64(i), Method: "gbm_mc", Source: "forecast:gbm_mc",
		}))
	}

	rec := httptest.NewRecorder()
	api.ForecastLatest(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecasts/latest?symbol=wti", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p2", decode(t, rec)["id"])

	rec = httptest.NewRecorder()
	api.ForecastHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecasts/history?symbol=WTI&method=all&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "p2", items[0].(map[string]any)["id"])

	rec = httptest.NewRecorder()
	api.ForecastLatest(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecasts/latest?symbol=NG", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	api.ForecastHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecasts/history?symbol=WTI&method=auto", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"].([]any), 3)

	rec = httptest.NewRecorder()
	api.ForecastLatest(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecasts/latest?symbol=WTI&method=arima", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewsPagesStoredItems(t *testing.T) {
	api, s := newTestAPI(&fakeAsker{}, nil)
	now := time.Now().UTC()
	_, err := s.UpsertNews(context.Background(), []models.NewsItem{
		{ID: "a", Headline: "Brent gains on OPEC talk", URL: "https://x/a", PublishedAt: now.Add(-time.Hour), Source: "newsapi", Tickers: []string{"BRENT"}},
		{ID: "b", Headline: "Gas storage build", URL: "https://x/b", PublishedAt: now.Add(-2 * time.Hour), Source: "newsapi", Tickers: []string{"NG"}},
		{ID: "c", Headline: "Old Brent story", URL: "https://x/c", PublishedAt: now.Add(-72 * time.Hour), Source: "newsapi", Tickers: []string{"BRENT"}},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.News(rec, httptest.NewRequest(http.MethodGet, "/api/v1/news?symbol=brent&hours=24", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.NewsPageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Total)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0].ID)
}

func TestIngestNews(t *testing.T) {
	ing := &fakeIngester{out: models.IngestResponse{Fetched: 4, Upserted: 3}}
	api, _ := newTestAPI(&fakeAsker{}, ing)

	rec := httptest.NewRecorder()
	api.IngestNews(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/news?q=opec,+jet+fuel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"opec", "jet fuel"}, ing.got)
	assert.Equal(t, 3.0, decode(t, rec)["upserted"])

	ing.err = &services.UpstreamError{Provider: "newsapi", Status: http.StatusTooManyRequests}
	rec = httptest.NewRecorder()
	api.IngestNews(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/news", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Nil(t, ing.got)
}

func TestWriteUpstreamError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&services.UpstreamError{Provider: "eia", Status: http.StatusForbidden}, http.StatusUnprocessableEntity},
		{&services.UpstreamError{Provider: "eia", Status: http.StatusGatewayTimeout}, http.StatusGatewayTimeout},
		{&services.UpstreamError{Provider: "eia", Status: http.StatusBadGateway}, http.StatusBadGateway},
		{fmt.Errorf("eia: %w", services.ErrCircuitOpen), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("dns"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeUpstreamError(rec, tc.err, 0)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestStreamPricesSendsSnapshot(t *testing.T) {
	api, s := newTestAPI(&fakeAsker{}, nil)
	_, err := s.UpsertPrices(context.Background(), []models.PriceTick{
		{Symbol: "NG", Ts: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Close: 4.1, Source: "eia"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream?symbols=NG&interval=60", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		api.StreamPrices(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: "))
	assert.Contains(t, rec.Body.String(), `"close":4.1`)
}
