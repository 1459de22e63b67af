package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/forecast"
	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/schema"
	"github.com/GBR24/kolmo-mvp/internal/services"
	"github.com/GBR24/kolmo-mvp/internal/store"
)

var day0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	calls atomic.Int32
	fail  int32
	err   error
	px    float64
	name  string
}

func (p *fakeProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "eia"
}

func (p *fakeProvider) FetchPrices(_ context.Context, symbols []string) ([]models.PriceTick, error) {
	n := p.calls.Add(1)
	if n <= p.fail {
		return nil, p.err
	}
	out := []models.PriceTick{}
	for _, s := range symbols {
		out = append(out, models.PriceTick{
			Symbol: s, Ts: day0.Add(30 * 24 * time.Hour),
			Open: p.px, High: p.px, Low: p.px, Close: p.px, Source: p.Name(),
		})
	}
	return out, nil
}

func marketWorker(p PriceProvider, s PriceStore) *MarketDataWorker {
	return NewMarketDataWorker(SingleProvider(p), services.NewFetchCache(nil, time.Second), s, time.Minute).
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
}

func seedHistory(t *testing.T, s store.Store, sym string, n int) {
	t.Helper()
	ticks := make([]models.PriceTick, n)
	for i := range ticks {
		px := 80 + float64(i%5)*0.4
		ticks[i] = models.PriceTick{Symbol: sym, Ts: day0.Add(time.Duration(i) * 24 * time.Hour),
			Open: px, High: px, Low: px, Close: px, Source: "eia"}
	}
	_, err := s.UpsertPrices(context.Background(), ticks)
	require.NoError(t, err)
}

func TestMarketDataStoresAndAcknowledges(t *testing.T) {
	s := store.NewMemoryStore()
	p := &fakeProvider{px: 82.5}
	res := marketWorker(p, s).Execute(context.Background(), MarketDataParams{Symbols: []string{"brent"}})

	require.True(t, res.OK(), res.Reason())
	payload := res.Payload.(MarketDataPayload)
	assert.Equal(t, 82.5, payload.Ticks["BRENT"].Close)
	assert.False(t, payload.AckedAt.IsZero())
	assert.Equal(t, []string{"eia"}, res.Sources)
	assert.NoError(t, schema.Validate(payload, schema.MarketData))

	latest, ok, err := s.LatestPrice(context.Background(), "BRENT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 82.5, latest.Close)
}

func TestMarketDataTwiceStoresOneTickPerTimestamp(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "BRENT", 5)
	p := &fakeProvider{px: 83}
	// zero ttl sends both calls upstream
	w := NewMarketDataWorker(SingleProvider(p), services.NewFetchCache(nil, time.Second), s, 0)
	for i := 0; i < 2; i++ {
		require.True(t, w.Execute(context.Background(), MarketDataParams{Symbols: []string{"BRENT"}}).OK())
	}
	assert.Equal(t, int32(2), p.calls.Load())

	hist, err := s.PriceHistory(context.Background(), "BRENT", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 6)
}

func TestMarketDataRetriesOnce(t *testing.T) {
	p := &fakeProvider{px: 70, fail: 1, err: errors.New("502 from upstream")}
	res := marketWorker(p, store.NewMemoryStore()).Execute(context.Background(), MarketDataParams{Symbols: []string{"WTI"}})

	require.True(t, res.OK(), res.Reason())
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestMarketDataUnavailableAfterRetry(t *testing.T) {
	p := &fakeProvider{fail: 100, err: errors.New("connection reset")}
	res := marketWorker(p, store.NewMemoryStore()).Execute(context.Background(), MarketDataParams{Symbols: []string{"WTI"}})

	assert.Equal(t, StatusUnavailable, res.Status)
	var perr *ProviderError
	require.ErrorAs(t, res.Err, &perr)
	assert.Equal(t, "WTI", perr.Symbol)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestMarketDataUnknownSymbolIsNotRetried(t *testing.T) {
	p := &fakeProvider{fail: 100, err: fmt.Errorf("%w: XYZ", services.ErrUnknownSymbol)}
	res := marketWorker(p, store.NewMemoryStore()).Execute(context.Background(), MarketDataParams{Symbols: []string{"XYZ"}})

	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestMarketDataRoutesFXPairsByCatalog(t *testing.T) {
	s := store.NewMemoryStore()
	eia := &fakeProvider{px: 74}
	yahoo := &fakeProvider{px: 1.08, name: "yahoo"}
	w := NewMarketDataWorker(NewCatalogRouter(catalog.Default(), eia, yahoo), services.NewFetchCache(nil, time.Second), s, time.Minute).
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })

	res := w.Execute(context.Background(), MarketDataParams{Symbols: []string{"WTI"}, FXPairs: []string{"eurusd"}})
	require.True(t, res.OK(), res.Reason())
	payload := res.Payload.(MarketDataPayload)
	assert.Equal(t, 1.08, payload.Ticks["EURUSD"].Close)
	assert.Equal(t, "yahoo", payload.Ticks["EURUSD"].Source)
	assert.Equal(t, 74.0, payload.Ticks["WTI"].Close)
	assert.Equal(t, []string{"eia", "yahoo"}, res.Sources)
	assert.Equal(t, int32(1), eia.calls.Load())
	assert.Equal(t, int32(1), yahoo.calls.Load())
}

func TestMarketDataSymbolWithoutProviderIsMissing(t *testing.T) {
	s := store.NewMemoryStore()
	eia := &fakeProvider{px: 74}
	// no yahoo provider registered
	w := NewMarketDataWorker(NewCatalogRouter(catalog.Default(), eia), services.NewFetchCache(nil, time.Second), s, time.Minute)

	res := w.Execute(context.Background(), MarketDataParams{Symbols: []string{"BRENT"}, FXPairs: []string{"EURUSD"}})
	require.True(t, res.OK(), res.Reason())
	assert.Equal(t, []string{"EURUSD"}, res.Payload.(MarketDataPayload).Missing)

	res = w.Execute(context.Background(), MarketDataParams{FXPairs: []string{"EURUSD"}})
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.ErrorIs(t, res.Err, services.ErrUnknownSymbol)
}

func TestMarketDataRejectsForeignParams(t *testing.T) {
	res := marketWorker(&fakeProvider{}, store.NewMemoryStore()).Execute(context.Background(), ForecastParams{Symbol: "WTI"})
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "invalid_params", res.FailureKind)
	assert.ErrorIs(t, res.Err, ErrInvalidParams)
}

func TestForecastAutoResolvesConcreteMethod(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "WTI", 30)
	w := NewForecastWorker(s, forecast.Auto, 10, 60)

	res := w.Execute(context.Background(), ForecastParams{Symbol: "WTI", Horizon: "3d"})
	require.True(t, res.OK(), res.Reason())
	pred := res.Payload.(models.Prediction)
	assert.Contains(t, forecast.Methods(), pred.Method)
	assert.Equal(t, "forecast:"+pred.Method, pred.Source)
	assert.Equal(t, pred.Source, res.Sources[0])
	assert.Equal(t, "selection:rmse", res.Sources[len(res.Sources)-1])

	// the stored prediction carries the method that was chosen
	stored, ok, err := s.LatestPrediction(context.Background(), "WTI", pred.Method)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pred.ID, stored.ID)
}

func TestForecastAppendsPrediction(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "BRENT", 30)
	w := NewForecastWorker(s, "gbm_mc", 10, 60)

	res := w.Execute(context.Background(), ForecastParams{Symbol: "BRENT", Horizon: "1d"})
	require.True(t, res.OK(), res.Reason())
	pred := res.Payload.(models.Prediction)
	assert.Equal(t, "gbm_mc", pred.Method)
	assert.Equal(t, "forecast:gbm_mc", pred.Source)
	assert.Equal(t, "1d", pred.Horizon)
	assert.LessOrEqual(t, pred.YLower, pred.YHat)
	assert.GreaterOrEqual(t, pred.YUpper, pred.YHat)
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.NoError(t, schema.Validate(pred, schema.Forecast))

	stored, ok, err := s.LatestPrediction(context.Background(), "BRENT", "gbm_mc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pred.ID, stored.ID)
}

func TestForecastMethodOverride(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "WTI", 20)
	res := NewForecastWorker(s, "gbm_mc", 10, 60).
		Execute(context.Background(), ForecastParams{Symbol: "WTI", Horizon: "5d", Method: "naive_last"})
	require.True(t, res.OK(), res.Reason())
	assert.Equal(t, "naive_last", res.Payload.(models.Prediction).Method)
}

func TestForecastInsufficientHistory(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "NG", 4)
	res := NewForecastWorker(s, "gbm_mc", 10, 60).Execute(context.Background(), ForecastParams{Symbol: "NG", Horizon: "1d"})

	assert.Equal(t, StatusUnavailable, res.Status)
	var herr *InsufficientHistoryError
	require.ErrorAs(t, res.Err, &herr)
	assert.Equal(t, 4, herr.Have)
	assert.Equal(t, 10, herr.Need)
}

func TestForecastRejectsHistoryOlderThanWrite(t *testing.T) {
	s := store.NewMemoryStore()
	seedHistory(t, s, "BRENT", 30)
	res := NewForecastWorker(s, "gbm_mc", 10, 60).Execute(context.Background(), ForecastParams{
		Symbol: "BRENT", Horizon: "1d", NotBefore: day0.Add(90 * 24 * time.Hour),
	})
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "stale_history", res.FailureKind)
}

func TestForecastInvalidHorizon(t *testing.T) {
	res := NewForecastWorker(store.NewMemoryStore(), "gbm_mc", 10, 60).
		Execute(context.Background(), ForecastParams{Symbol: "BRENT", Horizon: "soon"})
	assert.Equal(t, StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err, ErrInvalidParams)
}

type blockingHistory struct{ HistoryStore }

func (blockingHistory) PriceHistory(ctx context.Context, _ string, _ int) ([]models.PriceTick, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestForecastTimeoutIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := NewForecastWorker(blockingHistory{}, "gbm_mc", 10, 60).
		Execute(ctx, ForecastParams{Symbol: "BRENT", Horizon: "1d"})
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

type fakeRetriever struct {
	calls    atomic.Int32
	passages []models.Passage
	err      error
}

func (r *fakeRetriever) Name() string { return "news_store" }

func (r *fakeRetriever) Search(_ context.Context, _ string, _ int) ([]models.Passage, error) {
	r.calls.Add(1)
	return r.passages, r.err
}

func twoPassages() []models.Passage {
	return []models.Passage{
		{Text: "Brent climbs as OPEC+ extends cuts. More inside.", Score: 0.62, SourceRef: "a1", URL: "https://example.com/a1"},
		{Text: "North Sea loadings slip in March", Score: 0.41, SourceRef: "b2", URL: "https://example.com/b2"},
	}
}

func TestInsightSummarizesWithCitations(t *testing.T) {
	s := store.NewMemoryStore()
	r := &fakeRetriever{passages: twoPassages()}
	res := NewInsightWorker(r, s, 5, 0.05).Execute(context.Background(), InsightParams{
		Symbol: "BRENT", Window: "24h", Query: "brent window:24h",
	})

	require.True(t, res.OK(), res.Reason())
	payload := res.Payload.(InsightPayload)
	assert.Equal(t, []string{"a1", "b2"}, payload.Summary.Citations)
	assert.Equal(t, []string{"https://example.com/a1", "https://example.com/b2"}, payload.Summary.CitationURLs)
	assert.Equal(t, "BRENT, last 24h: Brent climbs as OPEC+ extends cuts [1]; North Sea loadings slip in March [2].", payload.Summary.SummaryText)
	assert.Equal(t, "retrieval:news_store", payload.Summary.Source)
	assert.NoError(t, schema.Validate(payload, schema.Insight))

	latest, ok, err := s.LatestInsight(context.Background(), "BRENT", "24h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload.Summary.ID, latest.ID)
}

func TestInsightBelowThresholdIsUnavailable(t *testing.T) {
	r := &fakeRetriever{passages: []models.Passage{{Text: "Unrelated", Score: 0.01, SourceRef: "z"}}}
	res := NewInsightWorker(r, store.NewMemoryStore(), 5, 0.05).Execute(context.Background(), InsightParams{
		Symbol: "NG", Window: "24h", Query: "natural gas",
	})
	assert.Equal(t, StatusUnavailable, res.Status)
	var nerr *NoRelevantPassagesError
	assert.ErrorAs(t, res.Err, &nerr)
}

func TestInsightReusesPassages(t *testing.T) {
	r := &fakeRetriever{}
	res := NewInsightWorker(r, store.NewMemoryStore(), 5, 0.05).Execute(context.Background(), InsightParams{
		Symbol: "BRENT", Window: "24h", Passages: twoPassages(), Reused: true,
	})
	require.True(t, res.OK(), res.Reason())
	assert.True(t, res.Payload.(InsightPayload).Reused)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestInsightRetrieverErrorIsUnavailable(t *testing.T) {
	r := &fakeRetriever{err: errors.New("dial tcp: refused")}
	res := NewInsightWorker(r, store.NewMemoryStore(), 5, 0.05).Execute(context.Background(), InsightParams{
		Symbol: "WTI", Window: "24h", Query: "wti",
	})
	assert.Equal(t, StatusUnavailable, res.Status)
	var perr *ProviderError
	assert.ErrorAs(t, res.Err, &perr)
}

func TestResultReason(t *testing.T) {
	r := Failure(KindForecast, fmt.Errorf("%w: bad", ErrInvalidParams))
	assert.Equal(t, "invalid_params: invalid worker params: bad", r.Reason())
	assert.Equal(t, "no data", Unavailable(KindInsight, "no data", nil).Reason())
	assert.Equal(t, "", Success(KindInsight, nil).Reason())
}
