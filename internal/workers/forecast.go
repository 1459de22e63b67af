package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GBR24/kolmo-mvp/internal/forecast"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

type HistoryStore interface {
	PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error)
	AppendPrediction(ctx context.Context, p models.Prediction) error
}

type ForecastParams struct {
	Symbol  string
	Horizon string
	Method  string
	// NotBefore is the newest tick ts written earlier in the same request.
	NotBefore time.Time
}

func (ForecastParams) workerKind() Kind { return KindForecast }

type ForecastWorker struct {
	store      HistoryStore
	method     string
	minHistory int
	lookback   int
	now        func() time.Time
	newID      func() string
}

func NewForecastWorker(store HistoryStore, method string, minHistory, lookback int) *ForecastWorker {
	if minHistory < 3 {
		minHistory = 3
	}
	if lookback < minHistory {
		lookback = minHistory
	}
	return &ForecastWorker{
		store:      store,
		method:     method,
		minHistory: minHistory,
		lookback:   lookback,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// WithClock sets the time source stamped on predictions.
func (w *ForecastWorker) WithClock(now func() time.Time) *ForecastWorker {
	w.now = now
	return w
}

func (w *ForecastWorker) Kind() Kind { return KindForecast }

func (w *ForecastWorker) Execute(ctx context.Context, p Params) Result {
	fp, ok := p.(ForecastParams)
	if !ok {
		return paramsMismatch(KindForecast, p)
	}
	sym := strings.ToUpper(strings.TrimSpace(fp.Symbol))
	if sym == "" {
		return Failure(KindForecast, fmt.Errorf("%w: no symbol", ErrInvalidParams))
	}
	steps, err := forecast.ParseHorizon(fp.Horizon)
	if err != nil {
		return Failure(KindForecast, fmt.Errorf("%w: %v", ErrInvalidParams, err))
	}
	method := fp.Method
	if method == "" {
		method = w.method
	}
	if !forecast.Valid(method) {
		return Failure(KindForecast, fmt.Errorf("%w: method %q", ErrInvalidParams, method))
	}

	hist, err := w.store.PriceHistory(ctx, sym, w.lookback)
	if err != nil {
		return storeResult(ctx, KindForecast, fmt.Errorf("read history: %w", err))
	}
	if len(hist) < w.minHistory {
		herr := &InsufficientHistoryError{Symbol: sym, Have: len(hist), Need: w.minHistory}
		return Unavailable(KindForecast, herr.Error(), herr)
	}
	newest := hist[len(hist)-1].Ts
	if !fp.NotBefore.IsZero() && newest.Before(fp.NotBefore) {
		return Failure(KindForecast, fmt.Errorf("%w: newest %s, wrote %s", ErrStaleHistory,
			newest.Format(time.RFC3339), fp.NotBefore.Format(time.RFC3339)))
	}

	y := make([]float64, len(hist))
	sources := map[string]bool{}
	for i, t := range hist {
		y[i] = t.Close
		sources[t.Source] = true
	}
	selected := false
	if method == forecast.Auto {
		best, _, err := forecast.Select(y)
		if errors.Is(err, forecast.ErrInsufficientData) {
			herr := &InsufficientHistoryError{Symbol: sym, Have: len(y), Need: w.minHistory}
			return Unavailable(KindForecast, herr.Error(), herr)
		}
		if err != nil {
			return Failure(KindForecast, fmt.Errorf("select method: %w", err))
		}
		method, selected = best.Method, true
	}
	est, err := forecast.Run(method, y, steps)
	if errors.Is(err, forecast.ErrInsufficientData) {
		herr := &InsufficientHistoryError{Symbol: sym, Have: len(y), Need: w.minHistory}
		return Unavailable(KindForecast, herr.Error(), herr)
	}
	if err != nil {
		return Failure(KindForecast, fmt.Errorf("run %s: %w", method, err))
	}
	if ctx.Err() != nil {
		return Unavailable(KindForecast, "timeout", ctx.Err())
	}

	pred := models.Prediction{
		ID:          w.newID(),
		Symbol:      sym,
		GeneratedAt: w.now().UTC(),
		Horizon:     fp.Horizon,
		YHat:        est.YHat,
		YLower:      est.Lower,
		YUpper:      est.Upper,
		Confidence:  forecast.Confidence(est),
		Method:      method,
		Source:      "forecast:" + method,
	}
	if err := w.store.AppendPrediction(ctx, pred); err != nil {
		return storeResult(ctx, KindForecast, fmt.Errorf("append prediction: %w", err))
	}
	tags := []string{pred.Source}
	for s := range sources {
		tags = append(tags, s)
	}
	sort.Strings(tags[1:])
	if selected {
		tags = append(tags, "selection:rmse")
	}
	return Success(KindForecast, pred, tags...)
}

// storeResult maps store errors caused by cancellation to unavailable.
func storeResult(ctx context.Context, kind Kind, err error) Result {
	if ctx.Err() != nil {
		return Unavailable(kind, "timeout", err)
	}
	return Failure(kind, err)
}
