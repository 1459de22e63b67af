package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/services"
)

type PriceProvider interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) ([]models.PriceTick, error)
}

type Fetcher interface {
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch services.FetchFunc, out any) error
}

type PriceStore interface {
	UpsertPrices(ctx context.Context, ticks []models.PriceTick) (int, error)
	LatestPrice(ctx context.Context, symbol string) (models.PriceTick, bool, error)
}

// MarketDataParams lists commodity symbols and FX pairs to price. Each one is
// routed to the provider its catalogue entry names.
type MarketDataParams struct {
	Symbols []string
	FXPairs []string
}

func (MarketDataParams) workerKind() Kind { return KindMarketData }

// MarketDataPayload carries the freshest stored tick per symbol and the time
// the store acknowledged this invocation's write.
type MarketDataPayload struct {
	Ticks   map[string]models.PriceTick `json:"ticks"`
	AckedAt time.Time                   `json:"acked_at"`
	Missing []string                    `json:"missing,omitempty"`
}

type MarketDataWorker struct {
	providers  ProviderRouter
	cache      Fetcher
	store      PriceStore
	ttl        time.Duration
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewMarketDataWorker(providers ProviderRouter, cache Fetcher, store PriceStore, ttl time.Duration) *MarketDataWorker {
	return &MarketDataWorker{
		providers: providers,
		cache:     cache,
		store:     store,
		ttl:       ttl,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return b
		},
		now: time.Now,
	}
}

// WithBackOff replaces the retry schedule used between the first attempt and
// the single retry.
func (w *MarketDataWorker) WithBackOff(f func() backoff.BackOff) *MarketDataWorker {
	w.newBackOff = f
	return w
}

func (w *MarketDataWorker) Kind() Kind { return KindMarketData }

func (w *MarketDataWorker) Execute(ctx context.Context, p Params) Result {
	mp, ok := p.(MarketDataParams)
	if !ok {
		return paramsMismatch(KindMarketData, p)
	}
	symbols := upperUnique(append(append([]string{}, mp.Symbols...), mp.FXPairs...))
	if len(symbols) == 0 {
		return Failure(KindMarketData, fmt.Errorf("%w: no symbols", ErrInvalidParams))
	}

	fetched := []models.PriceTick{}
	failed := map[string]bool{}
	used := map[string]bool{}
	var lastErr error
	for _, sym := range symbols {
		provider, ok := w.providers.ProviderFor(sym)
		if !ok {
			failed[sym] = true
			lastErr = &ProviderError{Provider: "none", Symbol: sym, Err: services.ErrUnknownSymbol}
			continue
		}
		ticks, err := w.fetch(ctx, provider, sym)
		if err != nil {
			failed[sym] = true
			lastErr = err
			continue
		}
		used[provider.Name()] = true
		fetched = append(fetched, ticks...)
	}
	if len(fetched) == 0 {
		if ctx.Err() != nil {
			return Unavailable(KindMarketData, "timeout", ctx.Err())
		}
		return Unavailable(KindMarketData, lastErr.Error(), lastErr)
	}

	if _, err := w.store.UpsertPrices(ctx, fetched); err != nil {
		return Failure(KindMarketData, fmt.Errorf("store prices: %w", err))
	}
	payload := MarketDataPayload{Ticks: map[string]models.PriceTick{}, AckedAt: w.now().UTC()}
	for _, sym := range symbols {
		if failed[sym] {
			payload.Missing = append(payload.Missing, sym)
			continue
		}
		t, ok, err := w.store.LatestPrice(ctx, sym)
		if err != nil {
			return Failure(KindMarketData, fmt.Errorf("read back %s: %w", sym, err))
		}
		if !ok {
			payload.Missing = append(payload.Missing, sym)
			continue
		}
		payload.Ticks[sym] = t
	}
	sources := make([]string, 0, len(used))
	for name := range used {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return Success(KindMarketData, payload, sources...)
}

// fetch pulls one symbol through the fetch cache, retrying once on failure.
func (w *MarketDataWorker) fetch(ctx context.Context, provider PriceProvider, sym string) ([]models.PriceTick, error) {
	key := services.FetchKey(provider.Name(), []string{sym}, nil)
	var ticks []models.PriceTick
	op := func() error {
		err := w.cache.GetOrFetch(ctx, key, w.ttl, func(fctx context.Context) (any, error) {
			return provider.FetchPrices(fctx, []string{sym})
		}, &ticks)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, services.ErrUnknownSymbol) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, &ProviderError{Provider: provider.Name(), Symbol: sym, Err: err}
	}
	out := ticks[:0]
	for _, t := range ticks {
		if strings.EqualFold(t.Symbol, sym) && !t.Ts.IsZero() {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, &ProviderError{Provider: provider.Name(), Symbol: sym, Err: errors.New("no ticks returned")}
	}
	return out, nil
}

func upperUnique(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
