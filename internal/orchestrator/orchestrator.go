// Package orchestrator routes a request to the market data, forecast and
// insight workers, bounds each call by its deadline, and merges the results
// into one validated response.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/obs"
	"github.com/GBR24/kolmo-mvp/internal/schema"
	"github.com/GBR24/kolmo-mvp/internal/workers"
)

type Timeouts struct {
	MarketData   time.Duration
	Forecast     time.Duration
	Insight      time.Duration
	Overall      time.Duration
	ForecastWait time.Duration
}

type Options struct {
	Timeouts       Timeouts
	DefaultSymbols []string
	DefaultHorizon string
	DefaultWindow  time.Duration
	MaxSymbols     int
	ForecastMethod string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Timeouts: Timeouts{
			MarketData:   cfg.MarketDataTimeout,
			Forecast:     cfg.ForecastTimeout,
			Insight:      cfg.InsightTimeout,
			Overall:      cfg.OrchestratorTimeout,
			ForecastWait: cfg.ForecastWaitForPrices,
		},
		DefaultSymbols: cfg.DefaultSymbols,
		DefaultHorizon: cfg.DefaultHorizon,
		DefaultWindow:  cfg.DefaultWindow,
		MaxSymbols:     cfg.MaxSymbols,
		ForecastMethod: cfg.ForecastMethod,
	}
}

type Orchestrator struct {
	builder  *ContextBuilder
	market   workers.Worker
	forecast workers.Worker
	insight  workers.Worker
	hook     obs.Hook
	opts     Options
	now      func() time.Time
	newID    func() string
	logger   zerolog.Logger
}

func New(builder *ContextBuilder, market, forecast, insight workers.Worker, hook obs.Hook, opts Options) *Orchestrator {
	if hook == nil {
		hook = obs.Nop{}
	}
	if opts.DefaultHorizon == "" {
		opts.DefaultHorizon = "1d"
	}
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = 24 * time.Hour
	}
	if opts.Timeouts.ForecastWait <= 0 {
		opts.Timeouts.ForecastWait = opts.Timeouts.MarketData
	}
	return &Orchestrator{
		builder:  builder,
		market:   market,
		forecast: forecast,
		insight:  insight,
		hook:     hook,
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   log.With().Str("component", "orchestrator").Logger(),
	}
}

// symbolOutcome is everything one symbol contributes to the response.
type symbolOutcome struct {
	price     models.Slot[models.PriceField]
	forecast  models.Slot[models.ForecastField]
	insight   models.Slot[models.InsightField]
	warnings  []string
	violation error
}

// Handle answers one request. Worker problems degrade individual fields to
// "unavailable"; only an invalid intent or a schema violation returns an
// error.
func (o *Orchestrator) Handle(ctx context.Context, req models.Request) (models.Response, error) {
	start := o.now()
	rc := RequestContext{RequestID: o.newID(), Received: start.UTC()}

	intent, err := o.parseIntent(req)
	if err != nil {
		ev := obs.RequestEvent{RequestID: rc.RequestID, Horizon: req.Horizon}
		o.hook.RequestStarted(ctx, ev)
		ev.Status, ev.Err, ev.Duration = obs.StatusInvalid, err, o.now().Sub(start)
		o.hook.RequestFinished(ctx, ev)
		return models.Response{}, err
	}
	rc.Symbols, rc.Horizon, rc.Window = intent.Symbols, intent.Horizon, intent.Window
	plan := o.builder.Build(rc)
	o.hook.RequestStarted(ctx, obs.RequestEvent{RequestID: rc.RequestID, Symbols: rc.Symbols, Horizon: rc.Horizon})

	if o.opts.Timeouts.Overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeouts.Overall)
		defer cancel()
	}

	outcomes := make([]symbolOutcome, len(plan.Symbols))
	var wg sync.WaitGroup
	for i, sp := range plan.Symbols {
		wg.Add(1)
		go func(i int, sp SymbolPlan) {
			defer wg.Done()
			outcomes[i] = o.runSymbol(ctx, rc, sp)
		}(i, sp)
	}
	wg.Wait()

	resp := models.Response{
		RequestID: rc.RequestID,
		AsOf:      o.now().UTC(),
		Symbols:   rc.Symbols,
		Prices:    make(map[string]models.Slot[models.PriceField], len(rc.Symbols)),
		Forecast:  make(map[string]models.Slot[models.ForecastField], len(rc.Symbols)),
		Insight:   make(map[string]models.Slot[models.InsightField], len(rc.Symbols)),
		Warnings:  append([]string{}, intent.Warnings...),
	}
	for i, sp := range plan.Symbols {
		out := outcomes[i]
		if out.violation != nil {
			return o.finishInvalid(ctx, rc, start, out.violation)
		}
		resp.Prices[sp.Symbol] = out.price
		resp.Forecast[sp.Symbol] = out.forecast
		resp.Insight[sp.Symbol] = out.insight
		resp.Warnings = append(resp.Warnings, out.warnings...)
	}

	if err := schema.Validate(resp, schema.Response); err != nil {
		return o.finishInvalid(ctx, rc, start, &SchemaViolationError{Schema: schema.Response, Err: err})
	}

	status := obs.StatusOK
	if len(resp.Warnings) > 0 {
		status = obs.StatusDegraded
	}
	o.hook.RequestFinished(ctx, obs.RequestEvent{
		RequestID: rc.RequestID,
		Symbols:   rc.Symbols,
		Horizon:   rc.Horizon,
		Status:    status,
		Duration:  o.now().Sub(start),
		Warnings:  resp.Warnings,
	})
	return resp, nil
}

func (o *Orchestrator) finishInvalid(ctx context.Context, rc RequestContext, start time.Time, err error) (models.Response, error) {
	o.logger.Error().Err(err).Str("request_id", rc.RequestID).Msg("response rejected")
	o.hook.RequestFinished(ctx, obs.RequestEvent{
		RequestID: rc.RequestID,
		Symbols:   rc.Symbols,
		Horizon:   rc.Horizon,
		Status:    obs.StatusSchemaViolation,
		Duration:  o.now().Sub(start),
		Err:       err,
	})
	return models.Response{}, err
}

// runSymbol runs market data and insight in parallel and starts the forecast
// once the market data write is acknowledged or the bounded wait elapses.
func (o *Orchestrator) runSymbol(ctx context.Context, rc RequestContext, sp SymbolPlan) symbolOutcome {
	sym := sp.Symbol
	mdCh := make(chan workers.Result, 1)
	inCh := make(chan workers.Result, 1)
	mdParams := workers.MarketDataParams{Symbols: []string{sym}}
	if sp.FX {
		mdParams = workers.MarketDataParams{FXPairs: []string{sym}}
	}
	go func() {
		mdCh <- o.invoke(ctx, rc, sym, o.market, mdParams, o.opts.Timeouts.MarketData)
	}()
	go func() {
		inCh <- o.invoke(ctx, rc, sym, o.insight, workers.InsightParams{
			Symbol:   sym,
			Window:   sp.WindowLabel,
			Query:    sp.Query,
			Passages: sp.Passages,
			Reused:   sp.ReuseRetrieval,
		}, o.opts.Timeouts.Insight)
	}()

	var (
		md     workers.Result
		mdDone bool
	)
	wait := time.NewTimer(o.opts.Timeouts.ForecastWait)
	select {
	case md = <-mdCh:
		mdDone = true
	case <-wait.C:
		o.logger.Warn().Str("request_id", rc.RequestID).Str("symbol", sym).
			Msg("forecast starting before market data acknowledged")
	case <-ctx.Done():
	}
	wait.Stop()

	fp := workers.ForecastParams{Symbol: sym, Horizon: rc.Horizon, Method: o.opts.ForecastMethod}
	if mdDone && md.OK() {
		if p, ok := md.Payload.(workers.MarketDataPayload); ok {
			fp.NotBefore = p.Ticks[sym].Ts
		}
	}
	fc := o.invoke(ctx, rc, sym, o.forecast, fp, o.opts.Timeouts.Forecast)
	if !mdDone {
		md = <-mdCh
	}
	in := <-inCh

	var out symbolOutcome
	for _, r := range []workers.Result{md, fc, in} {
		if err := validateResult(r); err != nil {
			out.violation = &SchemaViolationError{Schema: schemaFor[r.Kind], Symbol: sym, Err: err}
			return out
		}
	}

	out.price = models.Missing[models.PriceField]()
	if md.OK() {
		if t, ok := md.Payload.(workers.MarketDataPayload).Ticks[sym]; ok {
			out.price = models.Available(models.PriceFieldFrom(t))
		} else {
			out.warnings = append(out.warnings, warning(string(workers.KindMarketData), sym, "no tick returned"))
		}
	} else {
		out.warnings = append(out.warnings, warning(string(md.Kind), sym, md.Reason()))
	}

	out.forecast = models.Missing[models.ForecastField]()
	if fc.OK() {
		out.forecast = models.Available(models.ForecastFieldFrom(fc.Payload.(models.Prediction)))
	} else {
		out.warnings = append(out.warnings, warning(string(fc.Kind), sym, fc.Reason()))
	}

	out.insight = models.Missing[models.InsightField]()
	if in.OK() {
		p := in.Payload.(workers.InsightPayload)
		out.insight = models.Available(models.InsightFieldFrom(p.Summary))
		if !p.Reused {
			o.builder.Remember(sym, sp.Window, p.Passages)
		}
	} else {
		out.warnings = append(out.warnings, warning(string(in.Kind), sym, in.Reason()))
	}
	return out
}

// invoke runs one worker under its deadline. A worker that ignores
// cancellation is abandoned when the deadline passes.
func (o *Orchestrator) invoke(ctx context.Context, rc RequestContext, sym string, w workers.Worker, p workers.Params, timeout time.Duration) workers.Result {
	start := time.Now()
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan workers.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- workers.Failure(w.Kind(), fmt.Errorf("worker panic: %v", r))
			}
		}()
		ch <- w.Execute(wctx, p)
	}()

	var res workers.Result
	select {
	case res = <-ch:
	case <-wctx.Done():
		reason := "timeout after " + timeout.String()
		if ctx.Err() != nil {
			reason = "request deadline exceeded"
		}
		res = workers.Unavailable(w.Kind(), reason, wctx.Err())
	}
	if res.Kind == "" {
		res.Kind = w.Kind()
	}

	o.hook.WorkerFinished(ctx, obs.WorkerEvent{
		RequestID: rc.RequestID,
		Kind:      string(res.Kind),
		Symbol:    sym,
		Status:    string(res.Status),
		Detail:    res.Reason(),
		Duration:  time.Since(start),
	})
	return res
}

var schemaFor = map[workers.Kind]string{
	workers.KindMarketData: schema.MarketData,
	workers.KindForecast:   schema.Forecast,
	workers.KindInsight:    schema.Insight,
}

func validateResult(r workers.Result) error {
	if !r.OK() {
		return nil
	}
	id, ok := schemaFor[r.Kind]
	if !ok {
		return fmt.Errorf("%w: worker kind %q", schema.ErrUnknownSchema, r.Kind)
	}
	if err := schema.Validate(r.Payload, id); err != nil {
		return err
	}
	var typed bool
	switch r.Kind {
	case workers.KindMarketData:
		_, typed = r.Payload.(workers.MarketDataPayload)
	case workers.KindForecast:
		_, typed = r.Payload.(models.Prediction)
	case workers.KindInsight:
		_, typed = r.Payload.(workers.InsightPayload)
	}
	if !typed {
		return fmt.Errorf("unexpected %s payload type %T", r.Kind, r.Payload)
	}
	return nil
}
