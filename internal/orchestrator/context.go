package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/retrieval"
)

// RequestContext is the per-request working set. It is owned by one in-flight
// request and passed explicitly down the call chain.
type RequestContext struct {
	RequestID string
	Received  time.Time
	Symbols   []string
	Horizon   string
	Window    time.Duration
}

type SymbolPlan struct {
	Symbol      string
	Query       string
	Window      time.Duration
	WindowLabel string
	// FX marks currency pairs, which are priced as FX pairs rather than
	// commodity symbols.
	FX bool
	// ReuseRetrieval is set when Passages came from an unexpired earlier
	// retrieval for the same symbol and window.
	ReuseRetrieval bool
	Passages       []models.Passage
}

type InvocationPlan struct {
	RequestID string
	Horizon   string
	Symbols   []SymbolPlan
}

type reuseEntry struct {
	passages []models.Passage
	exp      time.Time
}

// ContextBuilder resolves aliases and plans each symbol's worker calls. It
// performs no I/O; the only state it reads is its own retrieval reuse cache.
type ContextBuilder struct {
	catalog *catalog.Catalog
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	reuse map[string]reuseEntry
}

func NewContextBuilder(cat *catalog.Catalog, reuseTTL time.Duration) *ContextBuilder {
	if cat == nil {
		cat = catalog.Default()
	}
	return &ContextBuilder{
		catalog: cat,
		ttl:     reuseTTL,
		now:     time.Now,
		reuse:   map[string]reuseEntry{},
	}
}

// ResolveSymbols canonicalizes explicit symbols, falling back to symbols
// mentioned in text when none are given. Unresolvable explicit symbols are
// returned separately.
func (b *ContextBuilder) ResolveSymbols(explicit []string, text string) ([]string, []string) {
	out := []string{}
	unknown := []string{}
	seen := map[string]bool{}
	add := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, s := range explicit {
		if strings.TrimSpace(s) == "" {
			continue
		}
		sym, ok := b.catalog.Resolve(s)
		if !ok {
			unknown = append(unknown, strings.ToUpper(strings.TrimSpace(s)))
			continue
		}
		add(sym)
	}
	if len(explicit) == 0 {
		for _, sym := range b.catalog.Match(text) {
			add(sym)
		}
	}
	return out, unknown
}

func (b *ContextBuilder) Build(rc RequestContext) InvocationPlan {
	plan := InvocationPlan{RequestID: rc.RequestID, Horizon: rc.Horizon}
	label := retrieval.FormatWindow(rc.Window)
	for _, sym := range rc.Symbols {
		terms := append([]string{sym}, b.catalog.Synonyms(sym)...)
		sp := SymbolPlan{
			Symbol:      sym,
			Query:       retrieval.FormatQuery(terms, rc.Window),
			Window:      rc.Window,
			WindowLabel: label,
			FX:          b.catalog.IsFX(sym),
		}
		if passages, ok := b.reused(sym, label); ok {
			sp.ReuseRetrieval = true
			sp.Passages = passages
		}
		plan.Symbols = append(plan.Symbols, sp)
	}
	return plan
}

// Remember records passages retrieved for symbol and window so later plans
// within the TTL can skip the retriever.
func (b *ContextBuilder) Remember(symbol string, window time.Duration, passages []models.Passage) {
	if b.ttl <= 0 || len(passages) == 0 {
		return
	}
	cp := make([]models.Passage, len(passages))
	copy(cp, passages)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reuse[reuseKey(symbol, retrieval.FormatWindow(window))] = reuseEntry{passages: cp, exp: b.now().Add(b.ttl)}
}

func (b *ContextBuilder) reused(symbol, label string) ([]models.Passage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := reuseKey(symbol, label)
	e, ok := b.reuse[key]
	if !ok {
		return nil, false
	}
	if !b.now().Before(e.exp) {
		delete(b.reuse, key)
		return nil, false
	}
	cp := make([]models.Passage, len(e.passages))
	copy(cp, e.passages)
	return cp, true
}

func reuseKey(symbol, label string) string {
	return strings.ToUpper(symbol) + "|" + label
}
