package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/retrieval"
)

type InsightStore interface {
	AppendInsight(ctx context.Context, s models.InsightSummary) error
}

type InsightParams struct {
	Symbol string
	Window string
	Query  string
	// Passages, when Reused is set, replace the retriever call.
	Passages []models.Passage
	Reused   bool
}

func (InsightParams) workerKind() Kind { return KindInsight }

type InsightPayload struct {
	Summary  models.InsightSummary `json:"summary"`
	Passages []models.Passage      `json:"passages"`
	Reused   bool                  `json:"reused"`
}

type InsightWorker struct {
	retriever retrieval.Retriever
	store     InsightStore
	topK      int
	threshold float64
	now       func() time.Time
	newID     func() string
}

func NewInsightWorker(r retrieval.Retriever, store InsightStore, topK int, threshold float64) *InsightWorker {
	if topK <= 0 {
		topK = 5
	}
	return &InsightWorker{
		retriever: r,
		store:     store,
		topK:      topK,
		threshold: threshold,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

func (w *InsightWorker) WithClock(now func() time.Time) *InsightWorker {
	w.now = now
	return w
}

func (w *InsightWorker) Kind() Kind { return KindInsight }

func (w *InsightWorker) Execute(ctx context.Context, p Params) Result {
	ip, ok := p.(InsightParams)
	if !ok {
		return paramsMismatch(KindInsight, p)
	}
	sym := strings.ToUpper(strings.TrimSpace(ip.Symbol))
	if sym == "" || strings.TrimSpace(ip.Window) == "" {
		return Failure(KindInsight, fmt.Errorf("%w: symbol and window are required", ErrInvalidParams))
	}

	passages := ip.Passages
	if !ip.Reused {
		if strings.TrimSpace(ip.Query) == "" {
			return Failure(KindInsight, fmt.Errorf("%w: empty query", ErrInvalidParams))
		}
		found, err := w.retriever.Search(ctx, ip.Query, w.topK)
		if err != nil {
			if ctx.Err() != nil {
				return Unavailable(KindInsight, "timeout", ctx.Err())
			}
			perr := &ProviderError{Provider: w.retriever.Name(), Symbol: sym, Err: err}
			return Unavailable(KindInsight, perr.Error(), perr)
		}
		passages = found
	}

	relevant := make([]models.Passage, 0, len(passages))
	for _, ps := range passages {
		if ps.Score >= w.threshold && ps.SourceRef != "" {
			relevant = append(relevant, ps)
		}
	}
	text, cited := retrieval.Summarize(sym, ip.Window, relevant, w.topK)
	if text == "" {
		nerr := &NoRelevantPassagesError{Symbol: sym, Threshold: w.threshold}
		return Unavailable(KindInsight, nerr.Error(), nerr)
	}

	source := "retrieval:" + w.retriever.Name()
	summary := models.InsightSummary{
		ID:           w.newID(),
		Symbol:       sym,
		Window:       ip.Window,
		SummaryText:  text,
		Citations:    make([]string, 0, len(cited)),
		CitationURLs: make([]string, 0, len(cited)),
		GeneratedAt:  w.now().UTC(),
		Source:       source,
	}
	for _, c := range cited {
		summary.Citations = append(summary.Citations, c.SourceRef)
		if c.URL != "" {
			summary.CitationURLs = append(summary.CitationURLs, c.URL)
		} else {
			summary.CitationURLs = append(summary.CitationURLs, c.SourceRef)
		}
	}
	if err := w.store.AppendInsight(ctx, summary); err != nil {
		return storeResult(ctx, KindInsight, fmt.Errorf("append insight: %w", err))
	}
	return Success(KindInsight, InsightPayload{Summary: summary, Passages: relevant, Reused: ip.Reused}, source)
}
