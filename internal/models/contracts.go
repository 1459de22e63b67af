package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Unavailable marks a response field whose worker did not produce a value.
const Unavailable = "unavailable"

type Request struct {
	QueryText string   `json:"query_text"`
	Symbols   []string `json:"symbols,omitempty"`
	Horizon   string   `json:"horizon,omitempty"`
}

type PriceTick struct {
	Symbol string    `json:"symbol"`
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Source string    `json:"source"`
}

type Prediction struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	GeneratedAt time.Time `json:"generated_at"`
	Horizon     string    `json:"horizon"`
	YHat        float64   `json:"y_hat"`
	YLower      float64   `json:"y_lower"`
	YUpper      float64   `json:"y_upper"`
	Confidence  float64   `json:"confidence"`
	Method      string    `json:"method"`
	Source      string    `json:"source"`
}

type NewsItem struct {
	ID                string    `json:"id"`
	Headline          string    `json:"headline"`
	Description       string    `json:"description"`
	URL               string    `json:"url"`
	PublishedAt       time.Time `json:"published_at"`
	Source            string    `json:"source"`
	Tickers           []string  `json:"tickers"`
	RetrievalKeywords []string  `json:"retrieval_keywords"`
}

// Passage is one ranked hit from a retriever. SourceRef is the NewsItem id.
type Passage struct {
	Text        string    `json:"text"`
	Score       float64   `json:"score"`
	SourceRef   string    `json:"source_ref"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

type InsightSummary struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Window       string    `json:"window"`
	SummaryText  string    `json:"summary_text"`
	Citations    []string  `json:"citations"`
	CitationURLs []string  `json:"citation_urls"`
	GeneratedAt  time.Time `json:"generated_at"`
	Source       string    `json:"source"`
}

type PriceField struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Source string    `json:"source"`
}

type ForecastField struct {
	Horizon     string    `json:"horizon"`
	YHat        float64   `json:"y_hat"`
	YLower      float64   `json:"y_lower"`
	YUpper      float64   `json:"y_upper"`
	Confidence  float64   `json:"confidence"`
	Method      string    `json:"method"`
	GeneratedAt time.Time `json:"generated_at"`
}

type InsightField struct {
	SummaryText string   `json:"summary_text"`
	Citations   []string `json:"citations"`
	Window      string   `json:"window"`
}

func PriceFieldFrom(t PriceTick) PriceField {
	return PriceField{Ts: t.Ts, Open: t.Open, High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume, Source: t.Source}
}

func ForecastFieldFrom(p Prediction) ForecastField {
	return ForecastField{
		Horizon:     p.Horizon,
		YHat:        p.YHat,
		YLower:      p.YLower,
		YUpper:      p.YUpper,
		Confidence:  p.Confidence,
		Method:      p.Method,
		GeneratedAt: p.GeneratedAt,
	}
}

func InsightFieldFrom(s InsightSummary) InsightField {
	cites := s.CitationURLs
	if cites == nil {
		cites = []string{}
	}
	return InsightField{SummaryText: s.SummaryText, Citations: cites, Window: s.Window}
}

// Slot holds either a value or the "unavailable" sentinel on the wire.
type Slot[T any] struct {
	Value *T
}

func Available[T any](v T) Slot[T] {
	return Slot[T]{Value: &v}
}

func Missing[T any]() Slot[T] {
	return Slot[T]{}
}

func (s Slot[T]) Ok() bool {
	return s.Value != nil
}

func (s Slot[T]) MarshalJSON() ([]byte, error) {
	if s.Value == nil {
		return json.Marshal(Unavailable)
	}
	return json.Marshal(s.Value)
}

func (s *Slot[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte(`"`+Unavailable+`"`)) || bytes.Equal(trimmed, []byte("null")) {
		s.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	s.Value = &v
	return nil
}

type Response struct {
	RequestID string                         `json:"request_id"`
	AsOf      time.Time                      `json:"as_of"`
	Symbols   []string                       `json:"symbols"`
	Prices    map[string]Slot[PriceField]    `json:"prices"`
	Forecast  map[string]Slot[ForecastField] `json:"forecast"`
	Insight   map[string]Slot[InsightField]  `json:"insight"`
	Warnings  []string                       `json:"warnings"`
}

type DepStatus struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type HealthResponse struct {
	Ok          bool                 `json:"ok"`
	TsISO       string               `json:"tsISO"`
	Service     string               `json:"service"`
	Version     string               `json:"version"`
	Deps        []string             `json:"deps"`
	DepsStatus  map[string]DepStatus `json:"deps_status"`
	DataMissing []string             `json:"data_missing"`
	Env         map[string]bool      `json:"env"`
	Counters    map[string]int64     `json:"counters,omitempty"`
}

type NewsPageResponse struct {
	TsISO    string     `json:"tsISO"`
	Symbol   string     `json:"symbol,omitempty"`
	Hours    int        `json:"hours"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
	Total    int        `json:"total"`
	Items    []NewsItem `json:"items"`
}

type IngestResponse struct {
	TsISO    string   `json:"tsISO"`
	Queries  []string `json:"queries"`
	Fetched  int      `json:"fetched"`
	Upserted int      `json:"upserted"`
	Errors   []string `json:"errors,omitempty"`
}
