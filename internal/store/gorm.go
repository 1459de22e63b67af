package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type priceRow struct {
	Symbol string    `gorm:"primaryKey;size:32"`
	Ts     time.Time `gorm:"primaryKey"`
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Source string `gorm:"size:64;not null"`
}

func (priceRow) TableName() string { return "market_prices" }

type predictionRow struct {
	Seq         uint64    `gorm:"primaryKey;autoIncrement"`
	ID          string    `gorm:"uniqueIndex;size:64;not null"`
	Symbol      string    `gorm:"index:idx_predictions_symbol_method;size:32;not null"`
	Method      string    `gorm:"index:idx_predictions_symbol_method;size:32;not null"`
	GeneratedAt time.Time `gorm:"index;not null"`
	Horizon     string    `gorm:"size:16"`
	YHat        float64
	YLower      float64
	YUpper      float64
	Confidence  float64
	Source      string `gorm:"size:64;not null"`
}

func (predictionRow) TableName() string { return "predictions" }

type newsRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Headline    string
	Description string
	URL         string
	PublishedAt time.Time      `gorm:"index"`
	Source      string         `gorm:"size:64;not null"`
	Tickers     pq.StringArray `gorm:"type:text"`
	Keywords    pq.StringArray `gorm:"type:text"`
}

func (newsRow) TableName() string { return "market_news" }

type insightRow struct {
	Seq          uint64         `gorm:"primaryKey;autoIncrement"`
	ID           string         `gorm:"uniqueIndex;size:64;not null"`
	Symbol       string         `gorm:"index:idx_insights_symbol_window;size:32;not null"`
	Window       string         `gorm:"column:time_window;index:idx_insights_symbol_window;size:16"`
	SummaryText  string         `gorm:"type:text"`
	Citations    pq.StringArray `gorm:"type:text"`
	CitationURLs pq.StringArray `gorm:"type:text"`
	GeneratedAt  time.Time      `gorm:"index;not null"`
	Source       string         `gorm:"size:64;not null"`
}

func (insightRow) TableName() string { return "insight_summaries" }

type GormStore struct {
	db      *gorm.DB
	dialect string
}

func OpenSQLite(ctx context.Context, path string) (*GormStore, error) {
	if path == "" {
		path = "kolmo.db"
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection keeps in-memory databases shared
	sqlDB.SetMaxOpenConns(1)
	return newGormStore(ctx, db, "sqlite")
}

func OpenPostgres(ctx context.Context, dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return newGormStore(ctx, db, "postgres")
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func newGormStore(ctx context.Context, db *gorm.DB, dialect string) (*GormStore, error) {
	s := &GormStore{db: db, dialect: dialect}
	if err := db.WithContext(ctx).AutoMigrate(&priceRow{}, &predictionRow{}, &newsRow{}, &insightRow{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *GormStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *GormStore) Dialect() string {
	return s.dialect
}

func (s *GormStore) UpsertPrices(ctx context.Context, ticks []models.PriceTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	// the last write for a key within one batch wins, same as separate upserts
	byKey := make(map[string]int, len(ticks))
	rows := make([]priceRow, 0, len(ticks))
	for _, t := range ticks {
		n, err := normalizeTick(t)
		if err != nil {
			return 0, err
		}
		row := priceRow{Symbol: n.Symbol, Ts: n.Ts, Open: n.Open, High: n.High, Low: n.Low, Close: n.Close, Volume: n.Volume, Source: n.Source}
		key := n.Symbol + "|" + n.Ts.Format(time.RFC3339Nano)
		if idx, ok := byKey[key]; ok {
			rows[idx] = row
			continue
		}
		byKey[key] = len(rows)
		rows = append(rows, row)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "ts"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("store: upsert prices: %w", err)
	}
	return len(rows), nil
}

func (s *GormStore) LatestPrice(ctx context.Context, symbol string) (models.PriceTick, bool, error) {
	var row priceRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(symbol)).
		Order("ts desc").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PriceTick{}, false, nil
	}
	if err != nil {
		return models.PriceTick{}, false, fmt.Errorf("store: latest price: %w", err)
	}
	return row.tick(), true, nil
}

func (s *GormStore) PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error) {
	var rows []priceRow
	q := s.db.WithContext(ctx).Where("symbol = ?", strings.ToUpper(symbol)).Order("ts desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: price history: %w", err)
	}
	out := make([]models.PriceTick, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.tick()
	}
	return out, nil
}

func (s *GormStore) AppendPrediction(ctx context.Context, p models.Prediction) error {
	p, err := normalizePrediction(p)
	if err != nil {
		return err
	}
	row := predictionRow{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Method:      p.Method,
		GeneratedAt: p.GeneratedAt,
		Horizon:     p.Horizon,
		YHat:        p.YHat,
		YLower:      p.YLower,
		YUpper:      p.YUpper,
		Confidence:  p.Confidence,
		Source:      p.Source,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: append prediction: %w", err)
	}
	return nil
}

func (s *GormStore) LatestPrediction(ctx context.Context, symbol, method string) (models.Prediction, bool, error) {
	hist, err := s.PredictionHistory(ctx, symbol, method, 1)
	if err != nil || len(hist) == 0 {
		return models.Prediction{}, false, err
	}
	return hist[0], true, nil
}

func (s *GormStore) PredictionHistory(ctx context.Context, symbol, method string, limit int) ([]models.Prediction, error) {
	var rows []predictionRow
	q := s.db.WithContext(ctx).Where("symbol = ?", strings.ToUpper(symbol))
	if method != "" {
		q = q.Where("method = ?", method)
	}
	q = q.Order("generated_at desc").Order("seq desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: prediction history: %w", err)
	}
	out := make([]models.Prediction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.prediction())
	}
	return out, nil
}

func (s *GormStore) UpsertNews(ctx context.Context, items []models.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	byID := make(map[string]int, len(items))
	rows := make([]newsRow, 0, len(items))
	for _, it := range items {
		n, err := normalizeNews(it)
		if err != nil {
			return 0, err
		}
		row := newsRow{
			ID:          n.ID,
			Headline:    n.Headline,
			Description: n.Description,
			URL:         n.URL,
			PublishedAt: n.PublishedAt,
			Source:      n.Source,
			Tickers:     pq.StringArray(n.Tickers),
			Keywords:    pq.StringArray(n.RetrievalKeywords),
		}
		if idx, ok := byID[n.ID]; ok {
			rows[idx] = row
			continue
		}
		byID[n.ID] = len(rows)
		rows = append(rows, row)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("store: upsert news: %w", err)
	}
	return len(rows), nil
}

func (s *GormStore) RecentNews(ctx context.Context, symbol string, since time.Time) ([]models.NewsItem, error) {
	var rows []newsRow
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	q := s.db.WithContext(ctx).Where("published_at >= ?", since.UTC())
	if sym != "" {
		// tickers are stored as a quoted array literal: {"BRENT","WTI"}
		q = q.Where("tickers LIKE ?", `%"`+sym+`"%`)
	}
	if err := q.Order("published_at desc").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: recent news: %w", err)
	}
	out := make([]models.NewsItem, 0, len(rows))
	for _, r := range rows {
		item := r.item()
		if !hasTicker(item, sym) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *GormStore) AppendInsight(ctx context.Context, in models.InsightSummary) error {
	in, err := normalizeInsight(in)
	if err != nil {
		return err
	}
	row := insightRow{
		ID:           in.ID,
		Symbol:       in.Symbol,
		Window:       in.Window,
		SummaryText:  in.SummaryText,
		Citations:    pq.StringArray(in.Citations),
		CitationURLs: pq.StringArray(in.CitationURLs),
		GeneratedAt:  in.GeneratedAt,
		Source:       in.Source,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: append insight: %w", err)
	}
	return nil
}

func (s *GormStore) LatestInsight(ctx context.Context, symbol, window string) (models.InsightSummary, bool, error) {
	var row insightRow
	q := s.db.WithContext(ctx).Where("symbol = ?", strings.ToUpper(symbol))
	if window != "" {
		q = q.Where("time_window = ?", window)
	}
	err := q.Order("generated_at desc").Order("seq desc").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.InsightSummary{}, false, nil
	}
	if err != nil {
		return models.InsightSummary{}, false, fmt.Errorf("store: latest insight: %w", err)
	}
	return row.summary(), true, nil
}

func (s *GormStore) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&priceRow{}).Distinct("symbol").Order("symbol").Pluck("symbol", &out).Error
	if err != nil {
		return nil, fmt.Errorf("store: symbols: %w", err)
	}
	return out, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r priceRow) tick() models.PriceTick {
	return models.PriceTick{Symbol: r.Symbol, Ts: r.Ts.UTC(), Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume, Source: r.Source}
}

func (r predictionRow) prediction() models.Prediction {
	return models.Prediction{
		ID:          r.ID,
		Symbol:      r.Symbol,
		GeneratedAt: r.GeneratedAt.UTC(),
		Horizon:     r.Horizon,
		YHat:        r.YHat,
		YLower:      r.YLower,
		YUpper:      r.YUpper,
		Confidence:  r.Confidence,
		Method:      r.Method,
		Source:      r.Source,
	}
}

func (r newsRow) item() models.NewsItem {
	return models.NewsItem{
		ID:                r.ID,
		Headline:          r.Headline,
		Description:       r.Description,
		URL:               r.URL,
		PublishedAt:       r.PublishedAt.UTC(),
		Source:            r.Source,
		Tickers:           []string(r.Tickers),
		RetrievalKeywords: []string(r.Keywords),
	}
}

func (r insightRow) summary() models.InsightSummary {
	return models.InsightSummary{
		ID:           r.ID,
		Symbol:       r.Symbol,
		Window:       r.Window,
		SummaryText:  r.SummaryText,
		Citations:    []string(r.Citations),
		CitationURLs: []string(r.CitationURLs),
		GeneratedAt:  r.GeneratedAt.UTC(),
		Source:       r.Source,
	}
}
