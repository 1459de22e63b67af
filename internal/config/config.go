package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	RedisURL    string

	EIABaseURL   string
	EIAAPIKey    string
	EIABackfill  int
	YahooBaseURL string
	YahooRange   string
	NewsBaseURL  string
	NewsAPIKey   string
	NewsQueries  []string
	NewsPageSize int
	RetrieverURL string

	DefaultSymbols []string
	DefaultHorizon string
	DefaultWindow  time.Duration
	MaxSymbols     int

	MarketDataTimeout     time.Duration
	ForecastTimeout       time.Duration
	InsightTimeout        time.Duration
	OrchestratorTimeout   time.Duration
	ForecastWaitForPrices time.Duration

	FetchCacheTTL     time.Duration
	FetchTimeout      time.Duration
	RetrievalReuseTTL time.Duration

	ForecastMethod      string
	MinHistory          int
	HistoryLookback     int
	RetrievalTopK       int
	SimilarityThreshold float64
	NewsLookback        time.Duration

	RequestTimeout   time.Duration
	ProviderRPS      float64
	ProviderRetries  int
	RateLimitPerMin  int
	CircuitFailLimit int
	CircuitCooldown  time.Duration
}

func Load() Config {
	marketTimeout := getEnvDuration("MARKET_DATA_TIMEOUT", 5*time.Second)
	return Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		DatabaseURL: getEnv("DATABASE_URL", "sqlite://kolmo.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		EIABaseURL:   getEnv("EIA_BASE_URL", "https://api.eia.gov"),
		EIAAPIKey:    getEnv("EIA_API_KEY", ""),
		EIABackfill:  getEnvInt("EIA_BACKFILL_POINTS", 60),
		YahooBaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		YahooRange:   getEnv("YAHOO_RANGE", "3mo"),
		NewsBaseURL:  getEnv("NEWS_BASE_URL", "https://newsapi.org"),
		NewsAPIKey:   getEnv("NEWSAPI_KEY", ""),
		NewsQueries:  getEnvList("NEWS_QUERIES", []string{"oil", "brent", "wti", "gasoline", "diesel", "gasoil", "natural gas", "opec", "refinery", "jet fuel"}),
		NewsPageSize: getEnvInt("NEWS_PAGE_SIZE", 25),
		RetrieverURL: getEnv("RETRIEVER_URL", ""),

		DefaultSymbols: getEnvList("DEFAULT_SYMBOLS", []string{"BRENT", "WTI"}),
		DefaultHorizon: getEnv("DEFAULT_HORIZON", "1d"),
		DefaultWindow:  getEnvDuration("DEFAULT_WINDOW", 24*time.Hour),
		MaxSymbols:     getEnvInt("MAX_SYMBOLS", 10),

		MarketDataTimeout:     marketTimeout,
		ForecastTimeout:       getEnvDuration("FORECAST_TIMEOUT", 10*time.Second),
		InsightTimeout:        getEnvDuration("INSIGHT_TIMEOUT", 8*time.Second),
		OrchestratorTimeout:   getEnvDuration("ORCHESTRATOR_TIMEOUT", 15*time.Second),
		ForecastWaitForPrices: getEnvDuration("FORECAST_WAIT_FOR_PRICES", marketTimeout),

		FetchCacheTTL:     getEnvDuration("FETCH_CACHE_TTL", 60*time.Second),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 20*time.Second),
		RetrievalReuseTTL: getEnvDuration("RETRIEVAL_REUSE_TTL", 5*time.Minute),

		ForecastMethod:      getEnv("FORECAST_METHOD", "gbm_mc"),
		MinHistory:          getEnvInt("FORECAST_MIN_HISTORY", 10),
		HistoryLookback:     getEnvInt("FORECAST_LOOKBACK_POINTS", 60),
		RetrievalTopK:       getEnvInt("RETRIEVAL_TOP_K", 5),
		SimilarityThreshold: getEnvFloat("RETRIEVAL_MIN_SCORE", 0.05),
		NewsLookback:        getEnvDuration("NEWS_LOOKBACK", 7*24*time.Hour),

		RequestTimeout:   getEnvDuration("UPSTREAM_REQUEST_TIMEOUT", 12*time.Second),
		ProviderRPS:      getEnvFloat("PROVIDER_RPS", 5),
		ProviderRetries:  getEnvInt("PROVIDER_RETRIES", 2),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MIN", 120),
		CircuitFailLimit: getEnvInt("CIRCUIT_FAIL_LIMIT", 3),
		CircuitCooldown:  getEnvDuration("CIRCUIT_COOLDOWN", 20*time.Second),
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// getEnvDuration accepts Go durations ("5s", "24h") or bare seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(i) * time.Second
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	out := []string{}
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
