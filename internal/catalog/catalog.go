package catalog

import (
	"regexp"
	"sort"
	"strings"
)

const (
	ClassCommodity = "commodity"
	ClassFX        = "fx"

	ProviderEIA   = "eia"
	ProviderYahoo = "yahoo"
)

type Instrument struct {
	Symbol string
	Name   string
	Class  string
	// Provider names the price source for the symbol. Empty means EIA when
	// an EIA series is set, else Yahoo when a chart ticker is set.
	Provider    string
	EIASeries   string
	YahooTicker string
	Aliases     []string
	Synonyms    []string
}

type Catalog struct {
	instruments map[string]Instrument
	order       []string
	aliases     map[string]string
	matchers    []aliasMatcher
}

type aliasMatcher struct {
	re     *regexp.Regexp
	symbol string
	length int
}

func Default() *Catalog {
	return New([]Instrument{
		{
			Symbol:      "BRENT",
			Name:        "Brent Crude",
			Class:       ClassCommodity,
			EIASeries:   "PET.RBRTE.D",
			YahooTicker: "BZ=F",
			Aliases:     []string{"brent", "brn", "brent crude", "north sea"},
			Synonyms:    []string{"brent", "crude", "oil", "opec"},
		},
		{
			Symbol:      "WTI",
			Name:        "WTI Crude",
			Class:       ClassCommodity,
			EIASeries:   "PET.RWTC.D",
			YahooTicker: "CL=F",
			Aliases:     []string{"wti", "west texas", "cushing", "crude", "crude oil"},
			Synonyms:    []string{"wti", "crude", "oil", "cushing"},
		},
		{
			Symbol:      "RBOB",
			Name:        "RBOB Gasoline",
			Class:       ClassCommodity,
			EIASeries:   "PET.EER_EPMRR_PF4_Y35NY_DPG.D",
			YahooTicker: "RB=F",
			Aliases:     []string{"rbob", "gasoline", "petrol"},
			Synonyms:    []string{"gasoline", "rbob", "refinery"},
		},
		{
			Symbol:      "HO",
			Name:        "Heating Oil",
			Class:       ClassCommodity,
			EIASeries:   "PET.EER_EPD2D_PF4_Y35NY_DPG.D",
			YahooTicker: "HO=F",
			Aliases:     []string{"ho", "heating oil", "diesel", "ulsd", "gasoil"},
			Synonyms:    []string{"diesel", "gasoil", "heating", "distillate"},
		},
		{
			Symbol:      "NG",
			Name:        "Henry Hub Natural Gas",
			Class:       ClassCommodity,
			EIASeries:   "NG.RNGWHHD.D",
			YahooTicker: "NG=F",
			Aliases:     []string{"ng", "natgas", "nat gas", "natural gas", "henry hub", "lng"},
			Synonyms:    []string{"gas", "lng", "henry", "hub"},
		},
		{
			Symbol:    "JET",
			Name:      "Jet Fuel",
			Class:     ClassCommodity,
			EIASeries: "PET.EER_EPDJ_PF4_Y35NY_DPG.D",
			Aliases:   []string{"jet", "jet fuel", "kerosene"},
			Synonyms:  []string{"jet", "fuel", "aviation", "kerosene"},
		},
		{
			Symbol:      "EURUSD",
			Name:        "Euro / US Dollar",
			Class:       ClassFX,
			YahooTicker: "EURUSD=X",
			Aliases:     []string{"eurusd", "eur/usd", "euro dollar"},
			Synonyms:    []string{"euro", "dollar", "ecb", "fed"},
		},
	})
}

func New(instruments []Instrument) *Catalog {
	c := &Catalog{
		instruments: make(map[string]Instrument, len(instruments)),
		aliases:     map[string]string{},
	}
	for _, in := range instruments {
		sym := strings.ToUpper(strings.TrimSpace(in.Symbol))
		if sym == "" {
			continue
		}
		in.Symbol = sym
		if in.Provider == "" {
			switch {
			case in.EIASeries != "":
				in.Provider = ProviderEIA
			case in.YahooTicker != "":
				in.Provider = ProviderYahoo
			}
		}
		if _, dup := c.instruments[sym]; !dup {
			c.order = append(c.order, sym)
		}
		c.instruments[sym] = in
		c.addAlias(strings.ToLower(sym), sym)
		for _, a := range in.Aliases {
			c.addAlias(strings.ToLower(strings.TrimSpace(a)), sym)
		}
	}
	// longest alias first so "crude oil" wins over "crude"
	sort.SliceStable(c.matchers, func(i, j int) bool { return c.matchers[i].length > c.matchers[j].length })
	return c
}

func (c *Catalog) addAlias(alias, sym string) {
	if alias == "" {
		return
	}
	if _, taken := c.aliases[alias]; taken {
		return
	}
	c.aliases[alias] = sym
	pattern := `(?i)(^|[^a-z0-9/])` + regexp.QuoteMeta(alias) + `($|[^a-z0-9/])`
	c.matchers = append(c.matchers, aliasMatcher{re: regexp.MustCompile(pattern), symbol: sym, length: len(alias)})
}

func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) Lookup(symbol string) (Instrument, bool) {
	in, ok := c.instruments[strings.ToUpper(strings.TrimSpace(symbol))]
	return in, ok
}

// Resolve maps a symbol or alias to its canonical symbol.
func (c *Catalog) Resolve(token string) (string, bool) {
	sym, ok := c.aliases[strings.ToLower(strings.TrimSpace(token))]
	return sym, ok
}

// Match returns canonical symbols mentioned in free text, in order of first
// mention.
func (c *Catalog) Match(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	type hit struct {
		symbol string
		pos    int
	}
	lower := strings.ToLower(text)
	masked := []byte(lower)
	hits := []hit{}
	seen := map[string]int{}
	for _, m := range c.matchers {
		loc := m.re.FindIndex(masked)
		if loc == nil {
			continue
		}
		for i := loc[0]; i < loc[1]; i++ {
			if masked[i] != ' ' {
				masked[i] = '#'
			}
		}
		if idx, ok := seen[m.symbol]; ok {
			if loc[0] < hits[idx].pos {
				hits[idx].pos = loc[0]
			}
			continue
		}
		seen[m.symbol] = len(hits)
		hits = append(hits, hit{symbol: m.symbol, pos: loc[0]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.symbol)
	}
	return out
}

func (c *Catalog) Synonyms(symbol string) []string {
	in, ok := c.Lookup(symbol)
	if !ok {
		return nil
	}
	out := make([]string, len(in.Synonyms))
	copy(out, in.Synonyms)
	return out
}

func (c *Catalog) EIASeries(symbol string) (string, bool) {
	in, ok := c.Lookup(symbol)
	if !ok || in.EIASeries == "" {
		return "", false
	}
	return in.EIASeries, true
}

func (c *Catalog) YahooTicker(symbol string) (string, bool) {
	in, ok := c.Lookup(symbol)
	if !ok || in.YahooTicker == "" {
		return "", false
	}
	return in.YahooTicker, true
}

// Provider returns the name of the price source configured for symbol.
func (c *Catalog) Provider(symbol string) (string, bool) {
	in, ok := c.Lookup(symbol)
	if !ok || in.Provider == "" {
		return "", false
	}
	return in.Provider, true
}

func (c *Catalog) IsFX(symbol string) bool {
	in, ok := c.Lookup(symbol)
	return ok && in.Class == ClassFX
}
