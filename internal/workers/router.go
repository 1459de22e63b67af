package workers

import (
	"strings"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
)

// ProviderRouter picks the price provider that serves a symbol.
type ProviderRouter interface {
	ProviderFor(symbol string) (PriceProvider, bool)
}

type singleProvider struct{ p PriceProvider }

func (s singleProvider) ProviderFor(string) (PriceProvider, bool) { return s.p, true }

// SingleProvider routes every symbol to p.
func SingleProvider(p PriceProvider) ProviderRouter {
	return singleProvider{p: p}
}

// CatalogRouter routes a symbol to the provider named on its catalogue entry.
type CatalogRouter struct {
	catalog *catalog.Catalog
	byName  map[string]PriceProvider
}

func NewCatalogRouter(cat *catalog.Catalog, providers ...PriceProvider) *CatalogRouter {
	if cat == nil {
		cat = catalog.Default()
	}
	r := &CatalogRouter{catalog: cat, byName: make(map[string]PriceProvider, len(providers))}
	for _, p := range providers {
		r.byName[strings.ToLower(p.Name())] = p
	}
	return r
}

func (r *CatalogRouter) ProviderFor(symbol string) (PriceProvider, bool) {
	name, ok := r.catalog.Provider(symbol)
	if !ok {
		return nil, false
	}
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}
