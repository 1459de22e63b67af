package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

func intentOrchestrator(defaults []string, maxSymbols int) *Orchestrator {
	return New(NewContextBuilder(nil, 0), nil, nil, nil, nil, Options{
		DefaultSymbols: defaults,
		DefaultHorizon: "1d",
		DefaultWindow:  24 * time.Hour,
		MaxSymbols:     maxSymbols,
	})
}

func TestParseIntent(t *testing.T) {
	cases := []struct {
		name     string
		req      models.Request
		symbols  []string
		horizon  string
		window   time.Duration
		warnings []string
	}{
		{
			name:    "explicit aliases",
			req:     models.Request{Symbols: []string{"brn", "wti", "BRENT"}},
			symbols: []string{"BRENT", "WTI"},
			horizon: "1d",
			window:  24 * time.Hour,
		},
		{
			name:    "symbols and span from text",
			req:     models.Request{QueryText: "How are crude and natgas doing over the next 5 days?"},
			symbols: []string{"WTI", "NG"},
			horizon: "5d",
			window:  24 * time.Hour,
		},
		{
			name:    "tomorrow",
			req:     models.Request{QueryText: "jet fuel outlook tomorrow"},
			symbols: []string{"JET"},
			horizon: "1d",
			window:  24 * time.Hour,
		},
		{
			name:    "weeks",
			req:     models.Request{QueryText: "diesel 2-week view"},
			symbols: []string{"HO"},
			horizon: "14d",
			window:  24 * time.Hour,
		},
		{
			name:    "window and plus days",
			req:     models.Request{QueryText: "gasoline last 3 days +2d"},
			symbols: []string{"RBOB"},
			horizon: "2d",
			window:  72 * time.Hour,
		},
		{
			name:    "window in hours",
			req:     models.Request{QueryText: "heating oil news for the last 48 hours"},
			symbols: []string{"HO"},
			horizon: "1d",
			window:  48 * time.Hour,
		},
		{
			name:    "explicit horizon wins",
			req:     models.Request{QueryText: "brent +3d", Horizon: "2w"},
			symbols: []string{"BRENT"},
			horizon: "14d",
			window:  24 * time.Hour,
		},
		{
			name:    "defaults",
			req:     models.Request{QueryText: "what is moving today"},
			symbols: []string{"BRENT", "WTI"},
			horizon: "1d",
			window:  24 * time.Hour,
		},
		{
			name:     "unknown explicit symbol dropped",
			req:      models.Request{Symbols: []string{"XYZ", "brent"}},
			symbols:  []string{"BRENT"},
			horizon:  "1d",
			window:   24 * time.Hour,
			warnings: []string{"intent:XYZ: unknown symbol"},
		},
	}
	o := intentOrchestrator([]string{"BRENT", "WTI"}, 5)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := o.parseIntent(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.symbols, in.Symbols)
			assert.Equal(t, tc.horizon, in.Horizon)
			assert.Equal(t, tc.window, in.Window)
			assert.Equal(t, tc.warnings, in.Warnings)
		})
	}
}

func TestParseIntentRejects(t *testing.T) {
	cases := []struct {
		name string
		o    *Orchestrator
		req  models.Request
	}{
		{"only unknown symbols", intentOrchestrator([]string{"BRENT"}, 5), models.Request{Symbols: []string{"XYZ"}}},
		{"bad horizon", intentOrchestrator([]string{"BRENT"}, 5), models.Request{QueryText: "brent", Horizon: "soon"}},
		{"horizon too far", intentOrchestrator([]string{"BRENT"}, 5), models.Request{QueryText: "brent", Horizon: "400d"}},
		{"nothing resolves", intentOrchestrator(nil, 5), models.Request{QueryText: "what's the weather"}},
		{"too many symbols", intentOrchestrator(nil, 2), models.Request{Symbols: []string{"BRENT", "WTI", "NG"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.o.parseIntent(tc.req)
			var ierr *InvalidIntentError
			assert.ErrorAs(t, err, &ierr)
		})
	}
}

func TestParseIntentEmptyRequestUsesDefaults(t *testing.T) {
	in, err := intentOrchestrator([]string{"BRENT", "WTI"}, 5).parseIntent(models.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"BRENT", "WTI"}, in.Symbols)
	assert.Equal(t, "1d", in.Horizon)
	assert.Equal(t, 24*time.Hour, in.Window)
	assert.Empty(t, in.Warnings)
}
