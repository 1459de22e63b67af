package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/forecast"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

// Intent is what a request asks for once aliases and defaults are applied.
type Intent struct {
	Symbols  []string
	Horizon  string
	Window   time.Duration
	Warnings []string
}

var (
	windowTextRe = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d+)\s*(h|hrs?|hours?|d|days?|w|wks?|weeks?)\b`)
	plusDaysRe   = regexp.MustCompile(`(?i)\+\s*(\d+)\s*(d|days?|w|wks?|weeks?)\b`)
	spanRe       = regexp.MustCompile(`(?i)\b(\d+)[-\s]?(d|days?|w|wks?|weeks?)\b`)
	tomorrowRe   = regexp.MustCompile(`(?i)\btomorrow\b`)
	nextWeekRe   = regexp.MustCompile(`(?i)\bnext\s+week\b`)
)

func (o *Orchestrator) parseIntent(req models.Request) (Intent, error) {
	in := Intent{Window: o.opts.DefaultWindow}
	text := req.QueryText

	if m := windowTextRe.FindStringSubmatch(text); m != nil {
		if d, ok := spanDuration(m[1], m[2]); ok {
			in.Window = d
		}
		text = windowTextRe.ReplaceAllString(text, " ")
	}

	syms, unknown := o.builder.ResolveSymbols(req.Symbols, req.QueryText)
	for _, u := range unknown {
		in.Warnings = append(in.Warnings, warning("intent", u, "unknown symbol"))
	}
	if len(syms) == 0 && len(req.Symbols) == 0 {
		syms, _ = o.builder.ResolveSymbols(o.opts.DefaultSymbols, "")
	}
	if len(syms) == 0 {
		return Intent{}, &InvalidIntentError{Reason: "no known symbol in request"}
	}
	if o.opts.MaxSymbols > 0 && len(syms) > o.opts.MaxSymbols {
		return Intent{}, &InvalidIntentError{Reason: fmt.Sprintf("%d symbols requested, at most %d allowed", len(syms), o.opts.MaxSymbols)}
	}
	in.Symbols = syms

	if h := strings.TrimSpace(req.Horizon); h != "" {
		steps, err := forecast.ParseHorizon(h)
		if err != nil {
			return Intent{}, &InvalidIntentError{Reason: err.Error()}
		}
		in.Horizon = formatHorizon(steps)
		return in, nil
	}
	in.Horizon = o.opts.DefaultHorizon
	if steps, ok := horizonFromText(text); ok {
		if _, err := forecast.ParseHorizon(formatHorizon(steps)); err == nil {
			in.Horizon = formatHorizon(steps)
		}
	}
	return in, nil
}

func horizonFromText(text string) (int, bool) {
	for _, re := range []*regexp.Regexp{plusDaysRe, spanRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				continue
			}
			if strings.HasPrefix(strings.ToLower(m[2]), "w") {
				n *= 7
			}
			return n, true
		}
	}
	if tomorrowRe.MatchString(text) {
		return 1, true
	}
	if nextWeekRe.MatchString(text) {
		return 7, true
	}
	return 0, false
}

func spanDuration(num, unit string) (time.Duration, bool) {
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}
	switch strings.ToLower(unit)[0] {
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}

func formatHorizon(steps int) string {
	return strconv.Itoa(steps) + "d"
}

func warning(kind, symbol, reason string) string {
	return fmt.Sprintf("%s:%s: %s", kind, symbol, reason)
}
