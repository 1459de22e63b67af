package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

// Retriever ranks passages for a query. Queries may carry a "window:<dur>"
// directive that bounds how far back to look.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, topK int) ([]models.Passage, error)
}

var windowRe = regexp.MustCompile(`(?i)\bwindow:(\d+[a-z]+)\b`)

// FormatQuery joins terms and appends the window directive.
func FormatQuery(terms []string, window time.Duration) string {
	clean := make([]string, 0, len(terms)+1)
	seen := map[string]bool{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	if window > 0 {
		clean = append(clean, "window:"+FormatWindow(window))
	}
	return strings.Join(clean, " ")
}

// ParseQuery splits the window directive from the search terms.
func ParseQuery(q string) (string, time.Duration) {
	var window time.Duration
	if m := windowRe.FindStringSubmatch(q); m != nil {
		if d, err := ParseWindow(m[1]); err == nil {
			window = d
		}
	}
	terms := strings.Join(strings.Fields(windowRe.ReplaceAllString(q, " ")), " ")
	return terms, window
}

// FormatWindow renders two or more whole days as "Nd" and everything else in
// hours.
func FormatWindow(d time.Duration) string {
	if d >= 48*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	h := d / time.Hour
	if h < 1 {
		h = 1
	}
	return fmt.Sprintf("%dh", h)
}

func ParseWindow(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(s, "d") {
		var n int
		if _, err := fmt.Sscanf(s, "%dd", &n); err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return d, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "has": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "to": true, "was": true, "were": true, "will": true,
	"with": true, "what": true, "how": true, "about": true, "this": true, "next": true, "over": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
